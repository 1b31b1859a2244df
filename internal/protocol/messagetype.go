// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package protocol

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// DIDComm message type prefixes accepted on input. Types are stored without
// a prefix.
const (
	PrefixNew    = "https://didcomm.org/"
	PrefixLegacy = "did:sov:BzCbsNYhMrjHiqZDTUASHg;spec/"
)

var knownPrefixes = []string{PrefixNew, PrefixLegacy}

// MessageType is a parsed "protocol/major.minor/name" identifier.
type MessageType struct {
	Protocol string
	Major    uint64
	Minor    uint64
	Name     string
}

// Version returns "major.minor".
func (t MessageType) Version() string {
	return fmt.Sprintf("%d.%d", t.Major, t.Minor)
}

// ProtocolID returns "protocol/major.minor".
func (t MessageType) ProtocolID() string {
	return t.Protocol + "/" + t.Version()
}

// String returns the canonical unqualified form.
func (t MessageType) String() string {
	return t.ProtocolID() + "/" + t.Name
}

// WithMinor returns a copy of t at a different minor version.
func (t MessageType) WithMinor(minor uint64) MessageType {
	t.Minor = minor
	return t
}

// Unqualify strips a known DIDComm prefix from a message type.
func Unqualify(s string) string {
	for _, p := range knownPrefixes {
		if strings.HasPrefix(s, p) {
			return strings.TrimPrefix(s, p)
		}
	}
	return s
}

// Qualify returns s under each known DIDComm prefix, new prefix first.
func Qualify(s string) []string {
	s = Unqualify(s)
	out := make([]string, 0, len(knownPrefixes))
	for _, p := range knownPrefixes {
		out = append(out, p+s)
	}
	return out
}

// ParseMessageType parses a qualified or unqualified message type.
func ParseMessageType(s string) (MessageType, error) {
	parts := strings.Split(Unqualify(s), "/")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return MessageType{}, oops.Code("MESSAGE_TYPE_INVALID").
			With("message_type", s).
			Errorf("message type must have the form protocol/major.minor/name")
	}
	major, minor, err := ParseVersion(parts[1])
	if err != nil {
		return MessageType{}, oops.Code("MESSAGE_TYPE_INVALID").With("message_type", s).Wrap(err)
	}
	return MessageType{Protocol: parts[0], Major: major, Minor: minor, Name: parts[2]}, nil
}

// ParseVersion parses a protocol version of the form "major.minor". Only
// the canonical form is accepted: no "v" prefix and no leading zeros.
func ParseVersion(v string) (major, minor uint64, err error) {
	if strings.Count(v, ".") != 1 {
		return 0, 0, oops.Errorf("version %q must have the form major.minor", v)
	}
	sv, err := semver.StrictNewVersion(v + ".0")
	if err != nil {
		return 0, 0, oops.With("version", v).Wrap(err)
	}
	if sv.Prerelease() != "" || sv.Metadata() != "" {
		return 0, 0, oops.Errorf("version %q must not carry prerelease or build metadata", v)
	}
	return sv.Major(), sv.Minor(), nil
}
