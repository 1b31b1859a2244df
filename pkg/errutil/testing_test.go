// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/ariesgo/agent/pkg/errutil"
)

func TestAssertErrorCode_WrappedCode(t *testing.T) {
	err := oops.With("plugin", "p").Wrap(oops.Code("PLUGIN_DUPLICATE").Errorf("duplicate"))
	errutil.AssertErrorCode(t, err, "PLUGIN_DUPLICATE")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("plugin", "core.discovery").Errorf("setup failed")
	errutil.AssertErrorContext(t, err, "plugin", "core.discovery")
}
