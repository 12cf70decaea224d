package dbusprompt

import (
	"context"
	"testing"
)

// testContext stands in for testing.T.Context (Go 1.24+) on older toolchains:
// the returned context is canceled when the test finishes, via tb.Cleanup.
func testContext(tb testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)
	return ctx
}
