package transport

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no connection's readLoop/writePump/processLoop
// goroutines survive past the tests that open and close them.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
