// Package dblock serializes integration tests that share one database
// across test binaries. The lock is a loopback listener, so it is released
// even when a test process dies.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:45432"

// Acquire blocks until the lock is held and returns its release function.
// TEST_DB_LOCK_ADDR overrides the lock address.
func Acquire() func() {
	addr := os.Getenv("TEST_DB_LOCK_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
