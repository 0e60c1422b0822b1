package wasi

import (
	"crypto/rand"
	"time"
)

// nowNanos returns the current wall-clock time as wasi's clock_time_get
// expects it: nanoseconds since the Unix epoch.
func nowNanos() int64 {
	return time.Now().UnixNano()
}

// readRandom fills buf with cryptographically random bytes, backing
// random_get.
func readRandom(buf []byte) (int, error) {
	return rand.Read(buf)
}
