// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package mcp

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// idAllocator generates request IDs and progress tokens that are unique
// across the lifetime of a process. The random suffix is drawn from
// crypto/rand rather than math/rand so tokens are never predictable or
// reused across process restarts.
type idAllocator struct {
	seq int64 // accessed atomically
}

// nextRequestID returns a new opaque request ID of the form
// "req_<monotonic>_<random>".
func (a *idAllocator) nextRequestID() string {
	n := atomic.AddInt64(&a.seq, 1)
	return fmt.Sprintf("req_%d_%s", n, randomSuffix())
}

// nextProgressToken returns a new opaque progress token of the form
// "progress_<random>".
func (a *idAllocator) nextProgressToken() string {
	return "progress_" + randomSuffix()
}

func randomSuffix() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand on a supported platform does not fail; if it
		// somehow does, fall back to the zero suffix rather than panic
		// mid-allocation.
		return hex.EncodeToString(buf[:])
	}
	return hex.EncodeToString(buf[:])
}
