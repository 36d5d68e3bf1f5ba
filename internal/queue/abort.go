package queue

import "sync/atomic"

// AbortToken cancels dispatch cooperatively. Pushes already dispatched
// run to completion; no record is dispatched once Abort was observed.
// A nil token never aborts.
type AbortToken struct {
	aborted atomic.Bool
}

// NewAbortToken returns a live token.
func NewAbortToken() *AbortToken {
	return &AbortToken{}
}

// Abort requests cancellation.
func (t *AbortToken) Abort() {
	if t != nil {
		t.aborted.Store(true)
	}
}

// Aborted reports whether Abort was called.
func (t *AbortToken) Aborted() bool {
	return t != nil && t.aborted.Load()
}
