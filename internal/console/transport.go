// Package console provides the character-stream connection to a guest's
// serial console, with an expect-style bounded read primitive used by the
// boot monitor and login automation.
package console

import "time"

// NoMatch is returned by Expect when no pattern was seen before the timeout.
const NoMatch = -1

// Transport is a console session. Implementations own exactly one
// underlying connection and must tolerate Close being called more than
// once.
type Transport interface {
	// Expect reads until one of patterns appears in the accumulated
	// stream or timeout elapses. It returns the index of the matched
	// pattern (NoMatch if none) and the raw bytes read during this call.
	// A timeout is not an error; the returned error reports connection
	// failures only.
	Expect(patterns [][]byte, timeout time.Duration) (int, []byte, error)

	// WaitWrite writes line followed by a carriage return. When waitFor is
	// non-empty the write is gated on that substring appearing on the
	// console first, bounded by the transport's prompt timeout.
	WaitWrite(line, waitFor string) error

	Write(p []byte) (int, error)
	Close() error
}
