package console

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	telnetIAC  = 255
	telnetDONT = 254
	telnetDO   = 253
	telnetWONT = 252
	telnetWILL = 251
	telnetSB   = 250
	telnetSE   = 240

	readChunkSize = 4096

	// DefaultPromptTimeout bounds each gated write in WaitWrite.
	DefaultPromptTimeout = 30 * time.Second
)

// Telnet is a Transport over a TCP connection to a telnet serial console
// server, as exposed by qemu's `-serial telnet:...` and libvirt's tcp
// serial chardev. Option negotiation is refused wholesale; the guest
// console is treated as a raw byte stream.
type Telnet struct {
	conn net.Conn

	// PromptTimeout bounds each gated write. Zero means DefaultPromptTimeout.
	PromptTimeout time.Duration

	buf       bytes.Buffer // accumulated output not yet consumed by a match
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the console server at addr, retrying until the serial
// port starts listening or the deadline passes. The VM process needs a
// moment to bring its console socket up after start.
func Dial(addr string, deadline time.Duration) (*Telnet, error) {
	var lastErr error
	end := time.Now().Add(deadline)
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			return &Telnet{conn: conn}, nil
		}
		lastErr = err
		if time.Now().After(end) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	return nil, fmt.Errorf("dial console %s: %w", addr, lastErr)
}

// NewTelnet wraps an established connection. Used by tests and by
// supervisors that manage their own dialing.
func NewTelnet(conn net.Conn) *Telnet {
	return &Telnet{conn: conn}
}

// Expect implements Transport.
func (t *Telnet) Expect(patterns [][]byte, timeout time.Duration) (int, []byte, error) {
	if t.conn == nil {
		return NoMatch, nil, errors.New("console is closed")
	}

	var read []byte
	end := time.Now().Add(timeout)
	for {
		if idx := t.matchBuffer(patterns); idx != NoMatch {
			return idx, read, nil
		}

		remaining := time.Until(end)
		if remaining <= 0 {
			return NoMatch, read, nil
		}
		if err := t.conn.SetReadDeadline(time.Now().Add(remaining)); err != nil {
			return NoMatch, read, fmt.Errorf("set console read deadline: %w", err)
		}

		chunk := make([]byte, readChunkSize)
		n, err := t.conn.Read(chunk)
		if n > 0 {
			data, replies := stripTelnet(chunk[:n])
			if len(replies) > 0 {
				// Refusals are best-effort; the stream matters, not the
				// negotiation outcome.
				_, _ = t.conn.Write(replies)
			}
			t.buf.Write(data)
			read = append(read, data...)
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if idx := t.matchBuffer(patterns); idx != NoMatch {
					return idx, read, nil
				}
				return NoMatch, read, nil
			}
			return NoMatch, read, fmt.Errorf("read console: %w", err)
		}
	}
}

// matchBuffer scans the accumulated buffer for the earliest pattern match
// and consumes through the end of the match.
func (t *Telnet) matchBuffer(patterns [][]byte) int {
	data := t.buf.Bytes()
	matched := NoMatch
	matchEnd := -1
	for i, pattern := range patterns {
		if len(pattern) == 0 {
			continue
		}
		pos := bytes.Index(data, pattern)
		if pos < 0 {
			continue
		}
		end := pos + len(pattern)
		if matched == NoMatch || end < matchEnd {
			matched = i
			matchEnd = end
		}
	}
	if matched != NoMatch {
		t.buf.Next(matchEnd)
	}
	return matched
}

// WaitWrite implements Transport.
func (t *Telnet) WaitWrite(line, waitFor string) error {
	if waitFor != "" {
		timeout := t.PromptTimeout
		if timeout <= 0 {
			timeout = DefaultPromptTimeout
		}
		idx, _, err := t.Expect([][]byte{[]byte(waitFor)}, timeout)
		if err != nil {
			return err
		}
		if idx == NoMatch {
			return fmt.Errorf("prompt %q did not appear within %s", waitFor, timeout)
		}
	}
	if _, err := t.Write([]byte(line + "\r")); err != nil {
		return fmt.Errorf("write %q to console: %w", line, err)
	}
	return nil
}

// Write implements Transport.
func (t *Telnet) Write(p []byte) (int, error) {
	if t.conn == nil {
		return 0, errors.New("console is closed")
	}
	return t.conn.Write(p)
}

// Close implements Transport. Safe to call more than once; only the first
// call touches the connection.
func (t *Telnet) Close() error {
	t.closeOnce.Do(func() {
		if t.conn != nil {
			t.closeErr = t.conn.Close()
		}
	})
	return t.closeErr
}

// stripTelnet removes telnet option negotiation from data and returns the
// remaining payload plus the refusal replies to send back (DONT for WILL,
// WONT for DO).
func stripTelnet(data []byte) (payload, replies []byte) {
	payload = make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != telnetIAC {
			payload = append(payload, data[i])
			continue
		}
		if i+1 >= len(data) {
			break
		}
		switch data[i+1] {
		case telnetIAC:
			payload = append(payload, telnetIAC)
			i++
		case telnetWILL:
			if i+2 < len(data) {
				replies = append(replies, telnetIAC, telnetDONT, data[i+2])
			}
			i += 2
		case telnetDO:
			if i+2 < len(data) {
				replies = append(replies, telnetIAC, telnetWONT, data[i+2])
			}
			i += 2
		case telnetWONT, telnetDONT:
			i += 2
		case telnetSB:
			// Skip subnegotiation through IAC SE.
			end := bytes.Index(data[i+2:], []byte{telnetIAC, telnetSE})
			if end < 0 {
				return payload, replies
			}
			i += 2 + end + 1
		default:
			i++
		}
	}
	return payload, replies
}
