package console

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func pipePair(t *testing.T) (*Telnet, net.Conn) {
	t.Helper()
	guest, host := net.Pipe()
	transport := NewTelnet(host)
	t.Cleanup(func() {
		transport.Close()
		guest.Close()
	})
	return transport, guest
}

func TestExpectMatchesPattern(t *testing.T) {
	transport, guest := pipePair(t)

	go func() {
		guest.Write([]byte("Booting kernel...\nFreeBSD/amd64 (Amnesiac)\n"))
	}()

	idx, raw, err := transport.Expect([][]byte{[]byte("FreeBSD/amd64")}, time.Second)
	if err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if idx != 0 {
		t.Errorf("matched index = %d, want 0", idx)
	}
	if !bytes.Contains(raw, []byte("Booting kernel")) {
		t.Errorf("raw bytes missing console output: %q", raw)
	}
}

func TestExpectTimeoutReturnsNoMatch(t *testing.T) {
	transport, guest := pipePair(t)

	go func() {
		guest.Write([]byte("still booting\n"))
	}()

	idx, raw, err := transport.Expect([][]byte{[]byte("FreeBSD/amd64")}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if idx != NoMatch {
		t.Errorf("matched index = %d, want NoMatch", idx)
	}
	if !bytes.Contains(raw, []byte("still booting")) {
		t.Errorf("raw bytes missing partial output: %q", raw)
	}
}

func TestExpectMatchesAcrossCalls(t *testing.T) {
	transport, guest := pipePair(t)

	go func() {
		guest.Write([]byte("FreeBSD/"))
	}()
	idx, _, err := transport.Expect([][]byte{[]byte("FreeBSD/amd64")}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if idx != NoMatch {
		t.Fatalf("premature match on split pattern")
	}

	go func() {
		guest.Write([]byte("amd64 boot\n"))
	}()
	idx, _, err = transport.Expect([][]byte{[]byte("FreeBSD/amd64")}, time.Second)
	if err != nil {
		t.Fatalf("Expect: %v", err)
	}
	if idx != 0 {
		t.Errorf("pattern split across reads not matched, idx = %d", idx)
	}
}

func TestWaitWriteGatedOnPrompt(t *testing.T) {
	transport, guest := pipePair(t)
	transport.PromptTimeout = time.Second

	received := make(chan []byte, 1)
	go func() {
		guest.Write([]byte("vr-edge1 login: "))
		buf := make([]byte, 64)
		n, _ := guest.Read(buf)
		received <- buf[:n]
	}()

	if err := transport.WaitWrite("admin", "login:"); err != nil {
		t.Fatalf("WaitWrite: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "admin\r" {
			t.Errorf("console received %q, want %q", got, "admin\r")
		}
	case <-time.After(time.Second):
		t.Fatal("console never received the gated write")
	}
}

func TestWaitWritePromptTimeout(t *testing.T) {
	transport, _ := pipePair(t)
	transport.PromptTimeout = 50 * time.Millisecond

	if err := transport.WaitWrite("admin", "login:"); err == nil {
		t.Fatal("expected error when prompt never appears")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	transport, _ := pipePair(t)

	if err := transport.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestStripTelnetNegotiation(t *testing.T) {
	payload, replies := stripTelnet([]byte{
		telnetIAC, telnetDO, 1,
		'o', 'k',
		telnetIAC, telnetWILL, 3,
		telnetIAC, telnetIAC,
	})

	if string(payload[:2]) != "ok" {
		t.Errorf("payload = %q, want negotiation stripped", payload)
	}
	if len(payload) != 3 || payload[2] != telnetIAC {
		t.Errorf("escaped IAC not preserved: %v", payload)
	}

	want := []byte{telnetIAC, telnetWONT, 1, telnetIAC, telnetDONT, 3}
	if !bytes.Equal(replies, want) {
		t.Errorf("replies = %v, want %v", replies, want)
	}
}
