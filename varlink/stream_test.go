package varlink

import (
	"testing"

	"golang.org/x/sys/unix"
)

// socketpair returns two connected non-blocking stream sockets.
func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	return fds[0], fds[1]
}

func writeAll(t *testing.T, fd int, data []byte) {
	t.Helper()
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil {
			t.Fatalf("write: %v", err)
		}
		data = data[n:]
	}
}

// readPeer drains whatever is currently readable; an empty string means
// nothing was written.
func readPeer(t *testing.T, fd int) string {
	t.Helper()
	var buf [65536]byte
	n, err := unix.Read(fd, buf[:])
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return ""
	}
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(buf[:n])
}

func TestStreamChunkedDelivery(t *testing.T) {
	local, peer := socketpair(t)
	defer unix.Close(peer)
	s := newMessageStream(local, 0)
	defer unix.Close(local)

	writeAll(t, peer, []byte(`{"method":"a.B"`))
	if err := s.recv(); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.next(); ok {
		t.Fatal("message emitted before its terminator arrived")
	}

	writeAll(t, peer, append([]byte(`,"parameters":{}}`), 0))
	if err := s.recv(); err != nil {
		t.Fatal(err)
	}
	msg, ok := s.next()
	if !ok {
		t.Fatal("no message after terminator")
	}
	expect(t, `{"method":"a.B","parameters":{}}`, string(msg))

	if _, ok := s.next(); ok {
		t.Fatal("more than one message parsed")
	}
}

func TestStreamMultipleMessages(t *testing.T) {
	local, peer := socketpair(t)
	defer unix.Close(peer)
	s := newMessageStream(local, 0)
	defer unix.Close(local)

	data := append([]byte(`{"a":1}`), 0)
	data = append(data, []byte(`{"b":2}`)...)
	data = append(data, 0)
	writeAll(t, peer, data)

	if err := s.recv(); err != nil {
		t.Fatal(err)
	}
	first, ok := s.next()
	if !ok {
		t.Fatal("first message missing")
	}
	expect(t, `{"a":1}`, string(first))
	second, ok := s.next()
	if !ok {
		t.Fatal("second message missing")
	}
	expect(t, `{"b":2}`, string(second))
}

func TestStreamMaxMessageSize(t *testing.T) {
	local, peer := socketpair(t)
	defer unix.Close(peer)
	s := newMessageStream(local, 16)
	defer unix.Close(local)

	writeAll(t, peer, []byte(`{"overlong":"aaaaaaaaaaaaaaaaaaaaaaaa"`))
	expectError(t, ErrInvalidMessage, s.recv())
}

func TestStreamPeerClosed(t *testing.T) {
	local, peer := socketpair(t)
	s := newMessageStream(local, 0)
	defer unix.Close(local)

	writeAll(t, peer, append([]byte(`{"a":1}`), 0))
	unix.Close(peer)

	if err := s.recv(); err != nil {
		t.Fatal(err)
	}
	if !s.eof {
		t.Fatal("orderly closure not detected")
	}
	// The final message before closure is still delivered.
	msg, ok := s.next()
	if !ok {
		t.Fatal("message lost on closure")
	}
	expect(t, `{"a":1}`, string(msg))
}

func TestStreamPartialWrite(t *testing.T) {
	local, peer := socketpair(t)
	defer unix.Close(peer)
	s := newMessageStream(local, 0)
	defer unix.Close(local)

	s.queue([]byte(`{"a":1}`))
	if s.pendingWrite() {
		// queue alone must not write
	} else {
		t.Fatal("queue did not buffer output")
	}
	if err := s.flush(); err != nil {
		t.Fatal(err)
	}
	if s.pendingWrite() {
		t.Fatal("flush left output buffered on a writable socket")
	}
	expect(t, `{"a":1}`+"\x00", readPeer(t, peer))
}
