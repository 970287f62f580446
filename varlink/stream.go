package varlink

import (
	"bytes"

	"golang.org/x/sys/unix"
)

// DefaultMaxMessageSize bounds the bytes buffered for a single message
// before the peer is considered misbehaving.
const DefaultMaxMessageSize = 16 << 20

const readChunkSize = 8192

// messageStream converts between a raw non-blocking byte stream and
// discrete NUL-terminated JSON messages. Partial reads and writes are
// buffered and resumed on the next readiness event.
type messageStream struct {
	fd         int
	in         []byte
	out        []byte
	eof        bool
	maxMessage int
}

func newMessageStream(fd int, maxMessage int) messageStream {
	if maxMessage <= 0 {
		maxMessage = DefaultMaxMessageSize
	}
	return messageStream{fd: fd, maxMessage: maxMessage}
}

// recv drains the socket into the read buffer until it would block.
// A zero-length read marks orderly peer closure.
func (s *messageStream) recv() error {
	var chunk [readChunkSize]byte
	for {
		n, err := unix.Read(s.fd, chunk[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		if err != nil {
			return wrapError(ErrReceivingMessage, err)
		}
		if n == 0 {
			s.eof = true
			return nil
		}
		s.in = append(s.in, chunk[:n]...)
		if bytes.IndexByte(s.in, 0) < 0 && len(s.in) > s.maxMessage {
			return newError(ErrInvalidMessage)
		}
	}
}

// next pops the oldest complete message from the read buffer. The
// returned slice is valid until the next call to recv.
func (s *messageStream) next() ([]byte, bool) {
	i := bytes.IndexByte(s.in, 0)
	if i < 0 {
		return nil, false
	}
	msg := s.in[:i]
	s.in = s.in[i+1:]
	return msg, true
}

// queue appends a serialized message plus its NUL terminator to the
// write buffer.
func (s *messageStream) queue(msg []byte) {
	s.out = append(s.out, msg...)
	s.out = append(s.out, 0)
}

// flush writes buffered output until drained or the socket would block.
func (s *messageStream) flush() error {
	for len(s.out) > 0 {
		n, err := unix.Write(s.fd, s.out)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		if err != nil {
			return wrapError(ErrSendingMessage, err)
		}
		s.out = s.out[n:]
	}
	s.out = nil
	return nil
}

func (s *messageStream) pendingWrite() bool {
	return len(s.out) > 0
}
