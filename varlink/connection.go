package varlink

import (
	"strings"

	"golang.org/x/sys/unix"
)

// ReplyFunc is called when a client receives a reply to its call.
// replyErr is nil for a success reply, a *CallError for a named error
// reply from the peer, or an engine *Error with code ConnectionClosed
// when the connection dies with the call still pending (parameters are
// nil in that case). flags carries ReplyContinues for streaming replies.
//
// The parameters argument is borrowed for the duration of the callback;
// call Ref to keep it. A *CallError carries its own parameters
// reference, which whoever keeps the error releases.
type ReplyFunc func(c *Connection, replyErr error, parameters *Object, flags uint64) error

// ClosedFunc is called exactly once when a connection is closed.
type ClosedFunc func(c *Connection)

// Connection is one bidirectional varlink endpoint wrapping a single
// non-blocking socket. On the client side it tracks calls awaiting
// replies in issue order; the protocol is strictly pipelined per
// connection, so replies always belong to the oldest pending call. On
// the server side it tracks live calls awaiting application replies.
type Connection struct {
	fd       int
	stream   messageStream
	closed   bool
	closeErr error
	closedFn ClosedFunc

	service *Service // server role, nil on client connections
	pending []ReplyFunc
	calls   []*Call
}

// NewConnectionFromFd wraps an already-connected non-blocking stream
// socket in a client-role connection. The connection takes ownership of
// the file descriptor.
func NewConnectionFromFd(fd int) *Connection {
	return &Connection{
		fd:     fd,
		stream: newMessageStream(fd, 0),
	}
}

func newServerConnection(s *Service, fd int) *Connection {
	return &Connection{
		fd:      fd,
		stream:  newMessageStream(fd, s.maxMessage),
		service: s,
	}
}

// Fd returns the connection's file descriptor for readiness polling.
func (c *Connection) Fd() int {
	return c.fd
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	return c.closed
}

// CloseError returns the failure that closed the connection, or nil
// while it is open or after an orderly closure.
func (c *Connection) CloseError() error {
	return c.closeErr
}

// SetClosedCallback registers a function called exactly once when the
// connection closes. Only one such function can be set.
func (c *Connection) SetClosedCallback(fn ClosedFunc) {
	c.closedFn = fn
}

// SetMaxMessageSize bounds the bytes buffered for a single unterminated
// incoming message. Exceeding it fails the connection with
// InvalidMessage.
func (c *Connection) SetMaxMessageSize(n int) {
	c.stream.maxMessage = n
}

// Events returns the readiness interest the connection currently needs:
// read interest while open, write interest while output is buffered.
func (c *Connection) Events() uint32 {
	if c.closed {
		return 0
	}
	events := uint32(unix.EPOLLIN)
	if c.stream.pendingWrite() {
		events |= unix.EPOLLOUT
	}
	return events
}

// Call sends a method call. The method must be dot-qualified
// ("interface.Method"). Unless the call is oneway, reply is invoked for
// every reply message the peer sends for it.
func (c *Connection) Call(method string, parameters *Object, flags uint64, reply ReplyFunc) error {
	if c.closed {
		return newError(ErrConnectionClosed)
	}
	r := strings.LastIndex(method, ".")
	if r <= 0 || r == len(method)-1 {
		return newError(ErrInvalidIdentifier)
	}
	if reply == nil && flags&CallOneway == 0 {
		return newError(ErrInvalidCall)
	}

	msg := NewObject()
	defer msg.Unref()
	msg.SetString("method", method)
	if parameters != nil {
		msg.SetObject("parameters", parameters)
	} else {
		empty := NewObject()
		msg.SetObject("parameters", empty)
		empty.Unref()
	}
	if flags&CallOneway != 0 {
		msg.SetBool("oneway", true)
	}
	if flags&CallMore != 0 {
		msg.SetBool("more", true)
	}

	if err := c.queueMessage(msg); err != nil {
		c.closeWithError(err)
		return err
	}
	if flags&CallOneway == 0 {
		c.pending = append(c.pending, reply)
	}
	return nil
}

// ProcessEvents services the connection after a readiness event:
// buffered output is flushed, newly complete messages are parsed and
// dispatched. Would-block conditions defer remaining work to the next
// invocation.
func (c *Connection) ProcessEvents(events uint32) error {
	if c.closed {
		return newError(ErrConnectionClosed)
	}

	if events&unix.EPOLLOUT != 0 {
		if err := c.stream.flush(); err != nil {
			c.closeWithError(err)
			return err
		}
	}

	if events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		if err := c.stream.recv(); err != nil {
			c.closeWithError(err)
			return err
		}
		for {
			msg, ok := c.stream.next()
			if !ok {
				break
			}
			var err error
			if c.service != nil {
				err = c.service.dispatchCall(c, msg)
			} else {
				err = c.dispatchReply(msg)
			}
			if err != nil {
				return err
			}
			if c.closed {
				return nil
			}
		}
		if c.stream.eof {
			c.closeWithError(nil)
		}
	}
	return nil
}

// dispatchReply matches a reply message to the oldest pending call.
// The pending entry stays at the head of the queue as long as replies
// carry the continues flag.
func (c *Connection) dispatchReply(msg []byte) error {
	o, err := ObjectFromJSON(msg)
	if err != nil {
		err = wrapError(ErrInvalidMessage, err)
		c.closeWithError(err)
		return err
	}
	defer o.Unref()

	if len(c.pending) == 0 {
		// Reply without a matching call is a protocol violation.
		err := newError(ErrInvalidMessage)
		c.closeWithError(err)
		return err
	}

	parameters, perr := o.GetObject("parameters")
	var owned *Object
	if perr != nil {
		owned = NewObject()
		owned.writable = false
		parameters = owned
	}
	defer owned.Unref()

	var flags uint64
	if continues, err := o.GetBool("continues"); err == nil && continues {
		flags |= ReplyContinues
	}

	var replyErr error
	if name, err := o.GetString("error"); err == nil && name != "" {
		// The error outlives the reply message; it owns its parameters.
		replyErr = &CallError{Name: name, Parameters: parameters.Ref()}
	}

	fn := c.pending[0]
	if flags&ReplyContinues == 0 {
		c.pending = c.pending[1:]
	}
	return fn(c, replyErr, parameters, flags)
}

func (c *Connection) queueMessage(o *Object) error {
	if c.closed {
		return newError(ErrConnectionClosed)
	}
	c.stream.queue(o.AppendJSON(nil))
	if err := c.stream.flush(); err != nil {
		return err
	}
	if c.service != nil && c.stream.pendingWrite() {
		// Replies queued outside the event loop still need a writable
		// event to finish; keep the poller interested.
		c.service.updateEvents(c)
	}
	return nil
}

func (c *Connection) removeCall(call *Call) {
	for i, lc := range c.calls {
		if lc == call {
			c.calls = append(c.calls[:i], c.calls[i+1:]...)
			return
		}
	}
}

// Close shuts the connection down: the descriptor is closed, every
// pending client call fails its reply callback once with
// ConnectionClosed, every live server call runs its connection-closed
// callback, and the closed callback fires exactly once. All later
// operations fail with ConnectionClosed.
func (c *Connection) Close() error {
	if c.closed {
		return newError(ErrConnectionClosed)
	}
	c.closeWithError(nil)
	return nil
}

func (c *Connection) closeWithError(cause error) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = cause
	unix.Close(c.fd)

	pending := c.pending
	c.pending = nil
	for _, fn := range pending {
		fn(c, newError(ErrConnectionClosed), nil, 0)
	}

	calls := c.calls
	c.calls = nil
	for _, call := range calls {
		call.connectionClosed()
		call.release()
	}

	if fn := c.closedFn; fn != nil {
		c.closedFn = nil
		fn(c)
	}
	if c.service != nil {
		c.service.connectionClosed(c)
	}
}
