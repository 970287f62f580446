package varlink

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// MethodFunc handles one method call. Returning an engine *Error while
// the call is still unreplied sends an automatic error reply with the
// matching error name; returning any other non-nil error terminates the
// connection.
type MethodFunc func(s *Service, call *Call, parameters *Object, flags uint64) error

// Service owns a listening socket, accepts connections and dispatches
// incoming calls to registered method callbacks. All callbacks run
// synchronously on the goroutine calling ProcessEvents.
type Service struct {
	vendor  string
	product string
	version string
	url     string

	listenFd   int
	listenPath string
	epollFd    int
	closed     bool

	raw         MethodFunc
	methods     map[string]MethodFunc
	interfaces  map[string]*IDL
	connections map[int]*Connection

	maxMessage int
	log        zerolog.Logger
}

// NewService creates a varlink service listening on the given address.
// If listenFd is not negative it must be a listening socket created for
// the same address, typically handed over by socket activation; the
// service takes ownership either way. The built-in org.varlink.service
// interface is registered on every service.
func NewService(vendor, product, version, url, address string, listenFd int) (*Service, error) {
	s, err := newService(address, listenFd)
	if err != nil {
		return nil, err
	}
	s.vendor = vendor
	s.product = product
	s.version = version
	s.url = url
	if err := s.registerServiceInterface(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NewRawService creates a service that hands every incoming call to the
// single given callback, skipping name-based dispatch entirely.
// AddInterface does not work on a raw service.
func NewRawService(address string, listenFd int, handler MethodFunc) (*Service, error) {
	if handler == nil {
		return nil, newError(ErrPanic)
	}
	s, err := newService(address, listenFd)
	if err != nil {
		return nil, err
	}
	s.raw = handler
	return s, nil
}

func newService(address string, listenFd int) (*Service, error) {
	var listenPath string
	if listenFd < 0 {
		var err error
		listenFd, listenPath, err = Listen(address)
		if err != nil {
			return nil, err
		}
	} else if err := unix.SetNonblock(listenFd, true); err != nil {
		return nil, wrapError(ErrCannotListen, err)
	}

	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(listenFd)
		return nil, wrapError(ErrPanic, err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(listenFd)}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, listenFd, &ev); err != nil {
		unix.Close(epollFd)
		unix.Close(listenFd)
		return nil, wrapError(ErrPanic, err)
	}

	return &Service{
		listenFd:    listenFd,
		listenPath:  listenPath,
		epollFd:     epollFd,
		methods:     make(map[string]MethodFunc),
		interfaces:  make(map[string]*IDL),
		connections: make(map[int]*Connection),
		maxMessage:  DefaultMaxMessageSize,
		log:         zerolog.Nop(),
	}, nil
}

// SetLogger installs the logger used for connection lifecycle and accept
// failures. The default logger is disabled.
func (s *Service) SetLogger(log zerolog.Logger) {
	s.log = log
}

// SetMaxMessageSize bounds the bytes buffered for a single unterminated
// incoming message on connections accepted from now on.
func (s *Service) SetMaxMessageSize(n int) {
	s.maxMessage = n
}

// AddInterface finalizes an interface builder into the dispatch table.
// Every built method becomes callable under its "interface.Method" key.
// A description that does not parse, a method not declared in it, or a
// duplicate registration of the interface fails with InvalidInterface.
func (s *Service) AddInterface(b *InterfaceBuilder) error {
	if s.raw != nil {
		return newError(ErrInvalidInterface)
	}
	if b.err != nil {
		return wrapError(ErrInvalidInterface, b.err)
	}
	if _, ok := s.interfaces[b.idl.Name]; ok {
		return newError(ErrInvalidInterface)
	}
	for _, name := range b.names {
		if _, ok := b.idl.Methods[name]; !ok {
			return newError(ErrInvalidInterface)
		}
	}

	s.interfaces[b.idl.Name] = b.idl
	for _, name := range b.names {
		s.methods[b.idl.Name+"."+name] = b.methods[name]
	}
	return nil
}

// Fd returns a single descriptor to integrate with a readiness poller;
// it becomes readable whenever the listening socket or any connection
// needs servicing.
func (s *Service) Fd() int {
	return s.epollFd
}

// ProcessEvents must be called whenever Fd signals readiness. It
// services the listening socket first, then every ready connection.
// Connections whose peer went away are removed after their closed
// callbacks have run.
func (s *Service) ProcessEvents() error {
	if s.closed {
		return newError(ErrConnectionClosed)
	}

	var events [64]unix.EpollEvent
	for {
		n, err := unix.EpollWait(s.epollFd, events[:], 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return wrapError(ErrPanic, err)
		}
		if n == 0 {
			return nil
		}

		// The listening socket first, in a deterministic order.
		for i := 0; i < n; i++ {
			if int(events[i].Fd) == s.listenFd {
				s.acceptConnections()
			}
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == s.listenFd {
				continue
			}
			conn, ok := s.connections[fd]
			if !ok {
				continue
			}
			if err := conn.ProcessEvents(events[i].Events); err != nil {
				s.log.Debug().Err(err).Int("fd", fd).Msg("connection failed")
				if !conn.IsClosed() {
					conn.closeWithError(err)
				}
				continue
			}
			if !conn.IsClosed() {
				s.updateEvents(conn)
			}
		}

		if n < len(events) {
			return nil
		}
	}
}

// Run services the listening socket and all connections until ctx is
// done.
func (s *Service) Run(ctx context.Context) error {
	fds := []unix.PollFd{{Fd: int32(s.epollFd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, 100)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return wrapError(ErrPanic, err)
		}
		if n > 0 {
			if err := s.ProcessEvents(); err != nil {
				return err
			}
		}
	}
}

func (s *Service) acceptConnections() {
	for {
		fd, _, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err != nil {
			// Accept failures are transient; keep the service alive.
			s.log.Warn().Err(wrapError(ErrCannotAccept, err)).Msg("accept failed")
			return
		}

		conn := newServerConnection(s, fd)
		s.connections[fd] = conn
		ev := unix.EpollEvent{Events: conn.Events(), Fd: int32(fd)}
		if err := unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			s.log.Warn().Err(err).Int("fd", fd).Msg("epoll add failed")
			conn.Close()
			continue
		}
		s.log.Debug().Int("fd", fd).Msg("connection accepted")
	}
}

func (s *Service) updateEvents(conn *Connection) {
	ev := unix.EpollEvent{Events: conn.Events(), Fd: int32(conn.fd)}
	if err := unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_MOD, conn.fd, &ev); err != nil {
		s.log.Warn().Err(err).Int("fd", conn.fd).Msg("epoll mod failed")
	}
}

// connectionClosed drops a dead connection from the active set. The fd
// is already closed, which also removed it from the epoll set.
func (s *Service) connectionClosed(conn *Connection) {
	delete(s.connections, conn.fd)
	s.log.Debug().Int("fd", conn.fd).Msg("connection closed")
}

// dispatchCall parses one call message and invokes the matching method
// callback.
func (s *Service) dispatchCall(conn *Connection, msg []byte) error {
	o, err := ObjectFromJSON(msg)
	if err != nil {
		e := wrapError(ErrInvalidMessage, err)
		conn.closeWithError(e)
		return e
	}
	defer o.Unref()

	method, _ := o.GetString("method")
	var flags uint64
	if b, err := o.GetBool("oneway"); err == nil && b {
		flags |= CallOneway
	}
	if b, err := o.GetBool("more"); err == nil && b {
		flags |= CallMore
	}

	parameters, perr := o.GetObject("parameters")
	if perr != nil {
		parameters = NewObject()
		parameters.writable = false
	} else {
		parameters.Ref()
	}

	call := newCall(conn, method, parameters, flags)
	if !call.IsOneway() {
		conn.calls = append(conn.calls, call)
	}

	err = s.invoke(conn, call, parameters, flags)

	if call.IsOneway() {
		call.release()
	} else if call.state == callReplied {
		call.release()
	}
	return err
}

func (s *Service) invoke(conn *Connection, call *Call, parameters *Object, flags uint64) error {
	if s.raw != nil {
		return s.handlerError(conn, call, s.raw(s, call, parameters, flags))
	}

	r := strings.LastIndex(call.method, ".")
	if r <= 0 || r == len(call.method)-1 {
		call.ReplyInvalidParameter("method")
		return nil
	}
	iface := call.method[:r]
	name := call.method[r+1:]

	idl, ok := s.interfaces[iface]
	if !ok {
		call.replyInterfaceNotFound(iface)
		return nil
	}
	fn, ok := s.methods[call.method]
	if !ok {
		if _, declared := idl.Methods[name]; declared {
			p := NewObject()
			p.SetString("method", name)
			call.replyError(serviceInterfaceName+".MethodNotImplemented", p)
			p.Unref()
		} else {
			call.replyMethodNotFound(name)
		}
		return nil
	}

	return s.handlerError(conn, call, fn(s, call, parameters, flags))
}

// handlerError translates an engine error returned by a callback into an
// automatic error reply when the call is still open; any other error
// terminates the connection.
func (s *Service) handlerError(conn *Connection, call *Call, err error) error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		if call.IsOneway() {
			// Nothing can be sent back for a oneway call.
			s.log.Debug().Err(err).Str("method", call.method).Msg("oneway handler failed")
			return nil
		}
		if call.state != callReplied && !conn.closed {
			call.replyError(serviceInterfaceName+"."+ErrorString(ve.Code), nil)
			return nil
		}
	}
	return err
}

// Close closes every connection, the readiness descriptor and the
// listening socket, and unlinks a filesystem unix socket path.
func (s *Service) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for _, conn := range s.connections {
		if !conn.IsClosed() {
			conn.closeWithError(nil)
		}
	}
	s.connections = nil
	unix.Close(s.epollFd)
	unix.Close(s.listenFd)
	if s.listenPath != "" {
		unix.Unlink(s.listenPath)
	}
}
