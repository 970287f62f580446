package varlink

import (
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// parseAddress splits a varlink address of the form
// "unix:/run/org.example.service" or "tcp:127.0.0.1:12345". Anything
// after ';' is a parameter and is ignored.
func parseAddress(address string) (network, addr string, err error) {
	network, addr, ok := strings.Cut(address, ":")
	if !ok {
		return "", "", newError(ErrInvalidAddress)
	}
	addr, _, _ = strings.Cut(addr, ";")
	if addr == "" {
		return "", "", newError(ErrInvalidAddress)
	}
	switch network {
	case "unix", "tcp":
		return network, addr, nil
	}
	return "", "", newError(ErrInvalidAddress)
}

func sockaddr(network, addr string) (unix.Sockaddr, int, error) {
	if network == "unix" {
		// x/sys maps a leading '@' to an abstract socket name.
		return &unix.SockaddrUnix{Name: addr}, unix.AF_UNIX, nil
	}

	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, 0, wrapError(ErrInvalidAddress, err)
	}
	if ap.Addr().Is4() || ap.Addr().Is4In6() {
		sa := &unix.SockaddrInet4{Port: int(ap.Port())}
		sa.Addr = ap.Addr().Unmap().As4()
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port())}
	sa.Addr = ap.Addr().As16()
	return sa, unix.AF_INET6, nil
}

// Listen creates a non-blocking listening socket for a varlink address.
// For filesystem unix sockets the path is returned and should be
// unlinked after the socket is closed; a stale socket at the path is
// removed first.
func Listen(address string) (fd int, path string, err error) {
	network, addr, err := parseAddress(address)
	if err != nil {
		return -1, "", err
	}

	sa, family, err := sockaddr(network, addr)
	if err != nil {
		return -1, "", err
	}
	if network == "unix" && !strings.HasPrefix(addr, "@") {
		unix.Unlink(addr)
		path = addr
	}

	fd, err = unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, "", wrapError(ErrCannotListen, errors.Wrap(err, "socket"))
	}
	if family != unix.AF_UNIX {
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, "", wrapError(ErrCannotListen, errors.Wrapf(err, "bind %s", address))
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, "", wrapError(ErrCannotListen, errors.Wrapf(err, "listen %s", address))
	}
	return fd, path, nil
}

// ActivationListenFd returns the listening socket handed over by the
// process manager via LISTEN_PID/LISTEN_FDS, or -1 when the process was
// not activated with exactly one socket.
func ActivationListenFd() int {
	defer os.Unsetenv("LISTEN_PID")
	defer os.Unsetenv("LISTEN_FDS")

	pid, err := strconv.Atoi(os.Getenv("LISTEN_PID"))
	if err != nil || pid != os.Getpid() {
		return -1
	}
	nfds, err := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if err != nil || nfds != 1 {
		return -1
	}
	unix.CloseOnExec(3)
	return 3
}

// Connect establishes a client connection to a varlink address. The
// returned connection owns a non-blocking socket and integrates with a
// readiness poller via Fd, Events and ProcessEvents.
func Connect(address string) (*Connection, error) {
	network, addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	sa, family, err := sockaddr(network, addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, wrapError(ErrCannotConnect, errors.Wrap(err, "socket"))
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, wrapError(ErrCannotConnect, errors.Wrapf(err, "connect %s", address))
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, wrapError(ErrCannotConnect, err)
	}
	return NewConnectionFromFd(fd), nil
}
