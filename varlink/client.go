package varlink

import (
	"context"
	"net"
	"strings"

	"github.com/ericonr/libvarlink/varlink/internal/ctxio"
)

// Dialer is the subset of net.Dialer needed to reach a service, left
// pluggable so connections can be tunneled.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client is a synchronous convenience client for callers that do not
// integrate with a readiness poller. Calls block until the reply
// arrives or the context fires. It is not safe for concurrent use.
type Client struct {
	conn net.Conn
	io   *ctxio.Conn
}

// NewClient connects to a varlink address ("unix:PATH" or
// "tcp:HOST:PORT").
func NewClient(ctx context.Context, address string) (*Client, error) {
	return NewClientWithDialer(ctx, address, &net.Dialer{})
}

// NewClientWithDialer connects to a varlink address through the given
// dialer.
func NewClientWithDialer(ctx context.Context, address string, dialer Dialer) (*Client, error) {
	network, addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, wrapError(ErrCannotConnect, err)
	}
	return &Client{conn: conn, io: ctxio.New(conn)}, nil
}

// Close terminates the connection.
func (c *Client) Close() error {
	return c.io.Close()
}

func (c *Client) sendCall(ctx context.Context, method string, parameters *Object, flags uint64) error {
	r := strings.LastIndex(method, ".")
	if r <= 0 || r == len(method)-1 {
		return newError(ErrInvalidIdentifier)
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

	buf := msg.AppendJSON(nil)
	buf = append(buf, 0)
	if _, err := c.io.Write(ctx, buf); err != nil {
		return wrapError(ErrSendingMessage, err)
	}
	return nil
}

// receiveReply reads one reply message. The returned parameters carry
// their own reference; the caller releases them.
func (c *Client) receiveReply(ctx context.Context) (*Object, bool, error) {
	data, err := c.io.ReadBytes(ctx, 0)
	if err != nil {
		return nil, false, wrapError(ErrReceivingMessage, err)
	}
	reply, err := ObjectFromJSON(data[:len(data)-1])
	if err != nil {
		return nil, false, wrapError(ErrInvalidMessage, err)
	}
	defer reply.Unref()

	parameters, err := reply.GetObject("parameters")
	if err != nil {
		parameters = NewObject()
		parameters.writable = false
	} else {
		parameters.Ref()
	}

	continues, _ := reply.GetBool("continues")

	if name, err := reply.GetString("error"); err == nil && name != "" {
		return nil, false, &CallError{Name: name, Parameters: parameters}
	}
	return parameters, continues, nil
}

// Call invokes a method and returns the reply parameters. A named error
// reply is returned as a *CallError. The returned object carries its
// own reference.
func (c *Client) Call(ctx context.Context, method string, parameters *Object) (*Object, error) {
	if err := c.sendCall(ctx, method, parameters, 0); err != nil {
		return nil, err
	}
	reply, _, err := c.receiveReply(ctx)
	return reply, err
}

// CallMore invokes a method with the more flag and feeds every reply to
// each, in order, until the final reply arrives. The callback borrows
// the parameters for the duration of the call.
func (c *Client) CallMore(ctx context.Context, method string, parameters *Object, each func(*Object) error) error {
	if err := c.sendCall(ctx, method, parameters, CallMore); err != nil {
		return err
	}
	for {
		reply, continues, err := c.receiveReply(ctx)
		if err != nil {
			return err
		}
		err = each(reply)
		reply.Unref()
		if err != nil {
			return err
		}
		if !continues {
			return nil
		}
	}
}

// CallOneway invokes a method for which no reply will be sent.
func (c *Client) CallOneway(ctx context.Context, method string, parameters *Object) error {
	return c.sendCall(ctx, method, parameters, CallOneway)
}
