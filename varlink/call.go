package varlink

import (
	"strings"
)

// Call flags carried by a client on a method call.
const (
	CallMore   uint64 = 1 << iota // caller accepts multiple replies
	CallOneway                    // caller expects no reply
)

// Reply flags carried by a service on a method reply.
const (
	ReplyContinues uint64 = 1 // this reply is not the final one
)

type callState int

const (
	callPending callState = iota
	callStreaming
	callReplied
)

// Call is one in-flight method call received by a Service. A non-oneway
// call stays open until a final reply or an error reply is sent.
type Call struct {
	conn       *Connection
	method     string
	parameters *Object
	flags      uint64
	state      callState
	closedFn   func(*Call)
}

func newCall(conn *Connection, method string, parameters *Object, flags uint64) *Call {
	return &Call{
		conn:       conn,
		method:     method,
		parameters: parameters,
		flags:      flags,
	}
}

// Method returns the fully qualified method name of the call.
func (c *Call) Method() string {
	return c.method
}

// Parameters returns the call parameters. The reference is borrowed from
// the call.
func (c *Call) Parameters() *Object {
	return c.parameters
}

// WantsMore indicates if the calling client accepts more than one reply.
func (c *Call) WantsMore() bool {
	return c.flags&CallMore != 0
}

// IsOneway indicates if the calling client does not expect a reply.
func (c *Call) IsOneway() bool {
	return c.flags&CallOneway != 0
}

// SetConnectionClosedCallback registers a function called when the
// client closes the connection while the call is still open. Only one
// such function can be set.
func (c *Call) SetConnectionClosedCallback(fn func(*Call)) {
	c.closedFn = fn
}

func (c *Call) checkReplyable() error {
	if c.conn == nil || c.conn.closed {
		return newError(ErrConnectionClosed)
	}
	if c.IsOneway() || c.state == callReplied {
		return newError(ErrInvalidCall)
	}
	return nil
}

func (c *Call) sendReply(reply *Object, terminal bool) error {
	err := c.conn.queueMessage(reply)
	reply.Unref()
	if err != nil {
		c.conn.closeWithError(err)
		return err
	}
	if terminal {
		c.state = callReplied
		c.conn.removeCall(c)
	} else {
		c.state = callStreaming
	}
	return nil
}

// Reply sends a reply to this call. If flags contains ReplyContinues the
// call must have been made with CallMore and remains open for further
// replies; otherwise the call is finished and any further reply fails
// with InvalidCall.
func (c *Call) Reply(parameters *Object, flags uint64) error {
	if err := c.checkReplyable(); err != nil {
		return err
	}
	continues := flags&ReplyContinues != 0
	if continues && !c.WantsMore() {
		return newError(ErrInvalidCall)
	}

	reply := NewObject()
	if parameters != nil {
		reply.SetObject("parameters", parameters)
	} else {
		empty := NewObject()
		reply.SetObject("parameters", empty)
		empty.Unref()
	}
	if continues {
		reply.SetBool("continues", true)
	}
	return c.sendReply(reply, !continues)
}

// ReplyError sends an error reply to this call and finishes it,
// regardless of any prior streaming replies. The error name must be
// dot-qualified and outside the org.varlink.service namespace.
func (c *Call) ReplyError(name string, parameters *Object) error {
	r := strings.LastIndex(name, ".")
	if r <= 0 || r == len(name)-1 {
		return newError(ErrInvalidIdentifier)
	}
	if name[:r] == serviceInterfaceName {
		return newError(ErrInvalidIdentifier)
	}
	return c.replyError(name, parameters)
}

// replyError skips the namespace check for engine-originated errors.
func (c *Call) replyError(name string, parameters *Object) error {
	if err := c.checkReplyable(); err != nil {
		return err
	}

	reply := NewObject()
	reply.SetString("error", name)
	if parameters != nil {
		reply.SetObject("parameters", parameters)
	} else {
		empty := NewObject()
		reply.SetObject("parameters", empty)
		empty.Unref()
	}
	return c.sendReply(reply, true)
}

// ReplyInvalidParameter sends an org.varlink.service.InvalidParameter
// error reply naming the offending parameter.
func (c *Call) ReplyInvalidParameter(parameter string) error {
	p := NewObject()
	defer p.Unref()
	p.SetString("parameter", parameter)
	return c.replyError(serviceInterfaceName+".InvalidParameter", p)
}

func (c *Call) replyMethodNotFound(method string) error {
	p := NewObject()
	defer p.Unref()
	p.SetString("method", method)
	return c.replyError(serviceInterfaceName+".MethodNotFound", p)
}

func (c *Call) replyInterfaceNotFound(iface string) error {
	p := NewObject()
	defer p.Unref()
	p.SetString("interface", iface)
	return c.replyError(serviceInterfaceName+".InterfaceNotFound", p)
}

// connectionClosed runs the closed callback for a still-open call and
// detaches the call from its connection. Later replies fail with
// ConnectionClosed.
func (c *Call) connectionClosed() {
	if c.conn == nil {
		return
	}
	open := c.state != callReplied
	c.conn = nil
	if open && c.closedFn != nil {
		c.closedFn(c)
	}
}

func (c *Call) release() {
	if c.parameters != nil {
		c.parameters.Unref()
		c.parameters = nil
	}
}
