/*
Package varlink implements the varlink IPC protocol: services expose
named interfaces over a stream socket, clients invoke methods by
qualified name and receive one or more JSON replies, each message
terminated by a single NUL byte.

The engine is single-threaded and event-driven. A Service owns a
listening socket and all accepted connections, and exposes one
readiness descriptor; whoever runs the event loop polls that descriptor
and calls ProcessEvents whenever it signals. All method callbacks run
synchronously on that goroutine, in the order messages are parsed off
each socket.

Serving an interface:

	service, err := varlink.NewService(
		"Example", "Ping", "1", "https://example.org/ping",
		"unix:/run/org.example.ping", -1,
	)
	if err != nil {
		// handle error
	}
	defer service.Close()

	iface := varlink.NewInterface(`interface org.example.ping

	method Ping(ping: string) -> (pong: string)`)
	iface.Method("Ping", func(s *varlink.Service, call *varlink.Call, parameters *varlink.Object, flags uint64) error {
		ping, err := parameters.GetString("ping")
		if err != nil {
			return call.ReplyInvalidParameter("ping")
		}
		reply := varlink.NewObject()
		defer reply.Unref()
		reply.SetString("pong", ping)
		return call.Reply(reply, 0)
	})
	if err := service.AddInterface(iface); err != nil {
		// handle error
	}

	service.Run(ctx)

Parameters are represented by the reference-counted Object and Array
containers, which preserve field insertion order and serialize
deterministically. A container is freed when its last reference is
released; parents own their children, and the API cannot construct
reference cycles.

Clients either integrate with their own poller through Connect and the
Connection's Fd/Events/ProcessEvents contract, or use the blocking
convenience Client:

	client, err := varlink.NewClient(ctx, "unix:/run/org.example.ping")
	if err != nil {
		// handle error
	}
	defer client.Close()

	parameters := varlink.NewObject()
	defer parameters.Unref()
	parameters.SetString("ping", "hello")

	reply, err := client.Call(ctx, "org.example.ping.Ping", parameters)
	if err != nil {
		// handle error; named error replies are *varlink.CallError
	}
	defer reply.Unref()

See http://varlink.org for the protocol and interface description
format.
*/
package varlink
