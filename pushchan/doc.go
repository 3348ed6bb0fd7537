// Package pushchan is the client side of the backend's push channel: one
// long-lived Socket.IO (v5, Engine.IO v4 over websocket) connection shared
// by every editor instance in the process.
//
// # Events
//
// The backend speaks four events:
//
//	processconnect(id)      client -> server  route execution id to this connection
//	prompt(id, text)        client -> server  one line of stdin
//	response(text, id)      server -> client  an output chunk
//	processend(id)          server -> client  the execution finished
//
// # Basic Usage
//
//	ch, err := pushchan.Open("https://api.example.com", pushchan.WithPath("/ws/socket.io"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ch.Close()
//
//	ch.Subscribe(pushchan.EventResponse, func(args []json.RawMessage) {
//	    // args[0] is the text, args[1] the execution id
//	})
//	ch.Associate(ctx, "abc")
//
// # Reconnects
//
// A lost transport is redialed with exponential backoff. Events emitted
// while disconnected are buffered and flushed after the next handshake.
// Hooks registered with [Channel.OnConnect] run after every handshake so
// callers can re-associate executions that are still running; their frames
// join the buffer, and processconnect frames are flushed ahead of the rest
// so a queued prompt reaches an execution that is bound again.
package pushchan
