// Package runlink is a client for a remote code execution backend.
//
// # Overview
//
// A program is posted to the backend's run endpoint. Short programs answer
// at once with their output. Longer ones answer with an execution id, and
// their output is pushed back over one shared Socket.IO channel, tagged with
// that id. runlink routes each pushed event to the editor instance that
// started the execution, ignores events for runs that were superseded, and
// forwards lines typed while a program runs as its standard input.
//
// # Basic Usage
//
//	client, _ := executor.New("http://localhost:8000", python.New())
//	ch, _ := pushchan.Open("http://localhost:8000", pushchan.WithPath("/ws/socket.io"))
//	defer ch.Close()
//
//	mgr, _ := session.NewManager(client, ch,
//	    session.WithInstances("1", "2", "3"),
//	    session.WithObserver(func(u session.Update) { fmt.Print(u.Chunk) }))
//	defer mgr.Close()
//
//	mgr.Run(ctx, "1", `name = input(); print("Hello", name)`)
//	mgr.SubmitInput(ctx, "1", "bob")
//
// See the [executor], [pushchan], [session], [editor] and [export] packages
// for detailed API documentation. The runlink command in cmd/runlink wraps
// them in a one-shot runner, an interactive console and an HTTP server.
package runlink
