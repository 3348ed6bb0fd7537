// Package session tracks one execution lifecycle per editor instance and
// demultiplexes the shared push channel across them.
//
// # State Machine
//
//	Idle -> Starting -> Streaming -> Ended
//	            \__________________/^
//
// Run moves a session to Starting from any state, clearing its output and
// invalidating the previous execution id. The start call then resolves to
// Streaming (the backend will push output), or straight to Ended for
// immediate output and request failures.
//
// # Routing
//
// Every push channel event carries an execution id. The Manager applies it
// to the one session whose live id matches and drops it otherwise, so late
// output from a superseded run never reaches the buffer of a newer run or
// another instance. Events that arrive before the start call has revealed
// their id are parked while any run is starting and replayed, in arrival
// order, once the id is known.
//
// # Basic Usage
//
//	mgr, err := session.NewManager(client, ch, session.WithInstances("1", "2"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	mgr.Run(ctx, "1", `print(input())`)
//	mgr.SubmitInput(ctx, "1", "42")
//
//	snap, _ := mgr.Snapshot("1")
//	fmt.Println(snap.State, snap.Output)
package session
