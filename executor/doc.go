// Package executor is the client for the remote execution backend's
// request/response call.
//
// # Overview
//
// A Client posts source code to the backend's run endpoint and classifies
// the reply. The backend either accepts the code and streams results later
// over the push channel, or answers synchronously with final output.
//
// # Basic Usage
//
//	client, err := executor.New("https://api.example.com", python.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	outcome, err := client.Start(ctx, `print(input())`)
//	if err != nil {
//	    // *RequestFailedError: network failure, bad status or malformed body
//	    log.Fatal(err)
//	}
//
//	switch o := outcome.(type) {
//	case executor.Streaming:
//	    fmt.Println("streaming as", o.ExecutionID)
//	case executor.Immediate:
//	    fmt.Println(o.Text())
//	}
//
// # Retries
//
// Start never retries. Every call is an independent request and the caller
// decides whether to run again.
//
// # Language Interface
//
// The run endpoint is selected by [Language]. See
// [github.com/caffeineduck/runlink/language/python] for an example.
package executor
