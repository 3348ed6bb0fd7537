package pushchan_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/caffeineduck/runlink/internal/fakebackend"
	"github.com/caffeineduck/runlink/pushchan"
)

func openChannel(t *testing.T, backend *fakebackend.Server) *pushchan.Channel {
	t.Helper()

	ch, err := pushchan.Open(backend.URL(),
		pushchan.WithPath(fakebackend.SocketPath),
		pushchan.WithReconnectDelay(10*time.Millisecond, 50*time.Millisecond, 0),
	)
	if err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func waitConnected(t *testing.T, ch *pushchan.Channel) {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := ch.WaitConnected(ctx); err != nil {
		t.Fatalf("channel did not connect: %v", err)
	}
}

func TestChannelAssociateAndPrompt(t *testing.T) {
	backend := fakebackend.New()
	defer backend.Close()

	ch := openChannel(t, backend)
	waitConnected(t, ch)

	if err := ch.Associate(t.Context(), "abc"); err != nil {
		t.Fatalf("associate failed: %v", err)
	}
	ev, ok := backend.WaitEvent(5 * time.Second)
	if !ok {
		t.Fatal("backend never received processconnect")
	}
	if ev.Event != pushchan.EventProcessConnect || ev.String(0) != "abc" {
		t.Errorf("unexpected event %s %q", ev.Event, ev.Args)
	}

	if err := ch.SendInput(t.Context(), "abc", "42"); err != nil {
		t.Fatalf("send input failed: %v", err)
	}
	ev, ok = backend.WaitEvent(5 * time.Second)
	if !ok {
		t.Fatal("backend never received prompt")
	}
	if ev.Event != pushchan.EventPrompt || ev.String(0) != "abc" || ev.String(1) != "42" {
		t.Errorf("unexpected event %s %q", ev.Event, ev.Args)
	}
}

func TestChannelDeliversSubscribedEvents(t *testing.T) {
	backend := fakebackend.New()
	defer backend.Close()

	ch := openChannel(t, backend)

	got := make(chan []json.RawMessage, 1)
	ch.Subscribe(pushchan.EventResponse, func(args []json.RawMessage) {
		got <- args
	})
	waitConnected(t, ch)

	if err := backend.Emit(pushchan.EventResponse, "Hello\n", "abc"); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	select {
	case args := <-got:
		var text, id string
		if len(args) != 2 {
			t.Fatalf("expected 2 args, got %d", len(args))
		}
		json.Unmarshal(args[0], &text)
		json.Unmarshal(args[1], &id)
		if text != "Hello\n" || id != "abc" {
			t.Errorf("got text=%q id=%q", text, id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("response never delivered")
	}
}

func TestChannelUnsubscribe(t *testing.T) {
	backend := fakebackend.New()
	defer backend.Close()

	ch := openChannel(t, backend)

	removed := make(chan struct{}, 1)
	kept := make(chan struct{}, 1)
	unsubscribe := ch.Subscribe(pushchan.EventProcessEnd, func([]json.RawMessage) { removed <- struct{}{} })
	ch.Subscribe(pushchan.EventProcessEnd, func([]json.RawMessage) { kept <- struct{}{} })
	unsubscribe()
	waitConnected(t, ch)

	backend.Emit(pushchan.EventProcessEnd, "abc")

	select {
	case <-kept:
	case <-time.After(5 * time.Second):
		t.Fatal("remaining handler never ran")
	}
	select {
	case <-removed:
		t.Error("removed handler still ran")
	default:
	}
}

func TestChannelEmitBeforeConnect(t *testing.T) {
	backend := fakebackend.New()
	defer backend.Close()

	ch := openChannel(t, backend)

	// Whether or not the handshake has finished, the event must arrive.
	if err := ch.Associate(t.Context(), "early"); err != nil {
		t.Fatalf("associate failed: %v", err)
	}

	ev, ok := backend.WaitEvent(5 * time.Second)
	if !ok {
		t.Fatal("queued event never flushed")
	}
	if ev.String(0) != "early" {
		t.Errorf("unexpected event args %q", ev.Args)
	}
}

func TestChannelReconnects(t *testing.T) {
	backend := fakebackend.New()
	defer backend.Close()

	ch := openChannel(t, backend)
	waitConnected(t, ch)
	if !backend.WaitConnected(5 * time.Second) {
		t.Fatal("backend never saw the first handshake")
	}

	reconnected := make(chan struct{}, 4)
	ch.OnConnect(func() { reconnected <- struct{}{} })

	backend.DropConnections()

	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not reconnect")
	}

	if err := ch.Associate(t.Context(), "after"); err != nil {
		t.Fatalf("associate after reconnect failed: %v", err)
	}
	ev, ok := backend.WaitEvent(5 * time.Second)
	if !ok || ev.String(0) != "after" {
		t.Errorf("expected processconnect after reconnect, got %+v ok=%v", ev, ok)
	}
}

func TestChannelReassociatesBeforeQueuedInput(t *testing.T) {
	backend := fakebackend.New()
	defer backend.Close()

	ch, err := pushchan.Open(backend.URL(),
		pushchan.WithPath(fakebackend.SocketPath),
		pushchan.WithReconnectDelay(300*time.Millisecond, 300*time.Millisecond, 0),
	)
	if err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	defer ch.Close()
	waitConnected(t, ch)

	ch.OnConnect(func() {
		if err := ch.Associate(context.Background(), "abc"); err != nil {
			t.Errorf("re-associate failed: %v", err)
		}
	})

	backend.DropConnections()
	deadline := time.Now().Add(5 * time.Second)
	for ch.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("channel never noticed the dropped connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := ch.SendInput(t.Context(), "abc", "bob"); err != nil {
		t.Fatalf("send input while offline failed: %v", err)
	}

	want := []string{pushchan.EventProcessConnect, pushchan.EventPrompt}
	for _, event := range want {
		ev, ok := backend.WaitEvent(5 * time.Second)
		if !ok {
			t.Fatalf("backend never received %s", event)
		}
		if ev.Event != event || ev.String(0) != "abc" {
			t.Fatalf("expected %s for abc, got %s %q", event, ev.Event, ev.Args)
		}
	}
}

func TestChannelClose(t *testing.T) {
	backend := fakebackend.New()
	defer backend.Close()

	ch := openChannel(t, backend)
	waitConnected(t, ch)

	if err := ch.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if ch.Connected() {
		t.Error("expected channel to be disconnected after close")
	}
	if err := ch.Associate(t.Context(), "abc"); !errors.Is(err, pushchan.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := ch.WaitConnected(t.Context()); !errors.Is(err, pushchan.ErrClosed) {
		t.Errorf("expected ErrClosed from WaitConnected, got %v", err)
	}
}

func TestChannelSendBufferFull(t *testing.T) {
	ch, err := pushchan.Open("http://127.0.0.1:1",
		pushchan.WithSendBuffer(1),
		pushchan.WithReconnectDelay(time.Hour, time.Hour, 0),
	)
	if err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	defer ch.Close()

	if err := ch.Associate(t.Context(), "a"); err != nil {
		t.Fatalf("first event should be queued: %v", err)
	}
	if err := ch.Associate(t.Context(), "b"); !errors.Is(err, pushchan.ErrSendBufferFull) {
		t.Errorf("expected ErrSendBufferFull, got %v", err)
	}
}

func TestOpenRejectsBadURL(t *testing.T) {
	if _, err := pushchan.Open("ftp://example.com"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}
