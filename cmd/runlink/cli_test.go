package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/caffeineduck/runlink/internal/fakebackend"
	"github.com/caffeineduck/runlink/pushchan"
	"github.com/caffeineduck/runlink/session"
)

// lockedBuffer is a bytes.Buffer safe for writes from observer goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// resetFlags puts every flag in the tree back to its default. Commands are
// package globals, so values from one Execute would otherwise carry into the
// next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	resetFlags(root)
	buf := new(lockedBuffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"runlink",
		"Socket.IO",
		"run",
		"console",
		"serve",
		"export",
		"--base-url",
		"--socket-path",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLIRunHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "run", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--code", "--lang", "--timeout", "--config"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("run help should contain %q", phrase)
		}
	}
}

func TestCLIConsoleHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "console", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{":use", ":load", ":edit", ":run", ":show", ":export", ":quit", "--instances", "--history"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("console help should contain %q", phrase)
		}
	}
}

func TestCLIServeHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "serve", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"/editors", "/editors/{id}/run", "/editors/{id}/export", "/health", "--addr", "--ttl"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("serve help should contain %q", phrase)
		}
	}
}

func TestCLIExportHelp(t *testing.T) {
	output, err := executeCommand(rootCmd, "export", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--type", "--target", "--instance", "code.<ext>"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("export help should contain %q", phrase)
		}
	}
}

func TestGetLanguage(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		filename string
		fallback string
		want     string
		wantErr  bool
	}{
		{"flag python", "python", "", "js", "python", false},
		{"flag py", "py", "", "", "python", false},
		{"flag js", "js", "", "", "javascript", false},
		{"flag javascript", "javascript", "", "", "javascript", false},
		{"py extension", "", "script.py", "js", "python", false},
		{"js extension", "", "app.js", "python", "javascript", false},
		{"mjs extension", "", "mod.MJS", "python", "javascript", false},
		{"flag beats extension", "js", "script.py", "", "javascript", false},
		{"fallback", "", "notes.txt", "python", "python", false},
		{"unknown", "ruby", "", "", "", true},
		{"nothing", "", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lang, err := getLanguage(tt.flag, tt.filename, tt.fallback)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", lang.Name())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if lang.Name() != tt.want {
				t.Errorf("got %s, want %s", lang.Name(), tt.want)
			}
		})
	}
}

func TestCLIRunImmediate(t *testing.T) {
	backend := fakebackend.New()
	defer backend.Close()
	backend.OnRun(func(lang, code string) fakebackend.Reply {
		return fakebackend.Reply{Output: "2", Error: ""}
	})

	output, err := executeCommand(rootCmd, "run", "--base-url", backend.URL(), "-l", "python", "-c", "print(1+1)")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "2\n") {
		t.Errorf("output = %q, want it to contain the result", output)
	}
	if codes := backend.Codes(); len(codes) != 1 || codes[0] != "print(1+1)" {
		t.Errorf("backend received %q", codes)
	}
}

func TestCLIRunAfterHelp(t *testing.T) {
	if _, err := executeCommand(rootCmd, "run", "--help"); err != nil {
		t.Fatalf("help failed: %v", err)
	}

	backend := fakebackend.New()
	defer backend.Close()
	backend.OnRun(func(lang, code string) fakebackend.Reply {
		return fakebackend.Reply{Output: "after help"}
	})

	output, err := executeCommand(rootCmd, "run", "--base-url", backend.URL(), "-l", "python", "-c", "print('after help')")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, output)
	}
	if codes := backend.Codes(); len(codes) != 1 || codes[0] != "print('after help')" {
		t.Fatalf("backend received %q, help flag leaked into the second run", codes)
	}
	if !strings.Contains(output, "after help") {
		t.Errorf("output = %q, want the run result", output)
	}
}

func TestCLIFlagsDoNotCarryOver(t *testing.T) {
	dir := t.TempDir()
	if _, err := executeCommand(rootCmd, "export", "-l", "js", "-c", "1",
		"--type", "local", "--target", dir, "--instance", "9"); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	resetFlags(rootCmd)
	for _, name := range []string{"lang", "instance", "type", "target", "code", "help"} {
		if f := exportCmd.Flags().Lookup(name); f != nil && f.Changed {
			t.Errorf("flag --%s still marked as set", name)
		}
	}
	if lang, _ := exportCmd.Flags().GetString("lang"); lang != "" {
		t.Errorf("lang = %q after reset, want empty", lang)
	}
}

func TestWaitConnectedZeroTimeoutSkips(t *testing.T) {
	ch, err := pushchan.Open("http://127.0.0.1:1", pushchan.WithReconnectDelay(time.Hour, time.Hour, 0))
	if err != nil {
		t.Fatalf("failed to open channel: %v", err)
	}
	defer ch.Close()

	logs := new(lockedBuffer)
	rt := &runtime{channel: ch, log: zerolog.New(logs)}

	start := time.Now()
	rt.waitConnected(t.Context(), 0)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("zero timeout waited %s", elapsed)
	}
	if logs.String() != "" {
		t.Errorf("zero timeout logged %q", logs.String())
	}

	rt.waitConnected(t.Context(), 20*time.Millisecond)
	if !strings.Contains(logs.String(), "not connected yet") {
		t.Errorf("expected a warning after the wait expired, got %q", logs.String())
	}
}

func TestCLIRunConnectTimeoutZero(t *testing.T) {
	backend := fakebackend.New()
	defer backend.Close()
	backend.OnRun(func(lang, code string) fakebackend.Reply {
		return fakebackend.Reply{Output: "3"}
	})

	start := time.Now()
	output, err := executeCommand(rootCmd, "run", "--base-url", backend.URL(),
		"--socket-url", "http://127.0.0.1:1", "--connect-timeout", "0",
		"-l", "python", "-c", "print(3)")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, output)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run waited %s for an unreachable push channel", elapsed)
	}
	if !strings.Contains(output, "3\n") {
		t.Errorf("output = %q, want the result", output)
	}
}

func TestCLIRunStreaming(t *testing.T) {
	backend := fakebackend.New()
	defer backend.Close()
	backend.OnRun(func(lang, code string) fakebackend.Reply {
		return fakebackend.Reply{UUID: "cli-1"}
	})

	go func() {
		for {
			ev, ok := backend.WaitEvent(5 * time.Second)
			if !ok {
				return
			}
			if ev.Event == pushchan.EventProcessConnect && ev.String(0) == "cli-1" {
				backend.Emit(pushchan.EventResponse, "streamed line\n", "cli-1")
				backend.Emit(pushchan.EventProcessEnd, "cli-1")
				return
			}
		}
	}()

	output, err := executeCommand(rootCmd, "run", "--base-url", backend.URL(), "-l", "python", "-c", "print('streamed line')")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "streamed line\n") {
		t.Errorf("output = %q, want streamed output", output)
	}
	if !strings.Contains(output, strings.TrimPrefix(session.TerminationMarker, "\n")) {
		t.Errorf("output = %q, want termination marker", output)
	}
}

func TestCLIRunRequestFailure(t *testing.T) {
	backend := fakebackend.New()
	defer backend.Close()
	backend.OnRun(func(lang, code string) fakebackend.Reply {
		return fakebackend.Reply{Status: 500, Body: "boom"}
	})

	output, err := executeCommand(rootCmd, "run", "--base-url", backend.URL(), "-l", "python", "-c", "x")
	if err == nil {
		t.Fatal("expected error for failed request")
	}
	if !strings.Contains(output, "request failed") {
		t.Errorf("output = %q, want inline failure", output)
	}
}

func TestCLIExportLocal(t *testing.T) {
	dir := t.TempDir()

	output, err := executeCommand(rootCmd, "export", "-l", "js", "-c", "console.log(1)",
		"--type", "local", "--target", dir, "--instance", "7")
	if err != nil {
		t.Fatalf("export failed: %v\n%s", err, output)
	}

	want := filepath.Join(dir, "editors", "7", "code.js")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(data) != "console.log(1)" {
		t.Errorf("exported %q", data)
	}
	if !strings.Contains(output, want) {
		t.Errorf("output = %q, want location %s", output, want)
	}
}
