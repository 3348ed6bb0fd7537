package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/runlink/export"
	"github.com/caffeineduck/runlink/session"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console over several editor instances",
	Long: `Start an interactive console holding one editor per instance.

Commands:
  :use N         Select editor N
  :load FILE     Replace the editor text with FILE
  :edit          Type new editor text, end with a line holding only "."
  :run           Run the selected editor
  :show          Print the editor text, state and output
  :list          List editors and their state
  :export [DIR]  Export the editor text (default: configured sink)
  :quit          Exit

While the selected editor is running, any other line is sent to it as
input. Output of other editors is prefixed with their id.`,
	Args:         cobra.NoArgs,
	RunE:         runConsole,
	SilenceUsage: true,
}

func init() {
	consoleCmd.Flags().StringSlice("instances", nil, "Editor instance ids (default 1,2,3)")
	consoleCmd.Flags().String("history", "", "History file path (default: ~/.runlink_history)")
	rootCmd.AddCommand(consoleCmd)
}

// sinkFunc returns the sink for an :export and the key to store under.
// dir is the optional command argument.
type sinkFunc func(ctx context.Context, dir string) (export.Sink, string, error)

type console struct {
	ws      *workspace
	out     io.Writer
	sinkFor sinkFunc

	mu      sync.Mutex
	current string

	editing   bool
	draft     strings.Builder
	setPrompt func(string)
}

func newConsole(ws *workspace, out io.Writer, sinkFor sinkFunc) *console {
	c := &console{ws: ws, out: out, sinkFor: sinkFor, setPrompt: func(string) {}}
	if ids := ws.ids(); len(ids) > 0 {
		c.current = ids[0]
	}
	return c
}

func (c *console) selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *console) prompt() string {
	if c.editing {
		return "... "
	}
	return fmt.Sprintf("[%s]> ", c.selected())
}

// observe prints session output as it arrives. It runs under the
// manager's lock and must not call back into the workspace.
func (c *console) observe(u session.Update) {
	if u.Echo {
		return
	}
	if u.Chunk != "" {
		if u.Owner != c.selected() {
			fmt.Fprintf(c.out, "[%s] %s", u.Owner, u.Chunk)
		} else {
			fmt.Fprint(c.out, u.Chunk)
		}
	}
	if u.State == session.StateEnded {
		fmt.Fprintln(c.out)
	}
}

// handle executes one console line and reports whether to quit.
func (c *console) handle(ctx context.Context, line string) bool {
	if c.editing {
		c.editLine(line)
		return false
	}

	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, ":") {
		c.input(ctx, line)
		return false
	}

	name, arg, _ := strings.Cut(trimmed[1:], " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "use":
		c.use(arg)
	case "load":
		c.load(arg)
	case "edit":
		c.editing = true
		c.draft.Reset()
		c.setPrompt(c.prompt())
	case "run":
		if err := c.ws.run(ctx, c.selected()); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	case "show":
		c.show()
	case "list":
		c.list()
	case "export":
		c.export(ctx, arg)
	case "quit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "unknown command :%s\n", name)
	}
	return false
}

func (c *console) editLine(line string) {
	if strings.TrimSpace(line) != "." {
		c.draft.WriteString(line)
		c.draft.WriteByte('\n')
		return
	}

	c.editing = false
	c.setPrompt(c.prompt())
	buf, ok := c.ws.get(c.selected())
	if !ok {
		fmt.Fprintf(c.out, "Error: editor %s is gone\n", c.selected())
		return
	}
	buf.SetText(c.draft.String())
	c.draft.Reset()
}

func (c *console) input(ctx context.Context, line string) {
	id := c.selected()
	err := c.ws.manager.SubmitInput(ctx, id, line)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotStreaming):
		if strings.TrimSpace(line) != "" {
			fmt.Fprintf(c.out, "editor %s is not running (:edit then :run)\n", id)
		}
	default:
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

func (c *console) use(id string) {
	if id == "" {
		fmt.Fprintln(c.out, "usage: :use N")
		return
	}
	if _, ok := c.ws.get(id); !ok {
		fmt.Fprintf(c.out, "no editor %q (have %s)\n", id, strings.Join(c.ws.ids(), ", "))
		return
	}
	c.mu.Lock()
	c.current = id
	c.mu.Unlock()
	c.setPrompt(c.prompt())
}

func (c *console) load(path string) {
	if path == "" {
		fmt.Fprintln(c.out, "usage: :load FILE")
		return
	}
	buf, ok := c.ws.get(c.selected())
	if !ok {
		fmt.Fprintf(c.out, "Error: editor %s is gone\n", c.selected())
		return
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	defer f.Close()
	if err := buf.Load(f); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}

func (c *console) show() {
	id := c.selected()
	buf, ok := c.ws.get(id)
	if !ok {
		fmt.Fprintf(c.out, "Error: editor %s is gone\n", id)
		return
	}
	snap, err := c.ws.manager.Snapshot(id)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}

	fmt.Fprintf(c.out, "editor %s (%s, %s, run %d)\n", id, buf.Config().Mode, snap.State, snap.Runs)
	fmt.Fprintln(c.out, "--- source ---")
	fmt.Fprint(c.out, buf.Text())
	if text := buf.Text(); text != "" && !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(c.out)
	}
	fmt.Fprintln(c.out, "--- output ---")
	fmt.Fprintln(c.out, snap.Output)
}

func (c *console) list() {
	current := c.selected()
	for _, id := range c.ws.ids() {
		snap, err := c.ws.manager.Snapshot(id)
		if err != nil {
			continue
		}
		mark := " "
		if id == current {
			mark = "*"
		}
		fmt.Fprintf(c.out, "%s %s\t%s\n", mark, id, snap.State)
	}
}

func (c *console) export(ctx context.Context, dir string) {
	sink, key, err := c.sinkFor(ctx, dir)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	loc, err := c.ws.export(ctx, sink, c.selected(), key)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "exported to %s\n", loc)
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lang, _ := cmd.Flags().GetString("lang")
	language, err := getLanguage(lang, "", cfg.Language)
	if err != nil {
		return err
	}

	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".runlink_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	// The observer is registered before the console exists.
	var c *console
	var ready sync.WaitGroup
	ready.Add(1)
	observer := func(u session.Update) {
		ready.Wait()
		c.observe(u)
	}

	rt, err := newRuntime(cfg, language, cfg.Instances, session.WithObserver(observer))
	if err != nil {
		ready.Done()
		return err
	}
	defer rt.close()

	sinkFor := func(ctx context.Context, dir string) (export.Sink, string, error) {
		if dir != "" {
			sink, err := export.NewLocalSink(dir)
			return sink, export.FileName(language), err
		}
		sink, err := newSink(ctx, cfg.Export)
		return sink, "", err
	}

	c = newConsole(newWorkspace(language, rt.manager), rl.Stdout(), sinkFor)
	c.setPrompt = rl.SetPrompt
	ready.Done()
	rl.SetPrompt(c.prompt())

	ctx := cmd.Context()
	rt.waitConnected(ctx, cfg.ConnectTimeout)

	fmt.Fprintf(rl.Stderr(), "runlink %s console, editors %s (:quit or Ctrl+D to exit)\n",
		language.Name(), strings.Join(rt.manager.Instances(), ", "))

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if c.editing {
					c.editing = false
					c.draft.Reset()
					rl.SetPrompt(c.prompt())
				}
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(rl.Stdout())
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		if c.handle(ctx, line) {
			return nil
		}
	}
}
