package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/runlink/session"
)

const runInstance = "run"

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run code on the backend and stream its output",
	Long: `Run Python or JavaScript code on the remote backend.

Code can be provided via:
  - File argument: runlink run script.py
  - Inline flag: runlink run -c 'print(input())'
  - Stdin: echo 'print(1+1)' | runlink run

When code comes from a file or flag, lines read from stdin while the
program runs are sent to it as input.`,
	Args:         cobra.MaximumNArgs(1),
	RunE:         runRun,
	SilenceUsage: true,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
}

// readSource returns the program text and the file it came from, if any.
// ok is false when there is nothing to run.
func readSource(cmd *cobra.Command, args []string) (source, filename string, fromStdin, ok bool, err error) {
	code, _ := cmd.Flags().GetString("code")

	switch {
	case code != "":
		return code, "", false, true, nil
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", false, false, err
		}
		return string(data), args[0], false, true, nil
	}

	in := cmd.InOrStdin()
	if f, isFile := in.(*os.File); isFile {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", "", false, false, nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", "", false, false, err
	}
	if len(data) == 0 {
		return "", "", false, false, nil
	}
	return string(data), "", true, true, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	source, filename, fromStdin, ok, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	if !ok {
		return cmd.Help()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lang, _ := cmd.Flags().GetString("lang")
	language, err := getLanguage(lang, filename, cfg.Language)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	done := make(chan struct{})
	var once sync.Once
	observer := func(u session.Update) {
		if u.Chunk != "" && !u.Echo {
			fmt.Fprint(out, u.Chunk)
		}
		if u.State == session.StateEnded {
			once.Do(func() { close(done) })
		}
	}

	rt, err := newRuntime(cfg, language, []string{runInstance}, session.WithObserver(observer))
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rt.waitConnected(ctx, cfg.ConnectTimeout)

	if err := rt.manager.Run(ctx, runInstance, source); err != nil {
		return err
	}

	if !fromStdin {
		go forwardInput(ctx, rt.manager, cmd.InOrStdin(), cmd.ErrOrStderr())
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Fprintln(out)

	snap, err := rt.manager.Snapshot(runInstance)
	if err != nil {
		return err
	}
	if snap.Failure != "" {
		return errors.New("request failed")
	}
	return nil
}

// forwardInput sends each line of in to the running program.
func forwardInput(ctx context.Context, mgr *session.Manager, in io.Reader, errOut io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		err := mgr.SubmitInput(ctx, runInstance, scanner.Text())
		switch {
		case err == nil:
		case errors.Is(err, session.ErrNotStreaming):
			return
		default:
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}
}
