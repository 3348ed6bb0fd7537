package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/runlink/executor"
	"github.com/caffeineduck/runlink/internal/config"
	"github.com/caffeineduck/runlink/internal/logger"
	"github.com/caffeineduck/runlink/language/javascript"
	"github.com/caffeineduck/runlink/language/python"
	"github.com/caffeineduck/runlink/pushchan"
	"github.com/caffeineduck/runlink/session"
)

var rootCmd = &cobra.Command{
	Use:   "runlink [file]",
	Short: "Client for a remote code execution backend",
	Long: `runlink - Run Python and JavaScript on a remote execution backend.

Code is posted to the backend's run endpoint. Output streams back over a
shared Socket.IO push channel, and lines typed while a program runs are
forwarded to it as standard input.`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          runRun, // Default to run command behavior
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().String("base-url", "", "Backend base URL (default http://localhost:8000)")
	rootCmd.PersistentFlags().String("socket-url", "", "Push channel base URL (default: base URL)")
	rootCmd.PersistentFlags().String("socket-path", "", "Push channel path (default /ws/socket.io)")
	rootCmd.PersistentFlags().StringP("lang", "l", "", "Language: python, js (default: from file or config)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "Run request timeout (default 30s)")
	rootCmd.PersistentFlags().Duration("connect-timeout", 0, "Wait for the push channel before running, 0 to skip (default 10s)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console, json")

	addRunFlags(rootCmd)
}

// loadConfig layers command-line flags over the file and environment config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("socket-url") {
		cfg.SocketURL, _ = flags.GetString("socket-url")
	}
	if flags.Changed("socket-path") {
		cfg.SocketPath, _ = flags.GetString("socket-path")
	}
	if flags.Changed("lang") {
		cfg.Language, _ = flags.GetString("lang")
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout, _ = flags.GetDuration("connect-timeout")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Lookup("instances") != nil && flags.Changed("instances") {
		cfg.Instances, _ = flags.GetStringSlice("instances")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// getLanguage picks the language from the flag, then the file extension,
// then the configured default.
func getLanguage(langFlag, filename, fallback string) (executor.Language, error) {
	lang := langFlag

	if lang == "" && filename != "" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".py":
			lang = "python"
		case ".js", ".mjs":
			lang = "js"
		}
	}
	if lang == "" {
		lang = fallback
	}

	switch lang {
	case "js", "javascript":
		return javascript.New(), nil
	case "python", "py":
		return python.New(), nil
	default:
		return nil, fmt.Errorf("unknown language %q: use python or js", lang)
	}
}

// runtime is the shared client stack behind every command: one run client,
// one push channel and one session manager.
type runtime struct {
	cfg     *config.Config
	log     zerolog.Logger
	lang    executor.Language
	client  *executor.Client
	channel *pushchan.Channel
	manager *session.Manager

	closeLog func() error
}

func newRuntime(cfg *config.Config, lang executor.Language, instances []string, opts ...session.Option) (*runtime, error) {
	log, closeLog, err := logger.Init(cfg.Log)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, log: log, lang: lang, closeLog: closeLog}

	rt.client, err = executor.New(cfg.BaseURL, lang,
		executor.WithTimeout(cfg.RequestTimeout),
		executor.WithLogger(log.With().Str("component", "executor").Logger()),
	)
	if err != nil {
		rt.close()
		return nil, err
	}

	rt.channel, err = pushchan.Open(cfg.SocketBase(),
		pushchan.WithPath(cfg.SocketPath),
		pushchan.WithReconnectDelay(cfg.Reconnect.Initial, cfg.Reconnect.Max, cfg.Reconnect.MaxElapsed),
		pushchan.WithLogger(log.With().Str("component", "pushchan").Logger()),
	)
	if err != nil {
		rt.close()
		return nil, err
	}

	opts = append([]session.Option{
		session.WithInstances(instances...),
		session.WithLogger(log.With().Str("component", "session").Logger()),
	}, opts...)
	rt.manager, err = session.NewManager(rt.client, rt.channel, opts...)
	if err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

// waitConnected gives the push channel a chance to connect before a run so
// the backend can route output from the first line on. Runs still work
// without it because associations are queued. A zero timeout skips the wait.
func (rt *runtime) waitConnected(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rt.channel.WaitConnected(ctx); err != nil {
		rt.log.Warn().Err(err).Msg("push channel not connected yet, continuing")
	}
}

func (rt *runtime) close() {
	if rt.manager != nil {
		rt.manager.Close()
	}
	if rt.channel != nil {
		rt.channel.Close()
	}
	if rt.closeLog != nil {
		rt.closeLog()
	}
}
