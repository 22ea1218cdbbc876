// Package main is the entry point for the ncdbg debugger backend.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nitish854/ncdbg/internal/config"
	"github.com/nitish854/ncdbg/internal/debug"
	"github.com/nitish854/ncdbg/internal/frontend"
	"github.com/nitish854/ncdbg/internal/notify"
	"github.com/nitish854/ncdbg/internal/script"
	"github.com/nitish854/ncdbg/internal/target/luavm"
)

var log = logrus.WithField("component", "ncdbg")

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ncdbg",
		Short:        "Debug Adapter Protocol backend for Lua scripts",
		Version:      fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage: true,
	}
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newConfigCmd())
	return cmd
}

type runFlags struct {
	configPath        string
	listen            string
	logLevel          string
	pauseOnExceptions string
	instructionBudget int64
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <script.lua>",
		Short: "Debug a Lua script",
		Long: "Run loads a Lua script into a sandboxed VM and serves Debug Adapter\n" +
			"Protocol sessions for it. The script starts once a client finishes\n" +
			"configuration; execution state survives client reconnects.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebugger(cmd, flags, args[0])
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "ncdbg.json", "path to the configuration file")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "DAP listen address (empty serves one session on stdio)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.pauseOnExceptions, "pause-on-exceptions", "", "initial exception pause mode (never, uncaught, all)")
	cmd.Flags().Int64Var(&flags.instructionBudget, "instruction-budget", 0, "abort the script after this many statements (0 = unlimited)")
	return cmd
}

func runDebugger(cmd *cobra.Command, flags *runFlags, scriptPath string) error {
	settings, err := loadSettings(cmd, flags)
	if err != nil {
		return err
	}
	level, err := logrus.ParseLevel(settings.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	mode, err := debug.ParseExceptionPauseMode(settings.PauseOnExceptions)
	if err != nil {
		return err
	}
	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	hub := notify.NewHub()
	proc := luavm.New(
		luavm.WithConsole(func(line string) { hub.Publish(notify.ConsoleEvent{Line: line}) }),
		luavm.WithInstructionBudget(settings.InstructionBudget),
	)
	if _, err := proc.LoadScript(scriptPath, string(source)); err != nil {
		return err
	}

	registry := script.NewRegistry(script.WithPauseMatcher(isPauseStatement))
	host := debug.New(proc, proc, registry, hub, debug.WithExceptionPauseMode(mode))
	if err := host.Start(); err != nil {
		return err
	}
	defer host.Close()

	server := frontend.New(host, hub, frontend.WithRunner(proc.Run))

	if settings.Listen == "" {
		log.WithField("script", scriptPath).Info("serving one session on stdio")
		return server.ServeConn(stdioConn{})
	}

	ln, err := net.Listen("tcp", settings.Listen)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-signals:
			log.WithField("signal", sig.String()).Info("shutting down")
		case <-host.Done():
			log.Info("debug session over")
		}
		ln.Close()
	}()

	log.WithFields(logrus.Fields{
		"addr":   ln.Addr().String(),
		"script": scriptPath,
	}).Info("listening")
	return server.Serve(ln)
}

// loadSettings reads the configuration file and overlays any flag the
// user set explicitly.
func loadSettings(cmd *cobra.Command, flags *runFlags) (config.Settings, error) {
	settings, err := config.Load(flags.configPath)
	if err != nil {
		return config.Settings{}, err
	}
	fs := cmd.Flags()
	if fs.Changed("listen") {
		settings.Listen = flags.listen
	}
	if fs.Changed("log-level") {
		settings.LogLevel = flags.logLevel
	}
	if fs.Changed("pause-on-exceptions") {
		settings.PauseOnExceptions = flags.pauseOnExceptions
	}
	if fs.Changed("instruction-budget") {
		settings.InstructionBudget = flags.instructionBudget
	}
	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}
	return settings, nil
}

// isPauseStatement reports whether a source line's statement is an
// in-script breakpoint() pause request.
func isPauseStatement(lineText string) bool {
	return strings.HasPrefix(strings.TrimSpace(lineText), "breakpoint(")
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the configuration file, filling in defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := settings.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "ncdbg.json", "path to the configuration file")
	return cmd
}

// stdioConn adapts the process's stdin/stdout pair to the duplex
// stream the session loop expects.
type stdioConn struct{}

func (stdioConn) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdioConn) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdioConn) Close() error                { return nil }
