// Package main provides the entry point for MacProx.
// MacProx routes all traffic through an SSH server by supervising a single
// sshuttle tunnel, with a terminal UI and a command-line interface.
//
// Features:
//   - One managed tunnel with a startup liveness probe
//   - Password authentication through a short-lived askpass helper
//   - Saved passwords in the system keyring
//   - Connection history and desktop notifications
//
// Usage:
//
//	macprox [options]
//
// Environment:
//
//	The application requires sshuttle and ssh to be installed on the system.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/yllada/macprox/cli"
	"github.com/yllada/macprox/common"
	"github.com/yllada/macprox/config"
	"github.com/yllada/macprox/history"
	"github.com/yllada/macprox/keyring"
	"github.com/yllada/macprox/notify"
	"github.com/yllada/macprox/tunnel"
	"github.com/yllada/macprox/ui"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	// General flags
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")
	configPath  = flag.String("config", "", "Use an alternate configuration file")
	useTUI      = flag.Bool("tui", false, "Launch the terminal UI")

	// Connection flags
	host     = flag.String("host", "", "SSH server to tunnel through")
	port     = flag.String("port", "", "SSH port (default 22)")
	user     = flag.String("user", "", "SSH username")
	label    = flag.String("label", "", "Display name for the connection")
	pwStdin  = flag.Bool("password-stdin", false, "Read the SSH password from stdin")
	askPw    = flag.Bool("ask-password", false, "Prompt for the SSH password")
	useSaved = flag.Bool("use-saved", false, "Use the saved password")
	savePw   = flag.Bool("save-password", false, "Save the password after connecting")
	forgetPw = flag.Bool("forget-password", false, "Remove the saved password")

	// Query flags
	showStatus  = flag.Bool("status", false, "Show the last tunnel status")
	showHistory = flag.Int("history", 0, "Show the last N tunnel events")
)

func main() {
	flag.Parse()

	// Handle help flag
	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}

	// Handle version flag
	if *showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	cfgFile, cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tuiMode := *useTUI || (*host == "" && !*showStatus && *showHistory == 0)

	// Initialize logger with file output
	logLevel := common.ParseLogLevel(cfg.LogLevel)
	if *verbose {
		logLevel = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:      logLevel,
		EnableFile: cfg.LogToFile || tuiMode,
		// The alternate screen owns the terminal.
		Quiet: tuiMode,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	// Setup graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfgFile, cfg, tuiMode)
	stop()
	common.CloseLogger()
	os.Exit(code)
}

func run(ctx context.Context, cfgFile string, cfg *config.Config, tuiMode bool) int {
	statuses := tunnel.NewChanSink(32)
	broadcaster := tunnel.NewBroadcaster(statuses)

	store := openHistory(ctx, cfg)
	if store != nil {
		defer store.Close()
		sink := history.NewSink(store, 0)
		defer sink.Close()
		broadcaster.Add(sink)
	}

	if cfg.ShowNotifications {
		if n, err := notify.NewDBusNotifier(); err != nil {
			common.LogDebug("Desktop notifications unavailable: %v", err)
		} else {
			sink := notify.NewSink(n)
			defer sink.Close()
			broadcaster.Add(sink)
		}
	}

	ctrl := tunnel.NewController(tunnel.Options{
		Config:   cfg,
		Reporter: broadcaster,
		Spawner:  tunnel.ExecSpawner{TailLines: common.StderrTailLines},
	})
	defer ctrl.Wait()

	if cfgFile != "" {
		if err := config.Watch(ctx, cfgFile, ctrl.SetConfig); err != nil {
			common.LogWarn("Config watching disabled: %v", err)
		}
	}

	cliApp := cli.New(ctrl, cli.Deps{
		Credentials: keyring.Default(),
		History:     historyReader(store),
		Statuses:    statuses.C,
	})

	switch {
	case *showStatus:
		return exitCode(cliApp.Status(ctx))
	case *showHistory > 0:
		return exitCode(cliApp.History(ctx, *showHistory))
	case *forgetPw:
		return exitCode(cliApp.ForgetPassword(connectOptions()))
	}

	if !checkSshuttleInstalled(cfg.Tunnel.Program) {
		common.LogError("%s is not installed on the system", cfg.Tunnel.Program)
		fmt.Fprintf(os.Stderr, "Error: %s is not installed on the system.\n", cfg.Tunnel.Program)
		return 1
	}

	if tuiMode {
		app := ui.New(ctx, appVersion, ctrl, statuses.C, ui.Defaults{
			Label:    *label,
			Host:     *host,
			Port:     *port,
			Username: *user,
		})
		if err := app.Run(); err != nil {
			common.LogError("Terminal UI failed: %v", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	return exitCode(cliApp.Connect(ctx, connectOptions()))
}

func connectOptions() cli.ConnectOptions {
	return cli.ConnectOptions{
		Label:         *label,
		Host:          *host,
		Port:          *port,
		Username:      *user,
		PasswordStdin: *pwStdin,
		AskPassword:   *askPw,
		UseSaved:      *useSaved,
		SavePassword:  *savePw,
	}
}

// loadConfig loads path, or the default file when path is empty. A
// configuration that cannot be written falls back to defaults in memory.
func loadConfig(path string) (string, *config.Config, error) {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return "", config.DefaultConfig(), nil
		}
		path = p
	}
	cfg, err := config.LoadFile(path)
	if err != nil && cfg == nil {
		return "", nil, err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not save default configuration: %v\n", err)
		return "", cfg, nil
	}
	return path, cfg, nil
}

// openHistory opens the event store when history is enabled and prunes old
// events. Failures only disable history.
func openHistory(ctx context.Context, cfg *config.Config) *history.Store {
	if !cfg.History {
		return nil
	}
	path, err := history.DefaultPath()
	if err != nil {
		common.LogWarn("History disabled: %v", err)
		return nil
	}
	store, err := history.Open(ctx, path)
	if err != nil {
		common.LogWarn("History disabled: %v", err)
		return nil
	}
	cutoff := time.Now().Add(-common.HistoryRetention)
	if n, err := store.Prune(ctx, cutoff); err != nil {
		common.LogDebug("History prune failed: %v", err)
	} else if n > 0 {
		common.LogDebug("Pruned %d old history events", n)
	}
	return store
}

// historyReader keeps a nil store from becoming a non-nil interface.
func historyReader(store *history.Store) cli.HistoryReader {
	if store == nil {
		return nil
	}
	return store
}

func exitCode(err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// checkSshuttleInstalled verifies that the tunnel program is available on
// the system PATH.
func checkSshuttleInstalled(program string) bool {
	_, err := exec.LookPath(program)
	return err == nil
}
