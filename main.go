package main

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"diagpane/config"
	"diagpane/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "diagpane",
	Short: "Corner diagnostics overlay for Neovim",
	Long: `diagpane renders Neovim diagnostics in a single floating overlay
anchored to a corner of the editor. Run without arguments it acts as the
RPC endpoint Neovim spawns: it ensures the daemon is running and relays
stdio to its socket.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient()
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		if running, pid := isDaemonRunning(); running {
			color.Green("diagpane daemon running (pid %d)", pid)
		} else {
			color.Red("diagpane daemon not running")
		}
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running daemon",
	Run: func(cmd *cobra.Command, args []string) {
		running, pid := isDaemonRunning()
		if !running {
			color.Yellow("diagpane daemon not running")
			return
		}
		process, err := os.FindProcess(pid)
		if err == nil {
			err = process.Signal(syscall.SIGTERM)
		}
		if err != nil {
			color.Red("could not stop pid %d: %v", pid, err)
			return
		}
		color.Green("stopped daemon (pid %d)", pid)
	},
}

func main() {
	rootCmd.AddCommand(daemonCmd, statusCmd, stopCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon() error {
	cfg := loadConfig()

	lg := setupLogger(cfg.LogLevel)
	defer lg.Close()

	daemon, err := NewDaemon(cfg)
	if err != nil {
		return err
	}
	return daemon.Start()
}

func runClient() error {
	client := NewClient()

	if err := client.EnsureDaemonRunning(); err != nil {
		return err
	}
	return client.Connect()
}

// loadConfig resolves defaults, the optional TOML file next to the
// executable, and the JSON overrides Neovim serializes into the
// environment, in that order.
func loadConfig() *config.Config {
	fileJSON, err := config.LoadFileJSON(configFilePath())
	if err != nil {
		logger.Warn("ignoring config file: %v", err)
		fileJSON = nil
	}

	cfg, err := config.Normalize(fileJSON, []byte(os.Getenv("DIAGPANE_CONFIG")))
	if err != nil {
		logger.Fatal("invalid config: %v", err)
	}

	logger.Info("config: %+v", cfg)
	return cfg
}

// setupLogger logs to a bounded file in the same directory as the
// executable, archiving trimmed lines next to it.
// Caller must defer Close().
func setupLogger(logLevel string) *logger.LimitedLogger {
	logPath := filepath.Join(execDir(), "diagpane.log")

	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		logger.Fatal("error opening log file: %v", err)
	}

	return logger.NewLimitedLogger(f, logPath+".br", logger.ParseLogLevel(logLevel))
}

func execDir() string {
	execPath, err := os.Executable()
	if err != nil {
		logger.Fatal("error getting executable path: %v", err)
	}
	return filepath.Dir(execPath)
}

func socketPath() string {
	return filepath.Join(execDir(), "diagpane.sock")
}

func pidPath() string {
	return filepath.Join(execDir(), "diagpane.pid")
}

func configFilePath() string {
	return filepath.Join(execDir(), "diagpane.toml")
}

func isDaemonRunning() (bool, int) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	// On Unix, Signal(0) checks if the process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil, pid
}
