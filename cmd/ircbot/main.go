package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dalnet/ircbot/internal/actions"
	"github.com/dalnet/ircbot/internal/config"
	"github.com/dalnet/ircbot/internal/irc"
	"github.com/dalnet/ircbot/internal/logger"
	"github.com/dalnet/ircbot/internal/status"
	"github.com/dalnet/ircbot/internal/storage"
)

// Version information - set at build time via ldflags
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

const daemonEnv = "IRCBOT_DAEMON"

func main() {
	foreground := flag.Bool("x", false, "Run in foreground (don't daemonize)")
	configPath := flag.String("c", "./config.yaml", "Path to configuration file")
	showVersion := flag.Bool("v", false, "Show version information and exit")
	showVersionLong := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion || *showVersionLong {
		fmt.Printf("ircbot version %s\n", version)
		fmt.Printf("Built: %s\n", buildDate)
		fmt.Printf("Commit: %s\n", gitCommit)
		os.Exit(0)
	}

	irc.Version = version
	irc.BuildDate = buildDate
	irc.GitCommit = gitCommit

	if !*foreground {
		daemonize()
		return
	}

	if err := writePIDFile(); err != nil {
		log.Printf("Warning: could not write PID file: %v", err)
	}

	run(*configPath)
}

// daemonize re-executes the binary detached from the terminal. The child
// runs with -x so it does not fork again.
func daemonize() {
	if os.Getenv(daemonEnv) == "1" {
		return
	}

	args := append(os.Args[1:], "-x")
	cmd := exec.Command(os.Args[0], args...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to fork: %v", err)
	}
	fmt.Printf("Now becoming a daemon\nMy pid is %d, this has been written to pid.txt\n", cmd.Process.Pid)
	os.Exit(0)
}

func writePIDFile() error {
	return os.WriteFile("pid.txt", []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func run(configPath string) {
	if !filepath.IsAbs(configPath) {
		wd, _ := os.Getwd()
		configPath = filepath.Join(wd, configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	journal, err := storage.OpenJournal(cfg.DataDir)
	if err != nil {
		lg.Fatal("Failed to open command history", err, "data_dir", cfg.DataDir)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	registry := actions.NewRegistry(actions.DefaultWorkers, actions.DefaultQueueSize, lg)
	ctl, err := irc.NewController(cfg, nil, registry, lg)
	if err != nil {
		lg.Fatal("Failed to create IRC client", err)
	}
	client := ctl.Client()
	actions.RegisterCommands(registry, client, cfg.CommandPrefix, journal, lg)
	registry.Start(ctx)

	if cfg.StatusListen != "" {
		srv := status.NewServer(client, lg)
		go func() {
			if err := srv.Serve(ctx, cfg.StatusListen); err != nil {
				lg.Error("Status endpoint stopped", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		lg.Info("Received signal, shutting down", "signal", sig.String())
		if err := client.Quit("Received shutdown signal"); err != nil {
			lg.Warn("QUIT failed", "error", err.Error())
		}
	}()

	lg.Info("Starting", "version", version, "server", cfg.Address(), "nick", cfg.Nick)
	err = ctl.Run(ctx)
	stop()
	if err := registry.Stop(); err != nil {
		lg.Warn("Action workers stopped with error", "error", err.Error())
	}

	switch {
	case errors.Is(err, irc.ErrReconnectExhausted):
		lg.Fatal("Giving up on the server", err)
	case err != nil && !errors.Is(err, context.Canceled):
		lg.Fatal("Connection controller failed", err)
	}
	lg.Info("Shut down cleanly")
}
