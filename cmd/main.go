package main

import (
	"fmt"
	"os"

	"github.com/The-Promised-Neverland/poller/internal/config"
	"github.com/The-Promised-Neverland/poller/internal/daemon"
	"github.com/The-Promised-Neverland/poller/internal/service"
	"github.com/The-Promised-Neverland/poller/pkg/logger"
	"github.com/fatih/color"
)

func main() {
	cfg := config.New()
	logger.Init(cfg.LogFile(), cfg.LogLevel())
	for _, w := range cfg.Warnings() {
		logger.Log.Warn("Configuration value rejected", "detail", w)
	}

	app := daemon.NewApplication(cfg, service.NewService(cfg))
	manager := daemon.NewDaemonManager(cfg, app)

	if len(os.Args) > 1 {
		os.Exit(runCommand(manager, os.Args[1]))
	}
	if err := manager.StartDaemon(); err != nil {
		logger.Log.Error("Service failed", "err", err)
		os.Exit(1)
	}
}

func runCommand(manager *daemon.DaemonManager, cmd string) int {
	var err error
	switch cmd {
	case "install":
		err = manager.InstallDaemon()
	case "uninstall":
		err = manager.UninstallDaemon()
	case "restart":
		err = manager.RestartDaemon()
	case "stop":
		err = manager.StopDaemon()
	default:
		color.Yellow("usage: %s [install|uninstall|restart|stop]", os.Args[0])
		return 2
	}
	if err != nil {
		logger.Log.Error("Command failed", "command", cmd, "err", err)
		color.Red("✗ %s failed: %v", cmd, err)
		return 1
	}
	logger.Log.Info("Command completed", "command", cmd)
	fmt.Println(color.GreenString("✓ %s completed", cmd))
	return 0
}
