package policy

import (
	"github.com/The-Promised-Neverland/poller/internal/config"
	"github.com/The-Promised-Neverland/poller/pkg/logger"
	"github.com/The-Promised-Neverland/poller/pkg/utils"
)

type WindowsPolicy struct {
	serviceName string
}

func NewWindowsPolicy(cfg *config.Config) *WindowsPolicy {
	return &WindowsPolicy{
		serviceName: cfg.ServiceName(),
	}
}

func (p *WindowsPolicy) ConfigureAutoStart() error {
	if _, err := utils.RunCommand("sc", p.autoStartArgs()...); err != nil {
		logger.Log.Warn("Failed to configure Windows auto-start", "service", p.serviceName, "err", err)
		return err
	}
	logger.Log.Info("Windows auto-start configured", "service", p.serviceName)
	return nil
}

func (p *WindowsPolicy) ConfigureRestartPolicy() error {
	if _, err := utils.RunCommand("sc", p.restartArgs()...); err != nil {
		logger.Log.Warn("Failed to configure Windows restart policy", "service", p.serviceName, "err", err)
		return err
	}
	logger.Log.Info("Windows restart policy configured", "service", p.serviceName)
	return nil
}

func (p *WindowsPolicy) autoStartArgs() []string {
	return []string{"config", p.serviceName, "start=", "delayed-auto"}
}

// restart three times, five seconds apart; the failure count resets daily
func (p *WindowsPolicy) restartArgs() []string {
	return []string{
		"failure", p.serviceName,
		"actions=restart/5000/restart/5000/restart/5000",
		"reset=86400",
	}
}
