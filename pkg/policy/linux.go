package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/The-Promised-Neverland/poller/internal/config"
	"github.com/The-Promised-Neverland/poller/pkg/logger"
	"github.com/The-Promised-Neverland/poller/pkg/utils"
)

type LinuxPolicy struct {
	serviceName string
	description string
	binaryPath  string
	env         []envVar
}

func NewLinuxPolicy(cfg *config.Config) *LinuxPolicy {
	return &LinuxPolicy{
		serviceName: cfg.ServiceName(),
		description: cfg.ServiceDescription(),
		binaryPath:  cfg.BinaryPath(),
		env:         serviceEnvironment(cfg),
	}
}

func (p *LinuxPolicy) ConfigureAutoStart() error {
	unitPath := filepath.Join(
		"/etc/systemd/system",
		p.serviceName+".service",
	)
	if err := os.WriteFile(p.envPath(), []byte(p.envContent()), 0640); err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(p.unitContent()), 0644); err != nil {
		return err
	}
	_, _ = utils.RunCommand("systemctl", "daemon-reload")
	_, _ = utils.RunCommand("systemctl", "enable", p.serviceName)
	logger.Log.Info("systemd unit installed", "path", unitPath)
	return nil
}

func (p *LinuxPolicy) ConfigureRestartPolicy() error {
	logger.Log.Info("systemd restart policy enforced via unit")
	return nil
}

func (p *LinuxPolicy) envPath() string {
	return filepath.Join("/etc", p.serviceName+".env")
}

func (p *LinuxPolicy) envContent() string {
	var b strings.Builder
	for _, v := range p.env {
		fmt.Fprintf(&b, "%s=%s\n", v.Key, v.Value)
	}
	return b.String()
}

func (p *LinuxPolicy) unitContent() string {
	return fmt.Sprintf(`[Unit]
Description=%s
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
EnvironmentFile=-%s
ExecStart=%s
Restart=always
RestartSec=5
KillSignal=SIGTERM
TimeoutStopSec=30
LimitNOFILE=65536
NoNewPrivileges=true
ProtectHome=true

[Install]
WantedBy=multi-user.target
`, p.description, p.envPath(), p.binaryPath)
}
