package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"github.com/The-Promised-Neverland/poller/internal/config"
	"github.com/The-Promised-Neverland/poller/pkg/logger"
	"github.com/The-Promised-Neverland/poller/pkg/policy"
	kardianos "github.com/kardianos/service"
)

type DaemonManager struct {
	cfg       *config.Config
	app       *Application
	appCtx    context.Context
	appCancel context.CancelFunc
	runDone   chan struct{}
	started   atomic.Bool
}

func NewDaemonManager(cfg *config.Config, app *Application) *DaemonManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &DaemonManager{
		cfg:       cfg,
		app:       app,
		appCtx:    ctx,
		appCancel: cancel,
		runDone:   make(chan struct{}),
	}
}

func (m *DaemonManager) newService() (kardianos.Service, error) {
	if m.app == nil {
		return nil, fmt.Errorf("application cannot be nil")
	}
	return kardianos.New(m, &kardianos.Config{
		Name:        m.cfg.ServiceName(),
		DisplayName: m.cfg.ServiceDisplayName(),
		Description: m.cfg.ServiceDescription(),
	})
}

func (m *DaemonManager) Start(s kardianos.Service) error {
	logger.Log.Info("Kardianos starting service", "service", s.String(), "platform", s.Platform())
	if err := m.createWorkDirs(); err != nil {
		return err
	}
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("service already started")
	}
	go func() {
		defer close(m.runDone)
		m.app.Run(m.appCtx)
	}()
	return nil
}

// Stop cancels the application and gives an in-flight transfer stopGrace to
// finish before the process is allowed to exit.
func (m *DaemonManager) Stop(s kardianos.Service) error {
	logger.Log.Info("Kardianos stopping service", "service", m.cfg.ServiceName())
	m.appCancel()
	if !m.started.Load() {
		return nil
	}
	<-m.runDone
	if !m.app.Wait(stopGrace) {
		logger.Log.Warn("Poller still busy after grace period, exiting anyway", "grace", stopGrace)
	}
	return nil
}

func (m *DaemonManager) InstallDaemon() error {
	if err := m.createWorkDirs(); err != nil {
		return err
	}
	s, err := m.newService()
	if err != nil {
		return err
	}
	if err := s.Install(); err != nil {
		if runtime.GOOS == "windows" {
			return fmt.Errorf("failed to install Windows service (requires administrator privileges): %w\nPlease run PowerShell or Command Prompt as Administrator", err)
		}
		return fmt.Errorf("failed to install service: %w", err)
	}
	p, err := policy.NewServicePolicy(m.cfg)
	if err != nil {
		return err
	}
	if err := p.ConfigureAutoStart(); err != nil {
		return fmt.Errorf("failed to configure auto-start: %w", err)
	}
	if err := p.ConfigureRestartPolicy(); err != nil {
		return fmt.Errorf("failed to configure restart policy: %w", err)
	}
	return nil
}

func (m *DaemonManager) UninstallDaemon() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	if err := s.Stop(); err != nil {
		logger.Log.Warn("Service was not running before uninstall", "err", err)
	}
	return s.Uninstall()
}

func (m *DaemonManager) RestartDaemon() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Restart()
}

// StartDaemon runs the service in the foreground, or under the service manager.
func (m *DaemonManager) StartDaemon() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Run()
}

func (m *DaemonManager) StopDaemon() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Stop()
}

// createWorkDirs makes sure the temp and inbox directories exist and are writable.
func (m *DaemonManager) createWorkDirs() error {
	for _, dir := range []string{m.cfg.TempDir(), m.cfg.InboxDir()} {
		if err := ensureWritableDir(dir); err != nil {
			return err
		}
	}
	return nil
}

func ensureWritableDir(dir string) error {
	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", dir)
		}
		testFile := filepath.Join(dir, ".test-write")
		if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
			return fmt.Errorf("directory exists but is not writable: %w", err)
		}
		_ = os.Remove(testFile)
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	logger.Log.Info("Created directory", "path", dir)
	return nil
}
