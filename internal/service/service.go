package service

import (
	"fmt"

	"github.com/The-Promised-Neverland/poller/internal/config"
	"github.com/The-Promised-Neverland/poller/internal/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// MinTempFree is the free space below which the temp directory is reported as low.
const MinTempFree = 64 << 20

type Service struct {
	cfg *config.Config
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		cfg: cfg,
	}
}

// GetHostMetrics collects what it can; metrics that cannot be read stay zero.
func (s *Service) GetHostMetrics() *models.HostMetrics {
	m := &models.HostMetrics{}
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		m.CPUUsage = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		m.MemoryUsage = memStat.UsedPercent
	}
	if diskStat, err := disk.Usage(s.cfg.TempDir()); err == nil {
		m.TempDiskUsage = diskStat.UsedPercent
		m.TempDiskFree = diskStat.Free
	}
	if hostInfo, err := host.Info(); err == nil {
		m.Hostname = hostInfo.Hostname
		m.OS = hostInfo.OS
		m.Uptime = hostInfo.Uptime
	}
	return m
}

// CheckTempSpace fails when the temp directory filesystem is nearly full.
func (s *Service) CheckTempSpace() error {
	usage, err := disk.Usage(s.cfg.TempDir())
	if err != nil {
		return fmt.Errorf("failed to stat temp directory: %w", err)
	}
	if usage.Free < MinTempFree {
		return fmt.Errorf("temp directory %s has only %d bytes free", s.cfg.TempDir(), usage.Free)
	}
	return nil
}
