package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPeerAddr     = "127.0.0.1:7777"
	DefaultPollInterval = 10000 * time.Millisecond
)

// Config holds poller configuration. Fields are unexported to prevent modification.
type Config struct {
	peerAddr           string
	unpackArchives     bool
	pollInterval       time.Duration
	tempDir            string
	inboxDir           string
	heartbeatTimer     time.Duration
	logFile            string
	logLevel           string
	serviceName        string
	serviceDisplayName string
	serviceDescription string
	binaryPath         string
	warnings           []string
}

func defaultBinaryPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(
			os.Getenv("ProgramFiles"),
			"NebulaLink",
			"poller.exe",
		)
	case "darwin", "linux":
		return "/usr/local/bin/nebulalink-poller"
	default:
		return ""
	}
}

// New loads an optional .env file and reads the process environment.
func New() *Config {
	_ = godotenv.Load() // ignore error if .env not found
	return Load(os.Getenv)
}

// Load builds a Config from getenv. Invalid values fall back to defaults and are
// reported through Warnings.
func Load(getenv func(string) string) *Config {
	cfg := &Config{
		peerAddr:       DefaultPeerAddr,
		pollInterval:   DefaultPollInterval,
		heartbeatTimer: 60 * time.Second,
	}

	if raw := strings.TrimSpace(getenv("PEER_URL")); raw != "" {
		addr, err := ParseEndpoint(raw)
		if err != nil {
			cfg.warn("PEER_URL %q ignored: %v", raw, err)
		} else {
			cfg.peerAddr = addr
		}
	}

	cfg.unpackArchives = parseBool(getenv("UNPACK_ARCHIVES"))

	if raw := strings.TrimSpace(getenv("POLL_INTERVAL_MS")); raw != "" {
		ms, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || ms == 0 {
			cfg.warn("POLL_INTERVAL_MS %q ignored, using %s", raw, DefaultPollInterval)
		} else {
			cfg.pollInterval = time.Duration(ms) * time.Millisecond
		}
	}

	heartbeatSec, err := strconv.Atoi(getenv("HEARTBEAT_TIMER"))
	if err == nil && heartbeatSec > 0 {
		cfg.heartbeatTimer = time.Duration(heartbeatSec) * time.Second
	}

	cfg.tempDir = getenv("TEMP_DIR")
	if cfg.tempDir == "" {
		cfg.tempDir = filepath.Join(os.TempDir(), "poller")
	}

	cfg.inboxDir = getenv("INBOX_DIR")
	if cfg.inboxDir == "" {
		cfg.inboxDir = "inbox"
	}

	cfg.logFile = getenv("LOG_FILE")
	if cfg.logFile == "" {
		cfg.logFile = "poller.log"
	}
	cfg.logLevel = getenv("LOG_LEVEL")
	if cfg.logLevel == "" {
		cfg.logLevel = "info"
	}

	cfg.serviceName = getenv("SERVICE_NAME")
	if cfg.serviceName == "" {
		cfg.serviceName = "PromisedNeverlandPoller"
	}

	cfg.serviceDisplayName = getenv("SERVICE_DISPLAY_NAME")
	if cfg.serviceDisplayName == "" {
		cfg.serviceDisplayName = "Promised Neverland Poller"
	}

	cfg.serviceDescription = getenv("SERVICE_DESCRIPTION")
	if cfg.serviceDescription == "" {
		cfg.serviceDescription = "Polls a remote export peer for files and hands them to the local inbox"
	}

	cfg.binaryPath = defaultBinaryPath()
	return cfg
}

// ParseEndpoint accepts host:port or a URL carrying an explicit port and
// returns the host:port to dial.
func ParseEndpoint(raw string) (string, error) {
	hostPort := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("invalid url: %w", err)
		}
		hostPort = u.Host
	}
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return "", fmt.Errorf("expected host:port: %w", err)
	}
	if host == "" {
		return "", fmt.Errorf("missing host")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("invalid port %q", port)
	}
	return net.JoinHostPort(host, port), nil
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "true", "1", "on":
		return true
	default:
		return false
	}
}

func (c *Config) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// Getter methods (immutable from outside)

func (c *Config) PeerAddr() string {
	return c.peerAddr
}

func (c *Config) UnpackArchives() bool {
	return c.unpackArchives
}

func (c *Config) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *Config) TempDir() string {
	return c.tempDir
}

func (c *Config) InboxDir() string {
	return c.inboxDir
}

func (c *Config) HeartbeatTimer() time.Duration {
	return c.heartbeatTimer
}

func (c *Config) LogFile() string {
	return c.logFile
}

func (c *Config) LogLevel() string {
	return c.logLevel
}

func (c *Config) ServiceName() string {
	return c.serviceName
}

func (c *Config) ServiceDisplayName() string {
	return c.serviceDisplayName
}

func (c *Config) ServiceDescription() string {
	return c.serviceDescription
}

func (c *Config) BinaryPath() string {
	return c.binaryPath
}

// Warnings lists values that were rejected while loading.
func (c *Config) Warnings() []string {
	return c.warnings
}
