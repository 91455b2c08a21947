package policy

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/The-Promised-Neverland/poller/internal/config"
)

type ServicePolicy interface {
	ConfigureAutoStart() error
	ConfigureRestartPolicy() error
}

func NewServicePolicy(cfg *config.Config) (ServicePolicy, error) {
	switch runtime.GOOS {
	case "windows":
		return NewWindowsPolicy(cfg), nil
	case "linux":
		return NewLinuxPolicy(cfg), nil
	case "darwin":
		return NewDarwinPolicy(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

type envVar struct {
	Key   string
	Value string
}

// serviceEnvironment pins the settings seen at install time, since the
// service manager does not start the binary from the .env directory.
func serviceEnvironment(cfg *config.Config) []envVar {
	unpack := "no"
	if cfg.UnpackArchives() {
		unpack = "yes"
	}
	return []envVar{
		{"PEER_URL", cfg.PeerAddr()},
		{"UNPACK_ARCHIVES", unpack},
		{"POLL_INTERVAL_MS", strconv.FormatInt(cfg.PollInterval().Milliseconds(), 10)},
		{"TEMP_DIR", cfg.TempDir()},
		{"INBOX_DIR", cfg.InboxDir()},
		{"LOG_FILE", cfg.LogFile()},
		{"LOG_LEVEL", cfg.LogLevel()},
	}
}
