// Package dispatch holds the local consumer that received files are handed to.
package dispatch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/The-Promised-Neverland/poller/pkg/logger"
)

// Inbox moves each delivered file into a directory under a unique name.
type Inbox struct {
	dir       string
	now       func() time.Time
	delivered atomic.Int64
}

func NewInbox(dir string) *Inbox {
	return &Inbox{dir: dir, now: time.Now}
}

func (in *Inbox) Dir() string {
	return in.dir
}

// Prepare creates the inbox directory.
func (in *Inbox) Prepare() error {
	if err := os.MkdirAll(in.dir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}
	return nil
}

// Deliver takes ownership of path. On failure the file stays where it was.
func (in *Inbox) Deliver(path string) {
	target, err := in.move(path)
	if err != nil {
		logger.Log.Error("Failed to deliver file to inbox", "path", path, "inbox", in.dir, "err", err)
		return
	}
	in.delivered.Add(1)
	logger.Log.Info("File delivered", "from", path, "to", target)
}

func (in *Inbox) Delivered() int64 {
	return in.delivered.Load()
}

func (in *Inbox) move(path string) (string, error) {
	if err := in.Prepare(); err != nil {
		return "", err
	}
	target, err := in.claimName(filepath.Base(path))
	if err != nil {
		return "", err
	}
	if err := os.Rename(path, target); err == nil {
		return target, nil
	}
	// rename fails across filesystems; copy instead
	if err := copyFile(path, target); err != nil {
		_ = os.Remove(target)
		return "", err
	}
	if err := os.Remove(path); err != nil {
		logger.Log.Warn("Delivered copy but could not remove source", "path", path, "err", err)
	}
	return target, nil
}

// maxNameAttempts bounds how many taken names claimName steps past.
const maxNameAttempts = 1000

// claimName reserves <stamp>-<base> in the inbox by creating it empty, stepping
// the stamp past names already taken. The caller replaces or removes it.
func (in *Inbox) claimName(base string) (string, error) {
	stamp := in.now().UnixNano()
	for i := 0; i < maxNameAttempts; i++ {
		target := filepath.Join(in.dir, fmt.Sprintf("%d-%s", stamp+int64(i), base))
		f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			if err := f.Close(); err != nil {
				_ = os.Remove(target)
				return "", fmt.Errorf("failed to reserve inbox name: %w", err)
			}
			return target, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to reserve inbox name: %w", err)
		}
	}
	return "", fmt.Errorf("no free inbox name for %s after %d attempts", base, maxNameAttempts)
}

// copyFile overwrites the already reserved dst with the contents of src.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("failed to open target: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy: %w", err)
	}
	return out.Close()
}
