package transfer

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/The-Promised-Neverland/poller/internal/protocol"
	"github.com/The-Promised-Neverland/poller/pkg/logger"
)

const (
	transferPrefix = "IS-*.md"
	copyBufferSize = 32 * 1024
)

// tempFile is the part of *os.File the receiver writes through.
type tempFile interface {
	io.Writer
	Close() error
	Name() string
}

// Receiver pulls at most one file per Receive call from the peer.
type Receiver struct {
	addr     string
	tempDir  string
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
	openTemp func(dir string) (tempFile, error)
}

func NewReceiver(addr, tempDir string) *Receiver {
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}
	return &Receiver{
		addr:     addr,
		tempDir:  tempDir,
		dial:     dialer.DialContext,
		openTemp: createTransferFile,
	}
}

func createTransferFile(dir string) (tempFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return os.CreateTemp(dir, transferPrefix)
}

// Receive blocks until the peer answers. The context only bounds the dial;
// once connected the exchange runs to completion without deadlines.
func (r *Receiver) Receive(ctx context.Context) Result {
	conn, err := r.dial(ctx, "tcp", r.addr)
	if err != nil {
		logger.Log.Debug("Poll connection failed", "addr", r.addr, "err", err)
		return Failed(fmt.Errorf("failed to connect to %s: %w", r.addr, err))
	}
	defer closeConn(conn)

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	_ = conn.SetDeadline(time.Time{})

	length := protocol.PollLength(conn)
	if length == 0 {
		return Empty()
	}
	return r.download(conn, length)
}

func (r *Receiver) download(conn net.Conn, length uint32) Result {
	file, err := r.openTemp(r.tempDir)
	if err != nil {
		logger.Log.Warn("Failed to create transfer file", "dir", r.tempDir, "err", err)
		sendNack(conn)
		return Failed(err)
	}
	path := file.Name()

	n, err := protocol.CopyPayload(file, conn, length, make([]byte, copyBufferSize))
	if err != nil {
		logger.Log.Warn("Failed while receiving a file", "path", path, "received", n, "expected", length, "err", err)
		sendNack(conn)
		_ = file.Close()
		removeQuietly(path)
		return Failed(fmt.Errorf("failed to receive payload: %w", err))
	}
	if err := file.Close(); err != nil {
		logger.Log.Warn("Failed to flush transfer file", "path", path, "err", err)
		sendNack(conn)
		removeQuietly(path)
		return Failed(fmt.Errorf("failed to close transfer file: %w", err))
	}
	if err := protocol.WriteAck(conn, true); err != nil {
		logger.Log.Warn("Failed to acknowledge transfer", "path", path, "err", err)
		sendNack(conn)
		removeQuietly(path)
		return Failed(fmt.Errorf("failed to send acknowledgment: %w", err))
	}
	logger.Log.Debug("File received", "path", path, "size", n)
	return Received(path, n)
}

func sendNack(conn net.Conn) {
	if err := protocol.WriteAck(conn, false); err != nil {
		logger.Log.Warn("Unable to send a negative response", "err", err)
	}
}

type readCloser interface{ CloseRead() error }
type writeCloser interface{ CloseWrite() error }

// closeConn releases each half and then the socket. Every step runs even if
// an earlier one failed.
func closeConn(conn net.Conn) {
	if c, ok := conn.(readCloser); ok {
		_ = c.CloseRead()
	}
	if c, ok := conn.(writeCloser); ok {
		_ = c.CloseWrite()
	}
	_ = conn.Close()
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Log.Warn("Failed to delete partial file", "path", path, "err", err)
	}
}
