package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/The-Promised-Neverland/poller/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPeer serves exactly one connection with handle and reports what the
// handler returned on the result channel.
func startPeer[T any](t *testing.T, handle func(conn *net.TCPConn) T) (string, <-chan T) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan T, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		out <- handle(conn.(*net.TCPConn))
	}()
	return ln.Addr().String(), out
}

type ackResult struct {
	ack byte
	err error
}

func servePayload(payload []byte) func(conn *net.TCPConn) ackResult {
	return func(conn *net.TCPConn) ackResult {
		if err := protocol.WriteLength(conn, uint32(len(payload))); err != nil {
			return ackResult{err: err}
		}
		if _, err := conn.Write(payload); err != nil {
			return ackResult{err: err}
		}
		var b [1]byte
		if _, err := io.ReadFull(conn, b[:]); err != nil {
			return ackResult{err: err}
		}
		return ackResult{ack: b[0]}
	}
}

func receiveWithTimeout(t *testing.T, r *Receiver) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Receive(ctx)
}

func dirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func TestReceive_PayloadSizes(t *testing.T) {
	for _, size := range []int{1, 1023, 1024, 1025, 70000} {
		payload := make([]byte, size)
		_, err := rand.Read(payload)
		require.NoError(t, err)

		tempDir := t.TempDir()
		addr, peer := startPeer(t, servePayload(payload))

		res := receiveWithTimeout(t, NewReceiver(addr, tempDir))
		require.Equal(t, StatusReceived, res.Status, "size %d: %v", size, res.Err)
		assert.Equal(t, int64(size), res.Size)
		assert.Equal(t, tempDir, filepath.Dir(res.Path))
		assert.Regexp(t, `^IS-.*\.md$`, filepath.Base(res.Path))

		got, err := os.ReadFile(res.Path)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(payload, got), "size %d: content mismatch", size)

		ack := <-peer
		require.NoError(t, ack.err)
		assert.Equal(t, protocol.AckSuccess, ack.ack)
	}
}

func TestReceive_ZeroLengthMeansEmpty(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "spool")
	addr, peer := startPeer(t, func(conn *net.TCPConn) error {
		if err := protocol.WriteLength(conn, 0); err != nil {
			return err
		}
		var b [1]byte
		_, err := conn.Read(b[:])
		return err
	})

	res := receiveWithTimeout(t, NewReceiver(addr, tempDir))
	assert.Equal(t, StatusEmpty, res.Status)
	assert.Empty(t, res.Path)

	// client closes without sending an acknowledgment
	assert.ErrorIs(t, <-peer, io.EOF)
	assert.Empty(t, dirEntries(t, tempDir))
}

func TestReceive_TruncatedLengthMeansEmpty(t *testing.T) {
	tempDir := t.TempDir()
	addr, peer := startPeer(t, func(conn *net.TCPConn) error {
		_, err := conn.Write([]byte{0x05, 0x00})
		return err
	})

	res := receiveWithTimeout(t, NewReceiver(addr, tempDir))
	assert.Equal(t, StatusEmpty, res.Status)
	require.NoError(t, <-peer)
	assert.Empty(t, dirEntries(t, tempDir))
}

func TestReceive_PeerDisconnectsMidPayload(t *testing.T) {
	tempDir := t.TempDir()
	addr, peer := startPeer(t, func(conn *net.TCPConn) ackResult {
		if err := protocol.WriteLength(conn, 100); err != nil {
			return ackResult{err: err}
		}
		if _, err := conn.Write(bytes.Repeat([]byte{'x'}, 10)); err != nil {
			return ackResult{err: err}
		}
		if err := conn.CloseWrite(); err != nil {
			return ackResult{err: err}
		}
		var b [1]byte
		if _, err := io.ReadFull(conn, b[:]); err != nil {
			return ackResult{err: err}
		}
		return ackResult{ack: b[0]}
	})

	res := receiveWithTimeout(t, NewReceiver(addr, tempDir))
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, io.ErrUnexpectedEOF)

	ack := <-peer
	require.NoError(t, ack.err)
	assert.Equal(t, protocol.AckFailure, ack.ack)
	assert.Empty(t, dirEntries(t, tempDir), "partial file must be deleted")
}

// brokenFile accepts limit bytes and then fails every write.
type brokenFile struct {
	f     *os.File
	limit int
}

func (b *brokenFile) Write(p []byte) (int, error) {
	if len(p) > b.limit {
		n, _ := b.f.Write(p[:b.limit])
		b.limit = 0
		return n, errors.New("no space left on device")
	}
	b.limit -= len(p)
	return b.f.Write(p)
}

func (b *brokenFile) Close() error { return b.f.Close() }
func (b *brokenFile) Name() string { return b.f.Name() }

func TestReceive_LocalWriteFailureSendsNack(t *testing.T) {
	tempDir := t.TempDir()
	payload := bytes.Repeat([]byte("payload"), 100)
	addr, peer := startPeer(t, servePayload(payload))

	r := NewReceiver(addr, tempDir)
	var opened *brokenFile
	r.openTemp = func(dir string) (tempFile, error) {
		f, err := os.CreateTemp(dir, transferPrefix)
		if err != nil {
			return nil, err
		}
		opened = &brokenFile{f: f, limit: 5}
		return opened, nil
	}

	res := receiveWithTimeout(t, r)
	assert.Equal(t, StatusFailed, res.Status)
	require.NotNil(t, opened)
	assert.NoFileExists(t, opened.Name())

	ack := <-peer
	require.NoError(t, ack.err)
	assert.Equal(t, protocol.AckFailure, ack.ack)
	assert.Empty(t, dirEntries(t, tempDir))
}

func TestReceive_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	res := receiveWithTimeout(t, NewReceiver(addr, t.TempDir()))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Error(t, res.Err)
}

func TestReceive_CancelledContextAbortsDial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewReceiver("127.0.0.1:1", t.TempDir()).Receive(ctx)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Error(t, res.Err)
}

func TestReceive_ClosesConnection(t *testing.T) {
	tempDir := t.TempDir()
	addr, peer := startPeer(t, func(conn *net.TCPConn) error {
		if err := protocol.WriteLength(conn, 3); err != nil {
			return err
		}
		if _, err := conn.Write([]byte("abc")); err != nil {
			return err
		}
		// ack byte, then EOF once the client has closed its side
		buf, err := io.ReadAll(conn)
		if err != nil {
			return err
		}
		if !bytes.Equal(buf, []byte{protocol.AckSuccess}) {
			return errors.New("unexpected trailing bytes")
		}
		return nil
	})

	res := receiveWithTimeout(t, NewReceiver(addr, tempDir))
	require.Equal(t, StatusReceived, res.Status)
	select {
	case err := <-peer:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("peer never observed the connection closing")
	}
}

func TestReceive_TempFileErrorSendsNack(t *testing.T) {
	addr, peer := startPeer(t, func(conn *net.TCPConn) ackResult {
		// only the length: the client never gets as far as reading a body
		if err := protocol.WriteLength(conn, 5); err != nil {
			return ackResult{err: err}
		}
		var b [1]byte
		if _, err := io.ReadFull(conn, b[:]); err != nil {
			return ackResult{err: err}
		}
		return ackResult{ack: b[0]}
	})

	r := NewReceiver(addr, t.TempDir())
	r.openTemp = func(string) (tempFile, error) {
		return nil, errors.New("read-only file system")
	}

	res := receiveWithTimeout(t, r)
	assert.Equal(t, StatusFailed, res.Status)
	assert.EqualError(t, res.Err, "read-only file system")

	ack := <-peer
	require.NoError(t, ack.err)
	assert.Equal(t, protocol.AckFailure, ack.ack)
}

func TestReceive_AckWriteFailureDeletesFile(t *testing.T) {
	tempDir := t.TempDir()
	addr, peer := startPeer(t, func(conn *net.TCPConn) error {
		if err := protocol.WriteLength(conn, 4); err != nil {
			return err
		}
		if _, err := conn.Write([]byte("data")); err != nil {
			return err
		}
		// nothing arrives: the client's write half is already shut
		rest, err := io.ReadAll(conn)
		if err != nil {
			return err
		}
		if len(rest) != 0 {
			return errors.New("acknowledgment sent on a closed write half")
		}
		return nil
	})

	r := NewReceiver(addr, tempDir)
	dial := r.dial
	r.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		conn, err := dial(ctx, network, address)
		if err != nil {
			return nil, err
		}
		if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}

	res := receiveWithTimeout(t, r)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorContains(t, res.Err, "acknowledgment")
	assert.Empty(t, dirEntries(t, tempDir), "received file must be deleted when the ack cannot be sent")
	require.NoError(t, <-peer)
}
