// Package protocol implements the polling transfer wire format:
// a 4-byte little-endian length, the payload, then one acknowledgment byte
// written by the client.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const LengthSize = 4

const (
	AckFailure byte = 0
	AckSuccess byte = 1
)

// ErrShortLength reports a length prefix cut off before all four bytes arrived.
var ErrShortLength = errors.New("length prefix truncated")

// ReadLength reads the payload length announced by the peer. Zero means the
// peer has nothing to send.
func ReadLength(r io.Reader) (uint32, error) {
	var buf [LengthSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrShortLength, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// PollLength is ReadLength with a truncated prefix collapsed to "no file".
func PollLength(r io.Reader) uint32 {
	n, err := ReadLength(r)
	if err != nil {
		return 0
	}
	return n
}

func WriteLength(w io.Writer, n uint32) error {
	var buf [LengthSize]byte
	binary.LittleEndian.PutUint32(buf[:], n)
	_, err := w.Write(buf[:])
	return err
}

func WriteAck(w io.Writer, ok bool) error {
	b := AckFailure
	if ok {
		b = AckSuccess
	}
	_, err := w.Write([]byte{b})
	return err
}

// ReadAck is the server side counterpart of WriteAck.
func ReadAck(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	switch b[0] {
	case AckSuccess:
		return true, nil
	case AckFailure:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected acknowledgment byte %#x", b[0])
	}
}

// CopyPayload copies exactly n bytes from r to w, looping over short reads.
func CopyPayload(w io.Writer, r io.Reader, n uint32, buf []byte) (int64, error) {
	written, err := io.CopyBuffer(w, io.LimitReader(r, int64(n)), buf)
	if err != nil {
		return written, err
	}
	if written < int64(n) {
		return written, fmt.Errorf("payload truncated after %d of %d bytes: %w", written, n, io.ErrUnexpectedEOF)
	}
	return written, nil
}
