package transfer

import "fmt"

type Status int

const (
	StatusEmpty Status = iota
	StatusReceived
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusReceived:
		return "received"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of one connect-download-acknowledge cycle.
type Result struct {
	Status Status
	Path   string // set for StatusReceived
	Size   int64
	Err    error // set for StatusFailed
}

func Received(path string, size int64) Result {
	return Result{Status: StatusReceived, Path: path, Size: size}
}

func Empty() Result {
	return Result{Status: StatusEmpty}
}

func Failed(err error) Result {
	return Result{Status: StatusFailed, Err: err}
}

// Dispatcher receives each deliverable file. It owns the path once called.
type Dispatcher interface {
	Deliver(path string)
}

// DispatchFunc adapts a plain function to Dispatcher.
type DispatchFunc func(path string)

func (f DispatchFunc) Deliver(path string) { f(path) }
