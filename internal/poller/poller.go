// Package poller runs the background loop that drains files from the peer
// and dispatches them, sleeping between empty polls.
package poller

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/The-Promised-Neverland/poller/internal/transfer"
	"github.com/The-Promised-Neverland/poller/pkg/logger"
)

type RunState int32

const (
	Stopped RunState = iota
	Running
	StopRequested
)

func (s RunState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case StopRequested:
		return "stop_requested"
	default:
		return fmt.Sprintf("runstate(%d)", int32(s))
	}
}

// Source performs one transfer cycle against the peer.
type Source interface {
	Receive(ctx context.Context) transfer.Result
}

// Expander turns one received file into the files to dispatch.
type Expander interface {
	Expand(path string) iter.Seq[string]
}

type Stats struct {
	Polls      int64
	Received   int64
	Failed     int64
	Dispatched int64
}

type Poller struct {
	source     Source
	expander   Expander
	dispatcher transfer.Dispatcher
	interval   time.Duration

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	polls      atomic.Int64
	received   atomic.Int64
	failed     atomic.Int64
	dispatched atomic.Int64
}

func New(source Source, expander Expander, dispatcher transfer.Dispatcher, interval time.Duration) *Poller {
	done := make(chan struct{})
	close(done)
	return &Poller{
		source:     source,
		expander:   expander,
		dispatcher: dispatcher,
		interval:   interval,
		done:       done,
	}
}

// Start spawns the worker. It does nothing unless the poller is Stopped.
func (p *Poller) Start(parent context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		logger.Log.Warn("Poller start ignored", "state", p.State())
		return
	}
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.done = make(chan struct{})
	logger.Log.Info("Poller started", "interval", p.interval)
	go p.run(ctx, cancel, p.done)
}

// Shutdown requests a stop and returns immediately. A transfer already
// connected runs to completion; a pending sleep is cut short.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.CompareAndSwap(int32(Running), int32(StopRequested)) {
		return
	}
	logger.Log.Info("Poller stop requested")
	p.cancel()
}

func (p *Poller) State() RunState {
	return RunState(p.state.Load())
}

// Done is closed once the worker has reached Stopped.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Poller) Stats() Stats {
	return Stats{
		Polls:      p.polls.Load(),
		Received:   p.received.Load(),
		Failed:     p.failed.Load(),
		Dispatched: p.dispatched.Load(),
	}
}

func (p *Poller) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer func() {
		cancel()
		p.state.Store(int32(Stopped))
		close(done)
		logger.Log.Info("Poller stopped")
	}()
	for ctx.Err() == nil {
		p.drain(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// drain receives files back to back until the peer has nothing more.
func (p *Poller) drain(ctx context.Context) {
	for ctx.Err() == nil {
		p.polls.Add(1)
		res := p.source.Receive(ctx)
		switch res.Status {
		case transfer.StatusReceived:
			p.received.Add(1)
			logger.Log.Info("File received from peer", "path", res.Path, "size", res.Size)
			for path := range p.expander.Expand(res.Path) {
				p.dispatch(path)
			}
		case transfer.StatusFailed:
			p.failed.Add(1)
			logger.Log.Debug("Poll failed", "err", res.Err)
			return
		default:
			return
		}
	}
}

func (p *Poller) dispatch(path string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Dispatch panicked", "path", path, "panic", r)
		}
	}()
	p.dispatched.Add(1)
	p.dispatcher.Deliver(path)
}
