package daemon

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/The-Promised-Neverland/poller/internal/config"
	"github.com/The-Promised-Neverland/poller/internal/dispatch"
	"github.com/The-Promised-Neverland/poller/internal/models"
	"github.com/The-Promised-Neverland/poller/internal/poller"
	"github.com/The-Promised-Neverland/poller/internal/service"
	"github.com/The-Promised-Neverland/poller/internal/transfer"
	"github.com/The-Promised-Neverland/poller/internal/watcher"
	"github.com/The-Promised-Neverland/poller/pkg/logger"
)

type Application struct {
	config  *config.Config
	poller  *poller.Poller
	inbox   *dispatch.Inbox
	service *service.Service
	watcher *watcher.Watcher

	// files consumers removed or renamed out of the inbox
	pickedUp atomic.Int64
}

func NewApplication(cfg *config.Config, svc *service.Service) *Application {
	inbox := dispatch.NewInbox(cfg.InboxDir())
	receiver := transfer.NewReceiver(cfg.PeerAddr(), cfg.TempDir())
	expander := transfer.NewExpander(cfg.UnpackArchives())
	return &Application{
		config:  cfg,
		poller:  poller.New(receiver, expander, inbox, cfg.PollInterval()),
		inbox:   inbox,
		service: svc,
	}
}

func (app *Application) Poller() *poller.Poller {
	return app.poller
}

// Run blocks until appCtx ends, then requests the poller to stop.
func (app *Application) Run(appCtx context.Context) {
	logger.Log.Info("Polling import service starting",
		"peer", app.config.PeerAddr(),
		"unpack", app.config.UnpackArchives(),
		"interval", app.config.PollInterval(),
		"temp", app.config.TempDir(),
		"inbox", app.config.InboxDir(),
	)
	if err := app.service.CheckTempSpace(); err != nil {
		logger.Log.Warn("Temp directory check failed", "err", err)
	}
	app.startWatcher(appCtx)
	app.poller.Start(appCtx)
	app.heartbeatLoop(appCtx)
	app.shutdown()
}

// shutdown asks the poller to stop without waiting for it. Only Run calls it,
// on the goroutine that set up the watcher.
func (app *Application) shutdown() {
	app.poller.Shutdown()
	if app.watcher != nil {
		app.watcher.Stop()
		app.watcher = nil
	}
}

// Wait blocks until the poller is stopped or the timeout passes.
func (app *Application) Wait(timeout time.Duration) bool {
	select {
	case <-app.poller.Done():
		return true
	case <-time.After(timeout):
		return false
	}
}

func (app *Application) heartbeatLoop(appCtx context.Context) {
	ticker := time.NewTicker(app.config.HeartbeatTimer())
	defer ticker.Stop()
	for {
		select {
		case <-appCtx.Done():
			logger.Log.Info("Stopping heartbeat for shutdown initiation")
			return
		case <-app.poller.Done():
			logger.Log.Warn("Poller exited, stopping heartbeat")
			return
		case <-ticker.C:
			hb := app.heartbeat()
			logger.Log.Info("Heartbeat", slog.Any("status", hb))
		}
	}
}

func (app *Application) heartbeat() models.Heartbeat {
	stats := app.poller.Stats()
	return models.Heartbeat{
		Poller: models.PollerStatus{
			State:      app.poller.State().String(),
			Peer:       app.config.PeerAddr(),
			Polls:      stats.Polls,
			Received:   stats.Received,
			Failed:     stats.Failed,
			Dispatched: stats.Dispatched,
			Delivered:  app.inbox.Delivered(),
			PickedUp:   app.pickedUp.Load(),
		},
		Host:      *app.service.GetHostMetrics(),
		Timestamp: time.Now().Unix(),
	}
}

// startWatcher observes the inbox so the heartbeat can report how many
// delivered files downstream consumers have taken away.
func (app *Application) startWatcher(appCtx context.Context) {
	if err := app.inbox.Prepare(); err != nil {
		logger.Log.Warn("Inbox unavailable, watcher will not be initialized", "err", err)
		return
	}
	w, err := watcher.NewWatcher(app.inbox.Dir(), watcher.InboxFilterConfig(), appCtx)
	if err != nil {
		logger.Log.Warn("Failed to create watcher", "err", err)
		return
	}
	if err := w.Start(); err != nil {
		logger.Log.Warn("Failed to start watcher", "err", err)
		w.Stop()
		return
	}
	app.watcher = w
	go app.watchInbox(w)
}

func (app *Application) watchInbox(w *watcher.Watcher) {
	for {
		select {
		case <-w.Done():
			return
		case event := <-w.Events():
			app.recordInboxEvent(event)
		case err := <-w.Errors():
			logger.Log.Error("File watcher error", "err", err)
		}
	}
}

// recordInboxEvent counts a file leaving the inbox as picked up. Arrivals are
// already logged by the inbox itself.
func (app *Application) recordInboxEvent(event watcher.FileEvent) {
	switch event.Type {
	case watcher.EventRemove, watcher.EventRename:
		n := app.pickedUp.Add(1)
		logger.Log.Info("Inbox file picked up", "path", event.Path, "type", event.Type, "total", n)
	default:
		logger.Log.Debug("Inbox event", "type", event.Type, "path", event.Path)
	}
}
