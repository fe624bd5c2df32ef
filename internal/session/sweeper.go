package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/obslog"
)

// EndNotifier is told about sessions the sweep transitioned to timeout so
// connected clients hear about flag falls without polling.
type EndNotifier interface {
	SessionEnded(ctx context.Context, s *Session)
}

// Sweeper periodically scans active sessions and flags expired clocks.
// Lazy per-read timeout checks catch sessions someone is looking at; the
// sweep catches the abandoned ones.
type Sweeper struct {
	manager  *Manager
	notifier EndNotifier
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		manager:  manager,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// AttachNotifier wires the transport-side listener. Optional.
func (w *Sweeper) AttachNotifier(n EndNotifier) {
	if w != nil {
		w.notifier = n
	}
}

func (w *Sweeper) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.RunOnce(ctx)
			}
		}
	}()
	obslog.L().Info("sweeper_started", zap.Duration("interval", w.interval))
}

func (w *Sweeper) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// RunOnce performs a single sweep pass. One failing session never stops
// the rest of the pass.
func (w *Sweeper) RunOnce(ctx context.Context) {
	sessions, err := w.manager.store.ListActive(ctx, Filter{Status: StatusActive})
	if err != nil {
		obslog.L().Error("sweep_list_error", zap.Error(err))
		return
	}
	for _, s := range sessions {
		updated, timedOut, err := w.manager.CheckTimeout(ctx, s.ID)
		if err != nil {
			obslog.L().Warn("sweep_check_error", zap.String("game_id", s.ID), zap.Error(err))
			continue
		}
		if timedOut && w.notifier != nil {
			w.notifier.SessionEnded(ctx, updated)
		}
	}
}
