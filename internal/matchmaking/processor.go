package matchmaking

import (
	"context"
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/gametype"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/session"
)

// Notifier pushes matchmaking outcomes to connected clients. Both calls
// must be non-blocking or cheap; the processor invokes them inline.
type Notifier interface {
	MatchFound(ctx context.Context, participantID string, s *session.Session)
	QueueTimeout(ctx context.Context, participantID string)
}

// ProcessorConfig tunes the pairing pass. The rating band starts at
// InitialBand and widens by BandIncrement for every WidenEvery a
// participant has waited, capped at MaxBand.
type ProcessorConfig struct {
	Interval      time.Duration
	QueueTimeout  time.Duration
	InitialBand   int
	BandIncrement int
	MaxBand       int
	WidenEvery    time.Duration
}

func (c *ProcessorConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = 120 * time.Second
	}
	if c.InitialBand <= 0 {
		c.InitialBand = 100
	}
	if c.BandIncrement <= 0 {
		c.BandIncrement = 50
	}
	if c.MaxBand <= 0 {
		c.MaxBand = 400
	}
	if c.WidenEvery <= 0 {
		c.WidenEvery = 10 * time.Second
	}
}

// Processor runs the periodic pairing pass over every game type pool.
type Processor struct {
	queue    *Queue
	manager  *session.Manager
	types    *gametype.Catalog
	cfg      ProcessorConfig
	notifier Notifier

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewProcessor(queue *Queue, manager *session.Manager, types *gametype.Catalog, cfg ProcessorConfig) *Processor {
	cfg.applyDefaults()
	return &Processor{
		queue:   queue,
		manager: manager,
		types:   types,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// AttachNotifier wires the transport-side listener. Optional.
func (p *Processor) AttachNotifier(n Notifier) {
	if p != nil {
		p.notifier = n
	}
}

func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.RunOnce(ctx)
			}
		}
	}()
	obslog.L().Info("matchmaking_started", zap.Duration("interval", p.cfg.Interval))
}

func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// RunOnce executes one pairing pass across all pools. One pool's failure
// never skips the others.
func (p *Processor) RunOnce(ctx context.Context) {
	for _, gt := range p.types.List() {
		if err := p.processPool(ctx, gt); err != nil {
			obslog.L().Error("matchmaking_pool_error", zap.String("game_type", gt.ID), zap.Error(err))
		}
	}
}

func (p *Processor) processPool(ctx context.Context, gt gametype.GameType) error {
	players, err := p.queue.Snapshot(ctx, gt.ID)
	if err != nil {
		return err
	}
	if len(players) == 0 {
		return nil
	}

	now := time.Now()

	// Evict expired entries before pairing so nobody is matched after
	// their residency limit.
	alive := players[:0]
	for _, pl := range players {
		waited := now.Sub(time.UnixMilli(pl.EnqueuedAt))
		if waited >= p.cfg.QueueTimeout {
			if err := p.queue.RemoveEntries(ctx, gt.ID, pl.ID); err != nil {
				obslog.L().Warn("matchmaking_evict_error", zap.String("participant", pl.ID), zap.Error(err))
				continue
			}
			obslog.L().Info("matchmaking_timeout", zap.String("participant", pl.ID), zap.String("game_type", gt.ID))
			if p.notifier != nil {
				p.notifier.QueueTimeout(ctx, pl.ID)
			}
			continue
		}
		alive = append(alive, pl)
	}

	sort.Slice(alive, func(i, j int) bool { return alive[i].EnqueuedAt < alive[j].EnqueuedAt })

	matched := make(map[string]bool, len(alive))
	for i, anchor := range alive {
		if matched[anchor.ID] {
			continue
		}
		band := p.bandFor(now.Sub(time.UnixMilli(anchor.EnqueuedAt)))

		best := -1
		bestDiff := 0
		for j := i + 1; j < len(alive); j++ {
			cand := alive[j]
			if matched[cand.ID] {
				continue
			}
			diff := anchor.Rating - cand.Rating
			if diff < 0 {
				diff = -diff
			}
			if diff > band {
				continue
			}
			// Ties go to the earlier enqueue, which the sort already
			// guarantees for equal diffs.
			if best == -1 || diff < bestDiff {
				best = j
				bestDiff = diff
			}
		}
		if best == -1 {
			continue
		}

		opponent := alive[best]
		if err := p.pair(ctx, gt, anchor, opponent); err != nil {
			obslog.L().Error("matchmaking_pair_error",
				zap.String("game_type", gt.ID),
				zap.String("a", anchor.ID),
				zap.String("b", opponent.ID),
				zap.Error(err),
			)
			continue
		}
		matched[anchor.ID] = true
		matched[opponent.ID] = true
	}
	return nil
}

// bandFor widens the acceptable rating gap with waiting time.
func (p *Processor) bandFor(waited time.Duration) int {
	steps := int(waited / p.cfg.WidenEvery)
	band := p.cfg.InitialBand + steps*p.cfg.BandIncrement
	if band > p.cfg.MaxBand {
		band = p.cfg.MaxBand
	}
	return band
}

func (p *Processor) pair(ctx context.Context, gt gametype.GameType, a, b QueuedPlayer) error {
	// Claim both entries and reserve the match markers before creating the
	// session. A concurrent cancel either beats the claim (the pair is
	// skipped) or is refused by the marker; it can never succeed against a
	// session that already exists.
	claimedA, err := p.queue.ClaimEntry(ctx, gt.ID, a.ID)
	if err != nil {
		return err
	}
	if !claimedA {
		return nil
	}
	claimedB, err := p.queue.ClaimEntry(ctx, gt.ID, b.ID)
	if err != nil || !claimedB {
		if restoreErr := p.queue.Restore(ctx, a.ID, a.Entry); restoreErr != nil {
			obslog.L().Warn("matchmaking_restore_error", zap.String("participant", a.ID), zap.Error(restoreErr))
		}
		return err
	}
	if err := p.queue.MarkPending(ctx, a.ID); err != nil {
		p.rollbackClaim(ctx, a, b)
		return err
	}
	if err := p.queue.MarkPending(ctx, b.ID); err != nil {
		p.rollbackClaim(ctx, a, b)
		return err
	}

	white, black := a, b
	if coinFlip() {
		white, black = b, a
	}

	s, err := p.manager.Create(ctx, session.CreateParams{
		White:       white.ID,
		Black:       black.ID,
		GameType:    gt.ID,
		WhiteRating: white.Rating,
		BlackRating: black.Rating,
	})
	if err != nil {
		p.rollbackClaim(ctx, a, b)
		return err
	}

	if err := p.queue.MarkMatched(ctx, a.ID, s.ID); err != nil {
		obslog.L().Warn("matchmaking_mark_error", zap.String("participant", a.ID), zap.Error(err))
	}
	if err := p.queue.MarkMatched(ctx, b.ID, s.ID); err != nil {
		obslog.L().Warn("matchmaking_mark_error", zap.String("participant", b.ID), zap.Error(err))
	}

	obslog.L().Info("matchmaking_paired",
		zap.String("game_id", s.ID),
		zap.String("game_type", gt.ID),
		zap.String("white", white.ID),
		zap.String("black", black.ID),
		zap.Int("rating_gap", absInt(a.Rating-b.Rating)),
	)
	if p.notifier != nil {
		p.notifier.MatchFound(ctx, a.ID, s)
		p.notifier.MatchFound(ctx, b.ID, s)
	}
	return nil
}

// rollbackClaim puts both players back in the pool after a failed pairing.
func (p *Processor) rollbackClaim(ctx context.Context, a, b QueuedPlayer) {
	for _, pl := range []QueuedPlayer{a, b} {
		if err := p.queue.ClearMatched(ctx, pl.ID); err != nil {
			obslog.L().Warn("matchmaking_rollback_error", zap.String("participant", pl.ID), zap.Error(err))
		}
		if err := p.queue.Restore(ctx, pl.ID, pl.Entry); err != nil {
			obslog.L().Warn("matchmaking_rollback_error", zap.String("participant", pl.ID), zap.Error(err))
		}
	}
}

func coinFlip() bool {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UnixNano()%2 == 0
	}
	return b[0]%2 == 0
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
