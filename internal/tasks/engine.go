package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/aminsaedi/navaar/internal/metrics"
	"github.com/aminsaedi/navaar/internal/models"
	"github.com/aminsaedi/navaar/internal/repositories"
	"github.com/aminsaedi/navaar/internal/shared"
)

// Engine runs one loop goroutine per configured direction. Each loop executes
// a cycle, then waits for whichever comes first: shutdown, a forced trigger
// for its direction, or the interval timer. Cycles for one direction are
// strictly sequential; directions never block each other.
type Engine struct {
	configs []DirectionConfig
	state   *repositories.SyncStateRepository
	sink    *metrics.Sink
	logger  *log.Logger

	force    map[models.Direction]chan struct{}
	quit     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	stats map[models.Direction]*CycleStats
}

// NewEngine validates the direction configs and builds an engine. An unknown
// direction, a duplicate, a missing procedure, or a non-positive interval is a
// configuration error.
func NewEngine(configs []DirectionConfig, state *repositories.SyncStateRepository, sink *metrics.Sink, logger *log.Logger) (*Engine, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no sync directions configured", shared.ErrInvalidConfig)
	}

	e := &Engine{
		configs: configs,
		state:   state,
		sink:    sink,
		logger:  logger,
		force:   make(map[models.Direction]chan struct{}, len(configs)),
		quit:    make(chan struct{}),
		stats:   make(map[models.Direction]*CycleStats, len(configs)),
	}

	for _, cfg := range configs {
		if !cfg.Direction.Known() {
			return nil, fmt.Errorf("%w: %q", shared.ErrUnknownDirection, cfg.Direction)
		}
		if !cfg.Shape.Valid() {
			return nil, fmt.Errorf("%w: direction %s has unknown shape %q", shared.ErrInvalidConfig, cfg.Direction, cfg.Shape)
		}
		if cfg.Procedure == nil {
			return nil, fmt.Errorf("%w: direction %s has no procedure", shared.ErrInvalidConfig, cfg.Direction)
		}
		if cfg.Interval <= 0 {
			return nil, fmt.Errorf("%w: direction %s has non-positive interval", shared.ErrInvalidConfig, cfg.Direction)
		}
		if _, dup := e.force[cfg.Direction]; dup {
			return nil, fmt.Errorf("%w: direction %s configured twice", shared.ErrInvalidConfig, cfg.Direction)
		}
		// Buffered by one so triggers coalesce instead of piling up.
		e.force[cfg.Direction] = make(chan struct{}, 1)
		e.stats[cfg.Direction] = &CycleStats{Direction: cfg.Direction, Shape: cfg.Shape}
	}

	return e, nil
}

// Run starts every direction loop and blocks until all of them have exited,
// which happens when ctx is cancelled or Shutdown is called.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	e.sink.Up.Set(1)
	defer e.sink.Up.Set(0)

	var wg sync.WaitGroup
	for _, cfg := range e.configs {
		wg.Add(1)
		go func(cfg DirectionConfig) {
			defer wg.Done()
			e.loop(ctx, cfg)
		}(cfg)
	}
	wg.Wait()

	e.logger.Info("sync engine stopped")
	return nil
}

// Trigger requests an immediate cycle for a direction. A trigger arriving
// while one is already queued is absorbed.
func (e *Engine) Trigger(direction models.Direction) error {
	ch, ok := e.force[direction]
	if !ok {
		return fmt.Errorf("%w: %q is not a configured sync direction", shared.ErrUnknownDirection, direction)
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

// Shutdown stops all loops. In-flight cycles finish their current record
// first. Safe to call more than once.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.quit) })
}

// Stats returns the loop stats for one direction.
func (e *Engine) Stats(direction models.Direction) (CycleStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stats[direction]
	if !ok {
		return CycleStats{}, false
	}
	return *s, true
}

// AllStats returns loop stats for every direction in configuration order.
func (e *Engine) AllStats() []CycleStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]CycleStats, 0, len(e.configs))
	for _, cfg := range e.configs {
		out = append(out, *e.stats[cfg.Direction])
	}
	return out
}

// Procedure returns the procedure configured for a direction, for one-shot runs.
func (e *Engine) Procedure(direction models.Direction) (Procedure, bool) {
	for _, cfg := range e.configs {
		if cfg.Direction == direction {
			return cfg.Procedure, true
		}
	}
	return nil, false
}

// Directions returns the configured directions in configuration order.
func (e *Engine) Directions() []models.Direction {
	out := make([]models.Direction, 0, len(e.configs))
	for _, cfg := range e.configs {
		out = append(out, cfg.Direction)
	}
	return out
}

func (e *Engine) loop(ctx context.Context, cfg DirectionConfig) {
	e.logger.Info("sync loop started",
		"direction", cfg.Direction, "shape", cfg.Shape, "interval", cfg.Interval)

	timer := time.NewTimer(cfg.Interval)
	defer timer.Stop()

	for {
		e.runCycle(ctx, cfg)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(cfg.Interval)

		select {
		case <-ctx.Done():
			e.logger.Info("sync loop stopped", "direction", cfg.Direction)
			return
		case <-e.force[cfg.Direction]:
			e.logger.Info("sync cycle forced", "direction", cfg.Direction)
		case <-timer.C:
		}
	}
}

func (e *Engine) runCycle(ctx context.Context, cfg DirectionConfig) {
	start := time.Now()
	processed, err := cfg.Procedure.RunCycle(ctx)
	elapsed := time.Since(start)

	dir := string(cfg.Direction)
	e.sink.CyclesTotal.WithLabelValues(dir).Inc()
	e.sink.CycleDuration.WithLabelValues(dir).Observe(elapsed.Seconds())

	switch {
	case err == nil:
		e.logger.Info("sync cycle complete",
			"direction", cfg.Direction, "processed", processed, "duration", elapsed)
	case errors.Is(err, context.Canceled):
		// Shutdown interrupted the cycle; nothing is wrong.
	default:
		e.sink.CycleErrors.WithLabelValues(dir, "cycle").Inc()
		e.logger.Error("sync cycle failed",
			"direction", cfg.Direction, "processed", processed, "error", err)
	}

	e.mu.Lock()
	s := e.stats[cfg.Direction]
	s.Cycles++
	s.LastRun = start.UTC()
	s.LastDuration = elapsed
	s.LastProcessed = processed
	s.LastError = ""
	if err != nil && !errors.Is(err, context.Canceled) {
		s.LastError = err.Error()
	}
	e.mu.Unlock()

	info := repositories.CycleInfo{At: start.UTC(), Duration: elapsed, Processed: processed}
	if err := e.state.SetLastCycle(cfg.Direction, info); err != nil {
		e.logger.Error("failed to persist cycle info", "direction", cfg.Direction, "error", err)
	}
}
