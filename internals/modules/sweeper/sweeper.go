package sweeper

import (
	"context"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"vigil/internals/storage"

	"github.com/rs/zerolog"
)

// Sweeper wakes on a fixed interval, scans for monitors past their deadline
// and hands each eligible webhook to the dispatcher. Ticks are isolated: a
// store failure or any number of dispatch failures only affect the current
// tick.
type Sweeper struct {
	store         storage.Store
	dispatcher    Dispatcher
	interval      time.Duration
	maxConcurrent int
	logger        zerolog.Logger
	now           func() time.Time
}

// Dispatcher fires a single webhook; failures stay inside the dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, webhookID int64)
}

func NewSweeper(store storage.Store, dispatcher Dispatcher, interval time.Duration, maxConcurrent int, logger *zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:         store,
		dispatcher:    dispatcher,
		interval:      interval,
		maxConcurrent: maxConcurrent,
		logger:        logger.With().Str("component", "sweeper").Logger(),
		now:           time.Now,
	}
}

// Run loops until ctx is cancelled. Each wait adds up to 10% jitter so
// several instances do not align their query load.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")

	for {
		timer := time.NewTimer(s.interval + s.jitter())
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("sweeper stopped")
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Sweeper) jitter() time.Duration {
	n := int64(s.interval) / 10
	if n <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(n))
}

// Sweep executes one tick: query expired monitors joined with webhooks,
// filter out unusable rows, dispatch the rest concurrently and wait for the
// batch before returning.
func (s *Sweeper) Sweep(ctx context.Context) {
	due, err := s.store.ExpiredWebhooks(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("expired monitor query failed, skipping tick")
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Debug().Int("due", len(due)).Msg("sweep tick")

	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup

	for _, hook := range due {
		if hook.URL == "" {
			continue
		}
		switch hook.Method {
		case http.MethodGet, http.MethodPost:
		default:
			s.logger.Debug().
				Str("slug", hook.MonitorSlug).
				Str("method", hook.Method).
				Msg("webhook has unusable method, skipping")
			continue
		}
		// already fired this episode; the dispatcher's claim re-check is the
		// authoritative guard, this just skips obvious no-ops
		if hook.LastCalled != nil {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(id int64) {
			defer func() {
				<-sem
				wg.Done()
			}()
			s.dispatcher.Dispatch(ctx, id)
		}(hook.ID)
	}

	wg.Wait()
}
