package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/daostore/internal/model"
	"github.com/dukerupert/daostore/internal/store"
)

// Finalizer closes proposals whose voting window has ended.
type Finalizer interface {
	FinalizeExpired(ctx context.Context) ([]model.Proposal, error)
}

// Scheduler periodically finalizes expired proposals, announces the
// outcomes and prunes expired sessions and login codes.
type Scheduler struct {
	mu        sync.RWMutex
	finalizer Finalizer
	notifier  *Service
	sessions  *store.SessionStore
	codes     *store.LoginCodeStore
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewScheduler creates a scheduler. notifier may be nil when push is not
// configured.
func NewScheduler(finalizer Finalizer, notifier *Service, sessions *store.SessionStore, codes *store.LoginCodeStore, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		finalizer: finalizer,
		notifier:  notifier,
		sessions:  sessions,
		codes:     codes,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick runs one pass and returns the proposals it finalized.
func (s *Scheduler) Tick(ctx context.Context) []model.Proposal {
	finalized, err := s.finalizer.FinalizeExpired(ctx)
	if err != nil {
		s.logger.Error("finalize proposals", "error", err)
	}
	for i := range finalized {
		s.announce(ctx, &finalized[i])
	}

	now := s.now()
	if s.sessions != nil {
		if n, err := s.sessions.DeleteExpired(ctx, now); err != nil {
			s.logger.Error("prune sessions", "error", err)
		} else if n > 0 {
			s.logger.Debug("pruned sessions", "count", n)
		}
	}
	if s.codes != nil {
		if n, err := s.codes.DeleteExpired(ctx, now); err != nil {
			s.logger.Error("prune login codes", "error", err)
		} else if n > 0 {
			s.logger.Debug("pruned login codes", "count", n)
		}
	}
	return finalized
}

func (s *Scheduler) announce(ctx context.Context, p *model.Proposal) {
	if s.notifier == nil {
		return
	}
	sent, err := s.notifier.Notify(ctx, ProposalOutcome(p))
	if err != nil {
		s.logger.Error("announce proposal outcome", "proposal_id", p.ID, "error", err)
		return
	}
	s.logger.Info("announced proposal outcome", "proposal_id", p.ID, "outcome", p.Status, "delivered", sent)
}

// ProposalOutcome builds the notification for a finalized proposal.
func ProposalOutcome(p *model.Proposal) Payload {
	verb := "was rejected"
	if p.Status == model.ProposalStatusPassed {
		verb = "passed"
	}
	return Payload{
		Title: "Voting closed",
		Body:  fmt.Sprintf("%q %s (%d for, %d against)", p.Title, verb, p.VotesFor, p.VotesAgainst),
		URL:   fmt.Sprintf("/proposals/%d", p.ID),
		Tag:   fmt.Sprintf("proposal-%d", p.ID),
	}
}
