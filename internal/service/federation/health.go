package federation

import (
	"context"
	"sync"
	"time"

	"voidnode/internal/model"
	"voidnode/internal/utils/log"

	"go.uber.org/zap"
)

const (
	healthRecoverStep = 0.1
	healthDecayFactor = 0.5
)

// NextHealth is the health transition function. Success nudges the score up
// by a fixed step, capped at 1; failure halves it toward 0. The asymmetry
// means flaky peers lose standing much faster than they regain it.
func NextHealth(current float64, success bool) float64 {
	if current < 0 {
		current = 0
	}
	if current > 1 {
		current = 1
	}
	if success {
		next := current + healthRecoverStep
		if next > 1 {
			return 1
		}
		return next
	}
	return current * healthDecayFactor
}

// RecordContact folds one contact outcome into a peer's health score.
func (s *Service) RecordContact(ctx context.Context, serverID string, success bool) {
	s.mu.Lock()
	p, ok := s.registry[serverID]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.HealthScore = NextHealth(p.HealthScore, success)
	score := p.HealthScore
	var lastSeen time.Time
	if success {
		p.LastSeen = time.Now().UTC()
		lastSeen = p.LastSeen
	}
	s.mu.Unlock()

	if err := s.store.UpdateHealth(ctx, serverID, score, lastSeen); err != nil {
		log.Error("persist health score failed",
			zap.String("server_id", serverID), zap.Error(err))
	}
}

// HealthSweep pings every non-blocked peer with bounded concurrency and
// records the outcomes. A timed-out ping is a failure, not an error.
func (s *Service) HealthSweep(ctx context.Context) {
	peers, err := s.store.List(ctx, "")
	if err != nil {
		log.Error("health sweep: list peers failed", zap.Error(err))
		return
	}

	jobs := make(chan model.PeerRecord)
	var wg sync.WaitGroup
	for i := 0; i < s.opts.HealthWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				err := s.transport.Ping(ctx, p.Endpoint, s.id.ServerID)
				s.RecordContact(ctx, p.ServerID, err == nil)
			}
		}()
	}

	for _, p := range peers {
		if p.TrustLevel == model.TrustBlocked || p.Endpoint == "" {
			continue
		}
		select {
		case jobs <- p:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		}
	}
	close(jobs)
	wg.Wait()
	log.Debug("health sweep complete", zap.Int("peers", len(peers)))
}

// HealthLoop runs periodic sweeps until ctx is done.
func (s *Service) HealthLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.HealthSweep(ctx)
		}
	}
}
