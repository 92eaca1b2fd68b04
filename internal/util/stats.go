package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide negotiation counter set.
var Stats = &stats{}

type stats struct {
	SessionsOpened    atomic.Int64 // peer sessions created since process start
	SessionsClosed    atomic.Int64 // peer sessions destroyed since process start
	OffersSent        atomic.Int64 // offer envelopes handed to the relay
	AnswersSent       atomic.Int64 // answer envelopes handed to the relay
	CandidatesQueued  atomic.Int64 // remote candidates held for a remote description
	CandidatesApplied atomic.Int64 // remote candidates applied to a transport
	GlareRollbacks    atomic.Int64 // polite rollbacks of an outstanding local offer
	OffersIgnored     atomic.Int64 // colliding offers dropped by the impolite side
	Failures          atomic.Int64 // negotiation, media and transport failures
}

func (s *stats) OpenSession()    { s.SessionsOpened.Add(1) }
func (s *stats) CloseSession()   { s.SessionsClosed.Add(1) }
func (s *stats) SentOffer()      { s.OffersSent.Add(1) }
func (s *stats) SentAnswer()     { s.AnswersSent.Add(1) }
func (s *stats) QueueCandidate() { s.CandidatesQueued.Add(1) }
func (s *stats) ApplyCandidate() { s.CandidatesApplied.Add(1) }
func (s *stats) Rollback()       { s.GlareRollbacks.Add(1) }
func (s *stats) IgnoreOffer()    { s.OffersIgnored.Add(1) }
func (s *stats) Fail()           { s.Failures.Add(1) }

// Active returns the number of sessions that are currently alive.
func (s *stats) Active() int64 {
	return s.SessionsOpened.Load() - s.SessionsClosed.Load()
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs negotiation activity
// every interval, skipping quiet intervals. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevOffers, prevAnswers, prevCandidates, prevFailures int64
		for {
			select {
			case <-ticker.C:
				offers := Stats.OffersSent.Load()
				answers := Stats.AnswersSent.Load()
				candidates := Stats.CandidatesApplied.Load()
				failures := Stats.Failures.Load()

				if offers != prevOffers || answers != prevAnswers ||
					candidates != prevCandidates || failures != prevFailures {
					pterm.DefaultLogger.Info(formatStats(Stats.Active(),
						offers-prevOffers, answers-prevAnswers,
						candidates-prevCandidates, failures-prevFailures))
				}

				prevOffers = offers
				prevAnswers = answers
				prevCandidates = candidates
				prevFailures = failures

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a one-line summary of the deltas since the last report.
func formatStats(active, offers, answers, candidates, failures int64) string {
	return fmt.Sprintf("Sessions: %2d | Offers: %2d↑ | Answers: %2d↑ | ICE: %3d | Failures: %d",
		active, offers, answers, candidates, failures)
}
