// Package janitor bounds the lifetime of the bot's own notifications.
//
// On a fixed interval it scans the text channel's recent history and deletes
// messages the bot itself sent once they are older than the retention period.
// The scan never looks further back than the lookback horizon, and never
// evaluates more than scanLimit messages in one pass, so a single sweep stays
// bounded no matter how busy the channel is.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/saulrh/living-room-bot/internal/transport"
	logx "github.com/saulrh/living-room-bot/pkg/logx"
)

// TaskName is the fixed recurring-job identifier. Registering under a fixed
// name means a re-registration (config reload, restart of the scheduler)
// replaces the schedule instead of stacking a duplicate sweep.
const TaskName = "janitor:sweep"

// scanLimit caps how many messages one pass evaluates. Anything beyond the
// cap is picked up by a later pass.
const scanLimit = 1000

// deletesPerSec throttles deletions so a backlogged sweep doesn't hammer the
// platform API.
const deletesPerSec = 5

// Scheduler is the slice of the scheduler service the janitor consumes.
type Scheduler interface {
	AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error)
}

// Policy is the retention configuration for one process lifetime (reloadable
// via Apply). RetainAfter must be shorter than LookbackHorizon or the sweep
// can never observe a deletable message; config validation enforces that.
type Policy struct {
	ScanInterval    time.Duration
	LookbackHorizon time.Duration
	RetainAfter     time.Duration
}

type Janitor struct {
	gw  transport.Gateway
	log logx.Logger

	textChannelID string
	limiter       *rate.Limiter

	mu     sync.Mutex
	policy Policy

	now func() time.Time // overridable in tests
}

func New(textChannelID string, policy Policy, gw transport.Gateway, log logx.Logger) *Janitor {
	return &Janitor{
		gw:            gw,
		log:           log,
		textChannelID: textChannelID,
		policy:        policy,
		limiter:       rate.NewLimiter(rate.Limit(deletesPerSec), deletesPerSec),
		now:           time.Now,
	}
}

// Register installs (or re-installs) the recurring sweep under TaskName.
func (j *Janitor) Register(sched Scheduler) error {
	j.mu.Lock()
	interval := j.policy.ScanInterval
	j.mu.Unlock()
	if _, err := sched.AddInterval(TaskName, interval, 0, j.Sweep); err != nil {
		return fmt.Errorf("register sweep: %w", err)
	}
	return nil
}

// Apply updates the retention policy and re-registers the sweep so a changed
// interval takes effect. Safe because registration upserts by name.
func (j *Janitor) Apply(policy Policy, sched Scheduler) error {
	j.mu.Lock()
	j.policy = policy
	j.mu.Unlock()
	return j.Register(sched)
}

func (j *Janitor) snapshot() Policy {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.policy
}

// Sweep runs one cleanup pass. Deletion failures are logged and skipped, not
// retried: the message stays older than the cutoff on every later pass, so
// the schedule itself is the retry loop. Each pass is idempotent.
func (j *Janitor) Sweep(ctx context.Context) error {
	policy := j.snapshot()

	// Both cutoffs and message timestamps are UTC; mixing zones here would
	// silently shift the retention boundary by the zone offset.
	now := j.now().UTC()
	windowStart := now.Add(-policy.LookbackHorizon)
	cutoff := now.Add(-policy.RetainAfter)

	ch, err := j.gw.ResolveChannel(ctx, j.textChannelID)
	if err != nil {
		return fmt.Errorf("resolve text channel: %w", err)
	}
	msgs, err := j.gw.MessagesSince(ctx, ch.ID, windowStart, scanLimit)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}

	self := j.gw.SelfID()
	deleted, failed := 0, 0
	for _, m := range msgs {
		if m.AuthorID != self {
			continue
		}
		// Strictly older than the cutoff; a message exactly at the boundary
		// survives until the next pass.
		if !m.CreatedAt.Before(cutoff) {
			continue
		}
		if err := j.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := j.gw.DeleteMessage(ctx, m.Ref()); err != nil {
			failed++
			j.log.Warn("notification delete failed",
				logx.String("message_id", m.ID), logx.Time("created_at", m.CreatedAt), logx.Err(err))
			continue
		}
		deleted++
	}

	if deleted > 0 || failed > 0 {
		j.log.Info("sweep finished",
			logx.Int("scanned", len(msgs)), logx.Int("deleted", deleted), logx.Int("failed", failed))
	} else {
		j.log.Debug("sweep finished (nothing to delete)", logx.Int("scanned", len(msgs)))
	}
	return nil
}
