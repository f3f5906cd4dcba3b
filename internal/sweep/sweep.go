// Package sweep holds the time-driven automation over CAPA records: overdue
// flagging, effectiveness review scheduling, and deadline warnings. Each
// sweep is idempotent and safe to re-run; one record's failure never aborts
// the rest of the batch.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"foodsafe-workflow/internal/dedupe"
	"foodsafe-workflow/internal/models"
	"foodsafe-workflow/internal/notify"
	"foodsafe-workflow/internal/status"
	"foodsafe-workflow/internal/store"
	"foodsafe-workflow/internal/telemetry"
	"foodsafe-workflow/internal/workflow"
)

// Review becomes due this long after a CAPA closes.
const effectivenessReviewAfter = 30 * 24 * time.Hour

// Warnings start this far ahead of a CAPA due date.
const warningWindow = 3 * 24 * time.Hour

// Summary reports one sweep pass. Item failures are collected here and
// returned to the invoker instead of thrown; they are operational, not
// user-facing.
type Summary struct {
	Sweep   string   `json:"sweep"`
	Scanned int      `json:"scanned"`
	Applied int      `json:"applied"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Runner executes sweeps against the record store. All activity it writes
// carries the System actor sentinel.
type Runner struct {
	store     store.Store
	dedupe    *dedupe.Deduper
	notifier  notify.Notifier
	log       *zap.Logger
	now       func() time.Time
	batchSize int
}

// NewRunner constructs a sweep runner on the real clock.
func NewRunner(st store.Store, d *dedupe.Deduper, n notify.Notifier, log *zap.Logger, batchSize int) *Runner {
	return NewRunnerWithClock(st, d, n, log, batchSize, time.Now)
}

// NewRunnerWithClock constructs a runner with an injected clock for tests.
func NewRunnerWithClock(st store.Store, d *dedupe.Deduper, n notify.Notifier, log *zap.Logger, batchSize int, now func() time.Time) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Runner{store: st, dedupe: d, notifier: n, log: log, now: now, batchSize: batchSize}
}

// RunAll executes every sweep once. Sweeps are independent and
// order-insensitive; each returns its own summary.
func (r *Runner) RunAll(ctx context.Context) []Summary {
	return []Summary{
		r.SweepOverdue(ctx),
		r.SweepDeadlineWarnings(ctx),
		r.SweepEffectivenessReviews(ctx),
	}
}

// SweepOverdue writes the stored Overdue status for CAPAs the on-read check
// already classifies as overdue, so filtering and reporting agree with the
// derived view. The conditional store write never regresses a status a user
// set while the sweep was running.
func (r *Runner) SweepOverdue(ctx context.Context) Summary {
	s := Summary{Sweep: "overdue"}
	now := r.now().UTC()

	cursor, err := r.checkpoint(ctx, s.Sweep)
	if err != nil {
		s.fail("", err)
		return s
	}

	for {
		if ctx.Err() != nil {
			return s
		}
		batch, err := r.store.ListCAPAs(ctx, store.CAPAFilter{
			Statuses:  []status.CAPAStatus{status.CAPAOpen, status.CAPAInProgress},
			DueBefore: &now,
			AfterID:   cursor,
			Limit:     r.batchSize,
		})
		if err != nil {
			s.fail("", fmt.Errorf("list capas: %w", err))
			return s
		}
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			s.Scanned++
			cursor = c.ID
			if !workflow.IsOverdue(c, now) {
				continue
			}
			flagged, err := r.store.MarkCAPAOverdue(ctx, c.ID)
			if err != nil {
				s.fail(c.ID, err)
				continue
			}
			if !flagged {
				continue
			}
			s.Applied++
			telemetry.OverdueFlagged.Inc()
			old, next := string(c.Status), string(status.CAPAOverdue)
			r.append(ctx, &s, models.Activity{
				RecordID:    c.ID,
				ActionType:  models.ActionOverdueFlagged,
				Description: fmt.Sprintf("CAPA overdue: due %s", c.DueDate.UTC().Format("2006-01-02")),
				OldStatus:   &old,
				NewStatus:   &next,
			})
			r.notify(ctx, c, fmt.Sprintf("CAPA %q is overdue (due %s)", c.Title, c.DueDate.UTC().Format("2006-01-02")), notify.KindEscalation)
		}
		if err := r.setCheckpoint(ctx, s.Sweep, cursor); err != nil {
			r.log.Warn("checkpoint write failed", zap.String("sweep", s.Sweep), zap.Error(err))
		}
		if len(batch) < r.batchSize {
			break
		}
	}
	r.clearCheckpoint(ctx, s.Sweep)
	return s
}

// SweepDeadlineWarnings emits one warning per CAPA per day while the due
// date is inside the warning window.
func (r *Runner) SweepDeadlineWarnings(ctx context.Context) Summary {
	s := Summary{Sweep: "deadline_warnings"}
	now := r.now().UTC()
	horizon := now.Add(warningWindow)

	cursor, err := r.checkpoint(ctx, s.Sweep)
	if err != nil {
		s.fail("", err)
		return s
	}

	for {
		if ctx.Err() != nil {
			return s
		}
		batch, err := r.store.ListCAPAs(ctx, store.CAPAFilter{
			Statuses:  []status.CAPAStatus{status.CAPAOpen, status.CAPAInProgress},
			DueAfter:  &now,
			DueBefore: &horizon,
			AfterID:   cursor,
			Limit:     r.batchSize,
		})
		if err != nil {
			s.fail("", fmt.Errorf("list capas: %w", err))
			return s
		}
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			s.Scanned++
			cursor = c.ID
			key := dedupe.WarningKey(c.ID, now)
			fresh, err := r.once(ctx, key)
			if err != nil {
				s.fail(c.ID, err)
				continue
			}
			if !fresh {
				continue
			}
			daysRemaining := int(c.DueDate.Sub(now).Hours() / 24)
			if !r.append(ctx, &s, models.Activity{
				RecordID:    c.ID,
				ActionType:  models.ActionDeadlineWarning,
				Description: fmt.Sprintf("CAPA due in %d day(s)", daysRemaining),
				Metadata:    map[string]any{"daysRemaining": daysRemaining},
			}) {
				// Give the claim back so the warning retries next pass
				// instead of staying suppressed for the day.
				r.release(ctx, key)
				continue
			}
			s.Applied++
			telemetry.DeadlineWarnings.Inc()
			r.notify(ctx, c, fmt.Sprintf("CAPA %q is due in %d day(s)", c.Title, daysRemaining), notify.KindWarning)
		}
		if err := r.setCheckpoint(ctx, s.Sweep, cursor); err != nil {
			r.log.Warn("checkpoint write failed", zap.String("sweep", s.Sweep), zap.Error(err))
		}
		if len(batch) < r.batchSize {
			break
		}
	}
	r.clearCheckpoint(ctx, s.Sweep)
	return s
}

// SweepEffectivenessReviews flags CAPAs closed at least 30 days ago whose
// effectiveness has not been verified, including those parked in Pending
// Verification. It only raises the flag; a human records the rating.
func (r *Runner) SweepEffectivenessReviews(ctx context.Context) Summary {
	s := Summary{Sweep: "effectiveness_reviews"}
	now := r.now().UTC()
	threshold := now.Add(-effectivenessReviewAfter)

	cursor, err := r.checkpoint(ctx, s.Sweep)
	if err != nil {
		s.fail("", err)
		return s
	}

	for {
		if ctx.Err() != nil {
			return s
		}
		batch, err := r.store.ListCAPAs(ctx, store.CAPAFilter{
			Statuses:     []status.CAPAStatus{status.CAPAClosed, status.CAPAPendingVerification},
			ClosedBefore: &threshold,
			Unverified:   true,
			AfterID:      cursor,
			Limit:        r.batchSize,
		})
		if err != nil {
			s.fail("", fmt.Errorf("list capas: %w", err))
			return s
		}
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			s.Scanned++
			cursor = c.ID
			key := fmt.Sprintf("review:%s:%s", c.ID, now.Format("2006-01-02"))
			fresh, err := r.once(ctx, key)
			if err != nil {
				s.fail(c.ID, err)
				continue
			}
			if !fresh {
				continue
			}
			if !r.append(ctx, &s, models.Activity{
				RecordID:    c.ID,
				ActionType:  models.ActionReviewDue,
				Description: "Effectiveness review due",
				Metadata:    map[string]any{"completion_date": c.CompletionDate.UTC().Format(time.RFC3339)},
			}) {
				r.release(ctx, key)
				continue
			}
			s.Applied++
			telemetry.ReviewsDue.Inc()
			r.notify(ctx, c, fmt.Sprintf("Effectiveness review due for CAPA %q", c.Title), notify.KindReviewDue)
		}
		if err := r.setCheckpoint(ctx, s.Sweep, cursor); err != nil {
			r.log.Warn("checkpoint write failed", zap.String("sweep", s.Sweep), zap.Error(err))
		}
		if len(batch) < r.batchSize {
			break
		}
	}
	r.clearCheckpoint(ctx, s.Sweep)
	return s
}

func (r *Runner) append(ctx context.Context, s *Summary, a models.Activity) bool {
	a.ID = uuid.New().String()
	a.PerformedBy = models.SystemActor
	a.PerformedAt = r.now().UTC()
	if err := r.store.AppendActivity(ctx, a); err != nil {
		s.fail(a.RecordID, fmt.Errorf("append activity: %w", err))
		return false
	}
	return true
}

// notify targets the assignee when one exists, otherwise the creator.
// Delivery failure is logged only; the state change already happened.
func (r *Runner) notify(ctx context.Context, c models.CAPA, message string, kind notify.Kind) {
	if r.notifier == nil {
		return
	}
	target := c.CreatedBy
	if c.AssignedTo != nil {
		target = *c.AssignedTo
	}
	if err := r.notifier.Notify(ctx, target, message, kind); err != nil {
		r.log.Warn("notify failed", zap.String("capa_id", c.ID), zap.Error(err))
	}
}

func (r *Runner) release(ctx context.Context, key string) {
	if r.dedupe == nil {
		return
	}
	if err := r.dedupe.Release(ctx, key); err != nil {
		r.log.Warn("dedupe release failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Runner) once(ctx context.Context, key string) (bool, error) {
	if r.dedupe == nil {
		return true, nil
	}
	return r.dedupe.Once(ctx, key)
}

func (r *Runner) checkpoint(ctx context.Context, sweep string) (string, error) {
	if r.dedupe == nil {
		return "", nil
	}
	return r.dedupe.Checkpoint(ctx, sweep)
}

func (r *Runner) setCheckpoint(ctx context.Context, sweep, lastID string) error {
	if r.dedupe == nil {
		return nil
	}
	return r.dedupe.SetCheckpoint(ctx, sweep, lastID)
}

func (r *Runner) clearCheckpoint(ctx context.Context, sweep string) {
	if r.dedupe == nil {
		return
	}
	if err := r.dedupe.ClearCheckpoint(ctx, sweep); err != nil {
		r.log.Warn("checkpoint clear failed", zap.String("sweep", sweep), zap.Error(err))
	}
}

func (s *Summary) fail(recordID string, err error) {
	s.Failed++
	telemetry.SweepItemFailures.Inc()
	if recordID != "" {
		s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", recordID, err))
		return
	}
	s.Errors = append(s.Errors, err.Error())
}
