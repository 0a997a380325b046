// Package pipeline schedules batch imports over the tracked catalogue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
	"github.com/alanyoungcy/steamtradebot/internal/importer"
	"github.com/alanyoungcy/steamtradebot/internal/metrics"
	"github.com/alanyoungcy/steamtradebot/internal/notify"
)

// ErrBatchRunning is returned when a batch is requested while one is in
// progress.
var ErrBatchRunning = errors.New("pipeline: batch already running")

const (
	pageSize        = 500
	maxFailureLines = 10
	defaultInterval = time.Hour
)

// BatchImporter imports a list of identities. *importer.Importer satisfies it.
type BatchImporter interface {
	ImportBatch(ctx context.Context, ids []domain.ItemIdentity) []importer.Outcome
}

// Batch is the result of one scheduler run.
type Batch struct {
	Run      domain.ImportRun
	Outcomes []importer.Outcome
}

// Scheduler imports every tracked item in every configured currency, on a
// ticker and on demand.
type Scheduler struct {
	importer   BatchImporter
	items      domain.MarketItemStore
	currencies []domain.Currency
	interval   time.Duration
	logger     *slog.Logger

	runs     domain.ImportRunStore
	results  domain.AnalyzeResultStore
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	clock    func() time.Time

	trigger chan struct{}
	running sync.Mutex
}

// NewScheduler creates a Scheduler. A non-positive interval defaults to one
// hour.
func NewScheduler(
	imp BatchImporter,
	items domain.MarketItemStore,
	currencies []domain.Currency,
	interval time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		importer:   imp,
		items:      items,
		currencies: currencies,
		interval:   interval,
		logger:     logger.With(slog.String("component", "scheduler")),
		clock:      time.Now,
		trigger:    make(chan struct{}, 1),
	}
}

// WithRunStore records every batch.
func (s *Scheduler) WithRunStore(runs domain.ImportRunStore) *Scheduler {
	s.runs = runs
	return s
}

// WithResults lets the scheduler refresh the recommended-items gauge after
// each batch.
func (s *Scheduler) WithResults(results domain.AnalyzeResultStore) *Scheduler {
	s.results = results
	return s
}

func (s *Scheduler) WithNotifier(n *notify.Notifier) *Scheduler {
	s.notifier = n
	return s
}

func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	return s
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Trigger requests a batch from the Run loop. It returns false when a
// request is already pending.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes a batch immediately, then on every tick or Trigger until ctx
// is done. Batch failures are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started", slog.Duration("interval", s.interval))

	s.runLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runLogged(ctx)
		case <-s.trigger:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "batch failed", slog.String("error", err.Error()))
	}
}

// Identities lists every tracked item paired with every configured currency.
func (s *Scheduler) Identities(ctx context.Context) ([]domain.ItemIdentity, error) {
	var ids []domain.ItemIdentity
	for offset := 0; ; offset += pageSize {
		items, err := s.items.List(ctx, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("pipeline: list items: %w", err)
		}
		for _, it := range items {
			for _, cur := range s.currencies {
				ids = append(ids, it.Identity(cur))
			}
		}
		if len(items) < pageSize {
			return ids, nil
		}
	}
}

// RunOnce imports every identity once. Only one batch runs at a time.
func (s *Scheduler) RunOnce(ctx context.Context) (Batch, error) {
	if !s.running.TryLock() {
		return Batch{}, ErrBatchRunning
	}
	defer s.running.Unlock()

	ids, err := s.Identities(ctx)
	if err != nil {
		return Batch{}, err
	}

	started := s.clock().UTC()
	outcomes := s.importer.ImportBatch(ctx, ids)
	run := summarize(outcomes)
	run.StartedAt = started
	run.FinishedAt = s.clock().UTC()

	s.logger.InfoContext(ctx, "batch finished",
		slog.Int("total", run.Total),
		slog.Int("succeeded", run.Succeeded),
		slog.Int("failed", run.Failed),
		slog.Int("retryable", run.Retryable),
		slog.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
	)

	if s.runs != nil {
		id, err := s.runs.Record(ctx, run)
		if err != nil {
			s.logger.WarnContext(ctx, "record import run failed", slog.String("error", err.Error()))
		} else {
			run.ID = id
		}
	}

	s.refreshGauge(ctx)
	s.notify(ctx, run, outcomes)
	return Batch{Run: run, Outcomes: outcomes}, nil
}

func summarize(outcomes []importer.Outcome) domain.ImportRun {
	run := domain.ImportRun{Total: len(outcomes)}
	for _, o := range outcomes {
		if !o.Failed() {
			run.Succeeded++
			continue
		}
		run.Failed++
		if o.Retryable {
			run.Retryable++
		}
	}
	return run
}

func (s *Scheduler) refreshGauge(ctx context.Context) {
	if s.results == nil || s.metrics == nil {
		return
	}
	n := 0
	for offset := 0; ; offset += pageSize {
		page, err := s.results.List(ctx, true, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			s.logger.WarnContext(ctx, "count recommended failed", slog.String("error", err.Error()))
			return
		}
		n += len(page)
		if len(page) < pageSize {
			break
		}
	}
	s.metrics.SetRecommended(n)
}

func (s *Scheduler) notify(ctx context.Context, run domain.ImportRun, outcomes []importer.Outcome) {
	if s.notifier == nil {
		return
	}

	for _, o := range outcomes {
		if !o.BecameRecommended() {
			continue
		}
		s.send(ctx, notify.EventRecommended,
			"Recommended: "+o.Identity.MarketHashName, describeResult(*o.Result))
	}

	if run.Failed > 0 {
		s.send(ctx, notify.EventImportFailed,
			fmt.Sprintf("%d of %d imports failed", run.Failed, run.Total), describeFailures(outcomes))
	}

	s.send(ctx, notify.EventBatchSummary, "Import batch finished",
		fmt.Sprintf("total=%d succeeded=%d failed=%d retryable=%d", run.Total, run.Succeeded, run.Failed, run.Retryable))
}

func (s *Scheduler) send(ctx context.Context, event, title, msg string) {
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func describeResult(r domain.AnalyzeResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "app %d, currency %d\n", r.Identity.AppID, r.Identity.Currency)
	fmt.Fprintf(&b, "sales: %d day / %d week / %d month", r.SellsLastDay, r.SellsLastWeek, r.SellsLastMonth)
	if r.SellOrder != nil {
		fmt.Fprintf(&b, "\nlowest sell order: %s", r.SellOrder.Decimal().StringFixed(2))
	}
	if r.Deviation != nil {
		fmt.Fprintf(&b, "\ndeviation: %+.2f%%", *r.Deviation*100)
	}
	return b.String()
}

func describeFailures(outcomes []importer.Outcome) string {
	var lines []string
	for _, o := range outcomes {
		if !o.Failed() {
			continue
		}
		if len(lines) == maxFailureLines {
			lines = append(lines, "...")
			break
		}
		lines = append(lines, fmt.Sprintf("%s: %s/%s: %v", o.Identity, o.Stage, o.Kind, o.Err))
	}
	return strings.Join(lines, "\n")
}
