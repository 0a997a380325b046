// Package importer drives import cycles: fetch an item's raw dumps, parse
// them, persist the raw history, analyze and upsert the derived result.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/steamtradebot/internal/analyzer"
	"github.com/alanyoungcy/steamtradebot/internal/domain"
	"github.com/alanyoungcy/steamtradebot/internal/dump"
	"github.com/alanyoungcy/steamtradebot/internal/metrics"
)

const (
	defaultWorkers  = 4
	defaultLeaseTTL = 2 * time.Minute
	leaseRetry      = 250 * time.Millisecond
)

// Importer runs import cycles. At most one cycle per item identity is in
// flight at a time; cycles for different identities run in parallel.
type Importer struct {
	client   domain.MarketplaceClient
	history  domain.SellHistoryStore
	results  domain.AnalyzeResultStore
	analyzer *analyzer.Analyzer
	logger   *slog.Logger

	items    domain.MarketItemStore
	books    domain.OrderBookStore
	lease    domain.LockManager
	leaseTTL time.Duration
	archiver domain.DumpArchiver
	cache    domain.ResultCache
	bus      domain.SignalBus
	metrics  *metrics.Metrics

	clock   func() time.Time
	workers int
	locks   *keyedLock
}

// New creates an Importer with its required collaborators.
func New(
	client domain.MarketplaceClient,
	history domain.SellHistoryStore,
	results domain.AnalyzeResultStore,
	an *analyzer.Analyzer,
	logger *slog.Logger,
) *Importer {
	return &Importer{
		client:   client,
		history:  history,
		results:  results,
		analyzer: an,
		logger:   logger,
		leaseTTL: defaultLeaseTTL,
		clock:    time.Now,
		workers:  defaultWorkers,
		locks:    newKeyedLock(),
	}
}

// WithItems attaches the catalogue so the analyzer sees fee overrides and
// trade restrictions. Without it every item is treated as tradable.
func (im *Importer) WithItems(items domain.MarketItemStore) *Importer {
	im.items = items
	return im
}

// WithOrderBooks persists an order-book snapshot alongside each history
// record.
func (im *Importer) WithOrderBooks(books domain.OrderBookStore) *Importer {
	im.books = books
	return im
}

// WithLease adds a distributed per-identity lease on top of the in-process
// lock, for deployments running several importers.
func (im *Importer) WithLease(lease domain.LockManager, ttl time.Duration) *Importer {
	im.lease = lease
	if ttl > 0 {
		im.leaseTTL = ttl
	}
	return im
}

// WithArchiver copies raw dumps to cold storage. Archive failures are logged
// and never fail a cycle.
func (im *Importer) WithArchiver(a domain.DumpArchiver) *Importer {
	im.archiver = a
	return im
}

// WithCache writes each new result to the result cache.
func (im *Importer) WithCache(c domain.ResultCache) *Importer {
	im.cache = c
	return im
}

// WithSignalBus publishes each new result on domain.ChannelAnalysis and
// domain.StreamAnalysis.
func (im *Importer) WithSignalBus(bus domain.SignalBus) *Importer {
	im.bus = bus
	return im
}

// WithMetrics records cycle metrics.
func (im *Importer) WithMetrics(m *metrics.Metrics) *Importer {
	im.metrics = m
	return im
}

// WithClock overrides the time source.
func (im *Importer) WithClock(clock func() time.Time) *Importer {
	im.clock = clock
	return im
}

// WithWorkers bounds ImportBatch parallelism.
func (im *Importer) WithWorkers(n int) *Importer {
	if n > 0 {
		im.workers = n
	}
	return im
}

// InFlight reports whether a cycle for id is running or queued in this
// process.
func (im *Importer) InFlight(id domain.ItemIdentity) bool {
	return im.locks.InFlight(id.Key())
}

// Import runs one cycle for id. It never retries; Outcome.Retryable tells the
// caller whether retrying later can help.
func (im *Importer) Import(ctx context.Context, id domain.ItemIdentity) Outcome {
	start := time.Now()
	out := im.run(ctx, id)
	elapsed := time.Since(start)

	im.metrics.ObserveImport(out.Stage.String(), out.Kind.String(), elapsed)

	if out.Failed() {
		im.logger.WarnContext(ctx, "importer: cycle failed",
			slog.String("item", id.Key()),
			slog.String("stage", out.Stage.String()),
			slog.String("kind", out.Kind.String()),
			slog.Bool("retryable", out.Retryable),
			slog.String("error", out.Err.Error()),
		)
		return out
	}

	im.logger.DebugContext(ctx, "importer: cycle done",
		slog.String("item", id.Key()),
		slog.Int("sells_last_day", out.Result.SellsLastDay),
		slog.Bool("recommended", out.Result.Recommended),
		slog.Int("skipped", out.Skipped),
		slog.Duration("elapsed", elapsed),
	)
	return out
}

// ImportBatch imports every identity with at most the configured number of
// cycles in parallel. The i-th outcome belongs to ids[i]; one item's failure
// never affects the others.
func (im *Importer) ImportBatch(ctx context.Context, ids []domain.ItemIdentity) []Outcome {
	outcomes := make([]Outcome, len(ids))

	var g errgroup.Group
	g.SetLimit(im.workers)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = im.Import(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (im *Importer) run(ctx context.Context, id domain.ItemIdentity) Outcome {
	unlock, err := im.locks.Lock(ctx, id.Key())
	if err != nil {
		return failed(id, StageFetching, err)
	}
	defer unlock()

	if im.lease != nil {
		release, err := im.acquireLease(ctx, id)
		if err != nil {
			return failed(id, StageFetching, err)
		}
		defer release()
	}

	// Fetching.
	var historyRaw, bookRaw string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := im.client.FetchSellHistory(gctx, id)
		historyRaw = raw
		return err
	})
	g.Go(func() error {
		raw, err := im.client.FetchOrderBook(gctx, id)
		bookRaw = raw
		return err
	})
	if err := g.Wait(); err != nil {
		return failed(id, StageFetching, fmt.Errorf("importer: fetch: %w", err))
	}
	now := im.clock().UTC().Truncate(time.Microsecond)

	// Parsing.
	if err := ctx.Err(); err != nil {
		return failed(id, StageParsing, err)
	}
	history, err := dump.ParseSellHistory(historyRaw, id.Currency, now)
	if err != nil {
		return failed(id, StageParsing, fmt.Errorf("importer: %w", err))
	}
	book, err := dump.ParseOrderBook(bookRaw, id.Currency)
	if err != nil {
		return failed(id, StageParsing, fmt.Errorf("importer: %w", err))
	}
	im.metrics.SkippedRows(domain.DumpSellHistory, history.Skipped)
	im.metrics.SkippedRows(domain.DumpOrderBook, book.Skipped)
	skipped := history.Skipped + book.Skipped

	// Persisting history.
	if err := ctx.Err(); err != nil {
		return failed(id, StagePersistingHistory, err)
	}
	item, err := im.lookupItem(ctx, id)
	if err != nil {
		return failed(id, StagePersistingHistory, err)
	}
	rec := domain.SellHistoryRecord{
		Identity:  id,
		Timestamp: now,
		History:   historyRaw,
		Entries:   history.Entries,
	}
	if err := im.history.Append(ctx, rec); err != nil {
		return failed(id, StagePersistingHistory, persistErr("append sell history", err))
	}
	snap := book.Snapshot(id, now, bookRaw, domain.FeeFor(item))
	if im.books != nil {
		if err := im.books.Append(ctx, snap); err != nil {
			return failed(id, StagePersistingHistory, persistErr("append order book", err))
		}
	}
	im.archive(ctx, id, now, historyRaw, bookRaw)

	// Analyzing.
	if err := ctx.Err(); err != nil {
		return failed(id, StageAnalyzing, err)
	}
	prior, err := im.history.LatestWindow(ctx, id, now.Add(-analyzer.Month))
	if err != nil {
		return failed(id, StageAnalyzing, persistErr("load history window", err))
	}
	res := im.analyzer.Analyze(analyzer.Input{
		Identity: id,
		Item:     item,
		Entries:  merge(prior, history.Entries),
		Now:      now,
		Book:     &snap,
	})

	// Persisting result.
	if err := ctx.Err(); err != nil {
		return failed(id, StagePersistingResult, err)
	}
	var previous *domain.AnalyzeResult
	prev, err := im.results.Get(ctx, id)
	switch {
	case err == nil:
		previous = &prev
	case !errors.Is(err, domain.ErrNotFound):
		return failed(id, StagePersistingResult, persistErr("get analyze result", err))
	}
	if err := im.results.Upsert(ctx, res); err != nil {
		return failed(id, StagePersistingResult, persistErr("upsert analyze result", err))
	}
	im.publish(ctx, res)

	return Outcome{
		Identity: id,
		Stage:    StageDone,
		Kind:     KindNone,
		Result:   &res,
		Previous: previous,
		Skipped:  skipped,
	}
}

func (im *Importer) lookupItem(ctx context.Context, id domain.ItemIdentity) (*domain.MarketItem, error) {
	if im.items == nil {
		return nil, nil
	}
	item, err := im.items.Get(ctx, id.AppID, id.MarketHashName)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("get market item", err)
	}
	return &item, nil
}

// acquireLease polls the distributed lock until it is granted or ctx ends.
func (im *Importer) acquireLease(ctx context.Context, id domain.ItemIdentity) (func(), error) {
	key := "import:" + id.Key()
	for {
		release, err := im.lease.Acquire(ctx, key, im.leaseTTL)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, persistErr("acquire lease", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(leaseRetry):
		}
	}
}

func (im *Importer) archive(ctx context.Context, id domain.ItemIdentity, now time.Time, historyRaw, bookRaw string) {
	if im.archiver == nil {
		return
	}
	dumps := []struct{ kind, raw string }{
		{domain.DumpSellHistory, historyRaw},
		{domain.DumpOrderBook, bookRaw},
	}
	for _, d := range dumps {
		kind, raw := d.kind, d.raw
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := im.archiver.Archive(ctx, id, kind, now, raw); err != nil {
			im.logger.WarnContext(ctx, "importer: archive dump failed",
				slog.String("item", id.Key()),
				slog.String("dump", kind),
				slog.String("error", err.Error()),
			)
		}
	}
}

// publish fans the new result out to the cache and the signal bus. Failures
// are logged only.
func (im *Importer) publish(ctx context.Context, res domain.AnalyzeResult) {
	if im.cache != nil {
		if err := im.cache.Set(ctx, res); err != nil {
			im.logger.WarnContext(ctx, "importer: cache set failed",
				slog.String("item", res.Identity.Key()),
				slog.String("error", err.Error()),
			)
		}
	}
	if im.bus == nil {
		return
	}

	payload, err := json.Marshal(res)
	if err != nil {
		im.logger.WarnContext(ctx, "importer: marshal result failed", slog.String("error", err.Error()))
		return
	}
	if err := im.bus.Publish(ctx, domain.ChannelAnalysis, payload); err != nil {
		im.logger.WarnContext(ctx, "importer: publish failed",
			slog.String("item", res.Identity.Key()),
			slog.String("error", err.Error()),
		)
	}
	if err := im.bus.StreamAppend(ctx, domain.StreamAnalysis, payload); err != nil {
		im.logger.WarnContext(ctx, "importer: stream append failed",
			slog.String("item", res.Identity.Key()),
			slog.String("error", err.Error()),
		)
	}
}

// merge joins persisted and fresh entries into one ascending stream. Stored
// rows only fill timestamps the fresh dump does not cover, so a revised row
// replaces its earlier version instead of adding to it. Exact duplicates are
// left for the analyzer to drop.
func merge(prior, fresh []domain.SellEntry) []domain.SellEntry {
	covered := make(map[int64]struct{}, len(fresh))
	for _, e := range fresh {
		covered[e.Timestamp.UnixNano()] = struct{}{}
	}

	out := make([]domain.SellEntry, 0, len(prior)+len(fresh))
	for _, e := range prior {
		if _, ok := covered[e.Timestamp.UnixNano()]; !ok {
			out = append(out, e)
		}
	}
	out = append(out, fresh...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func persistErr(op string, err error) error {
	return &domain.PersistenceError{Op: op, Err: err}
}
