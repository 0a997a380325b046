package importer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/steamtradebot/internal/analyzer"
	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

type fakeClient struct {
	mu         sync.Mutex
	history    string
	book       string
	historyErr error
	bookErr    error
	delay      time.Duration

	active    map[string]int
	maxActive map[string]int
	calls     int
}

func (c *fakeClient) enter(id domain.ItemIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		c.active = map[string]int{}
		c.maxActive = map[string]int{}
	}
	c.calls++
	c.active[id.Key()]++
	if c.active[id.Key()] > c.maxActive[id.Key()] {
		c.maxActive[id.Key()] = c.active[id.Key()]
	}
}

func (c *fakeClient) leave(id domain.ItemIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[id.Key()]--
}

func (c *fakeClient) FetchSellHistory(ctx context.Context, id domain.ItemIdentity) (string, error) {
	c.enter(id)
	defer c.leave(id)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", &domain.FetchError{Kind: domain.FetchTransient, Op: "sell history", Err: ctx.Err()}
		}
	}
	if c.historyErr != nil {
		return "", c.historyErr
	}
	return c.history, nil
}

func (c *fakeClient) FetchOrderBook(_ context.Context, _ domain.ItemIdentity) (string, error) {
	if c.bookErr != nil {
		return "", c.bookErr
	}
	return c.book, nil
}

func (c *fakeClient) maxConcurrent(id domain.ItemIdentity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxActive[id.Key()]
}

type memHistory struct {
	mu        sync.Mutex
	records   []domain.SellHistoryRecord
	appendErr error
}

func (s *memHistory) Append(_ context.Context, rec domain.SellHistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memHistory) LatestWindow(_ context.Context, id domain.ItemIdentity, since time.Time) ([]domain.SellEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newest := map[int64]time.Time{}
	for _, rec := range s.records {
		if rec.Identity != id {
			continue
		}
		for _, e := range rec.Entries {
			k := e.Timestamp.UnixNano()
			if rec.Timestamp.After(newest[k]) {
				newest[k] = rec.Timestamp
			}
		}
	}

	var out []domain.SellEntry
	for _, rec := range s.records {
		if rec.Identity != id {
			continue
		}
		for _, e := range rec.Entries {
			if e.Timestamp.Before(since) || !rec.Timestamp.Equal(newest[e.Timestamp.UnixNano()]) {
				continue
			}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return analyzer.Dedup(out), nil
}

func (s *memHistory) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type memResults struct {
	mu        sync.Mutex
	rows      map[domain.ItemIdentity]domain.AnalyzeResult
	upserts   int
	upsertErr error
}

func newMemResults() *memResults {
	return &memResults{rows: map[domain.ItemIdentity]domain.AnalyzeResult{}}
}

func (s *memResults) Get(_ context.Context, id domain.ItemIdentity) (domain.AnalyzeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.rows[id]
	if !ok {
		return domain.AnalyzeResult{}, domain.ErrNotFound
	}
	return res, nil
}

func (s *memResults) Upsert(_ context.Context, res domain.AnalyzeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts++
	s.rows[res.Identity] = res
	return nil
}

func (s *memResults) List(_ context.Context, recommendedOnly bool, _ domain.ListOpts) ([]domain.AnalyzeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AnalyzeResult
	for _, r := range s.rows {
		if recommendedOnly && !r.Recommended {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type memItems struct {
	items map[string]domain.MarketItem
}

func (s *memItems) Upsert(_ context.Context, item domain.MarketItem) error {
	s.items[item.MarketHashName] = item
	return nil
}

func (s *memItems) Get(_ context.Context, _ int64, name string) (domain.MarketItem, error) {
	item, ok := s.items[name]
	if !ok {
		return domain.MarketItem{}, domain.ErrNotFound
	}
	return item, nil
}

func (s *memItems) List(_ context.Context, _ domain.ListOpts) ([]domain.MarketItem, error) {
	var out []domain.MarketItem
	for _, it := range s.items {
		out = append(out, it)
	}
	return out, nil
}

type memBooks struct {
	mu    sync.Mutex
	snaps []domain.OrderBookSnapshot
}

func (s *memBooks) Append(_ context.Context, snap domain.OrderBookSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *memBooks) Latest(_ context.Context, id domain.ItemIdentity) (domain.OrderBookSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.snaps) - 1; i >= 0; i-- {
		if s.snaps[i].Identity == id {
			return s.snaps[i], nil
		}
	}
	return domain.OrderBookSnapshot{}, domain.ErrNotFound
}

type recordingBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = map[string][][]byte{}
	}
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *recordingBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return b.Publish(ctx, stream, payload)
}

type failingArchiver struct {
	calls int
}

func (a *failingArchiver) Archive(_ context.Context, _ domain.ItemIdentity, _ string, _ time.Time, _ string) (string, error) {
	a.calls++
	return "", context.DeadlineExceeded
}

type heldOnceLease struct {
	mu       sync.Mutex
	attempts int
	released int
}

func (l *heldOnceLease) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.attempts == 1 {
		return nil, domain.ErrLockHeld
	}
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

type brokenLease struct {
	err error
}

func (l brokenLease) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, l.err
}
