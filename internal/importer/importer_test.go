package importer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/steamtradebot/internal/analyzer"
	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

var (
	now    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	itemID = domain.ItemIdentity{AppID: 730, MarketHashName: "Chroma 2 Case", Currency: domain.CurrencyUSD}
)

const (
	historyDump = `{"success":true,"prices":[
		["Mar 20 2024 10: +0", 0.80, "1"],
		["Apr 21 2024 10: +0", 0.90, "1"],
		["Apr 30 2024 22: +0", 1.00, "1"]
	]}`
	bookDump = `{"success":1,"buy_order_graph":[[0.95,5,""]],"sell_order_graph":[[1.15,3,""],[1.30,9,""]]}`
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestImporter(client *fakeClient, history *memHistory, results *memResults, cfg analyzer.Config) *Importer {
	return New(client, history, results, analyzer.New(cfg), testLogger()).
		WithClock(func() time.Time { return now })
}

func TestImport_Success(t *testing.T) {
	client := &fakeClient{history: historyDump, book: bookDump}
	history := &memHistory{}
	results := newMemResults()
	books := &memBooks{}
	bus := &recordingBus{}

	im := newTestImporter(client, history, results, analyzer.DefaultConfig()).
		WithOrderBooks(books).
		WithSignalBus(bus)

	out := im.Import(context.Background(), itemID)
	require.False(t, out.Failed(), "unexpected failure: %v", out.Err)
	require.NotNil(t, out.Result)

	assert.Equal(t, StageDone, out.Stage)
	assert.Equal(t, KindNone, out.Kind)
	assert.Nil(t, out.Previous)
	assert.Equal(t, 1, out.Result.SellsLastDay)
	assert.Equal(t, 1, out.Result.SellsLastWeek)
	assert.Equal(t, 2, out.Result.SellsLastMonth)
	assert.Equal(t, int64(115), out.Result.SellOrder.Amount)
	assert.Equal(t, int64(100), out.Result.SellOrderNoFee.Amount)
	require.NotNil(t, out.Result.Deviation)

	assert.Equal(t, 1, history.count())
	assert.Equal(t, historyDump, history.records[0].History)
	assert.Equal(t, now, history.records[0].Timestamp)
	require.Len(t, books.snaps, 1)
	assert.Equal(t, int64(95), books.snaps[0].BuyOrder.Amount)

	stored, err := results.Get(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, *out.Result, stored)

	assert.Len(t, bus.messages[domain.ChannelAnalysis], 1)
	assert.Len(t, bus.messages[domain.StreamAnalysis], 1)
}

func TestImport_Idempotent(t *testing.T) {
	client := &fakeClient{history: historyDump, book: bookDump}
	history := &memHistory{}
	results := newMemResults()
	im := newTestImporter(client, history, results, analyzer.DefaultConfig())

	first := im.Import(context.Background(), itemID)
	second := im.Import(context.Background(), itemID)
	require.False(t, first.Failed())
	require.False(t, second.Failed())

	a, err := json.Marshal(first.Result)
	require.NoError(t, err)
	b, err := json.Marshal(second.Result)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, string(a), string(b))

	assert.Equal(t, 2, history.count())
	assert.Len(t, results.rows, 1)
	assert.Equal(t, 2, results.upserts)
	require.NotNil(t, second.Previous)
	assert.Equal(t, *first.Result, *second.Previous)
}

func TestImport_UsesPersistedWindow(t *testing.T) {
	client := &fakeClient{history: historyDump, book: bookDump}
	history := &memHistory{}
	results := newMemResults()
	im := newTestImporter(client, history, results, analyzer.DefaultConfig())

	require.False(t, im.Import(context.Background(), itemID).Failed())

	client.history = `[["May 01 2024 09: +0", 1.00, "2"]]`
	out := im.Import(context.Background(), itemID)
	require.False(t, out.Failed())

	assert.Equal(t, 3, out.Result.SellsLastDay)
	assert.Equal(t, 4, out.Result.SellsLastMonth)
}

func TestImport_MalformedHistory(t *testing.T) {
	client := &fakeClient{history: `"no delimiter here"`, book: bookDump}
	history := &memHistory{}
	results := newMemResults()
	im := newTestImporter(client, history, results, analyzer.DefaultConfig())

	out := im.Import(context.Background(), itemID)

	assert.True(t, out.Failed())
	assert.Equal(t, StageParsing, out.Stage)
	assert.Equal(t, KindMalformed, out.Kind)
	assert.False(t, out.Retryable)
	var perr *domain.ParseError
	assert.True(t, errors.As(out.Err, &perr))
	assert.Zero(t, history.count())
	assert.Zero(t, results.upserts)
}

func TestImport_FetchFailures(t *testing.T) {
	tests := []struct {
		name      string
		client    *fakeClient
		kind      ErrorKind
		retryable bool
	}{
		{
			name: "transient history",
			client: &fakeClient{book: bookDump, historyErr: &domain.FetchError{
				Kind: domain.FetchTransient, Op: "sell history", Err: errors.New("429 too many requests"),
			}},
			kind:      KindTransient,
			retryable: true,
		},
		{
			name: "permanent book",
			client: &fakeClient{history: historyDump, bookErr: &domain.FetchError{
				Kind: domain.FetchPermanent, Op: "order book", Err: errors.New("404 not found"),
			}},
			kind:      KindPermanent,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := &memHistory{}
			results := newMemResults()
			out := newTestImporter(tt.client, history, results, analyzer.DefaultConfig()).
				Import(context.Background(), itemID)

			assert.Equal(t, StageFetching, out.Stage)
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.retryable, out.Retryable)
			assert.Zero(t, history.count())
			assert.Zero(t, results.upserts)
		})
	}
}

func TestImport_ResultPersistFailureKeepsStaleResult(t *testing.T) {
	client := &fakeClient{history: historyDump, book: bookDump}
	history := &memHistory{}
	results := newMemResults()
	im := newTestImporter(client, history, results, analyzer.DefaultConfig())

	first := im.Import(context.Background(), itemID)
	require.False(t, first.Failed())

	results.upsertErr = errors.New("connection reset")
	client.history = `[["May 01 2024 09: +0", 1.00, "2"]]`
	out := im.Import(context.Background(), itemID)

	assert.Equal(t, StagePersistingResult, out.Stage)
	assert.Equal(t, KindPersistence, out.Kind)
	assert.True(t, out.Retryable)
	var pe *domain.PersistenceError
	assert.True(t, errors.As(out.Err, &pe))

	assert.Equal(t, 2, history.count())
	stored, err := results.Get(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, *first.Result, stored)

	results.upsertErr = nil
	client.history = `[]`
	recovered := im.Import(context.Background(), itemID)
	require.False(t, recovered.Failed())
	assert.Equal(t, 3, recovered.Result.SellsLastDay)
}

func TestImport_HistoryPersistFailure(t *testing.T) {
	client := &fakeClient{history: historyDump, book: bookDump}
	history := &memHistory{appendErr: errors.New("disk full")}
	results := newMemResults()

	out := newTestImporter(client, history, results, analyzer.DefaultConfig()).Import(context.Background(), itemID)

	assert.Equal(t, StagePersistingHistory, out.Stage)
	assert.Equal(t, KindPersistence, out.Kind)
	assert.Zero(t, results.upserts)
}

func TestImport_NeverTradable(t *testing.T) {
	never := domain.NeverTradable
	items := &memItems{items: map[string]domain.MarketItem{
		itemID.MarketHashName: {AppID: itemID.AppID, MarketHashName: itemID.MarketHashName, TradableRestriction: &never},
	}}
	cfg := analyzer.Config{MinDailySales: 0, MinDeviation: -1, MaxDeviation: 1, ReferenceSize: 10}

	tradable := newTestImporter(&fakeClient{history: historyDump, book: bookDump}, &memHistory{}, newMemResults(), cfg)
	out := tradable.Import(context.Background(), itemID)
	require.False(t, out.Failed())
	assert.True(t, out.Result.Recommended)

	restricted := newTestImporter(&fakeClient{history: historyDump, book: bookDump}, &memHistory{}, newMemResults(), cfg).
		WithItems(items)
	out = restricted.Import(context.Background(), itemID)
	require.False(t, out.Failed())
	assert.False(t, out.Result.Recommended)
}

func TestImport_RecommendationFlip(t *testing.T) {
	cfg := analyzer.Config{MinDailySales: 0, MinDeviation: -1, MaxDeviation: 1, ReferenceSize: 10}
	im := newTestImporter(&fakeClient{history: historyDump, book: bookDump}, &memHistory{}, newMemResults(), cfg)

	first := im.Import(context.Background(), itemID)
	second := im.Import(context.Background(), itemID)

	assert.True(t, first.BecameRecommended())
	assert.False(t, second.BecameRecommended())
}

func TestImport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{history: historyDump, book: bookDump, delay: time.Second}
	history := &memHistory{}
	out := newTestImporter(client, history, newMemResults(), analyzer.DefaultConfig()).Import(ctx, itemID)

	assert.True(t, out.Failed())
	assert.Equal(t, KindCancelled, out.Kind)
	assert.Zero(t, history.count())
}

func TestImport_BestEffortSideEffects(t *testing.T) {
	archiver := &failingArchiver{}
	im := newTestImporter(&fakeClient{history: historyDump, book: bookDump}, &memHistory{}, newMemResults(), analyzer.DefaultConfig()).
		WithArchiver(archiver)

	out := im.Import(context.Background(), itemID)
	assert.False(t, out.Failed())
	assert.Equal(t, 2, archiver.calls)
}

func TestImport_LeaseRetriesUntilGranted(t *testing.T) {
	lease := &heldOnceLease{}
	im := newTestImporter(&fakeClient{history: historyDump, book: bookDump}, &memHistory{}, newMemResults(), analyzer.DefaultConfig()).
		WithLease(lease, time.Minute)

	out := im.Import(context.Background(), itemID)
	require.False(t, out.Failed())
	assert.Equal(t, 2, lease.attempts)
	assert.Equal(t, 1, lease.released)
}

func TestImportBatch(t *testing.T) {
	other := domain.ItemIdentity{AppID: 570, MarketHashName: "Treasure of the Cryptic Beacon", Currency: domain.CurrencyUSD}
	missing := domain.ItemIdentity{AppID: 440, MarketHashName: "Mann Co. Supply Crate Key", Currency: domain.CurrencyEUR}

	client := &fakeClient{history: historyDump, book: bookDump}
	results := newMemResults()
	im := newTestImporter(client, &memHistory{}, results, analyzer.DefaultConfig()).WithWorkers(2)

	ids := []domain.ItemIdentity{itemID, other, missing}
	outcomes := im.ImportBatch(context.Background(), ids)

	require.Len(t, outcomes, len(ids))
	for i, out := range outcomes {
		assert.Equal(t, ids[i], out.Identity)
		assert.False(t, out.Failed())
	}
	assert.Len(t, results.rows, 3)
}

func TestImportBatch_IsolatesFailures(t *testing.T) {
	results := newMemResults()
	client := &switchingClient{
		fakeClient: fakeClient{history: historyDump, book: bookDump},
		bad:        "Broken Item",
	}
	im := New(client, &memHistory{}, results, analyzer.New(analyzer.DefaultConfig()), testLogger()).
		WithClock(func() time.Time { return now })

	broken := domain.ItemIdentity{AppID: 730, MarketHashName: "Broken Item", Currency: domain.CurrencyUSD}
	outcomes := im.ImportBatch(context.Background(), []domain.ItemIdentity{broken, itemID})

	require.Len(t, outcomes, 2)
	assert.Equal(t, StageParsing, outcomes[0].Stage)
	assert.Equal(t, StageDone, outcomes[1].Stage)
}

func TestImportBatch_SerializesSameIdentity(t *testing.T) {
	client := &fakeClient{history: historyDump, book: bookDump, delay: 20 * time.Millisecond}
	history := &memHistory{}
	results := newMemResults()
	im := newTestImporter(client, history, results, analyzer.DefaultConfig()).WithWorkers(8)

	ids := []domain.ItemIdentity{itemID, itemID, itemID, itemID, itemID}
	outcomes := im.ImportBatch(context.Background(), ids)

	for _, out := range outcomes {
		assert.False(t, out.Failed())
	}
	assert.Equal(t, 1, client.maxConcurrent(itemID))
	assert.Equal(t, 5, history.count())
	assert.Len(t, results.rows, 1)
	assert.False(t, im.InFlight(itemID))
}

// switchingClient serves a malformed history for one item name.
type switchingClient struct {
	fakeClient
	bad string
}

func (c *switchingClient) FetchSellHistory(ctx context.Context, id domain.ItemIdentity) (string, error) {
	if id.MarketHashName == c.bad {
		return "<html>", nil
	}
	return c.fakeClient.FetchSellHistory(ctx, id)
}

// steppedClock is a clock the test moves forward between captures.
type steppedClock struct {
	at time.Time
}

func (c *steppedClock) now() time.Time { return c.at }

func TestImport_DayOffsetReimportDoesNotDoubleCount(t *testing.T) {
	clock := &steppedClock{at: now}
	client := &fakeClient{history: `[[0,1.00,2],[3,1.00,4]]`, book: bookDump}
	im := New(client, &memHistory{}, newMemResults(), analyzer.New(analyzer.DefaultConfig()), testLogger()).
		WithClock(clock.now)

	first := im.Import(context.Background(), itemID)
	require.False(t, first.Failed(), "unexpected failure: %v", first.Err)
	assert.Equal(t, 2, first.Result.SellsLastDay)
	assert.Equal(t, 6, first.Result.SellsLastWeek)
	assert.Equal(t, 6, first.Result.SellsLastMonth)

	clock.at = now.Add(time.Hour)
	second := im.Import(context.Background(), itemID)
	require.False(t, second.Failed(), "unexpected failure: %v", second.Err)
	assert.Equal(t, 2, second.Result.SellsLastDay)
	assert.Equal(t, 6, second.Result.SellsLastWeek)
	assert.Equal(t, 6, second.Result.SellsLastMonth)
}

func TestImport_RevisedHourRowReplacesStoredRow(t *testing.T) {
	clock := &steppedClock{at: now}
	client := &fakeClient{history: `[["May 01 2024 10: +0",1.00,"2"]]`, book: bookDump}
	im := New(client, &memHistory{}, newMemResults(), analyzer.New(analyzer.DefaultConfig()), testLogger()).
		WithClock(clock.now)

	require.False(t, im.Import(context.Background(), itemID).Failed())

	clock.at = now.Add(10 * time.Minute)
	client.history = `[["May 01 2024 10: +0",1.02,"3"]]`
	out := im.Import(context.Background(), itemID)
	require.False(t, out.Failed(), "unexpected failure: %v", out.Err)
	assert.Equal(t, 3, out.Result.SellsLastDay)
	assert.Equal(t, 3, out.Result.SellsLastMonth)
}

func TestImport_RepeatedCapturesKeepCountsStable(t *testing.T) {
	clock := &steppedClock{at: now}
	client := &fakeClient{book: bookDump, history: `[
		["Apr 30 2024 22: +0",1.00,"1"],
		["Apr 30 2024 20: +0",1.00,"1"],
		["Apr 30 2024 22: +0",1.00,"1"]
	]`}
	im := New(client, &memHistory{}, newMemResults(), analyzer.New(analyzer.DefaultConfig()), testLogger()).
		WithClock(clock.now)

	first := im.Import(context.Background(), itemID)
	require.False(t, first.Failed(), "unexpected failure: %v", first.Err)
	assert.Equal(t, 2, first.Result.SellsLastDay)

	// Out of order, and older rows only reachable through the stored window.
	clock.at = now.Add(2 * time.Hour)
	client.history = `[["May 01 2024 13: +0",1.10,"2"],["May 01 2024 09: +0",1.00,"1"]]`
	second := im.Import(context.Background(), itemID)
	require.False(t, second.Failed(), "unexpected failure: %v", second.Err)
	assert.Equal(t, 5, second.Result.SellsLastDay)
	assert.Equal(t, 5, second.Result.SellsLastMonth)

	client.history = `[]`
	for i := 3; i <= 4; i++ {
		clock.at = now.Add(time.Duration(i) * time.Hour)
		out := im.Import(context.Background(), itemID)
		require.False(t, out.Failed(), "unexpected failure: %v", out.Err)
		assert.Equal(t, 5, out.Result.SellsLastDay)
		assert.Equal(t, 5, out.Result.SellsLastMonth)
	}
}

func TestImport_LeaseBackendFailureIsRetryable(t *testing.T) {
	client := &fakeClient{history: historyDump, book: bookDump}
	history := &memHistory{}
	im := newTestImporter(client, history, newMemResults(), analyzer.DefaultConfig()).
		WithLease(brokenLease{err: errors.New("dial tcp 127.0.0.1:6379: i/o timeout")}, time.Minute)

	out := im.Import(context.Background(), itemID)

	assert.Equal(t, StageFetching, out.Stage)
	assert.Equal(t, KindPersistence, out.Kind)
	assert.True(t, out.Retryable)
	var pe *domain.PersistenceError
	assert.True(t, errors.As(out.Err, &pe))
	assert.Zero(t, client.calls)
	assert.Zero(t, history.count())
}

func TestMerge_FreshRowsWinPerTimestamp(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2024, 5, 1, h, 0, 0, 0, time.UTC) }
	usd := func(a int64) domain.Money { return domain.NewMoney(a, domain.CurrencyUSD) }

	prior := []domain.SellEntry{
		{Timestamp: at(8), Price: usd(90), Quantity: 1},
		{Timestamp: at(10), Price: usd(100), Quantity: 2},
	}
	fresh := []domain.SellEntry{
		{Timestamp: at(11), Price: usd(110), Quantity: 1},
		{Timestamp: at(10), Price: usd(102), Quantity: 3},
	}

	assert.Equal(t, []domain.SellEntry{
		{Timestamp: at(8), Price: usd(90), Quantity: 1},
		{Timestamp: at(10), Price: usd(102), Quantity: 3},
		{Timestamp: at(11), Price: usd(110), Quantity: 1},
	}, merge(prior, fresh))
}
