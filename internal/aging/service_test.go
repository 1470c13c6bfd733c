package aging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nobhad/no-bhad-codes-sub015/internal/billing"
	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger/ledgertest"
	"github.com/nobhad/no-bhad-codes-sub015/internal/shared"
)

var asOf = time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

type countingReader struct {
	ledger.Reader
	calls atomic.Int32
	err   error
}

func (c *countingReader) ListOpenInvoices(ctx context.Context, clientID *int64) ([]ledger.Invoice, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.Reader.ListOpenInvoices(ctx, clientID)
}

func newCache(t *testing.T) (*Cache, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), client
}

// seed inserts a sent invoice for amount whose due date is daysOverdue before asOf.
func seed(t *testing.T, store *ledgertest.Store, clientID int64, currency string, amount int64, daysOverdue int) ledger.Invoice {
	t.Helper()
	in := billing.NewInvoiceFromTemplate(billing.Config{}, 1, clientID, currency, ledger.TypeStandard, decimal.Zero,
		[]ledger.LineTemplate{{Description: "Work", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(amount)}})
	billing.IssueAt(&in, asOf.AddDate(0, 0, -daysOverdue-30), 30)
	var inv ledger.Invoice
	err := store.WithTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		inv, err = tx.InsertInvoice(ctx, in)
		return err
	})
	require.NoError(t, err)
	return inv
}

func TestBucketFor(t *testing.T) {
	cases := map[int]string{
		-5:  BucketCurrent,
		0:   BucketCurrent,
		1:   Bucket1to30,
		30:  Bucket1to30,
		31:  Bucket31to60,
		60:  Bucket31to60,
		61:  Bucket61to90,
		90:  Bucket61to90,
		91:  BucketOver90,
		400: BucketOver90,
	}
	for days, want := range cases {
		require.Equal(t, want, BucketFor(days), "days=%d", days)
	}
}

func TestReportPlacesTenDaysOverdueInFirstBucket(t *testing.T) {
	store := ledgertest.NewStore()
	inv := seed(t, store, 3, "USD", 750, 10)

	svc := NewService(store, nil, nil)
	report, err := svc.Report(context.Background(), asOf, nil)
	require.NoError(t, err)

	bucket := report.Bucket(Bucket1to30)
	require.Equal(t, 1, bucket.Count)
	require.True(t, bucket.Total.Equal(decimal.NewFromInt(750)))
	require.Len(t, bucket.Invoices, 1)
	require.Equal(t, inv.ID, bucket.Invoices[0].InvoiceID)
	require.Equal(t, 10, bucket.Invoices[0].DaysOverdue)
	require.Equal(t, string(ledger.StatusOverdue), bucket.Invoices[0].Status)
	require.Zero(t, report.Bucket(BucketCurrent).Count)
}

func TestReportEmptyGivesZeroedBuckets(t *testing.T) {
	svc := NewService(ledgertest.NewStore(), nil, nil)
	report, err := svc.Report(context.Background(), asOf, nil)
	require.NoError(t, err)
	require.Len(t, report.Buckets, len(BucketOrder))
	for i, b := range report.Buckets {
		require.Equal(t, BucketOrder[i], b.Name)
		require.Zero(t, b.Count)
		require.True(t, b.Total.IsZero())
		require.NotNil(t, b.Invoices)
	}
	require.True(t, report.TotalOutstanding.IsZero())
}

func TestReportSpreadsAcrossBucketsAndCurrencies(t *testing.T) {
	store := ledgertest.NewStore()
	seed(t, store, 1, "USD", 100, -5)
	seed(t, store, 1, "USD", 200, 45)
	seed(t, store, 2, "EUR", 300, 75)
	seed(t, store, 2, "USD", 400, 120)
	paid := seed(t, store, 1, "USD", 999, 20)

	bill := billing.NewService(store, billing.Config{}, nil)
	_, err := bill.RecordPayment(context.Background(), billing.RecordPaymentInput{
		InvoiceID: paid.ID, Amount: decimal.NewFromInt(999), Method: "card",
	})
	require.NoError(t, err)

	svc := NewService(store, nil, nil)
	report, err := svc.Report(context.Background(), asOf, nil)
	require.NoError(t, err)

	require.Equal(t, 4, report.InvoiceCount)
	require.Equal(t, 1, report.Bucket(BucketCurrent).Count)
	require.Equal(t, 0, report.Bucket(Bucket1to30).Count)
	require.Equal(t, 1, report.Bucket(Bucket31to60).Count)
	require.Equal(t, 1, report.Bucket(Bucket61to90).Count)
	require.Equal(t, 1, report.Bucket(BucketOver90).Count)
	require.True(t, report.ByCurrency["USD"].Equal(decimal.NewFromInt(700)))
	require.True(t, report.ByCurrency["EUR"].Equal(decimal.NewFromInt(300)))
	require.True(t, report.TotalOutstanding.Equal(decimal.NewFromInt(1000)))

	client := int64(2)
	scoped, err := svc.Report(context.Background(), asOf, &client)
	require.NoError(t, err)
	require.Equal(t, 2, scoped.InvoiceCount)
	require.Equal(t, &client, scoped.ClientID)
}

func TestReportPartialPaymentUsesRemainingBalance(t *testing.T) {
	store := ledgertest.NewStore()
	inv := seed(t, store, 1, "USD", 500, 40)
	bill := billing.NewService(store, billing.Config{}, nil)
	_, err := bill.RecordPayment(context.Background(), billing.RecordPaymentInput{
		InvoiceID: inv.ID, Amount: decimal.RequireFromString("120.25"), Method: "card",
	})
	require.NoError(t, err)

	report, err := NewService(store, nil, nil).Report(context.Background(), asOf, nil)
	require.NoError(t, err)
	require.True(t, report.Bucket(Bucket31to60).Total.Equal(decimal.RequireFromString("379.75")))
}

func TestReportIsCachedUntilBumped(t *testing.T) {
	store := ledgertest.NewStore()
	reader := &countingReader{Reader: store}
	cache, _ := newCache(t)
	svc := NewService(reader, cache, nil)
	ctx := context.Background()
	inv := seed(t, store, 1, "USD", 250, 3)

	first, err := svc.Report(ctx, asOf, nil)
	require.NoError(t, err)
	second, err := svc.Report(ctx, asOf, nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), reader.calls.Load())
	require.True(t, second.TotalOutstanding.Equal(first.TotalOutstanding))

	bill := billing.NewService(store, billing.Config{}, nil)
	bill.SetCache(cache)
	_, err = bill.RecordPayment(ctx, billing.RecordPaymentInput{InvoiceID: inv.ID, Amount: decimal.NewFromInt(250), Method: "card"})
	require.NoError(t, err)

	third, err := svc.Report(ctx, asOf, nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), reader.calls.Load())
	require.Zero(t, third.InvoiceCount)
}

func TestReportFallsBackWhenRedisIsDown(t *testing.T) {
	store := ledgertest.NewStore()
	seed(t, store, 1, "USD", 80, 1)
	cache, client := newCache(t)
	require.NoError(t, client.Close())

	report, err := NewService(store, cache, nil).Report(context.Background(), asOf, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Bucket(Bucket1to30).Count)
}

func TestReportPropagatesStorageErrors(t *testing.T) {
	reader := &countingReader{Reader: ledgertest.NewStore(), err: shared.ErrStorage}
	cache, _ := newCache(t)
	_, err := NewService(reader, cache, nil).Report(context.Background(), asOf, nil)
	require.True(t, errors.Is(err, shared.ErrStorage))
	require.Equal(t, int32(1), reader.calls.Load())
}

func TestConcurrentReportsShareOneBuild(t *testing.T) {
	store := ledgertest.NewStore()
	seed(t, store, 1, "USD", 10, 2)
	reader := &countingReader{Reader: store}
	cache, _ := newCache(t)
	svc := NewService(reader, cache, nil)

	var (
		wg     sync.WaitGroup
		counts = make(chan int, 8)
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := svc.Report(context.Background(), asOf, nil)
			if err != nil {
				counts <- -1
				return
			}
			counts <- report.InvoiceCount
		}()
	}
	wg.Wait()
	close(counts)
	for n := range counts {
		require.Equal(t, 1, n)
	}
	require.LessOrEqual(t, reader.calls.Load(), int32(8))
	require.GreaterOrEqual(t, reader.calls.Load(), int32(1))
}

func TestHandlerServesReport(t *testing.T) {
	store := ledgertest.NewStore()
	seed(t, store, 4, "USD", 60, 95)
	svc := NewService(store, nil, nil)
	router := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/aging?as_of=2026-06-30&client_id=4", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Bucket(BucketOver90).Count)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/aging?as_of=30-06-2026", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
