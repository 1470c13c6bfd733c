package aging

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nobhad/no-bhad-codes-sub015/internal/ledger"
)

// Service serves cached aging reports.
type Service struct {
	reader ledger.Reader
	cache  *Cache
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the reporter. cache may be nil.
func NewService(reader ledger.Reader, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		reader: reader,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Report returns the aging report at asOf, optionally scoped to one client.
// A zero asOf means today. Cache failures fall back to a direct build.
func (s *Service) Report(ctx context.Context, asOf time.Time, clientID *int64) (Report, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = ledger.DateOnly(asOf)

	scope := "all"
	if clientID != nil {
		scope = strconv.FormatInt(*clientID, 10)
	}
	key, err := s.cache.BuildKey(ctx, "aging", "report", scope, asOf.Format(time.DateOnly))
	if err != nil {
		s.logger.Warn("aging cache unavailable", slog.Any("error", err))
		return s.build(ctx, asOf, clientID)
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		var (
			report   Report
			built    *Report
			buildErr error
		)
		loader := func(ctx context.Context) (any, error) {
			r, err := s.build(ctx, asOf, clientID)
			if err != nil {
				buildErr = err
				return nil, err
			}
			built = &r
			return r, nil
		}
		if err := s.cache.FetchJSON(ctx, key, &report, loader); err != nil {
			if buildErr != nil {
				return nil, buildErr
			}
			s.logger.Warn("aging cache fetch failed", slog.String("key", key), slog.Any("error", err))
			if built != nil {
				return *built, nil
			}
			return s.build(ctx, asOf, clientID)
		}
		return report, nil
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

func (s *Service) build(ctx context.Context, asOf time.Time, clientID *int64) (Report, error) {
	invoices, err := s.reader.ListOpenInvoices(ctx, clientID)
	if err != nil {
		return Report{}, err
	}
	report := Build(invoices, asOf)
	report.ClientID = clientID
	return report, nil
}
