package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markdave123-py/docuchat/internal/models"
)

// ErrNegativeTokens rejects ledger entries that would decrease a total.
var ErrNegativeTokens = errors.New("token counts must not be negative")

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// Ledger is the append-only store behind the meter.
type Ledger interface {
	InsertUsage(ctx context.Context, rec *models.UsageRecord) error
	SumUsage(ctx context.Context, tenantID, userID int64, from, to time.Time) (models.UsageWindow, error)
}

// Meter records token consumption and reports trailing window totals.
type Meter struct {
	ledger Ledger
	now    func() time.Time
}

func NewMeter(ledger Ledger) *Meter {
	return &Meter{ledger: ledger, now: time.Now}
}

// WithClock replaces the meter's time source.
func (m *Meter) WithClock(now func() time.Time) *Meter {
	m.now = now
	return m
}

// NewRecord builds a ledger row stamped with the meter's clock without
// writing it, for callers that store it alongside other rows.
func (m *Meter) NewRecord(tenantID, userID int64, tokensIn, tokensOut int) (*models.UsageRecord, error) {
	if tokensIn < 0 || tokensOut < 0 {
		return nil, fmt.Errorf("%w: in=%d out=%d", ErrNegativeTokens, tokensIn, tokensOut)
	}
	return &models.UsageRecord{
		TenantID:  tenantID,
		UserID:    userID,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Timestamp: m.now().UTC(),
	}, nil
}

// Record appends one ledger row stamped with the meter's clock.
func (m *Meter) Record(ctx context.Context, tenantID, userID int64, tokensIn, tokensOut int) error {
	rec, err := m.NewRecord(tenantID, userID, tokensIn, tokensOut)
	if err != nil {
		return err
	}
	if err := m.ledger.InsertUsage(ctx, rec); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Stats sums the last 24 hours and the last 7 days. Empty windows are zero.
func (m *Meter) Stats(ctx context.Context, tenantID, userID int64) (models.UsageStats, error) {
	now := m.now().UTC()

	day, err := m.ledger.SumUsage(ctx, tenantID, userID, now.Add(-Day), now)
	if err != nil {
		return models.UsageStats{}, fmt.Errorf("sum 24h usage: %w", err)
	}
	week, err := m.ledger.SumUsage(ctx, tenantID, userID, now.Add(-Week), now)
	if err != nil {
		return models.UsageStats{}, fmt.Errorf("sum 7d usage: %w", err)
	}
	return models.UsageStats{Window24h: day, Window7d: week}, nil
}
