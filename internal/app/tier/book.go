package tier

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"server-commission-app/config"
	"server-commission-app/internal/model"
)

// Store persists the admin edited rate table.
type Store interface {
	List(ctx context.Context) ([]model.TierRate, error)
	SaveAll(ctx context.Context, rates []model.TierRate) error
}

// Book holds the current rate table. Readers take a Snapshot at the start of
// a run and never look at the Book again during that run.
type Book struct {
	store           Store
	maxTotalPercent decimal.Decimal
	current         atomic.Value // Table
}

func NewBook(store Store, initial Table, maxTotalPercent decimal.Decimal) (*Book, error) {
	if err := initial.Validate(maxTotalPercent); err != nil {
		return nil, errors.WithMessage(err, "initial rate table")
	}
	b := &Book{store: store, maxTotalPercent: maxTotalPercent}
	b.current.Store(initial.Clone())
	return b, nil
}

// Load replaces the initial table with the persisted one, seeding the store
// when it is empty.
func (b *Book) Load(ctx context.Context) error {
	rows, err := b.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list tier rates")
	}
	if len(rows) == 0 {
		log.Info("tier rate table empty, seeding from config")
		return b.store.SaveAll(ctx, toRows(b.Snapshot(), "config", time.Now().UTC()))
	}
	table := make(Table, len(rows))
	for _, row := range rows {
		table[Tier(row.Tier)] = Rates{Level1: row.Level1, Level2: row.Level2, Level3: row.Level3}
	}
	if err := table.Validate(b.maxTotalPercent); err != nil {
		return errors.WithMessage(err, "persisted rate table")
	}
	b.current.Store(table)
	return nil
}

// Snapshot returns a private copy of the current table.
func (b *Book) Snapshot() Table {
	return b.current.Load().(Table).Clone()
}

func (b *Book) MaxTotalPercent() decimal.Decimal {
	return b.maxTotalPercent
}

// Replace validates, persists and then publishes table.
func (b *Book) Replace(ctx context.Context, table Table, operator string) error {
	if err := table.Validate(b.maxTotalPercent); err != nil {
		return err
	}
	if err := b.store.SaveAll(ctx, toRows(table, operator, time.Now().UTC())); err != nil {
		return errors.Wrap(err, "save tier rates")
	}
	b.current.Store(table.Clone())
	log.WithField("operator", operator).Info("tier rate table replaced")
	return nil
}

func toRows(table Table, operator string, at time.Time) []model.TierRate {
	rows := make([]model.TierRate, 0, len(table))
	for _, t := range table.Tiers() {
		r := table[t]
		rows = append(rows, model.TierRate{
			Tier:      string(t),
			Level1:    r.Level1,
			Level2:    r.Level2,
			Level3:    r.Level3,
			UpdatedBy: operator,
			UpdatedAt: at,
		})
	}
	return rows
}

// FromConfig builds the policy objects from the commission config section.
func FromConfig(rates map[string]config.TierRates, thresholds config.Thresholds, maxTotalPercent float64) (
	Table, Thresholds, decimal.Decimal, error) {
	table := make(Table, len(rates))
	for name, r := range rates {
		t, err := ParseTier(name)
		if err != nil {
			return nil, Thresholds{}, decimal.Zero, err
		}
		table[t] = NewRates(r.Level1, r.Level2, r.Level3)
	}
	th := Thresholds{
		Silver:   decimal.NewFromFloat(thresholds.Silver),
		Gold:     decimal.NewFromFloat(thresholds.Gold),
		Platinum: decimal.NewFromFloat(thresholds.Platinum),
	}
	maxTotal := decimal.NewFromFloat(maxTotalPercent)
	if err := table.Validate(maxTotal); err != nil {
		return nil, Thresholds{}, decimal.Zero, err
	}
	if err := th.Validate(); err != nil {
		return nil, Thresholds{}, decimal.Zero, err
	}
	return table, th, maxTotal, nil
}
