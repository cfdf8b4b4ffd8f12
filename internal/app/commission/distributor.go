package commission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"server-commission-app/internal/app/relation"
	"server-commission-app/internal/app/tier"
	"server-commission-app/internal/dao"
	"server-commission-app/internal/model"
	"server-commission-app/internal/pkg/metrics"
)

// AmountPrecision decimal places accepted on deposit amounts.
const AmountPrecision = 8

type Options struct {
	MaxLevels    int
	LegacyWindow time.Duration
	Clock        clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.MaxLevels <= 0 || o.MaxLevels > tier.MaxLevel {
		o.MaxLevels = tier.MaxLevel
	}
	if o.LegacyWindow <= 0 {
		o.LegacyWindow = 10 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

type DistributeRequest struct {
	DepositorID   string
	Amount        decimal.Decimal
	SourceKind    string
	SourceEventID string // empty for legacy events
	ConfirmedAt   time.Time
}

// Distribution outcome of one Distribute call.
type Distribution struct {
	SourceEventID    string
	Records          []model.CommissionRecord
	TotalDistributed decimal.Decimal
	Replayed         bool
	LevelErrors      []error
	Truncated        error
	SettleErrors     []error
}

type Distributor struct {
	db      *gorm.DB
	graph   *relation.Graph
	ledger  *dao.Ledger
	settler *Settler
	opts    Options
}

func NewDistributor(db *gorm.DB, graph *relation.Graph, settler *Settler, opts Options) *Distributor {
	return &Distributor{
		db:      db,
		graph:   graph,
		ledger:  dao.NewLedger(db),
		settler: settler,
		opts:    opts.withDefaults(),
	}
}

// LegacyEventID deterministic id of an event delivered without one. Events
// confirmed in the same window bucket with equal depositor, kind and amount
// collapse into one id.
func LegacyEventID(depositorID, kind string, amount decimal.Decimal, confirmedAt time.Time, window time.Duration) string {
	at := confirmedAt.UTC()
	if window > 0 {
		at = at.Truncate(window)
	}
	return fmt.Sprintf("%s%s:%s:%s:%d", dao.LegacyPrefix, depositorID, kind, amount.String(), at.Unix())
}

func validateDeposit(depositorID string, amount decimal.Decimal, kind string) error {
	if depositorID == "" {
		return invalid("empty depositor id")
	}
	if !amount.IsPositive() {
		return invalid("deposit amount %s must be positive", amount)
	}
	if !amount.Equal(amount.Truncate(AmountPrecision)) {
		return invalid("deposit amount %s has more than %d decimal places", amount, AmountPrecision)
	}
	if !model.ValidSourceKind(kind) {
		return invalid("unknown source kind %q", kind)
	}
	return nil
}

// Distribute writes one commission record per resolvable ancestor of the
// depositor, using the rates in table, then settles them. Replays of a source
// event return the stored records and only settle what is still pending.
func (d *Distributor) Distribute(ctx context.Context, table tier.Table, req DistributeRequest) (*Distribution, error) {
	if err := validateDeposit(req.DepositorID, req.Amount, req.SourceKind); err != nil {
		return nil, err
	}
	if req.ConfirmedAt.IsZero() {
		req.ConfirmedAt = d.opts.Clock.Now()
	}
	req.ConfirmedAt = req.ConfirmedAt.UTC()

	eventID, existing, err := d.resolveEvent(ctx, req)
	if err != nil {
		metrics.Distributions.WithLabelValues(metrics.ResultFailed).Inc()
		return nil, &PersistenceError{Op: "load existing records", Err: err}
	}
	dist := &Distribution{SourceEventID: eventID, TotalDistributed: decimal.Zero}
	if len(existing) > 0 {
		dist.Replayed = true
		metrics.Distributions.WithLabelValues(metrics.ResultReplayed).Inc()
		return d.settle(ctx, dist, existing)
	}

	chain, err := d.graph.UplineChain(ctx, relation.NewDepositor(req.DepositorID), d.opts.MaxLevels)
	if err != nil {
		metrics.Distributions.WithLabelValues(metrics.ResultFailed).Inc()
		return nil, err
	}
	if chain.Truncated != nil {
		dist.Truncated = chain.Truncated
	}

	now := d.opts.Clock.Now().UTC()
	records := make([]model.CommissionRecord, 0, len(chain.Links))
	for _, link := range chain.Links {
		record, err := buildRecord(table, chain.Depositor, link, req, eventID, now)
		if err != nil {
			metrics.LevelFailures.WithLabelValues(strconv.Itoa(link.Level)).Inc()
			log.WithFields(log.Fields{
				"depositor": chain.Depositor.ID(),
				"referrer":  link.ReferrerID,
				"level":     link.Level,
			}).Warnf("skip level: %v", err)
			dist.LevelErrors = append(dist.LevelErrors, err)
			continue
		}
		if record == nil {
			continue
		}
		records = append(records, *record)
	}
	if len(records) == 0 {
		metrics.Distributions.WithLabelValues(metrics.ResultEmpty).Inc()
		dist.Records = records
		return dist, nil
	}

	var inserted int64
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := d.ledger.CreateBatchWithTx(tx, records)
		inserted = n
		return err
	})
	if err != nil {
		metrics.Distributions.WithLabelValues(metrics.ResultFailed).Inc()
		return nil, &PersistenceError{Op: "insert commission records", Err: err}
	}
	if inserted < int64(len(records)) {
		dup := &DuplicateDistributionError{SourceEventID: eventID, Inserted: inserted, Expected: len(records)}
		log.Warnf("distribute: %v", dup)
		dist.Replayed = inserted == 0
	}
	if inserted > 0 {
		metrics.Distributions.WithLabelValues(metrics.ResultCreated).Inc()
	} else {
		metrics.Distributions.WithLabelValues(metrics.ResultReplayed).Inc()
	}

	stored, err := d.ledger.FindBySourceEvent(ctx, eventID)
	if err != nil {
		return nil, &PersistenceError{Op: "reload commission records", Err: err}
	}
	if inserted > 0 {
		for _, r := range stored {
			metrics.DistributedAmount.WithLabelValues(strconv.Itoa(r.Level)).Add(r.CommissionAmount.InexactFloat64())
		}
	}
	return d.settle(ctx, dist, stored)
}

// resolveEvent finds the id the event's records live under and any records
// already written for it.
func (d *Distributor) resolveEvent(ctx context.Context, req DistributeRequest) (string, []model.CommissionRecord, error) {
	if req.SourceEventID != "" {
		records, err := d.ledger.FindBySourceEvent(ctx, req.SourceEventID)
		return req.SourceEventID, records, err
	}

	from := req.ConfirmedAt.Add(-d.opts.LegacyWindow)
	to := req.ConfirmedAt.Add(d.opts.LegacyWindow)
	records, err := d.ledger.FindLegacy(ctx, req.DepositorID, req.SourceKind, req.Amount, from, to)
	if err != nil {
		return "", nil, err
	}
	if len(records) > 0 {
		eventID := records[0].SourceEventID
		same := records[:0]
		for _, r := range records {
			if r.SourceEventID == eventID {
				same = append(same, r)
			}
		}
		return eventID, same, nil
	}

	eventID := LegacyEventID(req.DepositorID, req.SourceKind, req.Amount, req.ConfirmedAt, d.opts.LegacyWindow)
	records, err = d.ledger.FindBySourceEvent(ctx, eventID)
	return eventID, records, err
}

// settle pays every pending record and reloads the final state.
func (d *Distributor) settle(ctx context.Context, dist *Distribution, records []model.CommissionRecord) (*Distribution, error) {
	pending := 0
	for _, r := range records {
		if r.Status != model.StatusPending {
			continue
		}
		pending++
		if _, err := d.settler.Settle(ctx, r.ID); err != nil {
			dist.SettleErrors = append(dist.SettleErrors, errors.WithMessagef(err, "level %d", r.Level))
		}
	}
	if pending > 0 {
		reloaded, err := d.ledger.FindBySourceEvent(ctx, dist.SourceEventID)
		if err != nil {
			return nil, &PersistenceError{Op: "reload commission records", Err: err}
		}
		records = reloaded
	}

	dist.Records = records
	dist.TotalDistributed = decimal.Zero
	for _, r := range records {
		dist.TotalDistributed = dist.TotalDistributed.Add(r.CommissionAmount)
	}
	return dist, nil
}

// buildRecord returns nil when the level earns nothing.
func buildRecord(table tier.Table, depositor relation.Depositor, link relation.Link, req DistributeRequest,
	eventID string, now time.Time) (*model.CommissionRecord, error) {
	rate, err := table.RateFor(link.ReferrerTier, link.Level)
	if err != nil {
		return nil, err
	}
	amount := tier.Commission(req.Amount, rate)
	if !amount.IsPositive() {
		return nil, nil
	}
	return &model.CommissionRecord{
		ID:               uuid.NewString(),
		ReferrerID:       link.ReferrerID,
		DepositorID:      depositor.ID(),
		Level:            link.Level,
		SourceEventID:    eventID,
		SourceKind:       req.SourceKind,
		ReferrerTier:     string(link.ReferrerTier),
		DepositAmount:    req.Amount,
		Rate:             rate,
		CommissionAmount: amount,
		Status:           model.StatusPending,
		CreatedAt:        now,
	}, nil
}
