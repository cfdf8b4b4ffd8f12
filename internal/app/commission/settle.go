package commission

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"server-commission-app/internal/dao"
	"server-commission-app/internal/model"
	"server-commission-app/internal/pkg/metrics"
)

// Settler turns pending records into earnings. The status flip and the
// earnings increment commit together or not at all.
type Settler struct {
	db     *gorm.DB
	ledger *dao.Ledger
	users  *dao.User
	clock  clockwork.Clock
}

func NewSettler(db *gorm.DB, clock clockwork.Clock) *Settler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Settler{db: db, ledger: dao.NewLedger(db), users: dao.NewUser(db), clock: clock}
}

// Settle pays one record. It reports false when the record was no longer
// pending, so a replay never pays twice.
func (s *Settler) Settle(ctx context.Context, recordID string) (bool, error) {
	var paid bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.ledger.GetForUpdateWithTx(tx, recordID)
		if err != nil {
			return errors.Wrapf(err, "load record %s", recordID)
		}
		if record.Status != model.StatusPending {
			return nil
		}
		flipped, err := s.ledger.MarkPaidWithTx(tx, record.ID, s.clock.Now().UTC())
		if err != nil {
			return errors.Wrapf(err, "mark record %s paid", recordID)
		}
		if !flipped {
			return nil
		}
		if err := s.users.IncrEarningsWithTx(tx, record.ReferrerID, record.CommissionAmount); err != nil {
			return errors.Wrapf(err, "increment earnings of %s", record.ReferrerID)
		}
		paid = true
		return nil
	})
	if err != nil {
		metrics.SettleFailures.Inc()
		log.WithField("record", recordID).Errorf("settle err: %+v", err)
		return false, err
	}
	return paid, nil
}

// SettleResult outcome of a batch settle.
type SettleResult struct {
	Settled []string `json:"settled"`
	Failed  []string `json:"failed"`
}

// SettlePending settles up to limit pending records, oldest first. An empty
// referrerID covers every referrer.
func (s *Settler) SettlePending(ctx context.Context, referrerID string, limit int) (*SettleResult, error) {
	if limit <= 0 {
		limit = 500
	}
	records, err := s.ledger.ListPending(ctx, referrerID, s.clock.Now().UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "list pending records")
	}
	res := &SettleResult{Settled: make([]string, 0, len(records)), Failed: make([]string, 0)}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ok, err := s.Settle(ctx, r.ID)
		if err != nil {
			res.Failed = append(res.Failed, r.ID)
			continue
		}
		if ok {
			res.Settled = append(res.Settled, r.ID)
		}
	}
	return res, nil
}
