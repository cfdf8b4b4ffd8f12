package commission

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"server-commission-app/internal/app/notify"
	"server-commission-app/internal/app/tier"
	"server-commission-app/internal/dao"
	"server-commission-app/internal/model"
	"server-commission-app/internal/pkg/metrics"
)

// TierTransition result of applying a personal deposit.
type TierTransition struct {
	UserID      string          `json:"userId"`
	TierChanged bool            `json:"tierChanged"`
	OldTier     tier.Tier       `json:"oldTier"`
	NewTier     tier.Tier       `json:"newTier"`
	Total       decimal.Decimal `json:"totalPersonalDeposit"`

	changeID string
}

// Projector keeps totalPersonalDeposit and the membership tier in step.
type Projector struct {
	db         *gorm.DB
	users      *dao.User
	audit      *dao.Audit
	thresholds tier.Thresholds
	book       *tier.Book
	notifier   notify.Notifier
	clock      clockwork.Clock
}

func NewProjector(db *gorm.DB, thresholds tier.Thresholds, book *tier.Book, notifier notify.Notifier,
	clock clockwork.Clock) *Projector {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Projector{
		db:         db,
		users:      dao.NewUser(db),
		audit:      dao.NewAudit(db),
		thresholds: thresholds,
		book:       book,
		notifier:   notifier,
		clock:      clock,
	}
}

// ApplyDeposit credits a personal deposit and recomputes the tier. The
// notification goes out after commit.
func (p *Projector) ApplyDeposit(ctx context.Context, userID string, amount decimal.Decimal) (*TierTransition, error) {
	var tr *TierTransition
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		tr, err = p.ApplyDepositWithTx(tx, userID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.Notify(ctx, tr)
	return tr, nil
}

// ApplyDepositWithTx locks the user row and adds amount to the personal total.
// The caller must call Notify once tx committed.
func (p *Projector) ApplyDepositWithTx(tx *gorm.DB, userID string, amount decimal.Decimal) (*TierTransition, error) {
	if !amount.IsPositive() {
		return nil, invalid("personal deposit %s must be positive", amount)
	}
	user, err := p.users.GetForUpdateWithTx(tx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "lock user %s", userID)
	}
	return p.projectWithTx(tx, user, user.TotalPersonalDeposit.Add(amount))
}

// ResetDepositWithTx overwrites the personal total, used by audited repairs.
func (p *Projector) ResetDepositWithTx(tx *gorm.DB, userID string, total decimal.Decimal) (*TierTransition, error) {
	if total.IsNegative() {
		return nil, invalid("personal deposit total %s is negative", total)
	}
	user, err := p.users.GetForUpdateWithTx(tx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "lock user %s", userID)
	}
	return p.projectWithTx(tx, user, total)
}

func (p *Projector) projectWithTx(tx *gorm.DB, user *model.User, total decimal.Decimal) (*TierTransition, error) {
	tr := &TierTransition{
		UserID:  user.ID,
		OldTier: tier.Tier(user.MembershipTier),
		NewTier: tier.Tier(user.MembershipTier),
		Total:   total,
	}
	if !user.TierLockedManually {
		tr.NewTier = p.thresholds.TierFor(total)
	}
	tr.TierChanged = tr.NewTier != tr.OldTier

	if err := p.users.UpdateDepositAndTierWithTx(tx, user.ID, total, string(tr.NewTier)); err != nil {
		return nil, errors.Wrapf(err, "update user %s", user.ID)
	}
	if !tr.TierChanged {
		return tr, nil
	}

	rates, _ := json.Marshal(p.book.Snapshot()[tr.NewTier])
	change := &model.TierChange{
		ID:                   uuid.NewString(),
		UserID:               user.ID,
		OldTier:              string(tr.OldTier),
		NewTier:              string(tr.NewTier),
		Rates:                string(rates),
		TotalPersonalDeposit: total,
		CreatedAt:            p.clock.Now().UTC(),
	}
	if err := p.audit.CreateTierChangeWithTx(tx, change); err != nil {
		return nil, errors.Wrap(err, "record tier change")
	}
	tr.changeID = change.ID
	return tr, nil
}

// NotifyTimeout bounds one tier change delivery, retries included.
var NotifyTimeout = 5 * time.Second

// Notify delivers a committed tier change. Failures are logged, the
// tier_changes row stays unnotified.
func (p *Projector) Notify(ctx context.Context, tr *TierTransition) {
	if tr == nil || !tr.TierChanged {
		return
	}
	metrics.TierTransitions.WithLabelValues(string(tr.OldTier), string(tr.NewTier)).Inc()
	log.WithFields(log.Fields{
		"user": tr.UserID,
		"from": tr.OldTier,
		"to":   tr.NewTier,
	}).Info("tier transition")

	nctx, cancel := context.WithTimeout(ctx, NotifyTimeout)
	defer cancel()
	err := p.notifier.NotifyTierChange(nctx, notify.TierChange{
		UserID:   tr.UserID,
		OldTier:  tr.OldTier,
		NewTier:  tr.NewTier,
		NewRates: p.book.Snapshot()[tr.NewTier],
	})
	if err != nil {
		log.Errorf("notify tier change err: %+v", err)
		return
	}
	if tr.changeID == "" {
		return
	}
	if err := p.audit.MarkTierChangeNotified(ctx, tr.changeID); err != nil {
		log.Errorf("mark tier change notified err: %+v", errors.WithStack(err))
	}
}
