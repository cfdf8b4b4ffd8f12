package reconcile

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"server-commission-app/internal/app/commission"
	"server-commission-app/internal/model"
)

func checkOperator(operator, reason string) error {
	if operator == "" || reason == "" {
		return errors.Wrap(commission.ErrInvalidRequest, "operator and reason are required")
	}
	return nil
}

type balance struct {
	TotalEarnings        *decimal.Decimal `json:"total_earnings,omitempty"`
	TotalPersonalDeposit *decimal.Decimal `json:"total_personal_deposit,omitempty"`
	MembershipTier       string           `json:"membership_tier,omitempty"`
}

func (r *Reconciler) correction(kind, target, operator, reason string, before, after interface{}) *model.Correction {
	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)
	return &model.Correction{
		ID:        uuid.NewString(),
		Kind:      kind,
		TargetID:  target,
		Operator:  operator,
		Reason:    reason,
		Before:    string(b),
		After:     string(a),
		CreatedAt: r.cfg.Clock.Now().UTC(),
	}
}

// RepairEarnings sets total_earnings to ledger paid minus withdrawn.
func (r *Reconciler) RepairEarnings(ctx context.Context, userID, operator, reason string) (*model.Correction, error) {
	if err := checkOperator(operator, reason); err != nil {
		return nil, err
	}
	var c *model.Correction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := r.users.GetForUpdateWithTx(tx, userID)
		if err != nil {
			return errors.Wrapf(err, "lock user %s", userID)
		}
		paid, err := r.ledger.SumByReferrerWithTx(tx, userID, model.StatusPaid)
		if err != nil {
			return errors.Wrapf(err, "sum ledger of %s", userID)
		}
		expected := paid.Sub(user.TotalWithdrawn)
		if err := r.users.SetEarningsWithTx(tx, userID, expected); err != nil {
			return errors.Wrapf(err, "set earnings of %s", userID)
		}
		c = r.correction(model.CorrectionEarnings, userID, operator, reason,
			balance{TotalEarnings: &user.TotalEarnings}, balance{TotalEarnings: &expected})
		return r.audit.CreateCorrectionWithTx(tx, c)
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"user": userID, "operator": operator}).Info("earnings repaired")
	return c, nil
}

// RepairPersonalDeposit sets the personal total to the sum of recorded
// personal deposits and recomputes the tier unless it is locked.
func (r *Reconciler) RepairPersonalDeposit(ctx context.Context, userID, operator, reason string) (*model.Correction, error) {
	if err := checkOperator(operator, reason); err != nil {
		return nil, err
	}
	var (
		c  *model.Correction
		tr *commission.TierTransition
	)
	projector := r.svc.Projector()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := r.users.GetForUpdateWithTx(tx, userID)
		if err != nil {
			return errors.Wrapf(err, "lock user %s", userID)
		}
		sum, err := r.deposits.SumByDepositorWithTx(tx, userID, r.svc.PersonalKinds())
		if err != nil {
			return errors.Wrapf(err, "sum deposits of %s", userID)
		}
		tr, err = projector.ResetDepositWithTx(tx, userID, sum)
		if err != nil {
			return err
		}
		c = r.correction(model.CorrectionDeposit, userID, operator, reason,
			balance{TotalPersonalDeposit: &user.TotalPersonalDeposit, MembershipTier: user.MembershipTier},
			balance{TotalPersonalDeposit: &sum, MembershipTier: string(tr.NewTier)})
		return r.audit.CreateCorrectionWithTx(tx, c)
	})
	if err != nil {
		return nil, err
	}
	projector.Notify(ctx, tr)
	log.WithFields(log.Fields{"user": userID, "operator": operator}).Info("personal deposit repaired")
	return c, nil
}

// SettlePending pays pending records. An empty referrerID covers everyone.
func (r *Reconciler) SettlePending(ctx context.Context, referrerID, operator string) (*commission.SettleResult, error) {
	if operator == "" {
		return nil, errors.Wrap(commission.ErrInvalidRequest, "operator is required")
	}
	res, err := r.svc.Settler().SettlePending(ctx, referrerID, r.cfg.PageSize)
	if err != nil {
		return res, err
	}
	if len(res.Settled) == 0 {
		return res, nil
	}
	target := referrerID
	if target == "" {
		target = "*"
	}
	c := r.correction(model.CorrectionSettle, target, operator, "settle pending commission", nil, res)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.audit.CreateCorrectionWithTx(tx, c)
	})
	return res, errors.Wrap(err, "record settle")
}
