package commission

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"server-commission-app/internal/app/tier"
	"server-commission-app/internal/model"
)

var hundred = decimal.NewFromInt(100)

// CorrectionRequest replaces one record. Rate recomputes the amount from the
// stored deposit amount; Amount sets it directly. A zero amount only removes
// the record.
type CorrectionRequest struct {
	RecordID string           `json:"recordId"`
	Rate     *decimal.Decimal `json:"rate"`
	Amount   *decimal.Decimal `json:"amount"`
	Operator string           `json:"operator"`
	Reason   string           `json:"reason"`
}

func (req CorrectionRequest) validate() error {
	if req.RecordID == "" {
		return invalid("empty record id")
	}
	if req.Operator == "" || req.Reason == "" {
		return invalid("operator and reason are required")
	}
	if req.Rate == nil && req.Amount == nil {
		return invalid("rate or amount is required")
	}
	if req.Rate != nil && (req.Rate.IsNegative() || req.Rate.GreaterThan(hundred)) {
		return invalid("rate %s out of [0,100]", req.Rate)
	}
	if req.Amount != nil {
		if req.Amount.IsNegative() {
			return invalid("amount %s is negative", req.Amount)
		}
		if !req.Amount.Equal(req.Amount.Round(tier.Precision)) {
			return invalid("amount %s has more than %d decimal places", req.Amount, tier.Precision)
		}
	}
	return nil
}

// Correct deletes the record and writes its replacement under the same dedup
// key in one transaction, a zero amount included. A paid record is replaced
// by a paid one and the referrer's earnings move by the difference.
func (s *Service) Correct(ctx context.Context, req CorrectionRequest) (*model.CommissionRecord, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var replacement *model.CommissionRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old, err := s.ledger.GetForUpdateWithTx(tx, req.RecordID)
		if err != nil {
			return errors.Wrapf(err, "load record %s", req.RecordID)
		}

		rate := old.Rate
		if req.Rate != nil {
			rate = *req.Rate
		}
		amount := tier.Commission(old.DepositAmount, rate)
		if req.Amount != nil {
			amount = *req.Amount
		}

		if err := s.ledger.DeleteWithTx(tx, old.ID); err != nil {
			return errors.Wrapf(err, "delete record %s", old.ID)
		}

		now := s.clock.Now().UTC()
		delta := decimal.Zero
		if old.Status == model.StatusPaid {
			delta = delta.Sub(old.CommissionAmount)
		}
		// a zero amount still leaves a record so the dedup key stays taken
		replacement = &model.CommissionRecord{
			ID:               uuid.NewString(),
			ReferrerID:       old.ReferrerID,
			DepositorID:      old.DepositorID,
			Level:            old.Level,
			SourceEventID:    old.SourceEventID,
			SourceKind:       model.SourceManualFix,
			ReferrerTier:     old.ReferrerTier,
			DepositAmount:    old.DepositAmount,
			Rate:             rate,
			CommissionAmount: amount,
			Status:           old.Status,
			CreatedAt:        now,
		}
		if old.Status == model.StatusPaid {
			replacement.PaidAt = &now
			delta = delta.Add(amount)
		}
		if err := s.ledger.CreateWithTx(tx, replacement); err != nil {
			return errors.Wrap(err, "insert replacement record")
		}
		if !delta.IsZero() {
			if err := s.users.IncrEarningsWithTx(tx, old.ReferrerID, delta); err != nil {
				return errors.Wrapf(err, "adjust earnings of %s", old.ReferrerID)
			}
		}

		before, _ := json.Marshal(old)
		after, _ := json.Marshal(replacement)
		return s.audit.CreateCorrectionWithTx(tx, &model.Correction{
			ID:        uuid.NewString(),
			Kind:      model.CorrectionRecordRecreate,
			TargetID:  old.ID,
			Operator:  req.Operator,
			Reason:    req.Reason,
			Before:    string(before),
			After:     string(after),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"record":   req.RecordID,
		"operator": req.Operator,
	}).Info("commission record corrected")
	return replacement, nil
}
