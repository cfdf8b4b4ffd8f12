package dao

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"server-commission-app/internal/model"
)

type Deposit struct {
	db *gorm.DB
}

func NewDeposit(db *gorm.DB) *Deposit {
	return &Deposit{db: db}
}

// CreateIfAbsent records a confirmed deposit once per source event. It
// reports false when the event was already recorded.
func (d *Deposit) CreateIfAbsent(ctx context.Context, deposit *model.Deposit) (bool, error) {
	res := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(deposit)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CreateIfAbsentWithTx is CreateIfAbsent inside the caller's transaction.
func (*Deposit) CreateIfAbsentWithTx(tx *gorm.DB, deposit *model.Deposit) (bool, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(deposit)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindLegacyWithTx returns an earlier deposit without source event id of the
// same depositor, kind and amount confirmed between from and to.
func (*Deposit) FindLegacyWithTx(tx *gorm.DB, depositorID, kind string, amount decimal.Decimal,
	from, to time.Time) (*model.Deposit, error) {
	var deposit model.Deposit
	err := tx.Where("depositor_id = ? and source_kind = ? and amount = ? and confirmed_at between ? and ?",
		depositorID, kind, amount, from, to).
		Where("source_event_id like ?", LegacyPrefix+"%").
		Order("confirmed_at").First(&deposit).Error
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (d *Deposit) GetBySourceEvent(ctx context.Context, sourceEventID string) (*model.Deposit, error) {
	var deposit model.Deposit
	err := d.db.WithContext(ctx).First(&deposit, "source_event_id = ?", sourceEventID).Error
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (d *Deposit) MarkDistributed(ctx context.Context, id string, at time.Time) error {
	return d.db.WithContext(ctx).Model(&model.Deposit{}).Where("id = ?", id).
		Updates(map[string]interface{}{"distributed": true, "distributed_at": at}).Error
}

// SumByDepositor folds the depositor's confirmed deposits of the given kinds.
func (d *Deposit) SumByDepositor(ctx context.Context, depositorID string, kinds []string) (decimal.Decimal, error) {
	return sumByDepositor(d.db.WithContext(ctx), depositorID, kinds)
}

func (*Deposit) SumByDepositorWithTx(tx *gorm.DB, depositorID string, kinds []string) (decimal.Decimal, error) {
	return sumByDepositor(tx, depositorID, kinds)
}

func sumByDepositor(db *gorm.DB, depositorID string, kinds []string) (decimal.Decimal, error) {
	var deposits []model.Deposit
	err := db.Select("id", "amount").
		Where("depositor_id = ? and source_kind IN ?", depositorID, kinds).Find(&deposits).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, dep := range deposits {
		sum = sum.Add(dep.Amount)
	}
	return sum, nil
}

// ListUndistributedAfter pages deposits still waiting for distribution. An
// empty depositorID matches every depositor.
func (d *Deposit) ListUndistributedAfter(ctx context.Context, depositorID, cursor string, limit int) ([]model.Deposit, error) {
	deposits := make([]model.Deposit, 0, limit)
	q := d.db.WithContext(ctx).Where("distributed = ? and id > ?", false, cursor)
	if depositorID != "" {
		q = q.Where("depositor_id = ?", depositorID)
	}
	err := q.Order("id").Limit(limit).Find(&deposits).Error
	return deposits, err
}
