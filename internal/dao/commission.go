package dao

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"server-commission-app/internal/model"
)

// Ledger is the append-only store of commission records.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// CreateBatchWithTx inserts records, silently skipping rows whose dedup key
// already exists. It returns the number of rows actually inserted.
func (*Ledger) CreateBatchWithTx(tx *gorm.DB, records []model.CommissionRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&records)
	return res.RowsAffected, res.Error
}

func (*Ledger) CreateWithTx(tx *gorm.DB, record *model.CommissionRecord) error {
	return tx.Create(record).Error
}

func (l *Ledger) Get(ctx context.Context, id string) (*model.CommissionRecord, error) {
	var record model.CommissionRecord
	err := l.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (*Ledger) GetForUpdateWithTx(tx *gorm.DB, id string) (*model.CommissionRecord, error) {
	var record model.CommissionRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&record, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (l *Ledger) FindBySourceEvent(ctx context.Context, sourceEventID string) ([]model.CommissionRecord, error) {
	records := make([]model.CommissionRecord, 0, 3)
	err := l.db.WithContext(ctx).Where("source_event_id = ?", sourceEventID).Order("level").Find(&records).Error
	return records, err
}

// LegacyPrefix marks the synthetic ids of events that carried no source event id.
const LegacyPrefix = "legacy:"

// FindLegacy looks up records of an earlier event without source event id.
// Records filed under a real event id never match.
func (l *Ledger) FindLegacy(ctx context.Context, depositorID, kind string, amount decimal.Decimal,
	from, to time.Time) ([]model.CommissionRecord, error) {
	records := make([]model.CommissionRecord, 0, 3)
	err := l.db.WithContext(ctx).
		Where("depositor_id = ? and source_kind = ? and deposit_amount = ? and created_at between ? and ?",
			depositorID, kind, amount, from, to).
		Where("source_event_id like ?", LegacyPrefix+"%").
		Order("level").Find(&records).Error
	return records, err
}

// MarkPaidWithTx flips pending to paid. It reports false when the record was
// not pending anymore.
func (*Ledger) MarkPaidWithTx(tx *gorm.DB, id string, paidAt time.Time) (bool, error) {
	res := tx.Model(&model.CommissionRecord{}).
		Where("id = ? and status = ?", id, model.StatusPending).
		Updates(map[string]interface{}{"status": model.StatusPaid, "paid_at": paidAt})
	return res.RowsAffected == 1, res.Error
}

func (*Ledger) DeleteWithTx(tx *gorm.DB, id string) error {
	return tx.Delete(&model.CommissionRecord{}, "id = ?", id).Error
}

// SumByReferrer folds the amounts of the referrer's records with the given status.
func (l *Ledger) SumByReferrer(ctx context.Context, referrerID, status string) (decimal.Decimal, error) {
	return sumByReferrer(l.db.WithContext(ctx), referrerID, status)
}

func (*Ledger) SumByReferrerWithTx(tx *gorm.DB, referrerID, status string) (decimal.Decimal, error) {
	return sumByReferrer(tx, referrerID, status)
}

func sumByReferrer(db *gorm.DB, referrerID, status string) (decimal.Decimal, error) {
	var records []model.CommissionRecord
	err := db.Select("id", "commission_amount").
		Where("referrer_id = ? and status = ?", referrerID, status).Find(&records).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.CommissionAmount)
	}
	return sum, nil
}

// ListPending returns pending records created before the given time.
// An empty referrerID matches every referrer.
func (l *Ledger) ListPending(ctx context.Context, referrerID string, before time.Time, limit int) ([]model.CommissionRecord, error) {
	records := make([]model.CommissionRecord, 0)
	q := l.db.WithContext(ctx).Where("status = ? and created_at <= ?", model.StatusPending, before)
	if referrerID != "" {
		q = q.Where("referrer_id = ?", referrerID)
	}
	err := q.Order("created_at").Limit(limit).Find(&records).Error
	return records, err
}

// ForUser returns every record where the user is referrer or depositor.
func (l *Ledger) ForUser(ctx context.Context, userID string) ([]model.CommissionRecord, error) {
	records := make([]model.CommissionRecord, 0)
	err := l.db.WithContext(ctx).Where("referrer_id = ? or depositor_id = ?", userID, userID).
		Order("id").Find(&records).Error
	return records, err
}

func (l *Ledger) ListAfter(ctx context.Context, cursor string, limit int) ([]model.CommissionRecord, error) {
	records := make([]model.CommissionRecord, 0, limit)
	err := l.db.WithContext(ctx).Where("id > ?", cursor).Order("id").Limit(limit).Find(&records).Error
	return records, err
}

func (l *Ledger) CountBySourceEvent(ctx context.Context, sourceEventID string) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&model.CommissionRecord{}).
		Where("source_event_id = ?", sourceEventID).Count(&n).Error
	return n, err
}

// DuplicateKey a dedup key held by more than one record.
type DuplicateKey struct {
	ReferrerID    string
	DepositorID   string
	Level         int
	SourceEventID string
	Num           int64
}

// DuplicateKeys only finds rows written before the unique index existed.
func (l *Ledger) DuplicateKeys(ctx context.Context) ([]DuplicateKey, error) {
	keys := make([]DuplicateKey, 0)
	err := l.db.WithContext(ctx).Model(&model.CommissionRecord{}).
		Select("referrer_id, depositor_id, level, source_event_id, count(*) as num").
		Group("referrer_id, depositor_id, level, source_event_id").
		Having("count(*) > 1").
		Scan(&keys).Error
	return keys, err
}

// RecordFilter audit query filter; zero values match everything.
type RecordFilter struct {
	ReferrerID    string
	DepositorID   string
	SourceEventID string
	Status        string
	LastID        string
	PageSize      int
}

func (l *Ledger) Query(ctx context.Context, f RecordFilter) ([]model.CommissionRecord, error) {
	q := l.db.WithContext(ctx).Model(&model.CommissionRecord{})
	if f.ReferrerID != "" {
		q = q.Where("referrer_id = ?", f.ReferrerID)
	}
	if f.DepositorID != "" {
		q = q.Where("depositor_id = ?", f.DepositorID)
	}
	if f.SourceEventID != "" {
		q = q.Where("source_event_id = ?", f.SourceEventID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.LastID != "" {
		q = q.Where("id > ?", f.LastID)
	}
	if f.PageSize <= 0 {
		f.PageSize = 10
	}
	records := make([]model.CommissionRecord, 0, f.PageSize)
	err := q.Order("id").Limit(f.PageSize).Find(&records).Error
	return records, err
}
