package dao

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"server-commission-app/internal/model"
)

type Audit struct {
	db *gorm.DB
}

func NewAudit(db *gorm.DB) *Audit {
	return &Audit{db: db}
}

func (*Audit) CreateCorrectionWithTx(tx *gorm.DB, c *model.Correction) error {
	return tx.Create(c).Error
}

func (a *Audit) ListCorrections(ctx context.Context, targetID string) ([]model.Correction, error) {
	corrections := make([]model.Correction, 0)
	err := a.db.WithContext(ctx).Where("target_id = ?", targetID).Order("created_at").Find(&corrections).Error
	return corrections, err
}

func (*Audit) CreateTierChangeWithTx(tx *gorm.DB, c *model.TierChange) error {
	return tx.Create(c).Error
}

func (a *Audit) MarkTierChangeNotified(ctx context.Context, id string) error {
	return a.db.WithContext(ctx).Model(&model.TierChange{}).Where("id = ?", id).Update("notified", true).Error
}

func (a *Audit) ListTierChanges(ctx context.Context, userID string) ([]model.TierChange, error) {
	changes := make([]model.TierChange, 0)
	err := a.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&changes).Error
	return changes, err
}

type TierRate struct {
	db *gorm.DB
}

func NewTierRate(db *gorm.DB) *TierRate {
	return &TierRate{db: db}
}

func (t *TierRate) List(ctx context.Context) ([]model.TierRate, error) {
	rates := make([]model.TierRate, 0, 4)
	err := t.db.WithContext(ctx).Order("tier").Find(&rates).Error
	return rates, err
}

// SaveAll upserts every row in one transaction.
func (t *TierRate) SaveAll(ctx context.Context, rates []model.TierRate) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rates).Error
	})
}

type Cursor struct {
	db *gorm.DB
}

func NewCursor(db *gorm.DB) *Cursor {
	return &Cursor{db: db}
}

// Get returns the stored cursor, empty when the scan never ran.
func (c *Cursor) Get(ctx context.Context, name string) (string, error) {
	var cur model.ReconcileCursor
	err := c.db.WithContext(ctx).First(&cur, "name = ?", name).Error
	if IsNotFound(err) {
		return "", nil
	}
	return cur.Cursor, err
}

func (c *Cursor) Save(ctx context.Context, name, cursor string, at time.Time) error {
	cur := model.ReconcileCursor{Name: name, Cursor: cursor, UpdatedAt: at}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "updated_at"}),
	}).Create(&cur).Error
}
