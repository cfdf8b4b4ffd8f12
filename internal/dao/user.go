package dao

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"server-commission-app/internal/model"
)

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

type User struct {
	db *gorm.DB
}

func NewUser(db *gorm.DB) *User {
	return &User{db: db}
}

func (u *User) Create(ctx context.Context, user *model.User) error {
	return u.db.WithContext(ctx).Create(user).Error
}

func (u *User) Get(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := u.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetForUpdateWithTx locks the user row until tx ends.
func (*User) GetForUpdateWithTx(tx *gorm.DB, id string) (*model.User, error) {
	var user model.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// IncrEarningsWithTx adds amount to total_earnings in a single statement.
func (*User) IncrEarningsWithTx(tx *gorm.DB, id string, amount decimal.Decimal) error {
	res := tx.Model(&model.User{}).Where("id = ?", id).
		UpdateColumn("total_earnings", gorm.Expr("total_earnings + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(gorm.ErrRecordNotFound, "user %s", id)
	}
	return nil
}

func (*User) UpdateDepositAndTierWithTx(tx *gorm.DB, id string, total decimal.Decimal, tier string) error {
	return tx.Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"total_personal_deposit": total,
		"membership_tier":        tier,
	}).Error
}

func (*User) SetEarningsWithTx(tx *gorm.DB, id string, total decimal.Decimal) error {
	return tx.Model(&model.User{}).Where("id = ?", id).Update("total_earnings", total).Error
}

// ListAfter pages users by id, starting after cursor.
func (u *User) ListAfter(ctx context.Context, cursor string, limit int) ([]model.User, error) {
	users := make([]model.User, 0, limit)
	err := u.db.WithContext(ctx).Where("id > ?", cursor).Order("id").Limit(limit).Find(&users).Error
	return users, err
}

// Existing returns the subset of ids present in the store.
func (u *User) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var existing []string
	err := u.db.WithContext(ctx).Model(&model.User{}).Where("id IN ?", ids).Pluck("id", &existing).Error
	if err != nil {
		return nil, err
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}
