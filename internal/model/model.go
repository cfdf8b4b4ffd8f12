package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 返佣来源
const (
	SourceGasFeeTopup = "gas_fee_topup"
	SourceTradingFee  = "trading_fee"
	SourceManualFix   = "manual_fix"
	SourceBackfill    = "backfill"
)

// 佣金状态
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
)

// 修正类型
const (
	CorrectionRecordRecreate = "record_recreate"
	CorrectionEarnings       = "earnings_repair"
	CorrectionDeposit        = "deposit_repair"
	CorrectionSettle         = "settle"
)

// ValidSourceKind reports whether kind is one of the known commission sources.
func ValidSourceKind(kind string) bool {
	switch kind {
	case SourceGasFeeTopup, SourceTradingFee, SourceManualFix, SourceBackfill:
		return true
	}
	return false
}

// 用户表 (外部维护, 本服务只更新收益/个人充值/等级)
type User struct {
	ID                   string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	ReferredBy           string          `gorm:"type:varchar(64);index" json:"referred_by"`                    // 邀请人
	MembershipTier       string          `gorm:"type:varchar(16);not null;default:bronze" json:"membership_tier"` // 会员等级
	TierLockedManually   bool            `gorm:"not null;default:false" json:"tier_locked_manually"`             // 手动锁定等级
	TotalPersonalDeposit decimal.Decimal `gorm:"type:decimal(30,8);not null;default:0" json:"total_personal_deposit"`
	TotalEarnings        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_earnings"`
	TotalWithdrawn       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_withdrawn"` // 外部提现流程写入
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// 佣金记录, 写入后只允许 pending -> paid
type CommissionRecord struct {
	ID               string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	ReferrerID       string          `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_commission_dedup,priority:1" json:"referrer_id"`
	DepositorID      string          `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_commission_dedup,priority:2" json:"depositor_id"`
	Level            int             `gorm:"not null;uniqueIndex:idx_commission_dedup,priority:3" json:"level"`
	SourceEventID    string          `gorm:"type:varchar(128);not null;index;uniqueIndex:idx_commission_dedup,priority:4" json:"source_event_id"`
	SourceKind       string          `gorm:"type:varchar(32);not null" json:"source_kind"`
	ReferrerTier     string          `gorm:"type:varchar(16);not null" json:"referrer_tier"` // 计算时邀请人等级
	DepositAmount    decimal.Decimal `gorm:"type:decimal(30,8);not null" json:"deposit_amount"`
	Rate             decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"rate"`
	CommissionAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"commission_amount"`
	Status           string          `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedAt        time.Time       `gorm:"index" json:"created_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
}

// 已确认的充值流水
type Deposit struct {
	ID            string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	SourceEventID string          `gorm:"type:varchar(128);not null;uniqueIndex" json:"source_event_id"`
	DepositorID   string          `gorm:"type:varchar(64);not null;index" json:"depositor_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(30,8);not null" json:"amount"`
	SourceKind    string          `gorm:"type:varchar(32);not null" json:"source_kind"`
	ConfirmedAt   time.Time       `json:"confirmed_at"`
	Distributed   bool            `gorm:"not null;default:false;index" json:"distributed"`
	DistributedAt *time.Time      `json:"distributed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// 等级费率, 管理员可编辑
type TierRate struct {
	Tier      string          `gorm:"type:varchar(16);primaryKey" json:"tier"`
	Level1    decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"level1"`
	Level2    decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"level2"`
	Level3    decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"level3"`
	UpdatedBy string          `gorm:"type:varchar(64)" json:"updated_by"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// 等级变更事件
type TierChange struct {
	ID                   string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID               string          `gorm:"type:varchar(64);not null;index" json:"user_id"`
	OldTier              string          `gorm:"type:varchar(16);not null" json:"old_tier"`
	NewTier              string          `gorm:"type:varchar(16);not null" json:"new_tier"`
	Rates                string          `gorm:"type:text" json:"rates"` // json
	TotalPersonalDeposit decimal.Decimal `gorm:"type:decimal(30,8);not null" json:"total_personal_deposit"`
	Notified             bool            `gorm:"not null;default:false" json:"notified"`
	CreatedAt            time.Time       `json:"created_at"`
}

// 人工修正审计记录
type Correction struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Kind      string    `gorm:"type:varchar(32);not null;index" json:"kind"`
	TargetID  string    `gorm:"type:varchar(128);not null;index" json:"target_id"`
	Operator  string    `gorm:"type:varchar(64);not null" json:"operator"`
	Reason    string    `gorm:"type:varchar(255)" json:"reason"`
	Before    string    `gorm:"type:text" json:"before"`
	After     string    `gorm:"type:text" json:"after"`
	CreatedAt time.Time `json:"created_at"`
}

// 对账游标
type ReconcileCursor struct {
	Name      string    `gorm:"type:varchar(64);primaryKey" json:"name"`
	Cursor    string    `gorm:"type:varchar(64);not null" json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All models handled by migrations.
func All() []interface{} {
	return []interface{}{
		&User{}, &CommissionRecord{}, &Deposit{}, &TierRate{}, &TierChange{}, &Correction{}, &ReconcileCursor{},
	}
}
