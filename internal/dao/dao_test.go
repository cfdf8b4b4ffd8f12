package dao

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"server-commission-app/internal/db/dbtest"
	"server-commission-app/internal/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func record(referrer string, level int, event string, amount int64) model.CommissionRecord {
	return model.CommissionRecord{
		ID:               uuid.NewString(),
		ReferrerID:       referrer,
		DepositorID:      "D",
		Level:            level,
		SourceEventID:    event,
		SourceKind:       model.SourceGasFeeTopup,
		ReferrerTier:     "gold",
		DepositAmount:    decimal.NewFromInt(100),
		Rate:             decimal.NewFromInt(amount),
		CommissionAmount: decimal.NewFromInt(amount),
		Status:           model.StatusPending,
		CreatedAt:        t0,
	}
}

func TestLedgerBatchSkipsDuplicates(t *testing.T) {
	gdb := dbtest.Open(t)
	ledger := NewLedger(gdb)

	batch := []model.CommissionRecord{record("C", 1, "ev-1", 30), record("B", 2, "ev-1", 5)}
	var inserted int64
	require.NoError(t, gdb.Transaction(func(tx *gorm.DB) (err error) {
		inserted, err = ledger.CreateBatchWithTx(tx, batch)
		return err
	}))
	assert.EqualValues(t, 2, inserted)

	// same dedup keys under fresh ids
	again := []model.CommissionRecord{record("C", 1, "ev-1", 30), record("B", 2, "ev-1", 5), record("A", 3, "ev-1", 5)}
	require.NoError(t, gdb.Transaction(func(tx *gorm.DB) (err error) {
		inserted, err = ledger.CreateBatchWithTx(tx, again)
		return err
	}))
	assert.EqualValues(t, 1, inserted)

	n, err := ledger.CountBySourceEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	records, err := ledger.FindBySourceEvent(context.Background(), "ev-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i+1, r.Level)
	}
}

func TestLedgerMarkPaidOnce(t *testing.T) {
	gdb := dbtest.Open(t)
	ledger := NewLedger(gdb)
	r := record("C", 1, "ev-1", 30)
	require.NoError(t, ledger.CreateWithTx(gdb, &r))

	var first, second bool
	require.NoError(t, gdb.Transaction(func(tx *gorm.DB) (err error) {
		first, err = ledger.MarkPaidWithTx(tx, r.ID, t0)
		return err
	}))
	require.NoError(t, gdb.Transaction(func(tx *gorm.DB) (err error) {
		second, err = ledger.MarkPaidWithTx(tx, r.ID, t0)
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	paid, err := ledger.SumByReferrer(context.Background(), "C", model.StatusPaid)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30).Equal(paid))

	pending, err := ledger.ListPending(context.Background(), "", t0.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLedgerQueryKeyset(t *testing.T) {
	gdb := dbtest.Open(t)
	ledger := NewLedger(gdb)
	for i := 0; i < 5; i++ {
		r := record("C", 1, fmt.Sprintf("ev-%d", i), 30)
		require.NoError(t, ledger.CreateWithTx(gdb, &r))
	}
	other := record("B", 1, "ev-x", 5)
	require.NoError(t, ledger.CreateWithTx(gdb, &other))

	ctx := context.Background()
	seen := make(map[string]bool)
	f := RecordFilter{ReferrerID: "C", PageSize: 2}
	for {
		page, err := ledger.Query(ctx, f)
		require.NoError(t, err)
		for _, r := range page {
			assert.Equal(t, "C", r.ReferrerID)
			assert.False(t, seen[r.ID], "record returned twice")
			seen[r.ID] = true
		}
		if len(page) < f.PageSize {
			break
		}
		f.LastID = page[len(page)-1].ID
	}
	assert.Len(t, seen, 5)
}

func TestIncrEarningsConcurrent(t *testing.T) {
	gdb := dbtest.Open(t)
	users := NewUser(gdb)
	ctx := context.Background()
	require.NoError(t, users.Create(ctx, &model.User{ID: "C", MembershipTier: "gold"}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, gdb.Transaction(func(tx *gorm.DB) error {
				return users.IncrEarningsWithTx(tx, "C", decimal.RequireFromString("1.25"))
			}))
		}()
	}
	wg.Wait()

	u, err := users.Get(ctx, "C")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(u.TotalEarnings), u.TotalEarnings.String())

	err = users.IncrEarningsWithTx(gdb, "nobody", decimal.NewFromInt(1))
	assert.True(t, IsNotFound(err))
}

func TestDepositCreateIfAbsent(t *testing.T) {
	gdb := dbtest.Open(t)
	deposits := NewDeposit(gdb)
	ctx := context.Background()

	dep := func(event, kind string, amount string) *model.Deposit {
		return &model.Deposit{
			ID:            uuid.NewString(),
			SourceEventID: event,
			DepositorID:   "D",
			Amount:        decimal.RequireFromString(amount),
			SourceKind:    kind,
			ConfirmedAt:   t0,
		}
	}
	created, err := deposits.CreateIfAbsent(ctx, dep("ev-1", model.SourceGasFeeTopup, "950"))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = deposits.CreateIfAbsent(ctx, dep("ev-1", model.SourceGasFeeTopup, "950"))
	require.NoError(t, err)
	assert.False(t, created)

	created, err = deposits.CreateIfAbsent(ctx, dep("ev-2", model.SourceTradingFee, "10.12345678"))
	require.NoError(t, err)
	assert.True(t, created)

	sum, err := deposits.SumByDepositor(ctx, "D", []string{model.SourceGasFeeTopup})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(950).Equal(sum))

	stored, err := deposits.GetBySourceEvent(ctx, "ev-2")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.12345678").Equal(stored.Amount))

	require.NoError(t, deposits.MarkDistributed(ctx, stored.ID, t0))
	pending, err := deposits.ListUndistributedAfter(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ev-1", pending[0].SourceEventID)

	pending, err = deposits.ListUndistributedAfter(ctx, "E", "", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCursorSave(t *testing.T) {
	cursors := NewCursor(dbtest.Open(t))
	ctx := context.Background()

	cur, err := cursors.Get(ctx, "users")
	require.NoError(t, err)
	assert.Empty(t, cur)

	require.NoError(t, cursors.Save(ctx, "users", "u-100", t0))
	require.NoError(t, cursors.Save(ctx, "users", "u-200", t0.Add(time.Minute)))
	cur, err = cursors.Get(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "u-200", cur)
}
