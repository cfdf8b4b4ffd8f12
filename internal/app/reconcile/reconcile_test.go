package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"server-commission-app/internal/app/commission"
	"server-commission-app/internal/app/notify"
	"server-commission-app/internal/app/relation"
	"server-commission-app/internal/app/tier"
	"server-commission-app/internal/dao"
	"server-commission-app/internal/db/dbtest"
	"server-commission-app/internal/model"
)

type env struct {
	db    *gorm.DB
	clock *clockwork.FakeClock
	users *dao.User
	svc   *commission.Service
	rec   *Reconciler
}

func newEnv(t *testing.T, pageSize, maxPages int) *env {
	gdb := dbtest.Open(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	book, err := tier.NewBook(dao.NewTierRate(gdb), tier.DefaultTable(), decimal.NewFromInt(100))
	require.NoError(t, err)

	users := dao.NewUser(gdb)
	graph := relation.NewGraph(users, nil)
	settler := commission.NewSettler(gdb, clock)
	dist := commission.NewDistributor(gdb, graph, settler, commission.Options{Clock: clock})
	proj := commission.NewProjector(gdb, tier.DefaultThresholds(), book, notify.LogNotifier{}, clock)
	svc := commission.NewService(gdb, book, proj, dist, settler, []string{model.SourceGasFeeTopup})

	rec, err := NewReconciler(Config{
		DB:          gdb,
		Graph:       graph,
		Service:     svc,
		PageSize:    pageSize,
		MaxPages:    maxPages,
		Concurrency: 4,
		Clock:       clock,
	})
	require.NoError(t, err)
	return &env{db: gdb, clock: clock, users: users, svc: svc, rec: rec}
}

func (e *env) addUser(t *testing.T, id, referredBy string, tierName tier.Tier) {
	t.Helper()
	require.NoError(t, e.users.Create(context.Background(), &model.User{
		ID: id, ReferredBy: referredBy, MembershipTier: string(tierName), CreatedAt: e.clock.Now(),
	}))
}

func (e *env) addChain(t *testing.T) {
	e.addUser(t, "A", "", tier.Bronze)
	e.addUser(t, "B", "A", tier.Silver)
	e.addUser(t, "C", "B", tier.Gold)
	e.addUser(t, "D", "C", tier.Bronze)
}

func (e *env) deposit(t *testing.T, depositor, eventID string, amount int64) {
	t.Helper()
	res, err := e.svc.HandleDepositConfirmed(context.Background(), commission.DepositEvent{
		DepositorID:   depositor,
		Amount:        decimal.NewFromInt(amount),
		SourceKind:    model.SourceGasFeeTopup,
		SourceEventID: eventID,
		ConfirmedAt:   e.clock.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, res.DistributeErr)
}

func kinds(report *Report) map[string]int {
	out := map[string]int{}
	for _, d := range report.Discrepancies {
		out[d.Kind]++
	}
	return out
}

func TestReconcileConsistentLedger(t *testing.T) {
	e := newEnv(t, 100, 10)
	e.addChain(t)
	e.deposit(t, "D", "ev-1", 100)
	e.deposit(t, "D", "ev-2", 900)

	report, err := e.rec.Reconcile(context.Background(), Scope{})
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
	assert.True(t, report.Complete)
	assert.Empty(t, report.NextCursor)
	assert.Equal(t, 4, report.UsersScanned)
	assert.True(t, report.TotalRecomputed.Equal(report.TotalStored))
	assert.True(t, decimal.NewFromInt(400).Equal(report.TotalStored), report.TotalStored.String())
}

func TestReconcileReportsEarningsDriftAndRepairs(t *testing.T) {
	e := newEnv(t, 100, 10)
	e.addChain(t)
	e.deposit(t, "D", "ev-1", 100)
	ctx := context.Background()

	require.NoError(t, e.db.Model(&model.User{}).Where("id = ?", "C").
		Update("total_earnings", decimal.NewFromInt(25)).Error)

	report, err := e.rec.Reconcile(ctx, Scope{UserID: "C"})
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, KindEarningsMismatch, d.Kind)
	assert.True(t, decimal.NewFromInt(30).Equal(d.Expected))
	assert.True(t, decimal.NewFromInt(25).Equal(d.Stored))

	// reconciliation never writes totals
	u, err := e.users.Get(ctx, "C")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(25).Equal(u.TotalEarnings))

	_, err = e.rec.RepairEarnings(ctx, "C", "", "")
	assert.True(t, errors.Is(err, commission.ErrInvalidRequest))

	c, err := e.rec.RepairEarnings(ctx, "C", "ops", "drift")
	require.NoError(t, err)
	assert.Equal(t, model.CorrectionEarnings, c.Kind)
	u, err = e.users.Get(ctx, "C")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30).Equal(u.TotalEarnings))

	report, err = e.rec.Reconcile(ctx, Scope{UserID: "C"})
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
}

func TestReconcileToleratesEpsilonAndWithdrawals(t *testing.T) {
	e := newEnv(t, 100, 10)
	e.addChain(t)
	e.deposit(t, "D", "ev-1", 100)

	require.NoError(t, e.db.Model(&model.User{}).Where("id = ?", "C").Updates(map[string]interface{}{
		"total_earnings":  decimal.NewFromInt(20),
		"total_withdrawn": decimal.NewFromInt(10),
	}).Error)
	require.NoError(t, e.db.Model(&model.User{}).Where("id = ?", "B").
		Update("total_earnings", decimal.RequireFromString("5.01")).Error)

	report, err := e.rec.Reconcile(context.Background(), Scope{})
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
}

func TestReconcilePersonalDepositRepair(t *testing.T) {
	e := newEnv(t, 100, 10)
	e.addUser(t, "U", "", tier.Bronze)
	ctx := context.Background()

	_, err := dao.NewDeposit(e.db).CreateIfAbsent(ctx, &model.Deposit{
		ID:            uuid.NewString(),
		SourceEventID: "lost-credit",
		DepositorID:   "U",
		Amount:        decimal.NewFromInt(1200),
		SourceKind:    model.SourceGasFeeTopup,
		ConfirmedAt:   e.clock.Now(),
		Distributed:   true,
		CreatedAt:     e.clock.Now(),
	})
	require.NoError(t, err)

	report, err := e.rec.Reconcile(ctx, Scope{})
	require.NoError(t, err)
	require.Equal(t, 1, kinds(report)[KindDepositMismatch])

	c, err := e.rec.RepairPersonalDeposit(ctx, "U", "ops", "missed credit")
	require.NoError(t, err)
	assert.Contains(t, c.After, "silver")

	u, err := e.users.Get(ctx, "U")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1200).Equal(u.TotalPersonalDeposit))
	assert.Equal(t, "silver", u.MembershipTier)

	report, err = e.rec.Reconcile(ctx, Scope{})
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
}

func TestReconcileRecordAnomalies(t *testing.T) {
	e := newEnv(t, 100, 10)
	e.addUser(t, "X", "", tier.Gold)
	e.addUser(t, "Y", "X", tier.Bronze)
	ctx := context.Background()

	now := e.clock.Now().UTC()
	record := func(referrer, depositor string, level int, status string, createdAt time.Time) model.CommissionRecord {
		return model.CommissionRecord{
			ID:               uuid.NewString(),
			ReferrerID:       referrer,
			DepositorID:      depositor,
			Level:            level,
			SourceEventID:    uuid.NewString(),
			SourceKind:       model.SourceGasFeeTopup,
			ReferrerTier:     "gold",
			DepositAmount:    decimal.NewFromInt(10),
			Rate:             decimal.NewFromInt(30),
			CommissionAmount: decimal.NewFromInt(3),
			Status:           status,
			CreatedAt:        createdAt,
		}
	}
	rows := []model.CommissionRecord{
		record("X", "X", 1, model.StatusPending, now),
		record("X", "Y", 4, model.StatusPending, now),
		record("X", "ghost", 1, model.StatusPending, now),
		record("X", "Y", 1, model.StatusPending, now.Add(-time.Hour)),
		record("nobody", "Y", 1, model.StatusPending, now),
	}
	require.NoError(t, e.db.Create(&rows).Error)

	report, err := e.rec.Reconcile(ctx, Scope{})
	require.NoError(t, err)
	got := kinds(report)
	assert.Equal(t, 1, got[KindSelfCommission])
	assert.Equal(t, 1, got[KindInvalidLevel])
	assert.Equal(t, 1, got[KindOrphanDepositor])
	assert.Equal(t, 1, got[KindOrphanReferrer])
	assert.Equal(t, 1, got[KindStalePending])
	assert.Zero(t, got[KindEarningsMismatch])

	res, err := e.rec.SettlePending(ctx, "X", "ops")
	require.NoError(t, err)
	assert.Len(t, res.Settled, 4)
	corrections, err := dao.NewAudit(e.db).ListCorrections(ctx, "X")
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	assert.Equal(t, model.CorrectionSettle, corrections[0].Kind)

	u, err := e.users.Get(ctx, "X")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(12).Equal(u.TotalEarnings))
}

func TestReconcileDetectsDuplicateKeysAndCycles(t *testing.T) {
	e := newEnv(t, 100, 10)
	e.addUser(t, "P", "Q", tier.Bronze)
	e.addUser(t, "Q", "P", tier.Bronze)
	ctx := context.Background()

	require.NoError(t, e.db.Migrator().DropIndex(&model.CommissionRecord{}, "idx_commission_dedup"))
	for i := 0; i < 2; i++ {
		require.NoError(t, e.db.Create(&model.CommissionRecord{
			ID:               uuid.NewString(),
			ReferrerID:       "Q",
			DepositorID:      "P",
			Level:            1,
			SourceEventID:    "dup",
			SourceKind:       model.SourceGasFeeTopup,
			ReferrerTier:     "bronze",
			DepositAmount:    decimal.NewFromInt(10),
			Rate:             decimal.NewFromInt(10),
			CommissionAmount: decimal.NewFromInt(1),
			Status:           model.StatusPaid,
			CreatedAt:        e.clock.Now(),
		}).Error)
	}
	require.NoError(t, e.users.SetEarningsWithTx(e.db, "Q", decimal.NewFromInt(2)))

	report, err := e.rec.Reconcile(ctx, Scope{})
	require.NoError(t, err)
	got := kinds(report)
	assert.Equal(t, 1, got[KindDuplicateKey])
	assert.Equal(t, 2, got[KindReferralCycle])
}

func TestReconcilePaginatesAndResumes(t *testing.T) {
	e := newEnv(t, 2, 1)
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		e.addUser(t, id, "", tier.Bronze)
	}
	ctx := context.Background()

	report, err := e.rec.Reconcile(ctx, Scope{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.UsersScanned)
	assert.False(t, report.Complete)
	assert.Equal(t, "u2", report.NextCursor)

	report, err = e.rec.Reconcile(ctx, Scope{Cursor: report.NextCursor, MaxPages: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, report.UsersScanned)
	assert.True(t, report.Complete)

	cursors := dao.NewCursor(e.db)
	seen := 0
	for i := 0; i < 3; i++ {
		report, err = e.rec.RunScheduled(ctx)
		require.NoError(t, err)
		seen += report.UsersScanned
	}
	assert.Equal(t, 5, seen)
	assert.True(t, report.Complete)
	cur, err := cursors.Get(ctx, userScan)
	require.NoError(t, err)
	assert.Empty(t, cur)
}

func TestReconcileBackfillsUndistributedDeposits(t *testing.T) {
	e := newEnv(t, 100, 10)
	e.addChain(t)
	ctx := context.Background()
	deposits := dao.NewDeposit(e.db)

	_, err := deposits.CreateIfAbsent(ctx, &model.Deposit{
		ID:            uuid.NewString(),
		SourceEventID: "missed",
		DepositorID:   "D",
		Amount:        decimal.NewFromInt(100),
		SourceKind:    model.SourceTradingFee,
		ConfirmedAt:   e.clock.Now(),
		CreatedAt:     e.clock.Now(),
	})
	require.NoError(t, err)

	report, err := e.rec.Reconcile(ctx, Scope{Backfill: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Backfilled)
	assert.Empty(t, report.Discrepancies)

	records, err := dao.NewLedger(e.db).FindBySourceEvent(ctx, "missed")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, model.SourceBackfill, records[0].SourceKind)

	report, err = e.rec.Reconcile(ctx, Scope{Backfill: true})
	require.NoError(t, err)
	assert.Zero(t, report.Backfilled)
}

func TestReconcileBackfillForOneUserSkipsOtherDepositors(t *testing.T) {
	e := newEnv(t, 1, 1)
	e.addChain(t)
	e.addUser(t, "E", "", tier.Bronze)
	ctx := context.Background()
	deposits := dao.NewDeposit(e.db)

	// ids sort the other depositor's deposits ahead of D's
	for _, dep := range []model.Deposit{
		{ID: "0-e-1", SourceEventID: "e-1", DepositorID: "E"},
		{ID: "0-e-2", SourceEventID: "e-2", DepositorID: "E"},
		{ID: "z-d-1", SourceEventID: "d-1", DepositorID: "D"},
	} {
		dep := dep
		dep.Amount = decimal.NewFromInt(100)
		dep.SourceKind = model.SourceTradingFee
		dep.ConfirmedAt = e.clock.Now()
		dep.CreatedAt = e.clock.Now()
		_, err := deposits.CreateIfAbsent(ctx, &dep)
		require.NoError(t, err)
	}

	report, err := e.rec.Reconcile(ctx, Scope{UserID: "D", Backfill: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Backfilled)

	records, err := dao.NewLedger(e.db).FindBySourceEvent(ctx, "d-1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	stored, err := deposits.GetBySourceEvent(ctx, "e-1")
	require.NoError(t, err)
	assert.False(t, stored.Distributed)
}

func TestReconcileHonoursCancel(t *testing.T) {
	e := newEnv(t, 1, 10)
	e.addUser(t, "u1", "", tier.Bronze)
	e.addUser(t, "u2", "", tier.Bronze)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.rec.Reconcile(ctx, Scope{})
	require.ErrorIs(t, err, context.Canceled)
}
