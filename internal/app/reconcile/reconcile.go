package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"server-commission-app/internal/app/commission"
	"server-commission-app/internal/app/relation"
	"server-commission-app/internal/app/tier"
	"server-commission-app/internal/dao"
	"server-commission-app/internal/model"
	"server-commission-app/internal/pkg/metrics"
)

// Discrepancy kinds.
const (
	KindEarningsMismatch = "earnings_mismatch"
	KindDepositMismatch  = "personal_deposit_mismatch"
	KindOrphanReferrer   = "orphan_referrer"
	KindOrphanDepositor  = "orphan_depositor"
	KindInvalidLevel     = "invalid_level"
	KindDuplicateKey     = "duplicate_key"
	KindSelfCommission   = "self_commission"
	KindStalePending     = "stale_pending"
	KindReferralCycle    = "referral_cycle"
)

// cursor name of the periodic user scan
const userScan = "users"

// how far DetectCycle walks
const cycleWalkLimit = 64

// Discrepancy one finding. Reconciliation only reports, repairs are explicit.
type Discrepancy struct {
	Kind     string          `json:"kind"`
	UserID   string          `json:"userId,omitempty"`
	RecordID string          `json:"recordId,omitempty"`
	Expected decimal.Decimal `json:"expected"`
	Stored   decimal.Decimal `json:"stored"`
	Details  string          `json:"details,omitempty"`
}

// Scope of one run. An empty UserID scans users page by page from Cursor.
type Scope struct {
	UserID   string `json:"userId"`
	Cursor   string `json:"cursor"`
	PageSize int    `json:"pageSize"`
	MaxPages int    `json:"maxPages"`
	Backfill bool   `json:"backfill"`
}

type Report struct {
	Discrepancies   []Discrepancy   `json:"discrepancies"`
	TotalRecomputed decimal.Decimal `json:"totalRecomputed"`
	TotalStored     decimal.Decimal `json:"totalStored"`
	UsersScanned    int             `json:"usersScanned"`
	NextCursor      string          `json:"nextCursor"`
	Complete        bool            `json:"complete"`
	Backfilled      int             `json:"backfilled"`
	BackfillErrors  []string        `json:"backfillErrors,omitempty"`
}

// Config captures the dependencies required to construct a Reconciler.
type Config struct {
	DB           *gorm.DB
	Graph        *relation.Graph
	Service      *commission.Service
	PageSize     int
	MaxPages     int
	Concurrency  int
	Epsilon      decimal.Decimal
	PendingGrace time.Duration
	Backfill     bool // periodic runs also backfill
	Clock        clockwork.Clock
}

type Reconciler struct {
	db       *gorm.DB
	graph    *relation.Graph
	svc      *commission.Service
	users    *dao.User
	ledger   *dao.Ledger
	deposits *dao.Deposit
	audit    *dao.Audit
	cursors  *dao.Cursor
	cfg      Config
}

func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.DB == nil {
		return nil, errors.New("reconcile: db is required")
	}
	if cfg.Graph == nil || cfg.Service == nil {
		return nil, errors.New("reconcile: graph and service are required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if !cfg.Epsilon.IsPositive() {
		cfg.Epsilon = decimal.New(1, -tier.Precision)
	}
	if cfg.PendingGrace <= 0 {
		cfg.PendingGrace = 10 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Reconciler{
		db:       cfg.DB,
		graph:    cfg.Graph,
		svc:      cfg.Service,
		users:    dao.NewUser(cfg.DB),
		ledger:   dao.NewLedger(cfg.DB),
		deposits: dao.NewDeposit(cfg.DB),
		audit:    dao.NewAudit(cfg.DB),
		cursors:  dao.NewCursor(cfg.DB),
		cfg:      cfg,
	}, nil
}

// Reconcile recomputes stored totals from the ledger and the deposits and
// reports every difference. It takes no locks and writes nothing except
// backfilled distributions.
func (r *Reconciler) Reconcile(ctx context.Context, scope Scope) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := r.cfg.Clock.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(r.cfg.Clock.Since(start).Seconds())
	}()

	if scope.PageSize <= 0 {
		scope.PageSize = r.cfg.PageSize
	}
	if scope.MaxPages <= 0 {
		scope.MaxPages = r.cfg.MaxPages
	}
	report := &Report{
		Discrepancies:   make([]Discrepancy, 0),
		TotalRecomputed: decimal.Zero,
		TotalStored:     decimal.Zero,
	}

	if scope.Backfill {
		if err := r.backfill(ctx, scope, report); err != nil {
			return report, err
		}
	}

	if scope.UserID != "" {
		user, err := r.users.Get(ctx, scope.UserID)
		if err != nil {
			return nil, errors.Wrapf(err, "load user %s", scope.UserID)
		}
		res, err := r.checkUser(ctx, user)
		if err != nil {
			return report, err
		}
		report.add(res)
		report.Complete = true
		report.count()
		return report, nil
	}

	if scope.Cursor == "" {
		dups, err := r.ledger.DuplicateKeys(ctx)
		if err != nil {
			return report, errors.Wrap(err, "find duplicate keys")
		}
		for _, k := range dups {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind:   KindDuplicateKey,
				UserID: k.ReferrerID,
				Details: fmt.Sprintf("depositor %s level %d event %s held by %d records",
					k.DepositorID, k.Level, k.SourceEventID, k.Num),
			})
		}
	}

	cursor := scope.Cursor
	for page := 0; page < scope.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			report.NextCursor = cursor
			return report, err
		}
		users, err := r.users.ListAfter(ctx, cursor, scope.PageSize)
		if err != nil {
			report.NextCursor = cursor
			return report, errors.Wrap(err, "list users")
		}
		if len(users) == 0 {
			report.Complete = true
			cursor = ""
			break
		}

		results := make([]*userResult, len(users))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for i := range users {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := r.checkUser(gctx, &users[i])
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			report.NextCursor = cursor
			return report, err
		}
		for _, res := range results {
			report.add(res)
		}

		cursor = users[len(users)-1].ID
		if len(users) < scope.PageSize {
			report.Complete = true
			cursor = ""
			break
		}
	}
	report.NextCursor = cursor
	report.count()
	return report, nil
}

// RunScheduled resumes the user scan from the persisted cursor.
func (r *Reconciler) RunScheduled(ctx context.Context) (*Report, error) {
	cursor, err := r.cursors.Get(ctx, userScan)
	if err != nil {
		return nil, errors.Wrap(err, "load reconcile cursor")
	}
	report, err := r.Reconcile(ctx, Scope{Cursor: cursor, Backfill: r.cfg.Backfill})
	if err != nil {
		return report, err
	}
	if err := r.cursors.Save(ctx, userScan, report.NextCursor, r.cfg.Clock.Now().UTC()); err != nil {
		return report, errors.Wrap(err, "save reconcile cursor")
	}
	log.WithFields(log.Fields{
		"users":         report.UsersScanned,
		"discrepancies": len(report.Discrepancies),
		"backfilled":    report.Backfilled,
		"complete":      report.Complete,
	}).Info("reconcile finished")
	return report, nil
}

type userResult struct {
	discrepancies []Discrepancy
	recomputed    decimal.Decimal
	stored        decimal.Decimal
}

func (rep *Report) add(res *userResult) {
	if res == nil {
		return
	}
	rep.UsersScanned++
	rep.TotalRecomputed = rep.TotalRecomputed.Add(res.recomputed)
	rep.TotalStored = rep.TotalStored.Add(res.stored)
	rep.Discrepancies = append(rep.Discrepancies, res.discrepancies...)
}

func (rep *Report) count() {
	for _, d := range rep.Discrepancies {
		metrics.ReconcileDiscrepancies.WithLabelValues(d.Kind).Inc()
	}
}

func (r *Reconciler) checkUser(ctx context.Context, u *model.User) (*userResult, error) {
	res := &userResult{stored: u.TotalEarnings}

	paid, err := r.ledger.SumByReferrer(ctx, u.ID, model.StatusPaid)
	if err != nil {
		return nil, errors.Wrapf(err, "sum ledger of %s", u.ID)
	}
	res.recomputed = paid.Sub(u.TotalWithdrawn)
	if res.recomputed.Sub(u.TotalEarnings).Abs().GreaterThan(r.cfg.Epsilon) {
		res.discrepancies = append(res.discrepancies, Discrepancy{
			Kind:     KindEarningsMismatch,
			UserID:   u.ID,
			Expected: res.recomputed,
			Stored:   u.TotalEarnings,
			Details:  fmt.Sprintf("ledger paid %s withdrawn %s", paid, u.TotalWithdrawn),
		})
	}

	deposited, err := r.deposits.SumByDepositor(ctx, u.ID, r.svc.PersonalKinds())
	if err != nil {
		return nil, errors.Wrapf(err, "sum deposits of %s", u.ID)
	}
	if !deposited.Equal(u.TotalPersonalDeposit) {
		res.discrepancies = append(res.discrepancies, Discrepancy{
			Kind:     KindDepositMismatch,
			UserID:   u.ID,
			Expected: deposited,
			Stored:   u.TotalPersonalDeposit,
		})
	}

	records, err := r.ledger.ForUser(ctx, u.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "load records of %s", u.ID)
	}
	res.discrepancies = append(res.discrepancies, r.checkRecords(ctx, u.ID, records)...)

	path, err := r.graph.DetectCycle(ctx, u.ID, cycleWalkLimit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnf("detect cycle of %s: %v", u.ID, err)
	} else if path != nil {
		res.discrepancies = append(res.discrepancies, Discrepancy{
			Kind:    KindReferralCycle,
			UserID:  u.ID,
			Details: strings.Join(path, " -> "),
		})
	}
	return res, nil
}

// checkRecords inspects records of one user. Records are checked from the
// referrer side; from the depositor side only the referrer's existence.
func (r *Reconciler) checkRecords(ctx context.Context, userID string, records []model.CommissionRecord) []Discrepancy {
	out := make([]Discrepancy, 0)
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ReferrerID == userID {
			ids = append(ids, rec.DepositorID)
		}
		if rec.DepositorID == userID {
			ids = append(ids, rec.ReferrerID)
		}
	}
	existing, err := r.users.Existing(ctx, ids)
	if err != nil {
		log.Warnf("check record owners of %s: %v", userID, err)
		existing = nil
	}

	staleBefore := r.cfg.Clock.Now().UTC().Add(-r.cfg.PendingGrace)
	for _, rec := range records {
		if rec.DepositorID == userID && rec.ReferrerID != userID && existing != nil && !existing[rec.ReferrerID] {
			out = append(out, Discrepancy{Kind: KindOrphanReferrer, UserID: userID, RecordID: rec.ID,
				Stored: rec.CommissionAmount, Details: "referrer " + rec.ReferrerID})
		}
		if rec.ReferrerID != userID {
			continue
		}
		if rec.DepositorID == userID {
			out = append(out, Discrepancy{Kind: KindSelfCommission, UserID: userID, RecordID: rec.ID,
				Stored: rec.CommissionAmount})
		} else if existing != nil && !existing[rec.DepositorID] {
			out = append(out, Discrepancy{Kind: KindOrphanDepositor, UserID: userID, RecordID: rec.ID,
				Stored: rec.CommissionAmount, Details: "depositor " + rec.DepositorID})
		}
		if rec.Level < 1 || rec.Level > tier.MaxLevel {
			out = append(out, Discrepancy{Kind: KindInvalidLevel, UserID: userID, RecordID: rec.ID,
				Details: fmt.Sprintf("level %d", rec.Level)})
		}
		if rec.Status == model.StatusPending && rec.CreatedAt.Before(staleBefore) {
			out = append(out, Discrepancy{Kind: KindStalePending, UserID: userID, RecordID: rec.ID,
				Stored: rec.CommissionAmount, Details: "pending since " + rec.CreatedAt.Format(time.RFC3339)})
		}
	}
	return out
}

// backfill distributes deposits that never produced commission records.
func (r *Reconciler) backfill(ctx context.Context, scope Scope, report *Report) error {
	cursor := ""
	for page := 0; page < scope.MaxPages; page++ {
		deposits, err := r.deposits.ListUndistributedAfter(ctx, scope.UserID, cursor, scope.PageSize)
		if err != nil {
			return errors.Wrap(err, "list undistributed deposits")
		}
		for i := range deposits {
			if err := ctx.Err(); err != nil {
				return err
			}
			dep := &deposits[i]
			n, err := r.ledger.CountBySourceEvent(ctx, dep.SourceEventID)
			if err != nil {
				return errors.Wrapf(err, "count records of %s", dep.SourceEventID)
			}
			if n > 0 {
				// distributed but never flagged
				if err := r.deposits.MarkDistributed(ctx, dep.ID, r.cfg.Clock.Now().UTC()); err != nil {
					return errors.Wrapf(err, "mark deposit %s", dep.ID)
				}
				continue
			}
			if _, err := r.svc.Backfill(ctx, dep); err != nil {
				log.WithField("deposit", dep.ID).Errorf("backfill err: %+v", err)
				report.BackfillErrors = append(report.BackfillErrors, fmt.Sprintf("%s: %v", dep.SourceEventID, err))
				continue
			}
			report.Backfilled++
			metrics.Backfilled.Inc()
		}
		if len(deposits) < scope.PageSize {
			return nil
		}
		cursor = deposits[len(deposits)-1].ID
	}
	return nil
}
