// Package boot assembles the service from the loaded config.
package boot

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"server-commission-app/config"
	"server-commission-app/internal/app/api"
	"server-commission-app/internal/app/commission"
	"server-commission-app/internal/app/notify"
	"server-commission-app/internal/app/reconcile"
	"server-commission-app/internal/app/relation"
	"server-commission-app/internal/app/tier"
	"server-commission-app/internal/dao"
)

type App struct {
	Service    *commission.Service
	Reconciler *reconcile.Reconciler
	Graph      *relation.Graph
	Handler    *api.Handler

	closers []func() error
}

// Build wires every component on db.
func Build(ctx context.Context, db *gorm.DB) (*App, error) {
	cc := config.Commission
	table, thresholds, maxTotal, err := tier.FromConfig(cc.Rates, cc.Thresholds, cc.MaxTotalPercent)
	if err != nil {
		return nil, errors.WithMessage(err, "commission config")
	}
	book, err := tier.NewBook(dao.NewTierRate(db), table, maxTotal)
	if err != nil {
		return nil, err
	}
	if err := book.Load(ctx); err != nil {
		return nil, err
	}

	app := &App{}
	var source relation.Source
	switch cc.RelationBackend {
	case "", "mysql":
	case "dgraph":
		ds, err := relation.OpenDgraph(cc.DgraphAddr, cc.DgraphTimeout)
		if err != nil {
			return nil, errors.Wrap(err, "open dgraph")
		}
		app.closers = append(app.closers, ds.Close)
		source = ds
	default:
		return nil, errors.Errorf("unknown relation backend %q", cc.RelationBackend)
	}
	log.Infof("relation backend: %s", cc.RelationBackend)

	clock := clockwork.NewRealClock()
	app.Graph = relation.NewGraph(dao.NewUser(db), source)
	settler := commission.NewSettler(db, clock)
	distributor := commission.NewDistributor(db, app.Graph, settler, commission.Options{
		MaxLevels:    cc.MaxLevels,
		LegacyWindow: cc.LegacyWindow,
		Clock:        clock,
	})
	projector := commission.NewProjector(db, thresholds, book,
		notify.New(config.Server.NotifyURL, config.Server.SignKey), clock)
	app.Service = commission.NewService(db, book, projector, distributor, settler, cc.PersonalDepositKinds)

	rc := config.Reconcile
	app.Reconciler, err = reconcile.NewReconciler(reconcile.Config{
		DB:           db,
		Graph:        app.Graph,
		Service:      app.Service,
		PageSize:     rc.PageSize,
		MaxPages:     rc.MaxPages,
		Concurrency:  rc.Concurrency,
		Epsilon:      decimal.NewFromFloat(rc.Epsilon),
		PendingGrace: rc.PendingGrace,
		Backfill:     rc.Backfill,
		Clock:        clock,
	})
	if err != nil {
		return nil, err
	}
	app.Handler = api.New(db, app.Service, app.Reconciler)
	return app, nil
}

func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Errorf("err: %+v", errors.Wrap(err, "close"))
		}
	}
}
