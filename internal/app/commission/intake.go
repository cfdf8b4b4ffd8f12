package commission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"server-commission-app/internal/app/tier"
	"server-commission-app/internal/dao"
	"server-commission-app/internal/model"
)

// DepositEvent a confirmed deposit delivered by the payment side.
type DepositEvent struct {
	DepositorID   string          `json:"depositorId"`
	Amount        decimal.Decimal `json:"amount"`
	SourceKind    string          `json:"sourceKind"`
	SourceEventID string          `json:"sourceEventId"`
	ConfirmedAt   time.Time       `json:"confirmedAt"`
}

// IntakeResult what HandleDepositConfirmed did with one event.
type IntakeResult struct {
	Deposit       *model.Deposit  `json:"deposit"`
	Duplicate     bool            `json:"duplicate"`
	Transition    *TierTransition `json:"transition,omitempty"`
	Distribution  *Distribution   `json:"-"`
	DistributeErr error           `json:"-"`
}

// Service wires deposits, distribution, settlement and corrections together.
type Service struct {
	db            *gorm.DB
	deposits      *dao.Deposit
	ledger        *dao.Ledger
	users         *dao.User
	audit         *dao.Audit
	book          *tier.Book
	projector     *Projector
	distributor   *Distributor
	settler       *Settler
	personalKinds map[string]bool
	legacyWindow  time.Duration
	clock         clockwork.Clock
}

func NewService(db *gorm.DB, book *tier.Book, projector *Projector, distributor *Distributor, settler *Settler,
	personalKinds []string) *Service {
	kinds := make(map[string]bool, len(personalKinds))
	for _, k := range personalKinds {
		kinds[k] = true
	}
	if len(kinds) == 0 {
		kinds[model.SourceGasFeeTopup] = true
	}
	return &Service{
		db:            db,
		deposits:      dao.NewDeposit(db),
		ledger:        dao.NewLedger(db),
		users:         dao.NewUser(db),
		audit:         dao.NewAudit(db),
		book:          book,
		projector:     projector,
		distributor:   distributor,
		settler:       settler,
		personalKinds: kinds,
		legacyWindow:  distributor.opts.LegacyWindow,
		clock:         distributor.opts.Clock,
	}
}

func (s *Service) Book() *tier.Book {
	return s.book
}

func (s *Service) Distributor() *Distributor {
	return s.distributor
}

func (s *Service) Settler() *Settler {
	return s.settler
}

func (s *Service) Projector() *Projector {
	return s.projector
}

// PersonalKind reports whether deposits of kind count toward the tier.
func (s *Service) PersonalKind(kind string) bool {
	return s.personalKinds[kind]
}

// PersonalKinds configured personal deposit kinds.
func (s *Service) PersonalKinds() []string {
	kinds := make([]string, 0, len(s.personalKinds))
	for k := range s.personalKinds {
		kinds = append(kinds, k)
	}
	return kinds
}

// HandleDepositConfirmed records the deposit, credits the depositor's
// personal total once per source event and then distributes commission.
// A distribution failure is reported in the result, never as the error.
func (s *Service) HandleDepositConfirmed(ctx context.Context, ev DepositEvent) (*IntakeResult, error) {
	if err := validateDeposit(ev.DepositorID, ev.Amount, ev.SourceKind); err != nil {
		return nil, err
	}
	if ev.SourceKind == model.SourceManualFix || ev.SourceKind == model.SourceBackfill {
		return nil, invalid("source kind %s is internal", ev.SourceKind)
	}
	if ev.ConfirmedAt.IsZero() {
		ev.ConfirmedAt = s.clock.Now()
	}
	ev.ConfirmedAt = ev.ConfirmedAt.UTC()

	eventID := ev.SourceEventID
	if eventID == "" {
		eventID = LegacyEventID(ev.DepositorID, ev.SourceKind, ev.Amount, ev.ConfirmedAt, s.legacyWindow)
	}
	deposit := &model.Deposit{
		ID:            uuid.NewString(),
		SourceEventID: eventID,
		DepositorID:   ev.DepositorID,
		Amount:        ev.Amount,
		SourceKind:    ev.SourceKind,
		ConfirmedAt:   ev.ConfirmedAt,
		CreatedAt:     s.clock.Now().UTC(),
	}

	res := &IntakeResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ev.SourceEventID == "" {
			// redelivery may land in another window bucket
			prev, err := s.deposits.FindLegacyWithTx(tx, ev.DepositorID, ev.SourceKind, ev.Amount,
				ev.ConfirmedAt.Add(-s.legacyWindow), ev.ConfirmedAt.Add(s.legacyWindow))
			if err != nil && !dao.IsNotFound(err) {
				return errors.Wrap(err, "find legacy deposit")
			}
			if prev != nil {
				eventID = prev.SourceEventID
				res.Duplicate = true
				return nil
			}
		}
		created, err := s.deposits.CreateIfAbsentWithTx(tx, deposit)
		if err != nil {
			return errors.Wrap(err, "record deposit")
		}
		if !created {
			res.Duplicate = true
			return nil
		}
		if !s.personalKinds[ev.SourceKind] {
			return nil
		}
		res.Transition, err = s.projector.ApplyDepositWithTx(tx, ev.DepositorID, ev.Amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.projector.Notify(ctx, res.Transition)

	if res.Duplicate {
		deposit, err = s.deposits.GetBySourceEvent(ctx, eventID)
		if err != nil {
			return nil, errors.Wrapf(err, "load deposit %s", eventID)
		}
	}
	res.Deposit = deposit
	if deposit.Distributed {
		return res, nil
	}

	res.Distribution, res.DistributeErr = s.distributor.Distribute(ctx, s.book.Snapshot(), DistributeRequest{
		DepositorID:   ev.DepositorID,
		Amount:        ev.Amount,
		SourceKind:    ev.SourceKind,
		SourceEventID: eventID,
		ConfirmedAt:   ev.ConfirmedAt,
	})
	if res.DistributeErr != nil {
		log.WithFields(log.Fields{
			"depositor": ev.DepositorID,
			"event":     eventID,
		}).Errorf("distribute err: %+v", res.DistributeErr)
		return res, nil
	}
	if res.Distribution.SourceEventID != deposit.SourceEventID {
		// records belong to another event, leave the deposit to backfill
		log.Warnf("deposit %s resolved to records of %s", deposit.SourceEventID, res.Distribution.SourceEventID)
		return res, nil
	}
	if err := s.deposits.MarkDistributed(ctx, deposit.ID, s.clock.Now().UTC()); err != nil {
		log.Errorf("mark deposit distributed err: %+v", errors.WithStack(err))
		return res, nil
	}
	deposit.Distributed = true
	return res, nil
}

// Backfill distributes a stored deposit that never got its commission.
func (s *Service) Backfill(ctx context.Context, deposit *model.Deposit) (*Distribution, error) {
	dist, err := s.distributor.Distribute(ctx, s.book.Snapshot(), DistributeRequest{
		DepositorID:   deposit.DepositorID,
		Amount:        deposit.Amount,
		SourceKind:    model.SourceBackfill,
		SourceEventID: deposit.SourceEventID,
		ConfirmedAt:   deposit.ConfirmedAt,
	})
	if err != nil {
		return nil, err
	}
	if err := s.deposits.MarkDistributed(ctx, deposit.ID, s.clock.Now().UTC()); err != nil {
		return dist, errors.Wrapf(err, "mark deposit %s distributed", deposit.ID)
	}
	return dist, nil
}
