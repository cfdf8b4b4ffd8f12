package relation

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"server-commission-app/internal/app/tier"
	"server-commission-app/internal/model"
)

// MaxLevels hard cap of any upline walk.
const MaxLevels = tier.MaxLevel

// ErrCycle dirty relation data loops back onto a user already walked.
var ErrCycle = errors.New("dirty user data cause circle in relation")

// Depositor the user whose deposit triggered a distribution. The id is set
// once by NewDepositor and every record of the run takes it from here.
type Depositor struct {
	id string
}

func NewDepositor(id string) Depositor {
	return Depositor{id: id}
}

func (d Depositor) ID() string {
	return d.id
}

// Link one ancestor of the depositor with the tier read at evaluation time.
type Link struct {
	Level        int
	ReferrerID   string
	ReferrerTier tier.Tier
}

// ChainResolutionError a referrer that could not be resolved mid-walk. The
// chain up to Level-1 is still valid.
type ChainResolutionError struct {
	Level  int
	UserID string
	Err    error
}

func (e *ChainResolutionError) Error() string {
	return fmt.Sprintf("resolve level %d referrer of %s: %v", e.Level, e.UserID, e.Err)
}

func (e *ChainResolutionError) Unwrap() error {
	return e.Err
}

// Chain the upline of one depositor, nearest referrer first.
type Chain struct {
	Depositor Depositor
	Links     []Link
	Truncated *ChainResolutionError
}

// Users reads user rows.
type Users interface {
	Get(ctx context.Context, id string) (*model.User, error)
}

// Source answers who invited a user. An empty id means the user is a root.
type Source interface {
	Inviter(ctx context.Context, u *model.User) (string, error)
}

// StoreSource takes the inviter from users.referred_by.
type StoreSource struct{}

func (StoreSource) Inviter(_ context.Context, u *model.User) (string, error) {
	return u.ReferredBy, nil
}

type Graph struct {
	users  Users
	source Source
}

func NewGraph(users Users, source Source) *Graph {
	if source == nil {
		source = StoreSource{}
	}
	return &Graph{users: users, source: source}
}

// UplineChain walks level1 = depositor.referredBy, level n+1 =
// referrer(n).referredBy until the root or maxLevels. Only context errors
// fail the walk; anything else truncates it.
func (g *Graph) UplineChain(ctx context.Context, depositor Depositor, maxLevels int) (*Chain, error) {
	if maxLevels <= 0 || maxLevels > MaxLevels {
		maxLevels = MaxLevels
	}
	chain := &Chain{Depositor: depositor, Links: make([]Link, 0, maxLevels)}

	cursor, err := g.users.Get(ctx, depositor.ID())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		chain.Truncated = &ChainResolutionError{Level: 1, UserID: depositor.ID(), Err: err}
		return chain, nil
	}

	visited := map[string]bool{depositor.ID(): true}
	for level := 1; level <= maxLevels; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inviterID, err := g.source.Inviter(ctx, cursor)
		if err != nil {
			chain.Truncated = &ChainResolutionError{Level: level, UserID: cursor.ID, Err: err}
			break
		}
		if inviterID == "" {
			break
		}
		if visited[inviterID] {
			chain.Truncated = &ChainResolutionError{Level: level, UserID: cursor.ID,
				Err: errors.Wrapf(ErrCycle, "uid: %s", inviterID)}
			break
		}
		referrer, err := g.users.Get(ctx, inviterID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			chain.Truncated = &ChainResolutionError{Level: level, UserID: cursor.ID, Err: err}
			break
		}
		visited[inviterID] = true
		chain.Links = append(chain.Links, Link{
			Level:        level,
			ReferrerID:   referrer.ID,
			ReferrerTier: tier.Tier(referrer.MembershipTier),
		})
		cursor = referrer
	}

	if chain.Truncated != nil {
		log.WithFields(log.Fields{
			"depositor": depositor.ID(),
			"level":     chain.Truncated.Level,
		}).Warnf("upline chain truncated: %v", chain.Truncated.Err)
	}
	return chain, nil
}

// DetectCycle walks up to limit ancestors of uid and returns the path when a
// user shows up twice.
func (g *Graph) DetectCycle(ctx context.Context, uid string, limit int) ([]string, error) {
	cursor, err := g.users.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	path := []string{uid}
	seen := map[string]bool{uid: true}
	for i := 0; i < limit; i++ {
		inviterID, err := g.source.Inviter(ctx, cursor)
		if err != nil {
			return nil, err
		}
		if inviterID == "" {
			return nil, nil
		}
		path = append(path, inviterID)
		if seen[inviterID] {
			return path, nil
		}
		seen[inviterID] = true
		cursor, err = g.users.Get(ctx, inviterID)
		if err != nil {
			// missing ancestor ends the walk, orphans are reported elsewhere
			return nil, nil
		}
	}
	return nil, nil
}
