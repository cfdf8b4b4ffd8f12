package tier

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Tier string

const (
	Bronze   Tier = "bronze"
	Silver   Tier = "silver"
	Gold     Tier = "gold"
	Platinum Tier = "platinum"
)

// MaxLevel deepest level of the referral chain that earns commission.
const MaxLevel = 3

// Settlement precision in decimal places.
const Precision = 2

var hundred = decimal.NewFromInt(100)

// All tiers in ascending order.
func All() []Tier {
	return []Tier{Bronze, Silver, Gold, Platinum}
}

// InvalidTierError an unknown tier name.
type InvalidTierError struct {
	Tier string
}

func (e *InvalidTierError) Error() string {
	return fmt.Sprintf("invalid tier %q", e.Tier)
}

func ParseTier(s string) (Tier, error) {
	switch t := Tier(s); t {
	case Bronze, Silver, Gold, Platinum:
		return t, nil
	}
	return "", &InvalidTierError{Tier: s}
}

// Rates commission percentages per level.
type Rates struct {
	Level1 decimal.Decimal `json:"level1"`
	Level2 decimal.Decimal `json:"level2"`
	Level3 decimal.Decimal `json:"level3"`
}

func (r Rates) ForLevel(level int) (decimal.Decimal, error) {
	switch level {
	case 1:
		return r.Level1, nil
	case 2:
		return r.Level2, nil
	case 3:
		return r.Level3, nil
	}
	return decimal.Zero, errors.Errorf("invalid level %d", level)
}

func (r Rates) total() decimal.Decimal {
	return r.Level1.Add(r.Level2).Add(r.Level3)
}

// Table maps every tier to its rates. A Table handed to a distribution run
// must not be mutated; Book hands out copies.
type Table map[Tier]Rates

func NewRates(l1, l2, l3 float64) Rates {
	return Rates{
		Level1: decimal.NewFromFloat(l1),
		Level2: decimal.NewFromFloat(l2),
		Level3: decimal.NewFromFloat(l3),
	}
}

// DefaultTable current policy.
func DefaultTable() Table {
	return Table{
		Bronze:   NewRates(10, 5, 5),
		Silver:   NewRates(20, 5, 5),
		Gold:     NewRates(30, 5, 5),
		Platinum: NewRates(40, 5, 5),
	}
}

func (t Table) Clone() Table {
	c := make(Table, len(t))
	for k, v := range t {
		c[k] = v
	}
	return c
}

func (t Table) RateFor(tier Tier, level int) (decimal.Decimal, error) {
	rates, ok := t[tier]
	if !ok {
		return decimal.Zero, &InvalidTierError{Tier: string(tier)}
	}
	return rates.ForLevel(level)
}

// Commission depositAmount * rate / 100, rounded once to the settlement unit.
func (t Table) Commission(depositAmount decimal.Decimal, tier Tier, level int) (decimal.Decimal, error) {
	rate, err := t.RateFor(tier, level)
	if err != nil {
		return decimal.Zero, err
	}
	return Commission(depositAmount, rate), nil
}

// Commission applies a percentage rate. Non-negative amounts round half-up.
func Commission(depositAmount, rate decimal.Decimal) decimal.Decimal {
	return depositAmount.Mul(rate).Div(hundred).Round(Precision)
}

// Validate checks every tier is present, rates are within [0,100],
// level1 >= level2 and the whole chain never pays more than maxTotalPercent.
func (t Table) Validate(maxTotalPercent decimal.Decimal) error {
	if maxTotalPercent.LessThanOrEqual(decimal.Zero) || maxTotalPercent.GreaterThan(hundred) {
		return errors.Errorf("max total percent %s out of (0,100]", maxTotalPercent)
	}
	for _, tier := range All() {
		r, ok := t[tier]
		if !ok {
			return errors.Errorf("missing rates for tier %s", tier)
		}
		for level, rate := range []decimal.Decimal{r.Level1, r.Level2, r.Level3} {
			if rate.IsNegative() || rate.GreaterThan(hundred) {
				return errors.Errorf("tier %s level%d rate %s out of [0,100]", tier, level+1, rate)
			}
		}
		if r.Level1.LessThan(r.Level2) {
			return errors.Errorf("tier %s level1 rate %s below level2 rate %s", tier, r.Level1, r.Level2)
		}
		if r.total().GreaterThan(maxTotalPercent) {
			return errors.Errorf("tier %s pays %s%% in total, limit %s%%", tier, r.total(), maxTotalPercent)
		}
	}
	for name := range t {
		if _, err := ParseTier(string(name)); err != nil {
			return err
		}
	}
	return nil
}

// Tiers present in the table, ascending.
func (t Table) Tiers() []Tier {
	order := map[Tier]int{Bronze: 0, Silver: 1, Gold: 2, Platinum: 3}
	tiers := make([]Tier, 0, len(t))
	for k := range t {
		tiers = append(tiers, k)
	}
	sort.Slice(tiers, func(i, j int) bool { return order[tiers[i]] < order[tiers[j]] })
	return tiers
}
