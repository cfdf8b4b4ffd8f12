package tier

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Thresholds inclusive lower bounds of cumulative personal deposit.
type Thresholds struct {
	Silver   decimal.Decimal
	Gold     decimal.Decimal
	Platinum decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Silver:   decimal.NewFromInt(1000),
		Gold:     decimal.NewFromInt(2000),
		Platinum: decimal.NewFromInt(10000),
	}
}

func (th Thresholds) Validate() error {
	if !th.Silver.IsPositive() {
		return errors.Errorf("silver threshold %s must be positive", th.Silver)
	}
	if !th.Gold.GreaterThan(th.Silver) || !th.Platinum.GreaterThan(th.Gold) {
		return errors.Errorf("thresholds must increase: silver %s gold %s platinum %s", th.Silver, th.Gold, th.Platinum)
	}
	return nil
}

// TierFor is a pure function of the cumulative deposit.
func (th Thresholds) TierFor(total decimal.Decimal) Tier {
	switch {
	case total.GreaterThanOrEqual(th.Platinum):
		return Platinum
	case total.GreaterThanOrEqual(th.Gold):
		return Gold
	case total.GreaterThanOrEqual(th.Silver):
		return Silver
	}
	return Bronze
}
