package options_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/adaptive-trader/internal/options"
	"github.com/atlas-desktop/adaptive-trader/pkg/types"
)

func TestPriceAtExpiryReturnsIntrinsicValue(t *testing.T) {
	pricer := options.NewSyntheticPricer()

	callPrice := pricer.Price(decimal.NewFromInt(110), decimal.NewFromInt(100), decimal.Zero, decimal.NewFromFloat(0.2), types.OptionCall)
	if !callPrice.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected ITM call at expiry to price at intrinsic value 10, got %s", callPrice)
	}

	putPrice := pricer.Price(decimal.NewFromInt(90), decimal.NewFromInt(100), decimal.Zero, decimal.NewFromFloat(0.2), types.OptionPut)
	if !putPrice.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected ITM put at expiry to price at intrinsic value 10, got %s", putPrice)
	}
}

func TestPriceOTMAtExpiryIsZero(t *testing.T) {
	pricer := options.NewSyntheticPricer()
	price := pricer.Price(decimal.NewFromInt(90), decimal.NewFromInt(100), decimal.Zero, decimal.NewFromFloat(0.2), types.OptionCall)
	if !price.IsZero() {
		t.Errorf("expected OTM call at expiry to price at zero, got %s", price)
	}
}

func TestPriceWithTimeValueExceedsIntrinsic(t *testing.T) {
	pricer := options.NewSyntheticPricer()
	tte := options.TimeToExpiryYears(30)

	price := pricer.Price(decimal.NewFromInt(100), decimal.NewFromInt(100), tte, decimal.NewFromFloat(0.3), types.OptionCall)
	if !price.GreaterThan(decimal.Zero) {
		t.Errorf("expected a positive ATM premium with time remaining, got %s", price)
	}
}

func TestGreeksATMCallDeltaNearHalf(t *testing.T) {
	pricer := options.NewSyntheticPricer()
	tte := options.TimeToExpiryYears(30)

	greeks := pricer.Greeks(decimal.NewFromInt(100), decimal.NewFromInt(100), tte, decimal.NewFromFloat(0.3), decimal.NewFromInt(5), types.OptionCall)
	if !greeks.Delta.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected ATM call delta of 0.5, got %s", greeks.Delta)
	}
}

func TestGreeksPutDeltaIsNegative(t *testing.T) {
	pricer := options.NewSyntheticPricer()
	tte := options.TimeToExpiryYears(30)

	greeks := pricer.Greeks(decimal.NewFromInt(100), decimal.NewFromInt(100), tte, decimal.NewFromFloat(0.3), decimal.NewFromInt(5), types.OptionPut)
	if !greeks.Delta.LessThan(decimal.Zero) {
		t.Errorf("expected put delta to be negative, got %s", greeks.Delta)
	}
}

func TestStrikeFromMoneynessOTMCallAboveSpot(t *testing.T) {
	strike := options.StrikeFromMoneyness(decimal.NewFromInt(100), types.MoneynessOTM, types.OptionCall)
	if !strike.GreaterThan(decimal.NewFromInt(100)) {
		t.Errorf("expected an OTM call strike above spot, got %s", strike)
	}
}

func TestStrikeFromMoneynessOTMPutBelowSpot(t *testing.T) {
	strike := options.StrikeFromMoneyness(decimal.NewFromInt(100), types.MoneynessOTM, types.OptionPut)
	if !strike.LessThan(decimal.NewFromInt(100)) {
		t.Errorf("expected an OTM put strike below spot, got %s", strike)
	}
}
