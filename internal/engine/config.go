// Package engine implements the central limit order book and matching core
// for prediction-market instruments. One Engine serves every (market, outcome)
// pair; each instrument gets its own book and lock so unrelated instruments
// never contend.
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// STPPolicy selects the self-trade prevention behavior applied when an
// incoming order would execute against a resting order from the same account.
type STPPolicy string

const (
	// STPOff disables self-trade prevention entirely.
	STPOff STPPolicy = "off"
	// STPSkip skips the resting order and continues to the next maker.
	STPSkip STPPolicy = "skip"
	// STPCancelResting cancels the resting order instead of trading with it.
	STPCancelResting STPPolicy = "cancel_resting"
)

// Config holds matching parameters shared by every instrument.
type Config struct {
	MakerFeeRate        decimal.Decimal
	TakerFeeRate        decimal.Decimal
	MinFee              decimal.Decimal
	MinOrderSize        decimal.Decimal
	MaxOrderSize        decimal.Decimal
	TickSize            decimal.Decimal
	SelfTradePrevention STPPolicy

	// EventBuffer is the capacity of the outbound event channel. Events are
	// dropped (with a warning) once the buffer is full; the in-memory book
	// remains authoritative regardless.
	EventBuffer int
}

// DefaultConfig mirrors the platform's production defaults: 0.1% maker fee,
// 0.2% taker fee, 0.01 minimum fee, one-cent tick, order sizes between 1 and
// 1,000,000 shares.
func DefaultConfig() Config {
	return Config{
		MakerFeeRate:        decimal.New(1, -3),  // 0.001
		TakerFeeRate:        decimal.New(2, -3),  // 0.002
		MinFee:              decimal.New(1, -2),  // 0.01
		MinOrderSize:        decimal.New(1, 0),   // 1
		MaxOrderSize:        decimal.New(1, 6),   // 1,000,000
		TickSize:            decimal.New(1, -2),  // 0.01
		SelfTradePrevention: STPSkip,
		EventBuffer:         1024,
	}
}

// Validate checks the configuration for internally consistent parameters.
func (c Config) Validate() error {
	if c.TickSize.Sign() <= 0 {
		return fmt.Errorf("engine config: tick size must be positive, got %s", c.TickSize)
	}
	if c.MinOrderSize.Sign() <= 0 {
		return fmt.Errorf("engine config: min order size must be positive, got %s", c.MinOrderSize)
	}
	if c.MaxOrderSize.LessThan(c.MinOrderSize) {
		return fmt.Errorf("engine config: max order size %s below min %s", c.MaxOrderSize, c.MinOrderSize)
	}
	if c.MakerFeeRate.Sign() < 0 || c.TakerFeeRate.Sign() < 0 || c.MinFee.Sign() < 0 {
		return fmt.Errorf("engine config: fee rates must be non-negative")
	}
	switch c.SelfTradePrevention {
	case STPOff, STPSkip, STPCancelResting:
	default:
		return fmt.Errorf("engine config: unknown self-trade prevention policy %q", c.SelfTradePrevention)
	}
	return nil
}
