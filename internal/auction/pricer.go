// Dutch auction pricing engine.
//
// Rates are expressed in basis points on the 1_000_000 == 100% fixed-point
// convention. All amount math is big.Int; no floating point anywhere in the
// pricing path.
package auction

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/config"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/utils"
)

// BpsDenominator is the fixed-point base: 1_000_000 bps == 100%
const BpsDenominator = 1_000_000

// ErrFillTooSmall reports an output below the configured minimum fill.
// Never clamped silently; the caller decides what to do with the order.
var ErrFillTooSmall = errors.New("computed output amount below minimum fill")

// Point is one segment endpoint of the decay curve
type Point struct {
	DelaySeconds   int64
	CoefficientBps int64
}

// Curve is the full auction configuration
type Curve struct {
	DurationSeconds    int64
	InitialRateBumpBps int64
	Points             []Point
	GasBumpEstimateBps int64
	GasPriceEstimate   *big.Int
	MinFillFractionBps int64
	MaxRateBumpBps     int64
}

// CurveFromConfig builds a Curve from the loaded configuration
func CurveFromConfig(cfg *config.AuctionConfig) (*Curve, error) {
	gasPrice := new(big.Int)
	if cfg.GasPriceEstimate != "" {
		var ok bool
		gasPrice, ok = new(big.Int).SetString(cfg.GasPriceEstimate, 10)
		if !ok {
			return nil, fmt.Errorf("invalid gasPriceEstimate %q", cfg.GasPriceEstimate)
		}
	}
	curve := &Curve{
		DurationSeconds:    cfg.DurationSeconds,
		InitialRateBumpBps: cfg.InitialRateBumpBps,
		GasBumpEstimateBps: cfg.GasBumpEstimateBps,
		GasPriceEstimate:   gasPrice,
		MinFillFractionBps: cfg.MinFillPercentage,
		MaxRateBumpBps:     cfg.MaxRateBumpBps,
	}
	for _, p := range cfg.Points {
		curve.Points = append(curve.Points, Point{DelaySeconds: p.DelaySeconds, CoefficientBps: p.CoefficientBps})
	}
	if err := curve.Validate(); err != nil {
		return nil, err
	}
	return curve, nil
}

// Validate enforces the curve invariants
func (c *Curve) Validate() error {
	if c.DurationSeconds <= 0 {
		return fmt.Errorf("auction duration must be positive")
	}
	if c.InitialRateBumpBps < 0 || c.InitialRateBumpBps > BpsDenominator {
		return fmt.Errorf("initialRateBump %d out of range [0, %d]", c.InitialRateBumpBps, BpsDenominator)
	}
	if c.MaxRateBumpBps < c.InitialRateBumpBps {
		return fmt.Errorf("maxRateBump %d must be >= initialRateBump %d", c.MaxRateBumpBps, c.InitialRateBumpBps)
	}
	for i, p := range c.Points {
		if p.DelaySeconds <= 0 {
			return fmt.Errorf("points[%d].delay must be positive", i)
		}
		if p.CoefficientBps < 0 || p.CoefficientBps > BpsDenominator {
			return fmt.Errorf("points[%d].coefficient %d out of range [0, %d]", i, p.CoefficientBps, BpsDenominator)
		}
	}
	return nil
}

// ComputeRate returns the rate bump in bps for the given elapsed auction time.
//
// Before the auction starts the initial bump applies; after the duration the
// max bump applies. In between, the bump is linearly interpolated across the
// configured points, where each point's delay is the length of its segment.
// The flat gas surcharge is added afterwards and the sum clamped to max.
func ComputeRate(elapsedSeconds int64, curve *Curve) int64 {
	base := baseRate(elapsedSeconds, curve)
	bumped := base + curve.GasBumpEstimateBps
	if bumped > curve.MaxRateBumpBps {
		return curve.MaxRateBumpBps
	}
	return bumped
}

func baseRate(elapsedSeconds int64, curve *Curve) int64 {
	if elapsedSeconds <= 0 {
		return curve.InitialRateBumpBps
	}
	if elapsedSeconds >= curve.DurationSeconds {
		return curve.MaxRateBumpBps
	}

	prevRate := curve.InitialRateBumpBps
	var prevTime int64
	for _, p := range curve.Points {
		segEnd := prevTime + p.DelaySeconds
		if elapsedSeconds < segEnd {
			// linear interpolation inside [prevTime, segEnd)
			offset := elapsedSeconds - prevTime
			return prevRate + (p.CoefficientBps-prevRate)*offset/p.DelaySeconds
		}
		prevRate = p.CoefficientBps
		prevTime = segEnd
	}
	// past the last point but before duration: last coefficient holds
	return prevRate
}

// ComputeOutputAmount applies the rate bump to fromAmount and rebase the
// result to the destination chain's decimals. Returns ErrFillTooSmall when the
// result violates the curve's minimum fill fraction (checked pre-rebase, in
// source-chain units).
func ComputeOutputAmount(fromAmount *big.Int, rateBumpBps int64, fromDecimals, toDecimals int, curve *Curve) (*big.Int, error) {
	if fromAmount == nil || fromAmount.Sign() <= 0 {
		return nil, fmt.Errorf("fromAmount must be positive")
	}
	if rateBumpBps < 0 {
		return nil, fmt.Errorf("rateBump must be non-negative, got %d", rateBumpBps)
	}

	// toAmount = fromAmount * (1_000_000 + rateBump) / 1_000_000
	numerator := big.NewInt(BpsDenominator + rateBumpBps)
	bumped := new(big.Int).Mul(fromAmount, numerator)
	bumped.Quo(bumped, big.NewInt(BpsDenominator))

	if curve != nil && curve.MinFillFractionBps > 0 {
		minOut := new(big.Int).Mul(fromAmount, big.NewInt(curve.MinFillFractionBps))
		minOut.Quo(minOut, big.NewInt(BpsDenominator))
		if bumped.Cmp(minOut) < 0 {
			return nil, fmt.Errorf("%w: %s < %s", ErrFillTooSmall, bumped, minOut)
		}
	}

	return utils.RebaseAmount(bumped, fromDecimals, toDecimals)
}
