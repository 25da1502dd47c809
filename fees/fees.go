// Copyright (C) 2026, Genius Foundation. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fees prices cross-chain orders. A quote combines a tiered
// basis-point component, selected by order size, with a flat minimum
// fee configured per (token, destination chain).
package fees

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

const BpsDenominator = 10000

var (
	ErrNoFeeTiers           = errors.New("no fee tiers configured")
	ErrChainNotSupported    = errors.New("token or target chain not supported")
	ErrArrayLengthsMismatch = errors.New("array lengths mismatch")
	ErrEmptyArray           = errors.New("empty array")
	ErrInvalidAmount        = errors.New("thresholds must start at zero and strictly ascend")
	ErrInvalidPercentage    = errors.New("bps rate exceeds 10000")
)

// Tier maps an order-size threshold to a basis-point rate. The engine
// keeps tiers sorted ascending by threshold; the first tier always has
// threshold zero so every amount matches some tier.
type Tier struct {
	Threshold *big.Int
	Bps       uint32
}

// Breakdown is the result of quoting an order.
type Breakdown struct {
	BpsFee   *big.Int // floor(amountIn * tierBps / 10000)
	MinFee   *big.Int // flat minimum for (token, destChain)
	TotalFee *big.Int // MinFee + BpsFee
}

// Engine holds the fee tier table and the per-chain minimum fee table.
type Engine struct {
	mu      sync.RWMutex
	tiers   []Tier
	minFees map[uint64]map[common.Address]*big.Int // chainID -> token -> min fee
}

// NewEngine creates an engine with no tiers and no supported chains.
func NewEngine() *Engine {
	return &Engine{
		minFees: make(map[uint64]map[common.Address]*big.Int),
	}
}

// SetTiers replaces the whole tier table. Thresholds must start at
// zero and strictly ascend; rates are capped at 10000 bps.
func (e *Engine) SetTiers(thresholds []*big.Int, bps []uint32) error {
	if len(thresholds) != len(bps) {
		return ErrArrayLengthsMismatch
	}
	if len(thresholds) == 0 {
		return ErrEmptyArray
	}
	if thresholds[0] == nil || thresholds[0].Sign() != 0 {
		return ErrInvalidAmount
	}
	for i, th := range thresholds {
		if th == nil || th.Sign() < 0 {
			return ErrInvalidAmount
		}
		if i > 0 && th.Cmp(thresholds[i-1]) <= 0 {
			return ErrInvalidAmount
		}
		if bps[i] > BpsDenominator {
			return ErrInvalidPercentage
		}
	}

	tiers := make([]Tier, len(thresholds))
	for i := range thresholds {
		tiers[i] = Tier{Threshold: new(big.Int).Set(thresholds[i]), Bps: bps[i]}
	}

	e.mu.Lock()
	e.tiers = tiers
	e.mu.Unlock()
	return nil
}

// Tiers returns a copy of the current tier table.
func (e *Engine) Tiers() []Tier {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Tier, len(e.tiers))
	for i, t := range e.tiers {
		out[i] = Tier{Threshold: new(big.Int).Set(t.Threshold), Bps: t.Bps}
	}
	return out
}

// SetTargetChainMinFee sets the flat minimum fee for orders in token
// toward chainID. A nil or zero minimum withdraws support for the pair.
func (e *Engine) SetTargetChainMinFee(token common.Address, chainID uint64, min *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if min == nil || min.Sign() == 0 {
		if chainFees := e.minFees[chainID]; chainFees != nil {
			delete(chainFees, token)
			if len(chainFees) == 0 {
				delete(e.minFees, chainID)
			}
		}
		return
	}

	if e.minFees[chainID] == nil {
		e.minFees[chainID] = make(map[common.Address]*big.Int)
	}
	e.minFees[chainID][token] = new(big.Int).Set(min)
}

// TargetChainMinFee returns the configured minimum for (token, chainID),
// or nil when the pair is unsupported.
func (e *Engine) TargetChainMinFee(token common.Address, chainID uint64) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	chainFees := e.minFees[chainID]
	if chainFees == nil {
		return nil
	}
	min := chainFees[token]
	if min == nil {
		return nil
	}
	return new(big.Int).Set(min)
}

// Quote prices an order of amountIn in token toward destChainID.
// Tier selection picks the highest threshold not exceeding amountIn.
func (e *Engine) Quote(token common.Address, amountIn *big.Int, destChainID uint64) (*Breakdown, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.tiers) == 0 {
		return nil, ErrNoFeeTiers
	}

	chainFees := e.minFees[destChainID]
	if chainFees == nil {
		return nil, ErrChainNotSupported
	}
	min := chainFees[token]
	if min == nil || min.Sign() == 0 {
		return nil, ErrChainNotSupported
	}

	rate := e.tiers[0].Bps
	for _, t := range e.tiers {
		if t.Threshold.Cmp(amountIn) > 0 {
			break
		}
		rate = t.Bps
	}

	bpsFee := new(big.Int).Mul(amountIn, big.NewInt(int64(rate)))
	bpsFee.Div(bpsFee, big.NewInt(BpsDenominator))

	return &Breakdown{
		BpsFee:   bpsFee,
		MinFee:   new(big.Int).Set(min),
		TotalFee: new(big.Int).Add(min, bpsFee),
	}, nil
}
