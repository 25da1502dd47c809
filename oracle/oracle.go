// Copyright (C) 2026, Genius Foundation. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle guards vault operations behind the pooled
// stablecoin's peg. Principal-moving operations consult the guard;
// a stale or out-of-band price halts them before funds move.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	ErrStalePrice        = errors.New("oracle price is stale")
	ErrPriceOutOfBounds  = errors.New("oracle price outside peg bounds")
	ErrOracleUnavailable = errors.New("oracle unavailable")
)

// PriceFeed is the external price source for the pooled stablecoin.
type PriceFeed interface {
	LatestPrice() (price *big.Int, updatedAt time.Time, err error)
}

// Guard validates peg health against a configured staleness window and
// price band. A Guard with a nil feed always reports healthy, for
// deployments that do not run an oracle.
type Guard struct {
	feed     PriceFeed
	maxAge   time.Duration
	minPrice *big.Int
	maxPrice *big.Int
}

// NewGuard creates a peg guard. minPrice and maxPrice bound the
// acceptable price inclusively; maxAge bounds the price's age.
func NewGuard(feed PriceFeed, maxAge time.Duration, minPrice, maxPrice *big.Int) *Guard {
	return &Guard{
		feed:     feed,
		maxAge:   maxAge,
		minPrice: new(big.Int).Set(minPrice),
		maxPrice: new(big.Int).Set(maxPrice),
	}
}

// Disabled returns a guard that treats the peg as always healthy.
func Disabled() *Guard {
	return &Guard{}
}

// AssertPegHealthy reads the feed and fails when the price is stale or
// outside the peg band, as observed at now.
func (g *Guard) AssertPegHealthy(now time.Time) error {
	if g == nil || g.feed == nil {
		return nil
	}

	price, updatedAt, err := g.feed.LatestPrice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if now.Sub(updatedAt) > g.maxAge {
		return ErrStalePrice
	}
	if price.Cmp(g.minPrice) < 0 || price.Cmp(g.maxPrice) > 0 {
		return ErrPriceOutOfBounds
	}
	return nil
}

// LatestPrice exposes the feed reading for operators. Returns
// ErrOracleUnavailable when no feed is configured.
func (g *Guard) LatestPrice() (*big.Int, time.Time, error) {
	if g == nil || g.feed == nil {
		return nil, time.Time{}, ErrOracleUnavailable
	}
	return g.feed.LatestPrice()
}
