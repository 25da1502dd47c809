// Copyright (C) 2026, Genius Foundation. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
)

// Order is a cross-chain transfer intent. Account and token
// identifiers are 32-byte chain-agnostic values so the same order is
// meaningful on every chain; amounts are denominated in the source
// chain's stablecoin decimal precision.
type Order struct {
	Seed         [32]byte // caller-chosen nonce
	Trader       [32]byte
	Receiver     [32]byte
	TokenIn      [32]byte
	TokenOut     [32]byte
	AmountIn     *big.Int
	Fee          *big.Int // total fee the trader pre-committed to pay
	MinAmountOut *big.Int // slippage floor for destination-side swaps
	SrcChainID   uint64
	DestChainID  uint64
	FillDeadline uint64 // unix seconds; a fill past this must not succeed
}

// ID is the order's deterministic identifier: a Keccak256 content hash
// over every field. Two orders with identical fields collide by
// design; the status machine keyed by ID prevents double-processing.
func (o *Order) ID() common.Hash {
	buf := make([]byte, 0, 32*8+8*3)
	buf = append(buf, o.Seed[:]...)
	buf = append(buf, o.Trader[:]...)
	buf = append(buf, o.Receiver[:]...)
	buf = append(buf, o.TokenIn[:]...)
	buf = append(buf, o.TokenOut[:]...)
	buf = appendBig(buf, o.AmountIn)
	buf = appendBig(buf, o.Fee)
	buf = appendBig(buf, o.MinAmountOut)
	buf = appendUint64(buf, o.SrcChainID)
	buf = appendUint64(buf, o.DestChainID)
	buf = appendUint64(buf, o.FillDeadline)
	return common.BytesToHash(crypto.Keccak256(buf))
}

func appendBig(buf []byte, v *big.Int) []byte {
	h := common.Hash{}
	if v != nil {
		h = common.BigToHash(v)
	}
	return append(buf, h[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// AddressToBytes32 left-pads a 20-byte address into the chain-agnostic
// 32-byte encoding used in orders.
func AddressToBytes32(addr common.Address) [32]byte {
	var out [32]byte
	copy(out[12:], addr[:])
	return out
}

// Bytes32ToAddress recovers the local address from the chain-agnostic
// encoding.
func Bytes32ToAddress(b [32]byte) common.Address {
	return common.BytesToAddress(b[12:])
}

// Status is the per-identifier order state. Terminal states are final.
type Status uint8

const (
	StatusNonexistent Status = iota
	StatusCreated
	StatusFilled
	StatusReverted
)

func (s Status) String() string {
	switch s {
	case StatusNonexistent:
		return "nonexistent"
	case StatusCreated:
		return "created"
	case StatusFilled:
		return "filled"
	case StatusReverted:
		return "reverted"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ChainConfig holds the per-chain settings an order targeting that
// chain depends on.
type ChainConfig struct {
	StablecoinDecimals uint8
}

// Authority is the external role/permission collaborator. The core
// consumes it as a boolean gate and does not implement role storage.
type Authority interface {
	HasAdminRole(caller common.Address) bool
	HasOrchestratorRole(caller common.Address) bool
}

// EventSink receives notifications for off-chain observers. The
// order-created notification carries the full order so an orchestrator
// can reproduce the fill on the destination chain.
type EventSink interface {
	OrderCreated(id common.Hash, order Order)
	OrderImported(id common.Hash, order Order)
	OrderFilled(id common.Hash, order Order, paidOut *big.Int, swapped bool)
	OrderReverted(id common.Hash, order Order, refunded *big.Int)
	ConfigChanged(name string, value interface{})
}

// nopSink is the default sink.
type nopSink struct{}

func (nopSink) OrderCreated(common.Hash, Order)                {}
func (nopSink) OrderImported(common.Hash, Order)               {}
func (nopSink) OrderFilled(common.Hash, Order, *big.Int, bool) {}
func (nopSink) OrderReverted(common.Hash, Order, *big.Int)     {}
func (nopSink) ConfigChanged(string, interface{})              {}

// Vault errors.
var (
	ErrPaused                = errors.New("vault is paused")
	ErrUnauthorized          = errors.New("caller lacks required role")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidTokenIn        = errors.New("token in is not the pooled stablecoin")
	ErrInvalidDestChainID    = errors.New("invalid destination chain id")
	ErrInvalidSourceChainID  = errors.New("invalid source chain id")
	ErrChainNotConfigured    = errors.New("chain stablecoin decimals not configured")
	ErrOrderAlreadyExists    = errors.New("order already exists")
	ErrOrderDoesNotExist     = errors.New("order does not exist")
	ErrOrderAlreadyFilled    = errors.New("order already filled")
	ErrOrderAlreadyReverted  = errors.New("order already reverted")
	ErrOrderExpired          = errors.New("order fill deadline passed")
	ErrInvalidSignature      = errors.New("invalid orchestrator signature")
	ErrInsufficientFees      = errors.New("insufficient fees")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidTransferAmount = errors.New("transfer moved unexpected amount")
	ErrInvalidPercentage     = errors.New("percentage exceeds 10000 bps")
	ErrCorruptOrderStatus    = errors.New("corrupt order status")
)

// InsufficientFeesError carries the provided/required amounts so the
// orchestrator can resubmit with a correct fee. Unwraps to
// ErrInsufficientFees.
type InsufficientFeesError struct {
	Provided *big.Int
	Required *big.Int
	Token    [32]byte
}

func (e *InsufficientFeesError) Error() string {
	return fmt.Sprintf("insufficient fees: provided %v, required %v", e.Provided, e.Required)
}

func (e *InsufficientFeesError) Unwrap() error { return ErrInsufficientFees }

// stateConflict maps a non-Created status to its transition error.
func stateConflict(s Status) error {
	switch s {
	case StatusNonexistent:
		return ErrOrderDoesNotExist
	case StatusFilled:
		return ErrOrderAlreadyFilled
	case StatusReverted:
		return ErrOrderAlreadyReverted
	default:
		return fmt.Errorf("%w: %d", ErrCorruptOrderStatus, uint8(s))
	}
}
