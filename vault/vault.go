// Copyright (C) 2026, Genius Foundation. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault is the cross-chain settlement core: a single-token
// liquidity vault driving the order state machine
// Nonexistent -> Created -> {Filled | Reverted}. Orders are created on
// the source chain, filled on the destination chain by an orchestrator,
// or reverted on the source chain with a signed cancellation. Staked
// principal, collected fees, and the rebalance floor are tracked in a
// persistent liquidity ledger.
package vault

import (
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/crypto"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/Genius-Foundation/genius-contracts-sub001/decimals"
	"github.com/Genius-Foundation/genius-contracts-sub001/fees"
	"github.com/Genius-Foundation/genius-contracts-sub001/oracle"
	"github.com/Genius-Foundation/genius-contracts-sub001/sandbox"
	"github.com/Genius-Foundation/genius-contracts-sub001/token"
)

// revertDomain separates cancellation signatures from any other
// signing context.
var revertDomain = []byte("genius.vault.revert.v1")

// RevertDigest is the message an orchestrator signs to authorize
// cancelling the identified order.
func RevertDigest(id common.Hash) []byte {
	return crypto.Keccak256(revertDomain, id[:])
}

// Config wires a Vault's collaborators.
type Config struct {
	ChainID    uint64         // this ledger's own chain
	Stablecoin common.Address // the pooled token
	Account    common.Address // the vault's own account in Bank

	Authority Authority
	Fees      *fees.Engine
	Guard     *oracle.Guard // nil disables the peg check
	Bank      token.Bank
	Proxy     *sandbox.Proxy
	DB        database.Database

	Logger log.Logger // nil gets a test logger
	Events EventSink  // nil gets a no-op sink
	Now    func() time.Time
}

// Vault is the settlement core for one chain deployment.
type Vault struct {
	mu sync.Mutex

	chainID    uint64
	stablecoin common.Address
	account    common.Address

	auth  Authority
	fees  *fees.Engine
	guard *oracle.Guard
	bank  token.Bank
	proxy *sandbox.Proxy
	store *store
	sink  EventSink
	now   func() time.Time
	log   log.Logger

	// Counters mirrored from the store; the store copy is
	// authoritative across restarts.
	paused        bool
	thresholdBps  uint32
	totalStaked   *big.Int
	unclaimedFees *big.Int
}

// New creates a vault, loading persisted counters from cfg.DB.
func New(cfg Config) (*Vault, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	sink := cfg.Events
	if sink == nil {
		sink = nopSink{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	st := newStore(cfg.DB)
	paused, err := st.getPaused()
	if err != nil {
		return nil, err
	}
	threshold, err := st.getThreshold()
	if err != nil {
		return nil, err
	}
	totalStaked, err := st.getCounter(metaTotalStaked)
	if err != nil {
		return nil, err
	}
	unclaimed, err := st.getCounter(metaUnclaimedFees)
	if err != nil {
		return nil, err
	}

	return &Vault{
		chainID:       cfg.ChainID,
		stablecoin:    cfg.Stablecoin,
		account:       cfg.Account,
		auth:          cfg.Authority,
		fees:          cfg.Fees,
		guard:         cfg.Guard,
		bank:          cfg.Bank,
		proxy:         cfg.Proxy,
		store:         st,
		sink:          sink,
		now:           now,
		log:           logger,
		paused:        paused,
		thresholdBps:  threshold,
		totalStaked:   totalStaked,
		unclaimedFees: unclaimed,
	}, nil
}

// enter rejects calls arriving from inside a sandbox dispatch, then
// takes the vault lock. Callers must defer v.mu.Unlock on success.
func (v *Vault) enter() error {
	if v.proxy != nil && v.proxy.Busy() {
		return sandbox.ErrReentrantCall
	}
	v.mu.Lock()
	return nil
}

func (v *Vault) requireOrchestrator(caller common.Address) error {
	if v.auth == nil || !v.auth.HasOrchestratorRole(caller) {
		return ErrUnauthorized
	}
	return nil
}

func (v *Vault) requireAdmin(caller common.Address) error {
	if v.auth == nil || !v.auth.HasAdminRole(caller) {
		return ErrUnauthorized
	}
	return nil
}

// balance reads the vault's pooled-token balance from the bank.
func (v *Vault) balance() *big.Int {
	return v.bank.BalanceOf(v.stablecoin, v.account)
}

// =========================================================================
// Order lifecycle
// =========================================================================

// CreateOrder registers a new order on its source chain and pulls the
// trader's principal into the pool. The trader must have approved the
// vault beforehand; the pull is delta-verified so a silently failing
// token cannot mint phantom liquidity. The order's fee is counted as
// unclaimed fees immediately.
func (v *Vault) CreateOrder(caller common.Address, o Order) (common.Hash, error) {
	if err := v.enter(); err != nil {
		return common.Hash{}, err
	}
	defer v.mu.Unlock()

	if err := v.requireOrchestrator(caller); err != nil {
		return common.Hash{}, err
	}
	if v.paused {
		return common.Hash{}, ErrPaused
	}
	if o.AmountIn == nil || o.AmountIn.Sign() <= 0 {
		return common.Hash{}, ErrInvalidAmount
	}
	fee := big.NewInt(0)
	if o.Fee != nil {
		fee = o.Fee
	}
	if fee.Sign() < 0 || fee.Cmp(o.AmountIn) >= 0 {
		return common.Hash{}, ErrInvalidAmount
	}
	if o.TokenIn != AddressToBytes32(v.stablecoin) {
		return common.Hash{}, ErrInvalidTokenIn
	}
	if o.DestChainID == o.SrcChainID || o.SrcChainID != v.chainID {
		return common.Hash{}, ErrInvalidDestChainID
	}
	if _, ok, err := v.store.getChainDecimals(o.DestChainID); err != nil {
		return common.Hash{}, err
	} else if !ok {
		return common.Hash{}, ErrChainNotConfigured
	}
	if err := v.guard.AssertPegHealthy(v.now()); err != nil {
		return common.Hash{}, err
	}

	quote, err := v.fees.Quote(v.stablecoin, o.AmountIn, o.DestChainID)
	if err != nil {
		return common.Hash{}, err
	}
	if fee.Cmp(quote.TotalFee) < 0 {
		return common.Hash{}, &InsufficientFeesError{
			Provided: new(big.Int).Set(fee),
			Required: quote.TotalFee,
			Token:    o.TokenIn,
		}
	}

	id := o.ID()
	status, _, err := v.store.getOrder(id)
	if err != nil {
		return common.Hash{}, err
	}
	if status != StatusNonexistent {
		return common.Hash{}, ErrOrderAlreadyExists
	}

	trader := Bytes32ToAddress(o.Trader)
	snap := v.bank.Snapshot()
	before := v.balance()
	if err := v.bank.TransferFrom(v.stablecoin, trader, v.account, v.account, o.AmountIn); err != nil {
		v.rollback(snap)
		return common.Hash{}, err
	}
	delta := new(big.Int).Sub(v.balance(), before)
	if delta.Cmp(o.AmountIn) != 0 {
		v.rollback(snap)
		return common.Hash{}, ErrInvalidTransferAmount
	}

	// Status and fee counter commit atomically; a failed commit rolls
	// the pull back so no Created order exists without its principal.
	nextFees := new(big.Int).Add(v.unclaimedFees, fee)
	batch := v.store.newBatch()
	if err := batch.putOrder(id, StatusCreated, o.SrcChainID); err != nil {
		v.rollback(snap)
		return common.Hash{}, err
	}
	if err := batch.putCounter(metaUnclaimedFees, nextFees); err != nil {
		v.rollback(snap)
		return common.Hash{}, err
	}
	if err := batch.write(); err != nil {
		v.rollback(snap)
		return common.Hash{}, err
	}
	v.unclaimedFees = nextFees

	v.log.Info("order created",
		"id", id,
		"trader", trader,
		"amountIn", o.AmountIn,
		"fee", fee,
		"destChain", o.DestChainID,
	)
	v.sink.OrderCreated(id, o)
	return id, nil
}

// ImportOrder registers an order created on another chain onto this
// destination ledger, recording its origin. The orchestrator calls it
// after observing the source chain's order-created notification; only
// an imported order can be filled here.
func (v *Vault) ImportOrder(caller common.Address, o Order) (common.Hash, error) {
	if err := v.enter(); err != nil {
		return common.Hash{}, err
	}
	defer v.mu.Unlock()

	if err := v.requireOrchestrator(caller); err != nil {
		return common.Hash{}, err
	}
	if v.paused {
		return common.Hash{}, ErrPaused
	}
	if o.DestChainID != v.chainID {
		return common.Hash{}, ErrInvalidDestChainID
	}
	if o.SrcChainID == o.DestChainID {
		return common.Hash{}, ErrInvalidSourceChainID
	}
	if _, ok, err := v.store.getChainDecimals(o.SrcChainID); err != nil {
		return common.Hash{}, err
	} else if !ok {
		return common.Hash{}, ErrChainNotConfigured
	}

	id := o.ID()
	status, _, err := v.store.getOrder(id)
	if err != nil {
		return common.Hash{}, err
	}
	if status != StatusNonexistent {
		return common.Hash{}, ErrOrderAlreadyExists
	}
	if err := v.store.putOrder(id, StatusCreated, o.SrcChainID); err != nil {
		return common.Hash{}, err
	}

	v.log.Info("order imported", "id", id, "srcChain", o.SrcChainID)
	v.sink.OrderImported(id, o)
	return id, nil
}

// FillOrder pays out an imported order on its destination chain. The
// net amount (principal minus fee, normalized to this chain's decimal
// precision) either goes through the sandbox-delegated swap into
// order.TokenOut, or falls back to a direct stablecoin transfer when
// the swap fails or underperforms MinAmountOut. The fallback is a
// business rule: a degraded swap route must not strand the receiver.
// Returns the amount the receiver was actually paid.
func (v *Vault) FillOrder(caller common.Address, o Order, swapCalls []sandbox.Call, insurance *sandbox.Call) (*big.Int, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.mu.Unlock()

	if err := v.requireOrchestrator(caller); err != nil {
		return nil, err
	}
	if v.paused {
		return nil, ErrPaused
	}
	if o.DestChainID != v.chainID {
		return nil, ErrInvalidDestChainID
	}

	id := o.ID()
	status, origin, err := v.store.getOrder(id)
	if err != nil {
		return nil, err
	}
	if status != StatusCreated {
		return nil, stateConflict(status)
	}
	if origin != o.SrcChainID {
		return nil, ErrInvalidSourceChainID
	}
	if o.FillDeadline > 0 && uint64(v.now().Unix()) > o.FillDeadline {
		return nil, ErrOrderExpired
	}
	if err := v.guard.AssertPegHealthy(v.now()); err != nil {
		return nil, err
	}

	if o.AmountIn == nil || o.AmountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	fee := big.NewInt(0)
	if o.Fee != nil {
		fee = o.Fee
	}
	if fee.Sign() < 0 || fee.Cmp(o.AmountIn) >= 0 {
		return nil, ErrInvalidAmount
	}

	srcDec, ok, err := v.store.getChainDecimals(origin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChainNotConfigured
	}
	localDec, ok, err := v.store.getChainDecimals(v.chainID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrChainNotConfigured
	}

	net := new(big.Int).Sub(o.AmountIn, fee)
	netLocal, err := decimals.Convert(net, srcDec, localDec)
	if err != nil {
		return nil, err
	}
	grossLocal, err := decimals.Convert(o.AmountIn, srcDec, localDec)
	if err != nil {
		return nil, err
	}
	feeLocal := new(big.Int).Sub(grossLocal, netLocal)

	if netLocal.Cmp(v.balance()) > 0 {
		return nil, ErrInsufficientLiquidity
	}

	receiver := Bytes32ToAddress(o.Receiver)
	snap := v.bank.Snapshot()
	paid, swapped, err := v.payOut(o, receiver, netLocal, swapCalls, insurance)
	if err != nil {
		v.rollback(snap)
		return nil, err
	}

	// The Created -> Filled transition and the fee counter commit
	// atomically; a failed commit rolls the payment back so the order
	// is never Filled without payment.
	nextFees := new(big.Int).Add(v.unclaimedFees, feeLocal)
	batch := v.store.newBatch()
	if err := batch.putOrder(id, StatusFilled, origin); err != nil {
		v.rollback(snap)
		return nil, err
	}
	if err := batch.putCounter(metaUnclaimedFees, nextFees); err != nil {
		v.rollback(snap)
		return nil, err
	}
	if err := batch.write(); err != nil {
		v.rollback(snap)
		return nil, err
	}
	v.unclaimedFees = nextFees

	v.log.Info("order filled",
		"id", id,
		"receiver", receiver,
		"paid", paid,
		"swapped", swapped,
		"fee", feeLocal,
	)
	v.sink.OrderFilled(id, o, paid, swapped)
	return paid, nil
}

// payOut delivers netLocal to the receiver, attempting the swap path
// first. A failed or underperforming swap is rolled back and the
// receiver is paid directly in the pooled stablecoin; the insurance
// call, when present, runs after a swap failure through its own
// sandbox batch so its settlement survives the rollback.
func (v *Vault) payOut(o Order, receiver common.Address, netLocal *big.Int, swapCalls []sandbox.Call, insurance *sandbox.Call) (*big.Int, bool, error) {
	if len(swapCalls) > 0 {
		tokenOut := Bytes32ToAddress(o.TokenOut)
		minOut := big.NewInt(0)
		if o.MinAmountOut != nil {
			minOut = o.MinAmountOut
		}

		swapSnap := v.bank.Snapshot()
		swapErr := v.bank.Transfer(v.stablecoin, v.account, swapCalls[0].Target, netLocal)
		var delta *big.Int
		if swapErr == nil {
			before := v.bank.BalanceOf(tokenOut, receiver)
			if _, err := v.proxy.Execute(swapCalls); err != nil {
				swapErr = err
			} else {
				delta = new(big.Int).Sub(v.bank.BalanceOf(tokenOut, receiver), before)
			}
		}

		if swapErr == nil && delta.Cmp(minOut) >= 0 {
			return delta, true, nil
		}

		v.rollback(swapSnap)
		if swapErr != nil {
			v.log.Warn("swap path failed, falling back to stablecoin payout", "order", o.ID(), "err", swapErr)
			if insurance != nil {
				if _, insErr := v.proxy.Execute([]sandbox.Call{*insurance}); insErr != nil {
					v.log.Error("insurance call failed", "order", o.ID(), "err", insErr)
				}
			}
		} else {
			v.log.Warn("swap output below minimum, falling back to stablecoin payout",
				"order", o.ID(), "delta", delta, "minAmountOut", minOut)
		}
	}

	before := v.bank.BalanceOf(v.stablecoin, receiver)
	if err := v.bank.Transfer(v.stablecoin, v.account, receiver, netLocal); err != nil {
		return nil, false, err
	}
	delta := new(big.Int).Sub(v.bank.BalanceOf(v.stablecoin, receiver), before)
	if delta.Cmp(netLocal) != 0 {
		return nil, false, ErrInvalidTransferAmount
	}
	return new(big.Int).Set(netLocal), false, nil
}

// RevertOrder cancels a created order on its source chain and refunds
// the trader the principal net of the irrevocably collected fee. The
// caller presents an orchestrator signature over RevertDigest(id); the
// recovered signer, not the transaction caller, is the authorization.
func (v *Vault) RevertOrder(o Order, sig []byte) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if v.paused {
		return ErrPaused
	}

	id := o.ID()
	signer, err := recoverSigner(RevertDigest(id), sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if v.auth == nil || !v.auth.HasOrchestratorRole(signer) {
		return ErrInvalidSignature
	}

	status, origin, err := v.store.getOrder(id)
	if err != nil {
		return err
	}
	if status != StatusCreated {
		return stateConflict(status)
	}
	if origin != o.SrcChainID || o.SrcChainID != v.chainID {
		return ErrInvalidSourceChainID
	}

	if o.AmountIn == nil || o.AmountIn.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fee := big.NewInt(0)
	if o.Fee != nil {
		fee = o.Fee
	}
	refund := new(big.Int).Sub(o.AmountIn, fee)
	if refund.Sign() < 0 {
		return ErrInvalidAmount
	}

	// Same normalization guards as the fill path. On the source chain
	// both sides use the local precision, so this is an identity
	// conversion unless the deployment's own config disagrees.
	localDec, ok, err := v.store.getChainDecimals(v.chainID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrChainNotConfigured
	}
	refund, err = decimals.Convert(refund, localDec, localDec)
	if err != nil {
		return err
	}

	trader := Bytes32ToAddress(o.Trader)
	snap := v.bank.Snapshot()
	before := v.bank.BalanceOf(v.stablecoin, trader)
	if err := v.bank.Transfer(v.stablecoin, v.account, trader, refund); err != nil {
		v.rollback(snap)
		return err
	}
	delta := new(big.Int).Sub(v.bank.BalanceOf(v.stablecoin, trader), before)
	if delta.Cmp(refund) != 0 {
		v.rollback(snap)
		return ErrInvalidTransferAmount
	}

	if err := v.store.putOrder(id, StatusReverted, origin); err != nil {
		v.rollback(snap)
		return err
	}

	v.log.Info("order reverted", "id", id, "trader", trader, "refund", refund, "signer", signer)
	v.sink.OrderReverted(id, o, refund)
	return nil
}

// Status returns the recorded state of an order identifier. A point
// read against the store, safe to call from anywhere including inside
// a sandbox dispatch.
func (v *Vault) Status(id common.Hash) (Status, error) {
	status, _, err := v.store.getOrder(id)
	return status, err
}

// recoverSigner recovers the address that produced sig over digest.
// Accepts both 0/1 and 27/28 recovery ids.
func recoverSigner(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, ErrInvalidSignature
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, err
	}
	return common.Address(crypto.PubkeyToAddress(*pub)), nil
}

func (v *Vault) rollback(snap int) {
	if err := v.bank.RevertToSnapshot(snap); err != nil {
		v.log.Error("balance rollback failed", "snapshot", snap, "err", err)
	}
}
