// Copyright (C) 2026, Genius Foundation. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/Genius-Foundation/genius-contracts-sub001/decimals"
	"github.com/Genius-Foundation/genius-contracts-sub001/fees"
	"github.com/Genius-Foundation/genius-contracts-sub001/sandbox"
)

// =========================================================================
// Liquidity ledger
// =========================================================================

// MinLiquidity is the floor the pool must keep on hand: the threshold
// fraction of staked principal plus the collected-but-unswept fees,
// floor(totalStaked * thresholdBps / 10000) + unclaimedFees.
func (v *Vault) MinLiquidity() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.minLiquidity()
}

func (v *Vault) minLiquidity() *big.Int {
	return liquidityFloor(v.totalStaked, v.thresholdBps, v.unclaimedFees)
}

func liquidityFloor(staked *big.Int, thresholdBps uint32, unclaimedFees *big.Int) *big.Int {
	floor := new(big.Int).Mul(staked, big.NewInt(int64(thresholdBps)))
	floor.Div(floor, big.NewInt(fees.BpsDenominator))
	return floor.Add(floor, unclaimedFees)
}

// AvailableAssets is the balance above the minimum-liquidity floor,
// saturating at zero.
func (v *Vault) AvailableAssets() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.availableAssets()
}

func (v *Vault) availableAssets() *big.Int {
	avail := new(big.Int).Sub(v.balance(), v.minLiquidity())
	if avail.Sign() < 0 {
		return new(big.Int)
	}
	return avail
}

// StakeDeposit pulls amount of the pooled stablecoin from the staker
// into the vault and records it as staked principal. The staker must
// have approved the vault; the pull is delta-verified.
func (v *Vault) StakeDeposit(staker common.Address, amount *big.Int) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if v.paused {
		return ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	snap := v.bank.Snapshot()
	before := v.balance()
	if err := v.bank.TransferFrom(v.stablecoin, staker, v.account, v.account, amount); err != nil {
		v.rollback(snap)
		return err
	}
	delta := new(big.Int).Sub(v.balance(), before)
	if delta.Cmp(amount) != 0 {
		v.rollback(snap)
		return ErrInvalidTransferAmount
	}

	share, err := v.store.getStake(staker)
	if err != nil {
		v.rollback(snap)
		return err
	}
	newStaked := new(big.Int).Add(v.totalStaked, amount)
	batch := v.store.newBatch()
	if err := batch.putStake(staker, new(big.Int).Add(share, amount)); err != nil {
		v.rollback(snap)
		return err
	}
	if err := batch.putCounter(metaTotalStaked, newStaked); err != nil {
		v.rollback(snap)
		return err
	}
	if err := batch.write(); err != nil {
		v.rollback(snap)
		return err
	}
	v.totalStaked = newStaked

	v.log.Info("stake deposited", "staker", staker, "amount", amount, "totalStaked", v.totalStaked)
	return nil
}

// StakeWithdraw returns amount of staked principal to the staker. It
// fails when amount exceeds the staker's recorded share or when the
// remaining balance would fall under the post-withdrawal liquidity
// floor.
func (v *Vault) StakeWithdraw(staker common.Address, amount *big.Int) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if v.paused {
		return ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	share, err := v.store.getStake(staker)
	if err != nil {
		return err
	}
	if amount.Cmp(share) > 0 {
		return ErrInsufficientLiquidity
	}

	newStaked := new(big.Int).Sub(v.totalStaked, amount)
	newFloor := liquidityFloor(newStaked, v.thresholdBps, v.unclaimedFees)
	remaining := new(big.Int).Sub(v.balance(), amount)
	if remaining.Cmp(newFloor) < 0 {
		return ErrInsufficientLiquidity
	}

	snap := v.bank.Snapshot()
	before := v.bank.BalanceOf(v.stablecoin, staker)
	if err := v.bank.Transfer(v.stablecoin, v.account, staker, amount); err != nil {
		v.rollback(snap)
		return err
	}
	delta := new(big.Int).Sub(v.bank.BalanceOf(v.stablecoin, staker), before)
	if delta.Cmp(amount) != 0 {
		v.rollback(snap)
		return ErrInvalidTransferAmount
	}

	batch := v.store.newBatch()
	if err := batch.putStake(staker, new(big.Int).Sub(share, amount)); err != nil {
		v.rollback(snap)
		return err
	}
	if err := batch.putCounter(metaTotalStaked, newStaked); err != nil {
		v.rollback(snap)
		return err
	}
	if err := batch.write(); err != nil {
		v.rollback(snap)
		return err
	}
	v.totalStaked = newStaked

	v.log.Info("stake withdrawn", "staker", staker, "amount", amount, "totalStaked", v.totalStaked)
	return nil
}

// ClaimFees sweeps up to the accumulated unclaimed fees to a
// recipient.
func (v *Vault) ClaimFees(caller, recipient common.Address, amount *big.Int) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if err := v.requireAdmin(caller); err != nil {
		return err
	}
	if v.paused {
		return ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(v.unclaimedFees) > 0 {
		return ErrInsufficientLiquidity
	}

	snap := v.bank.Snapshot()
	before := v.bank.BalanceOf(v.stablecoin, recipient)
	if err := v.bank.Transfer(v.stablecoin, v.account, recipient, amount); err != nil {
		v.rollback(snap)
		return err
	}
	delta := new(big.Int).Sub(v.bank.BalanceOf(v.stablecoin, recipient), before)
	if delta.Cmp(amount) != 0 {
		v.rollback(snap)
		return ErrInvalidTransferAmount
	}

	next := new(big.Int).Sub(v.unclaimedFees, amount)
	if err := v.store.putCounter(metaUnclaimedFees, next); err != nil {
		v.rollback(snap)
		return err
	}
	v.unclaimedFees = next

	v.log.Info("fees claimed", "recipient", recipient, "amount", amount, "remaining", v.unclaimedFees)
	return nil
}

// RebalanceLiquidity moves amount of pooled liquidity out through
// allow-listed bridge targets. The calls themselves perform the
// transfer; the vault verifies afterward that exactly amount left the
// pool, defending against a target that reports success while moving
// a different amount.
func (v *Vault) RebalanceLiquidity(caller common.Address, amount *big.Int, calls []sandbox.Call) error {
	return v.rebalance(caller, amount, calls, "liquidity rebalanced")
}

// RemoveBridgeLiquidity is the withdrawal-side twin of
// RebalanceLiquidity, kept as a separate operation for auditability.
func (v *Vault) RemoveBridgeLiquidity(caller common.Address, amount *big.Int, calls []sandbox.Call) error {
	return v.rebalance(caller, amount, calls, "bridge liquidity removed")
}

func (v *Vault) rebalance(caller common.Address, amount *big.Int, calls []sandbox.Call, msg string) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if err := v.requireOrchestrator(caller); err != nil {
		return err
	}
	if v.paused {
		return ErrPaused
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(v.availableAssets()) > 0 {
		return ErrInsufficientLiquidity
	}

	snap := v.bank.Snapshot()
	before := v.balance()
	if _, err := v.proxy.Execute(calls); err != nil {
		v.rollback(snap)
		return err
	}
	moved := new(big.Int).Sub(before, v.balance())
	if moved.Cmp(amount) != 0 {
		v.rollback(snap)
		return ErrInvalidTransferAmount
	}

	v.log.Info(msg, "amount", amount, "by", caller, "balance", v.balance())
	return nil
}

// =========================================================================
// Admin surface
// =========================================================================

// SetFeeTiers replaces the fee tier table.
func (v *Vault) SetFeeTiers(caller common.Address, thresholds []*big.Int, bps []uint32) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if err := v.requireAdmin(caller); err != nil {
		return err
	}
	if err := v.fees.SetTiers(thresholds, bps); err != nil {
		return err
	}

	v.log.Info("fee tiers updated", "tiers", len(thresholds), "by", caller)
	v.sink.ConfigChanged("feeTiers", len(thresholds))
	return nil
}

// SetTargetChainMinFee sets the flat minimum fee toward a destination
// chain. A zero minimum withdraws support for the pair.
func (v *Vault) SetTargetChainMinFee(caller, tok common.Address, chainID uint64, min *big.Int) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if err := v.requireAdmin(caller); err != nil {
		return err
	}
	v.fees.SetTargetChainMinFee(tok, chainID, min)

	v.log.Info("target chain min fee updated", "token", tok, "chain", chainID, "min", min, "by", caller)
	v.sink.ConfigChanged("targetChainMinFee", chainID)
	return nil
}

// SetChainStablecoinDecimals records the stablecoin precision of a
// chain. Orders cannot be created toward, imported from, or filled on
// a chain until its precision is configured.
func (v *Vault) SetChainStablecoinDecimals(caller common.Address, chainID uint64, dec uint8) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if err := v.requireAdmin(caller); err != nil {
		return err
	}
	if dec > decimals.MaxDecimals {
		return ErrInvalidAmount
	}
	if err := v.store.putChainDecimals(chainID, dec); err != nil {
		return err
	}

	v.log.Info("chain decimals configured", "chain", chainID, "decimals", dec, "by", caller)
	v.sink.ConfigChanged("chainStablecoinDecimals", chainID)
	return nil
}

// SetRebalanceThreshold sets the fraction of staked assets that may be
// rebalanced away, in basis points.
func (v *Vault) SetRebalanceThreshold(caller common.Address, bps uint32) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if err := v.requireAdmin(caller); err != nil {
		return err
	}
	if bps > fees.BpsDenominator {
		return ErrInvalidPercentage
	}
	if err := v.store.putThreshold(bps); err != nil {
		return err
	}
	v.thresholdBps = bps

	v.log.Info("rebalance threshold updated", "bps", bps, "by", caller)
	v.sink.ConfigChanged("rebalanceThresholdBps", bps)
	return nil
}

// Pause blocks every state-mutating operation until Unpause.
func (v *Vault) Pause(caller common.Address) error {
	return v.setPaused(caller, true)
}

// Unpause lifts an incident-response pause.
func (v *Vault) Unpause(caller common.Address) error {
	return v.setPaused(caller, false)
}

func (v *Vault) setPaused(caller common.Address, paused bool) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.mu.Unlock()

	if err := v.requireAdmin(caller); err != nil {
		return err
	}
	if err := v.store.putPaused(paused); err != nil {
		return err
	}
	v.paused = paused

	v.log.Info("pause state changed", "paused", paused, "by", caller)
	v.sink.ConfigChanged("paused", paused)
	return nil
}

// ManageAllowedTarget adds or removes a sandbox call target. The
// sandbox enforces the admin gate itself.
func (v *Vault) ManageAllowedTarget(caller, target common.Address, allowed bool) error {
	if err := v.proxy.SetTargetAllowed(caller, target, allowed); err != nil {
		return err
	}
	v.sink.ConfigChanged("allowedTarget", target)
	return nil
}

// =========================================================================
// Accessors
// =========================================================================

// Paused reports the incident-response pause flag.
func (v *Vault) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// Balance is the pooled-token balance held by the vault account.
func (v *Vault) Balance() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance()
}

// TotalStakedAssets is the LP-owned principal.
func (v *Vault) TotalStakedAssets() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalStaked)
}

// UnclaimedFees is the collected-but-unswept fee total.
func (v *Vault) UnclaimedFees() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.unclaimedFees)
}

// RebalanceThresholdBps is the configured movable fraction of stake.
func (v *Vault) RebalanceThresholdBps() uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.thresholdBps
}

// StakeOf returns a staker's recorded share of staked principal.
func (v *Vault) StakeOf(staker common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.getStake(staker)
}

// ChainDecimals returns the configured stablecoin precision of a
// chain and whether it is configured at all.
func (v *Vault) ChainDecimals(chainID uint64) (uint8, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.getChainDecimals(chainID)
}
