// Copyright (C) 2026, Genius Foundation. All rights reserved.
// See the file LICENSE for licensing terms.

// Package token defines the transfer collaborator the settlement core
// moves funds through, plus an in-memory ledger used in tests and
// single-process deployments. The Bank contract includes snapshots:
// the vault brackets multi-step operations with Snapshot/Revert so a
// failed fill or rebalance leaves balances byte-for-byte unchanged. A
// production adapter maps snapshots onto its own transaction atomicity.
package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrInvalidSnapshot       = errors.New("invalid snapshot id")
)

// Bank is how the core observes and moves token balances. Transfer
// and TransferFrom may fail silently on non-standard tokens, so
// callers dealing with untrusted parties verify balance deltas rather
// than trusting the returned error alone.
type Bank interface {
	BalanceOf(token, account common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	// TransferFrom pulls from owner on behalf of spender, consuming
	// owner's allowance toward spender.
	TransferFrom(token, owner, spender, to common.Address, amount *big.Int) error
	Snapshot() int
	RevertToSnapshot(id int) error
}

// Ledger is an in-memory Bank with ERC20-style allowances.
type Ledger struct {
	mu sync.Mutex

	// balances maps token -> account -> balance; allowances adds the
	// owner -> spender dimension on top.
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
	snapshots  []map[common.Address]map[common.Address]*big.Int

	// silentFailure makes transfers report success without moving
	// funds, mimicking non-reverting broken tokens.
	silentFailure bool
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
	}
}

// SetSilentFailure toggles the broken-token mode: transfers return nil
// but move nothing.
func (l *Ledger) SetSilentFailure(on bool) {
	l.mu.Lock()
	l.silentFailure = on
	l.mu.Unlock()
}

// Mint credits amount of token to account.
func (l *Ledger) Mint(token, account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, account, amount)
}

// Approve lets spender pull up to amount of owner's token.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[token] == nil {
		l.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if l.allowances[token][owner] == nil {
		l.allowances[token][owner] = make(map[common.Address]*big.Int)
	}
	l.allowances[token][owner][spender] = new(big.Int).Set(amount)
}

// Allowance returns the remaining allowance from owner to spender.
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if a := l.allowance(token, owner, spender); a != nil {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

func (l *Ledger) BalanceOf(token, account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b := l.balances[token][account]; b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.silentFailure {
		return nil
	}
	return l.move(token, from, to, amount)
}

func (l *Ledger) TransferFrom(token, owner, spender, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.silentFailure {
		return nil
	}

	allowance := l.allowance(token, owner, spender)
	if allowance == nil || allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.move(token, owner, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

// Snapshot records the current balances and returns an id to revert to.
// Allowances are not snapshotted; the core only compensates balance
// movements.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := make(map[common.Address]map[common.Address]*big.Int, len(l.balances))
	for tok, accounts := range l.balances {
		copied[tok] = make(map[common.Address]*big.Int, len(accounts))
		for acct, bal := range accounts {
			copied[tok][acct] = new(big.Int).Set(bal)
		}
	}
	l.snapshots = append(l.snapshots, copied)
	return len(l.snapshots) - 1
}

// RevertToSnapshot restores balances to snapshot id and discards it
// along with any later snapshots.
func (l *Ledger) RevertToSnapshot(id int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id < 0 || id >= len(l.snapshots) {
		return ErrInvalidSnapshot
	}
	l.balances = l.snapshots[id]
	l.snapshots = l.snapshots[:id]
	return nil
}

func (l *Ledger) allowance(token, owner, spender common.Address) *big.Int {
	owners := l.allowances[token]
	if owners == nil {
		return nil
	}
	spenders := owners[owner]
	if spenders == nil {
		return nil
	}
	return spenders[spender]
}

func (l *Ledger) move(token, from, to common.Address, amount *big.Int) error {
	bal := l.balances[token][from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	l.credit(token, to, amount)
	return nil
}

func (l *Ledger) credit(token, account common.Address, amount *big.Int) {
	if l.balances[token] == nil {
		l.balances[token] = make(map[common.Address]*big.Int)
	}
	if l.balances[token][account] == nil {
		l.balances[token][account] = new(big.Int)
	}
	l.balances[token][account].Add(l.balances[token][account], amount)
}
