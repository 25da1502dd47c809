// Copyright (C) 2026, Genius Foundation. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sandbox executes batches of calls against untrusted external
// targets on the vault's behalf. Targets must sit on an admin-managed
// allow-list, batches are all-or-nothing, and a single in-flight lock
// rejects any nested entry, which is the system's primary defense
// against reentrancy from a malicious target.
package sandbox

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"
)

var (
	ErrUnauthorized       = errors.New("caller lacks admin role")
	ErrTargetNotAllowed   = errors.New("target not on allow-list")
	ErrHandlerNotFound    = errors.New("no handler wired for target")
	ErrReentrantCall      = errors.New("reentrant sandbox call")
	ErrExternalCallFailed = errors.New("external call failed")
	ErrEmptyBatch         = errors.New("empty call batch")
)

// Call is one external invocation: a target address, opaque calldata
// interpreted by the target's handler, and an optional native value.
type Call struct {
	Target common.Address
	Data   []byte
	Value  *big.Int
}

// Handler executes a call against its target. Handlers stand in for
// external contract dispatch and are wired at deployment time.
type Handler func(Call) ([]byte, error)

// Authority gates allow-list management.
type Authority interface {
	HasAdminRole(caller common.Address) bool
}

// Snapshotter lets the sandbox roll back balance effects of a batch
// that fails midway, keeping batches all-or-nothing.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int) error
}

// ExternalCallError reports which call in a batch failed. It unwraps
// to ErrExternalCallFailed so callers can match on kind.
type ExternalCallError struct {
	Target common.Address
	Index  int
	Err    error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("external call %d to %s failed: %v", e.Index, e.Target, e.Err)
}

func (e *ExternalCallError) Unwrap() error { return ErrExternalCallFailed }

// Proxy is the execution sandbox.
type Proxy struct {
	mu sync.Mutex

	// locked marks a batch in flight; any nested entry fails.
	locked bool

	allowed  map[common.Address]bool
	handlers map[common.Address]Handler

	auth  Authority
	state Snapshotter
	log   log.Logger
}

// NewProxy creates a sandbox. state may be nil when the deployment's
// call targets have no rollback-able effects.
func NewProxy(auth Authority, state Snapshotter, logger log.Logger) *Proxy {
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &Proxy{
		allowed:  make(map[common.Address]bool),
		handlers: make(map[common.Address]Handler),
		auth:     auth,
		state:    state,
		log:      logger,
	}
}

// RegisterHandler wires the dispatcher for a target address. Wiring is
// deployment plumbing, not a privileged runtime operation; a target
// still cannot be called until an admin allow-lists it.
func (p *Proxy) RegisterHandler(target common.Address, h Handler) {
	p.mu.Lock()
	p.handlers[target] = h
	p.mu.Unlock()
}

// SetTargetAllowed adds or removes a target on the allow-list.
func (p *Proxy) SetTargetAllowed(caller, target common.Address, allowed bool) error {
	if p.auth == nil || !p.auth.HasAdminRole(caller) {
		return ErrUnauthorized
	}

	p.mu.Lock()
	if allowed {
		p.allowed[target] = true
	} else {
		delete(p.allowed, target)
	}
	p.mu.Unlock()

	p.log.Info("sandbox allow-list updated", "target", target, "allowed", allowed, "by", caller)
	return nil
}

// IsAllowed reports whether target is on the allow-list.
func (p *Proxy) IsAllowed(target common.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowed[target]
}

// Busy reports whether a batch is currently executing. State-mutating
// vault operations check this at entry so a dispatched target cannot
// reach back into the engine.
func (p *Proxy) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locked
}

// Execute runs calls strictly in order as one logical operation. Every
// target must be allow-listed. The first failing call aborts the batch
// and rolls back its balance effects; nested entry fails with
// ErrReentrantCall.
func (p *Proxy) Execute(calls []Call) ([][]byte, error) {
	release, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	return p.runBatch(calls)
}

// ExecuteWithInsurance runs the primary batch and then the insurance
// call. The insurance slot is the separate make-whole settlement path,
// so it runs even when the primary batch failed, subject to the same
// allow-list and rollback rules. Both outcomes are reported.
func (p *Proxy) ExecuteWithInsurance(primary []Call, insurance *Call) (primaryErr, insuranceErr error) {
	release, err := p.acquire()
	if err != nil {
		return err, err
	}
	defer release()

	_, primaryErr = p.runBatch(primary)
	if insurance != nil {
		_, insuranceErr = p.runBatch([]Call{*insurance})
	}
	return primaryErr, insuranceErr
}

// acquire takes the in-flight lock, returning the release func.
func (p *Proxy) acquire() (func(), error) {
	p.mu.Lock()
	if p.locked {
		p.mu.Unlock()
		return nil, ErrReentrantCall
	}
	p.locked = true
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		p.locked = false
		p.mu.Unlock()
	}, nil
}

// runBatch executes one all-or-nothing batch. Caller holds the
// in-flight lock but not p.mu, so handlers observe Busy() == true.
func (p *Proxy) runBatch(calls []Call) ([][]byte, error) {
	if len(calls) == 0 {
		return nil, ErrEmptyBatch
	}

	p.mu.Lock()
	for _, c := range calls {
		if !p.allowed[c.Target] {
			p.mu.Unlock()
			return nil, ErrTargetNotAllowed
		}
	}
	handlers := make([]Handler, len(calls))
	for i, c := range calls {
		handlers[i] = p.handlers[c.Target]
	}
	p.mu.Unlock()

	var snap int
	if p.state != nil {
		snap = p.state.Snapshot()
	}

	results := make([][]byte, 0, len(calls))
	for i, c := range calls {
		h := handlers[i]
		if h == nil {
			p.rollback(snap)
			return nil, &ExternalCallError{Target: c.Target, Index: i, Err: ErrHandlerNotFound}
		}
		out, err := h(c)
		if err != nil {
			p.rollback(snap)
			return nil, &ExternalCallError{Target: c.Target, Index: i, Err: err}
		}
		results = append(results, out)
	}
	return results, nil
}

func (p *Proxy) rollback(snap int) {
	if p.state == nil {
		return
	}
	if err := p.state.RevertToSnapshot(snap); err != nil {
		p.log.Error("sandbox rollback failed", "snapshot", snap, "err", err)
	}
}
