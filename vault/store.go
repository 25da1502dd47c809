// Copyright (C) 2026, Genius Foundation. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Storage key prefixes.
var (
	orderPrefix = []byte("vault.order")
	stakePrefix = []byte("vault.stake")
	chainPrefix = []byte("vault.chain")
	metaPrefix  = []byte("vault.meta")
)

// Meta keys under metaPrefix.
var (
	metaTotalStaked   = []byte("totalStaked")
	metaUnclaimedFees = []byte("unclaimedFees")
	metaThresholdBps  = []byte("thresholdBps")
	metaPaused        = []byte("paused")
)

// makeStorageKey creates a storage key from prefix and identifier.
func makeStorageKey(prefix []byte, id []byte) common.Hash {
	h := blake3.New()
	h.Write(prefix)
	h.Write(id)
	var key common.Hash
	h.Digest().Read(key[:])
	return key
}

// store persists the order status machine, staker shares, per-chain
// config, and the liquidity counters. Keys are blake3 digests of
// prefix plus identifier, so lookups are point reads only.
type store struct {
	db database.Database
}

func newStore(db database.Database) *store {
	return &store{db: db}
}

// orderRecord packs status plus the source chain the order was
// recorded from into a 9-byte value.
func (s *store) putOrder(id common.Hash, status Status, srcChainID uint64) error {
	var v [9]byte
	v[0] = byte(status)
	binary.BigEndian.PutUint64(v[1:], srcChainID)
	key := makeStorageKey(orderPrefix, id[:])
	return s.db.Put(key[:], v[:])
}

// getOrder returns StatusNonexistent with no error for unknown ids.
func (s *store) getOrder(id common.Hash) (Status, uint64, error) {
	key := makeStorageKey(orderPrefix, id[:])
	v, err := s.db.Get(key[:])
	if errors.Is(err, database.ErrNotFound) {
		return StatusNonexistent, 0, nil
	}
	if err != nil {
		return StatusNonexistent, 0, err
	}
	if len(v) != 9 {
		return StatusNonexistent, 0, errors.New("corrupt order record")
	}
	return Status(v[0]), binary.BigEndian.Uint64(v[1:]), nil
}

func (s *store) putStake(staker common.Address, amount *big.Int) error {
	key := makeStorageKey(stakePrefix, staker[:])
	return s.db.Put(key[:], amount.Bytes())
}

// storeBatch stages order and counter writes so a multi-key mutation
// commits atomically: either every staged write lands or none does.
type storeBatch struct {
	b database.Batch
}

func (s *store) newBatch() *storeBatch {
	return &storeBatch{b: s.db.NewBatch()}
}

func (w *storeBatch) putOrder(id common.Hash, status Status, srcChainID uint64) error {
	var v [9]byte
	v[0] = byte(status)
	binary.BigEndian.PutUint64(v[1:], srcChainID)
	key := makeStorageKey(orderPrefix, id[:])
	return w.b.Put(key[:], v[:])
}

func (w *storeBatch) putStake(staker common.Address, amount *big.Int) error {
	key := makeStorageKey(stakePrefix, staker[:])
	return w.b.Put(key[:], amount.Bytes())
}

func (w *storeBatch) putCounter(name []byte, v *big.Int) error {
	key := makeStorageKey(metaPrefix, name)
	return w.b.Put(key[:], v.Bytes())
}

func (w *storeBatch) write() error {
	return w.b.Write()
}

func (s *store) getStake(staker common.Address) (*big.Int, error) {
	key := makeStorageKey(stakePrefix, staker[:])
	return s.getBig(key)
}

func (s *store) putChainDecimals(chainID uint64, decimals uint8) error {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], chainID)
	key := makeStorageKey(chainPrefix, id[:])
	return s.db.Put(key[:], []byte{decimals})
}

// getChainDecimals reports ok == false when the chain was never
// configured.
func (s *store) getChainDecimals(chainID uint64) (uint8, bool, error) {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], chainID)
	key := makeStorageKey(chainPrefix, id[:])
	v, err := s.db.Get(key[:])
	if errors.Is(err, database.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(v) != 1 {
		return 0, false, errors.New("corrupt chain record")
	}
	return v[0], true, nil
}

func (s *store) putCounter(name []byte, v *big.Int) error {
	key := makeStorageKey(metaPrefix, name)
	return s.db.Put(key[:], v.Bytes())
}

func (s *store) getCounter(name []byte) (*big.Int, error) {
	key := makeStorageKey(metaPrefix, name)
	return s.getBig(key)
}

func (s *store) putThreshold(bps uint32) error {
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], bps)
	key := makeStorageKey(metaPrefix, metaThresholdBps)
	return s.db.Put(key[:], v[:])
}

func (s *store) getThreshold() (uint32, error) {
	key := makeStorageKey(metaPrefix, metaThresholdBps)
	v, err := s.db.Get(key[:])
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 4 {
		return 0, errors.New("corrupt threshold record")
	}
	return binary.BigEndian.Uint32(v), nil
}

func (s *store) putPaused(paused bool) error {
	key := makeStorageKey(metaPrefix, metaPaused)
	v := []byte{0}
	if paused {
		v[0] = 1
	}
	return s.db.Put(key[:], v)
}

func (s *store) getPaused() (bool, error) {
	key := makeStorageKey(metaPrefix, metaPaused)
	v, err := s.db.Get(key[:])
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(v) == 1 && v[0] == 1, nil
}

// getBig reads a big-endian unsigned integer, treating a missing key
// as zero.
func (s *store) getBig(key common.Hash) (*big.Int, error) {
	v, err := s.db.Get(key[:])
	if errors.Is(err, database.ErrNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(v), nil
}
