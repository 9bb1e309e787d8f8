// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package state implements the persistent account set.
//
// Every operation runs against an isolated snapshot: callers take a
// checkpoint before mutating and either revert to it or commit the journal
// to the backing kv store. Accounts carry rent lamports and an optional data
// body prefixed with an 8-byte type discriminator.
package state

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/kv"
	"github.com/helium/hpl/stackedmap"
)

var (
	// ErrAccountNotFound the addressed account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists an init path addressed an occupied account.
	ErrAccountExists = errors.New("account already exists")
	// ErrInsufficientLamports a debit exceeded the account balance.
	ErrInsufficientLamports = errors.New("insufficient lamports")
	// ErrWrongDiscriminator the account body is of an unexpected type.
	ErrWrongDiscriminator = errors.New("wrong account discriminator")
)

var accountPrefix = []byte("acc-")

// Account is a persisted account: rent lamports plus an optional typed body.
// A nil entry in the journal marks a deleted account.
type Account struct {
	Lamports uint64
	Data     []byte
}

func (a *Account) clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{Lamports: a.Lamports, Data: append([]byte(nil), a.Data...)}
}

// State wraps the backing store with a journaled, revertible view.
type State struct {
	store kv.GetPutter
	sm    *stackedmap.StackedMap[hpl.Address, *Account]
	cache *lru.Cache
}

// New creates a state over the given store.
func New(store kv.GetPutter) *State {
	cache, _ := lru.New(2048)
	st := &State{store: store, cache: cache}
	st.sm = stackedmap.New[hpl.Address, *Account](st.loadAccount)
	// base layer, never popped
	st.sm.Push()
	return st
}

func (s *State) loadAccount(addr hpl.Address) (*Account, bool, error) {
	if cached, ok := s.cache.Get(addr); ok {
		acc := cached.(*Account)
		if acc == nil {
			return nil, false, nil
		}
		return acc.clone(), true, nil
	}
	raw, err := s.store.Get(append(accountPrefix, addr.Bytes()...))
	if err != nil {
		if s.store.IsNotFound(err) {
			s.cache.Add(addr, (*Account)(nil))
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "load account")
	}
	acc, err := decodeRaw(raw)
	if err != nil {
		return nil, false, err
	}
	s.cache.Add(addr, acc.clone())
	return acc, true, nil
}

func (s *State) getAccount(addr hpl.Address) (*Account, error) {
	acc, ok, err := s.sm.Get(addr)
	if err != nil {
		return nil, err
	}
	if !ok || acc == nil {
		return nil, nil
	}
	return acc, nil
}

// Exists returns whether the account exists (has lamports or data).
func (s *State) Exists(addr hpl.Address) (bool, error) {
	acc, err := s.getAccount(addr)
	return acc != nil, err
}

// HasData returns whether the account exists and carries a typed body.
func (s *State) HasData(addr hpl.Address) (bool, error) {
	acc, err := s.getAccount(addr)
	if err != nil {
		return false, err
	}
	return acc != nil && len(acc.Data) > 0, nil
}

// AccountData returns a copy of the raw account data (discriminator
// included), nil if the account is absent or body-less.
func (s *State) AccountData(addr hpl.Address) ([]byte, error) {
	acc, err := s.getAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, nil
	}
	return append([]byte(nil), acc.Data...), nil
}

// Lamports returns the lamport balance of the account, 0 if absent.
func (s *State) Lamports(addr hpl.Address) (uint64, error) {
	acc, err := s.getAccount(addr)
	if err != nil {
		return 0, err
	}
	if acc == nil {
		return 0, nil
	}
	return acc.Lamports, nil
}

// AddLamports credits the account, creating a body-less account if absent.
func (s *State) AddLamports(addr hpl.Address, amount uint64) error {
	acc, err := s.getAccount(addr)
	if err != nil {
		return err
	}
	acc = acc.clone()
	if acc == nil {
		acc = &Account{}
	}
	next := acc.Lamports + amount
	if next < acc.Lamports {
		return errors.New("lamport balance overflow")
	}
	acc.Lamports = next
	s.sm.Put(addr, acc)
	return nil
}

// SubLamports debits the account.
func (s *State) SubLamports(addr hpl.Address, amount uint64) error {
	acc, err := s.getAccount(addr)
	if err != nil {
		return err
	}
	if acc == nil || acc.Lamports < amount {
		return errors.Wrapf(ErrInsufficientLamports, "debit %d from %s", amount, addr.AbbrevString())
	}
	acc = acc.clone()
	acc.Lamports -= amount
	s.sm.Put(addr, acc)
	return nil
}

// TransferLamports moves lamports between two accounts.
func (s *State) TransferLamports(from, to hpl.Address, amount uint64) error {
	if err := s.SubLamports(from, amount); err != nil {
		return err
	}
	return s.AddLamports(to, amount)
}

// NewCheckpoint takes a checkpoint and returns its handle.
func (s *State) NewCheckpoint() int {
	return s.sm.Push()
}

// RevertTo reverts all changes since the checkpoint.
func (s *State) RevertTo(checkpoint int) {
	s.sm.PopTo(checkpoint)
}

// Commit writes the journal through to the backing store. The journal is
// replayed in chronological order so the last write of an account wins.
func (s *State) Commit() error {
	var outErr error
	s.sm.Journal(func(addr hpl.Address, acc *Account) bool {
		key := append(accountPrefix, addr.Bytes()...)
		if acc == nil {
			if err := s.store.Delete(key); err != nil {
				outErr = err
				return false
			}
			s.cache.Add(addr, (*Account)(nil))
			return true
		}
		if err := s.store.Put(key, encodeRaw(acc)); err != nil {
			outErr = err
			return false
		}
		s.cache.Add(addr, acc.clone())
		return true
	})
	if outErr != nil {
		return errors.Wrap(outErr, "commit state")
	}
	s.sm.PopTo(0)
	s.sm.Push()
	return nil
}
