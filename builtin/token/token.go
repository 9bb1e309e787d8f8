// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package token is the minimal mint/token-account ledger the reward pipeline
// draws from. It stands in for the host token primitive; the circuit breaker
// wraps its mutating entry points.
package token

import (
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const (
	mintAccountName  = "Mint"
	tokenAccountName = "TokenAccount"
)

var (
	// ErrInsufficientBalance a transfer or burn exceeded the account balance.
	ErrInsufficientBalance = errors.New("insufficient token balance")
	// ErrWrongMintAuthority the signer is not the mint authority.
	ErrWrongMintAuthority = errors.New("wrong mint authority")
	// ErrMintMismatch source and destination accounts hold different mints.
	ErrMintMismatch = errors.New("token account mint mismatch")
)

// Mint a token mint.
type Mint struct {
	Supply    uint64
	Decimals  uint8
	Authority hpl.Address
}

// TokenAccount a balance of a single mint held by an owner.
type TokenAccount struct {
	Mint   hpl.Address
	Owner  hpl.Address
	Amount uint64
}

// Service exposes the token ledger over state.
type Service struct {
	state *state.State
}

// New creates the token service.
func New(st *state.State) *Service {
	return &Service{state: st}
}

// AccountKey derives the canonical token account address for (mint, owner).
func AccountKey(mint, owner hpl.Address) hpl.Address {
	return hpl.DeriveAddress([]byte("token_account"), mint.Bytes(), owner.Bytes())
}

// InitMint creates a mint.
func (s *Service) InitMint(mintKey hpl.Address, decimals uint8, authority, payer hpl.Address) error {
	return s.state.InitAccount(mintKey, mintAccountName, Mint{Decimals: decimals, Authority: authority}, payer)
}

// GetMint loads a mint.
func (s *Service) GetMint(mintKey hpl.Address) (*Mint, error) {
	var m Mint
	if err := s.state.DecodeAccount(mintKey, mintAccountName, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// InitAccount creates a token account at the canonical address.
func (s *Service) InitAccount(mint, owner, payer hpl.Address) (hpl.Address, error) {
	key := AccountKey(mint, owner)
	err := s.state.InitAccount(key, tokenAccountName, TokenAccount{Mint: mint, Owner: owner}, payer)
	return key, err
}

// GetAccount loads a token account.
func (s *Service) GetAccount(key hpl.Address) (*TokenAccount, error) {
	var a TokenAccount
	if err := s.state.DecodeAccount(key, tokenAccountName, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Balance returns the balance of the token account, 0 if absent.
func (s *Service) Balance(key hpl.Address) (uint64, error) {
	acc, err := s.GetAccount(key)
	if err != nil {
		if errors.Is(err, state.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return acc.Amount, nil
}

// MintTo mints amount into the destination account, growing supply.
func (s *Service) MintTo(mintKey, destKey hpl.Address, amount uint64) error {
	mint, err := s.GetMint(mintKey)
	if err != nil {
		return err
	}
	dest, err := s.GetAccount(destKey)
	if err != nil {
		return err
	}
	if dest.Mint != mintKey {
		return ErrMintMismatch
	}
	next := mint.Supply + amount
	if next < mint.Supply {
		return errors.New("mint supply overflow")
	}
	mint.Supply = next
	dest.Amount += amount
	if err := s.state.EncodeAccount(mintKey, mintAccountName, *mint); err != nil {
		return err
	}
	return s.state.EncodeAccount(destKey, tokenAccountName, *dest)
}

// Transfer moves amount between two accounts of the same mint.
func (s *Service) Transfer(fromKey, toKey hpl.Address, amount uint64) error {
	from, err := s.GetAccount(fromKey)
	if err != nil {
		return err
	}
	to, err := s.GetAccount(toKey)
	if err != nil {
		return err
	}
	if from.Mint != to.Mint {
		return ErrMintMismatch
	}
	if from.Amount < amount {
		return errors.Wrapf(ErrInsufficientBalance, "transfer %d from %s", amount, fromKey.AbbrevString())
	}
	from.Amount -= amount
	to.Amount += amount
	if err := s.state.EncodeAccount(fromKey, tokenAccountName, *from); err != nil {
		return err
	}
	return s.state.EncodeAccount(toKey, tokenAccountName, *to)
}

// Burn destroys amount from the account, shrinking supply.
func (s *Service) Burn(mintKey, fromKey hpl.Address, amount uint64) error {
	mint, err := s.GetMint(mintKey)
	if err != nil {
		return err
	}
	from, err := s.GetAccount(fromKey)
	if err != nil {
		return err
	}
	if from.Mint != mintKey {
		return ErrMintMismatch
	}
	if from.Amount < amount {
		return errors.Wrapf(ErrInsufficientBalance, "burn %d from %s", amount, fromKey.AbbrevString())
	}
	from.Amount -= amount
	mint.Supply -= amount
	if err := s.state.EncodeAccount(mintKey, mintAccountName, *mint); err != nil {
		return err
	}
	return s.state.EncodeAccount(fromKey, tokenAccountName, *from)
}
