// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package state

import (
	"bytes"
	"encoding/binary"

	"github.com/near/borsh-go"
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
)

// raw layout in the kv store: 8-byte lamports | data bytes.
func encodeRaw(acc *Account) []byte {
	out := make([]byte, 8+len(acc.Data))
	binary.LittleEndian.PutUint64(out, acc.Lamports)
	copy(out[8:], acc.Data)
	return out
}

func decodeRaw(raw []byte) (*Account, error) {
	if len(raw) < 8 {
		return nil, errors.New("corrupted account record")
	}
	return &Account{
		Lamports: binary.LittleEndian.Uint64(raw),
		Data:     append([]byte(nil), raw[8:]...),
	}, nil
}

// DecodeAccount reads the typed body of the account into out. The stored
// discriminator must match the given account type name.
func (s *State) DecodeAccount(addr hpl.Address, name string, out any) error {
	acc, err := s.getAccount(addr)
	if err != nil {
		return err
	}
	if acc == nil || len(acc.Data) == 0 {
		return errors.Wrapf(ErrAccountNotFound, "%s %s", name, addr.AbbrevString())
	}
	disc := hpl.Discriminator(name)
	if len(acc.Data) < 8 || !bytes.Equal(acc.Data[:8], disc[:]) {
		return errors.Wrapf(ErrWrongDiscriminator, "%s %s", name, addr.AbbrevString())
	}
	if err := borsh.Deserialize(out, acc.Data[8:]); err != nil {
		return errors.Wrapf(err, "decode %s", name)
	}
	return nil
}

// EncodeAccount serializes val into the account body, keeping lamports.
// The account must already exist with a matching discriminator.
func (s *State) EncodeAccount(addr hpl.Address, name string, val any) error {
	acc, err := s.getAccount(addr)
	if err != nil {
		return err
	}
	if acc == nil || len(acc.Data) == 0 {
		return errors.Wrapf(ErrAccountNotFound, "%s %s", name, addr.AbbrevString())
	}
	disc := hpl.Discriminator(name)
	if len(acc.Data) < 8 || !bytes.Equal(acc.Data[:8], disc[:]) {
		return errors.Wrapf(ErrWrongDiscriminator, "%s %s", name, addr.AbbrevString())
	}
	body, err := borsh.Serialize(val)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	next := acc.clone()
	next.Data = append(disc[:], body...)
	s.sm.Put(addr, next)
	return nil
}

// InitAccount creates the account with a typed body, charging the payer the
// rent-exempt minimum for its size.
func (s *State) InitAccount(addr hpl.Address, name string, val any, payer hpl.Address) error {
	occupied, err := s.HasData(addr)
	if err != nil {
		return err
	}
	if occupied {
		return errors.Wrapf(ErrAccountExists, "%s %s", name, addr.AbbrevString())
	}
	disc := hpl.Discriminator(name)
	body, err := borsh.Serialize(val)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	rent := hpl.RentExemptMinimum(8 + len(body))
	if err := s.SubLamports(payer, rent); err != nil {
		return err
	}

	acc, err := s.getAccount(addr)
	if err != nil {
		return err
	}
	acc = acc.clone()
	if acc == nil {
		acc = &Account{}
	}
	acc.Lamports += rent
	acc.Data = append(disc[:], body...)
	s.sm.Put(addr, acc)
	return nil
}

// CloseAccount deletes the account and refunds its lamports.
func (s *State) CloseAccount(addr hpl.Address, refundTo hpl.Address) error {
	acc, err := s.getAccount(addr)
	if err != nil {
		return err
	}
	if acc == nil {
		return errors.Wrapf(ErrAccountNotFound, "close %s", addr.AbbrevString())
	}
	refund := acc.Lamports
	s.sm.Put(addr, nil)
	if refund > 0 {
		return s.AddLamports(refundTo, refund)
	}
	return nil
}

// AccountRent returns the rent-exempt lamports held by the account.
func (s *State) AccountRent(addr hpl.Address) (uint64, error) {
	return s.Lamports(addr)
}
