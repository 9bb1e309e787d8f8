// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cron

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/helium/hpl/builtin/pricefeed"
	"github.com/helium/hpl/builtin/token"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const dcaAccountName = "DcaV0"

var (
	// ErrNoOrdersRemaining every order of the DCA has executed.
	ErrNoOrdersRemaining = errors.New("no dca orders remaining")
	// ErrOrderNotDue the interval since the previous order has not elapsed.
	ErrOrderNotDue = errors.New("dca order not due")
	// ErrSwapInFlight lend while a previous swap awaits its repay check.
	ErrSwapInFlight = errors.New("swap in flight")
	// ErrNoSwapInFlight check_repay without a pending lend.
	ErrNoSwapInFlight = errors.New("no swap in flight")
	// ErrSwapSlippageExceeded the received amount fell below the oracle
	// floor.
	ErrSwapSlippageExceeded = errors.New("swap slippage exceeded")
)

// Dca a dollar-cost-averaging order: NumOrders equal swaps spaced
// IntervalSeconds apart. Each order runs in two halves bound by the stored
// pre-swap state: lend hands the input to the swapper, check_repay validates
// the received amount against the oracle.
type Dca struct {
	Name      string
	Authority hpl.Address

	PriceFeed hpl.Address
	// InputAccount funds the swaps.
	InputAccount hpl.Address
	// SwapAccount the swapper escrow lend pays into.
	SwapAccount hpl.Address
	// DestinationAccount receives the swapped-for tokens.
	DestinationAccount hpl.Address

	NumOrders             uint16
	SwapAmountPerOrder    uint64
	IntervalSeconds       uint64
	SlippageBpsFromOracle uint16

	NextTrigger uint64
	// IsSwapping a lend ran and its check_repay is pending.
	IsSwapping                bool
	PreSwapDestinationBalance uint64
	SwapInputAmount           uint64

	RentRefund hpl.Address
}

// DcaKey derives the DCA account address from its name.
func DcaKey(name string) hpl.Address {
	return hpl.DeriveAddress([]byte("dca"), []byte(name))
}

// DcaService runs DCA orders.
type DcaService struct {
	state  *state.State
	tokens *token.Service
	feeds  *pricefeed.Service
}

// NewDca creates the DCA service.
func NewDca(st *state.State, toks *token.Service, feeds *pricefeed.Service) *DcaService {
	return &DcaService{state: st, tokens: toks, feeds: feeds}
}

// InitializeDca persists the order; the first swap is due one interval out.
func (s *DcaService) InitializeDca(d Dca, now uint64, payer hpl.Address) (hpl.Address, error) {
	if d.NumOrders == 0 {
		return hpl.Address{}, errors.Wrap(ErrNoOrdersRemaining, "initialize")
	}
	key := DcaKey(d.Name)
	d.NextTrigger = now + d.IntervalSeconds
	d.IsSwapping = false
	if d.RentRefund.IsZero() {
		d.RentRefund = d.Authority
	}
	return key, s.state.InitAccount(key, dcaAccountName, d, payer)
}

// GetDca loads a DCA order.
func (s *DcaService) GetDca(key hpl.Address) (*Dca, error) {
	var d Dca
	if err := s.state.DecodeAccount(key, dcaAccountName, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Lend runs the first half of a due order: the input amount moves to the
// swapper escrow and the pre-swap state is pinned for check_repay.
func (s *DcaService) Lend(key hpl.Address, now uint64) error {
	d, err := s.GetDca(key)
	if err != nil {
		return err
	}
	if d.IsSwapping {
		return errors.Wrapf(ErrSwapInFlight, "dca %q", d.Name)
	}
	if d.NumOrders == 0 {
		return errors.Wrapf(ErrNoOrdersRemaining, "dca %q", d.Name)
	}
	if now < d.NextTrigger {
		return errors.Wrapf(ErrOrderNotDue, "due %d now %d", d.NextTrigger, now)
	}

	preSwap, err := s.tokens.Balance(d.DestinationAccount)
	if err != nil {
		return err
	}
	if err := s.tokens.Transfer(d.InputAccount, d.SwapAccount, d.SwapAmountPerOrder); err != nil {
		return err
	}

	d.IsSwapping = true
	d.PreSwapDestinationBalance = preSwap
	d.SwapInputAmount = d.SwapAmountPerOrder
	return s.state.EncodeAccount(key, dcaAccountName, *d)
}

// CheckRepay runs the second half: the received amount must reach the oracle
// price less the configured slippage. The final order closes the account and
// refunds its rent. Returns whether the DCA is finished.
func (s *DcaService) CheckRepay(key hpl.Address, now uint64) (bool, error) {
	d, err := s.GetDca(key)
	if err != nil {
		return false, err
	}
	if !d.IsSwapping {
		return false, errors.Wrapf(ErrNoSwapInFlight, "dca %q", d.Name)
	}

	bal, err := s.tokens.Balance(d.DestinationAccount)
	if err != nil {
		return false, err
	}
	if bal < d.PreSwapDestinationBalance {
		return false, errors.Wrapf(ErrSwapSlippageExceeded, "destination %d below pre-swap %d", bal, d.PreSwapDestinationBalance)
	}
	received := bal - d.PreSwapDestinationBalance
	floor, err := s.oracleFloor(d, now)
	if err != nil {
		return false, err
	}
	if received < floor {
		return false, errors.Wrapf(ErrSwapSlippageExceeded, "received %d floor %d", received, floor)
	}

	d.IsSwapping = false
	d.SwapInputAmount = 0
	d.PreSwapDestinationBalance = 0
	d.NumOrders--
	d.NextTrigger += d.IntervalSeconds
	if d.NumOrders == 0 {
		return true, s.state.CloseAccount(key, d.RentRefund)
	}
	return false, s.state.EncodeAccount(key, dcaAccountName, *d)
}

// oracleFloor converts the swap input through the conservative oracle price
// and applies the slippage allowance, rounding down.
func (s *DcaService) oracleFloor(d *Dca, now uint64) (uint64, error) {
	price, expo, err := s.feeds.CurrentPrice(d.PriceFeed, now)
	if err != nil {
		return 0, err
	}
	v := new(uint256.Int).Mul(uint256.NewInt(d.SwapInputAmount), uint256.NewInt(price))
	for e := expo; e > 0; e-- {
		v.Mul(v, uint256.NewInt(10))
	}
	for e := expo; e < 0; e++ {
		v.Div(v, uint256.NewInt(10))
	}
	v.Mul(v, uint256.NewInt(10_000-uint64(d.SlippageBpsFromOracle)))
	v.Div(v, uint256.NewInt(10_000))
	if !v.IsUint64() {
		return 0, errors.New("oracle floor overflow")
	}
	return v.Uint64(), nil
}
