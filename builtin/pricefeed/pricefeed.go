// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package pricefeed reads oracle price accounts conservatively: the EMA
// price less twice its confidence interval, with a staleness cutoff.
package pricefeed

import (
	"github.com/pkg/errors"

	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/state"
)

const feedAccountName = "PriceFeedV0"

var (
	// ErrStalePrice the feed has not been updated within the staleness window.
	ErrStalePrice = errors.New("price feed stale")
	// ErrNonPositivePrice the conservative price is zero or negative.
	ErrNonPositivePrice = errors.New("price not positive")
)

// Feed an oracle price account. Prices carry Exponent decimal digits,
// negative exponents scaling down.
type Feed struct {
	Authority hpl.Address

	EmaPrice    int64
	EmaConf     uint64
	Exponent    int32
	PublishTime uint64
}

// FeedKey derives the feed account address from its symbol.
func FeedKey(symbol string) hpl.Address {
	return hpl.DeriveAddress([]byte("price_feed"), []byte(symbol))
}

// Service reads and maintains price feeds.
type Service struct {
	state *state.State
	cfg   *hpl.Config
}

// New creates the price feed service.
func New(st *state.State, cfg *hpl.Config) *Service {
	return &Service{state: st, cfg: cfg}
}

// InitFeed creates a feed account.
func (s *Service) InitFeed(symbol string, f Feed, payer hpl.Address) (hpl.Address, error) {
	key := FeedKey(symbol)
	return key, s.state.InitAccount(key, feedAccountName, f, payer)
}

// Publish updates the feed in place.
func (s *Service) Publish(key hpl.Address, emaPrice int64, emaConf uint64, publishTime uint64) error {
	var f Feed
	if err := s.state.DecodeAccount(key, feedAccountName, &f); err != nil {
		return err
	}
	f.EmaPrice = emaPrice
	f.EmaConf = emaConf
	f.PublishTime = publishTime
	return s.state.EncodeAccount(key, feedAccountName, f)
}

// CurrentPrice returns the conservative price at now: ema - 2*conf, in the
// feed's own exponent. Staleness is enforced unless the runtime is in
// testing mode.
func (s *Service) CurrentPrice(key hpl.Address, now uint64) (uint64, int32, error) {
	var f Feed
	if err := s.state.DecodeAccount(key, feedAccountName, &f); err != nil {
		return 0, 0, err
	}
	if !s.cfg.Testing {
		if f.PublishTime+hpl.StalePriceSecs < now {
			return 0, 0, errors.Wrapf(ErrStalePrice, "published %d, now %d", f.PublishTime, now)
		}
	}
	price := f.EmaPrice - 2*int64(f.EmaConf)
	if price <= 0 {
		return 0, 0, errors.Wrapf(ErrNonPositivePrice, "ema %d conf %d", f.EmaPrice, f.EmaConf)
	}
	return uint64(price), f.Exponent, nil
}
