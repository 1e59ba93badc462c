// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinroster/cgsd/store"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// NewAccountRequest is a newAccount call.
type NewAccountRequest struct {
	Type string

	// CRAccount is the optional external identifier. An existing account
	// with this identifier is moved to the new address.
	CRAccount string
}

// NewAccountResult is the outcome of a newAccount call.
type NewAccountResult struct {
	Account     *store.Account
	Reactivated bool

	// Fee is the miner fee currently charged per withdrawal.
	Fee btcutil.Amount
}

// ProvisioningStore is the part of the store provisioning needs.
type ProvisioningStore interface {
	store.AccountStore
	store.ControlStore
}

// ProvisioningConfig holds the collaborators of a ProvisioningService.
type ProvisioningConfig struct {
	Store ProvisioningStore

	// Addresses generates deposit addresses. It is typically the
	// upstream API.
	Addresses AddressSource

	// Deriver, when set, derives addresses locally instead of asking
	// Addresses.
	Deriver fn.Option[*HDDeriver]

	Clock      clock.Clock
	DefaultFee btcutil.Amount
}

// ProvisioningService creates and reactivates accounts.
type ProvisioningService struct {
	cfg       ProvisioningConfig
	addresses AddressSource
}

// NewProvisioningService returns a ProvisioningService.
func NewProvisioningService(cfg ProvisioningConfig) *ProvisioningService {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	addrs := cfg.Addresses
	cfg.Deriver.WhenSome(func(d *HDDeriver) {
		addrs = &indexedAddresses{
			deriver: d,
			next:    cfg.Store.NextHDIndex,
		}
	})

	return &ProvisioningService{cfg: cfg, addresses: addrs}
}

// NewAccount generates a deposit address and stores it, either as a new
// account or as the new address of the account holding CRAccount.
func (s *ProvisioningService) NewAccount(ctx context.Context,
	req NewAccountRequest) (*NewAccountResult, error) {

	if req.Type != CurrencyBTC {
		return nil, unsupportedCurrency(req.Type)
	}

	var existing *store.Account
	if req.CRAccount != "" {
		acct, err := s.cfg.Store.AccountByCRAccount(ctx, req.CRAccount)
		switch {
		case err == nil:
			existing = acct
		case !errors.Is(err, store.ErrNoMatchingAccount):
			return nil, databaseError(err)
		}
	}

	addr, err := s.addresses.NewAddress(ctx)
	if err != nil {
		var gErr *Error
		if errors.As(err, &gErr) {
			return nil, gErr
		}
		return nil, &Error{
			Kind:    ErrExternalAPI,
			Message: "Unable to generate a new address.",
			Data:    upstreamPayload(err),
			Err:     err,
		}
	}
	keys := store.Keys{CurrencyBTC: store.KeyBundle{
		Private: addr.Private,
		Public:  addr.Public,
		WIF:     addr.WIF,
	}}

	now := s.cfg.Clock.Now()
	result := &NewAccountResult{}
	if existing != nil {
		acct, err := s.cfg.Store.ReactivateAccount(ctx,
			store.ReactivateAccountParams{
				AccountID: existing.ID,
				Address:   addr.Address,
				Keys:      keys,
				At:        now,
			})
		if err != nil {
			return nil, databaseError(err)
		}
		log.Infof("Moved account %d from %s to %s", acct.ID,
			existing.Address, acct.Address)

		result.Account = acct
		result.Reactivated = true
	} else {
		crAccount := fn.None[string]()
		if req.CRAccount != "" {
			crAccount = fn.Some(req.CRAccount)
		}
		acct, err := s.cfg.Store.CreateAccount(ctx,
			store.CreateAccountParams{
				CRAccount: crAccount,
				Address:   addr.Address,
				Keys:      keys,
				CreatedAt: now,
			})
		if err != nil {
			return nil, databaseError(err)
		}
		log.Infof("Created account %d at %s", acct.ID, acct.Address)

		result.Account = acct
	}

	persisted, err := s.cfg.Store.MinerFee(ctx)
	if err != nil {
		log.Warnf("Unable to read miner fee: %v", err)
		persisted = fn.None[string]()
	}
	fee := ResolveFee(fn.None[string](), persisted, s.cfg.DefaultFee)
	for _, p := range fee.Problems {
		log.Warnf("New account %s: %s", result.Account.Address, p)
	}
	result.Fee = fee.Amount

	return result, nil
}
