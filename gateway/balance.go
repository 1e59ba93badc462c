// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinroster/cgsd/reconcile"
	"github.com/coinroster/cgsd/store"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/shopspring/decimal"
)

// CurrencyBTC is the only currency type the gateway serves.
const CurrencyBTC = "btc"

// DefaultBalanceCheckInterval is the minimum time between two live balance
// checks of one account.
const DefaultBalanceCheckInterval = 10 * time.Minute

// MajorUnits formats a satoshi amount in bitcoin without rounding.
func MajorUnits(a btcutil.Amount) string {
	return decimal.New(int64(a), -8).String()
}

// Balance is the answer to a balance query.
type Balance struct {
	Account *store.Account

	Confirmed   btcutil.Amount
	Unconfirmed btcutil.Amount

	// Final is the reported final balance after a live check, or
	// Confirmed plus Unconfirmed when served from the store.
	Final btcutil.Amount

	// Live is set when the values come from an upstream check made for
	// this query.
	Live bool
}

// BalanceRequest selects the account of a balance query. One of CRAccount
// and Address must be set.
type BalanceRequest struct {
	Type      string
	CRAccount string
	Address   string
}

// BalanceConfig holds the collaborators of a BalanceService.
type BalanceConfig struct {
	Accounts store.AccountStore
	API      BalanceSource
	Clock    clock.Clock

	// Interval is the minimum time between two live checks of an
	// account.
	Interval time.Duration
}

// BalanceService answers balance queries, calling upstream at most once per
// interval and account.
type BalanceService struct {
	cfg BalanceConfig
}

// NewBalanceService returns a BalanceService. A nil clock selects the
// system clock.
func NewBalanceService(cfg BalanceConfig) *BalanceService {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &BalanceService{cfg: cfg}
}

// GetBalance returns the balance of the selected account, from the store
// when it was checked within the interval and live otherwise.
func (s *BalanceService) GetBalance(ctx context.Context,
	req BalanceRequest) (*Balance, error) {

	if req.Type != CurrencyBTC {
		return nil, unsupportedCurrency(req.Type)
	}
	if req.CRAccount == "" && req.Address == "" {
		return nil, gatewayError(ErrInvalidParams,
			"Either craccount or address is required.", nil)
	}

	acct, err := lookupAccount(ctx, s.cfg.Accounts, req.CRAccount,
		req.Address)
	if err != nil {
		return nil, err
	}

	now := s.cfg.Clock.Now()
	if !liveCheckDue(acct, now, s.cfg.Interval) {
		log.Debugf("Serving stored balance of %s", acct.Address)
		return &Balance{
			Account:     acct,
			Confirmed:   acct.Confirmed,
			Unconfirmed: acct.Unconfirmed,
			Final:       acct.Confirmed + acct.Unconfirmed,
		}, nil
	}

	report, err := refreshAccount(ctx, s.cfg.Accounts, s.cfg.API, acct,
		now)
	if err != nil {
		return nil, err
	}

	return &Balance{
		Account:     acct,
		Confirmed:   report.Confirmed,
		Unconfirmed: report.Unconfirmed,
		Final:       report.Final,
		Live:        true,
	}, nil
}

func unsupportedCurrency(t string) *Error {
	msg := "Currency type is required."
	if t != "" {
		msg = "Unsupported currency type \"" + t + "\"."
	}
	return gatewayError(ErrUnsupportedCurrency, msg, nil)
}

// liveCheckDue reports whether the account may be checked upstream again.
func liveCheckDue(acct *store.Account, now time.Time,
	interval time.Duration) bool {

	last := acct.LastLiveCheck
	return last.IsNone() || now.Sub(last.UnwrapOr(time.Time{})) >= interval
}

// lookupAccount finds an account by external identifier, or by address
// when no identifier is given.
func lookupAccount(ctx context.Context, accounts store.AccountStore,
	crAccount, address string) (*store.Account, error) {

	var (
		acct *store.Account
		err  error
	)
	if crAccount != "" {
		acct, err = accounts.AccountByCRAccount(ctx, crAccount)
	} else {
		acct, err = accounts.AccountByAddress(ctx, address)
	}
	switch {
	case errors.Is(err, store.ErrNoMatchingAccount):
		return nil, gatewayError(ErrNoMatchingAccount,
			"No matching account or address.", err)
	case err != nil:
		return nil, databaseError(err)
	}
	return acct, nil
}

func databaseError(err error) *Error {
	return gatewayError(ErrDatabase,
		"There was a database error when processing the request.", err)
}

// LiveReport checks address live and returns its reconciled report. An
// upstream failure is an ErrExternalAPI error and a report that does not
// reconcile an ErrMalformedReport error.
func LiveReport(ctx context.Context, api BalanceSource,
	address string) (*reconcile.Report, error) {

	return liveReport(ctx, api, address)
}

// liveReport fetches and reconciles the report of address.
func liveReport(ctx context.Context, api BalanceSource,
	address string) (*reconcile.Report, error) {

	raw, err := api.AddressFull(ctx, address)
	if err != nil {
		return nil, &Error{
			Kind:    ErrExternalAPI,
			Message: "Unable to fetch balance of " + address + ".",
			Data:    upstreamPayload(err),
			Err:     err,
		}
	}

	report, err := reconcile.Reconcile(raw)
	if err != nil {
		return nil, &Error{
			Kind:    ErrMalformedReport,
			Message: "Malformed balance report for " + address + ".",
			Data:    json.RawMessage(raw),
			Err:     err,
		}
	}

	if n := len(report.Duplicates); n > 0 {
		log.Infof("Dropped %d repeated transactions from the report "+
			"of %s", n, address)
	}

	// A reconciled balance below zero means the upstream listed fewer
	// original outputs than repeats. Such a report is not trusted below
	// zero.
	if report.Confirmed < 0 {
		log.Warnf("Reconciled confirmed balance of %s is %v, using 0",
			address, report.Confirmed)
		report.Confirmed = 0
	}
	if report.Unconfirmed < 0 {
		log.Warnf("Reconciled unconfirmed balance of %s is %v, using 0",
			address, report.Unconfirmed)
		report.Unconfirmed = 0
	}

	return report, nil
}

// refreshAccount checks acct live, persists the reconciled balance and
// updates acct in place.
func refreshAccount(ctx context.Context, accounts store.AccountStore,
	api BalanceSource, acct *store.Account,
	now time.Time) (*reconcile.Report, error) {

	report, err := liveReport(ctx, api, acct.Address)
	if err != nil {
		return nil, err
	}

	err = accounts.UpdateLiveBalance(ctx, store.LiveBalanceParams{
		AccountID:   acct.ID,
		Confirmed:   report.Confirmed,
		Unconfirmed: report.Unconfirmed,
		CheckedAt:   now,
	})
	if err != nil {
		return nil, databaseError(err)
	}

	acct.Confirmed = report.Confirmed
	acct.Unconfirmed = report.Unconfirmed
	acct.Available = acct.Confirmed - acct.Withdrawn
	acct.LastLiveCheck = fn.Some(now)

	return report, nil
}
