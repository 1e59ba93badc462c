// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store persists gateway accounts, their address history and the
// control values (such as the miner fee override) in a relational database.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ControlMinerFee is the control table entry holding the miner fee
// override, in satoshis.
const ControlMinerFee = "miner_fee"

// ErrNoMatchingAccount is returned when no account matches a lookup.
var ErrNoMatchingAccount = errors.New("no matching account or address")

// KeyBundle is the key material of a single address.
type KeyBundle struct {
	Private string `json:"private"`
	Public  string `json:"public"`
	WIF     string `json:"wif"`
}

// Keys maps a currency type, e.g. "btc", to its key material.
type Keys map[string]KeyBundle

// Account is a gateway account row.
type Account struct {
	ID int64

	// CRAccount is the external account identifier, if any.
	CRAccount fn.Option[string]

	// Address is the current deposit address.
	Address string

	// Confirmed and Unconfirmed are the reconciled on-chain balances of
	// Address as of LastLiveCheck.
	Confirmed   btcutil.Amount
	Unconfirmed btcutil.Amount

	// Withdrawn is the total debited by withdrawals, fees included.
	Withdrawn btcutil.Amount

	// Available is Confirmed minus Withdrawn as of the last update.
	Available btcutil.Amount

	Keys Keys

	LastLiveCheck fn.Option[time.Time]
	LastActivity  fn.Option[time.Time]
	CreatedAt     time.Time
}

// Spendable returns the confirmed balance not yet debited by withdrawals.
func (a *Account) Spendable() btcutil.Amount {
	return a.Confirmed - a.Withdrawn
}

// AddressRecord is a row of the address history.
type AddressRecord struct {
	AccountID int64
	Address   string
	Active    bool
	Forwarded bool
	CreatedAt time.Time
}

// CreateAccountParams holds the fields of a new account.
type CreateAccountParams struct {
	CRAccount fn.Option[string]
	Address   string
	Keys      Keys
	CreatedAt time.Time
}

// ReactivateAccountParams moves an existing account to a new address.
type ReactivateAccountParams struct {
	AccountID int64
	Address   string
	Keys      Keys
	At        time.Time
}

// LiveBalanceParams records the result of a live balance check.
type LiveBalanceParams struct {
	AccountID   int64
	Confirmed   btcutil.Amount
	Unconfirmed btcutil.Amount
	CheckedAt   time.Time
}

// WithdrawalParams debits a broadcast withdrawal from an account.
type WithdrawalParams struct {
	AccountID int64

	// Debit is the withdrawn amount plus the miner fee.
	Debit btcutil.Amount

	At time.Time
}

// AccountStore reads and writes accounts.
type AccountStore interface {
	// AccountByCRAccount returns the account with the given external
	// identifier.
	AccountByCRAccount(ctx context.Context, crAccount string) (*Account,
		error)

	// AccountByAddress returns the account whose current address is
	// address.
	AccountByAddress(ctx context.Context, address string) (*Account, error)

	// CreateAccount inserts an account together with an active address
	// history record, atomically.
	CreateAccount(ctx context.Context, params CreateAccountParams) (
		*Account, error)

	// ReactivateAccount deactivates the history records of an account,
	// switches it to a new address with fresh key material and balances
	// and records the new address as active, atomically.
	ReactivateAccount(ctx context.Context,
		params ReactivateAccountParams) (*Account, error)

	// UpdateLiveBalance stores a reconciled live balance and its
	// timestamp.
	UpdateLiveBalance(ctx context.Context, params LiveBalanceParams) error

	// RecordWithdrawal adds a debit to the withdrawn total and refreshes
	// the available balance and last activity time.
	RecordWithdrawal(ctx context.Context, params WithdrawalParams) error
}

// AddressHistoryStore serves the cold storage sweep.
type AddressHistoryStore interface {
	// ActiveAddresses lists the active addresses not yet forwarded to
	// cold storage.
	ActiveAddresses(ctx context.Context) ([]AddressRecord, error)

	// MarkForwarded flags an address as forwarded to cold storage.
	MarkForwarded(ctx context.Context, address string) error
}

// ControlStore reads and writes control values.
type ControlStore interface {
	// MinerFee returns the persisted miner fee override, if present. The
	// value is returned verbatim and may not parse.
	MinerFee(ctx context.Context) (fn.Option[string], error)

	// SetControl creates or replaces a control value.
	SetControl(ctx context.Context, name, value string) error

	// NextHDIndex returns the next unused derivation index, starting at
	// zero. Every call returns a different index.
	NextHDIndex(ctx context.Context) (uint32, error)
}

// Store is the complete persistence contract of the gateway.
type Store interface {
	AccountStore
	AddressHistoryStore
	ControlStore

	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Close releases the database.
	Close() error
}
