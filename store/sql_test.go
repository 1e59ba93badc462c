// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)

var accountRowColumns = []string{
	"id", "cr_account", "address", "confirmed_balance",
	"unconfirmed_balance", "available_balance", "withdrawn_balance",
	"key_bundle", "last_live_balance_check", "last_activity", "created_at",
}

// newMockStore returns a store backed by sqlmock and verifies that every
// expectation was met when the test ends.
func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return New(db, time.Second), mock
}

func q(query string) string {
	return regexp.QuoteMeta(query)
}

// TestAccountByCRAccount checks the row mapping of an account and that the
// lookup value travels as a bound parameter.
func TestAccountByCRAccount(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	// A hostile identifier is passed verbatim as an argument.
	const crAccount = `alice" OR "1"="1`

	mock.ExpectQuery(q(selectAccountByCRAccount)).
		WithArgs(crAccount).
		WillReturnRows(sqlmock.NewRows(accountRowColumns).AddRow(
			7, crAccount, "mfoo", 150000, 2000, 140000, 10000,
			`{"btc":{"private":"p","public":"q","wif":"w"}}`,
			testTime, nil, testTime,
		))

	a, err := s.AccountByCRAccount(context.Background(), crAccount)
	require.NoError(t, err)
	require.Equal(t, int64(7), a.ID)
	require.Equal(t, fn.Some(crAccount), a.CRAccount)
	require.Equal(t, btcutil.Amount(150000), a.Confirmed)
	require.Equal(t, btcutil.Amount(2000), a.Unconfirmed)
	require.Equal(t, btcutil.Amount(140000), a.Available)
	require.Equal(t, btcutil.Amount(140000), a.Spendable())
	require.Equal(t, "w", a.Keys["btc"].WIF)
	require.Equal(t, fn.Some(testTime), a.LastLiveCheck)
	require.True(t, a.LastActivity.IsNone())
}

// TestAccountNotFound checks that a missing row maps to
// ErrNoMatchingAccount and other failures are wrapped.
func TestAccountNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectQuery(q(selectAccountByAddress)).
		WithArgs("mnope").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(q(selectAccountByAddress)).
		WithArgs("mbroken").
		WillReturnError(errors.New("connection reset"))

	_, err := s.AccountByAddress(context.Background(), "mnope")
	require.ErrorIs(t, err, ErrNoMatchingAccount)

	_, err = s.AccountByAddress(context.Background(), "mbroken")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoMatchingAccount)
}

// TestCreateAccount checks that the account and its history record are
// written in one transaction.
func TestCreateAccount(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	keys := Keys{"btc": {Private: "p", Public: "q", WIF: "w"}}
	keyJSON := `{"btc":{"private":"p","public":"q","wif":"w"}}`

	mock.ExpectBegin()
	mock.ExpectQuery(q(insertAccount)).
		WithArgs(sql.NullString{String: "bob", Valid: true}, "mbob",
			keyJSON, testTime).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(q(insertAddressHistory)).
		WithArgs(3, "mbob", true, false, testTime).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(q(selectAccountByID)).
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows(accountRowColumns).AddRow(
			3, "bob", "mbob", 0, 0, 0, 0, keyJSON, nil, nil,
			testTime,
		))

	a, err := s.CreateAccount(context.Background(), CreateAccountParams{
		CRAccount: fn.Some("bob"),
		Address:   "mbob",
		Keys:      keys,
		CreatedAt: testTime,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), a.ID)
	require.Equal(t, keys, a.Keys)
	require.True(t, a.LastLiveCheck.IsNone())
}

// TestCreateAccountRollback checks that a failed history insert rolls the
// account insert back.
func TestCreateAccountRollback(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(insertAccount)).
		WithArgs(sql.NullString{}, "manon", "null", testTime).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectExec(q(insertAddressHistory)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.CreateAccount(context.Background(), CreateAccountParams{
		Address:   "manon",
		CreatedAt: testTime,
	})
	require.ErrorContains(t, err, "disk full")
}

// TestReactivateAccount checks the statement order of a reactivation.
func TestReactivateAccount(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	keyJSON := `{"btc":{"private":"p2","public":"q2","wif":"w2"}}`

	mock.ExpectBegin()
	mock.ExpectExec(q(deactivateAddressHistory)).
		WithArgs(false, 5, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(updateAccountAddress)).
		WithArgs("mnew", keyJSON, testTime, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(insertAddressHistory)).
		WithArgs(5, "mnew", true, false, testTime).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(q(selectAccountByID)).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(accountRowColumns).AddRow(
			5, "carol", "mnew", 0, 0, 0, 0, keyJSON, nil, testTime,
			testTime,
		))

	a, err := s.ReactivateAccount(context.Background(),
		ReactivateAccountParams{
			AccountID: 5,
			Address:   "mnew",
			Keys: Keys{"btc": {
				Private: "p2", Public: "q2", WIF: "w2",
			}},
			At: testTime,
		})
	require.NoError(t, err)
	require.Equal(t, "mnew", a.Address)
	require.Equal(t, fn.Some(testTime), a.LastActivity)
}

// TestBalanceUpdates covers live balance and withdrawal updates, including
// updates that match no row.
func TestBalanceUpdates(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(q(updateLiveBalance)).
		WithArgs(int64(500000), int64(0), testTime, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(updateWithdrawal)).
		WithArgs(int64(50010), testTime, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(updateWithdrawal)).
		WithArgs(int64(10), testTime, 99).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.UpdateLiveBalance(ctx, LiveBalanceParams{
		AccountID: 1,
		Confirmed: 500000,
		CheckedAt: testTime,
	}))
	require.NoError(t, s.RecordWithdrawal(ctx, WithdrawalParams{
		AccountID: 1,
		Debit:     50010,
		At:        testTime,
	}))

	err := s.RecordWithdrawal(ctx, WithdrawalParams{
		AccountID: 99,
		Debit:     10,
		At:        testTime,
	})
	require.ErrorIs(t, err, ErrNoMatchingAccount)
}

// TestControlValues covers the miner fee lookup, control upserts and the
// derivation index counter.
func TestControlValues(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(q(selectControl)).
		WithArgs(ControlMinerFee).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(q(upsertControl)).
		WithArgs(ControlMinerFee, "25").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q(selectControl)).
		WithArgs(ControlMinerFee).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("25"))
	mock.ExpectQuery(q(incrementHDIndex)).
		WithArgs(controlHDIndex, "0").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("41"))

	fee, err := s.MinerFee(ctx)
	require.NoError(t, err)
	require.True(t, fee.IsNone())

	require.NoError(t, s.SetControl(ctx, ControlMinerFee, "25"))

	fee, err = s.MinerFee(ctx)
	require.NoError(t, err)
	require.Equal(t, fn.Some("25"), fee)

	index, err := s.NextHDIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(41), index)
}

// TestActiveAddresses covers the cold storage sweep queries.
func TestActiveAddresses(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(q(selectActiveAddresses)).
		WithArgs(true, false).
		WillReturnRows(sqlmock.NewRows([]string{
			"account_id", "address", "active", "forwarded", "created_at",
		}).AddRow(1, "ma", true, false, testTime).
			AddRow(2, "mb", true, false, testTime))
	mock.ExpectExec(q(updateForwarded)).
		WithArgs(true, "ma").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(updateForwarded)).
		WithArgs(true, "mz").
		WillReturnResult(sqlmock.NewResult(0, 0))

	records, err := s.ActiveAddresses(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "mb", records[1].Address)

	require.NoError(t, s.MarkForwarded(ctx, "ma"))
	require.ErrorIs(t, s.MarkForwarded(ctx, "mz"), ErrNoMatchingAccount)
}

// TestLoadMigrations checks that both dialects ship the same ordered
// migrations.
func TestLoadMigrations(t *testing.T) {
	t.Parallel()

	pg, err := loadMigrations(Postgres)
	require.NoError(t, err)
	lite, err := loadMigrations(SQLite)
	require.NoError(t, err)

	require.NotEmpty(t, pg)
	require.Len(t, lite, len(pg))
	for i := range pg {
		require.Equal(t, pg[i].version, lite[i].version)
		require.Equal(t, pg[i].name, lite[i].name)
		require.Len(t, lite[i].statements, len(pg[i].statements))
	}

	_, err = loadMigrations(Dialect("mysql"))
	require.Error(t, err)
}
