// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"

	// Register the pgx driver under name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"
)

// Dialect names a supported database backend.
type Dialect string

const (
	// Postgres selects PostgreSQL through pgx.
	Postgres Dialect = "postgres"

	// SQLite selects the pure Go SQLite driver.
	SQLite Dialect = "sqlite"
)

// driverName returns the database/sql driver registered for the dialect.
func (d Dialect) driverName() (string, error) {
	switch d {
	case Postgres:
		return "pgx", nil
	case SQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", d)
	}
}

// DefaultQueryTimeout bounds a single store operation.
const DefaultQueryTimeout = 10 * time.Second

// Config describes how to open a SQL store.
type Config struct {
	Dialect Dialect
	DSN     string

	// QueryTimeout bounds every operation. Zero selects
	// DefaultQueryTimeout.
	QueryTimeout time.Duration

	// MaxOpenConns caps the connection pool. It is forced to one for
	// SQLite.
	MaxOpenConns int
}

const accountColumns = `id, cr_account, address, confirmed_balance,
	unconfirmed_balance, available_balance, withdrawn_balance, key_bundle,
	last_live_balance_check, last_activity, created_at`

const (
	selectAccountByCRAccount = `SELECT ` + accountColumns + `
	FROM accounts WHERE cr_account = $1`

	selectAccountByAddress = `SELECT ` + accountColumns + `
	FROM accounts WHERE address = $1`

	selectAccountByID = `SELECT ` + accountColumns + `
	FROM accounts WHERE id = $1`

	insertAccount = `INSERT INTO accounts (cr_account, address, key_bundle,
	created_at) VALUES ($1, $2, $3, $4) RETURNING id`

	insertAddressHistory = `INSERT INTO address_history (account_id,
	address, active, forwarded, created_at) VALUES ($1, $2, $3, $4, $5)`

	deactivateAddressHistory = `UPDATE address_history SET active = $1
	WHERE account_id = $2 AND active = $3`

	updateAccountAddress = `UPDATE accounts SET address = $1,
	key_bundle = $2, confirmed_balance = 0, unconfirmed_balance = 0,
	available_balance = 0, withdrawn_balance = 0,
	last_live_balance_check = NULL, last_activity = $3 WHERE id = $4`

	updateLiveBalance = `UPDATE accounts SET confirmed_balance = $1,
	unconfirmed_balance = $2, available_balance = $1 - withdrawn_balance,
	last_live_balance_check = $3 WHERE id = $4`

	updateWithdrawal = `UPDATE accounts SET
	withdrawn_balance = withdrawn_balance + $1,
	available_balance = confirmed_balance - (withdrawn_balance + $1),
	last_activity = $2 WHERE id = $3`

	selectControl = `SELECT value FROM control WHERE name = $1`

	upsertControl = `INSERT INTO control (name, value) VALUES ($1, $2)
	ON CONFLICT (name) DO UPDATE SET value = excluded.value`

	incrementHDIndex = `INSERT INTO control (name, value) VALUES ($1, $2)
	ON CONFLICT (name) DO UPDATE
	SET value = CAST(CAST(control.value AS INTEGER) + 1 AS TEXT)
	RETURNING value`

	selectActiveAddresses = `SELECT account_id, address, active, forwarded,
	created_at FROM address_history WHERE active = $1 AND forwarded = $2
	ORDER BY id`

	updateForwarded = `UPDATE address_history SET forwarded = $1
	WHERE address = $2`
)

// controlHDIndex is the control entry holding the last derivation index.
const controlHDIndex = "hd_index"

// SQLStore implements Store on top of database/sql.
type SQLStore struct {
	db      *sql.DB
	timeout time.Duration
}

// A compile-time assertion to ensure that SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// Open connects to the configured database, verifies the connection and
// applies pending migrations.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	driver, err := cfg.Dialect.driverName()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Dialect, err)
	}

	switch {
	case cfg.Dialect == SQLite:
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	s := New(db, cfg.QueryTimeout)
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", cfg.Dialect, err)
	}

	if err := Migrate(ctx, db, cfg.Dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Infof("Opened %s store", cfg.Dialect)
	return s, nil
}

// New wraps an open database. The schema must already be in place.
func New(db *sql.DB, timeout time.Duration) *SQLStore {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &SQLStore{db: db, timeout: timeout}
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context,
	context.CancelFunc) {

	return context.WithTimeout(ctx, s.timeout)
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.db.PingContext(ctx)
}

// Close releases the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// AccountByCRAccount returns the account with the given external
// identifier.
func (s *SQLStore) AccountByCRAccount(ctx context.Context,
	crAccount string) (*Account, error) {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return scanAccount(s.db.QueryRowContext(
		ctx, selectAccountByCRAccount, crAccount,
	))
}

// AccountByAddress returns the account whose current address is address.
func (s *SQLStore) AccountByAddress(ctx context.Context,
	address string) (*Account, error) {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return scanAccount(s.db.QueryRowContext(
		ctx, selectAccountByAddress, address,
	))
}

// CreateAccount inserts an account together with an active address history
// record.
func (s *SQLStore) CreateAccount(ctx context.Context,
	params CreateAccountParams) (*Account, error) {

	keys, err := json.Marshal(params.Keys)
	if err != nil {
		return nil, fmt.Errorf("encode keys: %w", err)
	}

	var crAccount sql.NullString
	params.CRAccount.WhenSome(func(cr string) {
		crAccount = sql.NullString{String: cr, Valid: true}
	})

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var id int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(
			ctx, insertAccount, crAccount, params.Address,
			string(keys), params.CreatedAt,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}

		_, err = tx.ExecContext(
			ctx, insertAddressHistory, id, params.Address, true,
			false, params.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert address history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.accountByID(ctx, id)
}

// ReactivateAccount moves an account to a new address.
func (s *SQLStore) ReactivateAccount(ctx context.Context,
	params ReactivateAccountParams) (*Account, error) {

	keys, err := json.Marshal(params.Keys)
	if err != nil {
		return nil, fmt.Errorf("encode keys: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx, deactivateAddressHistory, false, params.AccountID,
			true,
		)
		if err != nil {
			return fmt.Errorf("deactivate address history: %w", err)
		}

		res, err := tx.ExecContext(
			ctx, updateAccountAddress, params.Address, string(keys),
			params.At, params.AccountID,
		)
		if err != nil {
			return fmt.Errorf("update account address: %w", err)
		}
		if err := expectOneRow(res); err != nil {
			return err
		}

		_, err = tx.ExecContext(
			ctx, insertAddressHistory, params.AccountID,
			params.Address, true, false, params.At,
		)
		if err != nil {
			return fmt.Errorf("insert address history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.accountByID(ctx, params.AccountID)
}

// UpdateLiveBalance stores a reconciled live balance.
func (s *SQLStore) UpdateLiveBalance(ctx context.Context,
	params LiveBalanceParams) error {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(
		ctx, updateLiveBalance, int64(params.Confirmed),
		int64(params.Unconfirmed), params.CheckedAt, params.AccountID,
	)
	if err != nil {
		return fmt.Errorf("update live balance: %w", err)
	}
	return expectOneRow(res)
}

// RecordWithdrawal debits a broadcast withdrawal.
func (s *SQLStore) RecordWithdrawal(ctx context.Context,
	params WithdrawalParams) error {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(
		ctx, updateWithdrawal, int64(params.Debit), params.At,
		params.AccountID,
	)
	if err != nil {
		return fmt.Errorf("record withdrawal: %w", err)
	}
	return expectOneRow(res)
}

// MinerFee returns the persisted miner fee override, if any.
func (s *SQLStore) MinerFee(ctx context.Context) (fn.Option[string], error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, selectControl, ControlMinerFee).Scan(
		&value,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fn.None[string](), nil
	case err != nil:
		return fn.None[string](), fmt.Errorf("select miner fee: %w", err)
	}

	return fn.Some(value), nil
}

// SetControl creates or replaces a control value.
func (s *SQLStore) SetControl(ctx context.Context, name, value string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, upsertControl, name, value); err != nil {
		return fmt.Errorf("set control %s: %w", name, err)
	}
	return nil
}

// NextHDIndex returns the next unused derivation index.
func (s *SQLStore) NextHDIndex(ctx context.Context) (uint32, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(
		ctx, incrementHDIndex, controlHDIndex, "0",
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next hd index: %w", err)
	}

	index, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("stored hd index %q: %w", value, err)
	}
	return uint32(index), nil
}

// ActiveAddresses lists the active addresses not yet forwarded to cold
// storage.
func (s *SQLStore) ActiveAddresses(ctx context.Context) ([]AddressRecord,
	error) {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, selectActiveAddresses, true, false)
	if err != nil {
		return nil, fmt.Errorf("select active addresses: %w", err)
	}
	defer rows.Close()

	var records []AddressRecord
	for rows.Next() {
		var r AddressRecord
		err := rows.Scan(
			&r.AccountID, &r.Address, &r.Active, &r.Forwarded,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan address record: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// MarkForwarded flags an address as forwarded to cold storage.
func (s *SQLStore) MarkForwarded(ctx context.Context, address string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, updateForwarded, true, address)
	if err != nil {
		return fmt.Errorf("mark forwarded: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoMatchingAccount
	}
	return nil
}

func (s *SQLStore) accountByID(ctx context.Context, id int64) (*Account,
	error) {

	return scanAccount(s.db.QueryRowContext(ctx, selectAccountByID, id))
}

// inTx runs f in a transaction, committing only when f succeeds.
func (s *SQLStore) inTx(ctx context.Context, f func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Errorf("Rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// expectOneRow maps an update that touched no row to ErrNoMatchingAccount.
func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoMatchingAccount
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		a           Account
		crAccount   sql.NullString
		confirmed   int64
		unconfirmed int64
		available   int64
		withdrawn   int64
		keys        string
		lastCheck   sql.NullTime
		lastActive  sql.NullTime
	)

	err := row.Scan(
		&a.ID, &crAccount, &a.Address, &confirmed, &unconfirmed,
		&available, &withdrawn, &keys, &lastCheck, &lastActive,
		&a.CreatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNoMatchingAccount
	case err != nil:
		return nil, fmt.Errorf("scan account: %w", err)
	}

	if crAccount.Valid {
		a.CRAccount = fn.Some(crAccount.String)
	}
	if lastCheck.Valid {
		a.LastLiveCheck = fn.Some(lastCheck.Time)
	}
	if lastActive.Valid {
		a.LastActivity = fn.Some(lastActive.Time)
	}

	a.Confirmed = btcutil.Amount(confirmed)
	a.Unconfirmed = btcutil.Amount(unconfirmed)
	a.Available = btcutil.Amount(available)
	a.Withdrawn = btcutil.Amount(withdrawn)

	if err := json.Unmarshal([]byte(keys), &a.Keys); err != nil {
		return nil, fmt.Errorf("decode keys of account %d: %w", a.ID, err)
	}

	return &a, nil
}
