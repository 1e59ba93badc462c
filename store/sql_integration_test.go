//go:build integration_test

package store

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinroster/cgsd/internal/sqltest"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

func newIntegrationStore(t *testing.T, backend sqltest.Backend) *SQLStore {
	t.Helper()

	db := backend.NewDB(t)
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, Dialect(backend.Dialect)))

	// A second run must be a no-op.
	require.NoError(t, Migrate(ctx, db, Dialect(backend.Dialect)))

	return New(db, 5*time.Second)
}

// TestAccountLifecycle walks an account through creation, a live balance
// check, a withdrawal and a reactivation on every backend.
func TestAccountLifecycle(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T, backend sqltest.Backend) {
		s := newIntegrationStore(t, backend)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		created, err := s.CreateAccount(ctx, CreateAccountParams{
			CRAccount: fn.Some("alice"),
			Address:   "maliceold",
			Keys:      Keys{"btc": {WIF: "w1"}},
			CreatedAt: now,
		})
		require.NoError(t, err)

		_, err = s.CreateAccount(ctx, CreateAccountParams{
			Address:   "manonymous",
			CreatedAt: now,
		})
		require.NoError(t, err)

		byAddr, err := s.AccountByAddress(ctx, "maliceold")
		require.NoError(t, err)
		require.Equal(t, created.ID, byAddr.ID)
		require.Equal(t, fn.Some("alice"), byAddr.CRAccount)

		err = s.UpdateLiveBalance(ctx, LiveBalanceParams{
			AccountID:   created.ID,
			Confirmed:   100000,
			Unconfirmed: 500,
			CheckedAt:   now,
		})
		require.NoError(t, err)

		err = s.RecordWithdrawal(ctx, WithdrawalParams{
			AccountID: created.ID,
			Debit:     30010,
			At:        now,
		})
		require.NoError(t, err)

		a, err := s.AccountByCRAccount(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, btcutil.Amount(100000), a.Confirmed)
		require.Equal(t, btcutil.Amount(30010), a.Withdrawn)
		require.Equal(t, btcutil.Amount(69990), a.Available)
		require.Equal(t, btcutil.Amount(69990), a.Spendable())
		require.True(t, a.LastLiveCheck.IsSome())
		require.True(t, a.LastActivity.IsSome())

		records, err := s.ActiveAddresses(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)

		a, err = s.ReactivateAccount(ctx, ReactivateAccountParams{
			AccountID: created.ID,
			Address:   "malicenew",
			Keys:      Keys{"btc": {WIF: "w2"}},
			At:        now,
		})
		require.NoError(t, err)
		require.Equal(t, "malicenew", a.Address)
		require.Equal(t, "w2", a.Keys["btc"].WIF)
		require.Zero(t, a.Confirmed)
		require.True(t, a.LastLiveCheck.IsNone())

		records, err = s.ActiveAddresses(ctx)
		require.NoError(t, err)
		var addrs []string
		for _, r := range records {
			addrs = append(addrs, r.Address)
		}
		require.ElementsMatch(t, []string{"manonymous", "malicenew"}, addrs)

		require.NoError(t, s.MarkForwarded(ctx, "manonymous"))
		records, err = s.ActiveAddresses(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)

		_, err = s.AccountByAddress(ctx, "maliceold")
		require.ErrorIs(t, err, ErrNoMatchingAccount)
	})
}

// TestControlTable checks the miner fee override and derivation counter
// on every backend.
func TestControlTable(t *testing.T) {
	sqltest.RunDatabaseTest(t, func(t *testing.T, backend sqltest.Backend) {
		s := newIntegrationStore(t, backend)
		ctx := context.Background()

		fee, err := s.MinerFee(ctx)
		require.NoError(t, err)
		require.True(t, fee.IsNone())

		require.NoError(t, s.SetControl(ctx, ControlMinerFee, "10"))
		require.NoError(t, s.SetControl(ctx, ControlMinerFee, "40"))

		fee, err = s.MinerFee(ctx)
		require.NoError(t, err)
		require.Equal(t, fn.Some("40"), fee)

		for want := range uint32(3) {
			index, err := s.NextHDIndex(ctx)
			require.NoError(t, err)
			require.Equal(t, want, index)
		}
	})
}
