// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package metrics

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveWithdrawal("success")
	m.ObserveWithdrawal("success")
	m.ObserveWithdrawal("InsufficientCashRegisterFunds")
	m.SetCashRegister("1cash", 949990)
	m.ObserveUpstream("txs/new", 120*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(
		m.withdrawals.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(
		m.withdrawals.WithLabelValues("InsufficientCashRegisterFunds")))
	require.Equal(t, 949990.0, testutil.ToFloat64(
		m.cashRegister.WithLabelValues("1cash")))
	require.Equal(t, 1, testutil.CollectAndCount(m.upstream))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(),
		`cgsd_withdrawals_total{outcome="success"} 2`)
	require.Contains(t, rec.Body.String(),
		`cgsd_upstream_request_seconds_count{op="txs/new"} 1`)
}

func TestServer(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	m := New()
	m.SetCashRegister("1cash", 10)
	s := NewServer(m, lis)
	s.Start()
	defer s.Stop()

	res, err := http.Get("http://" + lis.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Contains(t, string(b),
		`cgsd_cash_register_balance_satoshi{address="1cash"} 10`)
}
