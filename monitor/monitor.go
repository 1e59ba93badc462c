// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package monitor periodically checks the live balance of every cash
// register and warns when one runs low.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/coinroster/cgsd/gateway"
	"github.com/lightningnetwork/lnd/ticker"
)

// DefaultInterval is the default time between two rounds of checks.
const DefaultInterval = 15 * time.Minute

// checkTimeout bounds the live check of one cash register.
const checkTimeout = 30 * time.Second

// ErrAlreadyStarted is returned by Start on a running monitor.
var ErrAlreadyStarted = errors.New("monitor already started")

// Config holds the monitor's dependencies.
type Config struct {
	// Addresses are the cash register addresses to check.
	Addresses []string

	// API fetches the balance reports.
	API gateway.BalanceSource

	// Ticker paces the rounds of checks. Every tick starts one round.
	Ticker ticker.Ticker

	// LowFunds is the final balance under which a warning is logged. Zero
	// disables the warning.
	LowFunds btcutil.Amount

	// Observe, if set, is called with the reconciled final balance of
	// every address checked.
	Observe func(address string, final btcutil.Amount)
}

// Monitor runs the periodic cash register checks.
type Monitor struct {
	cfg Config

	started sync.Once
	stopped sync.Once

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a monitor. It does nothing until Start is called.
func New(cfg Config) *Monitor {
	return &Monitor{
		cfg:  cfg,
		quit: make(chan struct{}),
	}
}

// Start runs a first round of checks in the background and then one round
// per tick.
func (m *Monitor) Start() error {
	err := ErrAlreadyStarted
	m.started.Do(func() {
		err = nil
		m.cfg.Ticker.Resume()

		m.wg.Add(1)
		go m.run()
	})
	return err
}

// Stop ends the checks and waits for a round in progress to finish.
func (m *Monitor) Stop() {
	m.stopped.Do(func() {
		close(m.quit)
		m.wg.Wait()
		m.cfg.Ticker.Stop()
	})
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	m.checkAll(ctx)
	for {
		select {
		case <-m.cfg.Ticker.Ticks():
			m.checkAll(ctx)

		case <-m.quit:
			return
		}
	}
}

// checkAll checks every configured address once.
func (m *Monitor) checkAll(ctx context.Context) {
	for _, addr := range m.cfg.Addresses {
		if ctx.Err() != nil {
			return
		}
		m.check(ctx, addr)
	}
}

func (m *Monitor) check(ctx context.Context, addr string) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	report, err := gateway.LiveReport(ctx, m.cfg.API, addr)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Errorf("Unable to check cash register %s: %v", addr, err)
		return
	}

	log.Debugf("Cash register %s: final balance %v", addr, report.Final)
	if m.cfg.Observe != nil {
		m.cfg.Observe(addr, report.Final)
	}

	if m.cfg.LowFunds > 0 && report.Final < m.cfg.LowFunds {
		log.Warnf("Cash register %s is low on funds: %v is below %v",
			addr, report.Final, m.cfg.LowFunds)
	}
}
