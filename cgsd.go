// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"net"
	"os"

	"github.com/coinroster/cgsd/blockcypher"
	"github.com/coinroster/cgsd/gateway"
	"github.com/coinroster/cgsd/metrics"
	"github.com/coinroster/cgsd/monitor"
	"github.com/coinroster/cgsd/rpc/jsonrpc"
	"github.com/coinroster/cgsd/store"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

var cfg *config

func main() {
	// Work around defer not working after os.Exit.
	if err := cgsdMain(); err != nil {
		os.Exit(1)
	}
}

// cgsdMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func cgsdMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()
	defer log.Info("Shutdown complete")

	ctx := interruptContext()
	log.Infof("Version %s on %s", version(), activeNet.Params.Name)

	funding, err := gateway.LoadFundingRegistry(cfg.FundingFile)
	if err != nil {
		log.Errorf("Unable to load funding file: %v", err)
		return err
	}
	registers := funding.Sources(activeNet.FundingTag)
	if len(registers) == 0 {
		log.Warnf("No cash register configured for %s: withdrawals "+
			"will fail", activeNet.FundingTag)
	}
	log.Infof("Loaded %d cash %s and %d cold storage %s for %s",
		len(registers), pickNoun(len(registers), "register",
			"registers"),
		len(funding.ColdStorage(activeNet.FundingTag)),
		pickNoun(len(funding.ColdStorage(activeNet.FundingTag)),
			"address", "addresses"),
		activeNet.FundingTag)

	db, err := store.Open(ctx, store.Config{
		Dialect:      store.Dialect(cfg.DBDriver),
		DSN:          cfg.DBDSN,
		QueryTimeout: cfg.DBTimeout,
	})
	if err != nil {
		log.Errorf("Unable to open database: %v", err)
		return err
	}
	defer db.Close()

	m := metrics.New()
	api := blockcypher.New(blockcypher.Config{
		BaseURL:           cfg.APIURL,
		Network:           activeNet.APINetwork,
		Token:             cfg.APIToken,
		Timeout:           cfg.APITimeout,
		Retries:           cfg.APIRetries,
		RequestsPerSecond: cfg.APIRate,
		Observe:           m.ObserveUpstream,
	})

	var gate gateway.Gate = gateway.NewLocalGate()
	if cfg.RedisAddr != "" {
		rdb, err := gateway.ConnectRedis(ctx, cfg.RedisAddr,
			cfg.RedisPass, cfg.RedisDB)
		if err != nil {
			log.Errorf("Unable to connect to redis: %v", err)
			return err
		}
		defer rdb.Close()

		log.Infof("Serializing withdrawals through redis at %s",
			cfg.RedisAddr)
		gate = gateway.NewRedisGate(rdb, 0, 0)
	}

	deriver := fn.None[*gateway.HDDeriver]()
	if cfg.HDXPrv != "" {
		d, err := gateway.NewHDDeriver(cfg.HDXPrv, activeNet.Params)
		if err != nil {
			log.Errorf("Invalid --hdxprv: %v", err)
			return err
		}
		log.Info("Deriving deposit addresses locally")
		deriver = fn.Some(d)
	}

	services := &jsonrpc.Services{
		Accounts: gateway.NewProvisioningService(
			gateway.ProvisioningConfig{
				Store:      db,
				Addresses:  api,
				Deriver:    deriver,
				DefaultFee: cfg.MinerFee.Amount,
			},
		),
		Balances: gateway.NewBalanceService(gateway.BalanceConfig{
			Accounts: db,
			API:      api,
			Interval: cfg.BalanceCheckInterval,
		}),
		Withdrawals: gateway.NewOrchestrator(gateway.WithdrawalConfig{
			Params:               activeNet,
			Accounts:             db,
			Control:              db,
			Funding:              funding,
			API:                  api,
			Builder:              gateway.NewSkeletonBuilder(api),
			Signer:               gateway.NewKeySigner(activeNet.Params),
			Broadcaster:          gateway.NewPublisher(api),
			Gate:                 gate,
			DefaultFee:           cfg.MinerFee.Amount,
			BalanceCheckInterval: cfg.BalanceCheckInterval,
			Observe:              m.ObserveWithdrawal,
		}),
	}

	listeners := makeListeners(cfg.RPCListeners)
	if len(listeners) == 0 {
		err := errors.New("failed to create listeners for RPC server")
		log.Error(err)
		return err
	}
	server := jsonrpc.NewServer(&jsonrpc.Options{
		Username:       cfg.RPCUser,
		Password:       cfg.RPCPass,
		MaxPOSTClients: cfg.RPCMaxClients,
		MaxBatch:       cfg.RPCMaxBatch,
	}, services, listeners)
	server.Start()
	defer server.Stop()

	if cfg.MetricsListen != "" {
		lis, err := net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			log.Errorf("Unable to listen for metrics: %v", err)
			return err
		}
		exporter := metrics.NewServer(m, lis)
		exporter.Start()
		defer exporter.Stop()
	}

	if cfg.MonitorInterval > 0 && len(registers) > 0 {
		addrs := make([]string, 0, len(registers))
		for _, r := range registers {
			addrs = append(addrs, r.Address)
		}
		mon := monitor.New(monitor.Config{
			Addresses: addrs,
			API:       api,
			Ticker:    ticker.New(cfg.MonitorInterval),
			LowFunds:  cfg.LowFundsWarn.Amount,
			Observe:   m.SetCashRegister,
		})
		if err := mon.Start(); err != nil {
			return err
		}
		defer mon.Stop()
	}

	<-ctx.Done()
	return nil
}

// makeListeners splits the normalized listen addresses into IPv4 and IPv6
// and listens on each. Addresses that fail are logged and skipped.
func makeListeners(normalizedListenAddrs []string) []net.Listener {
	ipv4Addrs := make([]string, 0, len(normalizedListenAddrs)*2)
	ipv6Addrs := make([]string, 0, len(normalizedListenAddrs)*2)
	for _, addr := range normalizedListenAddrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			// Shouldn't happen due to already being normalized.
			log.Errorf("`%s` is not a normalized "+
				"listener address", addr)
			continue
		}

		// Empty host or host of * on plan9 is both IPv4 and IPv6.
		if host == "" || host == "*" {
			ipv4Addrs = append(ipv4Addrs, addr)
			ipv6Addrs = append(ipv6Addrs, addr)
			continue
		}

		// Remove the IPv6 zone from the host, if present.  The zone
		// prevents ParseIP from correctly parsing the IP address.
		// ResolveIPAddr is intentionally not used here due to the
		// possibility of leaking a DNS query over Tor if the host is a
		// hostname and not an IP address.
		zoneIndex := len(host)
		for i := range host {
			if host[i] == '%' {
				zoneIndex = i
				break
			}
		}

		ip := net.ParseIP(host[:zoneIndex])
		switch {
		case ip == nil:
			log.Warnf("`%s` is not a valid IP address", host)
		case ip.To4() == nil:
			ipv6Addrs = append(ipv6Addrs, addr)
		default:
			ipv4Addrs = append(ipv4Addrs, addr)
		}
	}

	listeners := make([]net.Listener, 0, len(ipv6Addrs)+len(ipv4Addrs))
	listen := func(network string, addrs []string) {
		for _, addr := range addrs {
			listener, err := net.Listen(network, addr)
			if err != nil {
				log.Warnf("Can't listen on %s: %v", addr, err)
				continue
			}
			listeners = append(listeners, listener)
		}
	}
	listen("tcp4", ipv4Addrs)
	listen("tcp6", ipv6Addrs)

	return listeners
}

// pickNoun returns the singular or plural form of a noun depending
// on the count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

