// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog"
	"github.com/coinroster/cgsd/blockcypher"
	"github.com/coinroster/cgsd/gateway"
	"github.com/coinroster/cgsd/internal/cfgutil"
	"github.com/coinroster/cgsd/monitor"
	"github.com/coinroster/cgsd/netparams"
	"github.com/coinroster/cgsd/rpc/jsonrpc"
	"github.com/coinroster/cgsd/store"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename  = "cgsd.conf"
	defaultFundingFilename = "funding.yaml"
	defaultLogLevel        = "info"
	defaultLogDirname      = "logs"
	defaultLogFilename     = "cgsd.log"
	defaultDBFilename      = "cgsd.db"
	defaultRPCMaxClients   = 10
	defaultMinerFee        = btcutil.Amount(gateway.DefaultMinerFee)
)

var (
	cgsdHomeDir        = btcutil.AppDataDir("cgsd", false)
	defaultConfigFile  = filepath.Join(cgsdHomeDir, defaultConfigFilename)
	defaultDataDir     = cgsdHomeDir
	defaultLogDir      = filepath.Join(cgsdHomeDir, defaultLogDirname)
	defaultFundingFile = filepath.Join(cgsdHomeDir, defaultFundingFilename)
)

type config struct {
	// General application behavior
	ConfigFile  *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool                    `short:"V" long:"version" description:"Display version information and exit"`
	TestNet3    bool                    `long:"testnet" description:"Use the test Bitcoin network (version 3) (default mainnet)"`
	DataDir     *cfgutil.ExplicitString `short:"A" long:"datadir" description:"Directory for the SQLite database and default funding file"`
	LogDir      string                  `long:"logdir" description:"Directory to log output."`
	DebugLevel  string                  `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	// RPC server options
	RPCListeners  []string `long:"rpclisten" description:"Listen for JSON-RPC connections on this interface/port (default port: 8090, testnet: 18090)"`
	RPCUser       string   `short:"u" long:"rpcuser" description:"Username for JSON-RPC basic authentication"`
	RPCPass       string   `short:"P" long:"rpcpass" default-mask:"-" description:"Password for JSON-RPC basic authentication"`
	RPCMaxClients int64    `long:"rpcmaxclients" description:"Max number of concurrent JSON-RPC requests"`
	RPCMaxBatch   int      `long:"rpcmaxbatch" description:"Max number of calls in one JSON-RPC batch"`

	// Database options
	DBDriver  string        `long:"dbdriver" description:"Database backend {postgres, sqlite}"`
	DBDSN     string        `long:"dbdsn" default-mask:"-" description:"Database connection string (default for sqlite: <datadir>/<network>/cgsd.db)"`
	DBTimeout time.Duration `long:"dbtimeout" description:"Timeout of a single database operation"`

	// Upstream API options
	APIURL     string        `long:"apiurl" description:"Base URL of the block explorer API"`
	APIToken   string        `long:"apitoken" default-mask:"-" description:"Block explorer API token"`
	APITimeout time.Duration `long:"apitimeout" description:"Timeout of a single block explorer request"`
	APIRetries int           `long:"apiretries" description:"Retries of idempotent block explorer requests"`
	APIRate    float64       `long:"apirate" description:"Max block explorer requests per second, 0 for no limit"`

	// Gateway options
	BalanceCheckInterval time.Duration       `long:"balancecheckinterval" description:"Minimum time between two live balance checks of one account"`
	MinerFee             *cfgutil.AmountFlag `long:"minerfee" description:"Miner fee used when none is configured in the control table"`
	FundingFile          string              `long:"fundingfile" description:"YAML file listing the cash registers and cold storage addresses"`
	HDXPrv               string              `long:"hdxprv" default-mask:"-" description:"Extended private key to derive deposit addresses from instead of the block explorer"`
	RedisAddr            string              `long:"redisaddr" description:"Redis server used to serialize withdrawals across gateway processes"`
	RedisPass            string              `long:"redispass" default-mask:"-" description:"Redis password"`
	RedisDB              int                 `long:"redisdb" description:"Redis database number"`

	// Monitoring options
	LowFundsWarn    *cfgutil.AmountFlag `long:"lowfundswarn" description:"Warn when a cash register balance falls below this amount, 0 to disable"`
	MonitorInterval time.Duration       `long:"monitorinterval" description:"Time between two checks of the cash registers, 0 to disable"`
	MetricsListen   string              `long:"metricslisten" description:"Serve Prometheus metrics on this interface/port"`
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Do not try to clean the empty string
	if path == "" {
		return ""
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but they variables can still be expanded via POSIX-style
	// $VARIABLE.
	path = os.ExpandEnv(path)

	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser
	// to otheruser's home directory.  On Windows, both forward and backward
	// slashes can be used.
	path = path[1:]

	var pathSeparators string
	if os.PathSeparator == '/' {
		pathSeparators = "/"
	} else {
		pathSeparators = string(os.PathSeparator) + "/"
	}

	userName := ""
	if i := strings.IndexAny(path, pathSeparators); i != -1 {
		userName = path[:i]
		path = path[i:]
	}

	homeDir := ""
	var u *user.User
	var err error
	if userName == "" {
		u, err = user.Current()
	} else {
		u, err = user.Lookup(userName)
	}
	if err == nil {
		homeDir = u.HomeDir
	}
	// Fallback to CWD if user lookup fails or user has no home directory.
	if homeDir == "" {
		homeDir = "."
	}

	return filepath.Join(homeDir, path)
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// defaultConfig returns a config with every default applied.
func defaultConfig() config {
	return config{
		DebugLevel:           defaultLogLevel,
		ConfigFile:           cfgutil.NewExplicitString(defaultConfigFile),
		DataDir:              cfgutil.NewExplicitString(defaultDataDir),
		LogDir:               defaultLogDir,
		RPCMaxClients:        defaultRPCMaxClients,
		RPCMaxBatch:          jsonrpc.DefaultMaxBatch,
		DBDriver:             string(store.SQLite),
		DBTimeout:            store.DefaultQueryTimeout,
		APIURL:               blockcypher.DefaultBaseURL,
		APITimeout:           blockcypher.DefaultTimeout,
		APIRetries:           blockcypher.DefaultRetries,
		BalanceCheckInterval: gateway.DefaultBalanceCheckInterval,
		MinerFee:             cfgutil.NewAmountFlag(defaultMinerFee),
		FundingFile:          defaultFundingFile,
		LowFundsWarn:         cfgutil.NewAmountFlag(0),
		MonitorInterval:      monitor.DefaultInterval,
	}
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in cgsd functioning properly without any config
// settings while still allowing the user to override settings with config files
// and command line options.  Command line options always take precedence.
func loadConfig() (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	funcName := "loadConfig"
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFilePath := preCfg.ConfigFile.Value
	if preCfg.ConfigFile.ExplicitlySet() {
		configFilePath = cleanAndExpandPath(configFilePath)
	} else {
		appDataDir := preCfg.DataDir.Value
		if appDataDir != defaultDataDir {
			configFilePath = filepath.Join(appDataDir, defaultConfigFilename)
		}
	}
	err = flags.NewIniParser(parser).ParseFile(configFilePath)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Choose the active network params based on the selected network.
	if cfg.TestNet3 {
		activeNet = &netparams.TestNet3Params
	}

	// Data and log directories are namespaced per network. Paths relative
	// to the data directory follow it when it was moved.
	cfg.DataDir.Value = cleanAndExpandPath(cfg.DataDir.Value)
	if cfg.DataDir.ExplicitlySet() {
		if cfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.DataDir.Value,
				defaultLogDirname)
		}
		if cfg.FundingFile == defaultFundingFile {
			cfg.FundingFile = filepath.Join(cfg.DataDir.Value,
				defaultFundingFilename)
		}
	}
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, activeNet.Params.Name)
	cfg.FundingFile = cleanAndExpandPath(cfg.FundingFile)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized, the
	// logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	switch store.Dialect(cfg.DBDriver) {
	case store.SQLite:
		if cfg.DBDSN == "" {
			netDir := filepath.Join(cfg.DataDir.Value,
				activeNet.Params.Name)
			if err := os.MkdirAll(netDir, 0700); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return nil, nil, err
			}
			cfg.DBDSN = filepath.Join(netDir, defaultDBFilename)
		}
	case store.Postgres:
		if cfg.DBDSN == "" {
			err := fmt.Errorf("%s: --dbdsn is required for the "+
				"postgres driver", funcName)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	default:
		err := fmt.Errorf("%s: unsupported --dbdriver %q", funcName,
			cfg.DBDriver)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if err := cfgutil.RequireFile(cfg.FundingFile, "funding file"); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.RPCMaxBatch <= 0 {
		err := fmt.Errorf("%s: --rpcmaxbatch must be positive", funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.BalanceCheckInterval < 0 || cfg.MonitorInterval < 0 {
		err := fmt.Errorf("%s: intervals may not be negative", funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if len(cfg.RPCListeners) == 0 {
		addrs, err := net.LookupHost("localhost")
		if err != nil {
			return nil, nil, err
		}
		cfg.RPCListeners = make([]string, 0, len(addrs))
		for _, addr := range addrs {
			addr = net.JoinHostPort(addr, activeNet.RPCServerPort)
			cfg.RPCListeners = append(cfg.RPCListeners, addr)
		}
	}

	// Add default port to all rpc listener addresses if needed and remove
	// duplicate addresses.
	cfg.RPCListeners, err = cfgutil.NormalizeAddresses(cfg.RPCListeners,
		activeNet.RPCServerPort)
	if err != nil {
		fmt.Fprintf(os.Stderr,
			"Invalid network address in RPC listeners: %v\n", err)
		return nil, nil, err
	}

	if cfg.MetricsListen != "" {
		cfg.MetricsListen, err = cfgutil.NormalizeAddress(
			cfg.MetricsListen, defaultMetricsPort)
		if err != nil {
			fmt.Fprintf(os.Stderr,
				"Invalid metrics listen address: %v\n", err)
			return nil, nil, err
		}
	}

	if cfg.RPCUser == "" && cfg.RPCPass == "" {
		log.Warn("JSON-RPC authentication is disabled")
	}

	return &cfg, remainingArgs, nil
}
