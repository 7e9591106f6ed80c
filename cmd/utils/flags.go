package utils

import (
	"github.com/urfave/cli/v2"
)

const envPrefix = "SAFECORE_"

func envVar(name string) []string { return []string{envPrefix + name} }

var (
	// General settings
	DataDirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Data directory of the pending signature store",
		EnvVars: envVar("DATADIR"),
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "Log level (trace, debug, info, warn, error, crit)",
		Value:   "info",
		EnvVars: envVar("LOG_LEVEL"),
	}

	// Ledger
	RPCURLFlag = &cli.StringFlag{
		Name:    "rpc",
		Usage:   "JSON-RPC endpoint of the chain holding the wallets",
		EnvVars: envVar("RPC_URL"),
	}
	SafesFlag = &cli.StringSliceFlag{
		Name:    "safe",
		Usage:   "Wallet address to serve, may be repeated",
		EnvVars: envVar("SAFES"),
	}
	HTTPAddrFlag = &cli.StringFlag{
		Name:    "http.addr",
		Usage:   "Listen address of the signature intake API, empty to disable",
		EnvVars: envVar("HTTP_ADDR"),
	}

	// Offline hashing
	VersionFlag = &cli.StringFlag{
		Name:  "contract-version",
		Usage: "Wallet contract version",
		Value: "1.3.0",
	}
	ChainIDFlag = &cli.Uint64Flag{
		Name:  "chain-id",
		Usage: "Chain id of the wallet",
		Value: 1,
	}
	ToFlag = &cli.StringFlag{
		Name:  "to",
		Usage: "Call target",
	}
	ValueFlag = &cli.StringFlag{
		Name:  "value",
		Usage: "Value in wei",
		Value: "0",
	}
	DataFlag = &cli.StringFlag{
		Name:  "data",
		Usage: "Hex call data",
	}
	DelegateCallFlag = &cli.BoolFlag{
		Name:  "delegatecall",
		Usage: "Use DelegateCall instead of Call",
	}
	NonceFlag = &cli.Uint64Flag{
		Name:  "nonce",
		Usage: "Wallet nonce",
	}
	SafeTxGasFlag = &cli.StringFlag{
		Name:  "safe-tx-gas",
		Usage: "Gas of the inner call",
		Value: "0",
	}
	MessageFlag = &cli.StringFlag{
		Name:  "message",
		Usage: "Hash a SafeMessage instead of a transaction",
	}
)
