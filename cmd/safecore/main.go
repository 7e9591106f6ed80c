package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/SipengXie/safecore/cmd/utils"
	"github.com/SipengXie/safecore/core"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/ledger/ethrpc"
	"github.com/SipengXie/safecore/params"
	"github.com/SipengXie/safecore/store"
	"github.com/SipengXie/safecore/turbo/app"
	safecli "github.com/SipengXie/safecore/turbo/cli"
	"github.com/SipengXie/safecore/turbo/node"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-faster/errors"
	"github.com/ledgerwatch/log/v3"
	"github.com/urfave/cli/v2"
)

func main() {
	defer func() {
		panicRes := recover()
		if panicRes == nil {
			return
		}
		log.Error("catch panic", "err", panicRes)
		os.Exit(1)
	}()
	app := app.MakeApp("safecore", runRelay, safecli.DefaultFlags,
		capabilitiesCommand, hashCommand, statusCommand, pendingCommand)
	if err := app.Run(os.Args); err != nil {
		_, printErr := fmt.Fprintln(os.Stderr, err)
		if printErr != nil {
			log.Warn("Fprintln error", "err", printErr)
		}
		os.Exit(1)
	}
}

func runRelay(cliCtx *cli.Context) error {
	config, err := safecli.NodeConfig(cliCtx)
	if err != nil {
		return err
	}
	logger, err := safecli.SetupLogger(config.LogLevel)
	if err != nil {
		return err
	}

	// 获取节点（包括node和ledger）
	safeNode, err := node.New(cliCtx.Context, config, logger)
	if err != nil {
		log.Error("Safecore startup", "err", err)
		return err
	}

	// 启动节点服务
	err = safeNode.Serve()
	if err != nil {
		log.Error("error while serving a safecore node", "err", err)
	}
	return err
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Println(string(out))
	return err
}

var capabilitiesCommand = &cli.Command{
	Name:  "capabilities",
	Usage: "Print the feature table of the supported contract versions",
	Action: func(cliCtx *cli.Context) error {
		table := make([]*params.Capabilities, 0)
		for _, version := range params.KnownVersions() {
			caps, err := params.Lookup(version)
			if err != nil {
				return err
			}
			table = append(table, caps)
		}
		return printJSON(table)
	},
}

func parseBig(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, errors.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

func singleSafe(cliCtx *cli.Context) (common.Address, error) {
	safes := cliCtx.StringSlice(utils.SafesFlag.Name)
	if len(safes) != 1 {
		return common.Address{}, errors.New("exactly one --safe is required")
	}
	return core.ParseAddress(safes[0])
}

var hashCommand = &cli.Command{
	Name:  "hash",
	Usage: "Compute the safeTxHash (or SafeMessage hash) offline",
	Flags: []cli.Flag{
		utils.SafesFlag, utils.VersionFlag, utils.ChainIDFlag,
		utils.ToFlag, utils.ValueFlag, utils.DataFlag, utils.DelegateCallFlag,
		utils.NonceFlag, utils.SafeTxGasFlag, utils.MessageFlag,
	},
	Action: func(cliCtx *cli.Context) error {
		safe, err := singleSafe(cliCtx)
		if err != nil {
			return err
		}
		caps, err := params.Lookup(cliCtx.String(utils.VersionFlag.Name))
		if err != nil {
			return err
		}
		chainID := new(big.Int).SetUint64(cliCtx.Uint64(utils.ChainIDFlag.Name))

		if cliCtx.IsSet(utils.MessageFlag.Name) {
			hash := types.SafeMessageHash(caps, safe, chainID, []byte(cliCtx.String(utils.MessageFlag.Name)))
			return printJSON(map[string]interface{}{"safeMessageHash": hash})
		}

		to, err := core.ParseAddress(cliCtx.String(utils.ToFlag.Name))
		if err != nil {
			return err
		}
		value, err := parseBig("value", cliCtx.String(utils.ValueFlag.Name))
		if err != nil {
			return err
		}
		safeTxGas, err := parseBig("safe-tx-gas", cliCtx.String(utils.SafeTxGasFlag.Name))
		if err != nil {
			return err
		}
		var data []byte
		if s := cliCtx.String(utils.DataFlag.Name); s != "" {
			if data, err = hexutil.Decode(s); err != nil {
				return errors.Wrap(err, "data")
			}
		}
		op := types.Call
		if cliCtx.Bool(utils.DelegateCallFlag.Name) {
			op = types.DelegateCall
		}
		tx, err := types.NewSafeTransaction(&types.SafeTransactionData{
			To:        to,
			Value:     value,
			Data:      data,
			Operation: op,
			SafeTxGas: safeTxGas,
			Nonce:     cliCtx.Uint64(utils.NonceFlag.Name),
		})
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"transaction": tx,
			"safeTxHash":  types.SafeTxHash(caps, tx, safe, chainID),
			"preimage":    hexutil.Bytes(types.EncodeTransactionData(caps, tx, safe, chainID)),
		})
	},
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "Read the current state of a wallet",
	Flags: []cli.Flag{utils.RPCURLFlag, utils.SafesFlag},
	Action: func(cliCtx *cli.Context) error {
		safe, err := singleSafe(cliCtx)
		if err != nil {
			return err
		}
		config := ethrpc.DefaultConfig
		config.URL = cliCtx.String(utils.RPCURLFlag.Name)
		ledger, err := ethrpc.Dial(cliCtx.Context, config, nil, log.Root())
		if err != nil {
			return err
		}
		wallet, err := ledger.ReadWalletState(cliCtx.Context, safe)
		if err != nil {
			return err
		}
		caps, err := params.Lookup(wallet.Version)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"wallet": wallet, "capabilities": caps})
	},
}

var pendingCommand = &cli.Command{
	Name:  "pending",
	Usage: "List the transactions of the pending store",
	Flags: []cli.Flag{utils.DataDirFlag},
	Action: func(cliCtx *cli.Context) error {
		config := store.DefaultConfig
		config.Dir = cliCtx.String(utils.DataDirFlag.Name)
		pending, err := store.Open(config, log.Root())
		if err != nil {
			return err
		}
		defer pending.Close()
		records, err := pending.List()
		if err != nil {
			return err
		}
		return printJSON(records)
	},
}
