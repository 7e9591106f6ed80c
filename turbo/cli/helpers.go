package cli

import (
	"github.com/SipengXie/safecore/cmd/utils"
	"github.com/SipengXie/safecore/core"
	"github.com/SipengXie/safecore/node/nodecfg"
	"github.com/go-faster/errors"
	"github.com/ledgerwatch/log/v3"
	"github.com/urfave/cli/v2"
)

const VERSION = "0.1.0"

const EnvPrefix = "SAFECORE_"

// DefaultFlags are the flags of the relay command.
var DefaultFlags = []cli.Flag{
	utils.DataDirFlag,
	utils.LogLevelFlag,
	utils.RPCURLFlag,
	utils.SafesFlag,
	utils.HTTPAddrFlag,
}

// NewApp creates an app with sane defaults.
func NewApp() *cli.App {
	app := cli.NewApp()
	app.Version = VERSION
	return app
}

// SetupLogger sets the root handler to stderr filtered at level.
func SetupLogger(level string) (log.Logger, error) {
	lvl, err := log.LvlFromString(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StderrHandler))
	return log.Root(), nil
}

// NodeConfig loads the node configuration from the environment and
// overrides it with the flags set on the command line.
func NodeConfig(cliCtx *cli.Context) (*nodecfg.Config, error) {
	cfg, err := nodecfg.Load(EnvPrefix)
	if err != nil {
		return nil, err
	}
	if cliCtx.IsSet(utils.DataDirFlag.Name) {
		cfg.Store.Dir = cliCtx.String(utils.DataDirFlag.Name)
	}
	if cliCtx.IsSet(utils.LogLevelFlag.Name) {
		cfg.LogLevel = cliCtx.String(utils.LogLevelFlag.Name)
	}
	if cliCtx.IsSet(utils.RPCURLFlag.Name) {
		cfg.RPC.URL = cliCtx.String(utils.RPCURLFlag.Name)
	}
	if cliCtx.IsSet(utils.HTTPAddrFlag.Name) {
		cfg.HTTP.Addr = cliCtx.String(utils.HTTPAddrFlag.Name)
	}
	if cliCtx.IsSet(utils.SafesFlag.Name) {
		cfg.Safes = nil
		for _, s := range cliCtx.StringSlice(utils.SafesFlag.Name) {
			addr, err := core.ParseAddress(s)
			if err != nil {
				return nil, err
			}
			cfg.Safes = append(cfg.Safes, addr)
		}
	}
	return cfg, nil
}
