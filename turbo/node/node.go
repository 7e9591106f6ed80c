package node

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/SipengXie/safecore/ledger/ethrpc"
	"github.com/SipengXie/safecore/node"
	"github.com/SipengXie/safecore/node/nodecfg"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-faster/errors"
	"github.com/ledgerwatch/log/v3"
)

// SafecoreNode is the relay process: a node serving the configured wallets
// over an RPC ledger.
type SafecoreNode struct {
	stack  *node.Node
	logger log.Logger
}

// Serve runs the node until SIGINT or SIGTERM.
func (n *SafecoreNode) Serve() error {
	if err := n.stack.Start(); err != nil {
		return err
	}
	go n.listenSignals()
	n.stack.Wait()
	return nil
}

func (n *SafecoreNode) listenSignals() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc
	n.logger.Info("Got interrupt, shutting down...")
	if err := n.stack.Close(); err != nil {
		n.logger.Warn("Failed to close node", "err", err)
	}
}

func (n *SafecoreNode) Close() error {
	return n.stack.Close()
}

// New dials the ledger and builds the node. Without a submitter key the
// ledger is read-only and executions fail at submission.
func New(ctx context.Context, config *nodecfg.Config, logger log.Logger) (*SafecoreNode, error) {
	if config.RPC.URL == "" {
		return nil, errors.New("no rpc url configured")
	}
	client, err := ethclient.DialContext(ctx, config.RPC.URL)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", config.RPC.URL)
	}
	var opts *bind.TransactOpts
	if config.SubmitterKey != "" {
		key, err := crypto.HexToECDSA(config.SubmitterKey)
		if err != nil {
			return nil, errors.Wrap(err, "submitter key")
		}
		chainID, err := client.ChainID(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "chain id")
		}
		if opts, err = bind.NewKeyedTransactorWithChainID(key, chainID); err != nil {
			return nil, err
		}
		logger.Info("Submitting as", "account", opts.From, "chainId", chainID)
	} else {
		logger.Warn("No submitter key configured, executions will not be sent")
	}

	stack, err := node.New(config, ethrpc.New(client, config.RPC, opts, logger), logger)
	if err != nil {
		return nil, err
	}
	stack.RegisterLifecycle(node.NewRelay(stack))
	if config.HTTP.Addr != "" {
		stack.RegisterLifecycle(node.NewAPI(stack))
	}
	return &SafecoreNode{stack: stack, logger: logger}, nil
}
