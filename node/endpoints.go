package node

import (
	"context"
	"net"
	"time"

	"github.com/SipengXie/safecore/core"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/node/nodecfg"
	"github.com/SipengXie/safecore/safe"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/ledgerwatch/log/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slices"
)

const shutdownTimeout = 5 * time.Second

// CheckTimeouts ensures that timeout values are meaningful
func CheckTimeouts(timeouts *nodecfg.HTTPConfig, logger log.Logger) {
	if timeouts.ReadTimeout < time.Second {
		logger.Warn("Sanitizing invalid HTTP read timeout", "provided", timeouts.ReadTimeout, "updated", nodecfg.DefaultHTTPConfig.ReadTimeout)
		timeouts.ReadTimeout = nodecfg.DefaultHTTPConfig.ReadTimeout
	}
	if timeouts.WriteTimeout < time.Second {
		logger.Warn("Sanitizing invalid HTTP write timeout", "provided", timeouts.WriteTimeout, "updated", nodecfg.DefaultHTTPConfig.WriteTimeout)
		timeouts.WriteTimeout = nodecfg.DefaultHTTPConfig.WriteTimeout
	}
	if timeouts.IdleTimeout < time.Second {
		logger.Warn("Sanitizing invalid HTTP idle timeout", "provided", timeouts.IdleTimeout, "updated", nodecfg.DefaultHTTPConfig.IdleTimeout)
		timeouts.IdleTimeout = nodecfg.DefaultHTTPConfig.IdleTimeout
	}
}

type proposeRequest struct {
	Transaction *types.SafeTransaction `json:"transaction"`
	Signature   *types.OwnerSignature  `json:"signature"`
}

type pendingView struct {
	SafeTxHash  common.Hash            `json:"safeTxHash"`
	Nonce       uint64                 `json:"nonce"`
	Status      string                 `json:"status"`
	Threshold   uint64                 `json:"threshold"`
	Signers     []common.Address       `json:"signers"`
	Transaction *types.SafeTransaction `json:"transaction"`
}

func viewOf(set *core.SignatureSet) *pendingView {
	sigs := set.Signatures()
	signers := make([]common.Address, len(sigs))
	for i, sig := range sigs {
		signers[i] = sig.Signer
	}
	return &pendingView{
		SafeTxHash:  set.Hash(),
		Nonce:       set.Transaction().Nonce(),
		Status:      set.Status().String(),
		Threshold:   set.Threshold(),
		Signers:     signers,
		Transaction: set.Transaction(),
	}
}

type executeResponse struct {
	SafeTxHash common.Hash `json:"safeTxHash"`
	TxID       common.Hash `json:"txId"`
	Block      uint64      `json:"blockNumber"`
}

// API is the HTTP endpoint through which owners hand in transactions and
// signatures collected elsewhere.
type API struct {
	node   *Node
	config nodecfg.HTTPConfig
	app    *fiber.App
	logger log.Logger
}

func NewAPI(n *Node) *API {
	logger := n.logger.New("service", "api")
	config := n.config.HTTP
	CheckTimeouts(&config, logger)
	a := &API{
		node:   n,
		config: config,
		logger: logger,
		app: fiber.New(fiber.Config{
			AppName:               n.config.Name,
			ReadTimeout:           config.ReadTimeout,
			WriteTimeout:          config.WriteTimeout,
			IdleTimeout:           config.IdleTimeout,
			DisableStartupMessage: true,
		}),
	}
	a.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	a.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	g := a.app.Group("/safes/:safe")
	g.Get("/transactions", a.listPending)
	g.Post("/transactions", a.propose)
	g.Post("/execute", a.execute)
	return a
}

// Start starts the HTTP listener.
func (a *API) Start() error {
	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := a.app.Listener(ln); err != nil {
			a.logger.Warn("Failed to serve http endpoint", "err", err)
		}
	}()
	a.logger.Info("HTTP endpoint opened", "url", ln.Addr().String())
	return nil
}

func (a *API) Stop() error {
	return a.app.ShutdownWithTimeout(shutdownTimeout)
}

func (a *API) safe(c *fiber.Ctx) (*safe.Safe, error) {
	addr, err := core.ParseAddress(c.Params("safe"))
	if err != nil {
		return nil, err
	}
	return a.node.Safe(addr)
}

func (a *API) listPending(c *fiber.Ctx) error {
	s, err := a.safe(c)
	if err != nil {
		return a.fail(c, err)
	}
	views := []*pendingView{}
	a.node.pool.Range(func(_ common.Hash, set *core.SignatureSet) bool {
		if set.Safe() == s.Address() {
			views = append(views, viewOf(set))
		}
		return true
	})
	slices.SortFunc(views, func(x, y *pendingView) int {
		switch {
		case x.Nonce < y.Nonce:
			return -1
		case x.Nonce > y.Nonce:
			return 1
		default:
			return x.SafeTxHash.Cmp(y.SafeTxHash)
		}
	})
	return c.JSON(views)
}

// propose adds an owner signature to a transaction, tracking it on the
// first one. Transactions without a valid owner signature are not tracked.
func (a *API) propose(c *fiber.Ctx) error {
	s, err := a.safe(c)
	if err != nil {
		return a.fail(c, err)
	}
	var req proposeRequest
	if err := c.BodyParser(&req); err != nil {
		return a.fail(c, errors.Wrap(types.ErrInvalidTransaction, err.Error()))
	}
	if req.Transaction == nil {
		return a.fail(c, errors.Wrap(types.ErrInvalidTransaction, "missing transaction"))
	}
	if req.Signature == nil {
		return a.fail(c, errors.Wrap(core.ErrInvalidSignature, "missing signature"))
	}
	set, err := s.AddSignature(c.UserContext(), req.Transaction, req.Signature)
	if err != nil {
		return a.fail(c, err)
	}
	return c.JSON(viewOf(set))
}

func (a *API) execute(c *fiber.Ctx) error {
	s, err := a.safe(c)
	if err != nil {
		return a.fail(c, err)
	}
	var req proposeRequest
	if err := c.BodyParser(&req); err != nil || req.Transaction == nil {
		return a.fail(c, errors.Wrap(types.ErrInvalidTransaction, "missing transaction"))
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), a.node.config.Executor.ReceiptTimeout+a.config.WriteTimeout)
	defer cancel()
	res, err := s.Execute(ctx, req.Transaction)
	if err != nil {
		return a.fail(c, err)
	}
	resp := executeResponse{SafeTxHash: res.SafeTxHash, TxID: res.TxID}
	if res.Receipt.BlockNumber != nil {
		resp.Block = res.Receipt.BlockNumber.Uint64()
	}
	return c.JSON(resp)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrUnknownSafe):
		return fiber.StatusNotFound
	case errors.Is(err, core.ErrSubmissionFailed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, core.ErrStaleNonce), errors.Is(err, core.ErrHashMismatch):
		return fiber.StatusConflict
	case errors.Is(err, core.ErrExecutionReverted):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNotAnOwner),
		errors.Is(err, core.ErrInvalidSignature),
		errors.Is(err, core.ErrInsufficientSignatures),
		errors.Is(err, core.ErrInvalidAddress),
		errors.Is(err, core.ErrUnsupportedFeature),
		errors.Is(err, types.ErrInvalidTransaction):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func (a *API) fail(c *fiber.Ctx, err error) error {
	status := statusOf(err)
	if status == fiber.StatusInternalServerError {
		a.logger.Error("Request failed", "path", c.Path(), "err", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
