package node

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/SipengXie/safecore/core"
	"github.com/SipengXie/safecore/node/nodecfg"
	"github.com/SipengXie/safecore/safe"
	"github.com/SipengXie/safecore/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
	"github.com/ledgerwatch/log/v3"
	"go.uber.org/multierr"
)

const (
	initializingState = iota
	runningState
	closedState
)

// Node is a container on which services can be registered. It owns the
// pending store and the signature pool shared by every served wallet.
type Node struct {
	config        *nodecfg.Config
	logger        log.Logger
	stop          chan struct{} // Channel to wait for termination notifications
	startStopLock sync.Mutex    // Node的附加锁，用于保护Node启动与关闭
	state         int           // Tracks state of node lifecycle

	lock       sync.Mutex
	lifecycles []Lifecycle // All registered services that have a lifecycle

	ledger  core.Ledger
	pending *store.FileStore // nil without a data directory
	pool    *core.SignaturePool
	safes   map[common.Address]*safe.Safe
}

// New 新建节点，打开数据目录并为每个钱包创建 Safe
func New(conf *nodecfg.Config, ledger core.Ledger, logger log.Logger) (*Node, error) {
	if logger == nil {
		logger = log.Root()
	}
	// 准备配置文件
	confCopy := *conf
	conf = &confCopy

	if strings.ContainsAny(conf.Name, `/\`) {
		return nil, errors.New(`Config.Name must not contain '/' or '\'`)
	}
	if len(conf.Safes) == 0 {
		return nil, errors.New("no safes configured")
	}

	node := &Node{
		config: conf,
		logger: logger,
		stop:   make(chan struct{}),
		ledger: ledger,
		pool:   core.NewSignaturePool(logger),
		safes:  make(map[common.Address]*safe.Safe, len(conf.Safes)),
	}

	// 打开节点数据路径，store 持有目录锁
	if conf.Store.Dir != "" {
		pending, err := store.Open(conf.Store, logger)
		if err != nil {
			return nil, err
		}
		node.pending = pending
	}

	var served nodecfg.AddressList
	for _, addr := range conf.Safes {
		if _, ok := node.safes[addr]; ok {
			continue
		}
		served = append(served, addr)
		node.safes[addr] = safe.New(safe.Config{Address: addr, Executor: conf.Executor}, ledger, node.pool, node.pending, logger)
	}
	conf.Safes = served
	return node, nil
}

// Start starts all registered lifecycles. Node 只能被启动一次
func (n *Node) Start() error {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()

	n.lock.Lock()
	switch n.state {
	case runningState:
		n.lock.Unlock()
		return ErrNodeRunning
	case closedState:
		n.lock.Unlock()
		return ErrNodeStopped
	}
	n.state = runningState
	lifecycles := make([]Lifecycle, len(n.lifecycles))
	copy(lifecycles, n.lifecycles) // 拷贝节点上注册的服务
	n.lock.Unlock()

	// 启动所有已注册的服务（lifecycle）
	var started []Lifecycle //nolint:prealloc
	var err error
	for _, lifecycle := range lifecycles {
		if err = lifecycle.Start(); err != nil {
			break
		}
		started = append(started, lifecycle)
	}

	if err != nil {
		// 将已启动的服务关闭
		if stopErr := n.stopServices(started); stopErr != nil {
			n.logger.Warn("Failed to stop services of this node", "err", stopErr)
		}
		if closeErr := n.doClose(nil); closeErr != nil {
			n.logger.Warn("Failed to doClose for this node", "err", closeErr)
		}
	}
	return err
}

// Close 关闭Node并且释放资源
func (n *Node) Close() error {
	n.startStopLock.Lock()
	defer n.startStopLock.Unlock()

	n.lock.Lock()
	state := n.state
	n.lock.Unlock()
	switch state {
	case initializingState:
		// Node还没有被启动
		return n.doClose(nil)
	case runningState:
		var errs []error
		if err := n.stopServices(n.lifecycles); err != nil {
			errs = append(errs, err)
		}
		return n.doClose(errs)
	case closedState:
		return ErrNodeStopped
	default:
		panic(fmt.Sprintf("node is in unknown state %d", state))
	}
}

// doClose 释放 New() 获取的资源并收集错误。
func (n *Node) doClose(errs []error) error {
	n.lock.Lock()
	n.state = closedState
	n.pool.Close()
	if n.pending != nil {
		// 释放实例目录锁
		if err := n.pending.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.lock.Unlock()

	// Unblock n.Wait.
	close(n.stop)

	return multierr.Combine(errs...)
}

// stopServices 逆序关闭已启动的服务
func (n *Node) stopServices(running []Lifecycle) error {
	failure := &StopError{Services: make(map[reflect.Type]error)}
	for i := len(running) - 1; i >= 0; i-- {
		if err := running[i].Stop(); err != nil {
			failure.Services[reflect.TypeOf(running[i])] = err
		}
	}
	if len(failure.Services) > 0 {
		return failure
	}
	return nil
}

// containsLifecycle checks if 'lfs' contains 'l'.
func containsLifecycle(lfs []Lifecycle, l Lifecycle) bool {
	for _, obj := range lfs {
		if obj == l {
			return true
		}
	}
	return false
}

// Wait blocks until the node is closed.
func (n *Node) Wait() {
	<-n.stop
}

// RegisterLifecycle 将给定的lifecycle注册到node中
func (n *Node) RegisterLifecycle(lifecycle Lifecycle) {
	n.lock.Lock()
	defer n.lock.Unlock()

	// 仅在初始化状态阶段可注册服务
	if n.state != initializingState {
		panic("can't register lifecycle on running/stopped node")
	}
	if containsLifecycle(n.lifecycles, lifecycle) {
		panic(fmt.Sprintf("attempt to register lifecycle %T more than once", lifecycle))
	}
	n.lifecycles = append(n.lifecycles, lifecycle)
}

// Config returns the configuration of node.
func (n *Node) Config() *nodecfg.Config {
	return n.config
}

func (n *Node) Pool() *core.SignaturePool { return n.pool }

// Store returns the pending store, nil if the node runs without one.
func (n *Node) Store() *store.FileStore { return n.pending }

// Safe returns the facade of a served wallet.
func (n *Node) Safe(addr common.Address) (*safe.Safe, error) {
	s, ok := n.safes[addr]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSafe, "%s", addr)
	}
	return s, nil
}

// Safes returns the facades of all served wallets.
func (n *Node) Safes() []*safe.Safe {
	out := make([]*safe.Safe, 0, len(n.safes))
	for _, addr := range n.config.Safes {
		out = append(out, n.safes[addr])
	}
	return out
}
