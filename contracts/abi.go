package contracts

import (
	"math/big"
	"strings"

	"github.com/SipengXie/safecore/core/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/go-faster/errors"
)

// safeABIString covers the wallet methods and events used by the engine.
// The signatures are identical from 1.0.0 to 1.3.0 for everything listed.
const safeABIString = `[
	{"inputs":[],"name":"VERSION","outputs":[{"type":"string","name":""}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"nonce","outputs":[{"type":"uint256","name":""}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getThreshold","outputs":[{"type":"uint256","name":""}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getOwners","outputs":[{"type":"address[]","name":""}],"stateMutability":"view","type":"function"},
	{"inputs":[{"type":"address","name":"owner"}],"name":"isOwner","outputs":[{"type":"bool","name":""}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getModules","outputs":[{"type":"address[]","name":""}],"stateMutability":"view","type":"function"},
	{"inputs":[{"type":"address","name":"start"},{"type":"uint256","name":"pageSize"}],"name":"getModulesPaginated",
	 "outputs":[{"type":"address[]","name":"array"},{"type":"address","name":"next"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"type":"address","name":""},{"type":"bytes32","name":""}],"name":"approvedHashes","outputs":[{"type":"uint256","name":""}],"stateMutability":"view","type":"function"},
	{"inputs":[{"type":"bytes32","name":"hashToApprove"}],"name":"approveHash","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[
		{"type":"address","name":"to"},
		{"type":"uint256","name":"value"},
		{"type":"bytes","name":"data"},
		{"type":"uint8","name":"operation"},
		{"type":"uint256","name":"safeTxGas"},
		{"type":"uint256","name":"baseGas"},
		{"type":"uint256","name":"gasPrice"},
		{"type":"address","name":"gasToken"},
		{"type":"address","name":"refundReceiver"},
		{"type":"bytes","name":"signatures"}
	 ],"name":"execTransaction","outputs":[{"type":"bool","name":"success"}],"stateMutability":"payable","type":"function"},
	{"inputs":[{"type":"address","name":"guard"}],"name":"setGuard","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"type":"address","name":"module"}],"name":"enableModule","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"type":"address","name":"prevModule"},{"type":"address","name":"module"}],"name":"disableModule","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"type":"address","name":"handler"}],"name":"setFallbackHandler","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"type":"address","name":"owner"},{"type":"uint256","name":"_threshold"}],"name":"addOwnerWithThreshold","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"type":"address","name":"prevOwner"},{"type":"address","name":"owner"},{"type":"uint256","name":"_threshold"}],"name":"removeOwner","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"type":"address","name":"prevOwner"},{"type":"address","name":"oldOwner"},{"type":"address","name":"newOwner"}],"name":"swapOwner","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"type":"uint256","name":"_threshold"}],"name":"changeThreshold","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":false,"type":"bytes32","name":"txHash"},{"indexed":false,"type":"uint256","name":"payment"}],"name":"ExecutionSuccess","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":false,"type":"bytes32","name":"txHash"},{"indexed":false,"type":"uint256","name":"payment"}],"name":"ExecutionFailure","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"type":"bytes32","name":"approvedHash"},{"indexed":true,"type":"address","name":"owner"}],"name":"ApproveHash","type":"event"}
]`

const multiSendABIString = `[
	{"inputs":[{"type":"bytes","name":"transactions"}],"name":"multiSend","outputs":[],"stateMutability":"payable","type":"function"}
]`

var (
	SafeABI      = mustParseABI(safeABIString)
	MultiSendABI = mustParseABI(multiSendABIString)

	ExecutionSuccessTopic = SafeABI.Events["ExecutionSuccess"].ID
	ExecutionFailureTopic = SafeABI.Events["ExecutionFailure"].ID
	ApproveHashTopic      = SafeABI.Events["ApproveHash"].ID
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// PackExecTransaction builds the execTransaction call data for tx with the
// serialized signature blob.
func PackExecTransaction(tx *types.SafeTransaction, signatures []byte) ([]byte, error) {
	return SafeABI.Pack("execTransaction",
		tx.To(),
		tx.Value(),
		tx.Data(),
		uint8(tx.Operation()),
		tx.SafeTxGas(),
		tx.BaseGas(),
		tx.GasPrice(),
		tx.GasToken(),
		tx.RefundReceiver(),
		signatures,
	)
}

// ExecTransactionArgs is the decoded argument list of an execTransaction call.
type ExecTransactionArgs struct {
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      uint8
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Signatures     []byte
}

// UnpackExecTransaction is the inverse of PackExecTransaction.
func UnpackExecTransaction(callData []byte) (*ExecTransactionArgs, error) {
	method, err := methodOf(callData)
	if err != nil {
		return nil, err
	}
	if method.Name != "execTransaction" {
		return nil, errors.Errorf("not an execTransaction call: %s", method.Name)
	}
	var args ExecTransactionArgs
	values, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return nil, errors.Wrap(err, "unpack execTransaction")
	}
	if err := method.Inputs.Copy(&args, values); err != nil {
		return nil, errors.Wrap(err, "copy execTransaction args")
	}
	return &args, nil
}

// DecodeCall resolves the wallet method of callData and its arguments.
func DecodeCall(callData []byte) (*abi.Method, []interface{}, error) {
	method, err := methodOf(callData)
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return nil, nil, errors.Wrapf(err, "unpack %s", method.Name)
	}
	return method, args, nil
}

func methodOf(callData []byte) (*abi.Method, error) {
	if len(callData) < 4 {
		return nil, errors.New("call data too short")
	}
	method, err := SafeABI.MethodById(callData[:4])
	if err != nil {
		return nil, errors.Wrap(err, "unknown selector")
	}
	return method, nil
}

func PackSetGuard(guard common.Address) ([]byte, error) {
	return SafeABI.Pack("setGuard", guard)
}

func PackEnableModule(module common.Address) ([]byte, error) {
	return SafeABI.Pack("enableModule", module)
}

func PackDisableModule(prev, module common.Address) ([]byte, error) {
	return SafeABI.Pack("disableModule", prev, module)
}

func PackSetFallbackHandler(handler common.Address) ([]byte, error) {
	return SafeABI.Pack("setFallbackHandler", handler)
}

func PackAddOwnerWithThreshold(owner common.Address, threshold uint64) ([]byte, error) {
	return SafeABI.Pack("addOwnerWithThreshold", owner, new(big.Int).SetUint64(threshold))
}

func PackRemoveOwner(prev, owner common.Address, threshold uint64) ([]byte, error) {
	return SafeABI.Pack("removeOwner", prev, owner, new(big.Int).SetUint64(threshold))
}

func PackSwapOwner(prev, oldOwner, newOwner common.Address) ([]byte, error) {
	return SafeABI.Pack("swapOwner", prev, oldOwner, newOwner)
}

func PackChangeThreshold(threshold uint64) ([]byte, error) {
	return SafeABI.Pack("changeThreshold", new(big.Int).SetUint64(threshold))
}

func PackApproveHash(hash common.Hash) ([]byte, error) {
	return SafeABI.Pack("approveHash", hash)
}

func PackApprovedHashes(owner common.Address, hash common.Hash) ([]byte, error) {
	return SafeABI.Pack("approvedHashes", owner, hash)
}

// PackGetter packs a no-argument view call such as "nonce" or "getOwners".
func PackGetter(name string) ([]byte, error) {
	return SafeABI.Pack(name)
}

// UnpackUint256 decodes the single uint256 result of a view call.
func UnpackUint256(name string, output []byte) (*big.Int, error) {
	values, err := SafeABI.Unpack(name, output)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", name)
	}
	if len(values) != 1 {
		return nil, errors.Errorf("%s: unexpected result count %d", name, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("%s: unexpected result type %T", name, values[0])
	}
	return v, nil
}

// UnpackAddresses decodes the address[] result of getOwners / getModules.
func UnpackAddresses(name string, output []byte) ([]common.Address, error) {
	values, err := SafeABI.Unpack(name, output)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", name)
	}
	if len(values) == 0 {
		return nil, errors.Errorf("%s: empty result", name)
	}
	addrs, ok := values[0].([]common.Address)
	if !ok {
		return nil, errors.Errorf("%s: unexpected result type %T", name, values[0])
	}
	return addrs, nil
}

// UnpackString decodes the string result of VERSION.
func UnpackString(name string, output []byte) (string, error) {
	values, err := SafeABI.Unpack(name, output)
	if err != nil {
		return "", errors.Wrapf(err, "unpack %s", name)
	}
	if len(values) != 1 {
		return "", errors.Errorf("%s: unexpected result count %d", name, len(values))
	}
	s, ok := values[0].(string)
	if !ok {
		return "", errors.Errorf("%s: unexpected result type %T", name, values[0])
	}
	return s, nil
}

// ExecutionFailed reports whether logs carry an ExecutionFailure event of
// the given wallet.
func ExecutionFailed(safe common.Address, logs []*gethtypes.Log) bool {
	for _, l := range logs {
		if l.Address == safe && len(l.Topics) > 0 && l.Topics[0] == ExecutionFailureTopic {
			return true
		}
	}
	return false
}
