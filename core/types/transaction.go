package types

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-faster/errors"
)

var (
	ErrInvalidTransaction = errors.New("invalid safe transaction")
)

// Operation is the call kind the wallet performs for a transaction.
type Operation uint8

const (
	Call         Operation = 0
	DelegateCall Operation = 1
)

func (op Operation) String() string {
	switch op {
	case Call:
		return "call"
	case DelegateCall:
		return "delegatecall"
	default:
		return fmt.Sprintf("Operation(%d)", uint8(op))
	}
}

// MetaTransaction is one call requested by the application. Several of them
// are batched through the MultiSend helper.
type MetaTransaction struct {
	To        common.Address `json:"to"`
	Value     *big.Int       `json:"value"`
	Data      hexutil.Bytes  `json:"data"`
	Operation Operation      `json:"operation"`
}

// SafeTransactionData is the plain field set of a wallet transaction.
type SafeTransactionData struct {
	To             common.Address `json:"to"`
	Value          *big.Int       `json:"value"`
	Data           hexutil.Bytes  `json:"data"`
	Operation      Operation      `json:"operation"`
	SafeTxGas      *big.Int       `json:"safeTxGas"`
	BaseGas        *big.Int       `json:"baseGas"`
	GasPrice       *big.Int       `json:"gasPrice"`
	GasToken       common.Address `json:"gasToken"`
	RefundReceiver common.Address `json:"refundReceiver"`
	Nonce          uint64         `json:"nonce"`
}

// copy creates a deep copy of the transaction data and initializes all fields.
func (d *SafeTransactionData) copy() *SafeTransactionData {
	cpy := &SafeTransactionData{
		To:             d.To,
		Data:           common.CopyBytes(d.Data),
		Operation:      d.Operation,
		GasToken:       d.GasToken,
		RefundReceiver: d.RefundReceiver,
		Nonce:          d.Nonce,

		// These are copied below.
		Value:     new(big.Int),
		SafeTxGas: new(big.Int),
		BaseGas:   new(big.Int),
		GasPrice:  new(big.Int),
	}
	if d.Value != nil {
		cpy.Value.Set(d.Value)
	}
	if d.SafeTxGas != nil {
		cpy.SafeTxGas.Set(d.SafeTxGas)
	}
	if d.BaseGas != nil {
		cpy.BaseGas.Set(d.BaseGas)
	}
	if d.GasPrice != nil {
		cpy.GasPrice.Set(d.GasPrice)
	}
	return cpy
}

func (d *SafeTransactionData) validate() error {
	if d.Operation > DelegateCall {
		return errors.Wrapf(ErrInvalidTransaction, "operation %d", d.Operation)
	}
	for name, v := range map[string]*big.Int{
		"value":     d.Value,
		"safeTxGas": d.SafeTxGas,
		"baseGas":   d.BaseGas,
		"gasPrice":  d.GasPrice,
	} {
		if v.Sign() < 0 {
			return errors.Wrapf(ErrInvalidTransaction, "negative %s", name)
		}
		if v.BitLen() > 256 {
			return errors.Wrapf(ErrInvalidTransaction, "%s exceeds 256 bits", name)
		}
	}
	return nil
}

// SafeTransaction is the canonical, immutable transaction record. Accessors
// hand out copies; a changed field means building a new record, which yields
// a new hash.
type SafeTransaction struct {
	inner *SafeTransactionData
}

// NewSafeTransaction validates and deep-copies data into a new record.
// Missing numeric fields default to zero.
func NewSafeTransaction(data *SafeTransactionData) (*SafeTransaction, error) {
	if data == nil {
		return nil, errors.Wrap(ErrInvalidTransaction, "nil data")
	}
	inner := data.copy()
	if err := inner.validate(); err != nil {
		return nil, err
	}
	return &SafeTransaction{inner: inner}, nil
}

func (tx *SafeTransaction) To() common.Address             { return tx.inner.To }
func (tx *SafeTransaction) Value() *big.Int                { return new(big.Int).Set(tx.inner.Value) }
func (tx *SafeTransaction) Data() []byte                   { return common.CopyBytes(tx.inner.Data) }
func (tx *SafeTransaction) Operation() Operation           { return tx.inner.Operation }
func (tx *SafeTransaction) SafeTxGas() *big.Int            { return new(big.Int).Set(tx.inner.SafeTxGas) }
func (tx *SafeTransaction) BaseGas() *big.Int              { return new(big.Int).Set(tx.inner.BaseGas) }
func (tx *SafeTransaction) GasPrice() *big.Int             { return new(big.Int).Set(tx.inner.GasPrice) }
func (tx *SafeTransaction) GasToken() common.Address       { return tx.inner.GasToken }
func (tx *SafeTransaction) RefundReceiver() common.Address { return tx.inner.RefundReceiver }
func (tx *SafeTransaction) Nonce() uint64                  { return tx.inner.Nonce }

// TxData returns a copy of the underlying field set.
func (tx *SafeTransaction) TxData() *SafeTransactionData {
	return tx.inner.copy()
}

func (tx *SafeTransaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(tx.inner)
}

func (tx *SafeTransaction) UnmarshalJSON(input []byte) error {
	var data SafeTransactionData
	if err := json.Unmarshal(input, &data); err != nil {
		return err
	}
	inner := data.copy()
	if err := inner.validate(); err != nil {
		return err
	}
	tx.inner = inner
	return nil
}

// TransactionOptions overrides the optional fields of a new record. Nil
// fields keep their default.
type TransactionOptions struct {
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       *common.Address
	RefundReceiver *common.Address
	Nonce          *uint64
}

// Apply writes the set options into data.
func (o *TransactionOptions) Apply(data *SafeTransactionData) {
	if o == nil {
		return
	}
	if o.SafeTxGas != nil {
		data.SafeTxGas = new(big.Int).Set(o.SafeTxGas)
	}
	if o.BaseGas != nil {
		data.BaseGas = new(big.Int).Set(o.BaseGas)
	}
	if o.GasPrice != nil {
		data.GasPrice = new(big.Int).Set(o.GasPrice)
	}
	if o.GasToken != nil {
		data.GasToken = *o.GasToken
	}
	if o.RefundReceiver != nil {
		data.RefundReceiver = *o.RefundReceiver
	}
	if o.Nonce != nil {
		data.Nonce = *o.Nonce
	}
}
