package params

import (
	"github.com/ethereum/go-ethereum/common"
)

// SentinelAddress heads the owner and module linked lists of the wallet
// contract. It is the "previous" pointer of the first element.
var SentinelAddress = common.HexToAddress("0x0000000000000000000000000000000000000001")

// Deployments holds the helper contracts a wallet version is paired with.
type Deployments struct {
	MultiSend         common.Address
	MultiSendCallOnly common.Address // zero before 1.3.0
}

// 官方部署地址，在所有 EVM 链上相同
var (
	deploymentsV111 = Deployments{
		MultiSend: common.HexToAddress("0x8D29bE29923b68abfDD21e541b9374737B49cdAD"),
	}
	deploymentsV130 = Deployments{
		MultiSend:         common.HexToAddress("0xA238CBeb142c10Ef7Ad8442C6D1f9E89e07e7761"),
		MultiSendCallOnly: common.HexToAddress("0x40A2aCCbd92BCA938b02010E17A5b8929b49130D"),
	}
)
