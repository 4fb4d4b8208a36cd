package adapter

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// AdapterABI is the private lending adapter's interface.
const AdapterABI = `[
{"type":"function","name":"nextPositionId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"privacyExecutor","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"supplyToken","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"isBorrowTokenAllowed","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"positions","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
 {"name":"zkOwnerHash","type":"bytes32"},{"name":"vault","type":"address"},{"name":"token","type":"address"},
 {"name":"amount","type":"uint256"},{"name":"withdrawAuthHash","type":"bytes32"}]},
{"type":"function","name":"getOwnerPositionIds","stateMutability":"view","inputs":[
 {"name":"zkOwnerHash","type":"bytes32"},{"name":"offset","type":"uint256"},{"name":"limit","type":"uint256"}],"outputs":[
 {"name":"ids","type":"uint256[]"},{"name":"total","type":"uint256"}]},
{"type":"function","name":"onPrivateDeposit","stateMutability":"nonpayable","inputs":[
 {"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"withdrawToRecipient","stateMutability":"nonpayable","inputs":[
 {"name":"positionId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"withdrawAuthSecret","type":"bytes32"},
 {"name":"nextWithdrawAuthHash","type":"bytes32"},{"name":"recipient","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"borrowToRecipient","stateMutability":"nonpayable","inputs":[
 {"name":"positionId","type":"uint256"},{"name":"debtToken","type":"address"},{"name":"amount","type":"uint256"},
 {"name":"authSecret","type":"bytes32"},{"name":"nextAuthHash","type":"bytes32"},{"name":"recipient","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"repayFromPrivate","stateMutability":"nonpayable","inputs":[
 {"name":"positionId","type":"uint256"},{"name":"debtToken","type":"address"},{"name":"amount","type":"uint256"},
 {"name":"authSecret","type":"bytes32"},{"name":"nextAuthHash","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// ERC20ABI covers the token calls the operation builders emit.
const ERC20ABI = `[
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	adapterABI = mustParse(AdapterABI)
	erc20ABI   = mustParse(ERC20ABI)

	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	// depositRequest is the payload onPrivateDeposit expects in data.
	depositRequest = abi.Arguments{
		{Name: "zkOwnerHash", Type: bytes32Type},
		{Name: "withdrawAuthHash", Type: bytes32Type},
	}
)

// Adapter returns the parsed adapter ABI.
func Adapter() abi.ABI { return adapterABI }

// ERC20 returns the parsed token ABI.
func ERC20() abi.ABI { return erc20ABI }

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("adapter: invalid ABI: %v", err))
	}
	return parsed
}
