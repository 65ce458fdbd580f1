package ethledger

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ABI fragments for the deployed ledger contracts. Orders cross the wire as
// a tuple matching model.Order's identity fields; quantities are int256 so
// sells carry their sign.

const orderTupleJSON = `{"name":"order","type":"tuple","components":[
	{"name":"contractAddress","type":"address"},
	{"name":"maker","type":"address"},
	{"name":"taker","type":"address"},
	{"name":"feeRecipient","type":"address"},
	{"name":"makerFee","type":"uint256"},
	{"name":"takerFee","type":"uint256"},
	{"name":"price","type":"uint256"},
	{"name":"qty","type":"int256"},
	{"name":"expiration","type":"uint256"},
	{"name":"salt","type":"uint256"}]}`

var marketABIJSON = `[
	{"type":"function","stateMutability":"view","name":"contractName","inputs":[],"outputs":[{"type":"string"}]},
	{"type":"function","stateMutability":"view","name":"priceFloor","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"priceCap","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"qtyMultiplier","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"expiration","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"isSettled","inputs":[],"outputs":[{"type":"bool"}]},
	{"type":"function","stateMutability":"view","name":"collateralPoolAddress","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","stateMutability":"view","name":"collateralTokenAddress","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","stateMutability":"view","name":"isUserEnabled","inputs":[{"type":"address"}],"outputs":[{"type":"bool"}]},
	{"type":"function","stateMutability":"view","name":"qtyFilledOrCancelled","inputs":[{"type":"bytes32"}],"outputs":[{"type":"int256"}]},
	{"type":"function","stateMutability":"view","name":"orderHash","inputs":[` + orderTupleJSON + `],"outputs":[{"type":"bytes32"}]},
	{"type":"function","stateMutability":"view","name":"isValidSignature","inputs":[{"type":"address"},{"type":"bytes32"},{"type":"uint8"},{"type":"bytes32"},{"type":"bytes32"}],"outputs":[{"type":"bool"}]},
	{"type":"function","stateMutability":"nonpayable","name":"tradeOrder","inputs":[` + orderTupleJSON + `,{"name":"qtyToFill","type":"int256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]},
	{"type":"function","stateMutability":"nonpayable","name":"cancelOrder","inputs":[` + orderTupleJSON + `,{"name":"qtyToCancel","type":"int256"}],"outputs":[]},
	{"type":"event","name":"OrderFilled","inputs":[{"name":"maker","type":"address","indexed":true},{"name":"orderHash","type":"bytes32","indexed":true},{"name":"filledQty","type":"int256","indexed":false}]},
	{"type":"event","name":"OrderCancelled","inputs":[{"name":"maker","type":"address","indexed":true},{"name":"orderHash","type":"bytes32","indexed":true},{"name":"cancelledQty","type":"int256","indexed":false}]},
	{"type":"event","name":"Error","inputs":[{"name":"errorCode","type":"uint8","indexed":false},{"name":"orderHash","type":"bytes32","indexed":false}]}
]`

var poolABIJSON = `[
	{"type":"function","stateMutability":"view","name":"unallocatedBalanceOf","inputs":[{"type":"address"}],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"nonpayable","name":"depositTokensForTrading","inputs":[{"type":"uint256"}],"outputs":[]},
	{"type":"function","stateMutability":"nonpayable","name":"withdrawTokens","inputs":[{"type":"uint256"}],"outputs":[]},
	{"type":"function","stateMutability":"nonpayable","name":"settleAndClose","inputs":[],"outputs":[]},
	{"type":"event","name":"UpdatedUserBalance","inputs":[{"name":"user","type":"address","indexed":true},{"name":"balance","type":"uint256","indexed":false}]}
]`

var tokenABIJSON = `[
	{"type":"function","stateMutability":"view","name":"decimals","inputs":[],"outputs":[{"type":"uint8"}]},
	{"type":"function","stateMutability":"view","name":"balanceOf","inputs":[{"type":"address"}],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"view","name":"allowance","inputs":[{"type":"address"},{"type":"address"}],"outputs":[{"type":"uint256"}]},
	{"type":"function","stateMutability":"nonpayable","name":"approve","inputs":[{"type":"address"},{"type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"type":"function","stateMutability":"nonpayable","name":"transfer","inputs":[{"type":"address"},{"type":"uint256"}],"outputs":[{"type":"bool"}]}
]`

var (
	marketABI = mustABI(marketABIJSON)
	poolABI   = mustABI(poolABIJSON)
	tokenABI  = mustABI(tokenABIJSON)

	orderFilledID    = marketABI.Events["OrderFilled"].ID
	orderCancelledID = marketABI.Events["OrderCancelled"].ID
	errorEventID     = marketABI.Events["Error"].ID
	balanceEventID   = poolABI.Events["UpdatedUserBalance"].ID
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ethOrder mirrors the order tuple in the contract ABI. Field order and
// names must track orderTupleJSON.
type ethOrder struct {
	ContractAddress common.Address
	Maker           common.Address
	Taker           common.Address
	FeeRecipient    common.Address
	MakerFee        *big.Int
	TakerFee        *big.Int
	Price           *big.Int
	Qty             *big.Int
	Expiration      *big.Int
	Salt            *big.Int
}
