// Package chain talks to the futarchy contracts over JSON-RPC: view calls for
// the enricher, log decoding for the event source and calldata for writes.
package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// appABIJSON covers the app's events, its getMarketData view and the
// write calls the presentation layer issues.
const appABIJSON = `[
	{"type":"event","name":"CreateMarket","inputs":[
		{"name":"creator","type":"address","indexed":true},
		{"name":"conditionId","type":"bytes32","indexed":true},
		{"name":"marketMaker","type":"address","indexed":false},
		{"name":"outcomes","type":"bytes32[]","indexed":false}
	]},
	{"type":"event","name":"Trade","inputs":[
		{"name":"trader","type":"address","indexed":true},
		{"name":"conditionId","type":"bytes32","indexed":true},
		{"name":"outcomeTokenAmounts","type":"int256[]","indexed":false},
		{"name":"netCost","type":"int256","indexed":false}
	]},
	{"type":"event","name":"CloseMarket","inputs":[
		{"name":"conditionId","type":"bytes32","indexed":true},
		{"name":"payouts","type":"uint256[]","indexed":false},
		{"name":"marginalPricesAtClosure","type":"uint256[]","indexed":false}
	]},
	{"type":"event","name":"RedeemPositions","inputs":[
		{"name":"redeemer","type":"address","indexed":true},
		{"name":"conditionId","type":"bytes32","indexed":true},
		{"name":"payout","type":"uint256","indexed":false}
	]},
	{"type":"function","name":"getMarketData","stateMutability":"view",
		"inputs":[{"name":"conditionId","type":"bytes32"}],
		"outputs":[
			{"name":"creator","type":"address"},
			{"name":"oracle","type":"address"},
			{"name":"question","type":"bytes"},
			{"name":"timestamp","type":"uint256"},
			{"name":"endsAt","type":"uint256"},
			{"name":"questionId","type":"bytes32"},
			{"name":"realitioQuestionId","type":"bytes32"},
			{"name":"marketMaker","type":"address"},
			{"name":"collateralToken","type":"address"}
		]},
	{"type":"function","name":"conditionalTokens","stateMutability":"view",
		"inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"createMarket","stateMutability":"nonpayable",
		"inputs":[
			{"name":"collateralToken","type":"address"},
			{"name":"funding","type":"uint256"},
			{"name":"question","type":"bytes"},
			{"name":"outcomes","type":"bytes32[]"},
			{"name":"endsAt","type":"uint256"}
		],"outputs":[]},
	{"type":"function","name":"buy","stateMutability":"nonpayable",
		"inputs":[
			{"name":"conditionId","type":"bytes32"},
			{"name":"outcomeTokenAmounts","type":"int256[]"},
			{"name":"collateralLimit","type":"uint256"}
		],"outputs":[]},
	{"type":"function","name":"sell","stateMutability":"nonpayable",
		"inputs":[
			{"name":"conditionId","type":"bytes32"},
			{"name":"outcomeTokenAmounts","type":"int256[]"},
			{"name":"collateralLimit","type":"uint256"}
		],"outputs":[]},
	{"type":"function","name":"closeMarket","stateMutability":"nonpayable",
		"inputs":[{"name":"conditionId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"redeemPositions","stateMutability":"nonpayable",
		"inputs":[{"name":"conditionId","type":"bytes32"}],"outputs":[]}
]`

const tokensABIJSON = `[
	{"type":"function","name":"getCollectionId","stateMutability":"view",
		"inputs":[
			{"name":"parentCollectionId","type":"bytes32"},
			{"name":"conditionId","type":"bytes32"},
			{"name":"indexSet","type":"uint256"}
		],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"getPositionId","stateMutability":"pure",
		"inputs":[
			{"name":"collateralToken","type":"address"},
			{"name":"collectionId","type":"bytes32"}
		],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
		"inputs":[
			{"name":"owner","type":"address"},
			{"name":"id","type":"uint256"}
		],"outputs":[{"name":"","type":"uint256"}]}
]`

const marketMakerABIJSON = `[
	{"type":"function","name":"calcMarginalPrice","stateMutability":"view",
		"inputs":[{"name":"outcomeTokenIndex","type":"uint8"}],
		"outputs":[{"name":"price","type":"uint256"}]}
]`

var (
	appABI         = mustParseABI(appABIJSON)
	tokensABI      = mustParseABI(tokensABIJSON)
	marketMakerABI = mustParseABI(marketMakerABIJSON)
)

// Log topics of the futarchy app events.
var (
	topicCreateMarket    = crypto.Keccak256Hash([]byte("CreateMarket(address,bytes32,address,bytes32[])"))
	topicTrade           = crypto.Keccak256Hash([]byte("Trade(address,bytes32,int256[],int256)"))
	topicCloseMarket     = crypto.Keccak256Hash([]byte("CloseMarket(bytes32,uint256[],uint256[])"))
	topicRedeemPositions = crypto.Keccak256Hash([]byte("RedeemPositions(address,bytes32,uint256)"))
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: parse abi: " + err.Error())
	}
	return parsed
}
