package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Network describes an EVM chain the client can pay on.
type Network struct {
	Name        string
	ChainID     uint64
	Symbol      string
	Decimals    int32
	RPCURL      string
	ExplorerURL string
}

// Rootstock testnet is the single supported payment network.
var NetworkRootstockTestnet = Network{
	Name:        "rootstock-testnet",
	ChainID:     31,
	Symbol:      "tRBTC",
	Decimals:    18,
	RPCURL:      "https://public-node.testnet.rsk.co",
	ExplorerURL: "https://rootstock-testnet.blockscout.com",
}

var knownNetworks = map[uint64]Network{
	NetworkRootstockTestnet.ChainID: NetworkRootstockTestnet,
}

// LookupNetwork returns the known network for a chain id, or a generic description.
func LookupNetwork(chainID uint64) Network {
	if n, ok := knownNetworks[chainID]; ok {
		return n
	}
	return Network{
		Name:     fmt.Sprintf("chain-%d", chainID),
		ChainID:  chainID,
		Symbol:   "ETH",
		Decimals: 18,
	}
}

// ChainIDBig returns the chain id as a big.Int.
func (n Network) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(n.ChainID)
}

// TxURL returns an explorer link for a pending or mined transaction.
func (n Network) TxURL(hash common.Hash) string {
	if n.ExplorerURL == "" {
		return ""
	}
	return strings.TrimSuffix(n.ExplorerURL, "/") + "/tx/" + hash.Hex()
}

func (n Network) String() string {
	return n.Name
}
