// Package evm wraps go-ethereum RPC access, transaction submission and ABI calls.
package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the subset of the Ethereum JSON-RPC API used by ProtocolX.
// Both *ethclient.Client and the simulated backend client satisfy it.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dialer creates clients for RPC endpoints.
type Dialer interface {
	Dial(ctx context.Context, rpcURL string) (Client, error)
}

// EthDialer creates clients using go-ethereum's ethclient.
type EthDialer struct{}

// NewEthDialer creates a new EthDialer.
func NewEthDialer() *EthDialer {
	return &EthDialer{}
}

// Dial connects to an Ethereum RPC endpoint.
func (d *EthDialer) Dial(ctx context.Context, rpcURL string) (Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Close releases the client's connection if it holds one.
func Close(c Client) {
	if closer, ok := c.(interface{ Close() }); ok {
		closer.Close()
	}
}
