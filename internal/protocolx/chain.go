// Package protocolx deploys the ProtocolX DAO distributor and calculator on
// EVM chains and drives the cross-chain distribution and claim flow.
package protocolx

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/protocolx/internal/evm"
)

// Chain describes one network and, after Deploy or Attach, the live
// handles bound to it.
type Chain struct {
	Name    string
	ChainID int64
	RPC     string

	Gateway              common.Address
	GasService           common.Address
	ConstAddressDeployer common.Address
	TokenSymbol          string

	Client      evm.Client
	Wallet      *evm.Transactor
	Distributor Distributor
	Calculator  Calculator
}

// Bound reports whether Deploy or Attach has populated the handles.
func (c *Chain) Bound() bool {
	return c.Client != nil && c.Wallet != nil && c.Distributor != nil && c.Calculator != nil
}

// Close releases the chain's RPC connection.
func (c *Chain) Close() {
	if c.Client != nil {
		evm.Close(c.Client)
	}
}

// Distributor is the DaoTokenDistributor surface used by Execute.
type Distributor interface {
	Address() common.Address
	ConfigureLayerTwo(ctx context.Context, chain, calculator string) error
	LayerTwoChain(ctx context.Context) (string, error)
	CalculateTokenDistribution(ctx context.Context, payload []byte, fee *big.Int) (*types.Receipt, error)
	// RequestedPayload returns the payload of the RequestedDistributions event in receipt.
	RequestedPayload(receipt *types.Receipt) ([]byte, error)
	Distributions(ctx context.Context, account common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	ClaimTokensTest(ctx context.Context, account common.Address) error
	ClaimTokensDelegate(ctx context.Context, account common.Address) error
}

// Calculator is the DaoDistributionCalculator surface used by Execute.
type Calculator interface {
	Address() common.Address
	ConfigureLayerOne(ctx context.Context, chain, distributor string) error
	LayerOneChain(ctx context.Context) (string, error)
}
