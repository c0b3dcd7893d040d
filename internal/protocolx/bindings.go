package protocolx

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/protocolx/internal/evm"
)

// DistributorContract binds the DaoTokenDistributor proxy.
type DistributorContract struct {
	*evm.BoundContract
}

// NewDistributorContract binds the distributor ABI to the proxy address.
func NewDistributorContract(address common.Address, contractABI abi.ABI, tx *evm.Transactor) *DistributorContract {
	return &DistributorContract{BoundContract: evm.NewBoundContract(address, contractABI, tx)}
}

// ConfigureLayerTwo points the distributor at the calculator on chain.
func (d *DistributorContract) ConfigureLayerTwo(ctx context.Context, chain, calculator string) error {
	_, err := d.Transact(ctx, nil, "configureLayerTwo", chain, calculator)
	return err
}

// LayerTwoChain returns the configured counterpart chain.
func (d *DistributorContract) LayerTwoChain(ctx context.Context) (string, error) {
	return d.CallString(ctx, "layerTwoChain")
}

// CalculateTokenDistribution sends the payload cross-chain, paying fee.
func (d *DistributorContract) CalculateTokenDistribution(ctx context.Context, payload []byte, fee *big.Int) (*types.Receipt, error) {
	return d.Transact(ctx, fee, "calculateTokenDistribution", payload)
}

// RequestedPayload extracts the RequestedDistributions payload.
func (d *DistributorContract) RequestedPayload(receipt *types.Receipt) ([]byte, error) {
	values, err := d.FindEvent(receipt, "RequestedDistributions")
	if err != nil {
		return nil, err
	}
	payload, ok := values["payload"].([]byte)
	if !ok {
		return nil, fmt.Errorf("RequestedDistributions: unexpected payload type %T", values["payload"])
	}
	return payload, nil
}

// Distributions returns the amount calculated for account.
func (d *DistributorContract) Distributions(ctx context.Context, account common.Address) (*big.Int, error) {
	return d.CallBigInt(ctx, "distributions", account)
}

// BalanceOf returns account's token balance.
func (d *DistributorContract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return d.CallBigInt(ctx, "balanceOf", account)
}

// ClaimTokensTest claims account's distribution.
func (d *DistributorContract) ClaimTokensTest(ctx context.Context, account common.Address) error {
	_, err := d.Transact(ctx, nil, "claimTokensTest", account)
	return err
}

// ClaimTokensDelegate claims account's distribution through the delegate path.
func (d *DistributorContract) ClaimTokensDelegate(ctx context.Context, account common.Address) error {
	_, err := d.Transact(ctx, nil, "claimTokensDelegate", account)
	return err
}

var _ Distributor = (*DistributorContract)(nil)

// CalculatorContract binds the DaoDistributionCalculator.
type CalculatorContract struct {
	*evm.BoundContract
}

// NewCalculatorContract binds the calculator ABI to address.
func NewCalculatorContract(address common.Address, contractABI abi.ABI, tx *evm.Transactor) *CalculatorContract {
	return &CalculatorContract{BoundContract: evm.NewBoundContract(address, contractABI, tx)}
}

// ConfigureLayerOne points the calculator back at the distributor on chain.
func (c *CalculatorContract) ConfigureLayerOne(ctx context.Context, chain, distributor string) error {
	_, err := c.Transact(ctx, nil, "configureLayerOne", chain, distributor)
	return err
}

// LayerOneChain returns the configured counterpart chain.
func (c *CalculatorContract) LayerOneChain(ctx context.Context) (string, error) {
	return c.CallString(ctx, "layerOneChain")
}

var _ Calculator = (*CalculatorContract)(nil)
