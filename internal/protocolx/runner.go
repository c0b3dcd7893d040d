package protocolx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/protocolx/internal/artifacts"
	"github.com/Bidon15/protocolx/internal/evm"
	"github.com/Bidon15/protocolx/internal/gmp"
	"github.com/Bidon15/protocolx/internal/metrics"
	"github.com/Bidon15/protocolx/internal/signer"
	"github.com/Bidon15/protocolx/internal/store"
)

// ErrNotDeployed is returned when a chain has no live contracts to work with.
var ErrNotDeployed = errors.New("contracts not deployed")

// ContractDeployer performs the two deployment styles Deploy needs.
type ContractDeployer interface {
	DeployUpgradable(ctx context.Context, tx *evm.Transactor, constAddressDeployer common.Address, p gmp.UpgradableParams) (*gmp.UpgradableDeployment, error)
	DeployContract(ctx context.Context, tx *evm.Transactor, artifact *artifacts.ContractArtifact, args ...interface{}) (common.Address, *types.Receipt, error)
}

type gmpDeployer struct{}

func (gmpDeployer) DeployUpgradable(ctx context.Context, tx *evm.Transactor, constAddressDeployer common.Address, p gmp.UpgradableParams) (*gmp.UpgradableDeployment, error) {
	return gmp.DeployUpgradable(ctx, tx, constAddressDeployer, p)
}

func (gmpDeployer) DeployContract(ctx context.Context, tx *evm.Transactor, artifact *artifacts.ContractArtifact, args ...interface{}) (common.Address, *types.Receipt, error) {
	return gmp.DeployContract(ctx, tx, artifact, args...)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithDialer sets how RPC endpoints are dialed.
func WithDialer(d evm.Dialer) RunnerOption {
	return func(r *Runner) { r.dialer = d }
}

// WithDeployer replaces the Axelar deployment helpers.
func WithDeployer(d ContractDeployer) RunnerOption {
	return func(r *Runner) { r.deployer = d }
}

// WithMetrics records transactions, claims, fees and settlement time.
func WithMetrics(m *metrics.Recorder) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithTransactorOptions applies opts to every transactor the runner creates.
func WithTransactorOptions(opts ...evm.TransactorOption) RunnerOption {
	return func(r *Runner) { r.txOpts = append(r.txOpts, opts...) }
}

// Runner deploys and exercises the ProtocolX contracts.
type Runner struct {
	bundle   *artifacts.Bundle
	dialer   evm.Dialer
	deployer ContractDeployer
	logger   *slog.Logger
	metrics  *metrics.Recorder
	txOpts   []evm.TransactorOption
}

// NewRunner creates a Runner using the compiled contracts in bundle.
func NewRunner(bundle *artifacts.Bundle, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		bundle:   bundle,
		dialer:   evm.NewEthDialer(),
		deployer: gmpDeployer{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Deploy connects wallet to chain, deploys the distributor behind an
// upgradable proxy and a plain calculator, and attaches their handles to chain.
func (r *Runner) Deploy(ctx context.Context, chain *Chain, wallet *signer.LocalSigner) (*store.Deployment, error) {
	tx, err := r.connect(ctx, chain, wallet)
	if err != nil {
		return nil, err
	}

	distributorABI, err := r.bundle.Distributor.ParsedABI()
	if err != nil {
		return nil, err
	}
	calculatorABI, err := r.bundle.Calculator.ParsedABI()
	if err != nil {
		return nil, err
	}

	decimals, err := constructorUint(distributorABI, 2, TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("%s decimals: %w", artifacts.DaoTokenDistributor, err)
	}
	setup, err := EncodeTokenSetup(TokenName, TokenSymbol)
	if err != nil {
		return nil, err
	}

	r.logger.Info("deploying DaoTokenDistributor", slog.String("chain", chain.Name))
	upgradable, err := r.deployer.DeployUpgradable(ctx, tx, chain.ConstAddressDeployer, gmp.UpgradableParams{
		Implementation:     r.bundle.Distributor,
		Proxy:              r.bundle.Proxy,
		ImplementationArgs: []interface{}{chain.Gateway, chain.GasService, decimals},
		SetupParams:        setup,
		Key:                DeploySaltKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: deploy DaoTokenDistributor: %w", chain.Name, err)
	}
	chain.Distributor = NewDistributorContract(upgradable.Proxy, distributorABI, tx)
	r.logger.Info("deployed DaoTokenDistributor",
		slog.String("chain", chain.Name),
		slog.String("address", upgradable.Proxy.Hex()),
		slog.String("implementation", upgradable.Implementation.Hex()),
	)

	r.logger.Info("deploying DaoDistributionCalculator", slog.String("chain", chain.Name))
	calcAddr, calcReceipt, err := r.deployer.DeployContract(ctx, tx, r.bundle.Calculator, chain.Gateway)
	if err != nil {
		return nil, fmt.Errorf("%s: deploy DaoDistributionCalculator: %w", chain.Name, err)
	}
	chain.Calculator = NewCalculatorContract(calcAddr, calculatorABI, tx)
	r.logger.Info("deployed DaoDistributionCalculator",
		slog.String("chain", chain.Name),
		slog.String("address", calcAddr.Hex()),
	)

	record := store.NewDeployment(chain.Name, chain.ChainID)
	record.Distributor = upgradable.Proxy.Hex()
	record.DistributorImplementation = upgradable.Implementation.Hex()
	record.Calculator = calcAddr.Hex()
	record.Deployer = tx.Address().Hex()
	record.DistributorTxHash = upgradable.ProxyTx.Hex()
	if calcReceipt != nil {
		record.CalculatorTxHash = calcReceipt.TxHash.Hex()
	}
	return record, nil
}

// Attach connects wallet to chain and binds the contracts recorded in
// record, checking that both addresses hold code.
func (r *Runner) Attach(ctx context.Context, chain *Chain, record *store.Deployment, wallet *signer.LocalSigner) error {
	if record.Chain != chain.Name {
		return fmt.Errorf("deployment for %q cannot attach to %q", record.Chain, chain.Name)
	}
	if record.ChainID != 0 && chain.ChainID != 0 && record.ChainID != chain.ChainID {
		return fmt.Errorf("%s: deployment chain ID %d, configured %d: %w", chain.Name, record.ChainID, chain.ChainID, evm.ErrChainIDMismatch)
	}
	if err := record.Validate(); err != nil {
		return err
	}

	tx, err := r.connect(ctx, chain, wallet)
	if err != nil {
		return err
	}
	// connect resolves a zero configured ID from the endpoint.
	if record.ChainID != 0 && record.ChainID != chain.ChainID {
		return fmt.Errorf("%s: deployment chain ID %d, endpoint reports %d: %w", chain.Name, record.ChainID, chain.ChainID, evm.ErrChainIDMismatch)
	}

	for _, addr := range []common.Address{record.DistributorAddress(), record.CalculatorAddress()} {
		code, err := chain.Client.CodeAt(ctx, addr, nil)
		if err != nil {
			return fmt.Errorf("%s: get code at %s: %w", chain.Name, addr.Hex(), err)
		}
		if len(code) == 0 {
			return fmt.Errorf("%s: %w: no code at %s", chain.Name, ErrNotDeployed, addr.Hex())
		}
	}

	distributorABI, err := r.bundle.Distributor.ParsedABI()
	if err != nil {
		return err
	}
	calculatorABI, err := r.bundle.Calculator.ParsedABI()
	if err != nil {
		return err
	}

	chain.Distributor = NewDistributorContract(record.DistributorAddress(), distributorABI, tx)
	chain.Calculator = NewCalculatorContract(record.CalculatorAddress(), calculatorABI, tx)

	r.logger.Info("attached to deployed contracts",
		slog.String("chain", chain.Name),
		slog.String("distributor", record.Distributor),
		slog.String("calculator", record.Calculator),
	)
	return nil
}

// connect dials chain.RPC and binds wallet to the chain's ID.
func (r *Runner) connect(ctx context.Context, chain *Chain, wallet *signer.LocalSigner) (*evm.Transactor, error) {
	client, err := r.dialer.Dial(ctx, chain.RPC)
	if err != nil {
		return nil, fmt.Errorf("%s: dial %s: %w", chain.Name, chain.RPC, err)
	}

	if chain.ChainID == 0 {
		id, err := client.ChainID(ctx)
		if err != nil {
			evm.Close(client)
			return nil, fmt.Errorf("%s: get chain ID: %w", chain.Name, err)
		}
		chain.ChainID = id.Int64()
	}

	bound, err := wallet.WithChainID(big.NewInt(chain.ChainID))
	if err != nil {
		evm.Close(client)
		return nil, fmt.Errorf("%s: %w", chain.Name, err)
	}

	opts := append([]evm.TransactorOption{evm.WithChainName(chain.Name)}, r.txOpts...)
	if r.metrics != nil {
		opts = append(opts, evm.WithObserver(r.metrics))
	}
	tx := evm.NewTransactor(client, bound, r.logger, opts...)

	if err := tx.VerifyChainID(ctx); err != nil {
		evm.Close(client)
		return nil, fmt.Errorf("%s: %w", chain.Name, err)
	}

	chain.Client = client
	chain.Wallet = tx
	return tx, nil
}
