package protocolx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"

	"github.com/Bidon15/protocolx/internal/evm"
	"github.com/Bidon15/protocolx/internal/gmp"
	"github.com/Bidon15/protocolx/internal/signer"
)

// Execute defaults
const (
	DefaultSettleTimeout = 5 * time.Minute
	DefaultPollInterval  = 2 * time.Second
)

var (
	// ErrInvalidArgs is returned when the positional arguments are not
	// empty and not exactly [l1Chain, l2Chain, l1Contract, l2Contract].
	ErrInvalidArgs = errors.New("invalid execute arguments")
	// ErrConfigurationMismatch is returned when a contract does not echo its configured counterpart.
	ErrConfigurationMismatch = errors.New("configuration mismatch")
	// ErrNegativeFee is returned when a bridge fee quote is negative.
	ErrNegativeFee = errors.New("negative bridge fee")
	// ErrInsufficientFunds is returned when the wallet cannot pay the bridge fees.
	ErrInsufficientFunds = errors.New("insufficient funds for bridge fees")
	// ErrSettlementTimeout is returned when the cross-chain result does not arrive before the deadline.
	ErrSettlementTimeout = errors.New("timed out waiting for cross-chain settlement")
	// ErrTokenSupplyMismatch is returned when the emitted payload carries a different supply.
	ErrTokenSupplyMismatch = errors.New("token supply mismatch")
	// ErrUnexpectedClaimOutcome is returned when a claim succeeds or fails contrary to expectation.
	ErrUnexpectedClaimOutcome = errors.New("unexpected claim outcome")
	// ErrUnexpectedBalance is returned when final token balances do not match the distribution.
	ErrUnexpectedBalance = errors.New("unexpected token balance")
)

// BridgeFeeFunc quotes the fee for a message from one chain to another.
type BridgeFeeFunc func(ctx context.Context, from, to *Chain) (*big.Int, error)

// BridgeFee adapts a fee estimator, quoting in the sending chain's native token.
func BridgeFee(estimator gmp.FeeEstimator) BridgeFeeFunc {
	return func(ctx context.Context, from, to *Chain) (*big.Int, error) {
		return estimator.EstimateGasFee(ctx, from.Name, to.Name, from.TokenSymbol)
	}
}

// ExecuteOptions controls a run.
type ExecuteOptions struct {
	Source      *Chain
	Destination *Chain

	CalculateBridgeFee BridgeFeeFunc

	// Args is empty or [l1Chain, l2Chain, l1Contract, l2Contract].
	Args []string

	TokenSupply   *big.Int
	WalletCount   int
	SettleTimeout time.Duration
	PollInterval  time.Duration
}

// ExecuteArgs are the resolved positional arguments.
type ExecuteArgs struct {
	L1Chain    string
	L2Chain    string
	L1Contract string
	L2Contract string
}

// ResolveArgs returns args as ExecuteArgs, defaulting to the source and
// destination names, the source distributor and the destination calculator.
func ResolveArgs(source, destination *Chain, args []string) (ExecuteArgs, error) {
	switch len(args) {
	case 4:
		return ExecuteArgs{L1Chain: args[0], L2Chain: args[1], L1Contract: args[2], L2Contract: args[3]}, nil
	case 0:
		if source.Distributor == nil || destination.Calculator == nil {
			return ExecuteArgs{}, ErrNotDeployed
		}
		return ExecuteArgs{
			L1Chain:    source.Name,
			L2Chain:    destination.Name,
			L1Contract: source.Distributor.Address().Hex(),
			L2Contract: destination.Calculator.Address().Hex(),
		}, nil
	default:
		return ExecuteArgs{}, fmt.Errorf("%w: got %d, want 0 or 4", ErrInvalidArgs, len(args))
	}
}

// ClaimOutcome is one claim attempt.
type ClaimOutcome struct {
	Account       common.Address
	Method        string
	ExpectSuccess bool
	Succeeded     bool
	Balance       *big.Int
	Err           error
}

// Unexpected reports whether the attempt contradicted its expectation.
// A failure that is not a revert says nothing about claim state and is
// always unexpected.
func (c ClaimOutcome) Unexpected() bool {
	if c.ExpectSuccess != c.Succeeded {
		return true
	}
	return !c.Succeeded && !evm.IsRevert(c.Err)
}

// ExecuteResult summarises a completed run.
type ExecuteResult struct {
	RunID ulid.ULID

	LayerTwoChain string
	LayerOneChain string

	Generated []common.Address
	// Selected is [last generated, first generated], the payload order.
	Selected []common.Address

	SourceFee      *big.Int
	DestinationFee *big.Int
	TotalFee       *big.Int

	CalculationTx common.Hash
	Settlement    time.Duration

	Distributions map[common.Address]*big.Int
	Claims        []ClaimOutcome
	Balances      map[common.Address]*big.Int
}

// Execute cross-configures the deployed contracts, requests a distribution
// for freshly generated addresses, waits for the cross-chain result and
// runs the claim sequence. It returns the partial result alongside claim
// and balance errors.
func (r *Runner) Execute(ctx context.Context, chains []*Chain, wallet signer.TransactionSigner, opts ExecuteOptions) (*ExecuteResult, error) {
	source, destination := opts.Source, opts.Destination
	if err := checkChains(chains, source, destination); err != nil {
		return nil, err
	}
	if wallet != nil && source.Wallet.Address() != wallet.Address() {
		return nil, fmt.Errorf("%s is bound to %s, not %s", source.Name, source.Wallet.Address().Hex(), wallet.Address().Hex())
	}
	if opts.CalculateBridgeFee == nil {
		return nil, errors.New("bridge fee calculator is required")
	}
	args, err := ResolveArgs(source, destination, opts.Args)
	if err != nil {
		return nil, err
	}
	applyDefaults(&opts)

	res := &ExecuteResult{
		RunID:         ulid.Make(),
		Distributions: make(map[common.Address]*big.Int),
		Balances:      make(map[common.Address]*big.Int),
	}
	logger := r.logger.With(slog.String("run_id", res.RunID.String()))

	// Cross-configure.
	if err := source.Distributor.ConfigureLayerTwo(ctx, args.L2Chain, args.L2Contract); err != nil {
		return nil, fmt.Errorf("configure layer two: %w", err)
	}
	res.LayerTwoChain, err = source.Distributor.LayerTwoChain(ctx)
	if err != nil {
		return nil, fmt.Errorf("read layer two chain: %w", err)
	}
	if err := destination.Calculator.ConfigureLayerOne(ctx, args.L1Chain, args.L1Contract); err != nil {
		return nil, fmt.Errorf("configure layer one: %w", err)
	}
	res.LayerOneChain, err = destination.Calculator.LayerOneChain(ctx)
	if err != nil {
		return nil, fmt.Errorf("read layer one chain: %w", err)
	}
	logger.Info("contracts configured",
		slog.String("l1_configured_to", res.LayerTwoChain),
		slog.String("l2_configured_to", res.LayerOneChain),
	)
	if res.LayerTwoChain != args.L2Chain {
		return nil, fmt.Errorf("%w: distributor reports %q, want %q", ErrConfigurationMismatch, res.LayerTwoChain, args.L2Chain)
	}
	if res.LayerOneChain != args.L1Chain {
		return nil, fmt.Errorf("%w: calculator reports %q, want %q", ErrConfigurationMismatch, res.LayerOneChain, args.L1Chain)
	}

	// Payload.
	wallets, err := signer.GenerateWallets(opts.WalletCount, big.NewInt(source.ChainID))
	if err != nil {
		return nil, fmt.Errorf("generate wallets: %w", err)
	}
	res.Generated = signer.Addresses(wallets)
	res.Selected = []common.Address{res.Generated[len(res.Generated)-1], res.Generated[0]}

	payload, err := EncodeDistributionPayload(res.Selected, opts.TokenSupply)
	if err != nil {
		return nil, err
	}

	// Fees.
	res.SourceFee, err = quoteFee(ctx, opts.CalculateBridgeFee, source, destination)
	if err != nil {
		return nil, err
	}
	res.DestinationFee, err = quoteFee(ctx, opts.CalculateBridgeFee, destination, source)
	if err != nil {
		return nil, err
	}
	res.TotalFee = new(big.Int).Add(res.SourceFee, res.DestinationFee)
	if r.metrics != nil {
		r.metrics.ObserveBridgeFee(source.Name, destination.Name, res.SourceFee)
		r.metrics.ObserveBridgeFee(destination.Name, source.Name, res.DestinationFee)
	}
	logger.Info("bridge fees quoted",
		slog.String("source_fee", res.SourceFee.String()),
		slog.String("destination_fee", res.DestinationFee.String()),
		slog.String("total_fee", res.TotalFee.String()),
	)

	balance, err := source.Wallet.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("get wallet balance: %w", err)
	}
	if balance.Cmp(res.TotalFee) < 0 {
		return nil, fmt.Errorf("%w: balance %s, need %s on %s", ErrInsufficientFunds, balance, res.TotalFee, source.Name)
	}

	// Trigger the cross-chain calculation.
	started := time.Now()
	receipt, err := source.Distributor.CalculateTokenDistribution(ctx, payload, res.TotalFee)
	if err != nil {
		return nil, fmt.Errorf("calculate token distribution: %w", err)
	}
	res.CalculationTx = receipt.TxHash
	logger.Info("token distribution requested", slog.String("tx_hash", receipt.TxHash.Hex()))

	if err := r.awaitSettlement(ctx, source.Distributor, res.Selected[0], opts.SettleTimeout, opts.PollInterval); err != nil {
		return nil, err
	}
	res.Settlement = time.Since(started)
	if r.metrics != nil {
		r.metrics.ObserveSettlement(source.Name, destination.Name, res.Settlement)
	}

	for _, addr := range res.Selected {
		amount, err := source.Distributor.Distributions(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("read distribution for %s: %w", addr.Hex(), err)
		}
		res.Distributions[addr] = amount
	}
	logger.Info("token distributions",
		slog.String("address1", res.Distributions[res.Selected[0]].String()),
		slog.String("address2", res.Distributions[res.Selected[1]].String()),
		slog.Duration("settlement", res.Settlement),
	)

	// The event must carry the supply that was sent.
	emitted, err := source.Distributor.RequestedPayload(receipt)
	if err != nil {
		return nil, fmt.Errorf("read RequestedDistributions: %w", err)
	}
	_, supply, err := DecodeDistributionPayload(emitted)
	if err != nil {
		return nil, err
	}
	if supply.Cmp(opts.TokenSupply) != 0 {
		return nil, fmt.Errorf("%w: sent %s, event carries %s", ErrTokenSupplyMismatch, opts.TokenSupply, supply)
	}

	before, err := r.balances(ctx, source.Distributor, res.Selected)
	if err != nil {
		return nil, err
	}
	logger.Info("balances before claim",
		slog.String("address1", before[0].String()),
		slog.String("address2", before[1].String()),
	)

	a, b := res.Selected[0], res.Selected[1]
	attempts := []struct {
		account       common.Address
		method        string
		claim         func(context.Context, common.Address) error
		expectSuccess bool
	}{
		{a, "claimTokensTest", source.Distributor.ClaimTokensTest, true},
		{a, "claimTokensTest", source.Distributor.ClaimTokensTest, false},
		{b, "claimTokensTest", source.Distributor.ClaimTokensTest, true},
		{b, "claimTokensDelegate", source.Distributor.ClaimTokensDelegate, false},
	}

	var claimErrs []error
	for _, attempt := range attempts {
		outcome := r.claim(ctx, logger, source.Distributor, attempt.account, attempt.method, attempt.claim, attempt.expectSuccess)
		res.Claims = append(res.Claims, outcome)
		if outcome.Unexpected() {
			claimErrs = append(claimErrs, fmt.Errorf("%s(%s): expected success %t, got %t: %v",
				outcome.Method, outcome.Account.Hex(), outcome.ExpectSuccess, outcome.Succeeded, outcome.Err))
		}
	}

	after, err := r.balances(ctx, source.Distributor, res.Generated)
	if err != nil {
		return res, err
	}
	for i, addr := range res.Generated {
		res.Balances[addr] = after[i]
	}
	logger.Info("balances after claim",
		slog.String("address1", res.Balances[a].String()),
		slog.String("address2", res.Balances[b].String()),
	)

	if len(claimErrs) > 0 {
		return res, fmt.Errorf("%w: %w", ErrUnexpectedClaimOutcome, errors.Join(claimErrs...))
	}
	if err := checkBalances(res); err != nil {
		return res, err
	}
	return res, nil
}

func checkChains(chains []*Chain, source, destination *Chain) error {
	if source == nil || destination == nil {
		return errors.New("source and destination chains are required")
	}
	for _, c := range []*Chain{source, destination} {
		known := false
		for _, candidate := range chains {
			if candidate == c {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("chain %q is not among the configured chains", c.Name)
		}
		if !c.Bound() {
			return fmt.Errorf("%s: %w", c.Name, ErrNotDeployed)
		}
	}
	return nil
}

func applyDefaults(opts *ExecuteOptions) {
	if opts.TokenSupply == nil {
		opts.TokenSupply = big.NewInt(DefaultTokenSupply)
	}
	if opts.WalletCount < 2 {
		opts.WalletCount = DefaultWalletCount
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = DefaultSettleTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
}

func quoteFee(ctx context.Context, fn BridgeFeeFunc, from, to *Chain) (*big.Int, error) {
	fee, err := fn(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("bridge fee %s -> %s: %w", from.Name, to.Name, err)
	}
	if fee == nil || fee.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s -> %s: %v", ErrNegativeFee, from.Name, to.Name, fee)
	}
	return fee, nil
}

// awaitSettlement polls the distribution recorded for account until it is
// non-zero or timeout elapses.
func (r *Runner) awaitSettlement(ctx context.Context, d Distributor, account common.Address, timeout, interval time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		amount, err := d.Distributions(waitCtx, account)
		switch {
		case err == nil && amount.Sign() > 0:
			return nil
		case err != nil && waitCtx.Err() == nil:
			return fmt.Errorf("poll distribution for %s: %w", account.Hex(), err)
		}

		r.logger.Debug("waiting for cross-chain settlement", slog.String("account", account.Hex()))

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: no distribution for %s after %s", ErrSettlementTimeout, account.Hex(), timeout)
		case <-ticker.C:
		}
	}
}

func (r *Runner) balances(ctx context.Context, d Distributor, accounts []common.Address) ([]*big.Int, error) {
	out := make([]*big.Int, len(accounts))
	for i, addr := range accounts {
		bal, err := d.BalanceOf(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", addr.Hex(), err)
		}
		out[i] = bal
	}
	return out, nil
}

func (r *Runner) claim(ctx context.Context, logger *slog.Logger, d Distributor, account common.Address, method string, fn func(context.Context, common.Address) error, expectSuccess bool) ClaimOutcome {
	outcome := ClaimOutcome{Account: account, Method: method, ExpectSuccess: expectSuccess}

	err := fn(ctx, account)
	outcome.Err = err
	outcome.Succeeded = err == nil
	if r.metrics != nil {
		r.metrics.ObserveClaim(method, outcome.Succeeded)
	}

	attrs := []any{slog.String("account", account.Hex()), slog.String("method", method)}
	switch {
	case outcome.Succeeded:
		bal, balErr := d.BalanceOf(ctx, account)
		if balErr != nil {
			logger.Warn("failed to read balance after claim", append(attrs, slog.String("error", balErr.Error()))...)
		} else {
			outcome.Balance = bal
			attrs = append(attrs, slog.String("balance", bal.String()))
		}
		if expectSuccess {
			logger.Info("claimed tokens", attrs...)
		} else {
			logger.Error("claim succeeded but the account had already claimed", attrs...)
		}
	case expectSuccess:
		logger.Error("claim tokens failed", append(attrs, slog.String("error", err.Error()))...)
	case evm.IsRevert(err):
		logger.Info("expected error: account has already claimed tokens", attrs...)
	default:
		logger.Error("repeat claim failed without a revert", append(attrs, slog.String("error", err.Error()))...)
	}
	return outcome
}

// checkBalances requires a positive balance for both selected accounts and
// zero for every other generated account.
func checkBalances(res *ExecuteResult) error {
	selected := make(map[common.Address]bool, len(res.Selected))
	for _, addr := range res.Selected {
		selected[addr] = true
	}

	var errs []error
	for _, addr := range res.Generated {
		bal := res.Balances[addr]
		switch {
		case selected[addr] && bal.Sign() <= 0:
			errs = append(errs, fmt.Errorf("%s: selected account holds %s", addr.Hex(), bal))
		case !selected[addr] && bal.Sign() != 0:
			errs = append(errs, fmt.Errorf("%s: unselected account holds %s", addr.Hex(), bal))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrUnexpectedBalance, errors.Join(errs...))
	}
	return nil
}
