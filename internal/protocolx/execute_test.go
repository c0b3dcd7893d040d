package protocolx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/protocolx/internal/evm"
	"github.com/Bidon15/protocolx/internal/evm/evmtest"
	"github.com/Bidon15/protocolx/internal/metrics"
)

// fakeDistributor splits the requested supply evenly across the payload
// addresses once settleAfter polls of distributions have happened.
type fakeDistributor struct {
	mu sync.Mutex

	address     common.Address
	layerTwo    string
	calculator  string
	echo        string
	settleAfter int
	polls       int

	payload []byte
	emitted []byte
	fee     *big.Int

	pending          map[common.Address]*big.Int
	distributions    map[common.Address]*big.Int
	balances         map[common.Address]*big.Int
	claimed          map[common.Address]bool
	allowDoubleClaim bool
	balanceErr       error
}

func newFakeDistributor(address string) *fakeDistributor {
	return &fakeDistributor{
		address:       common.HexToAddress(address),
		pending:       make(map[common.Address]*big.Int),
		distributions: make(map[common.Address]*big.Int),
		balances:      make(map[common.Address]*big.Int),
		claimed:       make(map[common.Address]bool),
	}
}

func (f *fakeDistributor) Address() common.Address { return f.address }

func (f *fakeDistributor) ConfigureLayerTwo(_ context.Context, chain, calculator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layerTwo, f.calculator = chain, calculator
	return nil
}

func (f *fakeDistributor) LayerTwoChain(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.echo != "" {
		return f.echo, nil
	}
	return f.layerTwo, nil
}

func (f *fakeDistributor) CalculateTokenDistribution(_ context.Context, payload []byte, fee *big.Int) (*types.Receipt, error) {
	addrs, supply, err := DecodeDistributionPayload(payload)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload, f.fee = payload, fee
	share := new(big.Int).Div(supply, big.NewInt(int64(len(addrs))))
	for _, addr := range addrs {
		f.pending[addr] = share
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: common.HexToHash("0xca1c")}, nil
}

func (f *fakeDistributor) RequestedPayload(*types.Receipt) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitted != nil {
		return f.emitted, nil
	}
	return f.payload, nil
}

func (f *fakeDistributor) Distributions(_ context.Context, account common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls > f.settleAfter {
		for addr, amount := range f.pending {
			f.distributions[addr] = amount
		}
	}
	return valueOrZero(f.distributions[account]), nil
}

func (f *fakeDistributor) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return valueOrZero(f.balances[account]), nil
}

func (f *fakeDistributor) ClaimTokensTest(_ context.Context, account common.Address) error {
	return f.claim("claimTokensTest", account)
}

func (f *fakeDistributor) ClaimTokensDelegate(_ context.Context, account common.Address) error {
	return f.claim("claimTokensDelegate", account)
}

func (f *fakeDistributor) claim(method string, account common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	amount := f.distributions[account]
	if amount == nil || amount.Sign() == 0 {
		return fmt.Errorf("%s: %w: nothing to claim", method, evm.ErrExecutionReverted)
	}
	if f.claimed[account] && !f.allowDoubleClaim {
		return fmt.Errorf("%s: %w: already claimed", method, evm.ErrExecutionReverted)
	}
	f.balances[account] = new(big.Int).Add(valueOrZero(f.balances[account]), amount)
	f.claimed[account] = true
	return nil
}

type fakeCalculator struct {
	mu          sync.Mutex
	address     common.Address
	layerOne    string
	distributor string
}

func (f *fakeCalculator) Address() common.Address { return f.address }

func (f *fakeCalculator) ConfigureLayerOne(_ context.Context, chain, distributor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layerOne, f.distributor = chain, distributor
	return nil
}

func (f *fakeCalculator) LayerOneChain(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.layerOne, nil
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func fixedFee(amount int64) BridgeFeeFunc {
	return func(context.Context, *Chain, *Chain) (*big.Int, error) {
		return big.NewInt(amount), nil
	}
}

type executeFixture struct {
	sim         *evmtest.Chain
	runner      *Runner
	recorder    *metrics.Recorder
	source      *Chain
	destination *Chain
	distributor *fakeDistributor
	calculator  *fakeCalculator
}

func newExecuteFixture(t *testing.T) *executeFixture {
	t.Helper()

	sim := evmtest.NewChain(t)
	recorder := metrics.NewRecorder()

	distributor := newFakeDistributor("0x00000000000000000000000000000000000000d1")
	distributor.settleAfter = 2
	calculator := &fakeCalculator{address: common.HexToAddress("0x00000000000000000000000000000000000000c2")}

	bind := func(c *Chain, d Distributor, calc Calculator) *Chain {
		c.ChainID = evmtest.ChainID
		c.Client = sim.Client
		c.Wallet = sim.Transactor()
		c.Distributor = d
		c.Calculator = calc
		return c
	}

	return &executeFixture{
		sim:      sim,
		runner:   NewRunner(testBundle(), sim.Logger, WithMetrics(recorder)),
		recorder: recorder,
		source:   bind(testChain("Ethereum"), distributor, &fakeCalculator{address: common.HexToAddress("0xc1")}),
		destination: bind(testChain("Avalanche"), newFakeDistributor("0x00000000000000000000000000000000000000d2"),
			calculator),
		distributor: distributor,
		calculator:  calculator,
	}
}

func (f *executeFixture) options() ExecuteOptions {
	return ExecuteOptions{
		Source:             f.source,
		Destination:        f.destination,
		CalculateBridgeFee: fixedFee(1000),
		SettleTimeout:      5 * time.Second,
		PollInterval:       5 * time.Millisecond,
	}
}

func (f *executeFixture) execute(opts ExecuteOptions) (*ExecuteResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return f.runner.Execute(ctx, []*Chain{f.source, f.destination}, f.sim.Signer, opts)
}

func TestExecute(t *testing.T) {
	f := newExecuteFixture(t)

	res, err := f.execute(f.options())
	require.NoError(t, err)

	// Cross-configuration defaults to the deployed counterparts.
	assert.Equal(t, "Avalanche", res.LayerTwoChain)
	assert.Equal(t, "Ethereum", res.LayerOneChain)
	assert.Equal(t, f.calculator.Address().Hex(), f.distributor.calculator)
	assert.Equal(t, f.distributor.Address().Hex(), f.calculator.distributor)

	// Payload is [last, first] of five generated addresses.
	require.Len(t, res.Generated, DefaultWalletCount)
	assert.Equal(t, []common.Address{res.Generated[4], res.Generated[0]}, res.Selected)
	addrs, supply, err := DecodeDistributionPayload(f.distributor.payload)
	require.NoError(t, err)
	assert.Equal(t, res.Selected, addrs)
	assert.Equal(t, int64(DefaultTokenSupply), supply.Int64())

	// Fees in both directions are summed and attached.
	assert.Equal(t, int64(1000), res.SourceFee.Int64())
	assert.Equal(t, int64(1000), res.DestinationFee.Int64())
	assert.Equal(t, int64(2000), res.TotalFee.Int64())
	assert.Equal(t, int64(2000), f.distributor.fee.Int64())
	assert.Equal(t, common.HexToHash("0xca1c"), res.CalculationTx)

	for _, addr := range res.Selected {
		assert.Equal(t, int64(61728395), res.Distributions[addr].Int64())
	}

	require.Len(t, res.Claims, 4)
	expected := []struct {
		account common.Address
		method  string
		success bool
	}{
		{res.Selected[0], "claimTokensTest", true},
		{res.Selected[0], "claimTokensTest", false},
		{res.Selected[1], "claimTokensTest", true},
		{res.Selected[1], "claimTokensDelegate", false},
	}
	for i, want := range expected {
		claim := res.Claims[i]
		assert.Equal(t, want.account, claim.Account, "claim %d", i)
		assert.Equal(t, want.method, claim.Method, "claim %d", i)
		assert.Equal(t, want.success, claim.Succeeded, "claim %d", i)
		assert.False(t, claim.Unexpected(), "claim %d", i)
	}
	assert.Equal(t, int64(61728395), res.Claims[0].Balance.Int64())

	// Selected accounts claimed exactly once, the rest hold nothing.
	for i, addr := range res.Generated {
		if i == 0 || i == 4 {
			assert.Equal(t, int64(61728395), res.Balances[addr].Int64())
			continue
		}
		assert.Zero(t, res.Balances[addr].Sign())
	}

	count, err := testutil.GatherAndCount(f.recorder.Registry(), "protocolx_claims_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestExecute_ExplicitArgs(t *testing.T) {
	f := newExecuteFixture(t)
	opts := f.options()
	opts.Args = []string{"ethereum-2", "avalanche-2", "0xL1", "0xL2"}

	res, err := f.execute(opts)
	require.NoError(t, err)
	assert.Equal(t, "avalanche-2", res.LayerTwoChain)
	assert.Equal(t, "ethereum-2", res.LayerOneChain)
	assert.Equal(t, "0xL2", f.distributor.calculator)
	assert.Equal(t, "0xL1", f.calculator.distributor)
}

func TestExecute_HardFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *executeFixture, opts *ExecuteOptions)
		wantErr error
	}{
		{
			name: "configuration echo differs",
			setup: func(f *executeFixture, _ *ExecuteOptions) {
				f.distributor.echo = "Fantom"
			},
			wantErr: ErrConfigurationMismatch,
		},
		{
			name: "negative fee",
			setup: func(_ *executeFixture, opts *ExecuteOptions) {
				opts.CalculateBridgeFee = fixedFee(-1)
			},
			wantErr: ErrNegativeFee,
		},
		{
			name: "fees exceed balance",
			setup: func(_ *executeFixture, opts *ExecuteOptions) {
				huge, _ := new(big.Int).SetString("1000000000000000000000000000", 10)
				opts.CalculateBridgeFee = func(context.Context, *Chain, *Chain) (*big.Int, error) {
					return huge, nil
				}
			},
			wantErr: ErrInsufficientFunds,
		},
		{
			name: "settlement never arrives",
			setup: func(f *executeFixture, opts *ExecuteOptions) {
				f.distributor.settleAfter = 1 << 30
				opts.SettleTimeout = 50 * time.Millisecond
			},
			wantErr: ErrSettlementTimeout,
		},
		{
			name: "event carries a different supply",
			setup: func(f *executeFixture, _ *ExecuteOptions) {
				emitted, err := EncodeDistributionPayload(nil, big.NewInt(1))
				if err != nil {
					panic(err)
				}
				f.distributor.emitted = emitted
			},
			wantErr: ErrTokenSupplyMismatch,
		},
		{
			name: "wrong number of args",
			setup: func(_ *executeFixture, opts *ExecuteOptions) {
				opts.Args = []string{"only-one"}
			},
			wantErr: ErrInvalidArgs,
		},
		{
			name: "destination not deployed",
			setup: func(f *executeFixture, _ *ExecuteOptions) {
				f.destination.Calculator = nil
			},
			wantErr: ErrNotDeployed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExecuteFixture(t)
			opts := f.options()
			tt.setup(f, &opts)

			res, err := f.execute(opts)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)
		})
	}
}

func TestExecute_FeeError(t *testing.T) {
	f := newExecuteFixture(t)
	opts := f.options()
	opts.CalculateBridgeFee = func(context.Context, *Chain, *Chain) (*big.Int, error) {
		return nil, errors.New("api down")
	}

	_, err := f.execute(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api down")
	assert.Nil(t, f.distributor.payload, "nothing is sent when fees cannot be quoted")
}

func TestExecute_UnknownChain(t *testing.T) {
	f := newExecuteFixture(t)
	ctx := context.Background()

	_, err := f.runner.Execute(ctx, []*Chain{f.source}, f.sim.Signer, f.options())
	assert.Error(t, err)
}

func TestExecute_DoubleClaimFailsRun(t *testing.T) {
	f := newExecuteFixture(t)
	f.distributor.allowDoubleClaim = true

	res, err := f.execute(f.options())
	require.ErrorIs(t, err, ErrUnexpectedClaimOutcome)
	require.NotNil(t, res)
	require.Len(t, res.Claims, 4)

	assert.False(t, res.Claims[0].Unexpected())
	assert.True(t, res.Claims[1].Unexpected())
	assert.False(t, res.Claims[2].Unexpected())
	assert.True(t, res.Claims[3].Unexpected())
}

func TestClaim_BalanceReadFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	account := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	d := newFakeDistributor("0x00000000000000000000000000000000000000d1")
	d.distributions[account] = big.NewInt(100)
	d.balanceErr = errors.New("header not found")

	r := NewRunner(testBundle(), logger)
	outcome := r.claim(context.Background(), logger, d, account, "claimTokensTest", d.ClaimTokensTest, true)

	assert.True(t, outcome.Succeeded)
	assert.False(t, outcome.Unexpected())
	assert.Nil(t, outcome.Balance)

	logged := buf.String()
	assert.Contains(t, logged, "level=WARN")
	assert.Contains(t, logged, "failed to read balance after claim")
	assert.Contains(t, logged, "account="+account.Hex())
	assert.Contains(t, logged, "method=claimTokensTest")
	assert.Contains(t, logged, "header not found")
}

func TestClaimOutcome_Unexpected(t *testing.T) {
	reverted := fmt.Errorf("claim: %w", evm.ErrTransactionReverted)

	assert.False(t, ClaimOutcome{ExpectSuccess: true, Succeeded: true}.Unexpected())
	assert.False(t, ClaimOutcome{ExpectSuccess: false, Succeeded: false, Err: reverted}.Unexpected())
	assert.True(t, ClaimOutcome{ExpectSuccess: true, Succeeded: false, Err: reverted}.Unexpected())
	assert.True(t, ClaimOutcome{ExpectSuccess: false, Succeeded: true}.Unexpected())
	assert.True(t, ClaimOutcome{ExpectSuccess: false, Succeeded: false, Err: errors.New("connection refused")}.Unexpected())
}

func TestCheckBalances(t *testing.T) {
	a := common.HexToAddress("0x0a")
	b := common.HexToAddress("0x0b")
	c := common.HexToAddress("0x0c")

	res := &ExecuteResult{
		Generated: []common.Address{a, c, b},
		Selected:  []common.Address{b, a},
		Balances: map[common.Address]*big.Int{
			a: big.NewInt(5),
			b: big.NewInt(5),
			c: big.NewInt(0),
		},
	}
	assert.NoError(t, checkBalances(res))

	res.Balances[c] = big.NewInt(1)
	assert.ErrorIs(t, checkBalances(res), ErrUnexpectedBalance)

	res.Balances[c] = big.NewInt(0)
	res.Balances[a] = big.NewInt(0)
	assert.ErrorIs(t, checkBalances(res), ErrUnexpectedBalance)
}

func TestBridgeFeeFromEstimator(t *testing.T) {
	est := &recordingEstimator{fee: big.NewInt(9)}
	fn := BridgeFee(est)

	fee, err := fn(context.Background(), testChain("Ethereum"), testChain("Avalanche"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), fee.Int64())
	assert.Equal(t, []string{"Ethereum", "Avalanche", "ETH"}, est.calls)
}

type recordingEstimator struct {
	fee   *big.Int
	calls []string
}

func (r *recordingEstimator) EstimateGasFee(_ context.Context, src, dst, symbol string) (*big.Int, error) {
	r.calls = append(r.calls, src, dst, symbol)
	return r.fee, nil
}
