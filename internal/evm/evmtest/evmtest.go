// Package evmtest provides an in-process simulated chain for tests.
package evmtest

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/protocolx/internal/evm"
	"github.com/Bidon15/protocolx/internal/signer"
)

// ChainID of the simulated backend (params.AllDevChainProtocolChanges).
const ChainID = 1337

// FunderKey is a deterministic key funded in the simulated genesis.
const FunderKey = "fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19"

// AnswerCreationCode deploys a contract whose runtime returns uint256(42) for any call.
const AnswerCreationCode = "0x600a600c600039600a6000f3" + "602a60005260206000f3"

// AnswerRuntime is the runtime code left by AnswerCreationCode.
const AnswerRuntime = "0x602a60005260206000f3"

// RevertCreationCode deploys a contract whose runtime always reverts.
const RevertCreationCode = "0x6005600c60003960056000f3" + "60006000fd"

// AutoMiningClient commits a block after every sent transaction.
type AutoMiningClient struct {
	simulated.Client
	Backend *simulated.Backend
}

// SendTransaction sends tx and mines it immediately.
func (c *AutoMiningClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	c.Backend.Commit()
	return nil
}

var _ evm.Client = (*AutoMiningClient)(nil)

// Chain is a simulated chain with a funded signer.
type Chain struct {
	Client *AutoMiningClient
	Signer *signer.LocalSigner
	Logger *slog.Logger
}

// NewChain starts a simulated backend funded for FunderKey. It is closed on test cleanup.
func NewChain(t *testing.T) *Chain {
	t.Helper()

	s, err := signer.NewLocalSigner(FunderKey, ChainID)
	require.NoError(t, err)

	funds, _ := new(big.Int).SetString("1000000000000000000000", 10)
	backend := simulated.NewBackend(types.GenesisAlloc{
		s.Address(): {Balance: funds},
	})
	t.Cleanup(func() { _ = backend.Close() })

	return &Chain{
		Client: &AutoMiningClient{Client: backend.Client(), Backend: backend},
		Signer: s,
		Logger: DiscardLogger(),
	}
}

// Transactor returns a transactor for the funded signer.
func (c *Chain) Transactor(opts ...evm.TransactorOption) *evm.Transactor {
	return evm.NewTransactor(c.Client, c.Signer, c.Logger, opts...)
}

// Dialer returns an evm.Dialer that always yields this chain's client.
func (c *Chain) Dialer() evm.Dialer {
	return dialer{client: c.Client}
}

type dialer struct {
	client evm.Client
}

func (d dialer) Dial(context.Context, string) (evm.Client, error) {
	return d.client, nil
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MustDecode decodes 0x-prefixed hex or fails the test.
func MustDecode(t *testing.T, h string) []byte {
	t.Helper()
	b, err := hexutil.Decode(h)
	require.NoError(t, err)
	return b
}
