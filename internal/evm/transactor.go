package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Bidon15/protocolx/internal/signer"
)

// Default transaction parameters
const (
	DefaultGasPriceBoostPercent  = 150
	DefaultGasLimitBufferPercent = 120
	DefaultFallbackGasLimit      = 5_000_000
)

var (
	// ErrExecutionReverted is returned when gas estimation shows the call would revert.
	// Nothing is broadcast in that case.
	ErrExecutionReverted = errors.New("execution reverted")
	// ErrTransactionReverted is returned when a mined transaction has a failed status.
	ErrTransactionReverted = errors.New("transaction reverted")
	// ErrChainIDMismatch is returned when the signer and the RPC endpoint disagree on the chain.
	ErrChainIDMismatch = errors.New("chain ID mismatch")
)

// TxObserver is notified of every transaction outcome.
type TxObserver interface {
	ObserveTransaction(chain, method string, receipt *types.Receipt, err error)
}

// TransactorOption customises a Transactor.
type TransactorOption func(*Transactor)

// WithObserver sets the transaction observer.
func WithObserver(o TxObserver) TransactorOption {
	return func(t *Transactor) { t.observer = o }
}

// WithChainName sets the chain label used in logs and metrics.
func WithChainName(name string) TransactorOption {
	return func(t *Transactor) { t.chain = name }
}

// WithReceiptTimeout bounds how long a single transaction may wait to be mined.
func WithReceiptTimeout(d time.Duration) TransactorOption {
	return func(t *Transactor) { t.receiptTimeout = d }
}

// WithFallbackGasLimit sets the gas limit used when estimation fails for a non-revert reason.
func WithFallbackGasLimit(limit uint64) TransactorOption {
	return func(t *Transactor) { t.fallbackGasLimit = limit }
}

// Transactor binds a signer to a client and submits transactions sequentially.
// It is the Go counterpart of a wallet connected to a provider.
type Transactor struct {
	client Client
	signer signer.TransactionSigner
	logger *slog.Logger

	observer         TxObserver
	chain            string
	receiptTimeout   time.Duration
	fallbackGasLimit uint64
}

// NewTransactor creates a Transactor.
func NewTransactor(client Client, s signer.TransactionSigner, logger *slog.Logger, opts ...TransactorOption) *Transactor {
	t := &Transactor{
		client:           client,
		signer:           s,
		logger:           logger,
		fallbackGasLimit: DefaultFallbackGasLimit,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Address returns the sending address.
func (t *Transactor) Address() common.Address {
	return t.signer.Address()
}

// Client returns the underlying RPC client.
func (t *Transactor) Client() Client {
	return t.client
}

// ChainName returns the chain label.
func (t *Transactor) ChainName() string {
	return t.chain
}

// VerifyChainID checks that the RPC endpoint serves the signer's chain.
func (t *Transactor) VerifyChainID(ctx context.Context) error {
	chainID, err := t.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain ID: %w", err)
	}
	if chainID.Cmp(t.signer.ChainID()) != 0 {
		return fmt.Errorf("%w: signer %s, rpc %s", ErrChainIDMismatch, t.signer.ChainID(), chainID)
	}
	return nil
}

// Balance returns the sender's native balance.
func (t *Transactor) Balance(ctx context.Context) (*big.Int, error) {
	return t.client.BalanceAt(ctx, t.signer.Address(), nil)
}

// Deploy sends a contract creation transaction and returns the new contract address.
func (t *Transactor) Deploy(ctx context.Context, label string, creationCode []byte) (common.Address, *types.Receipt, error) {
	receipt, err := t.send(ctx, label, nil, creationCode, nil)
	if err != nil {
		return common.Address{}, receipt, err
	}
	if receipt.ContractAddress == (common.Address{}) {
		return common.Address{}, receipt, fmt.Errorf("%s: receipt has no contract address", label)
	}
	return receipt.ContractAddress, receipt, nil
}

// Transact sends a call to a contract and waits until it is mined.
func (t *Transactor) Transact(ctx context.Context, label string, to common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	return t.send(ctx, label, &to, data, value)
}

// Call performs a read-only call against the latest block.
func (t *Transactor) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return t.client.CallContract(ctx, ethereum.CallMsg{
		From: t.signer.Address(),
		To:   &to,
		Data: data,
	}, nil)
}

func (t *Transactor) send(ctx context.Context, label string, to *common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	receipt, err := t.sendAndWait(ctx, label, to, data, value)
	if t.observer != nil {
		t.observer.ObserveTransaction(t.chain, label, receipt, err)
	}
	return receipt, err
}

func (t *Transactor) sendAndWait(ctx context.Context, label string, to *common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	from := t.signer.Address()

	nonce, err := t.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%s: get nonce: %w", label, err)
	}

	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: get gas price: %w", label, err)
	}
	gasPrice = new(big.Int).Mul(gasPrice, big.NewInt(DefaultGasPriceBoostPercent))
	gasPrice = gasPrice.Div(gasPrice, big.NewInt(100))

	gasLimit, err := t.client.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       to,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		if IsRevert(err) {
			return nil, fmt.Errorf("%s: %w%s", label, ErrExecutionReverted, formatReason(RevertReason(err)))
		}
		gasLimit = t.fallbackGasLimit
		t.logger.Warn("gas estimation failed, using default",
			slog.String("method", label),
			slog.Uint64("gas_limit", gasLimit),
			slog.String("error", err.Error()),
		)
	}
	gasLimit = gasLimit * DefaultGasLimitBufferPercent / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       to,
		Value:    value,
		Data:     data,
	})

	signedTx, err := t.signer.SignTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: sign transaction: %w", label, err)
	}

	if err := t.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("%s: send transaction: %w", label, err)
	}

	t.logger.Debug("transaction submitted, waiting for confirmation",
		slog.String("chain", t.chain),
		slog.String("method", label),
		slog.String("tx_hash", signedTx.Hash().Hex()),
	)

	waitCtx := ctx
	if t.receiptTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.receiptTimeout)
		defer cancel()
	}

	receipt, err := bind.WaitMined(waitCtx, t.client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("%s: wait for receipt %s: %w", label, signedTx.Hash().Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%s: %w (tx %s)", label, ErrTransactionReverted, signedTx.Hash().Hex())
	}

	t.logger.Debug("transaction confirmed",
		slog.String("chain", t.chain),
		slog.String("method", label),
		slog.Uint64("block_number", receipt.BlockNumber.Uint64()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)

	return receipt, nil
}

// IsRevert reports whether an RPC error describes an EVM revert.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrExecutionReverted) || errors.Is(err, ErrTransactionReverted) {
		return true
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// RevertReason extracts a Solidity revert reason from an RPC error, if any.
func RevertReason(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	hexData, ok := dataErr.ErrorData().(string)
	if !ok {
		return ""
	}
	data, decodeErr := hexutil.Decode(hexData)
	if decodeErr != nil {
		return ""
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return ""
	}
	return reason
}

func formatReason(reason string) string {
	if reason == "" {
		return ""
	}
	return ": " + reason
}
