// Package signer provides transaction signers for ProtocolX deployments and runs.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrPublicKeyOnProduction is returned when a publicly known development key is
// bound to a production chain.
var ErrPublicKeyOnProduction = errors.New("publicly known development key cannot sign for a production chain")

// TransactionSigner signs transactions for a single address on a single chain.
type TransactionSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTransaction(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// productionChainIDs are networks on which development keys are refused.
var productionChainIDs = map[int64]string{
	1:     "Ethereum Mainnet",
	10:    "Optimism",
	56:    "BNB Smart Chain",
	137:   "Polygon",
	250:   "Fantom",
	8453:  "Base",
	42161: "Arbitrum One",
	43114: "Avalanche C-Chain",
	1284:  "Moonbeam",
}

// developmentAddresses are the first accounts of the default Hardhat/Anvil
// mnemonic ("test test test ... junk"). Their keys are public.
var developmentAddresses = map[common.Address]struct{}{
	common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"): {},
	common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"): {},
	common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"): {},
	common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906"): {},
	common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65"): {},
}

// LocalSigner implements TransactionSigner with an in-process private key.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewLocalSigner creates a LocalSigner from a hex-encoded private key.
// A "0x" prefix is accepted.
func NewLocalSigner(hexKey string, chainID int64) (*LocalSigner, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return newLocalSigner(privateKey, big.NewInt(chainID))
}

func newLocalSigner(privateKey *ecdsa.PrivateKey, chainID *big.Int) (*LocalSigner, error) {
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	if name, ok := productionChainIDs[chainID.Int64()]; ok {
		if _, public := developmentAddresses[address]; public {
			return nil, fmt.Errorf("%w: %s (chain_id=%s)", ErrPublicKeyOnProduction, name, chainID)
		}
	}

	return &LocalSigner{
		privateKey: privateKey,
		address:    address,
		chainID:    new(big.Int).Set(chainID),
	}, nil
}

// WithChainID returns a signer for the same key bound to another chain.
func (s *LocalSigner) WithChainID(chainID *big.Int) (*LocalSigner, error) {
	return newLocalSigner(s.privateKey, chainID)
}

// Address returns the signer's Ethereum address.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// ChainID returns the chain ID used for EIP-155 signing.
func (s *LocalSigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTransaction signs a transaction using the local private key.
func (s *LocalSigner) SignTransaction(_ context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signedTx, nil
}

var _ TransactionSigner = (*LocalSigner)(nil)

// GenerateWallets creates n ephemeral signers with fresh random keys.
// They exist only to produce addresses and are never persisted.
func GenerateWallets(n int, chainID *big.Int) ([]*LocalSigner, error) {
	if n <= 0 {
		return nil, fmt.Errorf("wallet count must be positive, got %d", n)
	}

	wallets := make([]*LocalSigner, n)
	for i := range wallets {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate key %d: %w", i, err)
		}
		w, err := newLocalSigner(key, chainID)
		if err != nil {
			return nil, err
		}
		wallets[i] = w
	}
	return wallets, nil
}

// Addresses returns the addresses of the given signers in order.
func Addresses(wallets []*LocalSigner) []common.Address {
	out := make([]common.Address, len(wallets))
	for i, w := range wallets {
		out[i] = w.Address()
	}
	return out
}
