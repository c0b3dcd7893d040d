// Package gmp deploys contracts the way Axelar general message passing
// expects them and quotes cross-chain execution fees.
package gmp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Bidon15/protocolx/internal/artifacts"
	"github.com/Bidon15/protocolx/internal/evm"
)

// ConstAddressDeployerABI is the subset of Axelar's ConstAddressDeployer used here.
const ConstAddressDeployerABI = `[
	{"type":"function","name":"deployAndInit","stateMutability":"nonpayable",
	 "inputs":[{"name":"bytecode","type":"bytes"},{"name":"salt","type":"bytes32"},{"name":"init","type":"bytes"}],
	 "outputs":[{"name":"deployedAddress_","type":"address"}]},
	{"type":"function","name":"deployedAddress","stateMutability":"view",
	 "inputs":[{"name":"bytecode","type":"bytes"},{"name":"sender","type":"address"},{"name":"salt","type":"bytes32"}],
	 "outputs":[{"name":"deployedAddress_","type":"address"}]},
	{"type":"event","name":"Deployed","anonymous":false,
	 "inputs":[{"name":"bytecodeHash","type":"bytes32","indexed":true},{"name":"salt","type":"bytes32","indexed":true},{"name":"deployedAddress","type":"address","indexed":true}]}
]`

var (
	// ErrNoCode is returned when a deployment finished but the target address holds no code.
	ErrNoCode = errors.New("no code at deployed address")
	// ErrAddressMismatch is returned when the deployer reports a different address than predicted.
	ErrAddressMismatch = errors.New("deployed address does not match prediction")
)

var (
	deployerABI   abi.ABI
	stringArgs    abi.Arguments
	senderSalt    abi.Arguments
	deployedTopic common.Hash
)

func init() {
	var err error
	deployerABI, err = abi.JSON(strings.NewReader(ConstAddressDeployerABI))
	if err != nil {
		panic(fmt.Sprintf("parse ConstAddressDeployer ABI: %v", err))
	}
	deployedTopic = deployerABI.Events["Deployed"].ID

	stringTy, _ := abi.NewType("string", "", nil)
	addressTy, _ := abi.NewType("address", "", nil)
	bytes32Ty, _ := abi.NewType("bytes32", "", nil)
	stringArgs = abi.Arguments{{Type: stringTy}}
	senderSalt = abi.Arguments{{Type: addressTy}, {Type: bytes32Ty}}
}

// DeployContract deploys an artifact with constructor args and returns its address.
func DeployContract(ctx context.Context, tx *evm.Transactor, artifact *artifacts.ContractArtifact, args ...interface{}) (common.Address, *types.Receipt, error) {
	code, err := artifact.CreationCode(args...)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%s: %w", artifact.ContractName, err)
	}
	return tx.Deploy(ctx, artifact.ContractName, code)
}

// UpgradableParams describes an implementation/proxy pair deployed through
// a ConstAddressDeployer so the proxy lands on the same address on every chain.
type UpgradableParams struct {
	Implementation     *artifacts.ContractArtifact
	Proxy              *artifacts.ContractArtifact
	ImplementationArgs []interface{}
	ProxyArgs          []interface{}
	// SetupParams is forwarded to the implementation's setup through proxy.init.
	SetupParams []byte
	// Key is hashed into the CREATE2 salt.
	Key string
}

// UpgradableDeployment is the outcome of DeployUpgradable.
type UpgradableDeployment struct {
	Proxy            common.Address
	Implementation   common.Address
	ImplementationTx common.Hash
	ProxyTx          common.Hash
}

// DeployUpgradable deploys the implementation directly, then deploys and
// initialises the proxy through the ConstAddressDeployer at deployer.
// The returned Proxy address is the one callers should use.
func DeployUpgradable(ctx context.Context, tx *evm.Transactor, deployer common.Address, p UpgradableParams) (*UpgradableDeployment, error) {
	if p.Implementation == nil || p.Proxy == nil {
		return nil, errors.New("implementation and proxy artifacts are required")
	}

	implAddr, implReceipt, err := DeployContract(ctx, tx, p.Implementation, p.ImplementationArgs...)
	if err != nil {
		return nil, fmt.Errorf("deploy implementation: %w", err)
	}

	proxyCode, err := p.Proxy.CreationCode(p.ProxyArgs...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Proxy.ContractName, err)
	}

	proxyABI, err := p.Proxy.ParsedABI()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Proxy.ContractName, err)
	}
	initData, err := proxyABI.Pack("init", implAddr, tx.Address(), p.SetupParams)
	if err != nil {
		return nil, fmt.Errorf("pack proxy init: %w", err)
	}

	salt, err := Salt(p.Key)
	if err != nil {
		return nil, err
	}
	predicted, err := PredictAddress(deployer, tx.Address(), salt, proxyCode)
	if err != nil {
		return nil, err
	}

	data, err := DeployAndInitCalldata(proxyCode, salt, initData)
	if err != nil {
		return nil, err
	}
	receipt, err := tx.Transact(ctx, "deployAndInit", deployer, data, nil)
	if err != nil {
		return nil, fmt.Errorf("deploy proxy: %w", err)
	}

	if reported, ok := deployedAddress(receipt, deployer); ok && reported != predicted {
		return nil, fmt.Errorf("%w: predicted %s, deployer reported %s", ErrAddressMismatch, predicted.Hex(), reported.Hex())
	}

	code, err := tx.Client().CodeAt(ctx, predicted, nil)
	if err != nil {
		return nil, fmt.Errorf("get proxy code: %w", err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCode, predicted.Hex())
	}

	return &UpgradableDeployment{
		Proxy:            predicted,
		Implementation:   implAddr,
		ImplementationTx: implReceipt.TxHash,
		ProxyTx:          receipt.TxHash,
	}, nil
}

// Salt returns keccak256(abi.encode(key)), the salt Axelar's deploy helpers derive from a string key.
func Salt(key string) (common.Hash, error) {
	encoded, err := stringArgs.Pack(key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode salt key: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// PredictAddress returns the address a ConstAddressDeployer at deployer
// produces for sender, salt and bytecode.
func PredictAddress(deployer, sender common.Address, salt common.Hash, bytecode []byte) (common.Address, error) {
	encoded, err := senderSalt.Pack(sender, [32]byte(salt))
	if err != nil {
		return common.Address{}, fmt.Errorf("encode deploy salt: %w", err)
	}
	return crypto.CreateAddress2(deployer, crypto.Keccak256Hash(encoded), crypto.Keccak256(bytecode)), nil
}

// DeployAndInitCalldata encodes ConstAddressDeployer.deployAndInit.
func DeployAndInitCalldata(bytecode []byte, salt common.Hash, initData []byte) ([]byte, error) {
	data, err := deployerABI.Pack("deployAndInit", bytecode, [32]byte(salt), initData)
	if err != nil {
		return nil, fmt.Errorf("pack deployAndInit: %w", err)
	}
	return data, nil
}

func deployedAddress(receipt *types.Receipt, deployer common.Address) (common.Address, bool) {
	if receipt == nil {
		return common.Address{}, false
	}
	for _, l := range receipt.Logs {
		if l.Address != deployer || len(l.Topics) != 4 || l.Topics[0] != deployedTopic {
			continue
		}
		return common.BytesToAddress(l.Topics[3].Bytes()), true
	}
	return common.Address{}, false
}
