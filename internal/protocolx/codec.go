package protocolx

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DAO token configuration
const (
	TokenName     = "ProtocolX Dao Token"
	TokenSymbol   = "PROX"
	TokenDecimals = 13

	// DeploySaltKey derives the CREATE2 salt of the distributor proxy.
	DeploySaltKey = "protocolx"

	DefaultTokenSupply = 123456790
	DefaultWalletCount = 5
)

var (
	payloadArgs abi.Arguments
	setupArgs   abi.Arguments
)

func init() {
	addressSlice, _ := abi.NewType("address[]", "", nil)
	uint256Ty, _ := abi.NewType("uint256", "", nil)
	stringTy, _ := abi.NewType("string", "", nil)

	payloadArgs = abi.Arguments{{Type: addressSlice}, {Type: uint256Ty}}
	setupArgs = abi.Arguments{{Type: stringTy}, {Type: stringTy}}
}

// EncodeDistributionPayload encodes (address[], uint256) for calculateTokenDistribution.
func EncodeDistributionPayload(addresses []common.Address, supply *big.Int) ([]byte, error) {
	if supply == nil || supply.Sign() < 0 {
		return nil, errors.New("token supply must be non-negative")
	}
	data, err := payloadArgs.Pack(addresses, supply)
	if err != nil {
		return nil, fmt.Errorf("encode distribution payload: %w", err)
	}
	return data, nil
}

// DecodeDistributionPayload is the inverse of EncodeDistributionPayload.
func DecodeDistributionPayload(data []byte) ([]common.Address, *big.Int, error) {
	values, err := payloadArgs.Unpack(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode distribution payload: %w", err)
	}
	addresses, ok := values[0].([]common.Address)
	if !ok {
		return nil, nil, fmt.Errorf("decode distribution payload: unexpected addresses type %T", values[0])
	}
	supply, ok := values[1].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("decode distribution payload: unexpected supply type %T", values[1])
	}
	return addresses, supply, nil
}

// EncodeTokenSetup encodes the (name, symbol) setup params passed to the distributor proxy.
func EncodeTokenSetup(name, symbol string) ([]byte, error) {
	data, err := setupArgs.Pack(name, symbol)
	if err != nil {
		return nil, fmt.Errorf("encode token setup: %w", err)
	}
	return data, nil
}

// constructorUint converts v to the Go type abi expects for the idx-th
// constructor input, which must be an unsigned integer.
func constructorUint(parsed abi.ABI, idx int, v uint64) (interface{}, error) {
	inputs := parsed.Constructor.Inputs
	if idx >= len(inputs) {
		return nil, fmt.Errorf("constructor has %d inputs, want at least %d", len(inputs), idx+1)
	}
	t := inputs[idx].Type
	if t.T != abi.UintTy {
		return nil, fmt.Errorf("constructor input %d is %s, want uint", idx, t.String())
	}
	switch t.Size {
	case 8:
		return uint8(v), nil
	case 16:
		return uint16(v), nil
	case 32:
		return uint32(v), nil
	case 64:
		return v, nil
	default:
		return new(big.Int).SetUint64(v), nil
	}
}
