package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrEmptyResult is returned when a view call returns no data, usually
	// because no contract is deployed at the address.
	ErrEmptyResult = errors.New("empty call result")
	// ErrEventNotFound is returned when a receipt carries no log for the requested event.
	ErrEventNotFound = errors.New("event not found in receipt")
)

// BoundContract is a deployed contract paired with its ABI and a transactor.
type BoundContract struct {
	address    common.Address
	abi        abi.ABI
	transactor *Transactor
}

// NewBoundContract binds an ABI to a deployed address.
func NewBoundContract(address common.Address, contractABI abi.ABI, transactor *Transactor) *BoundContract {
	return &BoundContract{
		address:    address,
		abi:        contractABI,
		transactor: transactor,
	}
}

// Address returns the contract address.
func (c *BoundContract) Address() common.Address {
	return c.address
}

// ABI returns the contract ABI.
func (c *BoundContract) ABI() abi.ABI {
	return c.abi
}

// Call invokes a constant method and returns the unpacked outputs.
func (c *BoundContract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := c.transactor.Call(ctx, c.address, data)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	m, ok := c.abi.Methods[method]
	if ok && len(m.Outputs) > 0 && len(out) == 0 {
		return nil, fmt.Errorf("call %s at %s: %w", method, c.address.Hex(), ErrEmptyResult)
	}

	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// Transact invokes a state-changing method, attaching value, and waits for it to be mined.
func (c *BoundContract) Transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (*types.Receipt, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return c.transactor.Transact(ctx, method, c.address, data, value)
}

// FindEvent returns the non-indexed arguments of the first log in receipt
// emitted by this contract for the named event.
func (c *BoundContract) FindEvent(receipt *types.Receipt, event string) (map[string]interface{}, error) {
	ev, ok := c.abi.Events[event]
	if !ok {
		return nil, fmt.Errorf("event %s not in ABI", event)
	}
	if receipt == nil {
		return nil, fmt.Errorf("%s: %w", event, ErrEventNotFound)
	}

	for _, log := range receipt.Logs {
		if log.Address != c.address || len(log.Topics) == 0 || log.Topics[0] != ev.ID {
			continue
		}
		values := make(map[string]interface{})
		if err := c.abi.UnpackIntoMap(values, event, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", event, err)
		}
		return values, nil
	}

	return nil, fmt.Errorf("%s: %w", event, ErrEventNotFound)
}

// CallString calls a method returning a single string.
func (c *BoundContract) CallString(ctx context.Context, method string, args ...interface{}) (string, error) {
	out, err := c.Call(ctx, method, args...)
	if err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", fmt.Errorf("%s: expected 1 output, got %d", method, len(out))
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected output type %T", method, out[0])
	}
	return s, nil
}

// CallBigInt calls a method returning a single integer.
func (c *BoundContract) CallBigInt(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: expected 1 output, got %d", method, len(out))
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output type %T", method, out[0])
	}
	return n, nil
}
