// Package store persists ProtocolX deployments between runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no deployment is recorded for a chain.
var ErrNotFound = errors.New("deployment not found")

// Deployment records the contracts deployed on one chain.
type Deployment struct {
	ID      uuid.UUID `yaml:"id"`
	Chain   string    `yaml:"chain"`
	ChainID int64     `yaml:"chain_id"`

	// Distributor is the proxy address; DistributorImplementation sits behind it.
	Distributor               string `yaml:"distributor"`
	DistributorImplementation string `yaml:"distributor_implementation"`
	Calculator                string `yaml:"calculator"`
	Deployer                  string `yaml:"deployer"`

	DistributorTxHash string `yaml:"distributor_tx_hash"`
	CalculatorTxHash  string `yaml:"calculator_tx_hash"`

	DeployedAt time.Time `yaml:"deployed_at"`
}

// NewDeployment creates a record with a fresh ID.
func NewDeployment(chain string, chainID int64) *Deployment {
	return &Deployment{
		ID:         uuid.New(),
		Chain:      chain,
		ChainID:    chainID,
		DeployedAt: time.Now().UTC(),
	}
}

// DistributorAddress returns the distributor proxy address.
func (d *Deployment) DistributorAddress() common.Address {
	return common.HexToAddress(d.Distributor)
}

// CalculatorAddress returns the calculator address.
func (d *Deployment) CalculatorAddress() common.Address {
	return common.HexToAddress(d.Calculator)
}

// Validate checks that the record holds usable addresses.
func (d *Deployment) Validate() error {
	if d.Chain == "" {
		return errors.New("deployment has no chain name")
	}
	for name, addr := range map[string]string{
		"distributor": d.Distributor,
		"calculator":  d.Calculator,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s: invalid %s address %q", d.Chain, name, addr)
		}
	}
	return nil
}

// Store persists deployments keyed by chain name.
type Store interface {
	// Save creates or replaces the deployment for d.Chain.
	Save(ctx context.Context, d *Deployment) error
	// Get returns the deployment for a chain or ErrNotFound.
	Get(ctx context.Context, chain string) (*Deployment, error)
	// List returns all deployments ordered by chain name.
	List(ctx context.Context) ([]*Deployment, error)
}
