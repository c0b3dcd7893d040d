// Package artifacts loads compiled Solidity contract artifacts for the ProtocolX contracts.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Contract names as emitted by the Hardhat build.
const (
	DaoTokenDistributor       = "DaoTokenDistributor"
	DaoDistributionCalculator = "DaoDistributionCalculator"
	ExampleProxy              = "ExampleProxy"
)

// Artifact paths relative to the Hardhat artifacts root.
var artifactPaths = map[string]string{
	DaoTokenDistributor:       "examples/evm/protocolx/DaoTokenDistributor.sol/DaoTokenDistributor.json",
	DaoDistributionCalculator: "examples/evm/protocolx/DaoDistributionCalculator.sol/DaoDistributionCalculator.json",
	ExampleProxy:              "examples/evm/Proxy.sol/ExampleProxy.json",
}

var (
	// ErrEmptyBytecode is returned when an artifact carries no creation bytecode.
	ErrEmptyBytecode = errors.New("empty bytecode")
	// ErrUnlinkedBytecode is returned when bytecode still contains library placeholders.
	ErrUnlinkedBytecode = errors.New("bytecode contains unlinked library references")
)

// ContractArtifact represents a compiled Solidity contract with ABI and bytecode.
type ContractArtifact struct {
	ABI              json.RawMessage `json:"abi"`
	Bytecode         Bytecode        `json:"bytecode"`
	DeployedBytecode Bytecode        `json:"deployedBytecode,omitempty"`
	ContractName     string          `json:"contractName,omitempty"`
}

// Bytecode contains the contract bytecode.
// It handles both formats:
// - Simple string: "0x608060..."
// - Object with "object" field: {"object": "0x608060..."}
type Bytecode struct {
	hex string
}

// NewBytecode wraps a hex string.
func NewBytecode(hex string) Bytecode {
	return Bytecode{hex: hex}
}

// UnmarshalJSON handles both string and object bytecode formats.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.hex = s
		return nil
	}

	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.hex = obj.Object
		return nil
	}

	return fmt.Errorf("bytecode must be a string or object with 'object' field")
}

// MarshalJSON marshals the bytecode as a string.
func (b Bytecode) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.hex)
}

// String returns the bytecode hex string.
func (b Bytecode) String() string {
	return b.hex
}

// Bytes decodes the bytecode.
func (b Bytecode) Bytes() ([]byte, error) {
	h := strings.TrimSpace(b.hex)
	if h == "" || h == "0x" {
		return nil, ErrEmptyBytecode
	}
	if strings.Contains(h, "__$") {
		return nil, ErrUnlinkedBytecode
	}
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	return hexutil.Decode(h)
}

// ParsedABI parses the artifact's ABI.
func (a *ContractArtifact) ParsedABI() (abi.ABI, error) {
	if len(a.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("artifact %q has no ABI", a.ContractName)
	}
	return abi.JSON(bytes.NewReader(a.ABI))
}

// CreationCode returns the creation bytecode with ABI-encoded constructor
// arguments appended.
func (a *ContractArtifact) CreationCode(args ...interface{}) ([]byte, error) {
	code, err := a.Bytecode.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%s bytecode: %w", a.ContractName, err)
	}
	if len(args) == 0 {
		return code, nil
	}

	parsed, err := a.ParsedABI()
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}
	packed, err := parsed.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s constructor args: %w", a.ContractName, err)
	}

	out := make([]byte, 0, len(code)+len(packed))
	out = append(out, code...)
	return append(out, packed...), nil
}

// Bundle holds the artifacts required by the ProtocolX deployment.
type Bundle struct {
	Distributor *ContractArtifact
	Calculator  *ContractArtifact
	Proxy       *ContractArtifact

	Root string
}

// LoadFile reads and parses a single artifact file.
func LoadFile(path string) (*ContractArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	var artifact ContractArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if artifact.ContractName == "" {
		artifact.ContractName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &artifact, nil
}

// LoadBundle loads the ProtocolX artifacts from a Hardhat artifacts directory.
// All contracts must be present; missing ones are reported together.
func LoadBundle(root string) (*Bundle, error) {
	loaded := make(map[string]*ContractArtifact, len(artifactPaths))

	var missing []string
	for _, name := range []string{DaoTokenDistributor, DaoDistributionCalculator, ExampleProxy} {
		path := filepath.Join(root, filepath.FromSlash(artifactPaths[name]))
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, name)
			continue
		}

		artifact, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		loaded[name] = artifact
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required contracts in %s: %v", root, missing)
	}

	return &Bundle{
		Distributor: loaded[DaoTokenDistributor],
		Calculator:  loaded[DaoDistributionCalculator],
		Proxy:       loaded[ExampleProxy],
		Root:        root,
	}, nil
}
