package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ErrUnknownNetwork is returned when the chain id has no table entry.
var ErrUnknownNetwork = errors.New("unknown network")

// Network holds the raffle and randomness parameters for one chain.
type Network struct {
	Name                 string `yaml:"name"`
	ChainID              int64  `yaml:"-"`
	Development          bool   `yaml:"development"`
	EntranceFee          string `yaml:"entrance_fee"`
	IntervalSeconds      int64  `yaml:"interval_seconds"`
	KeyHash              string `yaml:"key_hash"`
	SubscriptionID       uint64 `yaml:"subscription_id"`
	CallbackGasLimit     uint32 `yaml:"callback_gas_limit"`
	RequestConfirmations uint16 `yaml:"request_confirmations"`
	BlockConfirmations   int    `yaml:"block_confirmations"`
	Coordinator          string `yaml:"coordinator"`
}

// IntervalDuration returns the draw interval.
func (n Network) IntervalDuration() time.Duration {
	return time.Duration(n.IntervalSeconds) * time.Second
}

// KeyHashValue returns the configured key hash, zero when unset.
func (n Network) KeyHashValue() common.Hash {
	return common.HexToHash(n.KeyHash)
}

// Networks is the per-chain parameter table.
type Networks struct {
	Networks map[int64]Network `yaml:"networks"`
}

// Lookup returns the entry for a chain id.
func (n *Networks) Lookup(chainID int64) (Network, bool) {
	network, ok := n.Networks[chainID]
	if !ok {
		return Network{}, false
	}
	network.ChainID = chainID
	return network, true
}

// LoadNetworksFromPath loads the networks table from a YAML file.
func LoadNetworksFromPath(path string) (*Networks, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read networks config: %w", err)
	}

	var table Networks
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse networks config: %w", err)
	}

	for id, network := range table.Networks {
		if network.EntranceFee == "" {
			return nil, fmt.Errorf("network %d: entrance_fee is required", id)
		}
		if network.IntervalSeconds <= 0 {
			return nil, fmt.Errorf("network %d: interval_seconds must be positive", id)
		}
	}

	return &table, nil
}

// LoadNetworksOrDefault loads the table from path, falling back to the
// built-in table when the file does not exist. Parse errors are returned.
func LoadNetworksOrDefault(path string) (*Networks, error) {
	if path == "" {
		return DefaultNetworks(), nil
	}
	table, err := LoadNetworksFromPath(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultNetworks(), nil
	}
	return table, err
}

// DefaultNetworks returns the built-in table for the local and goerli chains.
func DefaultNetworks() *Networks {
	const keyHash = "0x79d3d8832d904592c0bf9818b621522c988bb8b0c05cdc3b15aea1b6e8db0c15"
	return &Networks{
		Networks: map[int64]Network{
			31337: {
				Name:                 "localhost",
				Development:          true,
				EntranceFee:          "0.01",
				IntervalSeconds:      30,
				KeyHash:              keyHash,
				CallbackGasLimit:     100000,
				RequestConfirmations: 1,
				BlockConfirmations:   1,
			},
			5: {
				Name:                 "goerli",
				EntranceFee:          "0.01",
				IntervalSeconds:      30,
				KeyHash:              keyHash,
				SubscriptionID:       6105,
				CallbackGasLimit:     100000,
				RequestConfirmations: 3,
				BlockConfirmations:   6,
				Coordinator:          "0x2Ca8E0C643bDe4C2E08ab1fA0da3401AdAD7734D",
			},
		},
	}
}
