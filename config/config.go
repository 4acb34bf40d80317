// Package config provides configuration management for the smart account
// tooling with support for environment variables and chain presets.
package config

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration values
type Config struct {
	ChainID        *big.Int
	OwnerKey       string
	AccountAddress string
	Guardian       string
	RecoveryDelay  uint64
	ListenAddr     string
}

// ChainPreset represents a predefined chain configuration
type ChainPreset struct {
	Name    string
	ChainID *big.Int
}

// ChainPresets contains predefined configurations for common networks
var ChainPresets = map[string]ChainPreset{
	"local": {
		Name:    "local",
		ChainID: big.NewInt(31337),
	},
	"mainnet": {
		Name:    "mainnet",
		ChainID: big.NewInt(1),
	},
	"sepolia": {
		Name:    "sepolia",
		ChainID: big.NewInt(11155111),
	},
	"holesky": {
		Name:    "holesky",
		ChainID: big.NewInt(17000),
	},
}

// LoadConfig loads configuration from .env file
// It silently ignores if the file doesn't exist
func LoadConfig(envPath string) error {
	if envPath != "" {
		return godotenv.Load(envPath)
	}
	// Try to load from current directory, ignore if not exists
	_ = godotenv.Load()
	return nil
}

// GetChainID returns chain ID from environment variable or default
func GetChainID() *big.Int {
	if val := os.Getenv("CHAIN_ID"); val != "" {
		if id, ok := new(big.Int).SetString(val, 10); ok {
			return id
		}
	}
	if preset := os.Getenv("CHAIN_PRESET"); preset != "" {
		if p, ok := GetChainPreset(preset); ok {
			return p.ChainID
		}
	}
	return big.NewInt(1) // Default: mainnet
}

// GetOwnerKey returns the owner private key from environment variable
// Returns empty string if not set
func GetOwnerKey() string {
	key := os.Getenv("OWNER_KEY")
	return strings.TrimPrefix(key, "0x")
}

// GetAccountAddress returns the account address from environment (optional)
func GetAccountAddress() string {
	return os.Getenv("ACCOUNT_ADDRESS")
}

// GetGuardian returns the recovery guardian address from environment
// Returns empty string if not set
func GetGuardian() string {
	return os.Getenv("GUARDIAN_ADDRESS")
}

// GetRecoveryDelay returns the recovery delay in seconds from environment,
// defaulting to 1 day
func GetRecoveryDelay() uint64 {
	if val := os.Getenv("RECOVERY_DELAY"); val != "" {
		if d, err := strconv.ParseUint(val, 10, 64); err == nil {
			return d
		}
	}
	return 86400
}

// GetListenAddr returns the HTTP listen address from environment or default
func GetListenAddr() string {
	if val := os.Getenv("LISTEN_ADDR"); val != "" {
		return val
	}
	return "127.0.0.1:8437"
}

// GetChainPreset returns a preset by name (case-insensitive)
func GetChainPreset(name string) (ChainPreset, bool) {
	preset, ok := ChainPresets[strings.ToLower(name)]
	return preset, ok
}

// ApplyPreset returns configuration from a named preset
func ApplyPreset(name string) (*Config, error) {
	preset, ok := GetChainPreset(name)
	if !ok {
		return nil, fmt.Errorf("unknown chain preset: %s (available: %s)", name, strings.Join(ListPresets(), ", "))
	}
	return &Config{
		ChainID: preset.ChainID,
	}, nil
}

// ListPresets returns all available preset names sorted alphabetically
func ListPresets() []string {
	names := make([]string, 0, len(ChainPresets))
	for name := range ChainPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrintPresets prints all available presets to stdout
func PrintPresets() {
	fmt.Println("Available chain presets:")
	names := ListPresets()
	for _, name := range names {
		p := ChainPresets[name]
		fmt.Printf("  %-10s chainId: %s\n", name, p.ChainID.String())
	}
}
