package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the service-level configuration of the settlement daemon. The
// vesting agreement itself lives in a separate file referenced by
// AgreementFile so terms and deployment knobs are versioned independently.
type Config struct {
	RPCAddress        string  `toml:"RPCAddress"`
	MetricsAddress    string  `toml:"MetricsAddress"`
	DataDir           string  `toml:"DataDir"`
	AgreementFile     string  `toml:"AgreementFile"`
	NetworkName       string  `toml:"NetworkName"`
	Environment       string  `toml:"Environment"`
	RPCAuthToken      string  `toml:"RPCAuthToken"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	RateBurst         int     `toml:"RateBurst"`

	// GenesisBalances seed the ledger on first run so funding deposits have a
	// source account to move from.
	GenesisBalances []GenesisBalance `toml:"GenesisBalances"`
}

// GenesisBalance allocates an initial ledger balance to an address.
type GenesisBalance struct {
	Address string `toml:"Address"`
	Denom   string `toml:"Denom"`
	Amount  string `toml:"Amount"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8661"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = "127.0.0.1:9661"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.AgreementFile) == "" {
		cfg.AgreementFile = "./agreement.toml"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "vestpay-local"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 120
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
}

func validate(cfg *Config) error {
	if cfg.RPCAddress == cfg.MetricsAddress {
		return fmt.Errorf("config: RPCAddress and MetricsAddress must differ")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
