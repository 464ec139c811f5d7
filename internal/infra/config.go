package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the entire copier configuration. Sensitive values are
// overridden from environment variables after the file is parsed.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		WSURL        string `yaml:"ws_url"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		AccessToken  string `yaml:"access_token"`
	} `yaml:"api"`

	Accounts struct {
		MasterID int64 `yaml:"master_id"`
		SlaveID  int64 `yaml:"slave_id"`
	} `yaml:"accounts"`

	Copy struct {
		Policy            string             `yaml:"policy"`
		GlobalMultiplier  float64            `yaml:"global_multiplier"`
		SymbolMultipliers map[string]float64 `yaml:"symbol_multipliers"`
		DefaultMultiplier float64            `yaml:"default_multiplier"`

		BalancePercent     float64 `yaml:"balance_percent"`
		MicroLotsPerDollar float64 `yaml:"micro_lots_per_dollar"`
		PipVolumeRatio     float64 `yaml:"pip_volume_ratio"`

		MinLotSize    float64 `yaml:"min_lot_size"`
		MaxMultiplier float64 `yaml:"max_multiplier"`

		SymbolAliases map[string]string `yaml:"symbol_aliases"`
		Workers       int               `yaml:"workers"`
	} `yaml:"copy"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.WSURL == "" || (!hasPrefix(c.API.WSURL, "ws://") && !hasPrefix(c.API.WSURL, "wss://")) {
		return fmt.Errorf("invalid WS URL: %s", c.API.WSURL)
	}
	if c.API.ClientID == "" || c.API.ClientSecret == "" {
		return fmt.Errorf("client credentials are required")
	}
	if c.API.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	if c.Accounts.MasterID == 0 || c.Accounts.SlaveID == 0 {
		return fmt.Errorf("both master and slave account ids are required")
	}
	if c.Accounts.MasterID == c.Accounts.SlaveID {
		return fmt.Errorf("master and slave accounts must differ")
	}
	if c.Copy.MaxMultiplier < 0 {
		return fmt.Errorf("max_multiplier must not be negative")
	}
	if c.Copy.MinLotSize < 0 {
		return fmt.Errorf("min_lot_size must not be negative")
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment variables over file values.
// Environment takes precedence so credentials stay out of config files.
func overrideWithEnv(cfg *Config) {
	if cfg.API.ClientSecret != "" || cfg.API.AccessToken != "" {
		fmt.Println("⚠️  SECURITY WARNING: API credentials found in config file.")
		fmt.Println("   Recommendation: Use environment variables instead:")
		fmt.Println("   - MIRROR_CLIENT_ID, MIRROR_CLIENT_SECRET, MIRROR_ACCESS_TOKEN")
	}

	if id := os.Getenv("MIRROR_CLIENT_ID"); id != "" {
		cfg.API.ClientID = id
	}
	if secret := os.Getenv("MIRROR_CLIENT_SECRET"); secret != "" {
		cfg.API.ClientSecret = secret
	}
	if token := os.Getenv("MIRROR_ACCESS_TOKEN"); token != "" {
		cfg.API.AccessToken = token
	}
}
