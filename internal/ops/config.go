// Package ops loads and validates the runtime configuration.
package ops

import (
	"encoding/json"
	"fmt"
	"os"

	"main/internal/model"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Exchange    ExchangeConfig     `json:"exchange"`
	Instruments []string           `json:"instruments"`
	Journal     JournalConfig      `json:"journal"`
	Profiling   ProfilingConfig    `json:"profiling"`
	Features    FeatureFlagsConfig `json:"features"`
}

// ExchangeConfig holds the transport endpoints and API credentials.
type ExchangeConfig struct {
	WsURL      string `json:"wsUrl"`
	RestURL    string `json:"restUrl"`
	Key        string `json:"key"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// JournalConfig holds the PostgreSQL settings for the trade journal.
// An empty host disables journaling.
type JournalConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// Enabled reports whether journaling is configured.
func (c JournalConfig) Enabled() bool { return c.Host != "" }

// ProfilingConfig holds the continuous-profiling settings. An empty
// server address disables profiling.
type ProfilingConfig struct {
	ServerAddress   string `json:"serverAddress"`
	ApplicationName string `json:"applicationName"`
}

// Enabled reports whether profiling is configured.
func (c ProfilingConfig) Enabled() bool { return c.ServerAddress != "" }

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	EnableOrderFlow *bool `json:"enableOrderFlow"`
	EnableJournal   *bool `json:"enableJournal"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	EnableOrderFlow bool
	EnableJournal   bool
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Exchange    ExchangeConfig
	Instruments []model.Instrument
	Journal     JournalConfig
	Profiling   ProfilingConfig
	Features    FeatureFlags
}

// Load reads and validates a JSON config file.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}

	if err := validateExchange(cfg.Exchange); err != nil {
		return Loaded{}, err
	}
	instruments, err := resolveInstruments(cfg.Instruments)
	if err != nil {
		return Loaded{}, err
	}
	if cfg.Journal.Enabled() && cfg.Journal.Database == "" {
		return Loaded{}, fmt.Errorf("journal database is empty")
	}

	return Loaded{
		Exchange:    cfg.Exchange,
		Instruments: instruments,
		Journal:     cfg.Journal,
		Profiling:   cfg.Profiling,
		Features:    resolveFeatures(cfg.Features),
	}, nil
}

func validateExchange(cfg ExchangeConfig) error {
	if cfg.WsURL == "" {
		return fmt.Errorf("exchange wsUrl is empty")
	}
	if cfg.RestURL == "" {
		return fmt.Errorf("exchange restUrl is empty")
	}
	return nil
}

func resolveInstruments(symbols []string) ([]model.Instrument, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no instruments configured")
	}
	seen := make(map[string]struct{}, len(symbols))
	instruments := make([]model.Instrument, 0, len(symbols))
	for _, symbol := range symbols {
		if symbol == "" {
			return nil, fmt.Errorf("instrument symbol is empty")
		}
		if _, dup := seen[symbol]; dup {
			return nil, fmt.Errorf("duplicate instrument: %s", symbol)
		}
		seen[symbol] = struct{}{}
		instruments = append(instruments, model.Instrument(symbol))
	}
	return instruments, nil
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		EnableOrderFlow: true,
		EnableJournal:   true,
	}
	if cfg.EnableOrderFlow != nil {
		flags.EnableOrderFlow = *cfg.EnableOrderFlow
	}
	if cfg.EnableJournal != nil {
		flags.EnableJournal = *cfg.EnableJournal
	}
	return flags
}
