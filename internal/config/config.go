// Package config loads the control plane's configuration from environment
// variables, with sensible community-tier defaults.
package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the solserver control plane.
type Config struct {
	Port      int
	Version   string
	Env       string // SOL_ENV: development | staging | production
	Provider  ProviderConfig
	Enforcement EnforcementConfig
	Lattice   LatticeConfig
	Evidence  EvidenceConfig
	Trace     TraceConfig
	Store     StoreConfig
	Telemetry TelemetryConfig
	InternalToken string
}

type ProviderConfig struct {
	Kind                  string // openai | fake
	OpenAIAPIKey          string
	OpenAIModel           string
	ContractRetryEnabled  bool
	ContractRetryModel    string
	ContractRetryOn       string // comma-separated failure codes
}

type EnforcementConfig struct {
	Mode             string // strict | warn | off ("" means derive from Env)
	DriverBlockBundlePath string
}

type LatticeConfig struct {
	Enabled          bool
	VecEnabled       bool
	VecQueryEnabled  bool
	VecMaxDistance   float64
	PolicyBundlePath string
	PgvectorURL      string
}

type EvidenceConfig struct {
	Provider      string
	ProviderForce bool
}

type TraceConfig struct {
	CaptureModelIO bool
	TTLDays        int
}

type StoreConfig struct {
	DataDir string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("SOL_PORT", 8080),
		Version: envStr("SOL_VERSION", "0.1.0"),
		Env:     envStr("SOL_ENV", "development"),
		Provider: ProviderConfig{
			Kind:                 envStr("LLM_PROVIDER", "fake"),
			OpenAIAPIKey:         envStr("OPENAI_API_KEY", ""),
			OpenAIModel:          envStr("OPENAI_MODEL", ""),
			ContractRetryEnabled: envBool("OUTPUT_CONTRACT_RETRY_ENABLED", false),
			ContractRetryModel:   envStr("OUTPUT_CONTRACT_RETRY_MODEL", ""),
			ContractRetryOn:      envStr("OUTPUT_CONTRACT_RETRY_ON", "schema_invalid,invalid_json"),
		},
		Enforcement: EnforcementConfig{
			Mode:                  envStr("DRIVER_BLOCK_ENFORCEMENT", envStr("SOL_ENFORCEMENT_MODE", "")),
			DriverBlockBundlePath: envStr("DRIVER_BLOCK_BUNDLE_PATH", ""),
		},
		Lattice: LatticeConfig{
			Enabled:          envBool("LATTICE_ENABLED", true),
			VecEnabled:       envBool("LATTICE_VEC_ENABLED", false),
			VecQueryEnabled:  envBool("LATTICE_VEC_QUERY_ENABLED", false),
			VecMaxDistance:   envFloat("LATTICE_VEC_MAX_DISTANCE", 0),
			PolicyBundlePath: envStr("LATTICE_POLICY_BUNDLE_PATH", ""),
			PgvectorURL:      envStr("LATTICE_PGVECTOR_URL", ""),
		},
		Evidence: EvidenceConfig{
			Provider:      envStr("EVIDENCE_PROVIDER", ""),
			ProviderForce: envBool("EVIDENCE_PROVIDER_FORCE", false),
		},
		Trace: TraceConfig{
			CaptureModelIO: envBool("TRACE_CAPTURE_MODEL_IO", false),
			TTLDays:        envInt("SOL_TRACE_TTL_DAYS", 7),
		},
		Store: StoreConfig{
			DataDir: envStr("SOL_DATA_DIR", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "solserver-control-plane"),
		},
		InternalToken: envStr("SOL_INTERNAL_TOKEN", ""),
	}
}

// EnforcementModeFor derives the effective driver-block enforcement mode
// when not explicitly configured: strict in production, warn elsewhere.
func (c *Config) EnforcementModeFor() string {
	if c.Enforcement.Mode != "" {
		return c.Enforcement.Mode
	}
	if c.Env == "production" {
		return "strict"
	}
	return "warn"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
