package profile

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for the server
	Addr string
	// Port is the binding port for the server
	Port int
	// DSN points to where kinship stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of the server
	Version string

	// AI configuration
	AIEnabled            bool   // KINSHIP_AI_ENABLED
	AIEmbeddingProvider  string // KINSHIP_AI_EMBEDDING_PROVIDER (default: openai)
	AIEmbeddingModel     string // KINSHIP_AI_EMBEDDING_MODEL (default: text-embedding-3-small)
	AIEmbeddingDims      int    // KINSHIP_AI_EMBEDDING_DIMENSIONS (default: 768)
	AIOpenAIAPIKey       string // KINSHIP_AI_OPENAI_API_KEY
	AIOpenAIBaseURL      string // KINSHIP_AI_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	AISiliconFlowAPIKey  string // KINSHIP_AI_SILICONFLOW_API_KEY
	AISiliconFlowBaseURL string // KINSHIP_AI_SILICONFLOW_BASE_URL (default: https://api.siliconflow.cn/v1)
	AIOllamaBaseURL      string // KINSHIP_AI_OLLAMA_BASE_URL (default: http://localhost:11434/v1)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and at least one provider is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && (p.AIOpenAIAPIKey != "" || p.AISiliconFlowAPIKey != "" || p.AIOllamaBaseURL != "")
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from KINSHIP_* environment variables.
// Values already set on the profile are treated as defaults.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("KINSHIP_MODE", p.Mode)
	p.Addr = getEnvOrDefault("KINSHIP_ADDR", p.Addr)
	if port := os.Getenv("KINSHIP_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			p.Port = v
		}
	}
	p.DSN = getEnvOrDefault("KINSHIP_DSN", p.DSN)
	p.Driver = getEnvOrDefault("KINSHIP_DRIVER", p.Driver)

	if enabled := os.Getenv("KINSHIP_AI_ENABLED"); enabled != "" {
		p.AIEnabled = enabled == "true" || enabled == "1"
	}
	p.AIEmbeddingProvider = getEnvOrDefault("KINSHIP_AI_EMBEDDING_PROVIDER", p.AIEmbeddingProvider)
	p.AIEmbeddingModel = getEnvOrDefault("KINSHIP_AI_EMBEDDING_MODEL", p.AIEmbeddingModel)
	if dims := os.Getenv("KINSHIP_AI_EMBEDDING_DIMENSIONS"); dims != "" {
		if v, err := strconv.Atoi(dims); err == nil && v > 0 {
			p.AIEmbeddingDims = v
		}
	}
	p.AIOpenAIAPIKey = getEnvOrDefault("KINSHIP_AI_OPENAI_API_KEY", p.AIOpenAIAPIKey)
	p.AIOpenAIBaseURL = getEnvOrDefault("KINSHIP_AI_OPENAI_BASE_URL", p.AIOpenAIBaseURL)
	p.AISiliconFlowAPIKey = getEnvOrDefault("KINSHIP_AI_SILICONFLOW_API_KEY", p.AISiliconFlowAPIKey)
	p.AISiliconFlowBaseURL = getEnvOrDefault("KINSHIP_AI_SILICONFLOW_BASE_URL", p.AISiliconFlowBaseURL)
	p.AIOllamaBaseURL = getEnvOrDefault("KINSHIP_AI_OLLAMA_BASE_URL", p.AIOllamaBaseURL)
}

// Validate validates the profile and fills in defaults.
func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" {
		p.Mode = "dev"
	}
	if p.Addr == "" {
		p.Addr = "127.0.0.1"
	}
	if p.Port <= 0 {
		p.Port = 8231
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	switch p.Driver {
	case "sqlite", "postgres":
	default:
		return errors.Errorf("unsupported database driver: %s", p.Driver)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("DSN is required for the postgres driver")
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = "kinship_" + p.Mode + ".db"
	}
	if p.AIEmbeddingProvider == "" {
		p.AIEmbeddingProvider = "openai"
	}
	if p.AIEmbeddingModel == "" {
		p.AIEmbeddingModel = "text-embedding-3-small"
	}
	if p.AIEmbeddingDims <= 0 {
		p.AIEmbeddingDims = 768
	}
	return nil
}

func (p *Profile) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mode=%s addr=%s port=%d driver=%s", p.Mode, p.Addr, p.Port, p.Driver)
	if p.AIEnabled {
		fmt.Fprintf(&sb, " embedding=%s/%s dims=%d", p.AIEmbeddingProvider, p.AIEmbeddingModel, p.AIEmbeddingDims)
	}
	return sb.String()
}
