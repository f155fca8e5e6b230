package pharmachat

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"pharmachat/llm"
)

// ConfigEnvVar names the YAML config file when no path is given.
const ConfigEnvVar = "PHARMACHAT_CONFIG"

// LookupFunc reads one setting, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadConfig builds the configuration. Precedence, lowest first: defaults,
// the YAML file at path, envFile, the process environment. A missing envFile
// is ignored.
func LoadConfig(path, envFile string) (*AppConfig, error) {
	lookup := LookupFunc(os.LookupEnv)
	if envFile != "" {
		dotenv, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		default:
			lookup = withFallback(lookup, dotenv)
		}
	}

	cfg := DefaultConfig()
	if path == "" {
		path, _ = lookup(ConfigEnvVar)
	}
	if path != "" {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withFallback consults values for keys primary leaves unset or empty.
func withFallback(primary LookupFunc, values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := primary(key); ok && v != "" {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	}
}

// loadConfigFile overlays the YAML file at path onto cfg. Keys absent from
// the file keep their current values.
func loadConfigFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with the environment variables that are set.
func applyEnv(cfg *AppConfig, lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.setString("HOST", &cfg.Server.Host)
	e.setInt("PORT", &cfg.Server.Port)

	e.setString("LLM_PROVIDER", &cfg.LLM.Provider)
	e.setString("LLM_MODEL", &cfg.LLM.Model)
	e.setString("LLM_BASE_URL", &cfg.LLM.BaseURL)
	e.setString("LLM_API_KEY", &cfg.LLM.APIKey)
	if cfg.LLM.APIKey == "" {
		for _, key := range apiKeyVars(cfg.LLM.Provider) {
			if e.setString(key, &cfg.LLM.APIKey) {
				break
			}
		}
	}
	e.setInt("LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	if v, ok := lookup("LLM_TEMPERATURE"); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail("LLM_TEMPERATURE", v, err)
		} else {
			cfg.LLM.Temperature = &t
		}
	}

	e.setString("NEO4J_URI", &cfg.Neo4j.URI)
	e.setString("NEO4J_USERNAME", &cfg.Neo4j.Username)
	e.setString("NEO4J_PASSWORD", &cfg.Neo4j.Password)
	e.setString("NEO4J_DATABASE", &cfg.Neo4j.Database)

	e.setString("OPENFDA_BASE_URL", &cfg.OpenFDA.BaseURL)
	e.setString("REPORTS_DIR", &cfg.Reports.Dir)

	e.setInt("AGENT_MAX_ITERATIONS", &cfg.Agent.MaxIterations)
	e.setInt("AGENT_PARALLEL_TOOLS", &cfg.Agent.ParallelTools)
	e.setInt("TOOL_OUTPUT_TOKENS", &cfg.Agent.ToolOutputTokens)
	e.setDuration("SESSION_TTL", &cfg.Agent.SessionTTL)

	e.setString("AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)
	e.setDuration("AUTH_TOKEN_TTL", &cfg.Auth.TokenTTL)

	e.setString("LOG_LEVEL", &cfg.Log.Level)
	e.setString("LOG_FORMAT", &cfg.Log.Format)
	e.setString("LOG_FILE", &cfg.Log.File)

	return e.err
}

// apiKeyVars lists the conventional key variables of a provider.
func apiKeyVars(provider string) []string {
	switch provider {
	case "", llm.ProviderGemini:
		return []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"}
	case llm.ProviderOpenAI:
		return []string{"OPENAI_API_KEY"}
	case llm.ProviderAnthropic:
		return []string{"ANTHROPIC_API_KEY"}
	}
	return nil
}

// envReader collects the first parse error so applyEnv reads linearly.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (e *envReader) setString(key string, dst *string) bool {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return false
	}
	*dst = v
	return true
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}
