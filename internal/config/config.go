package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/topic-analysis/internal/extract"
)

// Config holds the full application configuration.
type Config struct {
	Corpus    CorpusConfig    `yaml:"corpus" mapstructure:"corpus"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Prompt    PromptConfig    `yaml:"prompt" mapstructure:"prompt"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// CorpusConfig locates the conversation files.
type CorpusConfig struct {
	Root            string   `yaml:"root" mapstructure:"root"`
	DirFilter       string   `yaml:"dir_filter" mapstructure:"dir_filter"`
	ExcludeSuffix   string   `yaml:"exclude_suffix" mapstructure:"exclude_suffix"`
	LoadConcurrency int      `yaml:"load_concurrency" mapstructure:"load_concurrency"`
	SystemSections  []string `yaml:"system_sections" mapstructure:"system_sections"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ExtractConfig configures the per-file attempt budget and reply keys.
type ExtractConfig struct {
	MaxAttempts  int            `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelayMs int            `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	SyntaxRepair bool           `yaml:"syntax_repair" mapstructure:"syntax_repair"`
	Fields       extract.Schema `yaml:"fields" mapstructure:"fields"`
}

// BatchConfig configures the sequential driver.
type BatchConfig struct {
	RequestIntervalMs int `yaml:"request_interval_ms" mapstructure:"request_interval_ms"`
	SaveEvery         int `yaml:"save_every" mapstructure:"save_every"`
	Limit             int `yaml:"limit" mapstructure:"limit"`
}

// StoreConfig configures the checkpoint backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	OutputDir   string `yaml:"output_dir" mapstructure:"output_dir"`
	ProgressDir string `yaml:"progress_dir" mapstructure:"progress_dir"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PromptConfig points at an optional template override.
type PromptConfig struct {
	TemplateFile string `yaml:"template_file" mapstructure:"template_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TOPIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("corpus.root", "data")
	v.SetDefault("corpus.dir_filter", "")
	v.SetDefault("corpus.exclude_suffix", "_analysis.json")
	v.SetDefault("corpus.load_concurrency", 8)
	v.SetDefault("corpus.system_sections", []string{"用户信息", "双方共同信息"})
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4000)
	v.SetDefault("anthropic.temperature", 0.3)
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("anthropic.requests_per_minute", 0)
	v.SetDefault("extract.max_attempts", 3)
	v.SetDefault("extract.retry_delay_ms", 2000)
	v.SetDefault("extract.syntax_repair", false)
	v.SetDefault("extract.fields.category", "category")
	v.SetDefault("extract.fields.tags", "tags")
	v.SetDefault("extract.fields.description", "description")
	v.SetDefault("extract.fields.related_memory", "related_memory")
	v.SetDefault("batch.request_interval_ms", 1000)
	v.SetDefault("batch.save_every", 10)
	v.SetDefault("batch.limit", 0)
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.output_dir", "output")
	v.SetDefault("store.progress_dir", "progress")
	v.SetDefault("store.database_url", "topic-analysis.db")
	v.SetDefault("prompt.template_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings needed by the given command are present
// and in range. Modes: "run", "status", "export", "prune".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Anthropic.Model == "" {
			errs = append(errs, "anthropic.model is required")
		}
		if c.Anthropic.MaxTokens <= 0 {
			errs = append(errs, "anthropic.max_tokens must be > 0")
		}
		if c.Anthropic.Temperature < 0 || c.Anthropic.Temperature > 1 {
			errs = append(errs, "anthropic.temperature must be between 0 and 1")
		}
		if c.Anthropic.RequestsPerMinute < 0 {
			errs = append(errs, "anthropic.requests_per_minute must be >= 0")
		}
		if c.Extract.MaxAttempts < 1 {
			errs = append(errs, "extract.max_attempts must be >= 1")
		}
		if c.Extract.RetryDelayMs < 0 || c.Batch.RequestIntervalMs < 0 {
			errs = append(errs, "delays must be >= 0")
		}
		if c.Batch.SaveEvery < 1 {
			errs = append(errs, "batch.save_every must be >= 1")
		}
		if c.Batch.Limit < 0 {
			errs = append(errs, "batch.limit must be >= 0")
		}
		errs = append(errs, c.validateFields()...)
		errs = append(errs, c.validateCorpus()...)
		errs = append(errs, c.validateStore()...)
	case "status":
		errs = append(errs, c.validateCorpus()...)
		errs = append(errs, c.validateStore()...)
	case "export":
		errs = append(errs, c.validateStore()...)
	case "prune":
		errs = append(errs, c.validateCorpus()...)
		if len(c.Corpus.SystemSections) == 0 {
			errs = append(errs, "corpus.system_sections must not be empty")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: %s", strings.Join(errs, "; ")))
	}
	return nil
}

func (c *Config) validateCorpus() []string {
	var errs []string
	if c.Corpus.Root == "" {
		errs = append(errs, "corpus.root is required")
	}
	if c.Corpus.LoadConcurrency < 1 || c.Corpus.LoadConcurrency > 64 {
		errs = append(errs, "corpus.load_concurrency must be between 1 and 64")
	}
	return errs
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "", "file":
		if c.Store.OutputDir == "" || c.Store.ProgressDir == "" {
			return []string{"store.output_dir and store.progress_dir are required"}
		}
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
	default:
		return []string{fmt.Sprintf("store.driver %q is not one of file, sqlite, postgres", c.Store.Driver)}
	}
	return nil
}

func (c *Config) validateFields() []string {
	seen := map[string]bool{}
	for _, key := range c.Extract.Fields.WithDefaults().Required() {
		if seen[key] {
			return []string{fmt.Sprintf("extract.fields: key %q is used twice", key)}
		}
		seen[key] = true
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
