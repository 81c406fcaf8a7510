package cmd

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app       = "ai-guard"
	envPrefix = "AI_GUARD"
	envFile   = ".env"
)

type Config struct {
	DataDir   string           `mapstructure:"data-dir"`
	RateLimit *RateLimitConfig `mapstructure:"rate-limit"`
	Retention *RetentionConfig `mapstructure:"retention"`
	AI        *AIConfig        `mapstructure:"ai"`
	Server    *ServerConfig    `mapstructure:"server"`
}

type RateLimitConfig struct {
	Calls  int           `mapstructure:"calls"`
	Period time.Duration `mapstructure:"period"`
}

type RetentionConfig struct {
	TraceTTLDays    int `mapstructure:"trace-ttl-days"`
	FeedbackTTLDays int `mapstructure:"feedback-ttl-days"`
}

type AIConfig struct {
	Provider     string           `mapstructure:"provider"`
	Model        string           `mapstructure:"model"`
	MaxRetries   int              `mapstructure:"max-retries"`
	BackoffBase  time.Duration    `mapstructure:"backoff-base"`
	MaxLogLength int              `mapstructure:"max-log-length"`
	Simulated    *SimulatedConfig `mapstructure:"simulated"`
	Gemini       *GeminiConfig    `mapstructure:"gemini"`
	OpenAI       *OpenAIConfig    `mapstructure:"openai"`
}

type SimulatedConfig struct {
	MinLatency  time.Duration `mapstructure:"min-latency"`
	MaxLatency  time.Duration `mapstructure:"max-latency"`
	FailureRate float64       `mapstructure:"failure-rate"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
}

type OpenAIConfig struct {
	APIKey       string `mapstructure:"api-key"`
	APIKeyFile   string `mapstructure:"api-key-file"`
	BaseURL      string `mapstructure:"base-url"`
	SystemPrompt string `mapstructure:"system-prompt"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "ai-guard redacts, rate limits and traces calls to generative model providers",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is ai-guard.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding traces.json and feedback.json")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("data-dir", rootCmd.PersistentFlags().Lookup("data-dir"))

	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data-dir", "./data")
	v.SetDefault("rate-limit.calls", 30)
	v.SetDefault("rate-limit.period", time.Minute)
	v.SetDefault("retention.trace-ttl-days", 30)
	v.SetDefault("retention.feedback-ttl-days", 90)
	v.SetDefault("ai.provider", "simulated")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.max-retries", 2)
	v.SetDefault("ai.backoff-base", 300*time.Millisecond)
	v.SetDefault("ai.max-log-length", 200)
	v.SetDefault("ai.simulated.min-latency", 50*time.Millisecond)
	v.SetDefault("ai.simulated.max-latency", 250*time.Millisecond)
	v.SetDefault("ai.simulated.failure-rate", 0.0)
	v.SetDefault("ai.gemini.api-key", "")
	v.SetDefault("ai.gemini.api-key-file", "")
	v.SetDefault("ai.openai.api-key", "")
	v.SetDefault("ai.openai.api-key-file", "")
	v.SetDefault("ai.openai.base-url", "")
	v.SetDefault("ai.openai.system-prompt", "")
	v.SetDefault("server.addr", ":8080")
}

func initConfig() {
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Fatalf("loading %s: %v", envFile, err)
		}
	}

	bindEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	// The config file is optional unless it was given explicitly.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

// bindEnv maps keys like rate-limit.calls to AI_GUARD_RATE_LIMIT_CALLS.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

func getConfig() (*Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var config *Config
	if err := v.Unmarshal(&config); err != nil {
		return config, err
	}

	if config == nil {
		config = &Config{}
	}
	if config.RateLimit == nil {
		config.RateLimit = &RateLimitConfig{}
	}
	if config.Retention == nil {
		config.Retention = &RetentionConfig{}
	}
	if config.AI == nil {
		config.AI = &AIConfig{}
	}
	if config.AI.Simulated == nil {
		config.AI.Simulated = &SimulatedConfig{}
	}
	if config.AI.Gemini == nil {
		config.AI.Gemini = &GeminiConfig{}
	}
	if config.AI.OpenAI == nil {
		config.AI.OpenAI = &OpenAIConfig{}
	}
	if config.Server == nil {
		config.Server = &ServerConfig{}
	}

	return config, nil
}
