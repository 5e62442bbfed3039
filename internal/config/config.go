package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Score      ScoreConfig      `yaml:"score" mapstructure:"score"`
	Vocab      VocabConfig      `yaml:"vocab" mapstructure:"vocab"`
	Quality    QualityConfig    `yaml:"quality" mapstructure:"quality"`
	Export     ExportConfig     `yaml:"export" mapstructure:"export"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Advisor    AdvisorConfig    `yaml:"advisor" mapstructure:"advisor"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	PostgresURL string `yaml:"postgres_url" mapstructure:"postgres_url"`
}

// PipelineConfig configures the resolution pipeline: worker fan-out,
// blocking, and merge thresholds.
type PipelineConfig struct {
	Workers                  int     `yaml:"workers" mapstructure:"workers"`
	BlockKeyPrefixLength     int     `yaml:"block_key_prefix_length" mapstructure:"block_key_prefix_length"`
	MergeSimilarityThreshold float64 `yaml:"merge_similarity_threshold" mapstructure:"merge_similarity_threshold"`
	EditSimilarityThreshold  float64 `yaml:"edit_similarity_threshold" mapstructure:"edit_similarity_threshold"`
	GreyBandLow              float64 `yaml:"grey_band_low" mapstructure:"grey_band_low"`
	GreyBandHigh             float64 `yaml:"grey_band_high" mapstructure:"grey_band_high"`
	Matcher                  string  `yaml:"matcher" mapstructure:"matcher"`
}

// ScoreConfig holds the composite score weights.
type ScoreConfig struct {
	Weights ScoreWeights `yaml:"weights" mapstructure:"weights"`
}

// ScoreWeights are the composite score components. They rank entities
// within a tier and never move an entity across a tier boundary.
type ScoreWeights struct {
	Evidence       float64 `yaml:"evidence" mapstructure:"evidence"`
	Contactability float64 `yaml:"contactability" mapstructure:"contactability"`
	OEMBonus       float64 `yaml:"oem_bonus" mapstructure:"oem_bonus"`
}

// VocabConfig points at optional keyword-pack overlays.
type VocabConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// QualityConfig holds the distribution targets the run report is checked
// against, plus webhook alerting for the serve loop.
type QualityConfig struct {
	MinGradeAShare    float64 `yaml:"min_grade_a_share" mapstructure:"min_grade_a_share"`
	MinGradeBShare    float64 `yaml:"min_grade_b_share" mapstructure:"min_grade_b_share"`
	MaxRejectShare    float64 `yaml:"max_reject_share" mapstructure:"max_reject_share"`
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours     int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
}

// ExportConfig configures CRM export artifacts.
type ExportConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	HSCode string `yaml:"hs_code" mapstructure:"hs_code"`
}

// SalesforceConfig holds Salesforce OAuth client-credentials settings.
type SalesforceConfig struct {
	Domain          string `yaml:"domain" mapstructure:"domain"`
	ConsumerKey     string `yaml:"consumer_key" mapstructure:"consumer_key"`
	ConsumerSecret  string `yaml:"consumer_secret" mapstructure:"consumer_secret"`
	ExternalIDField string `yaml:"external_id_field" mapstructure:"external_id_field"`
}

// NotionConfig holds Notion API credentials and database IDs.
type NotionConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	ReviewDatabaseID string `yaml:"review_database_id" mapstructure:"review_database_id"`
	GoldenDatabaseID string `yaml:"golden_database_id" mapstructure:"golden_database_id"`
}

// AdvisorConfig holds settings for merge-review suggestions.
type AdvisorConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxPairs          int    `yaml:"max_pairs" mapstructure:"max_pairs"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// FetchConfig configures remote input retrieval.
type FetchConfig struct {
	TimeoutSecs       int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond int `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. A missing config
// file is fine; every key has a default.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.millscout")

	// Environment
	v.SetEnvPrefix("MILLSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "millscout.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.block_key_prefix_length", 6)
	v.SetDefault("pipeline.merge_similarity_threshold", 0.80)
	v.SetDefault("pipeline.edit_similarity_threshold", 0.85)
	v.SetDefault("pipeline.grey_band_low", 0.60)
	v.SetDefault("pipeline.grey_band_high", 0.80)
	v.SetDefault("pipeline.matcher", "best")
	v.SetDefault("score.weights.evidence", 0.5)
	v.SetDefault("score.weights.contactability", 0.3)
	v.SetDefault("score.weights.oem_bonus", 0.2)
	v.SetDefault("quality.min_grade_a_share", 0.30)
	v.SetDefault("quality.min_grade_b_share", 0.40)
	v.SetDefault("quality.max_reject_share", 0.20)
	v.SetDefault("quality.check_interval_secs", 300)
	v.SetDefault("quality.lookback_hours", 24)
	v.SetDefault("export.dir", "./exports")
	v.SetDefault("export.hs_code", "8451.90")
	v.SetDefault("salesforce.external_id_field", "Millscout_ID__c")
	v.SetDefault("advisor.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("advisor.max_pairs", 50)
	v.SetDefault("advisor.requests_per_minute", 30)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.requests_per_second", 4)

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
