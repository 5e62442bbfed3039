package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "millscout.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 6, cfg.Pipeline.BlockKeyPrefixLength)
	assert.InDelta(t, 0.80, cfg.Pipeline.MergeSimilarityThreshold, 0.001)
	assert.InDelta(t, 0.85, cfg.Pipeline.EditSimilarityThreshold, 0.001)
	assert.InDelta(t, 0.60, cfg.Pipeline.GreyBandLow, 0.001)
	assert.InDelta(t, 0.80, cfg.Pipeline.GreyBandHigh, 0.001)
	assert.Equal(t, "best", cfg.Pipeline.Matcher)
	assert.InDelta(t, 0.5, cfg.Score.Weights.Evidence, 0.001)
	assert.InDelta(t, 0.3, cfg.Score.Weights.Contactability, 0.001)
	assert.InDelta(t, 0.2, cfg.Score.Weights.OEMBonus, 0.001)
	assert.InDelta(t, 0.30, cfg.Quality.MinGradeAShare, 0.001)
	assert.InDelta(t, 0.40, cfg.Quality.MinGradeBShare, 0.001)
	assert.InDelta(t, 0.20, cfg.Quality.MaxRejectShare, 0.001)
	assert.Equal(t, "8451.90", cfg.Export.HSCode)
	assert.Equal(t, "Millscout_ID__c", cfg.Salesforce.ExternalIDField)
	assert.Equal(t, 50, cfg.Advisor.MaxPairs)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  postgres_url: postgres://localhost/millscout
log:
  level: debug
  format: json
pipeline:
  workers: 8
  merge_similarity_threshold: 0.9
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/millscout", cfg.Store.PostgresURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.InDelta(t, 0.9, cfg.Pipeline.MergeSimilarityThreshold, 0.001)
	// Defaults still apply for unset values
	assert.Equal(t, 6, cfg.Pipeline.BlockKeyPrefixLength)
	assert.InDelta(t, 0.85, cfg.Pipeline.EditSimilarityThreshold, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("MILLSCOUT_STORE_DRIVER", "postgres")
	t.Setenv("MILLSCOUT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("MILLSCOUT_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Pipeline.Workers = 4
	cfg.Pipeline.BlockKeyPrefixLength = 6
	cfg.Pipeline.MergeSimilarityThreshold = 0.80
	cfg.Pipeline.EditSimilarityThreshold = 0.85
	cfg.Pipeline.GreyBandLow = 0.60
	cfg.Pipeline.GreyBandHigh = 0.80
	cfg.Score.Weights = ScoreWeights{Evidence: 0.5, Contactability: 0.3, OEMBonus: 0.2}
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRun_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidateWorkerBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Pipeline.Workers = 0
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.workers must be between 1 and 32")

	cfg.Pipeline.Workers = 33
	err = cfg.Validate("run")
	assert.Error(t, err)

	cfg.Pipeline.Workers = 32
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateThresholdBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Pipeline.MergeSimilarityThreshold = 1.2
	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "merge_similarity_threshold")

	cfg.Pipeline.MergeSimilarityThreshold = 0.8
	cfg.Pipeline.GreyBandLow = 0.9
	err = cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "grey_band_low")
}

func TestValidateWeights_Negative(t *testing.T) {
	cfg := validDefaults()
	cfg.Score.Weights.OEMBonus = -0.1

	err := cfg.Validate("run")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "score.weights values must be >= 0")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateSalesforce_MissingCreds(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("export-salesforce")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "salesforce.domain is required")
	assert.Contains(t, err.Error(), "salesforce.consumer_key is required")

	cfg.Salesforce.Domain = "https://example.my.salesforce.com"
	cfg.Salesforce.ConsumerKey = "key"
	cfg.Salesforce.ConsumerSecret = "secret"
	assert.NoError(t, cfg.Validate("export-salesforce"))
}

func TestValidateAdvisor_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("review-suggest")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "advisor.key is required")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
