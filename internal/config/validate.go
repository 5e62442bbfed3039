package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the configuration for a given command mode. Modes only
// require the settings their command actually touches, so a pipeline run
// never demands CRM credentials.
func (c *Config) Validate(mode string) error {
	var problems []string

	// Bounds shared by every mode.
	if c.Pipeline.Workers < 1 || c.Pipeline.Workers > 32 {
		problems = append(problems, "pipeline.workers must be between 1 and 32")
	}
	if c.Pipeline.BlockKeyPrefixLength < 1 || c.Pipeline.BlockKeyPrefixLength > 16 {
		problems = append(problems, "pipeline.block_key_prefix_length must be between 1 and 16")
	}
	if c.Pipeline.MergeSimilarityThreshold < 0 || c.Pipeline.MergeSimilarityThreshold > 1 {
		problems = append(problems, "pipeline.merge_similarity_threshold must be in [0,1]")
	}
	if c.Pipeline.EditSimilarityThreshold < 0 || c.Pipeline.EditSimilarityThreshold > 1 {
		problems = append(problems, "pipeline.edit_similarity_threshold must be in [0,1]")
	}
	if c.Pipeline.GreyBandLow > c.Pipeline.GreyBandHigh {
		problems = append(problems, "pipeline.grey_band_low must not exceed grey_band_high")
	}
	if c.Score.Weights.Evidence < 0 || c.Score.Weights.Contactability < 0 || c.Score.Weights.OEMBonus < 0 {
		problems = append(problems, "score.weights values must be >= 0")
	}

	switch mode {
	case "run", "rescore", "export", "review", "runs", "status":
		// Store-only modes; bounds above suffice.
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "export-salesforce":
		if c.Salesforce.Domain == "" {
			problems = append(problems, "salesforce.domain is required")
		}
		if c.Salesforce.ConsumerKey == "" {
			problems = append(problems, "salesforce.consumer_key is required")
		}
		if c.Salesforce.ConsumerSecret == "" {
			problems = append(problems, "salesforce.consumer_secret is required")
		}
	case "export-notion":
		if c.Notion.Key == "" {
			problems = append(problems, "notion.key is required")
		}
		if c.Notion.ReviewDatabaseID == "" && c.Notion.GoldenDatabaseID == "" {
			problems = append(problems, "notion.review_database_id or notion.golden_database_id is required")
		}
	case "review-suggest":
		if c.Advisor.Key == "" {
			problems = append(problems, "advisor.key is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}
