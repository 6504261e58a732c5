package intent

import (
	"fmt"
	"strings"
)

// Config controls extractor construction.
type Config struct {
	Mode     string
	APIKey   string
	BaseURL  string
	Model    string
	MinScore float64
}

// NewExtractor picks the Groq extractor when a key is configured, otherwise
// the deterministic rules extractor.
func NewExtractor(cfg Config) (Extractor, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewGroqExtractor(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MinScore), nil
		}
		return NewRulesExtractor(), nil
	case "groq":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("EXTRACTOR_MODE=groq requires GROQ_API_KEY")
		}
		return NewGroqExtractor(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MinScore), nil
	case "rules":
		return NewRulesExtractor(), nil
	default:
		return nil, fmt.Errorf("unsupported extractor mode %q", cfg.Mode)
	}
}
