package budget

import (
	"fmt"
	"time"
)

// Config defines budget guardrails for a prospecting run.
type Config struct {
	MaxCost        *float64
	MaxTokens      *int64
	MaxTimeSeconds *int64
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	if c.MaxCost != nil && *c.MaxCost < 0 {
		return fmt.Errorf("max_cost cannot be negative")
	}
	if c.MaxTokens != nil && *c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative")
	}
	if c.MaxTimeSeconds != nil && *c.MaxTimeSeconds < 0 {
		return fmt.Errorf("max_time_seconds cannot be negative")
	}
	return nil
}

// Clone produces a deep copy of the config.
func (c Config) Clone() Config {
	var clone Config
	if c.MaxCost != nil {
		v := *c.MaxCost
		clone.MaxCost = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		clone.MaxTokens = &v
	}
	if c.MaxTimeSeconds != nil {
		v := *c.MaxTimeSeconds
		clone.MaxTimeSeconds = &v
	}
	return clone
}

// ForRun builds a config from the run wall-clock budget and an optional USD ceiling (0 = unlimited).
func ForRun(runBudget time.Duration, maxCostUSD float64) Config {
	var cfg Config
	if runBudget > 0 {
		secs := int64(runBudget / time.Second)
		if secs == 0 {
			secs = 1
		}
		cfg.MaxTimeSeconds = &secs
	}
	if maxCostUSD > 0 {
		v := maxCostUSD
		cfg.MaxCost = &v
	}
	return cfg
}

// Usage summarises what a run has consumed.
type Usage struct {
	Cost    float64       `json:"cost_usd"`
	Tokens  int64         `json:"tokens"`
	Elapsed time.Duration `json:"elapsed"`
}
