package core

import (
	"fmt"
	"sort"

	"github.com/samz905/wrrk-pilot/config"
	openai_provider "github.com/samz905/wrrk-pilot/provider/openai"
)

// NewLLMProvider creates the LLM provider named by configuration. Providers are tried in
// name order and the first supported one wins.
func NewLLMProvider(cfg config.LLMConfig) (LLMProvider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := cfg.Providers[name]
		switch p.Type {
		case "openai":
			return openai_provider.New(p)
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", p.Type)
		}
	}
	return nil, fmt.Errorf("no valid LLM providers found")
}
