package core

import (
	"testing"

	"github.com/samz905/wrrk-pilot/config"
	"github.com/stretchr/testify/require"
)

func TestNewLLMProvider(t *testing.T) {
	_, err := NewLLMProvider(config.LLMConfig{})
	require.Error(t, err)

	_, err = NewLLMProvider(config.LLMConfig{Providers: map[string]config.LLMProvider{
		"main": {Type: "gemini", APIKey: "k"},
	}})
	require.ErrorContains(t, err, "unsupported")

	p, err := NewLLMProvider(config.LLMConfig{Providers: map[string]config.LLMProvider{
		"main": {Type: "openai", APIKey: "k", Models: map[string]config.LLMModel{"fast": {Name: "gpt-4o-mini"}}},
	}})
	require.NoError(t, err)
	require.NotNil(t, p)
}
