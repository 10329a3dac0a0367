// Package config defines the configuration schema for inkdrift.
//
// JSON keys use camelCase to stay byte-compatible with config files written
// by earlier releases; the same struct tags serve the YAML variant.
package config

// CompletionConfig holds credentials and defaults for the completion backend.
type CompletionConfig struct {
	APIKey       string            `json:"apiKey" yaml:"apiKey"`
	APIBase      string            `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	Model        string            `json:"model" yaml:"model"`
	MaxTokens    int               `json:"maxTokens" yaml:"maxTokens"`
	Temperature  float64           `json:"temperature" yaml:"temperature"`
	ExtraHeaders map[string]string `json:"extraHeaders,omitempty" yaml:"extraHeaders,omitempty"`
}

func defaultCompletionConfig() CompletionConfig {
	return CompletionConfig{
		APIBase:     "https://api.openai.com/v1",
		Model:       "gpt-4o",
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// ToolProviderConfig describes one external tool provider launched as a
// subprocess. The map key in ToolsConfig.Providers is the provider id.
type ToolProviderConfig struct {
	Name       string `json:"name" yaml:"name"` // display name
	Command    string `json:"command" yaml:"command"`
	Args       string `json:"args,omitempty" yaml:"args,omitempty"` // shell-like argument string
	Env        string `json:"env,omitempty" yaml:"env,omitempty"`   // newline-delimited KEY=VALUE overrides
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Timeout    int    `json:"timeout,omitempty" yaml:"timeout,omitempty"`       // seconds, 0 = default
	WireFormat string `json:"wireFormat,omitempty" yaml:"wireFormat,omitempty"` // "", "content-length", "line-delimited"
}

// ToolsConfig groups the tool-orchestration settings.
type ToolsConfig struct {
	AutoAttach   bool                          `json:"autoAttach" yaml:"autoAttach"`
	Policy       string                        `json:"policy" yaml:"policy"` // conservative | balanced | aggressive
	MaxToolCalls int                           `json:"maxToolCalls" yaml:"maxToolCalls"`
	Allow        []string                      `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny         []string                      `json:"deny,omitempty" yaml:"deny,omitempty"`
	ToolsEnabled map[string]bool               `json:"toolsEnabled,omitempty" yaml:"toolsEnabled,omitempty"`
	Providers    map[string]ToolProviderConfig `json:"providers" yaml:"providers"`
}

func defaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		AutoAttach:   true,
		Policy:       "balanced",
		MaxToolCalls: 5,
		Providers:    map[string]ToolProviderConfig{},
	}
}

// Config is the root configuration object.
type Config struct {
	Completion CompletionConfig `json:"completion" yaml:"completion"`
	Tools      ToolsConfig      `json:"tools" yaml:"tools"`
}

// DefaultConfig returns a Config populated with all defaults.
func DefaultConfig() Config {
	return Config{
		Completion: defaultCompletionConfig(),
		Tools:      defaultToolsConfig(),
	}
}
