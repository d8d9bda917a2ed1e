package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/usecase"
)

// PromptsConfig contains the moderator persona loaded from YAML
type PromptsConfig struct {
	Moderator ModeratorPrompts `yaml:"moderator"`
	Response  ResponseSettings `yaml:"response"`
}

// ModeratorPrompts contains the prompt sections sent to the model
type ModeratorPrompts struct {
	SystemPrompt   string `yaml:"system_prompt"`
	ResponseFormat string `yaml:"response_format"`
	HistoryMarker  string `yaml:"history_marker"`
	CurrentMarker  string `yaml:"current_marker"`
}

// ResponseSettings controls which reply is sent per batch
type ResponseSettings struct {
	Priority  []string `yaml:"priority"` // classification types, highest first
	MaxLength int      `yaml:"max_length"`
}

// DefaultPromptsConfig returns the built-in persona
func DefaultPromptsConfig() *PromptsConfig {
	d := usecase.DefaultPromptConfig
	priority := make([]string, 0, len(usecase.DefaultResponsePriority))
	for _, t := range usecase.DefaultResponsePriority {
		priority = append(priority, string(t))
	}
	return &PromptsConfig{
		Moderator: ModeratorPrompts{
			SystemPrompt:   d.SystemPrompt,
			ResponseFormat: d.ResponseFormat,
			HistoryMarker:  d.HistoryMarker,
			CurrentMarker:  d.CurrentMarker,
		},
		Response: ResponseSettings{
			Priority:  priority,
			MaxLength: 1000,
		},
	}
}

// LoadPromptsConfig loads prompts configuration from YAML file
func LoadPromptsConfig(configPath string) (*PromptsConfig, error) {
	// Try multiple paths
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/prompts.yaml",
			"/etc/chatwarden/prompts.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
		}
	}

	var raw []byte
	for _, p := range paths {
		if b, err := os.ReadFile(p); err == nil {
			raw = b
			break
		}
	}

	if raw == nil {
		// Return default config if no file found
		return DefaultPromptsConfig(), nil
	}

	var config PromptsConfig
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return DefaultPromptsConfig(), fmt.Errorf("failed to parse prompts.yaml: %w", err)
	}

	// Fill in defaults for empty values
	config.fillDefaults()

	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	defaults := DefaultPromptsConfig()

	if c.Moderator.SystemPrompt == "" {
		c.Moderator.SystemPrompt = defaults.Moderator.SystemPrompt
	}
	if c.Moderator.ResponseFormat == "" {
		c.Moderator.ResponseFormat = defaults.Moderator.ResponseFormat
	}
	if c.Moderator.HistoryMarker == "" {
		c.Moderator.HistoryMarker = defaults.Moderator.HistoryMarker
	}
	if c.Moderator.CurrentMarker == "" {
		c.Moderator.CurrentMarker = defaults.Moderator.CurrentMarker
	}

	if len(c.Response.Priority) == 0 {
		c.Response.Priority = defaults.Response.Priority
	}
	if c.Response.MaxLength == 0 {
		c.Response.MaxLength = defaults.Response.MaxLength
	}
}

// ToPromptConfig converts to prompt assembler configuration
func (c *PromptsConfig) ToPromptConfig() usecase.PromptConfig {
	return usecase.PromptConfig{
		SystemPrompt:   c.Moderator.SystemPrompt,
		ResponseFormat: c.Moderator.ResponseFormat,
		HistoryMarker:  c.Moderator.HistoryMarker,
		CurrentMarker:  c.Moderator.CurrentMarker,
	}
}

// ResponsePriority returns the configured priority, skipping unknown types
func (c *PromptsConfig) ResponsePriority() []domain.ClassificationType {
	var out []domain.ClassificationType
	for _, name := range c.Response.Priority {
		t := domain.ClassificationType(name)
		if t.Code() >= 0 {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
