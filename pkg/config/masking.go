package config

// MaskingConfig controls redaction of secrets in served timelines.
type MaskingConfig struct {
	// Enabled defaults to true when unset.
	Enabled *bool `yaml:"enabled"`

	// Groups names built-in pattern groups ("secrets", "kubernetes", "pii").
	Groups []string `yaml:"groups"`

	// Patterns are extra regex rules applied after the groups.
	Patterns []MaskingPattern `yaml:"patterns"`
}

// MaskingPattern is one custom regex redaction rule.
type MaskingPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// IsEnabled reports whether masking applies.
func (c *MaskingConfig) IsEnabled() bool {
	return c == nil || c.Enabled == nil || *c.Enabled
}

// DefaultMaskingConfig returns the built-in masking defaults.
func DefaultMaskingConfig() *MaskingConfig {
	return &MaskingConfig{
		Groups: []string{"secrets", "kubernetes"},
	}
}
