package config

import "fmt"

// Override mutates a private copy of a Config to produce a derived variant.
// It runs on a value, so the receiver configuration is never touched.
// This replaces ad-hoc deep-copy-with-overrides for variant agents (for
// example a chat-surface variant with a smaller merge cap).
type Override func(*Config)

// Derive returns a new Config with the overrides applied, validated.
// The receiver is unchanged; derived configs are as immutable as the base.
//
//	chatCfg, err := base.Derive(func(c *config.Config) {
//	    c.AgentName = "da-slack"
//	    c.MergedMax = 5
//	})
func (c *Config) Derive(overrides ...Override) (*Config, error) {
	if c == nil {
		return nil, ErrConfigNil
	}

	derived := *c
	for _, ov := range overrides {
		if ov == nil {
			continue
		}
		ov(&derived)
	}

	if err := derived.Validate(); err != nil {
		return nil, fmt.Errorf("validating derived configuration: %w", err)
	}

	return &derived, nil
}
