// Package dependency wires core inkdrift services using go.uber.org/dig.
package dependency

import (
	"fmt"

	"go.uber.org/dig"

	"github.com/inkdrift/inkdrift/internal/agent"
	"github.com/inkdrift/inkdrift/internal/config"
	"github.com/inkdrift/inkdrift/internal/providers"
	"github.com/inkdrift/inkdrift/internal/schema"
)

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	provider schema.LLMProvider
	turns    *agent.TurnRunner
}

func (c *Container) Provider() schema.LLMProvider { return c.provider }
func (c *Container) TurnRunner() *agent.TurnRunner { return c.turns }

// New builds and wires all core services from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(newProvider); err != nil {
		return nil, err
	}
	if err := d.Provide(newTurnRunner); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(provider schema.LLMProvider, turns *agent.TurnRunner) {
		result = &Container{provider: provider, turns: turns}
	})
	return result, err
}

func newProvider(cfg *config.Config) (schema.LLMProvider, error) {
	c := cfg.Completion
	if c.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for model %q — edit %s", c.Model, config.ConfigPath())
	}
	return providers.NewOpenAIProvider(c.APIKey, c.APIBase, c.Model, c.ExtraHeaders), nil
}

func newTurnRunner(provider schema.LLMProvider, cfg *config.Config) *agent.TurnRunner {
	return agent.NewTurnRunner(provider, cfg)
}
