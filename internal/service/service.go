// Package service implements the message orchestration core: session
// lifecycle, submission processing, and the generation gateway policy.
package service

import (
	"github.com/linggo/orchestrator/config"
	"github.com/linggo/orchestrator/internal/adapter/genai"
	store "github.com/linggo/orchestrator/internal/repository"
	"github.com/linggo/orchestrator/internal/scenario"
	"github.com/linggo/orchestrator/policy"
)

type Service struct {
	store     store.Store
	generator genai.Generator
	scenarios *scenario.Registry
	policy    *policy.Engine
	config    *config.Config
}

func New(store store.Store, generator genai.Generator, scenarios *scenario.Registry, policyEngine *policy.Engine, cfg *config.Config) *Service {
	return &Service{
		store:     store,
		generator: generator,
		scenarios: scenarios,
		policy:    policyEngine,
		config:    cfg,
	}
}
