package engine

import (
	"fmt"
	"sync"

	"github.com/mvektor/weft/pkg/api"
)

type pipelineRegistry struct {
	mu     sync.RWMutex
	byName map[string]api.PipelineDefinition
}

func newPipelineRegistry() *pipelineRegistry {
	return &pipelineRegistry{
		byName: make(map[string]api.PipelineDefinition),
	}
}

func (r *pipelineRegistry) Register(def api.PipelineDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("pipeline %q already registered", def.Name)
	}
	r.byName[def.Name] = def
	return nil
}

func (r *pipelineRegistry) Get(name string) (api.PipelineDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byName[name]
	if !ok {
		return api.PipelineDefinition{}, fmt.Errorf("%w: %s", api.ErrPipelineNotFound, name)
	}
	return def, nil
}
