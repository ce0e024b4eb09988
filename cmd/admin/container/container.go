package container

import (
	"fmt"
	"os"

	"github.com/docpipe/docpipe/common/bootstrap"
	"github.com/docpipe/docpipe/common/engine"
	"github.com/docpipe/docpipe/common/pipeline"
	"github.com/docpipe/docpipe/common/registry"
)

// Container holds the initialized engine and its components
type Container struct {
	Components *bootstrap.Components
	Registry   *registry.Registry
	Engine     *engine.Engine
}

// NewContainer builds the engine once for all handlers. The admin service
// registers the same task definitions as the workers so that foreground
// retries and dispatch passes see the same registry.
func NewContainer(components *bootstrap.Components) (*Container, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	worker := fmt.Sprintf("admin-%s", hostname)

	reg := registry.New()
	eng, err := pipeline.NewEngine(components, reg, worker)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}
	if err := pipeline.RegisterTasks(reg, eng); err != nil {
		return nil, fmt.Errorf("failed to register tasks: %w", err)
	}

	return &Container{
		Components: components,
		Registry:   reg,
		Engine:     eng,
	}, nil
}
