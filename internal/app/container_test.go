package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vaultmesh/vaultmesh/internal/config"
)

func TestContainerConfigReturnsSuppliedConfig(t *testing.T) {
	cfg := config.Load()
	c := NewContainer(cfg)
	assert.Same(t, cfg, c.Config())
}

func TestContainerLoggerIsMemoized(t *testing.T) {
	c := NewContainer(config.Load())
	l1 := c.Logger()
	l2 := c.Logger()
	assert.Same(t, l1, l2)
}

func TestContainerShutdownWithNothingInitializedIsNoOp(t *testing.T) {
	c := NewContainer(config.Load())
	assert.NoError(t, c.Shutdown(nil)) //nolint:staticcheck // no I/O happens when nothing was initialized
}
