//go:build v8

package backend

import (
	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/v8engine"
)

// Name is the backend compiled into this binary.
const Name = v8engine.Name

// New creates an engine of the compiled-in backend.
func New(cfg core.Config) (core.Engine, error) {
	return v8engine.New(cfg)
}
