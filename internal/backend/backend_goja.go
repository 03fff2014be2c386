//go:build goja && !v8

package backend

import (
	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/gojaengine"
)

// Name is the backend compiled into this binary.
const Name = gojaengine.Name

// New creates an engine of the compiled-in backend.
func New(cfg core.Config) (core.Engine, error) {
	return gojaengine.New(cfg)
}
