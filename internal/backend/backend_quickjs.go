//go:build !v8 && !goja

package backend

import (
	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/quickjs"
)

// Name is the backend compiled into this binary.
const Name = quickjs.Name

// New creates an engine of the compiled-in backend.
func New(cfg core.Config) (core.Engine, error) {
	return quickjs.New(cfg)
}
