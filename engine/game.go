package engine

import (
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/surface"
)

// Frame is what a game records into on every iteration of the loop. The
// surface is presented once FnRender returns.
type Frame struct {
	Context   *renderer.Context
	Surface   surface.Surface
	DeltaTime float64
	Number    uint64
}

type Game struct {
	Config       *core.Config
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

type Initialize func(e *Engine) error
type Update func(deltaTime float64) error
type Render func(frame *Frame) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
