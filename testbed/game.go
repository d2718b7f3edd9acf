package testbed

import (
	"math"

	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	elapsed float64
	width   uint32
	height  uint32
}

// NewTestGame returns a game that clears the window to a slowly cycling
// color. config may be nil for the defaults.
func NewTestGame(config *core.Config) *TestGame {
	state := &gameState{}
	tg := &TestGame{
		Game: &engine.Game{
			Config: config,
			State:  state,
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogInfo("initializing testbed...")
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	g.state().elapsed += deltaTime
	return nil
}

// clearColor cycles through hues with a period of six seconds.
func clearColor(t float64) metadata.ClearValue {
	phase := t * math.Pi / 3
	channel := func(offset float64) float32 {
		return float32(0.5 + 0.5*math.Sin(phase+offset))
	}
	return metadata.ClearColor(channel(0)*0.3, channel(2*math.Pi/3)*0.3, channel(4*math.Pi/3)*0.3, 1)
}

func (g *TestGame) Render(frame *engine.Frame) error {
	info := frame.Surface.RenderPassInfo(clearColor(g.state().elapsed), metadata.ClearDepthStencil(1, 0))
	if err := frame.Context.BeginRenderPass(info); err != nil {
		return err
	}
	frame.Context.EndRenderPass()
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width = width
	s.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed ran for %.1f seconds", g.state().elapsed)
	return nil
}
