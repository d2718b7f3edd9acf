package engine

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/kiln/engine/assets"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/platform"
	"github.com/spaghettifunk/kiln/engine/renderer"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
	"github.com/spaghettifunk/kiln/engine/renderer/shader"
	"github.com/spaghettifunk/kiln/engine/renderer/surface"
	"github.com/spaghettifunk/kiln/engine/renderer/vulkan"
)

const statsInterval = 5.0

// Engine owns the window, the Vulkan device and the single rendering
// context the game records into.
type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *core.Config
	isRunning    atomic.Bool
	isSuspended  bool

	events        *core.EventBus
	platform      *platform.Platform
	instance      *vulkan.VulkanInstance
	nativeSurface *vulkan.VulkanSurface
	device        *vulkan.VulkanDevice
	shaders       *shader.Service
	assetManager  *assets.AssetManager
	renderer      *renderer.Renderer
	context       *renderer.Context
	surface       *surface.WindowSurface

	// shaderModules are the driver modules of every shader in the shader
	// directory, keyed by path.
	shaderModules map[string]*vulkan.VulkanShaderStage
	// reloads receives the paths of changed shaders from the asset watcher.
	reloads chan string

	width       uint32
	height      uint32
	clock       *core.Clock
	lastTime    float64
	frameNumber uint64
}

func New(g *Game) (*Engine, error) {
	config := g.Config
	if config == nil {
		config = core.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(config.Log.Level); err != nil {
		return nil, err
	}

	events := core.NewEventBus()
	shaders := shader.NewService(shader.WithWorkers(config.Shaders.Workers))
	am, err := assets.NewAssetManager(shaders, events)
	if err != nil {
		core.LogError("failed to create the asset manager: %s", err)
		return nil, err
	}

	return &Engine{
		currentStage:  EngineStageUninitialized,
		gameInstance:  g,
		config:        config,
		events:        events,
		platform:      platform.New(events),
		shaders:       shaders,
		assetManager:  am,
		shaderModules: make(map[string]*vulkan.VulkanShaderStage),
		reloads:       make(chan string, 64),
		clock:         core.NewClock(),
		width:         config.Application.Width,
		height:        config.Application.Height,
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onQuit)
	e.events.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.events.Register(core.EVENT_CODE_DEVICE_LOST, e, e.onDeviceLost)
	e.events.Register(core.EVENT_CODE_SURFACE_RECREATED, e, e.onSurfaceRecreated)
	e.events.Register(core.EVENT_CODE_ASSET_CHANGED, e, e.onAssetChanged)

	app := e.config.Application
	if err := e.platform.Startup(app.Name, app.X, app.Y, app.Width, app.Height); err != nil {
		return err
	}

	instance, err := vulkan.NewInstance(app.Name, e.platform.GetRequiredExtensionNames(), e.config.Renderer.Debug)
	if err != nil {
		return err
	}
	e.instance = instance

	handle, err := e.platform.CreateSurface(instance.Handle)
	if err != nil {
		return err
	}
	e.nativeSurface = vulkan.NewSurface(instance, handle)

	device, err := vulkan.NewDevice(instance, e.nativeSurface)
	if err != nil {
		return err
	}
	e.device = device

	if err := e.shaders.Initialize(); err != nil {
		return err
	}
	if err := e.loadShaders(); err != nil {
		return err
	}

	e.renderer = renderer.New(device, e.shaders, e.config.Renderer)
	ctx, err := e.renderer.NewContext()
	if err != nil {
		return err
	}
	e.context = ctx

	e.width, e.height = e.platform.FramebufferSize()
	e.surface = surface.NewWindowSurface(e.renderer, e.nativeSurface, surface.WindowConfig{
		Width:         e.width,
		Height:        e.height,
		Format:        metadata.FORMAT_B8G8R8A8_UNORM,
		DepthFormat:   metadata.FORMAT_D32_SFLOAT,
		PresentMode:   metadata.ParsePresentMode(e.config.Renderer.PresentMode),
		MinImageCount: e.config.Renderer.MinImageCount,
		Events:        e.events,
	})
	if err := e.surface.Initialize(ctx); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// loadShaders indexes the shader directory and compiles every shader found
// there. A missing directory only disables shaders.
func (e *Engine) loadShaders() error {
	dir := e.config.Shaders.Directory
	if _, err := os.Stat(dir); err != nil {
		core.LogWarn("shader directory %s is not available: %s", dir, err)
		return nil
	}
	if err := e.assetManager.Initialize(dir, e.config.Shaders.HotReload); err != nil {
		return err
	}

	var sources []shader.Source
	for _, path := range e.assetManager.Paths(metadata.ResourceTypeShader) {
		res, err := e.assetManager.LoadAsset(path)
		if err != nil {
			return err
		}
		sources = append(sources, res.Data.(shader.Source))
	}
	if len(sources) == 0 {
		return nil
	}

	modules, err := e.shaders.CompileProgram(sources, 0, shader.BindingLayout{})
	if err != nil {
		return err
	}
	for _, m := range modules {
		if err := e.createShaderModule(m); err != nil {
			return err
		}
	}
	core.LogInfo("%d shader modules loaded from %s", len(modules), dir)
	return nil
}

func (e *Engine) createShaderModule(m *shader.Module) error {
	stage, err := e.device.CreateShaderModule(m)
	if err != nil {
		return err
	}
	if old, ok := e.shaderModules[m.Name]; ok {
		old.Destroy()
	}
	e.shaderModules[m.Name] = stage
	return nil
}

// reloadShaders recompiles the shaders the watcher reported since the last
// frame. A broken shader keeps the previous module.
func (e *Engine) reloadShaders() {
	for {
		select {
		case path := <-e.reloads:
			info, ok := e.assetManager.Lookup(path)
			if !ok || info.Removed {
				if stage, ok := e.shaderModules[path]; ok {
					// The module is not referenced by recorded work.
					stage.Destroy()
					delete(e.shaderModules, path)
				}
				continue
			}
			src, err := shader.ReadSource(path)
			if err != nil {
				core.LogWarn("reloading %s: %s", path, err)
				continue
			}
			m, err := e.shaders.Compile(src, 0, shader.BindingLayout{})
			if err != nil {
				core.LogWarn("reloading %s: %s", path, err)
				continue
			}
			if err := e.createShaderModule(m); err != nil {
				core.LogWarn("reloading %s: %s", path, err)
				continue
			}
			core.LogInfo("shader %s reloaded", path)
		default:
			return
		}
	}
}

// ShaderModule returns the driver module compiled from the shader at path.
func (e *Engine) ShaderModule(path string) (*vulkan.VulkanShaderStage, bool) {
	stage, ok := e.shaderModules[path]
	return stage, ok
}

func (e *Engine) Events() *core.EventBus {
	return e.events
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	stats := e.renderer.Stats()
	lastReport := e.lastTime

	for e.isRunning.Load() {
		e.platform.PumpMessages()
		if e.platform.ShouldClose() {
			e.isRunning.Store(false)
			break
		}
		if e.isSuspended {
			time.Sleep(16 * time.Millisecond)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStart := time.Now()

		e.reloadShaders()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %s", err)
				return err
			}
		}

		if err := e.drawFrame(delta); err != nil {
			if err := e.frameError(err); err != nil {
				return err
			}
			e.lastTime = currentTime
			continue
		}

		stats.Update(float64(time.Since(frameStart).Microseconds()) / 1000.0)
		if currentTime-lastReport >= statsInterval {
			s := stats.Snapshot()
			core.LogDebug("%.1f fps (%.2f ms), %d flushes, %d nodes, %d swaps, %d recreations, %d objects collected",
				s.FPS, s.FrameTimeMS, s.Flushes, s.NodesFlushed, s.Swaps, s.Recreations, s.GarbageDeleted)
			lastReport = currentTime
		}
		e.lastTime = currentTime
	}
	return nil
}

func (e *Engine) drawFrame(delta float64) error {
	e.frameNumber++
	if err := e.surface.NextImage(e.context); err != nil {
		return err
	}
	if e.gameInstance.FnRender != nil {
		frame := &Frame{
			Context:   e.context,
			Surface:   e.surface,
			DeltaTime: delta,
			Number:    e.frameNumber,
		}
		if err := e.gameInstance.FnRender(frame); err != nil {
			return fmt.Errorf("game render: %w", err)
		}
	}
	if e.context.InsideRenderPass() {
		e.context.EndRenderPass()
	}
	return e.surface.Swap(e.context)
}

// frameError decides what a failed frame means for the loop. A timeout
// skips the frame: the recorded work and the acquired image are kept for the
// next one. Any other error stops the loop.
func (e *Engine) frameError(err error) error {
	switch {
	case errors.Is(err, core.ErrTimeout):
		core.LogWarn("frame %d timed out, skipping it: %s", e.frameNumber, err)
		return nil
	case e.isLost(err):
		ctx := core.EventContext{}
		ctx.Data.Err = err
		e.events.Fire(core.EVENT_CODE_DEVICE_LOST, e, ctx)
		return err
	}
	core.LogError("frame %d failed: %s", e.frameNumber, err)
	return err
}

func (e *Engine) isLost(err error) bool {
	return errors.Is(err, renderer.ErrContextLost) || core.IsDeviceLost(err)
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			core.LogError("game shutdown: %s", err)
		}
	}
	e.assetManager.Shutdown()

	var errs []error
	if e.context != nil {
		e.context.Destroy()
	}
	if e.surface != nil {
		e.surface.Destroy()
	}
	for path, stage := range e.shaderModules {
		stage.Destroy()
		delete(e.shaderModules, path)
	}
	if e.renderer != nil {
		if err := e.renderer.Shutdown(); err != nil && !core.IsDeviceLost(err) {
			errs = append(errs, err)
		}
	}
	if err := e.shaders.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if e.device != nil {
		e.device.Destroy()
	}
	if e.nativeSurface != nil {
		e.nativeSurface.Destroy()
	}
	if e.instance != nil {
		e.instance.Destroy()
	}
	if err := e.platform.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	e.events.Shutdown()

	e.currentStage = EngineStageShutdown
	return errors.Join(errs...)
}

func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onQuit(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
	e.isRunning.Store(false)
	return true
}

func (e *Engine) onDeviceLost(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	core.LogError("device lost, stopping: %s", data.Data.Err)
	e.isRunning.Store(false)
	return false
}

func (e *Engine) onSurfaceRecreated(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	core.LogDebug("surface recreated at %dx%d", data.Data.U32[0], data.Data.U32[1])
	return false
}

// onAssetChanged runs on the watcher goroutine; the reload happens in the
// frame loop.
func (e *Engine) onAssetChanged(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	info, ok := sender.(assets.AssetInfo)
	if !ok || info.Type != metadata.ResourceTypeShader {
		return false
	}
	select {
	case e.reloads <- info.Path:
	default:
		core.LogWarn("dropping shader reload of %s", info.Path)
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width := data.Data.U32[0]
	height := data.Data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	e.surface.Resize(width, height)
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError("game resize: %s", err)
		}
	}
	return false
}
