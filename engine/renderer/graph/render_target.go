package graph

import (
	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

// RenderTarget binds an attachment point to the image currently backing it.
// It does not own the image or the view.
type RenderTarget struct {
	image      *Image
	view       backend.ImageView
	levelIndex uint32
	layerIndex uint32
}

func (rt *RenderTarget) Init(image *Image, view backend.ImageView, levelIndex, layerIndex uint32) {
	rt.image = image
	rt.view = view
	rt.levelIndex = levelIndex
	rt.layerIndex = layerIndex
}

// UpdateSwapchainImage points the render target at a new backing image
// without changing its identity.
func (rt *RenderTarget) UpdateSwapchainImage(image *Image, view backend.ImageView) {
	rt.image = image
	rt.view = view
}

func (rt *RenderTarget) Image() *Image {
	return rt.image
}

func (rt *RenderTarget) View() backend.ImageView {
	return rt.view
}

func (rt *RenderTarget) Format() metadata.Format {
	return rt.image.Desc().Format
}

func (rt *RenderTarget) Samples() metadata.SampleCount {
	return rt.image.Desc().Samples
}

func (rt *RenderTarget) LevelIndex() uint32 {
	return rt.levelIndex
}

func (rt *RenderTarget) LayerIndex() uint32 {
	return rt.layerIndex
}
