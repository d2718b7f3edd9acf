// Package backendtest implements the backend interfaces in memory. Command
// buffers record the operations issued on them so tests can assert on the
// exact command stream a submission carried.
package backendtest

import (
	"fmt"

	"github.com/spaghettifunk/kiln/engine/renderer/backend"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type Image struct {
	Name      string
	desc      metadata.ImageDesc
	Destroyed bool
}

func NewImage(name string, desc metadata.ImageDesc) *Image {
	return &Image{Name: name, desc: desc}
}

func (i *Image) Desc() metadata.ImageDesc { return i.desc }
func (i *Image) Destroy()                 { i.Destroyed = true }
func (i *Image) String() string           { return i.Name }

type ImageView struct {
	image     *Image
	Destroyed bool
}

func (v *ImageView) Image() backend.Image { return v.image }
func (v *ImageView) Destroy()             { v.Destroyed = true }
func (v *ImageView) String() string       { return v.image.Name + "_view" }

type Buffer struct {
	Name      string
	size      uint64
	Destroyed bool
}

func NewBuffer(name string, size uint64) *Buffer {
	return &Buffer{Name: name, size: size}
}

func (b *Buffer) Size() uint64   { return b.size }
func (b *Buffer) Destroy()       { b.Destroyed = true }
func (b *Buffer) String() string { return b.Name }

type Framebuffer struct {
	ID        int
	Views     []backend.ImageView
	extent    metadata.Extent2D
	Destroyed bool
}

func (f *Framebuffer) Extent() metadata.Extent2D { return f.extent }
func (f *Framebuffer) Destroy()                  { f.Destroyed = true }
func (f *Framebuffer) String() string            { return fmt.Sprintf("fb%d", f.ID) }

type RenderPass struct {
	desc metadata.RenderPassDesc
}

func (r *RenderPass) Desc() metadata.RenderPassDesc { return r.desc }

type Semaphore struct {
	ID        int
	Destroyed bool
}

func (s *Semaphore) Destroy() { s.Destroyed = true }

type Surface struct {
	Destroyed bool
}

func (s *Surface) Destroy() { s.Destroyed = true }
