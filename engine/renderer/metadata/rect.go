package metadata

import "fmt"

type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) Empty() bool {
	return e.Width == 0 || e.Height == 0
}

/** @brief A rectangle in framebuffer coordinates. */
type Rect struct {
	X      int32
	Y      int32
	Width  uint32
	Height uint32
}

func RectFromExtent(e Extent2D) Rect {
	return Rect{Width: e.Width, Height: e.Height}
}

func (r Rect) Empty() bool {
	return r.Width == 0 || r.Height == 0
}

// Encloses reports whether o lies entirely inside r.
func (r Rect) Encloses(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y &&
		int64(o.X)+int64(o.Width) <= int64(r.X)+int64(r.Width) &&
		int64(o.Y)+int64(o.Height) <= int64(r.Y)+int64(r.Height)
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}
