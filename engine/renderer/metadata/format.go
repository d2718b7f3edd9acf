package metadata

type Format uint32

const (
	FORMAT_UNDEFINED Format = iota
	FORMAT_R8G8B8A8_UNORM
	FORMAT_R8G8B8A8_SRGB
	FORMAT_B8G8R8A8_UNORM
	FORMAT_B8G8R8A8_SRGB
	FORMAT_R16G16B16A16_SFLOAT
	FORMAT_D16_UNORM
	FORMAT_D32_SFLOAT
	FORMAT_D24_UNORM_S8_UINT
	FORMAT_D32_SFLOAT_S8_UINT
)

var formatNames = map[Format]string{
	FORMAT_UNDEFINED:           "undefined",
	FORMAT_R8G8B8A8_UNORM:      "rgba8_unorm",
	FORMAT_R8G8B8A8_SRGB:       "rgba8_srgb",
	FORMAT_B8G8R8A8_UNORM:      "bgra8_unorm",
	FORMAT_B8G8R8A8_SRGB:       "bgra8_srgb",
	FORMAT_R16G16B16A16_SFLOAT: "rgba16_sfloat",
	FORMAT_D16_UNORM:           "d16_unorm",
	FORMAT_D32_SFLOAT:          "d32_sfloat",
	FORMAT_D24_UNORM_S8_UINT:   "d24_unorm_s8_uint",
	FORMAT_D32_SFLOAT_S8_UINT:  "d32_sfloat_s8_uint",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

func (f Format) HasDepth() bool {
	switch f {
	case FORMAT_D16_UNORM, FORMAT_D32_SFLOAT, FORMAT_D24_UNORM_S8_UINT, FORMAT_D32_SFLOAT_S8_UINT:
		return true
	}
	return false
}

func (f Format) HasStencil() bool {
	return f == FORMAT_D24_UNORM_S8_UINT || f == FORMAT_D32_SFLOAT_S8_UINT
}

func (f Format) IsDepthOrStencil() bool {
	return f.HasDepth() || f.HasStencil()
}

type SampleCount uint32

const (
	SAMPLE_COUNT_1 SampleCount = 1
	SAMPLE_COUNT_2 SampleCount = 2
	SAMPLE_COUNT_4 SampleCount = 4
	SAMPLE_COUNT_8 SampleCount = 8
)

type ImageLayout uint32

const (
	IMAGE_LAYOUT_UNDEFINED ImageLayout = iota
	IMAGE_LAYOUT_GENERAL
	IMAGE_LAYOUT_COLOR_ATTACHMENT
	IMAGE_LAYOUT_DEPTH_STENCIL_ATTACHMENT
	IMAGE_LAYOUT_SHADER_READ_ONLY
	IMAGE_LAYOUT_TRANSFER_SRC
	IMAGE_LAYOUT_TRANSFER_DST
	IMAGE_LAYOUT_PRESENT_SRC
)

var layoutNames = [...]string{
	"undefined",
	"general",
	"color_attachment",
	"depth_stencil_attachment",
	"shader_read_only",
	"transfer_src",
	"transfer_dst",
	"present_src",
}

func (l ImageLayout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return "unknown"
}

type ImageUsage uint32

const (
	IMAGE_USAGE_TRANSFER_SRC ImageUsage = 1 << iota
	IMAGE_USAGE_TRANSFER_DST
	IMAGE_USAGE_SAMPLED
	IMAGE_USAGE_COLOR_ATTACHMENT
	IMAGE_USAGE_DEPTH_STENCIL_ATTACHMENT
)

type BufferUsage uint32

const (
	BUFFER_USAGE_TRANSFER_SRC BufferUsage = 1 << iota
	BUFFER_USAGE_TRANSFER_DST
	BUFFER_USAGE_VERTEX
	BUFFER_USAGE_INDEX
	BUFFER_USAGE_UNIFORM
)

type PresentMode uint32

const (
	PRESENT_MODE_FIFO PresentMode = iota
	PRESENT_MODE_MAILBOX
	PRESENT_MODE_IMMEDIATE
)

func ParsePresentMode(s string) PresentMode {
	switch s {
	case "mailbox":
		return PRESENT_MODE_MAILBOX
	case "immediate":
		return PRESENT_MODE_IMMEDIATE
	}
	return PRESENT_MODE_FIFO
}

func (m PresentMode) String() string {
	switch m {
	case PRESENT_MODE_MAILBOX:
		return "mailbox"
	case PRESENT_MODE_IMMEDIATE:
		return "immediate"
	}
	return "fifo"
}

/** @brief Creation parameters of an image. */
type ImageDesc struct {
	Extent    Extent2D
	Format    Format
	Samples   SampleCount
	Usage     ImageUsage
	MipLevels uint32
	Layers    uint32
}
