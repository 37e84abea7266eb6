// Package codecs defines the decode/read/write contracts that sit between
// the byte-level ioutil primitives and the per-format bridges (jpeg, png,
// gif, webp), plus the shared ImageInfo/ImageFrame/ImageMetadata containers
// spec.md §3 describes.
package codecs

import "github.com/baranov1ch/squim-sub000/ioutil"

// Format identifies a recognized image container.
type Format int

const (
	FormatUnknown Format = iota
	FormatJPEG
	FormatPNG
	FormatGIF
	FormatWebP
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatPNG:
		return "png"
	case FormatGIF:
		return "gif"
	case FormatWebP:
		return "webp"
	default:
		return "unknown"
	}
}

// ColorScheme is the pixel layout a decoded frame's buffer uses.
type ColorScheme int

const (
	ColorUnknown ColorScheme = iota
	ColorGrayscale
	ColorGrayscaleAlpha
	ColorRGB
	ColorRGBA
	ColorYUV
	ColorYUVA
)

// BytesPerPixel returns the number of bytes one pixel occupies under this
// scheme, or 0 for ColorUnknown.
func (c ColorScheme) BytesPerPixel() int {
	switch c {
	case ColorGrayscale:
		return 1
	case ColorGrayscaleAlpha:
		return 2
	case ColorRGB, ColorYUV:
		return 3
	case ColorRGBA, ColorYUVA:
		return 4
	default:
		return 0
	}
}

// QualityUnknown is ImageInfo.Quality's sentinel when the source encoder's
// quality cannot be estimated.
const QualityUnknown = -1

// ImageInfo holds the header-level facts a Reader learns before any pixel
// data is decoded.
type ImageInfo struct {
	Width           int
	Height          int
	ByteSize        int // 0 if unknown ahead of time
	Format          Format
	Multiframe      bool
	Progressive     bool
	Quality         int     // 0-100, or QualityUnknown
	LoopCount       int     // 0 = infinite; -1 = not specified
	BackgroundColor [4]byte // RGBA
}

// DisposalMethod mirrors codecs/gif.DisposalMethod at the cross-format
// level; every Reader normalizes into this regardless of source container.
type DisposalMethod int

const (
	DisposalNone DisposalMethod = iota
	DisposalBackground
	DisposalRestorePrevious
)

// FrameStatus tracks an ImageFrame's progress through decoding.
type FrameStatus int

const (
	FrameEmpty FrameStatus = iota
	FrameHeaderComplete
	FramePartial
	FrameComplete
)

// NoRequiredPreviousFrame is the sentinel for ImageFrame.RequiredPreviousFrameIndex
// meaning "this frame does not depend on any previous frame".
const NoRequiredPreviousFrame = -1

// ImageFrame is the decoded-pixel container spec.md §3 describes. Init
// freezes Width/Height/Scheme and lazily allocates Pixels; calling it twice
// is a bug and panics.
type ImageFrame struct {
	OffsetX int
	OffsetY int
	Width   int
	Height  int
	Scheme  ColorScheme
	Stride  int
	Pixels  []byte

	DurationMs  int
	Disposal    DisposalMethod
	Progressive bool
	Quality     int
	Status      FrameStatus

	RequiredPreviousFrameIndex int

	inited bool
}

// NewImageFrame returns a frame with no backing buffer yet; call Init
// before writing pixels.
func NewImageFrame() *ImageFrame {
	return &ImageFrame{Quality: QualityUnknown, RequiredPreviousFrameIndex: NoRequiredPreviousFrame}
}

// Init freezes the frame's geometry and color scheme and allocates its pixel
// buffer. Panics if called more than once.
func (f *ImageFrame) Init(width, height int, scheme ColorScheme) {
	if f.inited {
		panic("codecs: ImageFrame.Init called twice")
	}
	f.Width = width
	f.Height = height
	f.Scheme = scheme
	bpp := scheme.BytesPerPixel()
	f.Stride = width * bpp
	f.Pixels = make([]byte, f.Stride*height)
	f.Status = FrameHeaderComplete
	f.inited = true
}

// MetadataKind identifies one of the metadata payload kinds a format's
// container may carry.
type MetadataKind int

const (
	MetaICC MetadataKind = iota
	MetaEXIF
	MetaXMP
)

func (k MetadataKind) String() string {
	switch k {
	case MetaICC:
		return "ICC"
	case MetaEXIF:
		return "EXIF"
	case MetaXMP:
		return "XMP"
	default:
		return "unknown metadata"
	}
}

type metaEntry struct {
	list   *ioutil.ChunkList
	frozen bool
}

// ImageMetadata maps a metadata kind to an append-only ChunkList plus a
// frozen flag, per spec.md §3. The zero value is ready to use.
type ImageMetadata struct {
	entries map[MetadataKind]*metaEntry
}

// NewImageMetadata returns an empty ImageMetadata.
func NewImageMetadata() *ImageMetadata {
	return &ImageMetadata{entries: make(map[MetadataKind]*metaEntry)}
}

func (m *ImageMetadata) entry(kind MetadataKind) *metaEntry {
	if m.entries == nil {
		m.entries = make(map[MetadataKind]*metaEntry)
	}
	e, ok := m.entries[kind]
	if !ok {
		e = &metaEntry{list: ioutil.NewChunkList()}
		m.entries[kind] = e
	}
	return e
}

// Append adds c to kind's ChunkList. Appending to a frozen kind is a no-op:
// the container has already finished collecting that metadata.
func (m *ImageMetadata) Append(kind MetadataKind, c *ioutil.Chunk) {
	e := m.entry(kind)
	if e.frozen {
		return
	}
	e.list.Append(c)
}

// Freeze marks kind's collection complete; subsequent Appends are ignored.
func (m *ImageMetadata) Freeze(kind MetadataKind) {
	m.entry(kind).frozen = true
}

// Has reports whether any bytes have been collected for kind.
func (m *ImageMetadata) Has(kind MetadataKind) bool {
	e, ok := m.entries[kind]
	return ok && !e.list.Empty()
}

// IsCompleted reports whether kind has been frozen.
func (m *ImageMetadata) IsCompleted(kind MetadataKind) bool {
	e, ok := m.entries[kind]
	return ok && e.frozen
}

// Bytes concatenates kind's ChunkList into a single byte slice, or nil if
// nothing has been collected.
func (m *ImageMetadata) Bytes(kind MetadataKind) []byte {
	e, ok := m.entries[kind]
	if !ok || e.list.Empty() {
		return nil
	}
	return e.list.Merge().Data()
}
