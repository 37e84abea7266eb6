// Package optimization implements the top-level Driver state machine
// (spec.md §4.6) and the OptimizationStrategy policy objects that decide
// which codecs to use, how to tune them, and whether trailing metadata is
// worth waiting for.
package optimization

import (
	"github.com/baranov1ch/squim-sub000/codecs"
	"github.com/baranov1ch/squim-sub000/ioutil"
)

// Strategy is the policy object the Driver consults at each decision point
// of spec.md §4.6: whether to bother at all, which Reader to instantiate
// for a sniffed format, which Writer to hand frames to, and whether to wait
// for trailing metadata once frames are exhausted.
type Strategy interface {
	// ShouldEvenBother is asked once, in the Init state, before any bytes
	// are sniffed. Returning stop=true ends the driver immediately with a
	// deliberate Finished(Stop) (e.g. "image too small to optimize");
	// returning a non-nil err ends it with that error.
	ShouldEvenBother() (stop bool, err *ioutil.Error)

	// NewReader instantiates a Reader for a sniffed Format. Returns an
	// UnsupportedFormat error for anything it doesn't recognize.
	NewReader(format codecs.Format) (codecs.Reader, *ioutil.Error)

	// NewWriter constructs the Writer that will receive info/meta and every
	// subsequent frame, once the source's ImageInfo is known.
	NewWriter(info codecs.ImageInfo) (codecs.Writer, *ioutil.Error)

	// ShouldWaitForMetadata decides whether, after the last frame, the
	// driver should call Reader.ReadTillTheEnd to pick up trailing
	// metadata (e.g. WebP EXIF/XMP chunks that land after the frame data).
	ShouldWaitForMetadata() bool

	// CheckImageSize is consulted once ImageInfo is known (the
	// ReadingImageInfo state); a non-nil Error (kind ImageTooSmall or
	// ImageTooLarge) pins the driver before any frame is read.
	CheckImageSize(info codecs.ImageInfo) *ioutil.Error
}

// TunedParams groups the per-request knobs: requested quality, lossless
// preference, and whether metadata should be preserved at all. Neither
// RootStrategy nor ConvertToWebPStrategy uses it; ConvertToWebPStrategy
// keeps these as its own fields and builds codecs.EncodeParams from them.
type TunedParams struct {
	Quality          float32
	Lossless         bool
	PreserveMetadata bool
}
