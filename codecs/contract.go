package codecs

import "github.com/baranov1ch/squim-sub000/ioutil"

// Reader is the header-then-frames contract every per-format decoder bridge
// (jpeg, png, gif, webp) implements. Every method is suspendable: a Pending
// Result means "call me again once more bytes are available"; the Reader
// must remember enough state to resume exactly where it left off.
//
// GetImageInfo may be called repeatedly (Pending) until it returns Ok; from
// then on Width/Height/etc. are frozen. HasMoreFrames/GetNextFrame alternate
// until HasMoreFrames reports false. ReadTillTheEnd drains any bytes the
// format still cares about after the last frame (trailing metadata chunks);
// callers only invoke it when the OptimizationStrategy says metadata is
// worth waiting for.
type Reader interface {
	// GetImageInfo parses the format header and returns ImageInfo once known.
	GetImageInfo(r *ioutil.BufReader) (ImageInfo, ioutil.Result)

	// HasMoreFrames reports whether another frame remains to be decoded. It
	// is only meaningful after GetImageInfo has returned Ok.
	HasMoreFrames() bool

	// GetNextFrame decodes and returns the next frame.
	GetNextFrame(r *ioutil.BufReader) (*ImageFrame, ioutil.Result)

	// ReadTillTheEnd consumes any remaining bytes of the source (trailing
	// metadata chunks, container trailers) once every frame has been read.
	ReadTillTheEnd(r *ioutil.BufReader) ioutil.Result

	// Metadata returns the ICC/EXIF/XMP collected so far. The Driver
	// forwards a snapshot to the Writer right after GetImageInfo succeeds,
	// and relies on ReadTillTheEnd to complete it when called.
	Metadata() *ImageMetadata
}

// Writer is the encode-side counterpart: constructed by the
// OptimizationStrategy, initialized with the source's ImageInfo and initial
// metadata snapshot, fed frames in read order, then finalized.
type Writer interface {
	// Init records the source image's header facts and initial metadata and
	// prepares to receive frames. Called exactly once, before any
	// WriteFrame call.
	Init(info ImageInfo, meta *ImageMetadata) ioutil.Result

	// WriteFrame encodes and emits one frame, in the order frames are read.
	WriteFrame(frame *ImageFrame) ioutil.Result

	// Finalize flushes any buffered output and completes the container
	// (e.g. assembling the WebP RIFF trailer). Called exactly once, after
	// the last WriteFrame.
	Finalize() ioutil.Result
}

// ReaderFactory instantiates a Reader for a recognized Format. The
// OptimizationStrategy owns format→Reader construction (spec.md §4.6's
// "ImageTypeSelector" + "instantiate a Reader for that format").
type ReaderFactory func() Reader

// SniffLen is the longest signature the driver peeks before dispatching to
// a format: "RIFF????WEBPVP" per spec.md §4.6.
const SniffLen = 14

// SniffFormat inspects up to SniffLen bytes of a signature and reports the
// Format it identifies, or FormatUnknown.
func SniffFormat(sig []byte) Format {
	switch {
	case len(sig) >= 3 && sig[0] == 0xFF && sig[1] == 0xD8 && sig[2] == 0xFF:
		return FormatJPEG
	case len(sig) >= 8 && string(sig[0:8]) == "\x89PNG\r\n\x1a\n":
		return FormatPNG
	case len(sig) >= 6 && (string(sig[0:6]) == "GIF87a" || string(sig[0:6]) == "GIF89a"):
		return FormatGIF
	case len(sig) >= 12 && string(sig[0:4]) == "RIFF" && string(sig[8:12]) == "WEBP":
		return FormatWebP
	default:
		return FormatUnknown
	}
}
