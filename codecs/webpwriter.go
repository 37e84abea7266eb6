package codecs

import (
	"bytes"
	"image"
	"image/color"
	"time"

	"github.com/baranov1ch/squim-sub000/animation"
	"github.com/baranov1ch/squim-sub000/ioutil"
)

// EncodeParams are the WEBP-specific tuning knobs a caller (the RPC layer's
// request header, per spec.md §6) hands to the OptimizationStrategy, which
// in turn passes them through to LazyWriter.
type EncodeParams struct {
	Quality  float32
	Lossless bool
}

// LazyWriter is the WebP encoder facade spec.md §4.5 describes: it presents
// one Writer regardless of source frame count, deferring the single-frame
// vs. animated-muxer choice to animation.AnimEncoder.Close, which already
// compares an animated single-frame encode against a simple encode and
// keeps whichever is smaller (see animation/animation.go). WriteFrame only
// accumulates decoded pixels and the lowest frame quality seen; nothing is
// encoded, and the sink is never touched, until Finalize — hence "lazy":
// the WebP container's exact byte length is only knowable once every frame
// has been imported, so BufWriter.ReleaseBuffer-style single-shot flushing
// is the natural fit (ioutil/bufwriter.go).
type LazyWriter struct {
	sink   ioutil.Writer
	params EncodeParams

	info ImageInfo
	meta *ImageMetadata

	frames  []pendingFrame
	quality float32

	assembled []byte
	bw        *ioutil.BufWriter
	err       *ioutil.Error
}

type pendingFrame struct {
	img        *image.NRGBA
	durationMs int
	offsetX    int
	offsetY    int
	disposal   DisposalMethod
}

// NewLazyWriter returns a Writer that encodes to WebP and flushes the
// result through sink once Finalize is called.
func NewLazyWriter(sink ioutil.Writer, params EncodeParams) *LazyWriter {
	return &LazyWriter{sink: sink, params: params}
}

func (w *LazyWriter) Init(info ImageInfo, meta *ImageMetadata) ioutil.Result {
	w.info = info
	w.meta = meta
	w.quality = w.params.Quality
	return ioutil.OK(0)
}

func (w *LazyWriter) WriteFrame(frame *ImageFrame) ioutil.Result {
	if w.err != nil {
		return ioutil.Result{Status: ioutil.StatusError, Err: w.err}
	}
	img := frameToNRGBA(frame)
	w.frames = append(w.frames, pendingFrame{
		img:        img,
		durationMs: frame.DurationMs,
		offsetX:    frame.OffsetX,
		offsetY:    frame.OffsetY,
		disposal:   frame.Disposal,
	})
	// Quality selection per spec.md §4.5: never re-encode a lower-quality
	// source at a higher nominal quality than it already had.
	if frame.Quality != QualityUnknown && float32(frame.Quality) < w.quality {
		w.quality = float32(frame.Quality)
	}
	return ioutil.OK(0)
}

func (w *LazyWriter) Finalize() ioutil.Result {
	if w.err != nil {
		return ioutil.Result{Status: ioutil.StatusError, Err: w.err}
	}
	if w.assembled == nil {
		data, err := w.assemble()
		if err != nil {
			w.err = ioutil.NewError(ioutil.ErrEncodeError, "webp: %v", err)
			return ioutil.Result{Status: ioutil.StatusError, Err: w.err}
		}
		w.assembled = data
		w.bw = ioutil.NewBufWriter(w.sink, len(data)+1)
		if res := w.bw.Write(ioutil.NewCopiedChunk(data)); res.IsError() {
			w.err = res.Err
			return res
		}
	}
	return w.bw.Flush()
}

func (w *LazyWriter) assemble() ([]byte, error) {
	var buf bytes.Buffer
	canvasW, canvasH := w.info.Width, w.info.Height
	loop := w.info.LoopCount
	if loop < 0 {
		loop = 0
	}
	enc := animation.NewEncoder(&buf, canvasW, canvasH, &animation.EncodeOptions{
		LoopCount: loop,
		Quality:   int(w.quality),
		Lossless:  w.params.Lossless,
	})
	if w.meta != nil {
		if icc := w.meta.Bytes(MetaICC); icc != nil {
			enc.SetICCProfile(icc)
		}
		if exif := w.meta.Bytes(MetaEXIF); exif != nil {
			enc.SetEXIF(exif)
		}
		if xmp := w.meta.Bytes(MetaXMP); xmp != nil {
			enc.SetXMP(xmp)
		}
	}
	for _, f := range w.frames {
		dur := time.Duration(f.durationMs) * time.Millisecond
		if err := enc.AddFrame(f.img, dur); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// frameToNRGBA converts a decoded ImageFrame (always RGBA-packed by the
// codecs Readers, per NewImageFrame's Init(..., ColorRGBA) callers) into an
// *image.NRGBA the animation/webp encoders accept.
func frameToNRGBA(f *ImageFrame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	if f.Scheme == ColorRGBA && f.Stride == f.Width*4 {
		copy(img.Pix, f.Pixels)
		return img
	}
	bpp := f.Scheme.BytesPerPixel()
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			i := y*f.Stride + x*bpp
			var c color.NRGBA
			switch f.Scheme {
			case ColorGrayscale:
				g := f.Pixels[i]
				c = color.NRGBA{R: g, G: g, B: g, A: 255}
			case ColorGrayscaleAlpha:
				g, a := f.Pixels[i], f.Pixels[i+1]
				c = color.NRGBA{R: g, G: g, B: g, A: a}
			case ColorRGB:
				c = color.NRGBA{R: f.Pixels[i], G: f.Pixels[i+1], B: f.Pixels[i+2], A: 255}
			default:
				c = color.NRGBA{R: f.Pixels[i], G: f.Pixels[i+1], B: f.Pixels[i+2], A: f.Pixels[i+3]}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
