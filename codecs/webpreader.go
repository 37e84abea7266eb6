package codecs

import (
	"bytes"
	"image"
	"time"

	rootwebp "github.com/baranov1ch/squim-sub000"
	"github.com/baranov1ch/squim-sub000/animation"
	"github.com/baranov1ch/squim-sub000/ioutil"
	"github.com/baranov1ch/squim-sub000/mux"
)

// WebPReader bridges the kept webp/mux/animation decoding machinery to the
// Reader contract. Like JPEGReader/PNGReader it buffers until EOF — the
// container's chunk sizes are only known once the RIFF length fields are
// read, so there is no useful place to suspend mid-container for a reader
// that, per spec.md §4.6, only needs frame-by-frame pull semantics
// downstream of a single buffered parse.
type WebPReader struct {
	buf       bytes.Buffer
	anim      *animation.Animation
	single    image.Image
	decoded   bool
	multi     bool
	nextFrame int
	meta      *ImageMetadata
}

// NewWebPReader returns a Reader for WebP input.
func NewWebPReader() *WebPReader {
	return &WebPReader{meta: NewImageMetadata()}
}

func (w *WebPReader) decodeIfReady(r *ioutil.BufReader) ioutil.Result {
	if w.decoded {
		return ioutil.OK(0)
	}
	for {
		c, res := r.ReadSome()
		if res.IsOK() {
			w.buf.Write(c.Data())
			continue
		}
		if res.IsError() {
			return res
		}
		if !res.IsEOF() {
			return ioutil.Pending()
		}
		break
	}
	dmx, err := mux.NewDemuxer(w.buf.Bytes())
	if err != nil {
		return ioutil.ErrResult(ioutil.ErrDecodeError, "webp: %v", err)
	}
	feat := dmx.GetFeatures()
	if feat.HasAnimation || dmx.NumFrames() > 1 {
		anim, err := animation.DecodeBytes(w.buf.Bytes())
		if err != nil {
			return ioutil.ErrResult(ioutil.ErrDecodeError, "webp: %v", err)
		}
		if err := anim.DecodeFrames(); err != nil {
			return ioutil.ErrResult(ioutil.ErrDecodeError, "webp: %v", err)
		}
		w.anim = anim
		w.multi = true
		if anim.ICC != nil {
			w.meta.Append(MetaICC, ioutil.NewCopiedChunk(anim.ICC))
		}
		if anim.EXIF != nil {
			w.meta.Append(MetaEXIF, ioutil.NewCopiedChunk(anim.EXIF))
		}
		if anim.XMP != nil {
			w.meta.Append(MetaXMP, ioutil.NewCopiedChunk(anim.XMP))
		}
	} else {
		img, err := rootwebp.Decode(bytes.NewReader(w.buf.Bytes()))
		if err != nil {
			return ioutil.ErrResult(ioutil.ErrDecodeError, "webp: %v", err)
		}
		w.single = img
	}
	w.decoded = true
	return ioutil.OK(0)
}

func (w *WebPReader) GetImageInfo(r *ioutil.BufReader) (ImageInfo, ioutil.Result) {
	if res := w.decodeIfReady(r); !res.IsOK() {
		return ImageInfo{}, res
	}
	info := ImageInfo{Format: FormatWebP, Quality: QualityUnknown, LoopCount: -1}
	if w.multi {
		info.Width = w.anim.CanvasWidth
		info.Height = w.anim.CanvasHeight
		info.Multiframe = len(w.anim.Frames) > 1
		info.LoopCount = w.anim.LoopCount
	} else {
		b := w.single.Bounds()
		info.Width = b.Dx()
		info.Height = b.Dy()
	}
	return info, ioutil.OK(0)
}

func (w *WebPReader) HasMoreFrames() bool {
	if w.multi {
		return w.nextFrame < len(w.anim.Frames)
	}
	return w.nextFrame < 1
}

func (w *WebPReader) GetNextFrame(r *ioutil.BufReader) (*ImageFrame, ioutil.Result) {
	if res := w.decodeIfReady(r); !res.IsOK() {
		return nil, res
	}
	if w.multi {
		if w.nextFrame >= len(w.anim.Frames) {
			return nil, ioutil.EOF()
		}
		af := w.anim.Frames[w.nextFrame]
		w.nextFrame++
		frame := imageToFrame(af.Image)
		frame.OffsetX = af.OffsetX
		frame.OffsetY = af.OffsetY
		frame.DurationMs = int(af.Duration / time.Millisecond)
		if af.Dispose == animation.DisposeBackground {
			frame.Disposal = DisposalBackground
		}
		return frame, ioutil.OK(0)
	}
	if w.nextFrame >= 1 {
		return nil, ioutil.EOF()
	}
	w.nextFrame++
	return imageToFrame(w.single), ioutil.OK(0)
}

func (w *WebPReader) ReadTillTheEnd(r *ioutil.BufReader) ioutil.Result {
	w.meta.Freeze(MetaICC)
	w.meta.Freeze(MetaEXIF)
	w.meta.Freeze(MetaXMP)
	return ioutil.OK(0)
}

func (w *WebPReader) Metadata() *ImageMetadata { return w.meta }
