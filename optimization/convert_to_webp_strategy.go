package optimization

import (
	"github.com/baranov1ch/squim-sub000/codecs"
	"github.com/baranov1ch/squim-sub000/ioutil"
)

// ConvertToWebPStrategy is the production Strategy: it wraps RootStrategy's
// format recognition, always targets WebP, and wires PhotoMetric into the
// lossless/lossy choice (tunedParams) by deferring the actual
// codecs.LazyWriter construction until the first frame is decoded — the
// same "don't build the writer until you've seen a frame" idea
// lazy_webp_writer.cc names, applied one layer up from LazyWriter itself,
// since the tuning decision (PhotoMetric) belongs to the strategy, not the
// format-agnostic encoder facade.
type ConvertToWebPStrategy struct {
	*RootStrategy

	// Sink is where the encoded WebP bytes are flushed once Finalize
	// completes the container.
	Sink ioutil.Writer

	// RequestedQuality/RequestedLossless are the caller's (RPC header's)
	// explicit request, per spec.md §6.
	RequestedQuality  float32
	RequestedLossless bool

	// AutoPhotoDetect, when true, lets PhotoMetric of the first frame
	// override RequestedLossless for the whole image: photographic content
	// is encoded lossy at RequestedQuality, graphic content losslessly.
	// When false, the caller's explicit request is always honored.
	AutoPhotoDetect bool

	// PreserveMetadata controls whether ICC/EXIF/XMP survive the
	// conversion; when false, NewReader wraps the format reader in a
	// SkipMetadataReader and ShouldWaitForMetadata reports false.
	PreserveMetadata bool

	// MinWidth/MinHeight reject (ImageTooSmall) sources smaller than this
	// on either axis. 0 disables the corresponding check.
	MinWidth, MinHeight int
	// MaxWidth/MaxHeight reject (ImageTooLarge) sources larger than this on
	// either axis. 0 disables the corresponding check.
	MaxWidth, MaxHeight int
}

// NewConvertToWebPStrategy returns a Strategy ready to drive a GIF/JPEG/
// PNG/WebP → WebP conversion, writing the result to sink.
func NewConvertToWebPStrategy(sink ioutil.Writer) *ConvertToWebPStrategy {
	return &ConvertToWebPStrategy{
		RootStrategy:     &RootStrategy{},
		Sink:             sink,
		RequestedQuality: 75,
		PreserveMetadata: true,
	}
}

func (s *ConvertToWebPStrategy) NewReader(format codecs.Format) (codecs.Reader, *ioutil.Error) {
	r, err := s.RootStrategy.NewReader(format)
	if err != nil {
		return nil, err
	}
	if !s.PreserveMetadata {
		return NewSkipMetadataReader(r), nil
	}
	return r, nil
}

func (s *ConvertToWebPStrategy) NewWriter(info codecs.ImageInfo) (codecs.Writer, *ioutil.Error) {
	return &deferredWebPWriter{strat: s, info: info}, nil
}

func (s *ConvertToWebPStrategy) ShouldWaitForMetadata() bool {
	return s.PreserveMetadata
}

func (s *ConvertToWebPStrategy) CheckImageSize(info codecs.ImageInfo) *ioutil.Error {
	if s.MinWidth > 0 && info.Width < s.MinWidth || s.MinHeight > 0 && info.Height < s.MinHeight {
		return ioutil.NewError(ioutil.ErrImageTooSmall, "%dx%d smaller than minimum %dx%d", info.Width, info.Height, s.MinWidth, s.MinHeight)
	}
	if s.MaxWidth > 0 && info.Width > s.MaxWidth || s.MaxHeight > 0 && info.Height > s.MaxHeight {
		return ioutil.NewError(ioutil.ErrImageTooLarge, "%dx%d larger than maximum %dx%d", info.Width, info.Height, s.MaxWidth, s.MaxHeight)
	}
	return nil
}

// baseParams returns the caller's explicit request, unmodified by
// PhotoMetric.
func (s *ConvertToWebPStrategy) baseParams() codecs.EncodeParams {
	return codecs.EncodeParams{Quality: s.RequestedQuality, Lossless: s.RequestedLossless}
}

// tunedParams applies PhotoMetric to the first decoded frame when
// AutoPhotoDetect is enabled.
func (s *ConvertToWebPStrategy) tunedParams(frame *codecs.ImageFrame) codecs.EncodeParams {
	params := s.baseParams()
	if !s.AutoPhotoDetect {
		return params
	}
	m := Measure(frame)
	params.Lossless = !m.LooksLikePhoto()
	return params
}

// deferredWebPWriter delays constructing the real codecs.LazyWriter until
// the first frame is known, so PhotoMetric can choose Lossless before the
// encoder is built.
type deferredWebPWriter struct {
	strat *ConvertToWebPStrategy
	info  codecs.ImageInfo
	meta  *codecs.ImageMetadata
	real  *codecs.LazyWriter
}

func (w *deferredWebPWriter) Init(info codecs.ImageInfo, meta *codecs.ImageMetadata) ioutil.Result {
	w.info = info
	w.meta = meta
	return ioutil.OK(0)
}

func (w *deferredWebPWriter) ensure(params codecs.EncodeParams) ioutil.Result {
	if w.real != nil {
		return ioutil.OK(0)
	}
	w.real = codecs.NewLazyWriter(w.strat.Sink, params)
	return w.real.Init(w.info, w.meta)
}

func (w *deferredWebPWriter) WriteFrame(frame *codecs.ImageFrame) ioutil.Result {
	if w.real == nil {
		if res := w.ensure(w.strat.tunedParams(frame)); res.IsError() {
			return res
		}
	}
	return w.real.WriteFrame(frame)
}

func (w *deferredWebPWriter) Finalize() ioutil.Result {
	if w.real == nil {
		if res := w.ensure(w.strat.baseParams()); res.IsError() {
			return res
		}
	}
	return w.real.Finalize()
}
