package optimization

import (
	"github.com/baranov1ch/squim-sub000/codecs"
	"github.com/baranov1ch/squim-sub000/ioutil"
)

// RootStrategy recognizes the four supported source formats and
// instantiates the matching codecs.Reader. It implements Strategy on its
// own (useful for "just decode, don't convert" tooling) but NewWriter
// always fails — RootStrategy has no opinion on what to do with decoded
// frames. ConvertToWebPStrategy embeds RootStrategy for format recognition
// and supplies the WebP-specific NewWriter/tuning on top, matching
// root_strategy.cc's role of sitting independently below the
// WebP-conversion policy layer.
type RootStrategy struct {
	// MinBytes, if > 0, makes ShouldEvenBother report Finished(Stop) when
	// InputSizeHint is smaller than it. 0 disables the check.
	MinBytes int
	// InputSizeHint is the caller-supplied expected input size (e.g. from a
	// content-length-bearing transport); 0 means unknown, and
	// ShouldEvenBother never stops on an unknown size.
	InputSizeHint int
}

func (s *RootStrategy) ShouldEvenBother() (bool, *ioutil.Error) {
	if s.MinBytes > 0 && s.InputSizeHint > 0 && s.InputSizeHint < s.MinBytes {
		return true, nil
	}
	return false, nil
}

func (s *RootStrategy) NewReader(format codecs.Format) (codecs.Reader, *ioutil.Error) {
	switch format {
	case codecs.FormatJPEG:
		return codecs.NewJPEGReader(), nil
	case codecs.FormatPNG:
		return codecs.NewPNGReader(), nil
	case codecs.FormatGIF:
		return codecs.NewGIFReader(), nil
	case codecs.FormatWebP:
		return codecs.NewWebPReader(), nil
	default:
		return nil, ioutil.NewError(ioutil.ErrUnsupportedFormat, "unrecognized image signature")
	}
}

func (s *RootStrategy) NewWriter(info codecs.ImageInfo) (codecs.Writer, *ioutil.Error) {
	return nil, ioutil.NewError(ioutil.ErrDunnoHowToEncode, "RootStrategy has no target format policy")
}

func (s *RootStrategy) ShouldWaitForMetadata() bool { return true }

func (s *RootStrategy) CheckImageSize(info codecs.ImageInfo) *ioutil.Error { return nil }
