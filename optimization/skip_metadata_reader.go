package optimization

import (
	"github.com/baranov1ch/squim-sub000/codecs"
	"github.com/baranov1ch/squim-sub000/ioutil"
)

// SkipMetadataReader decorates a codecs.Reader so its Metadata() always
// reports empty, regardless of what ICC/EXIF/XMP bytes the wrapped reader
// collects internally while decoding. It is the Driver's "don't wait for
// metadata" path: the wrapped reader keeps doing whatever parsing work it
// would do anyway (there is no cheap way to tell a GIF parser mid-stream to
// stop noticing an application extension), but the bytes it gathers are
// simply never surfaced to the Writer.
type SkipMetadataReader struct {
	inner codecs.Reader
	empty *codecs.ImageMetadata
}

// NewSkipMetadataReader wraps inner.
func NewSkipMetadataReader(inner codecs.Reader) *SkipMetadataReader {
	empty := codecs.NewImageMetadata()
	empty.Freeze(codecs.MetaICC)
	empty.Freeze(codecs.MetaEXIF)
	empty.Freeze(codecs.MetaXMP)
	return &SkipMetadataReader{inner: inner, empty: empty}
}

func (s *SkipMetadataReader) GetImageInfo(r *ioutil.BufReader) (codecs.ImageInfo, ioutil.Result) {
	return s.inner.GetImageInfo(r)
}

func (s *SkipMetadataReader) HasMoreFrames() bool { return s.inner.HasMoreFrames() }

func (s *SkipMetadataReader) GetNextFrame(r *ioutil.BufReader) (*codecs.ImageFrame, ioutil.Result) {
	return s.inner.GetNextFrame(r)
}

func (s *SkipMetadataReader) ReadTillTheEnd(r *ioutil.BufReader) ioutil.Result {
	return s.inner.ReadTillTheEnd(r)
}

// Metadata always reports an empty, fully-frozen ImageMetadata.
func (s *SkipMetadataReader) Metadata() *codecs.ImageMetadata { return s.empty }
