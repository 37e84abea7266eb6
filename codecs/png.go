package codecs

import (
	"bytes"
	"image"
	"image/png"

	"github.com/baranov1ch/squim-sub000/ioutil"
)

// PNGReader bridges the standard library's image/png decoder to the Reader
// contract, with the same full-buffer-then-decode compromise JPEGReader
// documents: libpng's progressive row-by-row callback bridge (spec.md
// §4.4) has no equivalent in image/png, so PNGReader accumulates bytes
// until EOF and decodes once. See DESIGN.md.
type PNGReader struct {
	buf     bytes.Buffer
	img     image.Image
	decoded bool
	served  bool
	meta    *ImageMetadata
}

// NewPNGReader returns a Reader for PNG input.
func NewPNGReader() *PNGReader {
	return &PNGReader{meta: NewImageMetadata()}
}

func (p *PNGReader) decodeIfReady(r *ioutil.BufReader) ioutil.Result {
	if p.decoded {
		return ioutil.OK(0)
	}
	for {
		c, res := r.ReadSome()
		if res.IsOK() {
			p.buf.Write(c.Data())
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
	data := p.buf.Bytes()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return ioutil.ErrResult(ioutil.ErrDecodeError, "png: %v", err)
	}
	if err := scanPNGMetadata(data, p.meta); err != nil {
		return ioutil.ErrResult(ioutil.ErrDecodeError, "%v", err)
	}
	p.img = img
	p.decoded = true
	return ioutil.OK(0)
}

func (p *PNGReader) GetImageInfo(r *ioutil.BufReader) (ImageInfo, ioutil.Result) {
	if res := p.decodeIfReady(r); !res.IsOK() {
		return ImageInfo{}, res
	}
	b := p.img.Bounds()
	return ImageInfo{
		Width:      b.Dx(),
		Height:     b.Dy(),
		Format:     FormatPNG,
		Multiframe: false,
		Quality:    QualityUnknown,
		LoopCount:  -1,
	}, ioutil.OK(0)
}

func (p *PNGReader) HasMoreFrames() bool { return !p.served }

func (p *PNGReader) GetNextFrame(r *ioutil.BufReader) (*ImageFrame, ioutil.Result) {
	if res := p.decodeIfReady(r); !res.IsOK() {
		return nil, res
	}
	if p.served {
		return nil, ioutil.EOF()
	}
	p.served = true
	return imageToFrame(p.img), ioutil.OK(0)
}

func (p *PNGReader) ReadTillTheEnd(r *ioutil.BufReader) ioutil.Result {
	// decodeIfReady already scanned every chunk for metadata; nothing left
	// to collect once frames are exhausted.
	if res := p.decodeIfReady(r); !res.IsOK() {
		return res
	}
	p.meta.Freeze(MetaICC)
	p.meta.Freeze(MetaEXIF)
	p.meta.Freeze(MetaXMP)
	return ioutil.OK(0)
}

func (p *PNGReader) Metadata() *ImageMetadata { return p.meta }
