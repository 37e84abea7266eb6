package codecs

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/baranov1ch/squim-sub000/ioutil"
)

// JPEGReader bridges the standard library's image/jpeg decoder to the
// Reader contract. Unlike libjpeg's pull-style source manager (spec.md
// §4.4's "restart position + rewind" bridge), image/jpeg only exposes a
// single-shot io.Reader-based Decode with no suspend/resume hooks of its
// own. JPEGReader approximates the suspension contract the only way
// possible against that API: it accumulates every byte the BufReader hands
// it and returns Pending until SendEOF has been observed, then runs
// image/jpeg.Decode once over the fully buffered input. This trades away
// mid-stream suspension (the whole file is held in memory, same as the
// still-image case the muxer encoder path already assumes) in exchange for
// not re-implementing libjpeg's marker parser; see DESIGN.md.
type JPEGReader struct {
	buf     bytes.Buffer
	img     image.Image
	decoded bool
	served  bool
	info    ImageInfo
	meta    *ImageMetadata
}

// NewJPEGReader returns a Reader for JPEG input.
func NewJPEGReader() *JPEGReader {
	return &JPEGReader{meta: NewImageMetadata()}
}

func (j *JPEGReader) drain(r *ioutil.BufReader) ioutil.Result {
	for {
		c, res := r.ReadSome()
		if res.IsOK() {
			j.buf.Write(c.Data())
			continue
		}
		return res
	}
}

func (j *JPEGReader) decodeIfReady(r *ioutil.BufReader) ioutil.Result {
	if j.decoded {
		return ioutil.OK(0)
	}
	res := j.drain(r)
	if res.IsError() {
		return res
	}
	if !res.IsEOF() {
		return ioutil.Pending()
	}
	data := j.buf.Bytes()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return ioutil.ErrResult(ioutil.ErrDecodeError, "jpeg: %v", err)
	}
	if err := scanJPEGMetadata(data, j.meta); err != nil {
		return ioutil.ErrResult(ioutil.ErrDecodeError, "%v", err)
	}
	j.img = img
	j.decoded = true
	return ioutil.OK(0)
}

func (j *JPEGReader) GetImageInfo(r *ioutil.BufReader) (ImageInfo, ioutil.Result) {
	if res := j.decodeIfReady(r); !res.IsOK() {
		return ImageInfo{}, res
	}
	b := j.img.Bounds()
	j.info = ImageInfo{
		Width:      b.Dx(),
		Height:     b.Dy(),
		Format:     FormatJPEG,
		Multiframe: false,
		Quality:    QualityUnknown,
		LoopCount:  -1,
	}
	return j.info, ioutil.OK(0)
}

func (j *JPEGReader) HasMoreFrames() bool { return !j.served }

func (j *JPEGReader) GetNextFrame(r *ioutil.BufReader) (*ImageFrame, ioutil.Result) {
	if res := j.decodeIfReady(r); !res.IsOK() {
		return nil, res
	}
	if j.served {
		return nil, ioutil.EOF()
	}
	j.served = true
	frame := imageToFrame(j.img)
	return frame, ioutil.OK(0)
}

func (j *JPEGReader) ReadTillTheEnd(r *ioutil.BufReader) ioutil.Result {
	// The full-buffer-then-decode bridge already scanned every marker
	// segment in decodeIfReady, so by the time frames are exhausted there
	// is nothing left to collect; just freeze what was found.
	if res := j.decodeIfReady(r); !res.IsOK() {
		return res
	}
	j.meta.Freeze(MetaICC)
	j.meta.Freeze(MetaEXIF)
	j.meta.Freeze(MetaXMP)
	return ioutil.OK(0)
}

func (j *JPEGReader) Metadata() *ImageMetadata { return j.meta }

// imageToFrame converts a decoded image.Image into an ImageFrame. The frame
// always uses RGBA storage, whatever the source's color model.
func imageToFrame(img image.Image) *ImageFrame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	frame := NewImageFrame()
	frame.Init(w, h, ColorRGBA)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			frame.Pixels[i*4] = byte(r >> 8)
			frame.Pixels[i*4+1] = byte(g >> 8)
			frame.Pixels[i*4+2] = byte(bl >> 8)
			frame.Pixels[i*4+3] = byte(a >> 8)
			i++
		}
	}
	frame.Status = FrameComplete
	return frame
}
