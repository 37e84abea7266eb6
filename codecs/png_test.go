package codecs

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/baranov1ch/squim-sub000/ioutil"
)

func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 64, A: 200})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test PNG: %v", err)
	}
	return buf.Bytes()
}

func TestPNGReaderRoundTrip(t *testing.T) {
	data := encodeTestPNG(t, 10, 6)
	src := ioutil.NewBufSource()
	r := ioutil.NewBufReader(src)
	src.AddChunk(ioutil.NewCopiedChunk(data))
	src.SendEOF()

	reader := NewPNGReader()
	info, res := reader.GetImageInfo(r)
	if !res.IsOK() {
		t.Fatalf("GetImageInfo = %+v", res)
	}
	if info.Width != 10 || info.Height != 6 {
		t.Fatalf("info = %+v, want 10x6", info)
	}
	frame, res := reader.GetNextFrame(r)
	if !res.IsOK() {
		t.Fatalf("GetNextFrame = %+v", res)
	}
	if frame.Width != 10 || frame.Height != 6 {
		t.Fatalf("frame size = %dx%d, want 10x6", frame.Width, frame.Height)
	}
	if _, res := reader.GetNextFrame(r); !res.IsEOF() {
		t.Fatalf("second GetNextFrame = %+v, want EOF", res)
	}
}

func TestPNGReaderFedOneByteAtATime(t *testing.T) {
	data := encodeTestPNG(t, 4, 4)
	src := ioutil.NewBufSource()
	r := ioutil.NewBufReader(src)
	reader := NewPNGReader()

	for i, b := range data {
		src.AddChunk(ioutil.NewCopiedChunk([]byte{b}))
		if i == len(data)-1 {
			src.SendEOF()
		}
		if _, res := reader.GetImageInfo(r); res.IsError() {
			t.Fatalf("byte %d: unexpected error %+v", i, res)
		}
	}
	info, res := reader.GetImageInfo(r)
	if !res.IsOK() {
		t.Fatalf("final GetImageInfo = %+v, want OK once EOF reached", res)
	}
	if info.Width != 4 || info.Height != 4 {
		t.Fatalf("info = %+v, want 4x4", info)
	}
}
