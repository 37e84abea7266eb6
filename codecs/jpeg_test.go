package codecs

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/baranov1ch/squim-sub000/ioutil"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encoding test JPEG: %v", err)
	}
	return buf.Bytes()
}

// TestJPEGReaderRoundTrip covers spec.md §8 scenario S2: a single-frame
// JPEG decodes to exactly one complete RGBA frame matching its declared
// dimensions.
func TestJPEGReaderRoundTrip(t *testing.T) {
	data := encodeTestJPEG(t, 16, 12)
	src := ioutil.NewBufSource()
	r := ioutil.NewBufReader(src)
	src.AddChunk(ioutil.NewCopiedChunk(data))
	src.SendEOF()

	reader := NewJPEGReader()
	info, res := reader.GetImageInfo(r)
	if !res.IsOK() {
		t.Fatalf("GetImageInfo = %+v", res)
	}
	if info.Width != 16 || info.Height != 12 {
		t.Fatalf("info = %+v, want 16x12", info)
	}
	if info.Multiframe {
		t.Fatalf("JPEG must never report Multiframe")
	}
	if !reader.HasMoreFrames() {
		t.Fatalf("expected one frame to be available")
	}
	frame, res := reader.GetNextFrame(r)
	if !res.IsOK() {
		t.Fatalf("GetNextFrame = %+v", res)
	}
	if frame.Width != 16 || frame.Height != 12 {
		t.Fatalf("frame size = %dx%d, want 16x12", frame.Width, frame.Height)
	}
	if reader.HasMoreFrames() {
		t.Fatalf("JPEG must yield exactly one frame")
	}
	if _, res := reader.GetNextFrame(r); !res.IsEOF() {
		t.Fatalf("GetNextFrame after the only frame = %+v, want EOF", res)
	}
}

func TestJPEGReaderPendingBeforeEOF(t *testing.T) {
	data := encodeTestJPEG(t, 8, 8)
	src := ioutil.NewBufSource()
	r := ioutil.NewBufReader(src)
	src.AddChunk(ioutil.NewCopiedChunk(data[:len(data)/2]))

	reader := NewJPEGReader()
	if _, res := reader.GetImageInfo(r); !res.IsPending() {
		t.Fatalf("GetImageInfo with a truncated, non-EOF source = %+v, want Pending", res)
	}
}

func TestJPEGReaderMalformedInput(t *testing.T) {
	src := ioutil.NewBufSource()
	r := ioutil.NewBufReader(src)
	src.AddChunk(ioutil.NewCopiedChunk([]byte("not a jpeg file at all")))
	src.SendEOF()

	reader := NewJPEGReader()
	if _, res := reader.GetImageInfo(r); !res.IsError() {
		t.Fatalf("GetImageInfo on garbage input = %+v, want Error", res)
	}
}
