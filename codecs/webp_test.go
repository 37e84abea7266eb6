package codecs

import (
	"testing"

	"github.com/baranov1ch/squim-sub000/ioutil"
)

// sliceSink is the simplest ioutil.Writer: it appends every Chunk's bytes
// to an in-memory slice, for tests that need to round-trip LazyWriter's
// output back through a Reader.
type sliceSink struct {
	data []byte
}

func (s *sliceSink) Write(c *ioutil.Chunk) ioutil.Result {
	s.data = append(s.data, c.Data()...)
	return ioutil.OK(c.Size())
}

func solidFrame(w, h int, r, g, b, a byte) *ImageFrame {
	f := NewImageFrame()
	f.Init(w, h, ColorRGBA)
	for i := 0; i < w*h; i++ {
		f.Pixels[i*4] = r
		f.Pixels[i*4+1] = g
		f.Pixels[i*4+2] = b
		f.Pixels[i*4+3] = a
	}
	f.Status = FrameComplete
	return f
}

// TestLazyWriterSingleFrameRoundTrip covers invariant 4 (encode→decode
// preserves width/height/frame-count): a single RGBA frame goes through
// LazyWriter, and WebPReader reports back the same geometry and exactly
// one frame.
func TestLazyWriterSingleFrameRoundTrip(t *testing.T) {
	sink := &sliceSink{}
	w := NewLazyWriter(sink, EncodeParams{Quality: 80})
	info := ImageInfo{Width: 6, Height: 6, Format: FormatPNG}
	if res := w.Init(info, NewImageMetadata()); !res.IsOK() {
		t.Fatalf("Init = %+v", res)
	}
	if res := w.WriteFrame(solidFrame(6, 6, 200, 100, 50, 255)); !res.IsOK() {
		t.Fatalf("WriteFrame = %+v", res)
	}
	if res := w.Finalize(); !res.IsOK() {
		t.Fatalf("Finalize = %+v", res)
	}
	if len(sink.data) < 12 || string(sink.data[0:4]) != "RIFF" || string(sink.data[8:12]) != "WEBP" {
		t.Fatalf("sink did not receive a RIFF/WEBP container")
	}

	src := ioutil.NewBufSource()
	r := ioutil.NewBufReader(src)
	src.AddChunk(ioutil.NewCopiedChunk(sink.data))
	src.SendEOF()

	reader := NewWebPReader()
	decoded, res := reader.GetImageInfo(r)
	if !res.IsOK() {
		t.Fatalf("GetImageInfo = %+v", res)
	}
	if decoded.Width != 6 || decoded.Height != 6 {
		t.Fatalf("decoded info = %+v, want 6x6", decoded)
	}
	frame, res := reader.GetNextFrame(r)
	if !res.IsOK() {
		t.Fatalf("GetNextFrame = %+v", res)
	}
	if frame.Width != 6 || frame.Height != 6 {
		t.Fatalf("decoded frame = %dx%d, want 6x6", frame.Width, frame.Height)
	}
	if reader.HasMoreFrames() {
		t.Fatalf("single-frame source decoded as multi-frame")
	}
}

// TestLazyWriterMultiFrameRoundTrip covers spec.md §8 scenario S3: an
// animated source's frame count survives conversion to WebP.
func TestLazyWriterMultiFrameRoundTrip(t *testing.T) {
	sink := &sliceSink{}
	w := NewLazyWriter(sink, EncodeParams{Quality: 80})
	info := ImageInfo{Width: 4, Height: 4, Format: FormatGIF, Multiframe: true, LoopCount: 0}
	if res := w.Init(info, NewImageMetadata()); !res.IsOK() {
		t.Fatalf("Init = %+v", res)
	}
	colors := [][4]byte{{255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}}
	for _, c := range colors {
		frame := solidFrame(4, 4, c[0], c[1], c[2], c[3])
		frame.DurationMs = 100
		if res := w.WriteFrame(frame); !res.IsOK() {
			t.Fatalf("WriteFrame = %+v", res)
		}
	}
	if res := w.Finalize(); !res.IsOK() {
		t.Fatalf("Finalize = %+v", res)
	}

	src := ioutil.NewBufSource()
	r := ioutil.NewBufReader(src)
	src.AddChunk(ioutil.NewCopiedChunk(sink.data))
	src.SendEOF()

	reader := NewWebPReader()
	decoded, res := reader.GetImageInfo(r)
	if !res.IsOK() {
		t.Fatalf("GetImageInfo = %+v", res)
	}
	if !decoded.Multiframe {
		t.Fatalf("expected the round-tripped WebP to report Multiframe: true")
	}
	count := 0
	for reader.HasMoreFrames() {
		if _, res := reader.GetNextFrame(r); !res.IsOK() {
			t.Fatalf("GetNextFrame = %+v", res)
		}
		count++
	}
	if count != len(colors) {
		t.Fatalf("decoded %d frames, want %d", count, len(colors))
	}
}
