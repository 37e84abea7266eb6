package optimization

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/baranov1ch/squim-sub000/codecs"
	"github.com/baranov1ch/squim-sub000/codecs/gif"
	"github.com/baranov1ch/squim-sub000/ioutil"
)

type memSink struct{ data []byte }

func (s *memSink) Write(c *ioutil.Chunk) ioutil.Result {
	s.data = append(s.data, c.Data()...)
	return ioutil.OK(c.Size())
}

func runToCompletion(t *testing.T, d *Driver) ioutil.Finished {
	t.Helper()
	for i := 0; i < 10000; i++ {
		outcome := d.Process()
		if !outcome.Pending {
			return outcome.Finished
		}
	}
	t.Fatal("driver never finished")
	return ioutil.Finished{}
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test JPEG: %v", err)
	}
	return buf.Bytes()
}

// TestDriverJPEGToWebPEndToEnd covers spec.md §8 scenario S2: a single-frame
// JPEG goes in, and a RIFF/WEBP container that decodes to the same 16x16
// size comes out.
func TestDriverJPEGToWebPEndToEnd(t *testing.T) {
	data := encodeJPEG(t, 16, 16)
	sink := &memSink{}
	strat := NewConvertToWebPStrategy(sink)

	src := ioutil.NewBufSource()
	r := ioutil.NewBufReader(src)
	src.AddChunk(ioutil.NewCopiedChunk(data))
	src.SendEOF()

	d := NewDriver(r, strat)
	finished := runToCompletion(t, d)
	if finished.Kind != ioutil.FinishOK {
		t.Fatalf("Finished = %+v, want FinishOK", finished)
	}
	if len(sink.data) < 12 || string(sink.data[0:4]) != "RIFF" || string(sink.data[8:12]) != "WEBP" {
		t.Fatalf("output is not a RIFF/WEBP container")
	}

	out := ioutil.NewBufSource()
	outR := ioutil.NewBufReader(out)
	out.AddChunk(ioutil.NewCopiedChunk(sink.data))
	out.SendEOF()
	wr := codecs.NewWebPReader()
	info, res := wr.GetImageInfo(outR)
	if !res.IsOK() {
		t.Fatalf("decoding the produced WebP: %+v", res)
	}
	if info.Width != 16 || info.Height != 16 {
		t.Fatalf("decoded size = %dx%d, want 16x16", info.Width, info.Height)
	}
}

// buildMultiFrameGIF assembles an animated GIF with n solid-color frames,
// each w x h, using the same structure codecs/gif's own tests build.
func buildMultiFrameGIF(t *testing.T, w, h, n int) []byte {
	t.Helper()
	var buf []byte
	buf = append(buf, "GIF89a"...)
	buf = append(buf, byte(w), byte(w>>8), byte(h), byte(h>>8), 0x00, 0, 0)
	for i := 0; i < n; i++ {
		buf = append(buf, ',', 0, 0, 0, 0, byte(w), byte(w>>8), byte(h), byte(h>>8), 0x80)
		buf = append(buf, 0, 0, 0, 255, 255, 255) // 2-entry local color table
		pixels := make([]byte, w*h)
		for j := range pixels {
			pixels[j] = byte((i + j) % 2)
		}
		enc, err := gif.NewLZWEncoder(2)
		if err != nil {
			t.Fatal(err)
		}
		enc.Write(pixels)
		encoded := enc.Finish()
		buf = append(buf, byte(2))
		for len(encoded) > 0 {
			k := len(encoded)
			if k > 255 {
				k = 255
			}
			buf = append(buf, byte(k))
			buf = append(buf, encoded[:k]...)
			encoded = encoded[k:]
		}
		buf = append(buf, 0)
	}
	buf = append(buf, ';')
	return buf
}

// TestDriverAnimatedGIFToWebPPreservesFrameCount covers spec.md §8
// scenario S3: an animated GIF's frame count survives conversion to WebP.
func TestDriverAnimatedGIFToWebPPreservesFrameCount(t *testing.T) {
	const frames = 3
	data := buildMultiFrameGIF(t, 4, 4, frames)
	sink := &memSink{}
	strat := NewConvertToWebPStrategy(sink)

	src := ioutil.NewBufSource()
	r := ioutil.NewBufReader(src)
	src.AddChunk(ioutil.NewCopiedChunk(data))
	src.SendEOF()

	d := NewDriver(r, strat)
	finished := runToCompletion(t, d)
	if finished.Kind != ioutil.FinishOK {
		t.Fatalf("Finished = %+v, want FinishOK", finished)
	}

	out := ioutil.NewBufSource()
	outR := ioutil.NewBufReader(out)
	out.AddChunk(ioutil.NewCopiedChunk(sink.data))
	out.SendEOF()
	wr := codecs.NewWebPReader()
	info, res := wr.GetImageInfo(outR)
	if !res.IsOK() {
		t.Fatalf("decoding the produced WebP: %+v", res)
	}
	if !info.Multiframe {
		t.Fatalf("expected the produced WebP to be multiframe")
	}
	count := 0
	for wr.HasMoreFrames() {
		if _, res := wr.GetNextFrame(outR); !res.IsOK() {
			t.Fatalf("GetNextFrame = %+v", res)
		}
		count++
	}
	if count != frames {
		t.Fatalf("decoded %d frames, want %d", count, frames)
	}
}

// TestDriverMalformedGIFStaysPinned covers spec.md §8 scenario S4: a
// corrupt source pins the Driver on a decode-related error rather than
// hanging or panicking, and repeated Process calls replay that error.
func TestDriverMalformedGIFStaysPinned(t *testing.T) {
	full := buildMultiFrameGIF(t, 4, 4, 1)
	// Truncate the single frame's image-data sub-block so the LZW stream
	// ends mid-code, dropping the trailing EOI: header(6) + logical screen
	// descriptor(7) + image separator(1) + image descriptor(9) + 2-entry
	// local color table(6) + min-code-size(1) puts the sub-block length byte
	// right after.
	const minCodeSizeOffset = 6 + 7 + 1 + 9 + 6
	lenIdx := minCodeSizeOffset + 1
	subLen := int(full[lenIdx])
	data := append([]byte{}, full[:lenIdx]...)
	data = append(data, byte(subLen-2))
	data = append(data, full[lenIdx+1:lenIdx+1+subLen-2]...)
	data = append(data, 0, ';')

	sink := &memSink{}
	strat := NewConvertToWebPStrategy(sink)

	src := ioutil.NewBufSource()
	r := ioutil.NewBufReader(src)
	src.AddChunk(ioutil.NewCopiedChunk(data))
	src.SendEOF()

	d := NewDriver(r, strat)
	finished := runToCompletion(t, d)
	if finished.Kind != ioutil.FinishStop || finished.Err == nil {
		t.Fatalf("Finished = %+v, want a pinned FinishStop with an error", finished)
	}
	again := d.Process()
	if again.Finished != finished {
		t.Fatalf("Process() after failure = %+v, want replay of %+v", again.Finished, finished)
	}
}

// TestDriverChunkedVsBufferedInputAgree covers invariant 5: feeding the
// same source one byte at a time versus all at once produces the same
// final outcome and the same encoded bytes.
func TestDriverChunkedVsBufferedInputAgree(t *testing.T) {
	data := encodeJPEG(t, 8, 8)

	bufferedSink := &memSink{}
	bufferedSrc := ioutil.NewBufSource()
	bufferedR := ioutil.NewBufReader(bufferedSrc)
	bufferedSrc.AddChunk(ioutil.NewCopiedChunk(data))
	bufferedSrc.SendEOF()
	bufferedDriver := NewDriver(bufferedR, NewConvertToWebPStrategy(bufferedSink))
	bufferedResult := runToCompletion(t, bufferedDriver)

	chunkedSink := &memSink{}
	chunkedSrc := ioutil.NewBufSource()
	chunkedR := ioutil.NewBufReader(chunkedSrc)
	chunkedDriver := NewDriver(chunkedR, NewConvertToWebPStrategy(chunkedSink))
	for i, b := range data {
		chunkedSrc.AddChunk(ioutil.NewCopiedChunk([]byte{b}))
		if i == len(data)-1 {
			chunkedSrc.SendEOF()
		}
		chunkedDriver.Process()
	}
	chunkedResult := runToCompletion(t, chunkedDriver)

	if bufferedResult.Kind != ioutil.FinishOK || chunkedResult.Kind != ioutil.FinishOK {
		t.Fatalf("buffered = %+v, chunked = %+v, want both FinishOK", bufferedResult, chunkedResult)
	}
	if !bytes.Equal(bufferedSink.data, chunkedSink.data) {
		t.Fatalf("buffered and chunked input produced different output (%d vs %d bytes)",
			len(bufferedSink.data), len(chunkedSink.data))
	}
}
