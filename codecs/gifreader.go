package codecs

import (
	"github.com/baranov1ch/squim-sub000/codecs/gif"
	"github.com/baranov1ch/squim-sub000/ioutil"
)

// GIFReader bridges the bespoke gif.Parser state machine to the Reader
// contract. GetImageInfo answers as soon as the logical screen descriptor is
// parsed (gif.Parser.ScreenDescriptorReady), matching spec.md §8 scenario
// S1 — it does not wait for gif.Parser.ParseHeader's stricter "first image
// descriptor" threshold, which exists to let a caller that wants the first
// frame's local color table / transparency bits know when those are ready.
type GIFReader struct {
	p            *gif.Parser
	meta         *ImageMetadata
	nextFrame    int
	infoEmitted  bool
	noMoreFrames bool
}

// NewGIFReader returns a Reader for GIF input.
func NewGIFReader() *GIFReader {
	return &GIFReader{p: gif.NewParser(), meta: NewImageMetadata()}
}

func (g *GIFReader) GetImageInfo(r *ioutil.BufReader) (ImageInfo, ioutil.Result) {
	if !g.infoEmitted {
		for !g.p.ScreenDescriptorReady() {
			res := g.p.ParseHeader(r)
			if res.IsError() {
				return ImageInfo{}, res
			}
			if g.p.ScreenDescriptorReady() {
				break
			}
			if !res.IsOK() {
				return ImageInfo{}, res
			}
			// ParseHeader returned Ok without the screen descriptor being
			// ready only if it already finished (header-only reached image
			// descriptor); loop again to pick up ScreenDescriptorReady.
		}
		g.infoEmitted = true
	}
	img := g.p.Image()
	info := ImageInfo{
		Width:      img.Screen.Width,
		Height:     img.Screen.Height,
		Format:     FormatGIF,
		Multiframe: true,
		Quality:    QualityUnknown,
		LoopCount:  img.LoopCount,
	}
	return info, ioutil.OK(0)
}

func (g *GIFReader) HasMoreFrames() bool {
	return !g.noMoreFrames
}

func (g *GIFReader) GetNextFrame(r *ioutil.BufReader) (*ImageFrame, ioutil.Result) {
	img := g.p.Image()
	if g.nextFrame >= len(img.Frames) {
		// Parse drives the state machine to completion or to the next
		// suspension point; it does not return between frames, so a single
		// call either yields a new frame, reaches the trailer with none
		// pending, or blocks/errors.
		res := g.p.Parse(r)
		if !res.IsOK() {
			return nil, res
		}
	}
	if g.nextFrame >= len(img.Frames) {
		g.noMoreFrames = true
		return nil, ioutil.EOF()
	}
	gf := &img.Frames[g.nextFrame]
	g.nextFrame++

	frame := NewImageFrame()
	frame.OffsetX = gf.OffsetX
	frame.OffsetY = gf.OffsetY
	frame.DurationMs = gf.DurationMs
	frame.Disposal = DisposalMethod(gf.Disposal)
	frame.Progressive = gf.Interlaced
	frame.Init(gf.Width, gf.Height, ColorRGBA)
	table := gf.EffectiveColorTable(img.GlobalColorTable)
	for i, idx := range gf.Pixels {
		var rgba [4]byte
		if int(idx) < len(table) {
			c := table[idx]
			rgba = [4]byte{c.R, c.G, c.B, 255}
		}
		if gf.Transparent && int(idx) == gf.TransparentIndex {
			rgba[3] = 0
		}
		copy(frame.Pixels[i*4:i*4+4], rgba[:])
	}
	frame.Status = FrameComplete

	if img.ICC != nil {
		g.meta.Append(MetaICC, ioutil.NewCopiedChunk(img.ICC))
		g.meta.Freeze(MetaICC)
	}
	if img.XMP != nil {
		g.meta.Append(MetaXMP, ioutil.NewCopiedChunk(img.XMP))
		g.meta.Freeze(MetaXMP)
	}
	return frame, ioutil.OK(0)
}

func (g *GIFReader) ReadTillTheEnd(r *ioutil.BufReader) ioutil.Result {
	res := g.p.Parse(r)
	if res.IsOK() {
		g.meta.Freeze(MetaICC)
		g.meta.Freeze(MetaXMP)
	}
	return res
}

func (g *GIFReader) Metadata() *ImageMetadata { return g.meta }
