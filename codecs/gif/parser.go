package gif

import (
	"github.com/baranov1ch/squim-sub000/ioutil"
)

// state identifies the parser's current handler, per spec.md §9's guidance
// to translate the original's handler-valued driver into a tagged-state
// enum rather than heap-allocated closures.
type state int

const (
	stateVersion state = iota
	stateLogicalScreenDescriptor
	stateGlobalColorTable
	stateBlockType
	stateExtensionType
	stateControlExtension
	stateApplicationSignature
	stateApplicationSubBlocks
	statePlainTextSkip
	stateCommentSkip
	stateImageDescriptor
	stateLocalColorTable
	stateMinCodeSize
	stateImageData
	stateTrailer
	stateDone
)

// extKind selects which sub-block accumulator is active while in
// stateApplicationSubBlocks, statePlainTextSkip or stateCommentSkip.
type extKind int

const (
	extNone extKind = iota
	extNetscape
	extICC
	extXMP
	extSkip
)

const xmpMagicTrailerLen = 257
const netscapeSubblockLen = 3

// Parser drives the GIF block/sub-block state machine described in
// spec.md §4.3: version → logical screen descriptor → global color table →
// a loop of extension/image blocks → trailer. ParseHeader stops at the
// first image descriptor (header-only mode); Parse resumes from there and
// runs to completion.
type Parser struct {
	st    state
	image Image

	sawAnyFrame bool

	// Pending control-extension fields, applied to the next parsed frame.
	pendingTransparent      bool
	pendingTransparentIndex int
	pendingDurationMs       int
	pendingDisposal         DisposalMethod
	haveControlExt          bool

	// Sub-block accumulation state.
	curExt       extKind
	iccFirstSeen bool // ICC is collected on first occurrence only
	xmpBuf       []byte

	// In-progress image descriptor / color table / frame being built.
	curFrame        Frame
	curLocalTableSz int
	haveLocalTable  bool

	lzw       *LZWDecoder
	lzwRow    []byte
	rowWidth  int
	rowsOut   int
	interlace interlaceState
}

// interlaceState implements the standard 8-4-2-1 GIF interlace row
// schedule (spec.md §4.3).
type interlaceState struct {
	active  bool
	pass    int
	nextRow int
	height  int
}

var interlacePassStart = [4]int{0, 4, 2, 1}
var interlacePassStep = [4]int{8, 8, 4, 2}

func newInterlace(height int) interlaceState {
	return interlaceState{active: true, pass: 0, nextRow: interlacePassStart[0], height: height}
}

func (s *interlaceState) next() int {
	row := s.nextRow
	s.nextRow += interlacePassStep[s.pass]
	for s.pass < 3 && s.nextRow >= s.height {
		s.pass++
		s.nextRow = interlacePassStart[s.pass]
	}
	return row
}

// NewParser returns a fresh GIF parser.
func NewParser() *Parser {
	return &Parser{st: stateVersion, image: Image{LoopCount: -1}}
}

// Image returns the parser's accumulated image state, valid to inspect at
// any point (including mid-parse, per the suspension contract).
func (p *Parser) Image() *Image { return &p.image }

// ScreenDescriptorReady reports whether the logical screen descriptor (and
// any global color table) has been fully parsed, i.e. Image().Screen is
// final even though no frame has necessarily been seen yet. The codecs
// package's GIF Reader uses this to answer GetImageInfo as soon as
// width/height are known, without waiting for ParseHeader's stricter
// "first image descriptor" threshold.
func (p *Parser) ScreenDescriptorReady() bool {
	return p.st >= stateBlockType
}

// ParseHeader drives the parser up to (and including) the logical screen
// descriptor and stops at the first image descriptor, setting
// HeaderComplete. It returns ioutil.Status OK once that point is reached,
// Pending if more input is needed, or Error on malformed input.
func (p *Parser) ParseHeader(r *ioutil.BufReader) ioutil.Result {
	return p.run(r, true)
}

// Parse drives the parser to completion (the trailer, or EOF after at
// least one frame, per the Mozilla-compatible leniency spec.md §4.3
// describes).
func (p *Parser) Parse(r *ioutil.BufReader) ioutil.Result {
	return p.run(r, false)
}

func (p *Parser) run(r *ioutil.BufReader, headerOnly bool) ioutil.Result {
	for {
		if headerOnly && p.st == stateImageDescriptor && p.image.HeaderComplete {
			return ioutil.OK(0)
		}
		if p.st == stateDone {
			return ioutil.OK(0)
		}
		res := p.step(r)
		if !res.IsOK() {
			return res
		}
		if headerOnly && p.image.HeaderComplete {
			return ioutil.OK(0)
		}
	}
}

// step executes exactly one handler transition (or reports Pending/Error
// without transitioning), matching spec.md §4.3's "on Pending, stay on the
// same handler; on Ok, transition" contract.
func (p *Parser) step(r *ioutil.BufReader) ioutil.Result {
	switch p.st {
	case stateVersion:
		return p.parseVersion(r)
	case stateLogicalScreenDescriptor:
		return p.parseLogicalScreenDescriptor(r)
	case stateGlobalColorTable:
		return p.parseColorTable(r, func(t ColorTable) { p.image.GlobalColorTable = t })
	case stateBlockType:
		return p.parseBlockType(r)
	case stateExtensionType:
		return p.parseExtensionType(r)
	case stateControlExtension:
		return p.parseControlExtension(r)
	case stateApplicationSignature:
		return p.parseApplicationSignature(r)
	case stateApplicationSubBlocks:
		return p.pumpSubBlocks(r, p.handleAppSubblockData, p.finishAppSubblocks)
	case statePlainTextSkip, stateCommentSkip:
		return p.pumpSubBlocks(r, func([]byte) ioutil.Result { return ioutil.OK(0) }, func() ioutil.Result {
			p.st = stateBlockType
			return ioutil.OK(0)
		})
	case stateImageDescriptor:
		return p.parseImageDescriptor(r)
	case stateLocalColorTable:
		return p.parseColorTable(r, func(t ColorTable) { p.curFrame.LocalColorTable = t })
	case stateMinCodeSize:
		return p.parseMinCodeSize(r)
	case stateImageData:
		return p.pumpSubBlocks(r, p.handleImageDataSubblock, p.finishImageData)
	case stateTrailer:
		p.st = stateDone
		return ioutil.OK(0)
	}
	return ioutil.ErrResult(ioutil.ErrFailed, "gif: unknown parser state %d", p.st)
}

func (p *Parser) parseVersion(r *ioutil.BufReader) ioutil.Result {
	var buf [6]byte
	if res := r.ReadNInto(buf[:]); !res.IsOK() {
		return res
	}
	sig := string(buf[:])
	switch sig {
	case "GIF89a":
		p.image.Screen.Version89 = true
	case "GIF87a":
		p.image.Screen.Version89 = false
	default:
		return ioutil.ErrResult(ioutil.ErrDecodeError, "gif: bad signature %q", sig)
	}
	p.st = stateLogicalScreenDescriptor
	return ioutil.OK(6)
}

func (p *Parser) parseLogicalScreenDescriptor(r *ioutil.BufReader) ioutil.Result {
	var buf [7]byte
	if res := r.ReadNInto(buf[:]); !res.IsOK() {
		return res
	}
	width := int(buf[0]) | int(buf[1])<<8
	height := int(buf[2]) | int(buf[3])<<8
	packed := buf[4]
	hasGlobalTable := packed&0x80 != 0
	// Bits 4-6 of the packed byte, per the well-formed GIF89a reading
	// spec.md §9 calls for (the original's mask/shift order is
	// inconsistent with operator precedence).
	colorRes := int((packed>>4)&0x07) + 1
	globalTableSize := 0
	if hasGlobalTable {
		globalTableSize = 2 << (packed & 0x07)
	}
	p.image.Screen.Width = width
	p.image.Screen.Height = height
	p.image.Screen.ColorResolution = colorRes
	p.image.Screen.BackgroundIndex = int(buf[5])
	// buf[6] is the pixel aspect ratio; not modeled (spec.md doesn't use it).

	if hasGlobalTable {
		p.curLocalTableSz = globalTableSize // reuse field transiently
		p.st = stateGlobalColorTable
	} else {
		p.st = stateBlockType
	}
	return ioutil.OK(7)
}

// parseColorTable reads p.curLocalTableSz entries (a field reused
// transiently for whichever table — global or local — is currently being
// read) and hands the result to assign.
func (p *Parser) parseColorTable(r *ioutil.BufReader, assign func(ColorTable)) ioutil.Result {
	n := p.curLocalTableSz
	buf := make([]byte, n*3)
	if n > 0 {
		if res := r.ReadNInto(buf); !res.IsOK() {
			return res
		}
	}
	table := make(ColorTable, n)
	for i := 0; i < n; i++ {
		table[i] = RGB{R: buf[i*3], G: buf[i*3+1], B: buf[i*3+2]}
	}
	assign(table)
	if p.st == stateGlobalColorTable {
		p.st = stateBlockType
	} else {
		p.st = stateMinCodeSize
	}
	return ioutil.OK(n * 3)
}

func (p *Parser) parseBlockType(r *ioutil.BufReader) ioutil.Result {
	var buf [1]byte
	if res := r.ReadNInto(buf[:]); !res.IsOK() {
		if res.IsEOF() {
			// End-of-file here is valid iff at least one frame was parsed.
			if p.sawAnyFrame {
				p.st = stateDone
				return ioutil.OK(0)
			}
			return ioutil.ErrResult(ioutil.ErrUnexpectedEOF, "gif: truncated before any frame")
		}
		return res
	}
	switch buf[0] {
	case '!':
		p.st = stateExtensionType
	case ',':
		p.st = stateImageDescriptor
	case ';':
		p.st = stateTrailer
	default:
		// Unknown byte ends parse with a warning (Mozilla-compatible
		// leniency): treat as trailer if we already have a frame, else
		// error.
		if p.sawAnyFrame {
			p.st = stateDone
		} else {
			return ioutil.ErrResult(ioutil.ErrDecodeError, "gif: unexpected block type 0x%02x", buf[0])
		}
	}
	return ioutil.OK(1)
}

func (p *Parser) parseExtensionType(r *ioutil.BufReader) ioutil.Result {
	var buf [1]byte
	if res := r.ReadNInto(buf[:]); !res.IsOK() {
		return res
	}
	switch buf[0] {
	case 0xF9:
		p.st = stateControlExtension
	case 0x01:
		p.curExt = extSkip
		p.st = statePlainTextSkip
	case 0xFF:
		p.st = stateApplicationSignature
	case 0xFE:
		p.curExt = extSkip
		p.st = stateCommentSkip
	default:
		p.curExt = extSkip
		p.st = stateCommentSkip // generic skip via the sub-block pump
	}
	return ioutil.OK(1)
}

func (p *Parser) parseControlExtension(r *ioutil.BufReader) ioutil.Result {
	var buf [6]byte // block size (1) + packed + delay(2) + transparent index + terminator
	if res := r.ReadNInto(buf[:]); !res.IsOK() {
		return res
	}
	packed := buf[1]
	p.pendingDisposal = disposalFromBits(int((packed >> 2) & 0x07))
	p.pendingTransparent = packed&0x01 != 0
	delay := int(buf[2]) | int(buf[3])<<8
	p.pendingDurationMs = delay * 10
	p.pendingTransparentIndex = int(buf[4])
	if !p.pendingTransparent {
		p.pendingTransparentIndex = NoTransparentIndex
	}
	p.haveControlExt = true
	p.st = stateBlockType
	return ioutil.OK(6)
}

func (p *Parser) parseApplicationSignature(r *ioutil.BufReader) ioutil.Result {
	var buf [12]byte // block size (1) + 11-byte app identifier/auth code
	if res := r.ReadNInto(buf[:]); !res.IsOK() {
		return res
	}
	sig := string(buf[1:12])
	switch sig {
	case "NETSCAPE2.0", "ANIMEXTS1.0":
		p.curExt = extNetscape
	case "ICCRGBG1012":
		p.curExt = extICC
	case "XMP DataXMP":
		p.curExt = extXMP
		p.xmpBuf = p.xmpBuf[:0]
	default:
		p.curExt = extSkip
	}
	p.st = stateApplicationSubBlocks
	return ioutil.OK(12)
}

// pumpSubBlocks reads GIF sub-block framing (1-byte length, then that many
// bytes, repeated, terminated by a zero-length block) for as long as data
// is available, dispatching each sub-block's payload to onData. onEnd is
// invoked once the terminator is read and must set the parser's next
// state.
func (p *Parser) pumpSubBlocks(r *ioutil.BufReader, onData func([]byte) ioutil.Result, onEnd func() ioutil.Result) ioutil.Result {
	for {
		var lenBuf [1]byte
		if res := r.ReadNInto(lenBuf[:]); !res.IsOK() {
			return res
		}
		n := int(lenBuf[0])
		if n == 0 {
			return onEnd()
		}
		buf := make([]byte, n)
		if res := r.ReadNInto(buf); !res.IsOK() {
			// Un-consume the length byte so a retry re-reads it; BufReader
			// only advances on a fully successful ReadN, and ReadNInto
			// above did consume the length byte already, so roll it back.
			r.UnreadN(1)
			return res
		}
		if res := onData(buf); !res.IsOK() {
			return res
		}
	}
}

func (p *Parser) handleAppSubblockData(b []byte) ioutil.Result {
	switch p.curExt {
	case extNetscape:
		if len(b) >= netscapeSubblockLen && b[0] == 1 {
			loop := int(b[1]) | int(b[2])<<8
			p.image.LoopCount = loop
		}
	case extICC:
		if !p.iccFirstSeen {
			p.image.ICC = append(p.image.ICC, b...)
		}
	case extXMP:
		// XMP-in-GIF convention: include the first byte of each sub-block
		// (its own length, which pumpSubBlocks already stripped as framing)
		// in the payload.
		p.xmpBuf = append(p.xmpBuf, byte(len(b)))
		p.xmpBuf = append(p.xmpBuf, b...)
	}
	return ioutil.OK(len(b))
}

func (p *Parser) finishAppSubblocks() ioutil.Result {
	switch p.curExt {
	case extICC:
		p.iccFirstSeen = true
	case extXMP:
		// Strip the 257-byte magic trailer GIF XMP blocks are terminated
		// with, if present.
		if len(p.xmpBuf) > xmpMagicTrailerLen {
			p.image.XMP = append([]byte(nil), p.xmpBuf[:len(p.xmpBuf)-xmpMagicTrailerLen]...)
		} else {
			p.image.XMP = append([]byte(nil), p.xmpBuf...)
		}
	}
	p.curExt = extNone
	p.st = stateBlockType
	return ioutil.OK(0)
}

func (p *Parser) parseImageDescriptor(r *ioutil.BufReader) ioutil.Result {
	var buf [9]byte
	if res := r.ReadNInto(buf[:]); !res.IsOK() {
		return res
	}
	x := int(buf[0]) | int(buf[1])<<8
	y := int(buf[2]) | int(buf[3])<<8
	w := int(buf[4]) | int(buf[5])<<8
	h := int(buf[6]) | int(buf[7])<<8
	packed := buf[8]

	if w == 0 || h == 0 {
		w, h = p.image.Screen.Width, p.image.Screen.Height
		if w == 0 || h == 0 {
			return ioutil.ErrResult(ioutil.ErrDecodeError, "gif: zero-size frame and canvas")
		}
	}
	// Grow the canvas if the first frame exceeds its declared bounds.
	if x+w > p.image.Screen.Width {
		p.image.Screen.Width = x + w
	}
	if y+h > p.image.Screen.Height {
		p.image.Screen.Height = y + h
	}

	p.curFrame = Frame{
		OffsetX:    x,
		OffsetY:    y,
		Width:      w,
		Height:     h,
		Interlaced: packed&0x40 != 0,
	}
	if p.haveControlExt {
		p.curFrame.Transparent = p.pendingTransparent
		p.curFrame.TransparentIndex = p.pendingTransparentIndex
		p.curFrame.DurationMs = p.pendingDurationMs
		p.curFrame.Disposal = p.pendingDisposal
		p.haveControlExt = false
	} else {
		p.curFrame.TransparentIndex = NoTransparentIndex
	}

	p.image.HeaderComplete = true

	hasLocalTable := packed&0x80 != 0
	if hasLocalTable {
		p.curLocalTableSz = 2 << (packed & 0x07)
		p.st = stateLocalColorTable
	} else {
		p.st = stateMinCodeSize
	}
	return ioutil.OK(9)
}

func (p *Parser) parseMinCodeSize(r *ioutil.BufReader) ioutil.Result {
	var buf [1]byte
	if res := r.ReadNInto(buf[:]); !res.IsOK() {
		return res
	}
	dataSize := int(buf[0])
	p.curFrame.Pixels = make([]byte, p.curFrame.Width*p.curFrame.Height)
	p.rowWidth = p.curFrame.Width
	p.rowsOut = 0
	if p.curFrame.Interlaced {
		p.interlace = newInterlace(p.curFrame.Height)
	} else {
		p.interlace = interlaceState{}
	}
	dec, err := NewLZWDecoder(dataSize, p.rowWidth, p.lzwRowSink)
	if err != nil {
		return ioutil.ErrResult(ioutil.ErrDecodeError, "%v", err)
	}
	p.lzw = dec
	p.st = stateImageData
	return ioutil.OK(1)
}

// lzwRowSink writes one decoded row into curFrame.Pixels, honoring the
// interlace schedule if the frame is interlaced.
func (p *Parser) lzwRowSink(row []byte) bool {
	destRow := p.rowsOut
	if p.curFrame.Interlaced {
		destRow = p.interlace.next()
	}
	if destRow >= p.curFrame.Height {
		p.rowsOut++
		return true
	}
	start := destRow * p.rowWidth
	n := copy(p.curFrame.Pixels[start:start+p.rowWidth], row)
	_ = n
	p.rowsOut++
	return true
}

func (p *Parser) handleImageDataSubblock(b []byte) ioutil.Result {
	if err := p.lzw.Feed(b); err != nil {
		return ioutil.ErrResult(ioutil.ErrDecodeError, "%v", err)
	}
	return ioutil.OK(len(b))
}

func (p *Parser) finishImageData() ioutil.Result {
	if !p.lzw.Finished() {
		return ioutil.ErrResult(ioutil.ErrDecodeError, "gif: image data too short")
	}
	p.image.Frames = append(p.image.Frames, p.curFrame)
	p.sawAnyFrame = true
	p.curFrame = Frame{}
	p.lzw = nil
	p.st = stateBlockType
	return ioutil.OK(0)
}
