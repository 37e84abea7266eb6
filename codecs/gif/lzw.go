package gif

import "fmt"

// lzwMaxCode is the largest code value the GIF LZW variant allows: codes are
// at most 12 bits wide, so the dictionary never grows past 4096 entries.
const lzwMaxCode = 4096

// dictEntry is one decoder dictionary slot: the code it extends and the
// single byte appended to that code's sequence.
type dictEntry struct {
	prefix int32 // -1 for the root (single-byte) entries
	suffix byte
}

// LZWDecoder implements the GIF variant of LZW decompression: a
// variable-bit-width code stream (LSB-first) over a dictionary of
// prefix/suffix pairs, bounded at 4096 entries, reset on a clear code and
// terminated by an end-of-information code. Output is buffered and flushed
// to Sink in chunks of OutputChunkSize bytes (conventionally a GIF row's
// width) as spec.md §4.2 describes; Sink returning false aborts decoding.
type LZWDecoder struct {
	dataSize        int
	clearCode       int
	eoiCode         int
	codeSize        int
	dict            []dictEntry
	nextEntry       int
	prevCode        int32 // -1 means "none"
	bitBuf          uint32
	bitCount        uint
	out             []byte
	OutputChunkSize int
	Sink            func([]byte) bool
	finished        bool
	stack           []byte // scratch buffer reused across Feed calls
}

// NewLZWDecoder creates a decoder for the given initial code size
// (spec.md: data_size in [2, 12]); the initial bit width is dataSize+1.
func NewLZWDecoder(dataSize int, outputChunkSize int, sink func([]byte) bool) (*LZWDecoder, error) {
	if dataSize < 2 || dataSize > 12 {
		return nil, fmt.Errorf("gif: unsupported LZW data size %d", dataSize)
	}
	d := &LZWDecoder{
		dataSize:        dataSize,
		OutputChunkSize: outputChunkSize,
		Sink:            sink,
	}
	d.reset()
	return d, nil
}

func (d *LZWDecoder) reset() {
	d.clearCode = 1 << d.dataSize
	d.eoiCode = d.clearCode + 1
	d.codeSize = d.dataSize + 1
	d.dict = make([]dictEntry, lzwMaxCode)
	for i := 0; i < d.clearCode; i++ {
		d.dict[i] = dictEntry{prefix: -1, suffix: byte(i)}
	}
	d.nextEntry = d.eoiCode + 1
	d.prevCode = -1
}

// Finished reports whether an end-of-information code has been seen.
func (d *LZWDecoder) Finished() bool { return d.finished }

// Feed appends raw sub-block bytes (the bit-packed code stream) to the
// decoder, extracting and processing as many complete codes as are
// available. It may be called multiple times as more sub-blocks of the GIF
// image data arrive.
func (d *LZWDecoder) Feed(data []byte) error {
	for _, b := range data {
		d.bitBuf |= uint32(b) << d.bitCount
		d.bitCount += 8
		for d.bitCount >= uint(d.codeSize) && !d.finished {
			code := int(d.bitBuf & uint32((1<<d.codeSize)-1))
			d.bitBuf >>= uint(d.codeSize)
			d.bitCount -= uint(d.codeSize)
			if err := d.handleCode(code); err != nil {
				return err
			}
		}
		if d.finished {
			break
		}
	}
	return nil
}

func (d *LZWDecoder) handleCode(code int) error {
	switch {
	case code == d.clearCode:
		d.reset()
		return nil
	case code == d.eoiCode:
		d.finished = true
		return d.flush()
	}

	var firstByte byte
	switch {
	case code < d.nextEntry:
		d.stack = d.reconstruct(d.stack[:0], int32(code))
		firstByte = d.stack[0]
	case code == d.nextEntry && d.prevCode >= 0:
		// Classic KwKwK case: the sequence is the previous sequence
		// followed by its own first byte.
		prevSeq := d.reconstruct(nil, d.prevCode)
		firstByte = prevSeq[0]
		d.stack = append(d.stack[:0], prevSeq...)
		d.stack = append(d.stack, firstByte)
	default:
		return fmt.Errorf("gif: malformed LZW stream: code %d out of range (next=%d)", code, d.nextEntry)
	}

	d.emit(d.stack)

	if d.prevCode >= 0 && d.nextEntry < lzwMaxCode {
		d.dict[d.nextEntry] = dictEntry{prefix: d.prevCode, suffix: firstByte}
		d.nextEntry++
		for d.nextEntry > (1<<d.codeSize)-1 && d.codeSize < 12 {
			d.codeSize++
		}
	}
	d.prevCode = int32(code)
	return nil
}

// reconstruct walks the prefix chain for code, appending bytes to dst in
// original (forward) order via an explicit stack, and returns the result.
func (d *LZWDecoder) reconstruct(dst []byte, code int32) []byte {
	var seq []byte
	for code >= 0 {
		e := d.dict[code]
		seq = append(seq, e.suffix)
		code = e.prefix
	}
	// seq is in reverse order (last-emitted byte first); reverse into dst.
	for i := len(seq) - 1; i >= 0; i-- {
		dst = append(dst, seq[i])
	}
	return dst
}

func (d *LZWDecoder) emit(seq []byte) {
	d.out = append(d.out, seq...)
	for len(d.out) >= d.OutputChunkSize && d.OutputChunkSize > 0 {
		chunk := d.out[:d.OutputChunkSize]
		d.out = d.out[d.OutputChunkSize:]
		if d.Sink != nil && !d.Sink(chunk) {
			d.finished = true
			return
		}
	}
}

func (d *LZWDecoder) flush() error {
	if len(d.out) > 0 {
		chunk := d.out
		d.out = nil
		if d.Sink != nil && !d.Sink(chunk) {
			return fmt.Errorf("gif: sink rejected final LZW output")
		}
	}
	return nil
}

// LZWEncoder implements the encoder side: a dictionary keyed by the current
// index buffer, emitting a code and growing the table on each miss, exactly
// mirroring the decoder's reconstruction rules. A clear code is emitted at
// the start and whenever the table would exceed 4096 entries; Finish emits
// the end-of-information code and pads the final byte.
type LZWEncoder struct {
	dataSize  int
	clearCode int
	eoiCode   int
	codeSize  int
	dict      map[string]int
	nextEntry int
	indexBuf  []byte
	bitBuf    uint32
	bitCount  uint
	out       []byte
}

// NewLZWEncoder creates an encoder for the given initial code size.
func NewLZWEncoder(dataSize int) (*LZWEncoder, error) {
	if dataSize < 2 || dataSize > 12 {
		return nil, fmt.Errorf("gif: unsupported LZW data size %d", dataSize)
	}
	e := &LZWEncoder{dataSize: dataSize}
	e.resetDict()
	e.writeCode(e.clearCode)
	return e, nil
}

func (e *LZWEncoder) resetDict() {
	e.clearCode = 1 << e.dataSize
	e.eoiCode = e.clearCode + 1
	e.codeSize = e.dataSize + 1
	e.dict = make(map[string]int, 4096)
	for i := 0; i < e.clearCode; i++ {
		e.dict[string([]byte{byte(i)})] = i
	}
	e.nextEntry = e.eoiCode + 1
}

func (e *LZWEncoder) writeCode(code int) {
	e.bitBuf |= uint32(code) << e.bitCount
	e.bitCount += uint(e.codeSize)
	for e.bitCount >= 8 {
		e.out = append(e.out, byte(e.bitBuf))
		e.bitBuf >>= 8
		e.bitCount -= 8
	}
}

// Write feeds raw index-stream bytes (palette indices) into the encoder.
func (e *LZWEncoder) Write(symbols []byte) {
	for _, s := range symbols {
		candidate := append(append([]byte(nil), e.indexBuf...), s)
		if _, ok := e.dict[string(candidate)]; ok {
			e.indexBuf = candidate
			continue
		}
		e.emitIndexBuffer()
		if e.nextEntry < lzwMaxCode {
			e.dict[string(candidate)] = e.nextEntry
			e.nextEntry++
			if e.nextEntry > 1<<e.codeSize && e.codeSize < 12 {
				e.codeSize++
			}
		} else {
			e.writeCode(e.clearCode)
			e.resetDict()
		}
		e.indexBuf = []byte{s}
	}
}

func (e *LZWEncoder) emitIndexBuffer() {
	if len(e.indexBuf) == 0 {
		return
	}
	code, ok := e.dict[string(e.indexBuf)]
	if !ok {
		// Single-byte sequences are the pre-populated root codes.
		code = int(e.indexBuf[0])
	}
	e.writeCode(code)
}

// Finish flushes the final index buffer, emits EOI, and pads the last
// partial byte on the LSB side (matching the decoder's reading order).
// It returns the complete encoded byte stream.
func (e *LZWEncoder) Finish() []byte {
	e.emitIndexBuffer()
	e.writeCode(e.eoiCode)
	if e.bitCount > 0 {
		e.out = append(e.out, byte(e.bitBuf))
		e.bitBuf = 0
		e.bitCount = 0
	}
	return e.out
}
