// Package ioutil implements the chunked byte-range primitives and the
// suspendable buffered reader/writer that the rest of the optimization
// pipeline is built on: Chunk, ChunkList, BufSource, BufReader and
// BufWriter.
package ioutil

// kind identifies a Chunk's backing storage strategy.
type kind int

const (
	kindViewed kind = iota // borrowed slice; caller guarantees its lifetime
	kindCopied              // owned heap buffer
	kindString              // owned string
	kindSliceOf              // view into a parent Chunk
)

// Chunk is a contiguous, immutable byte range. It may be a borrowed view, an
// owned copy, an owned string, or a slice of another Chunk. A Chunk produced
// by Slice retains a reference to its parent, which keeps the parent's
// backing storage alive for as long as the slice is reachable.
type Chunk struct {
	kind   kind
	viewed []byte
	owned  []byte
	str    string
	parent *Chunk
	start  int
	length int
}

// NewViewedChunk wraps b without copying. The caller must guarantee b is not
// mutated for as long as the Chunk (or any Chunk sliced from it) is in use.
func NewViewedChunk(b []byte) *Chunk {
	return &Chunk{kind: kindViewed, viewed: b}
}

// NewCopiedChunk copies b into a new owned buffer.
func NewCopiedChunk(b []byte) *Chunk {
	owned := make([]byte, len(b))
	copy(owned, b)
	return &Chunk{kind: kindCopied, owned: owned}
}

// NewStringChunk wraps s as an owned Chunk. Strings are immutable in Go, so
// no copy is required.
func NewStringChunk(s string) *Chunk {
	return &Chunk{kind: kindString, str: s}
}

// Data returns the Chunk's bytes. For a string-backed Chunk this allocates;
// callers on a hot path should prefer ToString when a string is acceptable.
func (c *Chunk) Data() []byte {
	switch c.kind {
	case kindViewed:
		return c.viewed
	case kindCopied:
		return c.owned
	case kindString:
		return []byte(c.str)
	case kindSliceOf:
		return c.parent.Data()[c.start : c.start+c.length]
	}
	panic("ioutil: unknown chunk kind")
}

// Size returns the number of bytes in the Chunk.
func (c *Chunk) Size() int {
	switch c.kind {
	case kindViewed:
		return len(c.viewed)
	case kindCopied:
		return len(c.owned)
	case kindString:
		return len(c.str)
	case kindSliceOf:
		return c.length
	}
	panic("ioutil: unknown chunk kind")
}

// ToString returns the Chunk's contents as a string, converting if needed.
func (c *Chunk) ToString() string {
	if c.kind == kindString {
		return c.str
	}
	return string(c.Data())
}

// Clone always produces a new, independently owned copy of the Chunk's
// bytes, regardless of the receiver's backing kind.
func (c *Chunk) Clone() *Chunk {
	return NewCopiedChunk(c.Data())
}

// Slice returns a Chunk covering [start, start+length) of c. The returned
// Chunk keeps c alive: as long as the slice is reachable, so is its parent's
// backing storage. Panics if the range is out of bounds.
func (c *Chunk) Slice(start, length int) *Chunk {
	if start < 0 || length < 0 || start+length > c.Size() {
		panic("ioutil: chunk slice out of range")
	}
	if c.kind == kindSliceOf {
		// Flatten slice-of-slice chains so Data() doesn't recurse unbounded
		// and so the kept-alive parent is always the real owner.
		return &Chunk{kind: kindSliceOf, parent: c.parent, start: c.start + start, length: length}
	}
	return &Chunk{kind: kindSliceOf, parent: c, start: start, length: length}
}

// ChunkList is an ordered sequence of Chunks, appended at the tail and
// consumed from the head. It is the unit of I/O for writers and the
// intermediate storage of BufSource.
type ChunkList struct {
	chunks []*Chunk
}

// NewChunkList returns an empty ChunkList.
func NewChunkList() *ChunkList {
	return &ChunkList{}
}

// Append adds a Chunk at the tail. Empty chunks are dropped, matching
// BufSource.AddChunk's contract.
func (l *ChunkList) Append(c *Chunk) {
	if c == nil || c.Size() == 0 {
		return
	}
	l.chunks = append(l.chunks, c)
}

// PopFront removes and returns the first Chunk, or nil if empty.
func (l *ChunkList) PopFront() *Chunk {
	if len(l.chunks) == 0 {
		return nil
	}
	c := l.chunks[0]
	l.chunks = l.chunks[1:]
	return c
}

// Len returns the number of chunks currently in the list.
func (l *ChunkList) Len() int { return len(l.chunks) }

// Empty reports whether the list holds no chunks.
func (l *ChunkList) Empty() bool { return len(l.chunks) == 0 }

// TotalSize returns the sum of all chunks' sizes.
func (l *ChunkList) TotalSize() int {
	n := 0
	for _, c := range l.chunks {
		n += c.Size()
	}
	return n
}

// Chunks returns the underlying chunk slice. Callers must not mutate it.
func (l *ChunkList) Chunks() []*Chunk { return l.chunks }

// Merge concatenates every chunk's bytes into one new owned Chunk. Merging
// an empty list yields an empty owned chunk.
func (l *ChunkList) Merge() *Chunk {
	total := l.TotalSize()
	buf := make([]byte, 0, total)
	for _, c := range l.chunks {
		buf = append(buf, c.Data()...)
	}
	return &Chunk{kind: kindCopied, owned: buf}
}
