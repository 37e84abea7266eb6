package ioutil

// BufSource is an append-only queue of Chunks plus a read cursor
// (chunkIdx, inner) and the bookkeeping spec.md §3 describes: total_size
// (bytes currently retained) and a sticky eof_received flag. offset tracks
// bytes consumed measured from the front of the currently retained window;
// it is explicitly adjusted alongside total_size whenever a prefix of fully
// consumed chunks is freed, so that unread_n can never resurrect freed
// bytes.
type BufSource struct {
	chunks      []*Chunk
	chunkIdx    int
	inner       int
	totalSize   int
	offset      int
	eofReceived bool
}

// NewBufSource returns an empty BufSource.
func NewBufSource() *BufSource {
	return &BufSource{}
}

// AddChunk appends c. Ignored once EOF has been signalled; empty chunks are
// dropped.
func (s *BufSource) AddChunk(c *Chunk) {
	if s.eofReceived || c == nil || c.Size() == 0 {
		return
	}
	s.chunks = append(s.chunks, c)
	s.totalSize += c.Size()
}

// SendEOF sets the sticky end-of-file flag.
func (s *BufSource) SendEOF() {
	s.eofReceived = true
}

// EOFReceived reports whether SendEOF has been called.
func (s *BufSource) EOFReceived() bool { return s.eofReceived }

// TotalSize returns the number of bytes currently retained (added minus any
// freed prefix).
func (s *BufSource) TotalSize() int { return s.totalSize }

// Offset returns the number of bytes consumed from the front of the
// currently retained window.
func (s *BufSource) Offset() int { return s.offset }

// unreadWindow returns the number of unread bytes currently buffered.
func (s *BufSource) unreadWindow() int {
	return s.totalSize - s.offset
}

// HaveSome reports whether there is at least one unread byte right now.
func (s *BufSource) HaveSome() bool {
	return s.unreadWindow() > 0
}

// HaveN reports whether at least n unread bytes are currently buffered.
func (s *BufSource) HaveN(n int) bool {
	return s.unreadWindow() >= n
}

// EOFReached reports whether the source is drained and closed: no unread
// bytes remain and EOF has been signalled.
func (s *BufSource) EOFReached() bool {
	return !s.HaveSome() && s.eofReceived
}

// advancePastExhausted skips the cursor past any fully-consumed chunks so it
// always points at a chunk with unread bytes (or past the end of the slice).
func (s *BufSource) advancePastExhausted() {
	for s.chunkIdx < len(s.chunks) && s.inner >= s.chunks[s.chunkIdx].Size() {
		s.chunkIdx++
		s.inner = 0
	}
}

// ReadSome hands back the largest contiguous slice available at the cursor
// and advances past it. Callers must have verified HaveSome first.
func (s *BufSource) ReadSome() *Chunk {
	s.advancePastExhausted()
	if s.chunkIdx >= len(s.chunks) {
		return nil
	}
	cur := s.chunks[s.chunkIdx]
	n := cur.Size() - s.inner
	out := cur
	if s.inner != 0 || n != cur.Size() {
		out = cur.Slice(s.inner, n)
	}
	s.inner += n
	s.offset += n
	return out
}

// ReadAtMostN is the bounded variant of ReadSome: it returns at most n bytes
// from the current contiguous chunk.
func (s *BufSource) ReadAtMostN(n int) *Chunk {
	if n <= 0 {
		return nil
	}
	s.advancePastExhausted()
	if s.chunkIdx >= len(s.chunks) {
		return nil
	}
	cur := s.chunks[s.chunkIdx]
	avail := cur.Size() - s.inner
	if n > avail {
		n = avail
	}
	out := cur.Slice(s.inner, n)
	s.inner += n
	s.offset += n
	return out
}

// ReadN requires HaveN(n) and returns exactly n bytes starting at the
// cursor, advancing past them. When the requested span crosses more than
// one underlying Chunk, those chunks are coalesced in place into a single
// owned Chunk (replacing them in the internal queue); any previously
// returned pointer into the replaced chunks is invalidated by contract, as
// spec.md §3 requires.
func (s *BufSource) ReadN(n int) *Chunk {
	if n == 0 {
		return NewCopiedChunk(nil)
	}
	if !s.HaveN(n) {
		panic("ioutil: ReadN requires HaveN(n)")
	}
	s.advancePastExhausted()
	first := s.chunks[s.chunkIdx]
	firstAvail := first.Size() - s.inner
	if firstAvail >= n {
		out := first.Slice(s.inner, n)
		s.inner += n
		s.offset += n
		return out
	}

	// Spans multiple chunks: find the last chunk touched and coalesce
	// [chunkIdx, last] into one owned chunk plus an optional leftover tail.
	// The merged chunk keeps the already-consumed prefix of first (bytes
	// [0, s.inner)) rather than dropping it: offset/totalSize account for
	// that prefix as still retained, and UnreadN relies on being able to
	// walk back into it, so it must survive the coalesce.
	remaining := n
	last := s.chunkIdx
	taken := 0
	for {
		avail := s.chunks[last].Size()
		if last == s.chunkIdx {
			avail -= s.inner
		}
		if taken+avail >= remaining {
			break
		}
		taken += avail
		last++
	}
	neededFromLast := remaining - taken
	prefixLen := s.inner

	list := NewChunkList()
	list.Append(first)
	for i := s.chunkIdx + 1; i < last; i++ {
		list.Append(s.chunks[i])
	}
	lastChunk := s.chunks[last]
	list.Append(lastChunk.Slice(0, neededFromLast))
	merged := list.Merge()

	var leftover *Chunk
	if neededFromLast < lastChunk.Size() {
		leftover = lastChunk.Slice(neededFromLast, lastChunk.Size()-neededFromLast)
	}

	newTail := make([]*Chunk, 0, len(s.chunks)-last+2)
	newTail = append(newTail, merged)
	if leftover != nil {
		newTail = append(newTail, leftover)
	}
	newTail = append(newTail, s.chunks[last+1:]...)
	s.chunks = append(s.chunks[:s.chunkIdx], newTail...)

	s.inner = prefixLen + n
	s.offset += n
	if prefixLen == 0 {
		return merged
	}
	return merged.Slice(prefixLen, n)
}

// UnreadN moves the cursor back by min(n, offset) bytes, returning the
// number actually unread. Bytes dropped by a prior Free* call can never be
// restored, so the actual amount unread may be less than requested.
func (s *BufSource) UnreadN(n int) int {
	if n > s.offset {
		n = s.offset
	}
	remaining := n
	for remaining > 0 {
		if s.inner >= remaining {
			s.inner -= remaining
			remaining = 0
			break
		}
		remaining -= s.inner
		s.chunkIdx--
		s.inner = s.chunks[s.chunkIdx].Size()
	}
	s.offset -= n
	return n
}

// FreeAtMostN drops up to n bytes' worth of fully-consumed chunks strictly
// before the cursor. The cursor is first moved past any exhausted chunk, so
// a chunk read to its end is eligible; the chunk holding the next unread
// byte is never dropped.
func (s *BufSource) FreeAtMostN(n int) int {
	s.advancePastExhausted()
	freed := 0
	for freed < n && s.chunkIdx > 0 {
		c := s.chunks[0]
		sz := c.Size()
		if freed+sz > n {
			break
		}
		freed += sz
		s.chunks = s.chunks[1:]
		s.chunkIdx--
		s.totalSize -= sz
		s.offset -= sz
	}
	return freed
}

// FreeAsMuchAsPossible drops every fully-consumed chunk strictly before the
// cursor.
func (s *BufSource) FreeAsMuchAsPossible() int {
	return s.FreeAtMostN(s.offset)
}
