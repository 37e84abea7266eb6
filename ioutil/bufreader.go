package ioutil

// BufReader is a thin typed layer over BufSource. Every method returns a
// Result of {ok(n), pending, eof, error}; eof distinguishes "no data and the
// source is closed" from pending ("no data yet, source still open").
type BufReader struct {
	src *BufSource
}

// NewBufReader wraps src.
func NewBufReader(src *BufSource) *BufReader {
	return &BufReader{src: src}
}

// Source returns the underlying BufSource, e.g. so a caller can AddChunk or
// SendEOF on it directly.
func (r *BufReader) Source() *BufSource { return r.src }

func (r *BufReader) waitStatus() Result {
	if r.src.EOFReached() {
		return EOF()
	}
	return Pending()
}

// ReadSome hands back the next contiguous run of bytes, however short.
func (r *BufReader) ReadSome() (*Chunk, Result) {
	if !r.src.HaveSome() {
		return nil, r.waitStatus()
	}
	c := r.src.ReadSome()
	return c, OK(c.Size())
}

// ReadAtMostN hands back up to n bytes from the next contiguous run.
func (r *BufReader) ReadAtMostN(n int) (*Chunk, Result) {
	if n <= 0 {
		return NewCopiedChunk(nil), OK(0)
	}
	if !r.src.HaveSome() {
		return nil, r.waitStatus()
	}
	c := r.src.ReadAtMostN(n)
	return c, OK(c.Size())
}

// ReadN requires exactly n bytes to be available; it returns Pending/EOF
// until then.
func (r *BufReader) ReadN(n int) (*Chunk, Result) {
	if n == 0 {
		return NewCopiedChunk(nil), OK(0)
	}
	if !r.src.HaveN(n) {
		return nil, r.waitStatus()
	}
	c := r.src.ReadN(n)
	return c, OK(c.Size())
}

// ReadNInto copies exactly len(buf) bytes into buf.
func (r *BufReader) ReadNInto(buf []byte) Result {
	n := len(buf)
	if n == 0 {
		return OK(0)
	}
	if !r.src.HaveN(n) {
		return r.waitStatus()
	}
	c := r.src.ReadN(n)
	copy(buf, c.Data())
	return OK(n)
}

// PeekNInto copies len(buf) bytes into buf without consuming them: it reads
// then immediately unreads.
func (r *BufReader) PeekNInto(buf []byte) Result {
	n := len(buf)
	if n == 0 {
		return OK(0)
	}
	if !r.src.HaveN(n) {
		return r.waitStatus()
	}
	c := r.src.ReadN(n)
	copy(buf, c.Data())
	r.src.UnreadN(n)
	return OK(n)
}

// SkipN discards the next n bytes.
func (r *BufReader) SkipN(n int) Result {
	if n == 0 {
		return OK(0)
	}
	if !r.src.HaveN(n) {
		return r.waitStatus()
	}
	r.src.ReadN(n)
	return OK(n)
}

// UnreadN moves the cursor back by n bytes (or fewer, if that many have
// already been freed), returning the amount actually unread.
func (r *BufReader) UnreadN(n int) int {
	return r.src.UnreadN(n)
}
