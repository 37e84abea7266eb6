package ioutil

// Writer is the minimal sink BufWriter flushes into: write a Chunk, possibly
// suspending. A Pending result means zero or more bytes of c were accepted
// and the same (or a resliced) chunk must be retried later; callers of
// BufWriter never see this directly, only via Flush's retry contract.
type Writer interface {
	Write(c *Chunk) Result
}

// BufWriter holds a single owned buffer of capacity bufSize plus an
// underlying Writer. Write copies into the buffer and flushes automatically
// once full; Flush pushes any buffered bytes to the underlying writer and
// tolerates partial progress by remembering a "flushing" state so repeated
// calls resume rather than re-send already-accepted bytes.
type BufWriter struct {
	w        Writer
	bufSize  int
	buf      []byte
	flushing bool
	pending  *Chunk // unflushed remainder from a prior partial Flush
}

// NewBufWriter wraps w with an internal buffer of bufSize bytes.
func NewBufWriter(w Writer, bufSize int) *BufWriter {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &BufWriter{w: w, bufSize: bufSize}
}

// Write appends c's bytes to the internal buffer, flushing whenever it
// fills. Refuses to accept new data while a previous Flush is still
// draining (StatusPending); callers must call Flush again until it
// completes.
func (w *BufWriter) Write(c *Chunk) Result {
	if w.flushing {
		return ErrResult(ErrIoError, "BufWriter: write while flush in progress")
	}
	data := c.Data()
	for len(data) > 0 {
		space := w.bufSize - len(w.buf)
		if space == 0 {
			if res := w.Flush(); res.IsError() {
				return res
			} else if res.IsPending() {
				return Pending()
			}
			space = w.bufSize - len(w.buf)
		}
		n := len(data)
		if n > space {
			n = space
		}
		w.buf = append(w.buf, data[:n]...)
		data = data[n:]
	}
	return OK(c.Size())
}

// Flush writes any buffered bytes to the underlying Writer. If the
// underlying Writer returns Pending, BufWriter remembers the remaining
// chunk and refuses further Write calls until a subsequent Flush completes
// the drain.
func (w *BufWriter) Flush() Result {
	if w.pending == nil && len(w.buf) > 0 {
		w.pending = NewCopiedChunk(w.buf)
		w.buf = w.buf[:0]
	}
	if w.pending == nil {
		w.flushing = false
		return OK(0)
	}
	w.flushing = true
	res := w.w.Write(w.pending)
	switch res.Status {
	case StatusOK:
		w.pending = nil
		w.flushing = false
		return OK(res.N)
	case StatusPending:
		return Pending()
	default:
		return res
	}
}

// ReleaseBuffer detaches and returns the current unflushed buffer contents
// without writing them through, for callers that need to assemble a header
// whose exact length is only known after all bytes are buffered (e.g. the
// WebP VP8X rewriter in codecs/webp).
func (w *BufWriter) ReleaseBuffer() []byte {
	out := w.buf
	w.buf = nil
	return out
}
