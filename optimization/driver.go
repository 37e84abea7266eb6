package optimization

import (
	"github.com/baranov1ch/squim-sub000/codecs"
	"github.com/baranov1ch/squim-sub000/ioutil"
)

// driverState is the Driver's current position in the linear state machine
// spec.md §4.6 lays out:
//
//	Init → ReadingFormat → ReadingImageInfo → ReadFrame ⇄ WriteFrame → Drain? → Finish → Complete → None
type driverState int

const (
	stateInit driverState = iota
	stateReadingFormat
	stateReadingImageInfo
	stateReadFrame
	stateWriteFrame
	stateDrain
	stateFinish
	stateComplete
	stateNone
)

// ProcessOutcome is what one Driver.Process call reports: either "call me
// again later" (Pending true) or a terminal Finished result.
type ProcessOutcome struct {
	Pending  bool
	Finished ioutil.Finished
}

// Driver sequences "read header → create writer → pump frames → drain →
// finalize" over a Strategy, a BufReader, and whatever Reader/Writer the
// Strategy constructs. Every state transition is idempotent: a Pending
// result leaves the Driver in the same state so Process can be re-invoked;
// an error pins the Driver in the terminal None state, which replays the
// same Finished result on every subsequent call (spec.md §7's propagation
// policy).
type Driver struct {
	strategy Strategy
	r        *ioutil.BufReader

	state driverState

	reader codecs.Reader
	writer codecs.Writer
	info   codecs.ImageInfo
	frame  *codecs.ImageFrame

	terminal ioutil.Finished
}

// NewDriver returns a Driver reading from r and governed by strategy.
func NewDriver(r *ioutil.BufReader, strategy Strategy) *Driver {
	return &Driver{r: r, strategy: strategy, state: stateInit}
}

// Process runs the state machine until it either reaches a terminal state
// or hits a suspension point; in the latter case it returns
// ProcessOutcome{Pending: true} and must be called again once more input
// (or output capacity) is available.
func (d *Driver) Process() ProcessOutcome {
	for {
		switch d.state {
		case stateNone:
			return ProcessOutcome{Finished: d.terminal}
		case stateInit:
			if !d.stepInit() {
				return d.pendingOrDone()
			}
		case stateReadingFormat:
			if !d.stepReadingFormat() {
				return d.pendingOrDone()
			}
		case stateReadingImageInfo:
			if !d.stepReadingImageInfo() {
				return d.pendingOrDone()
			}
		case stateReadFrame:
			if !d.stepReadFrame() {
				return d.pendingOrDone()
			}
		case stateWriteFrame:
			if !d.stepWriteFrame() {
				return d.pendingOrDone()
			}
		case stateDrain:
			if !d.stepDrain() {
				return d.pendingOrDone()
			}
		case stateFinish:
			if !d.stepFinish() {
				return d.pendingOrDone()
			}
		case stateComplete:
			d.finish(ioutil.Finished{Kind: ioutil.FinishOK})
			return d.pendingOrDone()
		}
	}
}

// pendingOrDone reports the outcome of the step just taken: Pending if the
// Driver is still in a non-terminal state, or the remembered terminal
// result otherwise.
func (d *Driver) pendingOrDone() ProcessOutcome {
	if d.state == stateNone {
		return ProcessOutcome{Finished: d.terminal}
	}
	return ProcessOutcome{Pending: true}
}

// fail pins the Driver in the terminal None state with err remembered.
func (d *Driver) fail(err *ioutil.Error) {
	d.terminal = ioutil.Finished{Kind: ioutil.FinishStop, Err: err}
	d.state = stateNone
}

func (d *Driver) finish(f ioutil.Finished) {
	d.terminal = f
	d.state = stateNone
}

// stepInit asks the Strategy whether to even bother. Returns false if the
// Driver should suspend (never happens here, ShouldEvenBother is
// synchronous) or has terminated.
func (d *Driver) stepInit() bool {
	stop, err := d.strategy.ShouldEvenBother()
	if err != nil {
		d.fail(err)
		return false
	}
	if stop {
		d.finish(ioutil.Finished{Kind: ioutil.FinishStop})
		return false
	}
	d.state = stateReadingFormat
	return true
}

func (d *Driver) stepReadingFormat() bool {
	sig, res := peekSignature(d.r)
	if res.IsError() {
		d.fail(res.Err)
		return false
	}
	if res.IsPending() {
		return false
	}
	if len(sig) == 0 {
		d.fail(ioutil.NewError(ioutil.ErrUnexpectedEOF, "empty input"))
		return false
	}
	format := codecs.SniffFormat(sig)
	if format == codecs.FormatUnknown {
		d.fail(ioutil.NewError(ioutil.ErrUnsupportedFormat, "unrecognized signature"))
		return false
	}
	reader, err := d.strategy.NewReader(format)
	if err != nil {
		d.fail(err)
		return false
	}
	d.reader = reader
	d.state = stateReadingImageInfo
	return true
}

func (d *Driver) stepReadingImageInfo() bool {
	info, res := d.reader.GetImageInfo(d.r)
	if res.IsError() {
		d.fail(res.Err)
		return false
	}
	if !res.IsOK() {
		return false
	}
	if err := d.strategy.CheckImageSize(info); err != nil {
		d.fail(err)
		return false
	}
	writer, err := d.strategy.NewWriter(info)
	if err != nil {
		d.fail(err)
		return false
	}
	if res := writer.Init(info, d.reader.Metadata()); res.IsError() {
		d.fail(res.Err)
		return false
	}
	d.info = info
	d.writer = writer
	d.state = stateReadFrame
	return true
}

func (d *Driver) stepReadFrame() bool {
	if !d.reader.HasMoreFrames() {
		if d.strategy.ShouldWaitForMetadata() {
			d.state = stateDrain
		} else {
			d.state = stateFinish
		}
		return true
	}
	frame, res := d.reader.GetNextFrame(d.r)
	if res.IsError() {
		d.fail(ioutil.NewError(ioutil.ErrReadFrameError, "%v", res.Err))
		return false
	}
	if res.IsEOF() {
		d.state = stateFinish
		return true
	}
	if !res.IsOK() {
		return false
	}
	d.frame = frame
	d.state = stateWriteFrame
	return true
}

func (d *Driver) stepWriteFrame() bool {
	res := d.writer.WriteFrame(d.frame)
	if res.IsError() {
		d.fail(ioutil.NewError(ioutil.ErrWriteFrameError, "%v", res.Err))
		return false
	}
	if !res.IsOK() {
		return false
	}
	d.frame = nil
	d.state = stateReadFrame
	return true
}

func (d *Driver) stepDrain() bool {
	res := d.reader.ReadTillTheEnd(d.r)
	if res.IsError() {
		d.fail(res.Err)
		return false
	}
	if !res.IsOK() && !res.IsEOF() {
		return false
	}
	d.state = stateFinish
	return true
}

func (d *Driver) stepFinish() bool {
	res := d.writer.Finalize()
	if res.IsError() {
		d.fail(res.Err)
		return false
	}
	if !res.IsOK() {
		return false
	}
	d.state = stateComplete
	return true
}

// peekSignature returns up to codecs.SniffLen bytes at the BufReader's
// cursor without consuming them. If fewer than SniffLen bytes will ever
// arrive (source already at EOF), it returns whatever is available, down
// to zero for a genuinely empty source.
func peekSignature(r *ioutil.BufReader) ([]byte, ioutil.Result) {
	src := r.Source()
	if src.HaveN(codecs.SniffLen) {
		buf := make([]byte, codecs.SniffLen)
		res := r.PeekNInto(buf)
		return buf, res
	}
	if src.EOFReached() {
		n := src.TotalSize() - src.Offset()
		if n == 0 {
			return nil, ioutil.EOF()
		}
		buf := make([]byte, n)
		res := r.PeekNInto(buf)
		return buf, res
	}
	return nil, ioutil.Pending()
}
