package rpc

import (
	"io"

	"github.com/baranov1ch/squim-sub000/ioutil"
	"github.com/baranov1ch/squim-sub000/optimization"
)

// Service implements OptimizerServer by driving one optimization.Driver per
// stream. It holds the server-side size bounds that ConvertToWebPStrategy
// needs but the wire Header doesn't carry; PhotoMetric auto-detection is
// turned on by the Header's mixed compression mode, not by a Service field.
type Service struct {
	MinWidth, MinHeight int
	MaxWidth, MaxHeight int
}

// Optimize implements OptimizerServer. The first RequestPart must carry a
// Header naming TargetWebP; anything else is a CONTRACT_ERROR. Input
// chunks are accumulated into a BufSource feeding a Driver; output is
// buffered (codecs.LazyWriter assembles the whole container at Finalize
// anyway, so there's no streaming benefit to forwarding chunks earlier)
// and flushed only once the Driver's outcome is known, preserving the "one
// Meta, then Chunks, then Stats" part ordering spec.md §6 describes.
func (s *Service) Optimize(stream OptimizerOptimizeServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	// Every return that does not go through finish (the rejections below,
	// or a failed Recv) still ends the stream with an empty Stats part.
	finished := false
	defer func() {
		if !finished {
			_ = stream.Send(&ResponsePart{Stats: &Stats{}})
		}
	}()
	if first.Header == nil {
		return stream.Send(&ResponsePart{Meta: &ResponseMeta{
			Code: ResultContractError, Message: "first part must be a Header",
		}})
	}
	header := first.Header
	if header.TargetType != TargetWebP {
		return stream.Send(&ResponsePart{Meta: &ResponseMeta{
			Code: ResultRejected, Message: "only WEBP is a supported target",
		}})
	}

	sink := &bufferSink{}
	strat := optimization.NewConvertToWebPStrategy(sink)
	strat.RequestedQuality = header.Quality
	strat.RequestedLossless = header.CompressionMode == CompressionLossless
	strat.AutoPhotoDetect = header.CompressionMode == CompressionMixed
	strat.MinWidth, strat.MinHeight = s.MinWidth, s.MinHeight
	strat.MaxWidth, strat.MaxHeight = s.MaxWidth, s.MaxHeight

	src := ioutil.NewBufSource()
	r := ioutil.NewBufReader(src)
	driver := optimization.NewDriver(r, strat)

	for {
		outcome := driver.Process()
		if !outcome.Pending {
			finished = true
			return s.finish(stream, outcome.Finished, sink)
		}
		part, err := stream.Recv()
		if err == io.EOF {
			src.SendEOF()
			continue
		}
		if err != nil {
			return err
		}
		if part.Header != nil {
			return stream.Send(&ResponsePart{Meta: &ResponseMeta{
				Code: ResultContractError, Message: "Header sent more than once",
			}})
		}
		src.AddChunk(ioutil.NewCopiedChunk(part.Chunk))
	}
}

func (s *Service) finish(stream OptimizerOptimizeServer, f ioutil.Finished, sink *bufferSink) error {
	code, msg := classify(f)
	if err := stream.Send(&ResponsePart{Meta: &ResponseMeta{Code: code, Message: msg}}); err != nil {
		return err
	}
	var total int64
	for _, c := range sink.chunks {
		total += int64(len(c))
		if err := stream.Send(&ResponsePart{Chunk: c}); err != nil {
			return err
		}
	}
	return stream.Send(&ResponsePart{Stats: &Stats{CodedSize: total}})
}

// classify maps a Driver's terminal outcome to the wire ResultCode.
func classify(f ioutil.Finished) (ResultCode, string) {
	if f.Kind == ioutil.FinishOK {
		return ResultOK, ""
	}
	if f.Err == nil {
		return ResultRejected, "input rejected by policy"
	}
	switch f.Err.Kind {
	case ioutil.ErrImageTooSmall, ioutil.ErrImageTooLarge:
		return ResultRejected, f.Err.Error()
	case ioutil.ErrUnsupportedFormat, ioutil.ErrUnexpectedEOF:
		return ResultContractError, f.Err.Error()
	default:
		return ResultEncodeError, f.Err.Error()
	}
}

// bufferSink is an ioutil.Writer that retains every chunk it's handed, in
// order, instead of writing anywhere — Service.finish drains it onto the
// stream once the Driver's outcome is known.
type bufferSink struct {
	chunks [][]byte
}

func (b *bufferSink) Write(c *ioutil.Chunk) ioutil.Result {
	b.chunks = append(b.chunks, append([]byte(nil), c.Data()...))
	return ioutil.OK(c.Size())
}
