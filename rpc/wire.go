// Package rpc implements the bidirectional streaming wire protocol spec.md
// §6 describes, kept intentionally thin per spec.md §1's explicit
// out-of-scope carve-out for "the gRPC transport wrapping". It defines the
// request/response part types, a gRPC service built around them, and a
// server/client pair (cmd/squimd, cmd/squimc) that drive an
// optimization.Driver per request.
package rpc

// TargetType is the only value spec.md §6 allows in a request Header:
// conversion always targets WebP.
type TargetType int

const (
	TargetWebP TargetType = iota
)

// CompressionMode selects lossy/lossless/mixed encoding for the WebP
// target.
type CompressionMode int

const (
	CompressionLossy CompressionMode = iota
	CompressionLossless
	CompressionMixed
)

// Header is the first RequestPart of a stream: target format and WebP
// tuning parameters.
type Header struct {
	TargetType      TargetType
	Quality         float32
	Strength        int
	CompressionMode CompressionMode
}

// RequestPart is one part of the client→server half of the stream. Exactly
// one of Header/Chunk is set; the first part of a stream must be a Header.
type RequestPart struct {
	Header *Header
	Chunk  []byte
}

// ResultCode is the server's metadata header result, per spec.md §6.
type ResultCode int

const (
	ResultOK ResultCode = iota
	ResultRejected
	ResultContractError
	ResultEncodeError
)

func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "OK"
	case ResultRejected:
		return "REJECTED"
	case ResultContractError:
		return "CONTRACT_ERROR"
	case ResultEncodeError:
		return "ENCODE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ResponseMeta is the server's single metadata header, always the first
// non-stats ResponsePart.
type ResponseMeta struct {
	Code    ResultCode
	Message string
}

// Stats is the final part of every response stream: PSNR and coded byte
// size, regardless of whether the conversion succeeded. Service does not
// compute PSNR; it always sends 0 there.
type Stats struct {
	PSNR      float64
	CodedSize int64
}

// ResponsePart is one part of the server→client half of the stream.
// Exactly one of Meta/Chunk/Stats is set. The server sends exactly one
// Meta (first), zero or more Chunks, then exactly one Stats.
type ResponsePart struct {
	Meta  *ResponseMeta
	Chunk []byte
	Stats *Stats
}
