package rpc

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated as the gRPC content-subtype (content-type
// "application/grpc+gob"). Registering under this name, instead of
// generating protobuf bindings with protoc, is what lets this package use
// grpc-go's real transport and streaming machinery for spec.md §6's wire
// protocol without a protoc toolchain in the build: encoding.Codec is a
// first-class grpc-go extension point, and RequestPart/ResponsePart are
// ordinary gob-able Go structs.
const codecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec implements encoding.Codec (Marshal/Unmarshal/Name) with
// encoding/gob instead of protobuf wire format.
type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string {
	return codecName
}
