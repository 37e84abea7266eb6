package rpc

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial connects to a squimd address with the gob codec negotiated as the
// default content-subtype for every call made over the connection.
func Dial(ctx context.Context, target string) (*grpc.ClientConn, error) {
	return grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
}

// Convert drives one full client-side Optimize exchange: send header, then
// src in fixed-size chunks, half-close, then collect every ResponsePart
// until Stats arrives, writing image Chunks to dst as they're received.
// It reports the server's ResultCode and message, and the final Stats.
func Convert(ctx context.Context, client OptimizerClient, header Header, src io.Reader, dst io.Writer) (ResponseMeta, Stats, error) {
	stream, err := client.Optimize(ctx)
	if err != nil {
		return ResponseMeta{}, Stats{}, fmt.Errorf("rpc: opening stream: %w", err)
	}
	if err := stream.Send(&RequestPart{Header: &header}); err != nil {
		return ResponseMeta{}, Stats{}, fmt.Errorf("rpc: sending header: %w", err)
	}
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := stream.Send(&RequestPart{Chunk: chunk}); err != nil {
				return ResponseMeta{}, Stats{}, fmt.Errorf("rpc: sending chunk: %w", err)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return ResponseMeta{}, Stats{}, fmt.Errorf("rpc: reading source: %w", rerr)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return ResponseMeta{}, Stats{}, fmt.Errorf("rpc: closing send: %w", err)
	}

	var meta ResponseMeta
	var gotMeta bool
	for {
		part, err := stream.Recv()
		if err != nil {
			return meta, Stats{}, fmt.Errorf("rpc: receiving: %w", err)
		}
		switch {
		case part.Meta != nil:
			meta = *part.Meta
			gotMeta = true
		case part.Chunk != nil:
			if _, err := dst.Write(part.Chunk); err != nil {
				return meta, Stats{}, fmt.Errorf("rpc: writing output: %w", err)
			}
		case part.Stats != nil:
			if !gotMeta {
				return meta, *part.Stats, fmt.Errorf("rpc: stats received before meta")
			}
			return meta, *part.Stats, nil
		}
	}
}
