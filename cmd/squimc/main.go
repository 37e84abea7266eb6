// Command squimc is a squimd client: it streams one image to a squimd
// service and writes back the re-encoded WebP.
//
// Usage:
//
//	squimc -service host:8090 -in photo.jpg -out photo.webp [options]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/baranov1ch/squim-sub000/rpc"
)

func main() {
	service := flag.String("service", "localhost:8090", "squimd address")
	in := flag.String("in", "-", `source image path, "-" for stdin`)
	out := flag.String("out", "-", `destination path, "-" for stdout`)
	quality := flag.Float64("quality", 75, "WebP quality, 0-100")
	lossless := flag.Bool("lossless", false, "force lossless WebP")
	mixed := flag.Bool("mixed", false, "auto-detect photo vs. graphic content from the first frame")
	timeout := flag.Duration("timeout", 30*time.Second, "overall request timeout")
	flag.Parse()

	if err := run(*service, *in, *out, float32(*quality), *lossless, *mixed, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "squimc: %v\n", err)
		os.Exit(1)
	}
}

func run(service, in, out string, quality float32, lossless, mixed bool, timeout time.Duration) error {
	src, err := openInput(in)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer src.Close()

	dst, closeDst, err := openOutput(out)
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer closeDst()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := rpc.Dial(ctx, service)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", service, err)
	}
	defer conn.Close()

	client := rpc.NewOptimizerClient(conn)
	mode := rpc.CompressionLossy
	switch {
	case mixed:
		mode = rpc.CompressionMixed
	case lossless:
		mode = rpc.CompressionLossless
	}

	meta, stats, err := rpc.Convert(ctx, client, rpc.Header{
		TargetType:      rpc.TargetWebP,
		Quality:         quality,
		CompressionMode: mode,
	}, src, dst)
	if err != nil {
		return err
	}
	if meta.Code != rpc.ResultOK {
		return fmt.Errorf("server rejected request: %s: %s", meta.Code, meta.Message)
	}
	fmt.Fprintf(os.Stderr, "squimc: wrote %d bytes\n", stats.CodedSize)
	return nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
