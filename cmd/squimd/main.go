// Command squimd serves the image-optimization streaming protocol over
// gRPC: each Optimize stream decodes one source image (JPEG/PNG/GIF/WebP)
// and re-encodes it to WebP per the caller's request Header.
//
// Usage:
//
//	squimd -listen :8090
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"

	"github.com/baranov1ch/squim-sub000/rpc"
)

func main() {
	listen := flag.String("listen", ":8090", "address to listen on")
	minWidth := flag.Int("min-width", 0, "reject sources narrower than this (0 disables)")
	minHeight := flag.Int("min-height", 0, "reject sources shorter than this (0 disables)")
	maxWidth := flag.Int("max-width", 0, "reject sources wider than this (0 disables)")
	maxHeight := flag.Int("max-height", 0, "reject sources taller than this (0 disables)")
	flag.Parse()

	if err := run(*listen, *minWidth, *minHeight, *maxWidth, *maxHeight); err != nil {
		fmt.Fprintf(os.Stderr, "squimd: %v\n", err)
		os.Exit(1)
	}
}

func run(listen string, minWidth, minHeight, maxWidth, maxHeight int) error {
	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listen, err)
	}
	defer lis.Close()

	srv := grpc.NewServer()
	rpc.RegisterOptimizerServer(srv, &rpc.Service{
		MinWidth:  minWidth,
		MinHeight: minHeight,
		MaxWidth:  maxWidth,
		MaxHeight: maxHeight,
	})

	fmt.Fprintf(os.Stderr, "squimd: listening on %s\n", lis.Addr())
	return srv.Serve(lis)
}
