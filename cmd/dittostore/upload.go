package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/dittostore/pkg/protocol"
	"github.com/marmos91/dittostore/pkg/transport"
	"github.com/marmos91/dittostore/pkg/upload"
)

func runUpload(args []string) error {
	fs := newFlagSet("upload", "upload [flags] <local-file> [remote-name]")
	addr := fs.StringP("addr", "a", "localhost:7070", "Server address (host:port)")
	codecName := fs.String("codec", "cbor", "Wire codec: cbor or xdr (must match the server)")
	compressionName := fs.String("compression", "none", "Frame compression: none, zstd or lz4")
	chunkSize := fs.Int("chunk-size", upload.DefaultChunkSize, "Bytes per chunk")
	promote := fs.StringP("promote", "p", "", "Promote the upload into the permanent store under this name")
	timeout := fs.Duration("timeout", 10*time.Minute, "Overall upload deadline")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fs.Usage()
		return fmt.Errorf("expected <local-file> [remote-name]")
	}

	localPath := fs.Arg(0)
	remoteName := filepath.ToSlash(filepath.Base(localPath))
	if fs.NArg() == 2 {
		remoteName = fs.Arg(1)
	}

	codec, err := protocol.NewCodec(*codecName)
	if err != nil {
		return err
	}
	compression, err := protocol.ParseCompression(*compressionName)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", *addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", *addr, err)
	}

	client := upload.NewClient(transport.NewStreamChannel(conn, transport.StreamOptions{
		Codec:       codec,
		Compression: compression,
	}))
	defer func() { _ = client.Close() }()

	start := time.Now()
	id, err := client.Upload(ctx, remoteName, f, *chunkSize)
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded %s as %s (id %s) in %s\n", localPath, remoteName, id, time.Since(start).Round(time.Millisecond))

	if *promote != "" {
		destID, digest, err := client.Promote(ctx, id, *promote)
		if err != nil {
			return err
		}
		fmt.Printf("Promoted to %s (id %s, hash %s)\n", *promote, destID, digest)
	}

	return nil
}
