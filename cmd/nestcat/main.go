// Command nestcat resolves a nested-archive address and streams the
// addressed entry to stdout.
//
// Usage:
//
//	nestcat [flags] <address>
//
// The outer part of the address names a zip archive, either on disk or
// behind an HTTP server that honors range requests; "!/" segments descend
// into nested archives. With no metadata flags the entry's content is
// written to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/nestfs/nest"
	nesthttp "github.com/nestfs/nest/http"
	"github.com/nestfs/nest/zipfile"
)

type config struct {
	showType     bool
	showLength   bool
	showName     bool
	fastNotFound bool
	verbose      bool
	addr         string
}

func main() {
	cfg := parseFlags()

	ctx := context.Background()
	if cfg.fastNotFound {
		ctx = nest.WithFastNotFound(ctx)
	}

	var logger *slog.Logger
	if cfg.verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	conn, root, err := open(ctx, cfg.addr, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer root.Close() //nolint:errcheck // read-only archive, close errors carry no data

	if err := run(ctx, cfg, conn); err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is acceptable, close is best-effort
	}
}

// open builds the root container for addr's outer part and resolves the
// full address. Remote archives are read in place over range requests;
// everything else is a local file.
func open(ctx context.Context, addr string, logger *slog.Logger) (*nest.Connection, *zipfile.File, error) {
	var zipOpts []zipfile.Option
	var connOpts []nest.Option
	if logger != nil {
		zipOpts = append(zipOpts, zipfile.WithLogger(logger))
		connOpts = append(connOpts, nest.WithLogger(logger))
	}

	outer, _ := nest.SplitAddress(addr)
	if strings.HasPrefix(outer, "http://") || strings.HasPrefix(outer, "https://") {
		var srcOpts []nesthttp.Option
		if logger != nil {
			srcOpts = append(srcOpts, nesthttp.WithLogger(logger))
		}
		source, err := nesthttp.NewSource(ctx, outer, srcOpts...)
		if err != nil {
			return nil, nil, err
		}
		root, err := zipfile.NewReader(source, source.Size(), outer, zipOpts...)
		if err != nil {
			return nil, nil, err
		}
		conn, err := nest.NewConnection(ctx, addr, root, connOpts...)
		if err != nil {
			return nil, nil, err
		}
		return conn, root, nil
	}
	return zipfile.OpenAddress(ctx, addr, zipOpts...)
}

// run prints the requested metadata, or streams the entry when no
// metadata flag is set.
func run(ctx context.Context, cfg config, conn *nest.Connection) error {
	if cfg.showName || cfg.showType || cfg.showLength {
		if cfg.showName {
			fmt.Println(conn.EntryName())
		}
		if cfg.showType {
			fmt.Println(conn.ContentType())
		}
		if cfg.showLength {
			fmt.Println(conn.ContentLength(ctx))
		}
		return nil
	}

	rc, err := conn.InputStream(ctx)
	if err != nil {
		if errors.Is(err, nest.ErrNoEntryName) {
			return errors.New("address names a whole archive; append an entry name after " + nest.Separator)
		}
		return err
	}
	defer rc.Close() //nolint:errcheck // read side, nothing left to lose on close

	_, err = io.Copy(os.Stdout, rc)
	return err
}

func parseFlags() config {
	var cfg config
	flag.BoolVar(&cfg.showType, "t", false, "print the entry's content type instead of its content")
	flag.BoolVar(&cfg.showLength, "l", false, "print the entry's content length instead of its content")
	flag.BoolVar(&cfg.showName, "e", false, "print the resolved entry name instead of its content")
	flag.BoolVar(&cfg.fastNotFound, "q", false, "report missing entries with a bare error instead of a descriptive one")
	flag.BoolVar(&cfg.verbose, "v", false, "log resolution steps to stderr")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <address>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	cfg.addr = flag.Arg(0)
	return cfg
}
