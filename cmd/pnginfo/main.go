// pnginfo inspects PNG files: reports whether each argument is a valid
// three-chunk PNG, prints its IHDR fields, and optionally dumps the
// chunk listing.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/ratcht/pngcore/internal/png"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var chunks bool

	flagSet := pflag.NewFlagSet("pnginfo", pflag.ContinueOnError)
	flagSet.BoolVar(&chunks, "chunks", false, "dump the per-chunk listing")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	files := flagSet.Args()
	if len(files) == 0 {
		return fmt.Errorf("usage: pnginfo [--chunks] <file>...")
	}

	for _, path := range files {
		if err := inspect(path, chunks); err != nil {
			return err
		}
	}
	return nil
}

func inspect(path string, chunks bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if !png.IsPNG(buf) {
		fmt.Printf("%s: not a PNG\n", path)
		return nil
	}

	if chunks {
		fmt.Printf("%s:\n", path)
		return png.DumpChunks(os.Stdout, buf)
	}

	doc, err := png.Parse(buf)
	if err != nil {
		fmt.Printf("%s: invalid PNG: %v\n", path, err)
		return nil
	}

	fmt.Printf("%s: %dx%d, bit depth %d, color type %d, %d compressed bytes",
		path, doc.Header.Width, doc.Header.Height,
		doc.Header.BitDepth, doc.Header.ColorType, len(doc.IDAT))
	if doc.FirstCRCError != nil {
		fmt.Printf(" (warning: %v)", doc.FirstCRCError)
	}
	fmt.Println()
	return nil
}
