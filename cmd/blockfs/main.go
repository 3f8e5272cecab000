// Command blockfs is the CLI entry point: it wires a logger, a disk
// image, and the vfs Filesystem Facade together and drives the REPL
// defined in package cli.
//
// Grounded on HULER-cloud-SimLinuxFileSystem's root main.go (a single
// os.Args-free entry point handing off into an interactive loop) and
// tranvaj-ZOS2023_SP_GO/main.go's flag-free "first argument is the image
// path" convention.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"blockfs/cli"
	"blockfs/config"
	"blockfs/errs"
	"blockfs/logging"
	"blockfs/vfs"
)

func main() {
	diskSize := flag.Int64("size", config.DefaultDiskSize, "disk image size in bytes (the image file is resized to this on open)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: blockfs [-size bytes] [-v] <disk-image-path>")
		os.Exit(1)
	}
	diskPath := flag.Arg(0)

	level := logrus.InfoLevel
	if *verbose {
		level = logrus.DebugLevel
	}
	log := logging.New(level, os.Stderr)

	cfg := config.Default(diskPath)
	cfg.DiskSize = *diskSize

	fs, err := vfs.Open(cfg, log)
	if err != nil && !errs.Is(err, errs.Corruption) {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	if errs.Is(err, errs.Corruption) {
		fmt.Println("disk image is unformatted or unreadable; formatting now")
		if err := fs.Format(); err != nil {
			fmt.Fprintf(os.Stderr, "format: %v\n", err)
			os.Exit(1)
		}
	}
	defer func() {
		if err := fs.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}()

	repl := cli.New(fs, os.Stdout, log)
	repl.Run(os.Stdin)
}
