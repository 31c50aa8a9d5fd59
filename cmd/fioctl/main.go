// fioctl reads, writes, lists and deletes files on a remote embedded device
// over a serial port, a TCP socket, or a websocket bridge.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/navlink/fioctl/internal/config"
	"github.com/navlink/fioctl/internal/fileio"
	"github.com/navlink/fioctl/internal/link"
	"github.com/navlink/fioctl/internal/logging"
	"github.com/navlink/fioctl/internal/progress"
	"github.com/navlink/fioctl/internal/transport"
)

const version = "v0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	if args[0] == "--version" || args[0] == "-v" {
		fmt.Println("fioctl " + version)
		return
	}

	cmd := args[0]
	switch cmd {
	case "read", "write", "list", "delete":
		os.Exit(run(cmd, args[1:]))
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: fioctl <command> [options] <path>")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  read    read a remote file")
	fmt.Fprintln(os.Stderr, "  write   write a local file to the device")
	fmt.Fprintln(os.Stderr, "  list    list a remote directory (device root when omitted)")
	fmt.Fprintln(os.Stderr, "  delete  delete a remote file")
	fmt.Fprintln(os.Stderr, "examples:")
	fmt.Fprintln(os.Stderr, "  fioctl list --port /dev/ttyUSB0 /persistent")
	fmt.Fprintln(os.Stderr, "  fioctl read --tcp --port 192.168.0.222:55555 --hex /persistent/config.ini")
	fmt.Fprintln(os.Stderr, "  fioctl write firmware.bin")
	fmt.Fprintln(os.Stderr, "run 'fioctl <command> -h' for the command's options")
}

func run(cmd string, args []string) int {
	cfg, err := config.Parse(cmd, args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	logger := logging.New("fioctl", cfg.LogLevel)

	// SIGINT cancels in-flight operations; they unwind through the
	// context and we exit without a stack of error noise.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rwc, err := transport.Open(cfg)
	if err != nil {
		logger.Error("connect failed", "err", err)
		return 1
	}
	lnk := link.New(rwc, logger)
	defer lnk.Close()
	f := fileio.New(lnk, logger)

	switch cmd {
	case "read":
		err = runRead(ctx, f, cfg)
	case "write":
		err = runWrite(ctx, f, cfg)
	case "list":
		err = runList(ctx, f, cfg)
	case "delete":
		err = runDelete(ctx, f, cfg)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		logger.Error(cmd+" failed", "err", err)
		return 1
	}
	return 0
}

func remotePath(cfg config.Config) (string, error) {
	if len(cfg.Args) != 1 {
		return "", errors.New("expected exactly one path argument")
	}
	return cfg.Args[0], nil
}

func runRead(ctx context.Context, f *fileio.FileIO, cfg config.Config) error {
	path, err := remotePath(cfg)
	if err != nil {
		return err
	}

	var opts fileio.ReadOptions
	if showProgress(cfg) {
		meter := progress.NewMeter()
		meter.Start(0)
		stop := progress.Render(os.Stderr, "reading "+path, meter)
		defer stop()
		opts.Progress = func(n int) { meter.Set(int64(n)) }
	}

	data, err := f.Read(ctx, path, opts)
	if err != nil {
		return err
	}

	switch {
	case cfg.Hex:
		fmt.Print(hex.Dump(data))
	case cfg.Out != "":
		if err := os.WriteFile(cfg.Out, data, 0644); err != nil {
			return fmt.Errorf("save to %s: %w", cfg.Out, err)
		}
	default:
		if _, err := os.Stdout.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func runWrite(ctx context.Context, f *fileio.FileIO, cfg config.Config) error {
	path, err := remotePath(cfg)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	opts := fileio.WriteOptions{
		Offset:   uint32(cfg.Offset),
		Truncate: !cfg.NoTrunc,
	}
	if showProgress(cfg) {
		meter := progress.NewMeter()
		meter.Start(int64(len(data)))
		stop := progress.Render(os.Stderr, "writing "+path, meter)
		defer stop()
		opts.Progress = func(n int) { meter.Set(int64(n)) }
	}
	return f.Write(ctx, path, data, opts)
}

func runList(ctx context.Context, f *fileio.FileIO, cfg config.Config) error {
	dir := "."
	if len(cfg.Args) == 1 {
		dir = cfg.Args[0]
	} else if len(cfg.Args) > 1 {
		return errors.New("expected at most one directory argument")
	}
	names, err := f.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runDelete(ctx context.Context, f *fileio.FileIO, cfg config.Config) error {
	path, err := remotePath(cfg)
	if err != nil {
		return err
	}
	return f.Remove(ctx, path)
}

func showProgress(cfg config.Config) bool {
	return !cfg.NoProgress && isTTY(os.Stderr)
}

func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
