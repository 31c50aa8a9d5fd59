package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Defaults for the device connection.
const (
	DefaultPort = "/dev/ttyUSB0"
	DefaultBaud = 115200
)

// Config holds the connection and output options shared by all subcommands.
type Config struct {
	Port       string // serial device, or host:port with TCP
	Baud       int
	TCP        bool
	WSURL      string // websocket URL; overrides serial/TCP when set
	Hex        bool   // render read output as a hex dump
	Out        string // write read output to this local file
	Offset     uint   // starting byte offset for write
	NoTrunc    bool   // keep existing remote contents beyond a write
	Verbose    bool
	LogLevel   string
	NoProgress bool
	Args       []string // positional arguments after the flags
}

// Parse parses flags and environment for one subcommand. Flags take
// precedence over environment variables.
func Parse(name string, args []string) (Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return parseWithFlagSet(fs, args)
}

// parseWithFlagSet is an internal helper for testing with isolated flag sets.
func parseWithFlagSet(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{
		Port:     DefaultPort,
		Baud:     DefaultBaud,
		LogLevel: "info",
	}

	// Read from environment first
	if port := os.Getenv("FIOCTL_PORT"); port != "" {
		cfg.Port = port
	}
	if baud := os.Getenv("FIOCTL_BAUD"); baud != "" {
		parsed, err := strconv.Atoi(baud)
		if err != nil || parsed <= 0 {
			return cfg, fmt.Errorf("invalid FIOCTL_BAUD value %q", baud)
		}
		cfg.Baud = parsed
	}
	if logLevel := os.Getenv("FIOCTL_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Flags override environment
	fs.StringVar(&cfg.Port, "port", cfg.Port, "serial port to use (host:port with --tcp)")
	fs.IntVar(&cfg.Baud, "baud", cfg.Baud, "serial baud rate")
	fs.BoolVar(&cfg.TCP, "tcp", false, "connect over TCP; --port is interpreted as host:port")
	fs.StringVar(&cfg.WSURL, "ws", "", "connect over a websocket bridge at this URL")
	fs.BoolVar(&cfg.Hex, "hex", false, "output read contents as a hex dump")
	fs.StringVar(&cfg.Out, "out", "", "write read contents to a local file instead of stdout")
	fs.UintVar(&cfg.Offset, "offset", 0, "starting byte offset for write")
	fs.BoolVar(&cfg.NoTrunc, "no-trunc", false, "do not truncate the remote file before writing")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "print extra debugging information")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.NoProgress, "no-progress", false, "disable the progress display")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}
	if cfg.Baud <= 0 {
		return cfg, fmt.Errorf("invalid baud rate %d", cfg.Baud)
	}
	cfg.Args = fs.Args()
	return cfg, nil
}

// Usage prints the flag help for a subcommand to w.
func Usage(name string, w io.Writer) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(w)
	if _, err := parseWithFlagSet(fs, []string{"-h"}); err != nil && err != flag.ErrHelp {
		fmt.Fprintln(w, err)
	}
}
