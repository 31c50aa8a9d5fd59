// Package transport dials the byte stream carrying the device link.
package transport

import (
	"fmt"
	"io"
	"net"
	"time"

	"go.bug.st/serial"

	"github.com/navlink/fioctl/internal/config"
)

const dialTimeout = 10 * time.Second

// Open dials the link selected by cfg: a websocket bridge when WSURL is set,
// a TCP socket with TCP, otherwise a local serial port.
func Open(cfg config.Config) (io.ReadWriteCloser, error) {
	switch {
	case cfg.WSURL != "":
		return dialWS(cfg.WSURL)
	case cfg.TCP:
		if _, _, err := net.SplitHostPort(cfg.Port); err != nil {
			return nil, fmt.Errorf("with --tcp, --port must be host:port: %w", err)
		}
		conn, err := net.DialTimeout("tcp", cfg.Port, dialTimeout)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Port, err)
		}
		return conn, nil
	default:
		port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
		}
		return port, nil
	}
}
