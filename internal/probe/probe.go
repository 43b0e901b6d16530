// Package probe performs single TCP connect attempts and captures the banner
// a service sends unsolicited after the connection is established.
package probe

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anstrom/portprobe/internal/errors"
)

const (
	// MinBannerSize and MaxBannerSize bound the single banner read.
	MinBannerSize = 1024
	MaxBannerSize = 2048

	// DefaultBannerSize is the receive cap used by range scans.
	DefaultBannerSize = MinBannerSize
)

// Request describes one probe. It is a value type and is never mutated.
type Request struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	// ReadTimeout bounds the banner read. Zero means ConnectTimeout.
	ReadTimeout time.Duration
	// BannerSize caps the banner read, clamped to [MinBannerSize, MaxBannerSize].
	BannerSize int
}

// Address returns host:port suitable for dialing.
func (r Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Request) readTimeout() time.Duration {
	if r.ReadTimeout <= 0 || r.ReadTimeout > r.ConnectTimeout {
		return r.ConnectTimeout
	}
	return r.ReadTimeout
}

func (r Request) bannerSize() int {
	switch {
	case r.BannerSize <= 0:
		return DefaultBannerSize
	case r.BannerSize < MinBannerSize:
		return MinBannerSize
	case r.BannerSize > MaxBannerSize:
		return MaxBannerSize
	}
	return r.BannerSize
}

// Func is the signature of a prober. Probe is the production implementation.
type Func func(ctx context.Context, req Request) Result

// Probe connects to req.Host:req.Port and reads at most one banner block.
// It never fails: every outcome, including dial errors, is a Result.
func Probe(ctx context.Context, req Request) Result {
	start := time.Now()

	dialer := net.Dialer{Timeout: req.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		return Failed(req.Host, req.Port, err, time.Since(start))
	}
	defer conn.Close()

	banner := readBanner(conn, req.readTimeout(), req.bannerSize())
	return Open(req.Port, banner, time.Since(start))
}

// readBanner performs a single bounded read. Silence, EOF and read errors all
// yield an empty banner; the port is open regardless.
func readBanner(conn net.Conn, timeout time.Duration, size int) string {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return ""
	}

	buf := make([]byte, size)
	n, _ := conn.Read(buf)
	if n <= 0 {
		return ""
	}
	return cleanBanner(buf[:n])
}

// cleanBanner drops invalid UTF-8 sequences and trims surrounding whitespace.
func cleanBanner(data []byte) string {
	s := string(data)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return strings.TrimSpace(s)
}

// Failed builds the Result for a connect error: closed when the port refused
// the connection, error for everything else.
func Failed(host string, port int, err error, elapsed time.Duration) Result {
	reason := errors.NewProbeError(host, port, err)
	status := StatusError
	if reason.Refused() {
		status = StatusClosed
	}
	return Result{
		Port:     port,
		Status:   status,
		Reason:   reason,
		Duration: elapsed,
	}
}

// Open builds the Result for an accepted connection.
func Open(port int, banner string, elapsed time.Duration) Result {
	return Result{
		Port:     port,
		Status:   StatusOpen,
		Banner:   banner,
		Duration: elapsed,
	}
}

// Canceled builds the Result for a port that was never probed because the
// scan was canceled first.
func Canceled(host string, port int, cause error) Result {
	return Result{
		Port:   port,
		Status: StatusError,
		Reason: &errors.ProbeError{
			Code:   errors.CodeCanceled,
			Target: host,
			Port:   port,
			Cause:  cause,
		},
	}
}
