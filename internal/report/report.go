// Package report renders scan progress and summaries for the command line.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/probe"
	"github.com/anstrom/portprobe/internal/scanner"
)

// CSVHeader is the first row of every export.
var CSVHeader = []string{"target", "scan_time", "port", "banner"}

// ScanTimeLayout renders scan_time as naive local time with microseconds.
const ScanTimeLayout = "2006-01-02T15:04:05.000000"

// Console prints scan progress lines.
type Console struct {
	w       io.Writer
	verbose bool
}

// NewConsole returns a printer writing to w. Closed ports are only printed
// when verbose is set.
func NewConsole(w io.Writer, verbose bool) *Console {
	return &Console{w: w, verbose: verbose}
}

// Start prints the scan banner line.
func (c *Console) Start(target scanner.Target, concurrency int, timeout time.Duration) {
	fmt.Fprintf(c.w, "[+] Scanning %s ports %d-%d with %d threads, timeout %ss\n",
		target.Host, target.StartPort, target.EndPort, concurrency, formatSeconds(timeout))
}

// Result prints one streamed result.
func (c *Console) Result(res probe.Result) {
	switch {
	case res.IsOpen():
		fmt.Fprintf(c.w, "[OPEN] %d\t%s\n", res.Port, res.Banner)
	case c.verbose:
		fmt.Fprintf(c.w, "[CLOSED] %d\n", res.Port)
	}
}

// Done prints the completion line.
func (c *Console) Done(summary scanner.Summary) {
	if summary.Canceled {
		fmt.Fprintln(c.w, "[!] Scan canceled, unprobed ports reported as errors.")
	}
	fmt.Fprintf(c.w, "[+] Done in %.2fs. %d open ports found.\n",
		summary.Elapsed.Seconds(), len(summary.Open))
}

// Saved prints the export confirmation line.
func (c *Console) Saved(path string) {
	fmt.Fprintf(c.w, "[+] Results saved to %s\n", path)
}

// Grab prints one banner grab line. Ports that did not accept the connection
// are rendered with the connect error instead of a banner.
func (c *Console) Grab(host string, res probe.Result) {
	fmt.Fprintf(c.w, "[%s:%d] -> %s\n", host, res.Port, grabText(res))
}

func grabText(res probe.Result) string {
	if res.IsOpen() {
		return res.Banner
	}
	reason := string(res.Code())
	if res.Reason != nil && res.Reason.Cause != nil {
		reason = res.Reason.Cause.Error()
	}
	return fmt.Sprintf("<connect error: %s>", reason)
}

// Failure prints a non-fatal presentation error.
func (c *Console) Failure(what string, err error) {
	fmt.Fprintf(c.w, "[-] Failed to %s: %v\n", what, err)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// Table renders the open ports of a summary as a table.
func Table(w io.Writer, summary scanner.Summary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Port", "Banner")

	for _, res := range summary.Open {
		if err := table.Append([]string{strconv.Itoa(res.Port), res.Banner}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}

	return table.Render()
}

// WriteCSV writes one row per open port of summary to w.
func WriteCSV(w io.Writer, summary scanner.Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	scanTime := summary.Started.Local().Format(ScanTimeLayout)
	for _, res := range summary.Open {
		row := []string{summary.Target.Host, scanTime, strconv.Itoa(res.Port), res.Banner}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the export to path, creating parent directories as needed.
func SaveCSV(path string, summary scanner.Summary) (err error) {
	wrap := func(err error) error {
		return errors.ErrFileWrite(path, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return wrap(err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return wrap(err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = wrap(closeErr)
		}
	}()

	if err := WriteCSV(f, summary); err != nil {
		return wrap(err)
	}
	return nil
}
