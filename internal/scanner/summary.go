package scanner

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/probe"
)

// Summary is the final outcome of a scan.
type Summary struct {
	ID     uuid.UUID
	Target Target

	// Open holds the open results sorted by port.
	Open []probe.Result

	Tested  int
	Closed  int
	Errored int
	// Canceled is set when at least one port was not probed because the
	// scan's context ended.
	Canceled bool

	Started time.Time
	Elapsed time.Duration
}

func (s *Summary) add(res probe.Result) {
	s.Tested++
	switch res.Status {
	case probe.StatusOpen:
		s.Open = append(s.Open, res)
	case probe.StatusClosed:
		s.Closed++
	default:
		s.Errored++
		if res.Code() == errors.CodeCanceled {
			s.Canceled = true
		}
	}
}

func (s *Summary) finalize(elapsed time.Duration) {
	sort.Slice(s.Open, func(i, j int) bool {
		return s.Open[i].Port < s.Open[j].Port
	})
	s.Elapsed = elapsed
}

// OpenPorts returns the open port numbers in ascending order.
func (s Summary) OpenPorts() []int {
	ports := make([]int, len(s.Open))
	for i, res := range s.Open {
		ports[i] = res.Port
	}
	return ports
}

// Banner returns the banner captured on port and whether the port was open.
func (s Summary) Banner(port int) (string, bool) {
	i := sort.Search(len(s.Open), func(i int) bool {
		return s.Open[i].Port >= port
	})
	if i < len(s.Open) && s.Open[i].Port == port {
		return s.Open[i].Banner, true
	}
	return "", false
}

type openPortJSON struct {
	Port   int    `json:"port"`
	Banner string `json:"banner"`
}

type summaryJSON struct {
	ID        uuid.UUID      `json:"id"`
	Target    Target         `json:"target"`
	Open      []openPortJSON `json:"open"`
	Tested    int            `json:"tested"`
	Closed    int            `json:"closed"`
	Errored   int            `json:"errored"`
	Canceled  bool           `json:"canceled"`
	Started   time.Time      `json:"started"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// MarshalJSON renders open ports as (port, banner) pairs.
func (s Summary) MarshalJSON() ([]byte, error) {
	open := make([]openPortJSON, len(s.Open))
	for i, res := range s.Open {
		open[i] = openPortJSON{Port: res.Port, Banner: res.Banner}
	}
	return json.Marshal(summaryJSON{
		ID:        s.ID,
		Target:    s.Target,
		Open:      open,
		Tested:    s.Tested,
		Closed:    s.Closed,
		Errored:   s.Errored,
		Canceled:  s.Canceled,
		Started:   s.Started,
		ElapsedMS: s.Elapsed.Milliseconds(),
	})
}
