package dispatch

import (
	"github.com/jt05610/benchtop/marlin"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Estimate is the last known tool position. Unless Confirmed, it was
// predicted from sent moves and must not be trusted for safety decisions.
type Estimate struct {
	Position  marlin.Position
	Confirmed bool
	UpdatedAt time.Time
}

type tracker struct {
	mu       sync.Mutex
	est      Estimate
	known    bool
	relative bool
}

// sent updates the estimate from an outgoing G-code line.
func (t *tracker) sent(line string) {
	fields := strings.Fields(strings.ToUpper(line))
	if len(fields) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch fields[0] {
	case "G90":
		t.relative = false
	case "G91":
		t.relative = true
	case "G28":
		t.est.Confirmed = false
		t.est.UpdatedAt = time.Now()
	case "G0", "G00", "G1", "G01":
		for _, f := range fields[1:] {
			v, err := strconv.ParseFloat(f[1:], 64)
			if err != nil {
				continue
			}
			var dst *float64
			switch f[0] {
			case 'X':
				dst = &t.est.Position.X
			case 'Y':
				dst = &t.est.Position.Y
			case 'Z':
				dst = &t.est.Position.Z
			default:
				continue
			}
			if t.relative {
				*dst += v
			} else {
				*dst = v
			}
		}
		t.est.Confirmed = false
		t.est.UpdatedAt = time.Now()
	}
}

func (t *tracker) confirm(p marlin.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.est = Estimate{Position: p, Confirmed: true, UpdatedAt: time.Now()}
	t.known = true
}

func (t *tracker) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.est.Confirmed = false
}

func (t *tracker) estimate() (Estimate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.est, t.known
}
