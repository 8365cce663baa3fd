package poller

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Detector watches for the silent-staleness failure mode: the vehicle
// feed keeps answering 200 OK but our trip identifiers no longer match
// anything because the operator rotated the static dataset. Repeated
// empty results during service hours are the tell; at night an empty
// feed is just an empty feed.
type Detector struct {
	mu     sync.Mutex
	streak int

	threshold  int
	startMin   int
	endMin     int
	loc        *time.Location
	now        func() time.Time
	onTriggers func()
}

// NewDetector parses the "HH:MM" service window bounds. A window whose
// end precedes its start wraps past midnight.
func NewDetector(threshold int, start, end string, loc *time.Location, onTrigger func()) (*Detector, error) {
	startMin, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("invalid operating hours start: %w", err)
	}
	endMin, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("invalid operating hours end: %w", err)
	}

	return &Detector{
		threshold:  threshold,
		startMin:   startMin,
		endMin:     endMin,
		loc:        loc,
		now:        time.Now,
		onTriggers: onTrigger,
	}, nil
}

// Observe records one successful vehicle poll's result size. When the
// empty streak reaches the threshold inside the service window the
// trigger fires and the streak resets, so a refresh that does not fix
// the mismatch fires again only after a full new streak.
func (d *Detector) Observe(vehicleCount int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if vehicleCount > 0 {
		d.streak = 0
		return
	}

	if !d.inServiceWindow(d.now().In(d.loc)) {
		d.streak = 0
		return
	}

	d.streak++
	if d.streak < d.threshold {
		return
	}

	d.streak = 0
	if d.onTriggers != nil {
		d.onTriggers()
	}
}

func (d *Detector) Streak() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streak
}

func (d *Detector) inServiceWindow(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if d.startMin <= d.endMin {
		return m >= d.startMin && m < d.endMin
	}
	return m >= d.startMin || m < d.endMin
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}
