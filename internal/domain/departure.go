package domain

// TimeLayout is the naive local-time layout used by the departures API.
// The strings carry no UTC offset; they must never be round-tripped
// through a UTC-normalizing formatter or the displayed clock shifts by
// the local offset.
const TimeLayout = "2006-01-02T15:04:05"

// Source tells where a merged departure's expected time came from.
type Source string

const (
	SourceScheduled Source = "scheduled"
	SourceRealtime  Source = "realtime"
)

// ScheduledDeparture is one pass from the per-stop departures API,
// already filtered to the configured operator and line.
type ScheduledDeparture struct {
	TimingPointCode string  `json:"timingPointCode"`
	StopName        string  `json:"stopName"`
	Lat             float64 `json:"lat"`
	Lon             float64 `json:"lon"`

	// JourneyNumber 0 is a sentinel for "unknown journey", used by
	// entries synthesized from realtime predictions.
	JourneyNumber int       `json:"journeyNumber"`
	Direction     Direction `json:"direction"`
	Destination   string    `json:"destination"`

	ScheduledTime string `json:"scheduledTime"`
	ExpectedTime  string `json:"expectedTime"`
	Status        string `json:"status"`

	DelayMinutes int  `json:"delayMinutes"`
	IsDelayed    bool `json:"isDelayed"`
}

// MergedDeparture is a scheduled departure after reconciliation with
// the realtime trip predictions.
type MergedDeparture struct {
	ScheduledDeparture

	Source Source `json:"source"`

	// LeaveBy is expected time minus the caller's walk time, in the
	// same naive local layout as the other times. Empty when no walk
	// time was requested.
	LeaveBy string `json:"leaveBy,omitempty"`
}
