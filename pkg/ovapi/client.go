package ovapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"ovbus/internal/domain"
)

// Client fetches per-stop departure passes from the timing-point API
// and filters them to one operator and line.
type Client struct {
	baseURL       string
	operatorCode  string
	lineNumber    string
	nightLineCode string
	httpClient    *http.Client
}

func New(baseURL, operatorCode, lineNumber, nightLineCode string) *Client {
	return &Client{
		baseURL:       baseURL,
		operatorCode:  operatorCode,
		lineNumber:    lineNumber,
		nightLineCode: nightLineCode,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// apiPass is one journey pass of a timing point as the upstream sends it.
// Times are naive local strings without a zone marker.
type apiPass struct {
	DataOwnerCode     string `json:"DataOwnerCode"`
	LinePublicNumber  string `json:"LinePublicNumber"`
	LinePlanningCode  string `json:"LinePlanningCode"`
	LineDirection     int    `json:"LineDirection"`
	JourneyNumber     int    `json:"JourneyNumber"`
	DestinationName50 string `json:"DestinationName50"`
	TimingPointCode   string `json:"TimingPointCode"`
	TimingPointName   string `json:"TimingPointName"`

	TargetArrivalTime     string `json:"TargetArrivalTime"`
	TargetDepartureTime   string `json:"TargetDepartureTime"`
	ExpectedArrivalTime   string `json:"ExpectedArrivalTime"`
	ExpectedDepartureTime string `json:"ExpectedDepartureTime"`

	TripStopStatus string `json:"TripStopStatus"`
}

type apiStop struct {
	TimingPointCode string  `json:"TimingPointCode"`
	TimingPointName string  `json:"TimingPointName"`
	Latitude        float64 `json:"Latitude"`
	Longitude       float64 `json:"Longitude"`
}

type tpcEntry struct {
	Stop   apiStop                    `json:"Stop"`
	Passes map[string]json.RawMessage `json:"Passes"`
}

// FetchDepartures returns the upcoming departures for one timing-point
// code, filtered to the configured operator and line and sorted by
// expected time. A stop the upstream has no data for yields an empty
// slice, not an error.
func (c *Client) FetchDepartures(ctx context.Context, tpc string) ([]domain.ScheduledDeparture, error) {
	reqURL := fmt.Sprintf("%s/%s", c.baseURL, tpc)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FetchError{URL: reqURL, StatusCode: resp.StatusCode}
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &domain.DecodeError{URL: reqURL, Err: err}
	}

	entry, err := extractEntry(body, tpc)
	if err != nil {
		return nil, &domain.DecodeError{URL: reqURL, Err: err}
	}
	if entry == nil {
		return []domain.ScheduledDeparture{}, nil
	}

	departures := make([]domain.ScheduledDeparture, 0, len(entry.Passes))
	for _, raw := range entry.Passes {
		var pass apiPass
		if err := json.Unmarshal(raw, &pass); err != nil {
			continue
		}
		if !c.wanted(&pass) {
			continue
		}
		departures = append(departures, c.toDomain(&pass, &entry.Stop))
	}

	sort.Slice(departures, func(i, j int) bool {
		return departures[i].ExpectedTime < departures[j].ExpectedTime
	})

	return departures, nil
}

// extractEntry tolerates both response shapes: the passes object keyed
// directly by TPC at the top level, or nested one wrapper deeper. A
// missing entry means the upstream has nothing for this stop.
func extractEntry(body map[string]json.RawMessage, tpc string) (*tpcEntry, error) {
	if raw, ok := body[tpc]; ok {
		var entry tpcEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, err
		}
		return &entry, nil
	}

	for _, raw := range body {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			continue
		}
		inner, ok := wrapper[tpc]
		if !ok {
			continue
		}
		var entry tpcEntry
		if err := json.Unmarshal(inner, &entry); err != nil {
			return nil, err
		}
		return &entry, nil
	}

	return nil, nil
}

// wanted keeps passes of the configured operator and public line number
// and drops the night-service variant that shares the public number but
// runs under its own planning code.
func (c *Client) wanted(pass *apiPass) bool {
	if pass.DataOwnerCode != c.operatorCode {
		return false
	}
	if pass.LinePublicNumber != c.lineNumber {
		return false
	}
	if c.nightLineCode != "" && pass.LinePlanningCode == c.nightLineCode {
		return false
	}
	return true
}

func (c *Client) toDomain(pass *apiPass, stop *apiStop) domain.ScheduledDeparture {
	scheduled := pass.TargetDepartureTime
	if scheduled == "" {
		scheduled = pass.TargetArrivalTime
	}
	expected := pass.ExpectedDepartureTime
	if expected == "" {
		expected = pass.ExpectedArrivalTime
	}

	delayMin := delayMinutes(scheduled, expected)

	name := pass.TimingPointName
	if name == "" {
		name = stop.TimingPointName
	}
	tpc := pass.TimingPointCode
	if tpc == "" {
		tpc = stop.TimingPointCode
	}

	return domain.ScheduledDeparture{
		TimingPointCode: tpc,
		StopName:        name,
		Lat:             stop.Latitude,
		Lon:             stop.Longitude,
		JourneyNumber:   pass.JourneyNumber,
		Direction:       domain.Direction(pass.LineDirection),
		Destination:     pass.DestinationName50,
		ScheduledTime:   scheduled,
		ExpectedTime:    expected,
		Status:          pass.TripStopStatus,
		DelayMinutes:    delayMin,
		IsDelayed:       delayMin >= 1,
	}
}

// delayMinutes is the rounded difference between the pass's own
// expected and scheduled times. Both are naive local strings; parsing
// them with the same layout keeps the arithmetic zone-free.
func delayMinutes(scheduled, expected string) int {
	st, err1 := time.Parse(domain.TimeLayout, scheduled)
	et, err2 := time.Parse(domain.TimeLayout, expected)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(math.Round(et.Sub(st).Minutes()))
}
