package gtfsrt

import (
	"context"
	"io"
	"net/http"
	"sort"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"ovbus/internal/domain"
)

// Client fetches and decodes the two GTFS-Realtime feeds and filters
// their entities to the identifiers known to the active reference
// snapshot. It is a pure transform of the network response; all caching
// lives in the poller.
type Client struct {
	vehiclesURL    string
	tripUpdatesURL string
	httpClient     *http.Client
}

func New(vehiclesURL, tripUpdatesURL string) *Client {
	return &Client{
		vehiclesURL:    vehiclesURL,
		tripUpdatesURL: tripUpdatesURL,
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

// FetchVehicles returns the line's current vehicle positions. Entities
// whose trip or route is unknown to the snapshot are dropped; with no
// snapshot loaded yet nothing is known and the result is empty.
func (c *Client) FetchVehicles(ctx context.Context, snap *domain.ReferenceSnapshot) ([]domain.VehiclePosition, error) {
	feed, err := c.fetchFeed(ctx, c.vehiclesURL)
	if err != nil {
		return nil, err
	}

	vehicles := make([]domain.VehiclePosition, 0, 16)
	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil {
			continue
		}

		trip := vp.GetTrip()
		if !known(snap, trip.GetTripId(), trip.GetRouteId()) {
			continue
		}

		v := domain.VehiclePosition{
			VehicleID:    vp.GetVehicle().GetId(),
			TripID:       trip.GetTripId(),
			RouteID:      trip.GetRouteId(),
			Lat:          float64(vp.GetPosition().GetLatitude()),
			Lon:          float64(vp.GetPosition().GetLongitude()),
			DelaySeconds: vendorDelay(vp),
			Status:       stopStatus(vp),
			StopID:       vp.GetStopId(),
			Timestamp:    int64(vp.GetTimestamp()),
		}
		if v.VehicleID == "" {
			v.VehicleID = entity.GetId()
		}

		// direction_id 0 is meaningful, so only a present field or a
		// snapshot hit may set the direction.
		if trip.DirectionId != nil {
			d := domain.DirectionFromGTFS(int(trip.GetDirectionId()))
			v.Direction = &d
		} else if snap != nil {
			if d, ok := snap.DirectionOf(trip.GetTripId()); ok {
				v.Direction = &d
			}
		}

		vehicles = append(vehicles, v)
	}

	return vehicles, nil
}

// FetchTripUpdates returns the line's per-trip stop-time predictions,
// each trip's stops ordered by stop sequence. The departed flag is left
// for the caller to derive against its clock.
func (c *Client) FetchTripUpdates(ctx context.Context, snap *domain.ReferenceSnapshot) ([]domain.TripPrediction, error) {
	feed, err := c.fetchFeed(ctx, c.tripUpdatesURL)
	if err != nil {
		return nil, err
	}

	predictions := make([]domain.TripPrediction, 0, 16)
	for _, entity := range feed.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}

		trip := tu.GetTrip()
		if !known(snap, trip.GetTripId(), trip.GetRouteId()) {
			continue
		}

		p := domain.TripPrediction{
			TripID:  trip.GetTripId(),
			RouteID: trip.GetRouteId(),
			Stops:   make([]domain.StopPrediction, 0, len(tu.GetStopTimeUpdate())),
		}

		if trip.DirectionId != nil {
			d := domain.DirectionFromGTFS(int(trip.GetDirectionId()))
			p.Direction = &d
		} else if snap != nil {
			if d, ok := snap.DirectionOf(trip.GetTripId()); ok {
				p.Direction = &d
			}
		}

		for _, stu := range tu.GetStopTimeUpdate() {
			sp := domain.StopPrediction{
				StopID:   stu.GetStopId(),
				Sequence: int(stu.GetStopSequence()),
			}
			if arr := stu.GetArrival(); arr != nil {
				if arr.Time != nil {
					t := arr.GetTime()
					sp.ArrivalTime = &t
				}
				sp.ArrivalDelay = int(arr.GetDelay())
			}
			if dep := stu.GetDeparture(); dep != nil {
				if dep.Time != nil {
					t := dep.GetTime()
					sp.DepartureTime = &t
				}
				sp.DepartureDelay = int(dep.GetDelay())
			}
			p.Stops = append(p.Stops, sp)
		}

		sort.Slice(p.Stops, func(i, j int) bool {
			return p.Stops[i].Sequence < p.Stops[j].Sequence
		})

		predictions = append(predictions, p)
	}

	return predictions, nil
}

func (c *Client) fetchFeed(ctx context.Context, url string) (*gtfsrtpb.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: url, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{URL: url, Err: err}
	}

	var feed gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(data, &feed); err != nil {
		return nil, &domain.DecodeError{URL: url, Err: err}
	}

	return &feed, nil
}

func known(snap *domain.ReferenceSnapshot, tripID, routeID string) bool {
	if snap == nil {
		return false
	}
	return snap.KnownTrip(tripID) || snap.KnownRoute(routeID)
}

func stopStatus(vp *gtfsrtpb.VehiclePosition) domain.VehicleStatus {
	switch vp.GetCurrentStatus() {
	case gtfsrtpb.VehiclePosition_INCOMING_AT:
		return domain.StatusApproaching
	case gtfsrtpb.VehiclePosition_STOPPED_AT:
		return domain.StatusStoppedAt
	default:
		return domain.StatusInTransit
	}
}
