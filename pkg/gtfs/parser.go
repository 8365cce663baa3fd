package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"ovbus/internal/domain"
)

// Parser derives a line-filtered reference snapshot from a static GTFS
// archive: the line's route and trip ID sets, trip to direction and
// trip to shape mappings, shape polylines, and one ordered stop
// sequence per direction taken from the longest trip of that direction.
type Parser struct {
	operatorCode string
	lineNumber   string
	logger       *slog.Logger
}

func NewParser(operatorCode, lineNumber string, logger *slog.Logger) *Parser {
	return &Parser{
		operatorCode: operatorCode,
		lineNumber:   lineNumber,
		logger:       logger.With("component", "gtfs_parser"),
	}
}

type tripRow struct {
	directionID int
	shapeID     string
}

type stopTimeRow struct {
	stopID   string
	sequence int
}

func (p *Parser) Parse(reader *zip.Reader) (*domain.ReferenceSnapshot, error) {
	totalStart := time.Now()

	fileMap := make(map[string]*zip.File)
	for _, file := range reader.File {
		fileMap[file.Name] = file
	}

	for _, required := range []string{"routes.txt", "trips.txt", "stop_times.txt", "stops.txt"} {
		if _, ok := fileMap[required]; !ok {
			return nil, fmt.Errorf("archive missing %s", required)
		}
	}

	routeIDs, err := p.parseRoutes(fileMap["routes.txt"])
	if err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	if len(routeIDs) == 0 {
		return nil, fmt.Errorf("no routes match operator %q line %q", p.operatorCode, p.lineNumber)
	}

	trips, err := p.parseTrips(fileMap["trips.txt"], routeIDs)
	if err != nil {
		return nil, fmt.Errorf("parse trips: %w", err)
	}

	stopTimes, err := p.parseStopTimes(fileMap["stop_times.txt"], trips)
	if err != nil {
		return nil, fmt.Errorf("parse stop_times: %w", err)
	}

	neededStops := make(map[string]struct{})
	for _, rows := range stopTimes {
		for _, row := range rows {
			neededStops[row.stopID] = struct{}{}
		}
	}

	stops, err := p.parseStops(fileMap["stops.txt"], neededStops)
	if err != nil {
		return nil, fmt.Errorf("parse stops: %w", err)
	}

	neededShapes := make(map[string]struct{})
	for _, t := range trips {
		if t.shapeID != "" {
			neededShapes[t.shapeID] = struct{}{}
		}
	}

	shapes := make(map[string][]domain.ShapePoint)
	if file, ok := fileMap["shapes.txt"]; ok {
		shapes, err = p.parseShapes(file, neededShapes)
		if err != nil {
			return nil, fmt.Errorf("parse shapes: %w", err)
		}
	}

	snap := p.assemble(routeIDs, trips, stopTimes, stops, shapes)

	p.logger.Info("reference snapshot derived",
		"routes", len(snap.RouteIDs),
		"trips", len(snap.TripIDs),
		"shapes", len(snap.Shapes),
		"stops_dir1", len(snap.StopsByDirection[domain.Direction1]),
		"stops_dir2", len(snap.StopsByDirection[domain.Direction2]),
		"duration_ms", time.Since(totalStart).Milliseconds(),
	)

	return snap, nil
}

func (p *Parser) parseRoutes(file *zip.File) (map[string]struct{}, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	idx := makeIndex(header)

	routeIDs := make(map[string]struct{})
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if getField(record, idx, "route_short_name") != p.lineNumber {
			continue
		}
		if p.operatorCode != "" {
			if agency := getField(record, idx, "agency_id"); agency != "" && agency != p.operatorCode {
				continue
			}
		}
		routeIDs[getField(record, idx, "route_id")] = struct{}{}
	}

	return routeIDs, nil
}

func (p *Parser) parseTrips(file *zip.File, routeIDs map[string]struct{}) (map[string]tripRow, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	idx := makeIndex(header)

	trips := make(map[string]tripRow)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if _, ok := routeIDs[getField(record, idx, "route_id")]; !ok {
			continue
		}

		tripID := getField(record, idx, "trip_id")
		if tripID == "" {
			continue
		}

		directionID := 0
		if v := getField(record, idx, "direction_id"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				directionID = parsed
			}
		}

		trips[tripID] = tripRow{
			directionID: directionID,
			shapeID:     getField(record, idx, "shape_id"),
		}
	}

	return trips, nil
}

// parseStopTimes keeps only rows of the line's trips; the national feed
// is large and everything else is noise here.
func (p *Parser) parseStopTimes(file *zip.File, trips map[string]tripRow) (map[string][]stopTimeRow, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	idx := makeIndex(header)

	rows := make(map[string][]stopTimeRow)
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		tripID := getField(record, idx, "trip_id")
		if _, ok := trips[tripID]; !ok {
			continue
		}

		seq, _ := strconv.Atoi(getField(record, idx, "stop_sequence"))
		rows[tripID] = append(rows[tripID], stopTimeRow{
			stopID:   getField(record, idx, "stop_id"),
			sequence: seq,
		})
	}

	for _, trip := range rows {
		sort.Slice(trip, func(i, j int) bool {
			return trip[i].sequence < trip[j].sequence
		})
	}

	return rows, nil
}

func (p *Parser) parseStops(file *zip.File, needed map[string]struct{}) (map[string]domain.StopInfo, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	idx := makeIndex(header)

	stops := make(map[string]domain.StopInfo, len(needed))
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		stopID := getField(record, idx, "stop_id")
		if _, ok := needed[stopID]; !ok {
			continue
		}

		lat, _ := strconv.ParseFloat(getField(record, idx, "stop_lat"), 64)
		lon, _ := strconv.ParseFloat(getField(record, idx, "stop_lon"), 64)

		stops[stopID] = domain.StopInfo{
			ID:   stopID,
			Name: getField(record, idx, "stop_name"),
			Lat:  lat,
			Lon:  lon,
		}
	}

	return stops, nil
}

func (p *Parser) parseShapes(file *zip.File, needed map[string]struct{}) (map[string][]domain.ShapePoint, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	header, err := r.Read()
	if err != nil {
		return nil, err
	}
	idx := makeIndex(header)

	type seqPoint struct {
		point    domain.ShapePoint
		sequence int
	}
	points := make(map[string][]seqPoint)

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		shapeID := getField(record, idx, "shape_id")
		if _, ok := needed[shapeID]; !ok {
			continue
		}

		lat, _ := strconv.ParseFloat(getField(record, idx, "shape_pt_lat"), 64)
		lon, _ := strconv.ParseFloat(getField(record, idx, "shape_pt_lon"), 64)
		seq, _ := strconv.Atoi(getField(record, idx, "shape_pt_sequence"))

		points[shapeID] = append(points[shapeID], seqPoint{
			point:    domain.ShapePoint{Lat: lat, Lon: lon},
			sequence: seq,
		})
	}

	shapes := make(map[string][]domain.ShapePoint, len(points))
	for shapeID, pts := range points {
		sort.Slice(pts, func(i, j int) bool {
			return pts[i].sequence < pts[j].sequence
		})
		polyline := make([]domain.ShapePoint, len(pts))
		for i, sp := range pts {
			polyline[i] = sp.point
		}
		shapes[shapeID] = polyline
	}

	return shapes, nil
}

func (p *Parser) assemble(routeIDs map[string]struct{}, trips map[string]tripRow, stopTimes map[string][]stopTimeRow, stops map[string]domain.StopInfo, shapes map[string][]domain.ShapePoint) *domain.ReferenceSnapshot {
	snap := &domain.ReferenceSnapshot{
		RouteIDs:         routeIDs,
		TripIDs:          make(map[string]struct{}, len(trips)),
		TripDirection:    make(map[string]domain.Direction, len(trips)),
		TripShape:        make(map[string]string, len(trips)),
		Shapes:           shapes,
		DirectionShape:   make(map[domain.Direction]string, 2),
		StopsByDirection: make(map[domain.Direction][]domain.StopInfo, 2),
	}

	// The longest trip of each direction defines the direction's stop
	// sequence and representative shape. Short-turn variants are
	// subsets of it.
	longest := make(map[domain.Direction]string, 2)

	for tripID, t := range trips {
		snap.TripIDs[tripID] = struct{}{}
		dir := domain.DirectionFromGTFS(t.directionID)
		snap.TripDirection[tripID] = dir
		if t.shapeID != "" {
			snap.TripShape[tripID] = t.shapeID
		}

		if len(stopTimes[tripID]) > len(stopTimes[longest[dir]]) {
			longest[dir] = tripID
		}
	}

	for _, dir := range []domain.Direction{domain.Direction1, domain.Direction2} {
		tripID := longest[dir]
		if tripID == "" {
			continue
		}

		rows := stopTimes[tripID]
		seq := make([]domain.StopInfo, 0, len(rows))
		for i, row := range rows {
			stop, ok := stops[row.stopID]
			if !ok {
				continue
			}
			stop.Sequence = i
			seq = append(seq, stop)
		}
		snap.StopsByDirection[dir] = seq

		if shapeID := snap.TripShape[tripID]; shapeID != "" {
			snap.DirectionShape[dir] = shapeID
		}
	}

	return snap
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	return idx
}

func getField(record []string, idx map[string]int, field string) string {
	if i, ok := idx[field]; ok && i < len(record) {
		return record[i]
	}
	return ""
}
