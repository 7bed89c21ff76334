package geosample

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrPointSyntax is returned when a point cannot be parsed.
var ErrPointSyntax = errors.New("invalid point")

// ResultsCSVHeader is the header row written by WriteResultsCSV.
var ResultsCSVHeader = []string{"latitude", "longitude", "value"}

// ParsePointsText parses one "lat, lon" pair per line from r. The latitude
// and longitude may be separated by commas, semicolons, or whitespace. Blank
// lines and lines starting with # are skipped.
func ParsePointsText(r io.Reader) ([]GeoPoint, error) {
	var points []GeoPoint
	scanner := bufio.NewScanner(r)
	for lineNumber := 1; scanner.Scan(); lineNumber++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			switch r {
			case ',', ';', ' ', '\t':
				return true
			default:
				return false
			}
		})
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: %w: %q", lineNumber, ErrPointSyntax, line)
		}
		point, err := parsePoint(fields[0], fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNumber, err)
		}
		points = append(points, point)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// ReadPointsCSV reads points from a CSV table whose header has a latitude
// column (lat or latitude) and a longitude column (lon, lng, long, or
// longitude). Column names are case-insensitive and other columns are
// ignored.
func ReadPointsCSV(r io.Reader) ([]GeoPoint, error) {
	csvReader := csv.NewReader(r)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPointSyntax, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty CSV", ErrPointSyntax)
	}

	latIndex, lonIndex := -1, -1
	for i, name := range records[0] {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "lat", "latitude":
			if latIndex == -1 {
				latIndex = i
			}
		case "lon", "lng", "long", "longitude":
			if lonIndex == -1 {
				lonIndex = i
			}
		}
	}
	if latIndex == -1 || lonIndex == -1 {
		return nil, fmt.Errorf("%w: latitude and longitude columns not found", ErrPointSyntax)
	}

	points := make([]GeoPoint, 0, len(records)-1)
	for i, record := range records[1:] {
		rowNumber := i + 2
		if latIndex >= len(record) || lonIndex >= len(record) {
			return nil, fmt.Errorf("row %d: %w: missing column", rowNumber, ErrPointSyntax)
		}
		point, err := parsePoint(record[latIndex], record[lonIndex])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNumber, err)
		}
		points = append(points, point)
	}
	return points, nil
}

// WriteResultsCSV writes results to w as CSV with the header
// latitude,longitude,value. Absent values are written as empty fields.
func WriteResultsCSV(w io.Writer, results []SampleResult) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(ResultsCSVHeader); err != nil {
		return err
	}
	for _, result := range results {
		value := ""
		if result.OK {
			value = formatFloat(result.Value)
		}
		if err := csvWriter.Write([]string{
			formatFloat(result.Point.Lat),
			formatFloat(result.Point.Lon),
			value,
		}); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func parsePoint(latStr, lonStr string) (GeoPoint, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return GeoPoint{}, fmt.Errorf("%w: latitude %q", ErrPointSyntax, latStr)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return GeoPoint{}, fmt.Errorf("%w: longitude %q", ErrPointSyntax, lonStr)
	}
	if !isFinite(lat) || !isFinite(lon) {
		return GeoPoint{}, fmt.Errorf("%w: non-finite coordinate", ErrPointSyntax)
	}
	return GeoPoint{Lat: lat, Lon: lon}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
