package geosample

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestParsePointsText(t *testing.T) {
	for _, tc := range []struct {
		name        string
		input       string
		expected    []GeoPoint
		expectedErr bool
	}{
		{
			name: "empty",
		},
		{
			name:  "comma",
			input: "46.5, 7.25\n-33.9,18.4\n",
			expected: []GeoPoint{
				{Lat: 46.5, Lon: 7.25},
				{Lat: -33.9, Lon: 18.4},
			},
		},
		{
			name:  "whitespace_and_comments",
			input: "# lat lon\n\n  46.5 7.25  \r\n\t1;2\n",
			expected: []GeoPoint{
				{Lat: 46.5, Lon: 7.25},
				{Lat: 1, Lon: 2},
			},
		},
		{
			name:        "one_field",
			input:       "46.5\n",
			expectedErr: true,
		},
		{
			name:        "nan",
			input:       "nan, 2\n",
			expectedErr: true,
		},
		{
			name:        "three_fields",
			input:       "1, 2, 3\n",
			expectedErr: true,
		},
		{
			name:        "not_a_number",
			input:       "1, 2\nnorth, 2\n",
			expectedErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := ParsePointsText(strings.NewReader(tc.input))
			if tc.expectedErr {
				assert.True(t, errors.Is(err, ErrPointSyntax))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestParsePointsText_LineNumber(t *testing.T) {
	_, err := ParsePointsText(strings.NewReader("1, 2\n\n3, x\n"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestReadPointsCSV(t *testing.T) {
	for _, tc := range []struct {
		name        string
		input       string
		expected    []GeoPoint
		expectedErr bool
	}{
		{
			name:  "lat_lon",
			input: "lat,lon\n46.5,7.25\n",
			expected: []GeoPoint{
				{Lat: 46.5, Lon: 7.25},
			},
		},
		{
			name:  "extra_columns",
			input: "name, Longitude, LATITUDE\nBern, 7.44, 46.95\nCape Town, 18.42, -33.92\n",
			expected: []GeoPoint{
				{Lat: 46.95, Lon: 7.44},
				{Lat: -33.92, Lon: 18.42},
			},
		},
		{
			name:  "byte_order_mark",
			input: "\ufefflat,lng\n1,2\n",
			expected: []GeoPoint{
				{Lat: 1, Lon: 2},
			},
		},
		{
			name:     "header_only",
			input:    "lat,lon\n",
			expected: []GeoPoint{},
		},
		{
			name:        "empty",
			expectedErr: true,
		},
		{
			name:        "missing_longitude",
			input:       "lat,x\n1,2\n",
			expectedErr: true,
		},
		{
			name:        "short_row",
			input:       "lat,lon\n1\n",
			expectedErr: true,
		},
		{
			name:        "bad_value",
			input:       "lat,lon\n1,east\n",
			expectedErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := ReadPointsCSV(strings.NewReader(tc.input))
			if tc.expectedErr {
				assert.True(t, errors.Is(err, ErrPointSyntax))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestWriteResultsCSV(t *testing.T) {
	var sb strings.Builder
	assert.NoError(t, WriteResultsCSV(&sb, []SampleResult{
		{Point: GeoPoint{Lat: 46.5, Lon: 7.25}, Value: 517.5, OK: true},
		{Point: GeoPoint{Lat: 91, Lon: 0}, Value: math.NaN(), Err: ErrOutside},
		{Point: GeoPoint{Lat: 0, Lon: -0.5}, Value: -3, OK: true},
	}))
	assert.Equal(t, ""+
		"latitude,longitude,value\n"+
		"46.5,7.25,517.5\n"+
		"91,0,\n"+
		"0,-0.5,-3\n",
		sb.String())
}
