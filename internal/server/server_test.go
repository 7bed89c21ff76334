package server

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-geosample"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Options{
		GridCacheSize:      4,
		ProjectorCacheSize: 4,
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	assert.NoError(t, err)
	return s
}

func testRaster(t *testing.T, samples []float64) []byte {
	t.Helper()
	// Pixel (0, 0) is at (0, 2) and pixel (2, 2) is at (2, 0).
	grid, err := geosample.NewGrid(2, 2, samples, "EPSG:4326", geosample.Affine{0, 1, 0, 2, 0, -1})
	assert.NoError(t, err)
	var buffer bytes.Buffer
	assert.NoError(t, geosample.Encode(&buffer, grid))
	return buffer.Bytes()
}

func do(t *testing.T, s *Server, method, target, contentType string, body []byte, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func upload(t *testing.T, s *Server, data []byte) rasterResponse {
	t.Helper()
	w := do(t, s, http.MethodPost, "/api/v1/rasters", "image/tiff", data)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var response rasterResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestPostRaster(t *testing.T) {
	s := newTestServer(t)
	response := upload(t, s, testRaster(t, []float64{1, 5, 5, 2}))
	assert.Equal(t, 64, len(response.ID))
	assert.Equal(t, 2, response.Metadata.Width)
	assert.Equal(t, 2, response.Metadata.Height)
	assert.Equal(t, "EPSG:4326", response.Metadata.CRS)
	assert.Equal(t, "float32", response.Metadata.DataType)
	assert.True(t, response.DisplayBounds.Reprojected)
	assert.Equal(t, "EPSG:4326", response.DisplayBounds.CRS)

	w := do(t, s, http.MethodGet, "/api/v1/rasters/"+response.ID, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var getResponse rasterResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &getResponse))
	assert.Equal(t, response, getResponse)
}

func TestPostRaster_Multipart(t *testing.T) {
	s := newTestServer(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "raster.tif")
	assert.NoError(t, err)
	_, err = fw.Write(testRaster(t, []float64{1, 5, 5, 2}))
	assert.NoError(t, err)
	assert.NoError(t, mw.Close())

	w := do(t, s, http.MethodPost, "/api/v1/rasters", mw.FormDataContentType(), body.Bytes())
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestPostRaster_Unreadable(t *testing.T) {
	s := newTestServer(t)
	for _, data := range [][]byte{
		nil,
		[]byte("this is not a raster"),
	} {
		w := do(t, s, http.MethodPost, "/api/v1/rasters", "application/octet-stream", data)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var response errorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "unreadable file", response.Error)
	}
}

func TestPostRaster_TooLarge(t *testing.T) {
	s, err := New(Options{
		GridCacheSize:  1,
		MaxUploadBytes: 16,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	assert.NoError(t, err)
	w := do(t, s, http.MethodPost, "/api/v1/rasters", "image/tiff", testRaster(t, []float64{1, 5, 5, 2}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestGetRaster_NotFound(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/api/v1/rasters/"+strings.Repeat("ab", 32), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/rasters/"+strings.Repeat("ab", 33), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/rasters/xyz/max", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostSamples_JSON(t *testing.T) {
	s := newTestServer(t)
	id := upload(t, s, testRaster(t, []float64{1, 5, 5, 2})).ID

	w := do(t, s, http.MethodPost, "/api/v1/rasters/"+id+"/samples", "application/json",
		[]byte(`{"points":[{"lat":1.5,"lon":0.5},{"lat":91,"lon":0},{"lat":0.5,"lon":0.5}]}`))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var response samplesResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "EPSG:4326", response.CRS)
	assert.Equal(t, 3, len(response.Results))

	assert.Equal(t, 1.0, *response.Results[0].Value)
	assert.Equal(t, 0, *response.Results[0].Row)
	assert.Equal(t, 0, *response.Results[0].Col)
	assert.Equal(t, "", response.Results[0].Message)

	assert.Zero(t, response.Results[1].Value)
	assert.Equal(t, absentMessage, response.Results[1].Message)
	assert.Equal(t, 91.0, response.Results[1].Lat)

	assert.Equal(t, 5.0, *response.Results[2].Value)
	assert.Contains(t, w.Body.String(), `"value":null`)
}

func TestPostSamples_TextAsCSV(t *testing.T) {
	s := newTestServer(t)
	id := upload(t, s, testRaster(t, []float64{1, 5, 5, 2})).ID

	w := do(t, s, http.MethodPost, "/api/v1/rasters/"+id+"/samples", "text/plain",
		[]byte("1.5, 1.5\n\n0.5, 1.5\n10, 10\n"), "Accept", "text/csv")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, ""+
		"latitude,longitude,value\n"+
		"1.5,1.5,5\n"+
		"0.5,1.5,2\n"+
		"10,10,\n",
		w.Body.String())
}

func TestPostSamples_CSV(t *testing.T) {
	s := newTestServer(t)
	id := upload(t, s, testRaster(t, []float64{1, 5, 5, 2})).ID

	w := do(t, s, http.MethodPost, "/api/v1/rasters/"+id+"/samples?format=csv", "text/csv",
		[]byte("name,lon,lat\na,0.5,0.5\n"))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "latitude,longitude,value\n0.5,0.5,5\n", w.Body.String())
	assert.Equal(t, `attachment; filename="tiff_extracted_values.csv"`, w.Header().Get("Content-Disposition"))
}

func TestWriteJSON_Unencodable(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]float64{"x": math.Inf(1)})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPostSamples_Errors(t *testing.T) {
	s := newTestServer(t)
	id := upload(t, s, testRaster(t, []float64{1, 5, 5, 2})).ID

	for _, tc := range []struct {
		name         string
		target       string
		contentType  string
		body         string
		expectedCode int
	}{
		{
			name:         "unknown_crs",
			target:       "/api/v1/rasters/" + id + "/samples?crs=EPSG:999999",
			contentType:  "application/json",
			body:         `{"points":[{"lat":0,"lon":0}]}`,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "unknown_crs_in_body",
			target:       "/api/v1/rasters/" + id + "/samples",
			contentType:  "application/json",
			body:         `{"crs":"not a crs","points":[]}`,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "invalid_json",
			target:       "/api/v1/rasters/" + id + "/samples",
			contentType:  "application/json",
			body:         `{`,
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "invalid_text",
			target:       "/api/v1/rasters/" + id + "/samples",
			contentType:  "text/plain",
			body:         "north, east\n",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "unsupported_content_type",
			target:       "/api/v1/rasters/" + id + "/samples",
			contentType:  "application/xml",
			body:         "<points/>",
			expectedCode: http.StatusUnsupportedMediaType,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, tc.target, tc.contentType, []byte(tc.body))
			assert.Equal(t, tc.expectedCode, w.Code, w.Body.String())
		})
	}
}

func TestGetMax(t *testing.T) {
	s := newTestServer(t)
	id := upload(t, s, testRaster(t, []float64{1, 5, 5, 2})).ID

	w := do(t, s, http.MethodGet, "/api/v1/rasters/"+id+"/max", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var response maxResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 5.0, response.Value)
	assert.Equal(t, 0, response.Row)
	assert.Equal(t, 1, response.Col)
	assert.True(t, math.Abs(response.Lat-1.5) < 1e-9)
	assert.True(t, math.Abs(response.Lon-1.5) < 1e-9)
	assert.Equal(t, "EPSG:4326", response.CRS)
}

func TestGetMax_AllMissing(t *testing.T) {
	s := newTestServer(t)
	nan := math.NaN()
	id := upload(t, s, testRaster(t, []float64{nan, nan, nan, nan})).ID

	w := do(t, s, http.MethodGet, "/api/v1/rasters/"+id+"/max", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetPreview(t *testing.T) {
	s := newTestServer(t)
	id := upload(t, s, testRaster(t, []float64{1, 5, 5, 2})).ID

	w := do(t, s, http.MethodGet, "/api/v1/rasters/"+id+"/preview.png?size=64", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	img, err := png.Decode(w.Body)
	assert.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())

	w = do(t, s, http.MethodGet, "/api/v1/rasters/"+id+"/preview.png?size=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok\n", w.Body.String())

	w = do(t, s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "geosample_http_request_duration_seconds")
}
