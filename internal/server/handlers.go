package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/twpayne/go-geosample"
)

const absentMessage = "no value at this location"

// A handlerFunc is an HTTP handler that returns an error.
type handlerFunc func(http.ResponseWriter, *http.Request) error

func (s *Server) handle(f handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			s.writeError(w, r, err)
		}
	})
}

type rasterResponse struct {
	ID            string                  `json:"id"`
	Metadata      geosample.Metadata      `json:"metadata"`
	DisplayBounds geosample.DisplayBounds `json:"displayBounds"`
}

type pointJSON struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type samplesRequest struct {
	CRS    string      `json:"crs"`
	Points []pointJSON `json:"points"`
}

type sampleJSON struct {
	Lat     float64  `json:"lat"`
	Lon     float64  `json:"lon"`
	Value   *float64 `json:"value"`
	Row     *int     `json:"row,omitempty"`
	Col     *int     `json:"col,omitempty"`
	Message string   `json:"message,omitempty"`
}

type samplesResponse struct {
	CRS     string       `json:"crs"`
	Results []sampleJSON `json:"results"`
}

type maxResponse struct {
	Value float64 `json:"value"`
	Row   int     `json:"row"`
	Col   int     `json:"col"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	CRS   string  `json:"crs"`
}

func (s *Server) postRaster(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	data, err := readUpload(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return newStatusError(http.StatusUnprocessableEntity, "unreadable file", geosample.ErrEmptyRaster)
	}

	grid, id, err := s.gridCache.Load(r.Context(), data)
	if err != nil {
		return err
	}
	response, err := s.newRasterResponse(id, grid)
	if err != nil {
		return err
	}
	w.Header().Set("Location", "/api/v1/rasters/"+id)
	writeJSON(w, http.StatusCreated, response)
	s.logger.Info("raster loaded", "id", id, "width", grid.Width(), "height", grid.Height(), "crs", grid.CRS())
	return nil
}

// readUpload returns the raster bytes from r, either from the multipart form
// field "file" or from the raw body.
func readUpload(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, newStatusError(http.StatusBadRequest, `missing form field "file"`, err)
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (s *Server) getRaster(w http.ResponseWriter, r *http.Request) error {
	id, grid, err := s.lookup(r)
	if err != nil {
		return err
	}
	response, err := s.newRasterResponse(id, grid)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

func (s *Server) postSamples(w http.ResponseWriter, r *http.Request) error {
	_, grid, err := s.lookup(r)
	if err != nil {
		return err
	}

	body := http.MaxBytesReader(w, r.Body, maxPointsBytes)
	crs := r.URL.Query().Get("crs")
	var points []geosample.GeoPoint
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/plain":
		points, err = geosample.ParsePointsText(body)
	case "text/csv":
		points, err = geosample.ReadPointsCSV(body)
	default:
		var request samplesRequest
		if err := json.NewDecoder(body).Decode(&request); err != nil {
			return newStatusError(http.StatusBadRequest, "invalid JSON", err)
		}
		if crs == "" {
			crs = request.CRS
		}
		points = make([]geosample.GeoPoint, 0, len(request.Points))
		for _, point := range request.Points {
			points = append(points, geosample.GeoPoint{Lat: point.Lat, Lon: point.Lon})
		}
	}
	if err != nil {
		return err
	}
	if crs == "" {
		crs = geosample.DefaultCRS
	}

	sampler, err := s.newSampler(grid, r)
	if err != nil {
		return err
	}
	results, err := sampler.Extract(points, crs)
	if err != nil {
		return err
	}

	if wantsCSV(r) {
		var buffer bytes.Buffer
		if err := geosample.WriteResultsCSV(&buffer, results); err != nil {
			return err
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="tiff_extracted_values.csv"`)
		_, err := w.Write(buffer.Bytes())
		return err
	}

	response := samplesResponse{
		CRS:     crs,
		Results: make([]sampleJSON, 0, len(results)),
	}
	for _, result := range results {
		sample := sampleJSON{
			Lat: result.Point.Lat,
			Lon: result.Point.Lon,
		}
		if result.OK {
			value, row, col := result.Value, result.Cell.Row, result.Cell.Col
			sample.Value, sample.Row, sample.Col = &value, &row, &col
		} else {
			sample.Message = absentMessage
		}
		response.Results = append(response.Results, sample)
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

func (s *Server) getMax(w http.ResponseWriter, r *http.Request) error {
	_, grid, err := s.lookup(r)
	if err != nil {
		return err
	}
	sampler, err := s.newSampler(grid, r)
	if err != nil {
		return err
	}
	crs := r.URL.Query().Get("crs")
	if crs == "" {
		crs = s.displayCRS
	}
	extremum, err := sampler.Argmax(crs)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, maxResponse{
		Value: extremum.Value,
		Row:   extremum.Cell.Row,
		Col:   extremum.Cell.Col,
		Lat:   extremum.Point.Lat,
		Lon:   extremum.Point.Lon,
		CRS:   crs,
	})
	return nil
}

func (s *Server) getPreview(w http.ResponseWriter, r *http.Request) error {
	_, grid, err := s.lookup(r)
	if err != nil {
		return err
	}
	size := geosample.DefaultPreviewSize
	if sizeStr := r.URL.Query().Get("size"); sizeStr != "" {
		size, err = strconv.Atoi(sizeStr)
		if err != nil || size <= 0 || size > 4096 {
			return newStatusError(http.StatusBadRequest, fmt.Sprintf("invalid size %q", sizeStr), err)
		}
	}
	var buffer bytes.Buffer
	if err := geosample.WritePreviewPNG(&buffer, grid, size); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "image/png")
	_, err = w.Write(buffer.Bytes())
	return err
}

func (s *Server) lookup(r *http.Request) (string, *geosample.Grid, error) {
	id := mux.Vars(r)["id"]
	grid, ok := s.gridCache.Lookup(id)
	if !ok {
		return "", nil, notFoundError(id)
	}
	return id, grid, nil
}

func (s *Server) newSampler(grid *geosample.Grid, r *http.Request) (*geosample.Sampler, error) {
	return geosample.NewGridSampler(grid,
		geosample.WithProjectorCache(s.projectorCache),
		geosample.WithDisplayCRS(s.displayCRS),
		geosample.WithBilinear(r.URL.Query().Get("interpolate") == "bilinear"),
	)
}

func (s *Server) newRasterResponse(id string, grid *geosample.Grid) (*rasterResponse, error) {
	sampler, err := geosample.NewGridSampler(grid,
		geosample.WithProjectorCache(s.projectorCache),
		geosample.WithDisplayCRS(s.displayCRS),
	)
	if err != nil {
		return nil, err
	}
	metadata := sampler.Metadata()
	// JSON cannot represent non-finite nodata values.
	if metadata.NoData != nil && (math.IsNaN(*metadata.NoData) || math.IsInf(*metadata.NoData, 0)) {
		metadata.NoData = nil
	}
	return &rasterResponse{
		ID:            id,
		Metadata:      metadata,
		DisplayBounds: sampler.DisplayBounds(""),
	}, nil
}

// wantsCSV returns whether the client asked for CSV.
func wantsCSV(r *http.Request) bool {
	if format := r.URL.Query().Get("format"); format != "" {
		return strings.EqualFold(format, "csv")
	}
	return strings.Contains(r.Header.Get("Accept"), "text/csv")
}
