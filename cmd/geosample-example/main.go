package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/twpayne/go-geosample"
)

func run() error {
	rasterPath := flag.String("raster", os.Getenv("GEOSAMPLE_RASTER"), "path to GeoTIFF")
	crs := flag.String("crs", geosample.DefaultCRS, "CRS of input points")
	pointsPath := flag.String("points", "", "path to points, as CSV with lat and lon columns or as lat, lon lines")
	printMax := flag.Bool("max", false, "print the location of the highest value")
	bilinear := flag.Bool("bilinear", false, "interpolate bilinearly")
	flag.Parse()

	if *rasterPath == "" {
		return errors.New("syntax: geosample-example -raster file [-points file] [-max] [latitude longitude]")
	}

	var points []geosample.GeoPoint
	switch {
	case flag.NArg() == 2:
		lat, err := strconv.ParseFloat(flag.Arg(0), 64)
		if err != nil {
			return err
		}
		lon, err := strconv.ParseFloat(flag.Arg(1), 64)
		if err != nil {
			return err
		}
		points = append(points, geosample.GeoPoint{Lat: lat, Lon: lon})
	case flag.NArg() != 0:
		return errors.New("syntax: geosample-example -raster file [-points file] [-max] [latitude longitude]")
	}

	if *pointsPath != "" {
		filePoints, err := readPoints(*pointsPath)
		if err != nil {
			return err
		}
		points = append(points, filePoints...)
	}

	data, err := os.ReadFile(*rasterPath)
	if err != nil {
		return err
	}
	sampler, err := geosample.NewSampler(data, geosample.WithBilinear(*bilinear))
	if err != nil {
		return fmt.Errorf("%s: unreadable file: %w", *rasterPath, err)
	}

	metadata := sampler.Metadata()
	displayBounds := sampler.DisplayBounds("")
	fmt.Fprintf(os.Stderr, "%dx%d %s %s bounds %g,%g,%g,%g (%s)\n",
		metadata.Width, metadata.Height, metadata.DataType, metadata.CRS,
		displayBounds.MinX, displayBounds.MinY, displayBounds.MaxX, displayBounds.MaxY, displayBounds.CRS)

	if len(points) > 0 {
		results, err := sampler.Extract(points, *crs)
		if err != nil {
			return err
		}
		if err := geosample.WriteResultsCSV(os.Stdout, results); err != nil {
			return err
		}
	}

	if *printMax {
		extremum, err := sampler.Argmax("")
		if err != nil {
			return err
		}
		fmt.Printf("max %g at row %d col %d lat %g lon %g\n",
			extremum.Value, extremum.Cell.Row, extremum.Cell.Col, extremum.Point.Lat, extremum.Point.Lon)
	}

	return nil
}

func readPoints(path string) ([]geosample.GeoPoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return geosample.ReadPointsCSV(file)
	}
	return geosample.ParsePointsText(file)
}

func main() {
	if err := run(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
