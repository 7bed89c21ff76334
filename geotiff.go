package geosample

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"golang.org/x/image/tiff/lzw"
)

// TIFF tags.
const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagPlanarConfiguration       = 284
	tagPredictor                 = 317
	tagTileWidth                 = 322
	tagTileLength                = 323
	tagTileOffsets               = 324
	tagTileByteCounts            = 325
	tagSampleFormat              = 339
	tagModelPixelScale           = 33550
	tagModelTiepoint             = 33922
	tagModelTransformation       = 34264
	tagGeoKeyDirectory           = 34735
	tagGeoDoubleParams           = 34736
	tagGeoASCIIParams            = 34737
	tagGDALNoData                = 42113
)

// Compression schemes.
const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionPackBits = 32773
	compressionDeflate2 = 32946
)

// Predictors.
const (
	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
)

// Sample formats.
const (
	sampleFormatUInt  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

const (
	planarConfigurationChunky = 1
	planarConfigurationPlanar = 2
)

const defaultMaxPixels = 1 << 28

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth                uint32    `tiff:"field,tag=256"`
	ImageLength               uint32    `tiff:"field,tag=257"`
	BitsPerSample             []uint16  `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	StripOffsets              []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	RowsPerStrip              uint32    `tiff:"field,tag=278"`
	StripByteCounts           []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint32    `tiff:"field,tag=322"`
	TileLength                uint32    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              []uint16  `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag    []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

type decodeOptions struct {
	defaultCRS string
	maxPixels  int
}

// A DecodeOption sets an option on Decode.
type DecodeOption func(*decodeOptions)

// WithDefaultCRS sets the CRS used when a raster does not declare one.
func WithDefaultCRS(crs string) DecodeOption {
	return func(o *decodeOptions) {
		o.defaultCRS = crs
	}
}

// WithMaxPixels sets the maximum number of pixels that Decode will accept.
func WithMaxPixels(maxPixels int) DecodeOption {
	return func(o *decodeOptions) {
		o.maxPixels = maxPixels
	}
}

// A chunkLayout describes how an image is divided into strips or tiles.
type chunkLayout struct {
	width          int
	length         int
	across         int
	down           int
	offsets        []uint64
	byteCounts     []uint64
	tiled          bool
	bytesPerSample int
	stride         int // Samples per pixel within a chunk.
}

// Decode decodes the first band of the GeoTIFF in data.
func Decode(data []byte, options ...DecodeOption) (grid *Grid, err error) {
	o := decodeOptions{
		maxPixels: defaultMaxPixels,
	}
	for _, option := range options {
		option(&o)
	}

	defer func() {
		switch {
		case recover() != nil:
			grid, err = nil, fmt.Errorf("%w: malformed TIFF", ErrFormat)
			decodes.WithLabelValues("error").Inc()
		case err != nil:
			decodes.WithLabelValues("error").Inc()
		default:
			decodes.WithLabelValues("ok").Inc()
		}
	}()

	byteOrder, err := tiffByteOrder(data)
	if err != nil {
		return nil, err
	}

	tiffTIFF, err := tiff.Parse(bytes.NewReader(data), tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, fmt.Errorf("%w: no IFDs", ErrFormat)
	}

	// Further IFDs are overviews or masks.
	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	width, height := int(ifd.ImageWidth), int(ifd.ImageLength)
	if width == 0 || height == 0 {
		return nil, ErrEmptyRaster
	}
	if width > o.maxPixels/height {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrFormat, width, height, o.maxPixels)
	}

	transform, err := ifd.transform()
	if err != nil {
		return nil, err
	}

	crs := o.defaultCRS
	rasterType := RasterPixelIsArea
	if len(ifd.GeoKeyDirectoryTag) != 0 {
		geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		if geoKeysCRS, ok := geoKeys.CRS(); ok {
			crs = geoKeysCRS
		}
		rasterType = geoKeys.RasterType()
	}
	if rasterType == RasterPixelIsPoint {
		transform[0] -= 0.5*transform[1] + 0.5*transform[2]
		transform[3] -= 0.5*transform[4] + 0.5*transform[5]
	}

	layout, err := ifd.chunkLayout(width, height)
	if err != nil {
		return nil, err
	}

	sampleDecoder, dataType, err := ifd.sampleDecoder(byteOrder)
	if err != nil {
		return nil, err
	}

	noData, hasNoData := parseNoData(ifd.GDALNoData)
	isNoData := func(float64) bool { return false }
	if hasNoData {
		switch dataType {
		case "float32":
			noData32 := float64(float32(noData))
			isNoData = func(sample float64) bool { return sample == noData32 }
		default:
			isNoData = func(sample float64) bool { return sample == noData }
		}
	}

	samples := make([]float64, width*height)
	for i := range samples {
		samples[i] = math.NaN()
	}
	for chunkIndex := range layout.across * layout.down {
		chunkData, chunkLength, err := ifd.readChunk(data, layout, chunkIndex, height, byteOrder)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %w", ErrFormat, chunkIndex, err)
		}
		originX := layout.width * (chunkIndex % layout.across)
		originY := layout.length * (chunkIndex / layout.across)
		pixelBytes := layout.stride * layout.bytesPerSample
		for y := range chunkLength {
			imageY := originY + y
			if imageY >= height {
				break
			}
			for x := range layout.width {
				imageX := originX + x
				if imageX >= width {
					break
				}
				offset := (y*layout.width + x) * pixelBytes
				sample := sampleDecoder(chunkData[offset : offset+layout.bytesPerSample])
				if isNoData(sample) {
					sample = math.NaN()
				}
				samples[imageY*width+imageX] = sample
			}
		}
	}

	samplesPerPixel := max(int(ifd.SamplesPerPixel), 1)
	return &Grid{
		width:     width,
		height:    height,
		samples:   samples,
		crs:       crs,
		transform: transform,
		noData:    noData,
		hasNoData: hasNoData,
		dataType:  dataType,
		bandCount: samplesPerPixel,
	}, nil
}

// tiffByteOrder returns the byte order of the TIFF in data.
func tiffByteOrder(data []byte) (binary.ByteOrder, error) {
	switch {
	case len(data) < 8:
		return nil, fmt.Errorf("%w: short header", ErrFormat)
	case data[0] == 'I' && data[1] == 'I':
		return binary.LittleEndian, nil
	case data[0] == 'M' && data[1] == 'M':
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("%w: not a TIFF", ErrFormat)
	}
}

// transform returns the affine transform described by ifd.
func (ifd *geoTIFFIFD) transform() (Affine, error) {
	var transform Affine
	switch {
	case len(ifd.ModelTransformationTag) == 16:
		m := ifd.ModelTransformationTag
		transform = Affine{m[3], m[0], m[1], m[7], m[4], m[5]}
	case len(ifd.ModelTiepointTag) >= 6 && len(ifd.ModelPixelScaleTag) >= 2:
		i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
		x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
		scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
		transform = Affine{x - i*scaleX, scaleX, 0, y + j*scaleY, 0, -scaleY}
	default:
		return Affine{}, fmt.Errorf("%w: not georeferenced", ErrFormat)
	}
	if !transform.Invertible() {
		return Affine{}, fmt.Errorf("%w: %w", ErrFormat, ErrDegenerateTransform)
	}
	return transform, nil
}

// chunkLayout returns the layout of the first band's strips or tiles.
func (ifd *geoTIFFIFD) chunkLayout(width, height int) (*chunkLayout, error) {
	samplesPerPixel := max(int(ifd.SamplesPerPixel), 1)
	bitsPerSample := 1
	if len(ifd.BitsPerSample) > 0 {
		bitsPerSample = int(ifd.BitsPerSample[0])
	}
	for _, bits := range ifd.BitsPerSample {
		if int(bits) != bitsPerSample {
			return nil, fmt.Errorf("%w: mixed bits per sample", ErrFormat)
		}
	}
	switch bitsPerSample {
	case 8, 16, 32, 64:
	default:
		return nil, fmt.Errorf("%w: %d bits per sample: %w", ErrFormat, bitsPerSample, errors.ErrUnsupported)
	}

	layout := &chunkLayout{
		bytesPerSample: bitsPerSample / 8,
		stride:         samplesPerPixel,
	}

	planes := 1
	switch ifd.PlanarConfiguration {
	case 0, planarConfigurationChunky:
	case planarConfigurationPlanar:
		planes = samplesPerPixel
		layout.stride = 1
	default:
		return nil, fmt.Errorf("%w: planar configuration %d", ErrFormat, ifd.PlanarConfiguration)
	}

	if ifd.TileWidth != 0 && ifd.TileLength != 0 {
		layout.tiled = true
		layout.width = int(ifd.TileWidth)
		layout.length = int(ifd.TileLength)
		layout.across = (width + layout.width - 1) / layout.width
		layout.down = (height + layout.length - 1) / layout.length
		layout.offsets = ifd.TileOffsets
		layout.byteCounts = ifd.TileByteCounts
	} else {
		rowsPerStrip := int(ifd.RowsPerStrip)
		if rowsPerStrip == 0 || rowsPerStrip > height {
			rowsPerStrip = height
		}
		layout.width = width
		layout.length = rowsPerStrip
		layout.across = 1
		layout.down = (height + rowsPerStrip - 1) / rowsPerStrip
		layout.offsets = ifd.StripOffsets
		layout.byteCounts = ifd.StripByteCounts
	}

	chunksPerPlane := layout.across * layout.down
	if len(layout.offsets) < chunksPerPlane*planes || len(layout.byteCounts) < chunksPerPlane*planes {
		return nil, fmt.Errorf("%w: incorrect number of chunk byte counts or offsets", ErrFormat)
	}
	return layout, nil
}

// sampleDecoder returns a function that decodes a single first-band sample
// and the name of the sample data type.
func (ifd *geoTIFFIFD) sampleDecoder(byteOrder binary.ByteOrder) (func([]byte) float64, string, error) {
	sampleFormat := sampleFormatUInt
	if len(ifd.SampleFormat) > 0 && ifd.SampleFormat[0] != 0 {
		sampleFormat = int(ifd.SampleFormat[0])
	}
	bitsPerSample := int(ifd.BitsPerSample[0])
	switch {
	case sampleFormat == sampleFormatUInt && bitsPerSample == 8:
		return func(b []byte) float64 { return float64(b[0]) }, "uint8", nil
	case sampleFormat == sampleFormatUInt && bitsPerSample == 16:
		return func(b []byte) float64 { return float64(byteOrder.Uint16(b)) }, "uint16", nil
	case sampleFormat == sampleFormatUInt && bitsPerSample == 32:
		return func(b []byte) float64 { return float64(byteOrder.Uint32(b)) }, "uint32", nil
	case sampleFormat == sampleFormatUInt && bitsPerSample == 64:
		return func(b []byte) float64 { return float64(byteOrder.Uint64(b)) }, "uint64", nil
	case sampleFormat == sampleFormatInt && bitsPerSample == 8:
		return func(b []byte) float64 { return float64(int8(b[0])) }, "int8", nil
	case sampleFormat == sampleFormatInt && bitsPerSample == 16:
		return func(b []byte) float64 { return float64(int16(byteOrder.Uint16(b))) }, "int16", nil
	case sampleFormat == sampleFormatInt && bitsPerSample == 32:
		return func(b []byte) float64 { return float64(int32(byteOrder.Uint32(b))) }, "int32", nil
	case sampleFormat == sampleFormatInt && bitsPerSample == 64:
		return func(b []byte) float64 { return float64(int64(byteOrder.Uint64(b))) }, "int64", nil
	case sampleFormat == sampleFormatFloat && bitsPerSample == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(byteOrder.Uint32(b))) }, "float32", nil
	case sampleFormat == sampleFormatFloat && bitsPerSample == 64:
		return func(b []byte) float64 { return math.Float64frombits(byteOrder.Uint64(b)) }, "float64", nil
	default:
		return nil, "", fmt.Errorf("%w: sample format %d with %d bits: %w", ErrFormat, sampleFormat, bitsPerSample, errors.ErrUnsupported)
	}
}

// readChunk returns the decompressed data of the chunk at chunkIndex and the
// number of rows it contains.
func (ifd *geoTIFFIFD) readChunk(data []byte, layout *chunkLayout, chunkIndex, height int, byteOrder binary.ByteOrder) ([]byte, int, error) {
	offset, byteCount := layout.offsets[chunkIndex], layout.byteCounts[chunkIndex]
	if offset > uint64(len(data)) || byteCount > uint64(len(data))-offset {
		return nil, 0, errors.New("chunk extends beyond end of data")
	}
	compressedData := data[offset : offset+byteCount]

	chunkLength := layout.length
	if !layout.tiled {
		chunkLength = min(layout.length, height-layout.length*chunkIndex)
	}
	rowBytes := layout.width * layout.stride * layout.bytesPerSample
	chunkData := make([]byte, chunkLength*rowBytes)

	switch ifd.Compression {
	case 0, compressionNone:
		if len(compressedData) < len(chunkData) {
			return nil, 0, io.ErrUnexpectedEOF
		}
		copy(chunkData, compressedData)
	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer r.Close()
		if _, err := io.ReadFull(r, chunkData); err != nil {
			return nil, 0, err
		}
	case compressionDeflate, compressionDeflate2:
		r, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, 0, err
		}
		defer r.Close()
		if _, err := io.ReadFull(r, chunkData); err != nil {
			return nil, 0, err
		}
	case compressionPackBits:
		if err := unpackBits(chunkData, compressedData); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, fmt.Errorf("compression %d: %w", ifd.Compression, errors.ErrUnsupported)
	}

	switch ifd.Predictor {
	case 0, predictorNone:
	case predictorHorizontal:
		for row := range chunkLength {
			undoHorizontalDifferencing(chunkData[row*rowBytes:(row+1)*rowBytes], layout.stride, layout.bytesPerSample, byteOrder)
		}
	case predictorFloatingPoint:
		for row := range chunkLength {
			undoFloatingPointDifferencing(chunkData[row*rowBytes:(row+1)*rowBytes], layout.stride, layout.bytesPerSample, byteOrder)
		}
	default:
		return nil, 0, fmt.Errorf("predictor %d: %w", ifd.Predictor, errors.ErrUnsupported)
	}

	return chunkData, chunkLength, nil
}

// unpackBits decodes PackBits-compressed src into dst.
func unpackBits(dst, src []byte) error {
	n := 0
	for i := 0; n < len(dst); {
		if i >= len(src) {
			return io.ErrUnexpectedEOF
		}
		header := int8(src[i])
		i++
		switch {
		case header >= 0:
			count := int(header) + 1
			if i+count > len(src) || n+count > len(dst) {
				return io.ErrUnexpectedEOF
			}
			n += copy(dst[n:], src[i:i+count])
			i += count
		case header != -128:
			count := 1 - int(header)
			if i >= len(src) || n+count > len(dst) {
				return io.ErrUnexpectedEOF
			}
			for range count {
				dst[n] = src[i]
				n++
			}
			i++
		}
	}
	return nil
}

// undoHorizontalDifferencing reverses TIFF predictor 2 on a single row.
func undoHorizontalDifferencing(row []byte, stride, bytesPerSample int, byteOrder binary.ByteOrder) {
	n := len(row) / bytesPerSample
	switch bytesPerSample {
	case 1:
		for i := stride; i < n; i++ {
			row[i] += row[i-stride]
		}
	case 2:
		for i := stride; i < n; i++ {
			prev := byteOrder.Uint16(row[2*(i-stride):])
			byteOrder.PutUint16(row[2*i:], byteOrder.Uint16(row[2*i:])+prev)
		}
	case 4:
		for i := stride; i < n; i++ {
			prev := byteOrder.Uint32(row[4*(i-stride):])
			byteOrder.PutUint32(row[4*i:], byteOrder.Uint32(row[4*i:])+prev)
		}
	case 8:
		for i := stride; i < n; i++ {
			prev := byteOrder.Uint64(row[8*(i-stride):])
			byteOrder.PutUint64(row[8*i:], byteOrder.Uint64(row[8*i:])+prev)
		}
	}
}

// undoFloatingPointDifferencing reverses TIFF predictor 3 on a single row.
// Bytes are differenced then stored most significant byte first in separate
// planes.
func undoFloatingPointDifferencing(row []byte, stride, bytesPerSample int, byteOrder binary.ByteOrder) {
	for i := stride; i < len(row); i++ {
		row[i] += row[i-stride]
	}
	n := len(row) / bytesPerSample
	planes := bytes.Clone(row)
	for i := range n {
		for b := range bytesPerSample {
			if byteOrder == binary.LittleEndian {
				row[i*bytesPerSample+b] = planes[(bytesPerSample-b-1)*n+i]
			} else {
				row[i*bytesPerSample+b] = planes[b*n+i]
			}
		}
	}
}

// parseNoData parses a GDAL_NODATA value.
func parseNoData(s string) (float64, bool) {
	s = strings.TrimRight(strings.TrimSpace(s), "\x00")
	if s == "" {
		return 0, false
	}
	noData, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return noData, true
}
