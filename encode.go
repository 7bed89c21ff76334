package geosample

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"slices"
	"strconv"
)

// A SampleType is the type of samples written by Encode.
type SampleType int

const (
	SampleTypeFloat32 SampleType = iota
	SampleTypeFloat64
	SampleTypeUint8
	SampleTypeUint16
	SampleTypeInt16
	SampleTypeUint32
	SampleTypeInt32
)

// TIFF field types.
const (
	fieldTypeASCII  = 2
	fieldTypeShort  = 3
	fieldTypeLong   = 4
	fieldTypeDouble = 12
)

const defaultStripBytes = 8192

type encodeOptions struct {
	byteOrder  binary.ByteOrder
	sampleType SampleType
	deflate    bool
	predictor  bool
	tileWidth  int
	tileLength int
}

// An EncodeOption sets an option on Encode.
type EncodeOption func(*encodeOptions)

// WithByteOrder sets the byte order of the encoded TIFF.
func WithByteOrder(byteOrder binary.ByteOrder) EncodeOption {
	return func(o *encodeOptions) {
		o.byteOrder = byteOrder
	}
}

// WithSampleType sets the type of encoded samples.
func WithSampleType(sampleType SampleType) EncodeOption {
	return func(o *encodeOptions) {
		o.sampleType = sampleType
	}
}

// WithDeflate enables Deflate compression.
func WithDeflate() EncodeOption {
	return func(o *encodeOptions) {
		o.deflate = true
	}
}

// WithHorizontalPredictor enables the horizontal differencing predictor for
// integer sample types.
func WithHorizontalPredictor() EncodeOption {
	return func(o *encodeOptions) {
		o.predictor = true
	}
}

// WithTileSize writes tiles of the given size instead of strips. TIFF
// requires tile dimensions to be multiples of 16.
func WithTileSize(tileWidth, tileLength int) EncodeOption {
	return func(o *encodeOptions) {
		o.tileWidth = tileWidth
		o.tileLength = tileLength
	}
}

// An ifdEntry is a single TIFF directory entry with its value encoded.
type ifdEntry struct {
	tag       uint16
	fieldType uint16
	count     uint32
	value     []byte
}

// Encode writes g to w as a single-band GeoTIFF.
func Encode(w io.Writer, g *Grid, options ...EncodeOption) error {
	o := encodeOptions{
		byteOrder:  binary.LittleEndian,
		sampleType: SampleTypeFloat32,
	}
	for _, option := range options {
		option(&o)
	}
	if o.predictor && (o.sampleType == SampleTypeFloat32 || o.sampleType == SampleTypeFloat64) {
		return errors.New("horizontal predictor requires an integer sample type")
	}

	bitsPerSample, sampleFormat := o.sampleType.format()
	bytesPerSample := bitsPerSample / 8
	putSample := o.sampleType.putter(o.byteOrder)
	fill := 0.0
	if g.hasNoData {
		fill = g.noData
	}

	chunkWidth, chunkLength := g.width, max(1, defaultStripBytes/(g.width*bytesPerSample))
	tiled := o.tileWidth > 0 && o.tileLength > 0
	if tiled {
		chunkWidth, chunkLength = o.tileWidth, o.tileLength
	} else {
		chunkLength = min(chunkLength, g.height)
	}
	across := (g.width + chunkWidth - 1) / chunkWidth
	down := (g.height + chunkLength - 1) / chunkLength

	// Chunk data follows the 8 byte header.
	var chunks bytes.Buffer
	offsets := make([]uint32, 0, across*down)
	byteCounts := make([]uint32, 0, across*down)
	for chunkIndex := range across * down {
		originX := chunkWidth * (chunkIndex % across)
		originY := chunkLength * (chunkIndex / across)
		rows := chunkLength
		if !tiled {
			rows = min(chunkLength, g.height-originY)
		}
		rowBytes := chunkWidth * bytesPerSample
		chunk := make([]byte, rows*rowBytes)
		for y := range rows {
			for x := range chunkWidth {
				sample := fill
				if imageX, imageY := originX+x, originY+y; imageX < g.width && imageY < g.height {
					if s := g.samples[imageY*g.width+imageX]; !math.IsNaN(s) {
						sample = s
					}
				}
				putSample(chunk[(y*chunkWidth+x)*bytesPerSample:], sample)
			}
			if o.predictor {
				applyHorizontalDifferencing(chunk[y*rowBytes:(y+1)*rowBytes], bytesPerSample, o.byteOrder)
			}
		}
		if o.deflate {
			var compressed bytes.Buffer
			zw := zlib.NewWriter(&compressed)
			if _, err := zw.Write(chunk); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			chunk = compressed.Bytes()
		}
		offsets = append(offsets, uint32(8+chunks.Len()))
		byteCounts = append(byteCounts, uint32(len(chunk)))
		chunks.Write(chunk)
		if chunks.Len()%2 == 1 {
			chunks.WriteByte(0)
		}
	}

	compression := uint16(compressionNone)
	if o.deflate {
		compression = compressionDeflate
	}
	predictor := uint16(predictorNone)
	if o.predictor {
		predictor = predictorHorizontal
	}

	entries := []ifdEntry{
		longEntry(tagImageWidth, o.byteOrder, uint32(g.width)),
		longEntry(tagImageLength, o.byteOrder, uint32(g.height)),
		shortEntry(tagBitsPerSample, o.byteOrder, uint16(bitsPerSample)),
		shortEntry(tagCompression, o.byteOrder, compression),
		shortEntry(tagPhotometricInterpretation, o.byteOrder, 1),
		shortEntry(tagSamplesPerPixel, o.byteOrder, 1),
		shortEntry(tagPlanarConfiguration, o.byteOrder, planarConfigurationChunky),
		shortEntry(tagPredictor, o.byteOrder, predictor),
		shortEntry(tagSampleFormat, o.byteOrder, uint16(sampleFormat)),
	}
	if tiled {
		entries = append(entries,
			longEntry(tagTileWidth, o.byteOrder, uint32(chunkWidth)),
			longEntry(tagTileLength, o.byteOrder, uint32(chunkLength)),
			longEntry(tagTileOffsets, o.byteOrder, offsets...),
			longEntry(tagTileByteCounts, o.byteOrder, byteCounts...),
		)
	} else {
		entries = append(entries,
			longEntry(tagRowsPerStrip, o.byteOrder, uint32(chunkLength)),
			longEntry(tagStripOffsets, o.byteOrder, offsets...),
			longEntry(tagStripByteCounts, o.byteOrder, byteCounts...),
		)
	}

	a := g.transform
	if a[2] == 0 && a[4] == 0 && a[1] > 0 && a[5] < 0 {
		entries = append(entries,
			doubleEntry(tagModelPixelScale, o.byteOrder, a[1], -a[5], 0),
			doubleEntry(tagModelTiepoint, o.byteOrder, 0, 0, 0, a[0], a[3], 0),
		)
	} else {
		entries = append(entries, doubleEntry(tagModelTransformation, o.byteOrder,
			a[1], a[2], 0, a[0],
			a[4], a[5], 0, a[3],
			0, 0, 0, 0,
			0, 0, 0, 1,
		))
	}

	directory, asciiParams := geoKeyDirectory(g.crs)
	entries = append(entries, shortEntry(tagGeoKeyDirectory, o.byteOrder, directory...))
	if asciiParams != "" {
		entries = append(entries, asciiEntry(tagGeoASCIIParams, asciiParams))
	}
	if g.hasNoData {
		entries = append(entries, asciiEntry(tagGDALNoData, strconv.FormatFloat(g.noData, 'g', -1, 64)))
	}

	header := make([]byte, 8)
	if o.byteOrder == binary.BigEndian {
		copy(header, "MM")
	} else {
		copy(header, "II")
	}
	o.byteOrder.PutUint16(header[2:], 42)
	o.byteOrder.PutUint32(header[4:], uint32(8+chunks.Len()))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(chunks.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(encodeIFD(entries, 8+chunks.Len(), o.byteOrder))
	return err
}

// encodeIFD encodes entries as an IFD at ifdOffset followed by the values
// that do not fit inline.
func encodeIFD(entries []ifdEntry, ifdOffset int, byteOrder binary.ByteOrder) []byte {
	slices.SortFunc(entries, func(a, b ifdEntry) int {
		return int(a.tag) - int(b.tag)
	})
	valuesOffset := ifdOffset + 2 + 12*len(entries) + 4
	var ifd, values bytes.Buffer
	ifd.Write(appendUint16(byteOrder, nil, uint16(len(entries))))
	for _, entry := range entries {
		buf := make([]byte, 12)
		byteOrder.PutUint16(buf[0:], entry.tag)
		byteOrder.PutUint16(buf[2:], entry.fieldType)
		byteOrder.PutUint32(buf[4:], entry.count)
		if len(entry.value) <= 4 {
			copy(buf[8:], entry.value)
		} else {
			byteOrder.PutUint32(buf[8:], uint32(valuesOffset+values.Len()))
			values.Write(entry.value)
			if values.Len()%2 == 1 {
				values.WriteByte(0)
			}
		}
		ifd.Write(buf)
	}
	ifd.Write(appendUint32(byteOrder, nil, 0))
	ifd.Write(values.Bytes())
	return ifd.Bytes()
}

func shortEntry(tag uint16, byteOrder binary.ByteOrder, values ...uint16) ifdEntry {
	var value []byte
	for _, v := range values {
		value = appendUint16(byteOrder, value, v)
	}
	return ifdEntry{tag: tag, fieldType: fieldTypeShort, count: uint32(len(values)), value: value}
}

func longEntry(tag uint16, byteOrder binary.ByteOrder, values ...uint32) ifdEntry {
	var value []byte
	for _, v := range values {
		value = appendUint32(byteOrder, value, v)
	}
	return ifdEntry{tag: tag, fieldType: fieldTypeLong, count: uint32(len(values)), value: value}
}

func doubleEntry(tag uint16, byteOrder binary.ByteOrder, values ...float64) ifdEntry {
	var value []byte
	for _, v := range values {
		value = appendUint64(byteOrder, value, math.Float64bits(v))
	}
	return ifdEntry{tag: tag, fieldType: fieldTypeDouble, count: uint32(len(values)), value: value}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	value := append([]byte(s), 0)
	return ifdEntry{tag: tag, fieldType: fieldTypeASCII, count: uint32(len(value)), value: value}
}

// geoKeyDirectory returns the GeoKeyDirectoryTag and GeoASCIIParamsTag values
// for crs. EPSG codes in the range 4000-4999 are written as geographic CRSs.
func geoKeyDirectory(crs string) ([]uint16, string) {
	keys := [][4]uint16{
		{uint16(GeoKeyGTRasterType), 0, 1, RasterPixelIsArea},
	}
	asciiParams := ""
	code, _ := epsgCode(crs)
	switch {
	case isGeographicEPSG(crs):
		keys = append(keys,
			[4]uint16{uint16(GeoKeyGTModelType), 0, 1, ModelTypeGeographic},
			[4]uint16{uint16(GeoKeyGeodeticCRS), 0, 1, uint16(code)},
		)
	case 0 < code && code < userDefined:
		keys = append(keys,
			[4]uint16{uint16(GeoKeyGTModelType), 0, 1, ModelTypeProjected},
			[4]uint16{uint16(GeoKeyProjectedCRS), 0, 1, uint16(code)},
		)
	case crs != "":
		asciiParams = "ESRI PE String = " + crs + "|"
		keys = append(keys,
			[4]uint16{uint16(GeoKeyGTModelType), 0, 1, ModelTypeProjected},
			[4]uint16{uint16(GeoKeyGTCitation), tagGeoASCIIParams, uint16(len(asciiParams)), 0},
			[4]uint16{uint16(GeoKeyProjectedCRS), 0, 1, userDefined},
		)
	}
	slices.SortFunc(keys, func(a, b [4]uint16) int {
		return int(a[0]) - int(b[0])
	})
	directory := []uint16{1, 1, 0, uint16(len(keys))}
	for _, key := range keys {
		directory = append(directory, key[:]...)
	}
	return directory, asciiParams
}

// applyHorizontalDifferencing applies TIFF predictor 2 to a single row of
// single-sample pixels.
func applyHorizontalDifferencing(row []byte, bytesPerSample int, byteOrder binary.ByteOrder) {
	n := len(row) / bytesPerSample
	for i := n - 1; i > 0; i-- {
		switch bytesPerSample {
		case 1:
			row[i] -= row[i-1]
		case 2:
			byteOrder.PutUint16(row[2*i:], byteOrder.Uint16(row[2*i:])-byteOrder.Uint16(row[2*(i-1):]))
		case 4:
			byteOrder.PutUint32(row[4*i:], byteOrder.Uint32(row[4*i:])-byteOrder.Uint32(row[4*(i-1):]))
		}
	}
}

// format returns the bits per sample and sample format of t.
func (t SampleType) format() (int, int) {
	switch t {
	case SampleTypeFloat64:
		return 64, sampleFormatFloat
	case SampleTypeUint8:
		return 8, sampleFormatUInt
	case SampleTypeUint16:
		return 16, sampleFormatUInt
	case SampleTypeInt16:
		return 16, sampleFormatInt
	case SampleTypeUint32:
		return 32, sampleFormatUInt
	case SampleTypeInt32:
		return 32, sampleFormatInt
	default:
		return 32, sampleFormatFloat
	}
}

// putter returns a function that encodes a single sample of type t.
func (t SampleType) putter(byteOrder binary.ByteOrder) func([]byte, float64) {
	switch t {
	case SampleTypeFloat64:
		return func(b []byte, v float64) { byteOrder.PutUint64(b, math.Float64bits(v)) }
	case SampleTypeUint8:
		return func(b []byte, v float64) { b[0] = uint8(v) }
	case SampleTypeUint16:
		return func(b []byte, v float64) { byteOrder.PutUint16(b, uint16(v)) }
	case SampleTypeInt16:
		return func(b []byte, v float64) { byteOrder.PutUint16(b, uint16(int16(v))) }
	case SampleTypeUint32:
		return func(b []byte, v float64) { byteOrder.PutUint32(b, uint32(v)) }
	case SampleTypeInt32:
		return func(b []byte, v float64) { byteOrder.PutUint32(b, uint32(int32(v))) }
	default:
		return func(b []byte, v float64) { byteOrder.PutUint32(b, math.Float32bits(float32(v))) }
	}
}

func appendUint16(byteOrder binary.ByteOrder, b []byte, v uint16) []byte {
	b = append(b, 0, 0)
	byteOrder.PutUint16(b[len(b)-2:], v)
	return b
}

func appendUint32(byteOrder binary.ByteOrder, b []byte, v uint32) []byte {
	b = append(b, 0, 0, 0, 0)
	byteOrder.PutUint32(b[len(b)-4:], v)
	return b
}

func appendUint64(byteOrder binary.ByteOrder, b []byte, v uint64) []byte {
	b = append(b, make([]byte, 8)...)
	byteOrder.PutUint64(b[len(b)-8:], v)
	return b
}
