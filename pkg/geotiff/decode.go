package geotiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Parse errors.
var (
	ErrInvalidHeader = errors.New("invalid TIFF header")
	ErrBigTIFF       = errors.New("BigTIFF is not supported")
	ErrTruncated     = errors.New("truncated TIFF data")
	ErrMissingTag    = errors.New("missing required TIFF tag")
	ErrUnsupported   = errors.New("unsupported TIFF layout")
	ErrTooLarge      = errors.New("raster exceeds sample limit")
)

// MaxSamples caps Width*Height*SamplesPerPixel for a decoded image. Every
// sample costs four bytes once decoded.
var MaxSamples = 1 << 28

// Image is a decoded raster. Every band holds Width*Height samples in
// row-major order, converted to float32 regardless of the stored type.
type Image struct {
	Width         int
	Height        int
	BitsPerSample int
	SampleFormat  int
	Photometric   int
	Bands         [][]float32
	NoData        *float64
	Geo           GeoInfo
}

// Band returns band i, or nil if the image has fewer bands.
func (img *Image) Band(i int) []float32 {
	if i < 0 || i >= len(img.Bands) {
		return nil
	}
	return img.Bands[i]
}

// At returns the sample of band b at pixel (x, y).
func (img *Image) At(b, x, y int) float32 {
	return img.Bands[b][y*img.Width+x]
}

// MaxSampleValue returns the largest value representable by the stored
// integer sample type, or 1 for floating point data.
func (img *Image) MaxSampleValue() float64 {
	if img.SampleFormat == SampleFormatFloat {
		return 1
	}
	if img.SampleFormat == SampleFormatInt {
		return math.Exp2(float64(img.BitsPerSample-1)) - 1
	}
	return math.Exp2(float64(img.BitsPerSample)) - 1
}

type field struct {
	datatype uint16
	count    uint32
	data     []byte
}

type decoder struct {
	data   []byte
	order  binary.ByteOrder
	fields map[uint16]field
}

// ParseFile parses a GeoTIFF file from disk.
func ParseFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading GeoTIFF file: %w", err)
	}
	return Parse(data)
}

// Parse decodes the first image of a TIFF file held in memory.
func Parse(data []byte) (*Image, error) {
	if len(data) < 8 {
		return nil, ErrTruncated
	}

	d := &decoder{data: data, fields: make(map[uint16]field)}
	switch string(data[0:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return nil, ErrInvalidHeader
	}

	switch d.order.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, ErrBigTIFF
	default:
		return nil, ErrInvalidHeader
	}

	if err := d.readIFD(d.order.Uint32(data[4:8])); err != nil {
		return nil, err
	}

	img, err := d.decodeImage()
	if err != nil {
		return nil, err
	}
	img.Geo, err = d.geoInfo()
	if err != nil {
		return nil, err
	}
	return img, nil
}

func (d *decoder) readIFD(offset uint32) error {
	off := int(offset)
	if off+2 > len(d.data) {
		return fmt.Errorf("%w: IFD offset %d", ErrTruncated, offset)
	}
	n := int(d.order.Uint16(d.data[off:]))
	off += 2
	if off+12*n > len(d.data) {
		return fmt.Errorf("%w: IFD with %d entries", ErrTruncated, n)
	}

	for i := 0; i < n; i++ {
		entry := d.data[off+12*i : off+12*i+12]
		tag := d.order.Uint16(entry[0:2])
		datatype := d.order.Uint16(entry[2:4])
		count := d.order.Uint32(entry[4:8])

		size := typeSize(datatype)
		if size == 0 {
			// Unknown field types are skipped, as readers are required to.
			continue
		}
		total := size * int(count)

		var raw []byte
		if total <= 4 {
			raw = entry[8 : 8+total]
		} else {
			valOff := int(d.order.Uint32(entry[8:12]))
			if valOff < 0 || valOff+total > len(d.data) {
				return fmt.Errorf("%w: tag %d value", ErrTruncated, tag)
			}
			raw = d.data[valOff : valOff+total]
		}
		d.fields[tag] = field{datatype: datatype, count: count, data: raw}
	}
	return nil
}

// uints returns an integer-typed field, or nil if absent.
func (d *decoder) uints(tag uint16) []uint {
	f, ok := d.fields[tag]
	if !ok {
		return nil
	}
	out := make([]uint, f.count)
	for i := range out {
		switch f.datatype {
		case DataType_Byte, DataType_Undefined:
			out[i] = uint(f.data[i])
		case DataType_Short:
			out[i] = uint(d.order.Uint16(f.data[2*i:]))
		case DataType_Long:
			out[i] = uint(d.order.Uint32(f.data[4*i:]))
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) firstUint(tag uint16, def uint) uint {
	if v := d.uints(tag); len(v) > 0 {
		return v[0]
	}
	return def
}

// floats returns a numeric field converted to float64, or nil if absent.
func (d *decoder) floats(tag uint16) []float64 {
	f, ok := d.fields[tag]
	if !ok {
		return nil
	}
	out := make([]float64, f.count)
	for i := range out {
		switch f.datatype {
		case DataType_Double:
			out[i] = math.Float64frombits(d.order.Uint64(f.data[8*i:]))
		case DataType_Float:
			out[i] = float64(math.Float32frombits(d.order.Uint32(f.data[4*i:])))
		case DataType_Rational:
			num := d.order.Uint32(f.data[8*i:])
			den := d.order.Uint32(f.data[8*i+4:])
			if den != 0 {
				out[i] = float64(num) / float64(den)
			}
		case DataType_Byte, DataType_Short, DataType_Long:
			return toFloats(d.uints(tag))
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) ascii(tag uint16) string {
	f, ok := d.fields[tag]
	if !ok || f.datatype != DataType_ASCII {
		return ""
	}
	return strings.TrimRight(string(f.data), "\x00")
}

func (d *decoder) decodeImage() (*Image, error) {
	width := int(d.firstUint(TagType_ImageWidth, 0))
	height := int(d.firstUint(TagType_ImageLength, 0))
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: image dimensions", ErrMissingTag)
	}

	spp := int(d.firstUint(TagType_SamplesPerPixel, 1))
	bits := d.uints(TagType_BitsPerSample)
	bps := 1
	if len(bits) > 0 {
		bps = int(bits[0])
		for _, b := range bits[1:] {
			if int(b) != bps {
				return nil, fmt.Errorf("%w: mixed bits per sample %v", ErrUnsupported, bits)
			}
		}
	}
	format := int(d.firstUint(TagType_SampleFormat, SampleFormatUint))
	if err := checkSampleType(bps, format); err != nil {
		return nil, err
	}

	compression := int(d.firstUint(TagType_Compression, CompressionNone))
	predictor := int(d.firstUint(TagType_Predictor, PredictorNone))
	switch {
	case predictor == PredictorNone:
	case predictor == PredictorHorizontal && format != SampleFormatFloat:
	default:
		return nil, fmt.Errorf("%w: predictor %d for sample format %d", ErrUnsupported, predictor, format)
	}
	planar := int(d.firstUint(TagType_PlanarConfiguration, 1))

	if spp <= 0 || height > MaxSamples/width || spp > MaxSamples/(width*height) {
		return nil, fmt.Errorf("%w: %dx%d with %d samples per pixel", ErrTooLarge, width, height, spp)
	}

	img := &Image{
		Width:         width,
		Height:        height,
		BitsPerSample: bps,
		SampleFormat:  format,
		Photometric:   int(d.firstUint(TagType_PhotometricInterpretation, PhotometricMinIsBlack)),
	}
	if nd := strings.TrimSpace(d.ascii(TagType_GDALNoData)); nd != "" {
		if v, err := strconv.ParseFloat(nd, 64); err == nil {
			img.NoData = &v
		}
	}

	var chunkW, chunkH int
	var offsets, counts []uint
	if _, tiled := d.fields[TagType_TileWidth]; tiled {
		chunkW = int(d.firstUint(TagType_TileWidth, 0))
		chunkH = int(d.firstUint(TagType_TileLength, 0))
		offsets = d.uints(TagType_TileOffsets)
		counts = d.uints(TagType_TileByteCounts)
	} else {
		chunkW = width
		chunkH = int(d.firstUint(TagType_RowsPerStrip, uint(height)))
		if chunkH > height {
			chunkH = height
		}
		offsets = d.uints(TagType_StripOffsets)
		counts = d.uints(TagType_StripByteCounts)
	}
	if chunkW == 0 || chunkH == 0 {
		return nil, fmt.Errorf("%w: chunk size", ErrMissingTag)
	}

	across := (width + chunkW - 1) / chunkW
	down := (height + chunkH - 1) / chunkH
	planes, chunkSamples := 1, spp
	if planar == 2 {
		planes, chunkSamples = spp, 1
	}
	need := across * down * planes
	if len(offsets) < need || len(counts) < need {
		return nil, fmt.Errorf("%w: %d chunk offsets, need %d", ErrMissingTag, len(offsets), need)
	}

	bytesPerSample := bps / 8
	rowBytes := chunkW * chunkSamples * bytesPerSample

	// Every chunk must be present before the bands are allocated
	for idx := 0; idx < need; idx++ {
		start, n := offsets[idx], counts[idx]
		if n == 0 || start > uint(len(d.data)) || n > uint(len(d.data))-start {
			return nil, fmt.Errorf("%w: chunk %d", ErrTruncated, idx)
		}
		if compression == CompressionNone {
			rows := min(chunkH, height-(idx%(across*down))/across*chunkH)
			if int(n) < rows*rowBytes {
				return nil, fmt.Errorf("%w: chunk %d has %d bytes, need %d", ErrTruncated, idx, n, rows*rowBytes)
			}
		}
	}

	img.Bands = make([][]float32, spp)
	for b := range img.Bands {
		img.Bands[b] = make([]float32, width*height)
	}

	for p := 0; p < planes; p++ {
		for i := 0; i < across*down; i++ {
			idx := p*across*down + i
			start, n := int(offsets[idx]), int(counts[idx])
			cx := (i % across) * chunkW
			cy := (i / across) * chunkH
			rows := min(chunkH, height-cy)

			buf, err := decompress(compression, d.data[start:start+n], rows*rowBytes)
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", idx, err)
			}
			if len(buf) < rows*rowBytes {
				return nil, fmt.Errorf("%w: chunk %d has %d bytes, need %d", ErrTruncated, idx, len(buf), rows*rowBytes)
			}
			if predictor == PredictorHorizontal {
				if compression == CompressionNone {
					// buf aliases the input
					buf = append([]byte(nil), buf[:rows*rowBytes]...)
				}
				undoHorizontalPredictor(buf[:rows*rowBytes], rowBytes, chunkSamples, bytesPerSample, d.order)
			}

			for y := 0; y < rows; y++ {
				row := buf[y*rowBytes:]
				gy := cy + y
				for x := 0; x < chunkW && cx+x < width; x++ {
					dst := gy*width + cx + x
					for s := 0; s < chunkSamples; s++ {
						off := (x*chunkSamples + s) * bytesPerSample
						img.Bands[p+s][dst] = d.sample(row[off:], bps, format)
					}
				}
			}
		}
	}

	return img, nil
}

func checkSampleType(bps, format int) error {
	switch format {
	case SampleFormatUint, SampleFormatInt:
		if bps == 8 || bps == 16 || bps == 32 {
			return nil
		}
	case SampleFormatFloat:
		if bps == 32 || bps == 64 {
			return nil
		}
	}
	return fmt.Errorf("%w: %d-bit samples with format %d", ErrUnsupported, bps, format)
}

func (d *decoder) sample(b []byte, bps, format int) float32 {
	switch bps {
	case 8:
		if format == SampleFormatInt {
			return float32(int8(b[0]))
		}
		return float32(b[0])
	case 16:
		v := d.order.Uint16(b)
		if format == SampleFormatInt {
			return float32(int16(v))
		}
		return float32(v)
	case 32:
		v := d.order.Uint32(b)
		switch format {
		case SampleFormatFloat:
			return math.Float32frombits(v)
		case SampleFormatInt:
			return float32(int32(v))
		}
		return float32(v)
	case 64:
		return float32(math.Float64frombits(d.order.Uint64(b)))
	}
	return 0
}

func toFloats(v []uint) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
