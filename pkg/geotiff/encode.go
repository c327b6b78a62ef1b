package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

var enc = binary.LittleEndian

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

type byTag []ifdEntry

func (d byTag) Len() int           { return len(d) }
func (d byTag) Less(i, j int) bool { return d[i].tag < d[j].tag }
func (d byTag) Swap(i, j int)      { d[i], d[j] = d[j], d[i] }

// EncodeOptions controls the layout of encoded files.
type EncodeOptions struct {
	Compression int // CompressionNone (default) or CompressionDeflate
	Predictor   int // PredictorNone (default) or PredictorHorizontal for integer samples
}

// EncodeFile writes img to path, creating parent directories as needed.
func EncodeFile(path string, img *Image, opts *EncodeOptions) error {
	var buf bytes.Buffer
	if err := Encode(&buf, img, opts); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Encode writes img to w as a little-endian, single-strip TIFF carrying the
// image's geo tags. Supported sample types are 8/16-bit integers and 32-bit
// floats; BitsPerSample 0 means 32-bit float.
func Encode(w io.Writer, img *Image, opts *EncodeOptions) error {
	if opts == nil {
		opts = &EncodeOptions{}
	}
	bps, format := img.BitsPerSample, img.SampleFormat
	if bps == 0 {
		bps, format = 32, SampleFormatFloat
	}
	if format == 0 {
		format = SampleFormatUint
	}
	if bps == 64 || checkSampleType(bps, format) != nil {
		return fmt.Errorf("%w: encoding %d-bit samples with format %d", ErrUnsupported, bps, format)
	}
	spp := len(img.Bands)
	if spp == 0 || img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("geotiff: empty image")
	}
	compression := opts.Compression
	if compression == 0 {
		compression = CompressionNone
	}
	if compression != CompressionNone && compression != CompressionDeflate {
		return fmt.Errorf("%w: encoding compression %d", ErrUnsupported, compression)
	}
	predictor := opts.Predictor
	if predictor == 0 {
		predictor = PredictorNone
	}
	if predictor == PredictorHorizontal && format == SampleFormatFloat {
		return fmt.Errorf("%w: horizontal predictor on float samples", ErrUnsupported)
	}

	// 1. Pixel data, chunky interleaved.
	bytesPerSample := bps / 8
	rowBytes := img.Width * spp * bytesPerSample
	pixels := make([]byte, rowBytes*img.Height)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			for s := 0; s < spp; s++ {
				off := y*rowBytes + (x*spp+s)*bytesPerSample
				putSample(pixels[off:], img.Bands[s][y*img.Width+x], bps, format)
			}
		}
	}
	if predictor == PredictorHorizontal {
		applyHorizontalPredictor(pixels, rowBytes, spp, bytesPerSample, enc)
	}
	if compression == CompressionDeflate {
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		if _, err := zw.Write(pixels); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		pixels = zbuf.Bytes()
	}

	// 2. IFD entries.
	var entries []ifdEntry
	addEntry := func(tag uint16, datatype uint16, count uint32, data []byte) {
		entries = append(entries, ifdEntry{tag, datatype, count, data})
	}

	photometric := img.Photometric
	if photometric == 0 {
		photometric = PhotometricMinIsBlack
		if spp >= 3 {
			photometric = PhotometricRGB
		}
	}

	addEntry(TagType_ImageWidth, DataType_Long, 1, enc32(uint32(img.Width)))
	addEntry(TagType_ImageLength, DataType_Long, 1, enc32(uint32(img.Height)))
	addEntry(TagType_BitsPerSample, DataType_Short, uint32(spp), enc16s(repeat16(uint16(bps), spp)))
	addEntry(TagType_Compression, DataType_Short, 1, enc16(uint16(compression)))
	addEntry(TagType_PhotometricInterpretation, DataType_Short, 1, enc16(uint16(photometric)))
	addEntry(TagType_SamplesPerPixel, DataType_Short, 1, enc16(uint16(spp)))
	addEntry(TagType_RowsPerStrip, DataType_Long, 1, enc32(uint32(img.Height)))
	addEntry(TagType_PlanarConfiguration, DataType_Short, 1, enc16(1))
	addEntry(TagType_SampleFormat, DataType_Short, uint32(spp), enc16s(repeat16(uint16(format), spp)))
	if predictor != PredictorNone {
		addEntry(TagType_Predictor, DataType_Short, 1, enc16(uint16(predictor)))
	}
	if extra := extraSamples(photometric, spp); len(extra) > 0 {
		addEntry(TagType_ExtraSamples, DataType_Short, uint32(len(extra)), enc16s(extra))
	}

	// Placeholders, patched once the pixel offset is known.
	addEntry(TagType_StripOffsets, DataType_Long, 1, make([]byte, 4))
	addEntry(TagType_StripByteCounts, DataType_Long, 1, enc32(uint32(len(pixels))))

	// GeoTags
	geo := img.Geo
	if len(geo.PixelScale) > 0 {
		addEntry(TagType_ModelPixelScaleTag, DataType_Double, uint32(len(geo.PixelScale)), encDoubles(geo.PixelScale))
	}
	if len(geo.Tiepoint) > 0 {
		addEntry(TagType_ModelTiepointTag, DataType_Double, uint32(len(geo.Tiepoint)), encDoubles(geo.Tiepoint))
	}
	if len(geo.Transformation) > 0 {
		addEntry(TagType_ModelTransformationTag, DataType_Double, uint32(len(geo.Transformation)), encDoubles(geo.Transformation))
	}
	if len(geo.Keys) > 0 {
		dir, ascii, doubles := encodeGeoKeys(geo.Keys)
		addEntry(TagType_GeoKeyDirectoryTag, DataType_Short, uint32(len(dir)), enc16s(dir))
		if len(doubles) > 0 {
			addEntry(TagType_GeoDoubleParamsTag, DataType_Double, uint32(len(doubles)), encDoubles(doubles))
		}
		if ascii != "" {
			b := append([]byte(ascii), 0)
			addEntry(TagType_GeoAsciiParamsTag, DataType_ASCII, uint32(len(b)), b)
		}
	}
	if img.NoData != nil {
		b := append([]byte(strconv.FormatFloat(*img.NoData, 'g', -1, 64)), 0)
		addEntry(TagType_GDALNoData, DataType_ASCII, uint32(len(b)), b)
	}

	sort.Sort(byTag(entries))

	// 3. Layout: header (8) | IFD | out-of-line values | pixels.
	ifdSize := 2 + 12*len(entries) + 4
	valueDataOffset := 8 + ifdSize

	var largeDataBuf bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if len(e.data) > 4 {
			currentOffset := uint32(valueDataOffset + largeDataBuf.Len())
			largeDataBuf.Write(e.data)
			if largeDataBuf.Len()%2 == 1 {
				largeDataBuf.WriteByte(0) // keep offsets word aligned
			}
			e.data = enc32(currentOffset)
		}
	}

	pixelsOffset := uint32(valueDataOffset + largeDataBuf.Len())
	for i := range entries {
		if entries[i].tag == TagType_StripOffsets {
			entries[i].data = enc32(pixelsOffset)
		}
	}

	// 4. Write everything out.
	header := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	if _, err := w.Write(header); err != nil {
		return err
	}
	if err := binary.Write(w, enc, uint16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		var raw [12]byte
		enc.PutUint16(raw[0:], e.tag)
		enc.PutUint16(raw[2:], e.datatype)
		enc.PutUint32(raw[4:], e.count)
		copy(raw[8:], e.data)
		if _, err := w.Write(raw[:]); err != nil {
			return err
		}
	}
	if err := binary.Write(w, enc, uint32(0)); err != nil {
		return err
	}
	if _, err := largeDataBuf.WriteTo(w); err != nil {
		return err
	}
	_, err := w.Write(pixels)
	return err
}

func putSample(b []byte, v float32, bps, format int) {
	switch bps {
	case 8:
		if format == SampleFormatInt {
			b[0] = byte(int8(clamp(v, math.MinInt8, math.MaxInt8)))
		} else {
			b[0] = uint8(clamp(v, 0, math.MaxUint8))
		}
	case 16:
		if format == SampleFormatInt {
			enc.PutUint16(b, uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
		} else {
			enc.PutUint16(b, uint16(clamp(v, 0, math.MaxUint16)))
		}
	case 32:
		switch format {
		case SampleFormatFloat:
			enc.PutUint32(b, math.Float32bits(v))
		case SampleFormatInt:
			enc.PutUint32(b, uint32(int32(v)))
		default:
			enc.PutUint32(b, uint32(v))
		}
	}
}

func clamp(v float32, lo, hi float64) float64 {
	f := math.Round(float64(v))
	return math.Max(lo, math.Min(hi, f))
}

func extraSamples(photometric, spp int) []uint16 {
	color := 1
	if photometric == PhotometricRGB {
		color = 3
	}
	if spp <= color {
		return nil
	}
	extra := make([]uint16, spp-color)
	extra[0] = 2 // unassociated alpha
	return extra
}

// encodeGeoKeys builds the GeoKeyDirectory and its parameter blocks.
func encodeGeoKeys(keys map[uint16]GeoKey) (dir []uint16, ascii string, doubles []float64) {
	ids := make([]int, 0, len(keys))
	for id := range keys {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	dir = []uint16{1, 1, 0, uint16(len(ids))}
	var extraShorts []uint16
	type pending struct{ entry, offset int }
	var shortRefs []pending

	for _, id := range ids {
		k := keys[uint16(id)]
		switch {
		case k.ASCII != "":
			dir = append(dir, k.ID, TagType_GeoAsciiParamsTag, uint16(len(k.ASCII)+1), uint16(len(ascii)))
			ascii += k.ASCII + "|"
		case len(k.Doubles) > 0:
			dir = append(dir, k.ID, TagType_GeoDoubleParamsTag, uint16(len(k.Doubles)), uint16(len(doubles)))
			doubles = append(doubles, k.Doubles...)
		case len(k.Short) == 1:
			dir = append(dir, k.ID, 0, 1, k.Short[0])
		case len(k.Short) > 1:
			shortRefs = append(shortRefs, pending{entry: len(dir), offset: len(extraShorts)})
			dir = append(dir, k.ID, TagType_GeoKeyDirectoryTag, uint16(len(k.Short)), 0)
			extraShorts = append(extraShorts, k.Short...)
		}
	}
	for _, ref := range shortRefs {
		dir[ref.entry+3] = uint16(len(dir) + ref.offset)
	}
	dir = append(dir, extraShorts...)
	return dir, ascii, doubles
}

// Helpers

func enc16(v uint16) []byte {
	b := make([]byte, 2)
	enc.PutUint16(b, v)
	return b
}

func enc32(v uint32) []byte {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return b
}

func enc16s(vs []uint16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return b
}

func encDoubles(vs []float64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		enc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

func repeat16(v uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}
