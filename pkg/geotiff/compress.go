package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/image/tiff/lzw"
)

// decompress expands one strip or tile, reading at most limit bytes of
// output. Uncompressed chunks alias raw.
func decompress(compression int, raw []byte, limit int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return raw, nil
	case CompressionLZW:
		r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer r.Close()
		return io.ReadAll(io.LimitReader(r, int64(limit)))
	case CompressionDeflate, compressionDeflateOld:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer r.Close()
		return io.ReadAll(io.LimitReader(r, int64(limit)))
	case CompressionPackBits:
		return unpackBits(raw)
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, compression)
	}
}

// unpackBits decodes Apple PackBits run-length data.
func unpackBits(src []byte) ([]byte, error) {
	var dst []byte
	for i := 0; i < len(src); {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			end := i + n + 1
			if end > len(src) {
				return nil, fmt.Errorf("%w: packbits literal run", ErrTruncated)
			}
			dst = append(dst, src[i:end]...)
			i = end
		case n > -128:
			if i >= len(src) {
				return nil, fmt.Errorf("%w: packbits repeat run", ErrTruncated)
			}
			for k := 0; k < 1-n; k++ {
				dst = append(dst, src[i])
			}
			i++
		}
		// n == -128 is a no-op.
	}
	return dst, nil
}

// undoHorizontalPredictor reverses TIFF predictor 2 in place. Each row holds
// samplesPerPixel interleaved integer samples of the given byte width.
func undoHorizontalPredictor(buf []byte, rowBytes, samplesPerPixel, bytesPerSample int, order binary.ByteOrder) {
	stride := samplesPerPixel * bytesPerSample
	for row := 0; row+rowBytes <= len(buf); row += rowBytes {
		r := buf[row : row+rowBytes]
		for i := stride; i+bytesPerSample <= len(r); i += bytesPerSample {
			prev := r[i-stride:]
			switch bytesPerSample {
			case 1:
				r[i] += prev[0]
			case 2:
				order.PutUint16(r[i:], order.Uint16(r[i:])+order.Uint16(prev))
			case 4:
				order.PutUint32(r[i:], order.Uint32(r[i:])+order.Uint32(prev))
			}
		}
	}
}

// applyHorizontalPredictor is the inverse of undoHorizontalPredictor.
func applyHorizontalPredictor(buf []byte, rowBytes, samplesPerPixel, bytesPerSample int, order binary.ByteOrder) {
	stride := samplesPerPixel * bytesPerSample
	for row := 0; row+rowBytes <= len(buf); row += rowBytes {
		r := buf[row : row+rowBytes]
		for i := len(r) - bytesPerSample; i >= stride; i -= bytesPerSample {
			prev := r[i-stride:]
			switch bytesPerSample {
			case 1:
				r[i] -= prev[0]
			case 2:
				order.PutUint16(r[i:], order.Uint16(r[i:])-order.Uint16(prev))
			case 4:
				order.PutUint32(r[i:], order.Uint32(r[i:])-order.Uint32(prev))
			}
		}
	}
}
