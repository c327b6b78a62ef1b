// Package geotiff reads and writes the subset of TIFF/GeoTIFF used for
// elevation models and orthophotos: classic (non-Big) TIFF, strips or tiles,
// integer and floating point samples, and the GeoTIFF geo-referencing tags.
package geotiff

// TIFF field types.
const (
	DataType_Byte      = 1
	DataType_ASCII     = 2
	DataType_Short     = 3
	DataType_Long      = 4
	DataType_Rational  = 5
	DataType_SByte     = 6
	DataType_Undefined = 7
	DataType_SShort    = 8
	DataType_SLong     = 9
	DataType_SRational = 10
	DataType_Float     = 11
	DataType_Double    = 12
)

// Baseline and extension tags.
const (
	TagType_ImageWidth                = 256
	TagType_ImageLength               = 257
	TagType_BitsPerSample             = 258
	TagType_Compression               = 259
	TagType_PhotometricInterpretation = 262
	TagType_StripOffsets              = 273
	TagType_SamplesPerPixel           = 277
	TagType_RowsPerStrip              = 278
	TagType_StripByteCounts           = 279
	TagType_XResolution               = 282
	TagType_YResolution               = 283
	TagType_PlanarConfiguration       = 284
	TagType_ResolutionUnit            = 296
	TagType_Predictor                 = 317
	TagType_TileWidth                 = 322
	TagType_TileLength                = 323
	TagType_TileOffsets               = 324
	TagType_TileByteCounts            = 325
	TagType_ExtraSamples              = 338
	TagType_SampleFormat              = 339

	// GeoTIFF Tags
	TagType_ModelPixelScaleTag     = 33550
	TagType_ModelTiepointTag       = 33922
	TagType_ModelTransformationTag = 34264
	TagType_GeoKeyDirectoryTag     = 34735
	TagType_GeoDoubleParamsTag     = 34736
	TagType_GeoAsciiParamsTag      = 34737

	// GDAL private tags
	TagType_GDALNoData = 42113
)

// Compression schemes.
const (
	CompressionNone       = 1
	CompressionLZW        = 5
	CompressionDeflate    = 8
	CompressionPackBits   = 32773
	compressionDeflateOld = 32946
)

// Sample formats.
const (
	SampleFormatUint  = 1
	SampleFormatInt   = 2
	SampleFormatFloat = 3
)

// Photometric interpretations.
const (
	PhotometricMinIsBlack = 1
	PhotometricRGB        = 2
)

// Predictors.
const (
	PredictorNone       = 1
	PredictorHorizontal = 2
)

// GeoKey ids used by this package.
const (
	GeoKey_GTModelType     = 1024
	GeoKey_GTRasterType    = 1025
	GeoKey_GTCitation      = 1026
	GeoKey_ProjectedCSType = 3072
	GeoKey_PCSCitation     = 3073
)

func typeSize(datatype uint16) int {
	switch datatype {
	case DataType_Byte, DataType_ASCII, DataType_SByte, DataType_Undefined:
		return 1
	case DataType_Short, DataType_SShort:
		return 2
	case DataType_Long, DataType_SLong, DataType_Float:
		return 4
	case DataType_Rational, DataType_SRational, DataType_Double:
		return 8
	default:
		return 0
	}
}
