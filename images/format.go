package images

// ImageFormat represents supported image container formats.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
	FormatGIF  ImageFormat = "gif"
	FormatWebP ImageFormat = "webp"
	FormatBMP  ImageFormat = "bmp"
	FormatTIFF ImageFormat = "tiff"
)

// mimeFormats maps sniffed MIME types onto the containers we have decoders for.
var mimeFormats = map[string]ImageFormat{
	"image/jpeg": FormatJPEG,
	"image/png":  FormatPNG,
	"image/gif":  FormatGIF,
	"image/webp": FormatWebP,
	"image/bmp":  FormatBMP,
	"image/tiff": FormatTIFF,
}
