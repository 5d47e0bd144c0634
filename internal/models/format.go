package models

import "strings"

// ImageFormat is one of the accepted image encodings.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
	FormatGIF  ImageFormat = "gif"
	FormatWebP ImageFormat = "webp"
	FormatBMP  ImageFormat = "bmp"
	FormatTIFF ImageFormat = "tiff"
)

// SupportedFormats lists the allow-list in display order.
var SupportedFormats = []ImageFormat{FormatPNG, FormatJPEG, FormatGIF, FormatWebP, FormatBMP, FormatTIFF}

var mediaTypes = map[ImageFormat]string{
	FormatPNG:  "image/png",
	FormatJPEG: "image/jpeg",
	FormatGIF:  "image/gif",
	FormatWebP: "image/webp",
	FormatBMP:  "image/bmp",
	FormatTIFF: "image/tiff",
}

// MediaType returns the MIME type for the format.
func (f ImageFormat) MediaType() string {
	return mediaTypes[f]
}

// Extension returns the canonical file extension including the dot.
func (f ImageFormat) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case "":
		return ""
	default:
		return "." + string(f)
	}
}

// Valid reports whether f is in the allow-list.
func (f ImageFormat) Valid() bool {
	_, ok := mediaTypes[f]
	return ok
}

// FormatFromMediaType maps a MIME type to a format. Parameters after ';'
// are ignored, as are the common non-canonical aliases.
func FormatFromMediaType(mediaType string) (ImageFormat, bool) {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case "image/jpg", "image/pjpeg":
		return FormatJPEG, true
	case "image/x-ms-bmp", "image/x-bmp":
		return FormatBMP, true
	}
	for f, t := range mediaTypes {
		if t == mt {
			return f, true
		}
	}
	return "", false
}

// FormatFromExtension maps a filename extension (with or without dot).
func FormatFromExtension(ext string) (ImageFormat, bool) {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "png":
		return FormatPNG, true
	case "jpg", "jpeg", "jpe", "jfif":
		return FormatJPEG, true
	case "gif":
		return FormatGIF, true
	case "webp":
		return FormatWebP, true
	case "bmp", "dib":
		return FormatBMP, true
	case "tif", "tiff":
		return FormatTIFF, true
	}
	return "", false
}
