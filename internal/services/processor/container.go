package processor

import (
	"bytes"
	"encoding/binary"

	"github.com/phambaophuc/image-relay/internal/models"
)

// scanRegions returns the parts of an encoded image that can carry a hidden
// payload: metadata chunks and anything after the format's end marker.
// Pixel data is never included, so arbitrary sample values cannot trip the
// marker search. A structure that stops parsing early yields the unparsed
// remainder as trailing data.
func scanRegions(data []byte, format models.ImageFormat) [][]byte {
	switch format {
	case models.FormatPNG:
		return pngRegions(data)
	case models.FormatJPEG:
		return jpegRegions(data)
	case models.FormatGIF:
		return gifRegions(data)
	case models.FormatWebP:
		return webpRegions(data)
	case models.FormatBMP:
		return bmpRegions(data)
	default:
		// TIFF places IFDs and strips at arbitrary offsets; there is no
		// trailer to anchor on.
		return nil
	}
}

var pngMetadataChunks = map[string]bool{
	"tEXt": true, "zTXt": true, "iTXt": true, "eXIf": true,
}

func pngRegions(data []byte) [][]byte {
	const sigLen = 8
	if len(data) < sigLen {
		return [][]byte{data}
	}
	var regions [][]byte
	pos := sigLen
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos:]))
		kind := string(data[pos+4 : pos+8])
		end := pos + 12 + length
		if length < 0 || end > len(data) || end < pos {
			return append(regions, data[pos:])
		}
		if pngMetadataChunks[kind] {
			regions = append(regions, data[pos+8:pos+8+length])
		}
		if kind == "IEND" {
			return appendTrailing(regions, data[end:])
		}
		pos = end
	}
	return appendTrailing(regions, data[pos:])
}

func jpegRegions(data []byte) [][]byte {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return [][]byte{data}
	}
	var regions [][]byte
	pos := 2
	for pos < len(data) {
		if data[pos] != 0xFF {
			return append(regions, data[pos:])
		}
		for pos < len(data) && data[pos] == 0xFF {
			pos++
		}
		if pos >= len(data) {
			break
		}
		marker := data[pos]
		pos++

		switch {
		case marker == 0xD9:
			return appendTrailing(regions, data[pos:])
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			continue
		}

		if pos+2 > len(data) {
			return append(regions, data[pos:])
		}
		length := int(binary.BigEndian.Uint16(data[pos:]))
		if length < 2 || pos+length > len(data) {
			return append(regions, data[pos:])
		}
		payload := data[pos+2 : pos+length]
		pos += length

		if (marker >= 0xE0 && marker <= 0xEF) || marker == 0xFE {
			regions = append(regions, payload)
		}
		if marker == 0xDA {
			pos = skipEntropyCoded(data, pos)
		}
	}
	return regions
}

// skipEntropyCoded advances past scan data to the next real marker. Inside
// the scan 0xFF is always followed by a stuffed zero or a restart marker.
func skipEntropyCoded(data []byte, pos int) int {
	for pos+1 < len(data) {
		if data[pos] == 0xFF {
			next := data[pos+1]
			if next != 0x00 && !(next >= 0xD0 && next <= 0xD7) && next != 0xFF {
				return pos
			}
		}
		pos++
	}
	return len(data)
}

func gifRegions(data []byte) [][]byte {
	const headerLen = 13
	if len(data) < headerLen {
		return [][]byte{data}
	}
	pos := headerLen
	if flags := data[10]; flags&0x80 != 0 {
		pos += 3 << ((flags & 0x07) + 1)
	}

	var regions [][]byte
	for pos < len(data) {
		switch data[pos] {
		case 0x3B:
			return appendTrailing(regions, data[pos+1:])
		case 0x21:
			if pos+2 > len(data) {
				return append(regions, data[pos:])
			}
			label := data[pos+1]
			body, next, ok := gifSubBlocks(data, pos+2)
			if !ok {
				return append(regions, data[pos:])
			}
			if label == 0xFE || label == 0xFF {
				regions = append(regions, body)
			}
			pos = next
		case 0x2C:
			if pos+10 > len(data) {
				return append(regions, data[pos:])
			}
			flags := data[pos+9]
			pos += 10
			if flags&0x80 != 0 {
				pos += 3 << ((flags & 0x07) + 1)
			}
			// LZW minimum code size precedes the pixel sub-blocks.
			_, next, ok := gifSubBlocks(data, pos+1)
			if !ok {
				return append(regions, data[min(pos, len(data)):])
			}
			pos = next
		default:
			return append(regions, data[pos:])
		}
	}
	return regions
}

// gifSubBlocks concatenates a chain of data sub-blocks starting at pos and
// returns the offset just past the zero-length terminator.
func gifSubBlocks(data []byte, pos int) ([]byte, int, bool) {
	var body bytes.Buffer
	for pos < len(data) {
		size := int(data[pos])
		pos++
		if size == 0 {
			return body.Bytes(), pos, true
		}
		if pos+size > len(data) {
			return nil, pos, false
		}
		body.Write(data[pos : pos+size])
		pos += size
	}
	return nil, pos, false
}

func webpRegions(data []byte) [][]byte {
	const headerLen = 12
	if len(data) < headerLen {
		return [][]byte{data}
	}
	end := 8 + int(binary.LittleEndian.Uint32(data[4:8]))
	if end > len(data) || end < headerLen {
		end = len(data)
	}

	var regions [][]byte
	pos := headerLen
	for pos+8 <= end {
		kind := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		body := pos + 8
		if size < 0 || body+size > end {
			regions = append(regions, data[pos:end])
			break
		}
		if kind == "EXIF" || kind == "XMP " {
			regions = append(regions, data[body:body+size])
		}
		pos = body + size + size&1
	}
	return appendTrailing(regions, data[end:])
}

func bmpRegions(data []byte) [][]byte {
	if len(data) < 6 {
		return [][]byte{data}
	}
	size := int(binary.LittleEndian.Uint32(data[2:6]))
	if size < 14 || size >= len(data) {
		return nil
	}
	return [][]byte{data[size:]}
}

func appendTrailing(regions [][]byte, trailing []byte) [][]byte {
	if len(trailing) == 0 {
		return regions
	}
	return append(regions, trailing)
}
