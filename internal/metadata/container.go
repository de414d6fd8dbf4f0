package metadata

import (
	"bytes"
	"encoding/binary"
)

var (
	pngSignature = []byte("\x89PNG\r\n\x1a\n")
	riffMagic    = []byte("RIFF")
	webpMagic    = []byte("WEBP")
)

// exifPayload returns the bytes goexif should decode. PNG and WebP keep EXIF
// in their own chunks ("eXIf" and "EXIF"), which goexif cannot locate; their
// payload is returned as raw TIFF. Every other container is returned as is.
// A PNG or WebP without an EXIF chunk yields nil.
func exifPayload(data []byte) []byte {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return pngEXIF(data[len(pngSignature):])
	case len(data) >= 12 && bytes.Equal(data[:4], riffMagic) && bytes.Equal(data[8:12], webpMagic):
		return webpEXIF(data[12:])
	default:
		return data
	}
}

// pngEXIF walks length/type/data/crc chunks until IEND.
func pngEXIF(chunks []byte) []byte {
	for len(chunks) >= 12 {
		n := binary.BigEndian.Uint32(chunks[0:4])
		typ := string(chunks[4:8])
		if uint64(n)+12 > uint64(len(chunks)) {
			return nil
		}
		switch typ {
		case "eXIf":
			return chunks[8 : 8+n]
		case "IEND":
			return nil
		}
		chunks = chunks[12+n:]
	}
	return nil
}

// webpEXIF walks little-endian RIFF chunks; odd sizes carry one pad byte.
func webpEXIF(chunks []byte) []byte {
	for len(chunks) >= 8 {
		typ := string(chunks[0:4])
		n := uint64(binary.LittleEndian.Uint32(chunks[4:8]))
		if n+8 > uint64(len(chunks)) {
			return nil
		}
		if typ == "EXIF" {
			return chunks[8 : 8+n]
		}
		next := 8 + n + n&1
		if next > uint64(len(chunks)) {
			return nil
		}
		chunks = chunks[next:]
	}
	return nil
}
