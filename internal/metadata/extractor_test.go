package metadata

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 80, B: 40, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solidImage(w, h), nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// exifSegment builds a little-endian APP1 segment with the given ASCII
// IFD0 tags.
func exifSegment(tags map[uint16]string) []byte {
	ids := []uint16{0x010F, 0x0110, 0x0131}
	var entries []uint16
	for _, id := range ids {
		if _, ok := tags[id]; ok {
			entries = append(entries, id)
		}
	}

	le := binary.LittleEndian
	tiff := []byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}
	dataOffset := 8 + 2 + 12*len(entries) + 4

	ifd := make([]byte, 2, 2+12*len(entries)+4)
	le.PutUint16(ifd, uint16(len(entries)))
	var data []byte
	for _, id := range entries {
		value := append([]byte(tags[id]), 0)
		entry := make([]byte, 12)
		le.PutUint16(entry[0:], id)
		le.PutUint16(entry[2:], 2) // ASCII
		le.PutUint32(entry[4:], uint32(len(value)))
		if len(value) <= 4 {
			copy(entry[8:], value)
		} else {
			le.PutUint32(entry[8:], uint32(dataOffset+len(data)))
			data = append(data, value...)
		}
		ifd = append(ifd, entry...)
	}
	ifd = append(ifd, 0, 0, 0, 0)

	payload := append([]byte("Exif\x00\x00"), tiff...)
	payload = append(payload, ifd...)
	payload = append(payload, data...)

	segment := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(segment[2:], uint16(len(payload)+2))
	return append(segment, payload...)
}

func withEXIF(jpg []byte, tags map[uint16]string) []byte {
	out := append([]byte{}, jpg[:2]...)
	out = append(out, exifSegment(tags)...)
	return append(out, jpg[2:]...)
}

func TestExtractJPEGWithoutEXIF(t *testing.T) {
	md, err := NewExtractor().Extract(encodeJPEG(t, 640, 480))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if md.HasEXIF || md.CameraMakeModel != nil || md.SoftwareTag != nil {
		t.Fatalf("unexpected exif fields: %+v", md)
	}
	if md.Width != 640 || md.Height != 480 || md.Format != "JPEG" {
		t.Fatalf("unexpected structure: %+v", md)
	}
}

func TestExtractJPEGWithEXIF(t *testing.T) {
	data := withEXIF(encodeJPEG(t, 320, 200), map[uint16]string{
		0x010F: "Canon",
		0x0110: "EOS R5",
		0x0131: "Adobe Photoshop 25.0",
	})
	md, err := NewExtractor().Extract(data)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !md.HasEXIF {
		t.Fatalf("expected exif to be detected")
	}
	if md.CameraMakeModel == nil || *md.CameraMakeModel != "Canon EOS R5" {
		t.Fatalf("camera = %v", md.CameraMakeModel)
	}
	if md.SoftwareTag == nil || *md.SoftwareTag != "Adobe Photoshop 25.0" {
		t.Fatalf("software = %v", md.SoftwareTag)
	}
	if md.Width != 320 || md.Height != 200 {
		t.Fatalf("dimensions = %dx%d", md.Width, md.Height)
	}
}

func TestExtractMakeOnly(t *testing.T) {
	data := withEXIF(encodeJPEG(t, 64, 64), map[uint16]string{0x010F: "NIKON CORPORATION"})
	md, err := NewExtractor().Extract(data)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if md.CameraMakeModel == nil || *md.CameraMakeModel != "NIKON CORPORATION" {
		t.Fatalf("camera = %v", md.CameraMakeModel)
	}
	if md.SoftwareTag != nil {
		t.Fatalf("software = %v, want nil", *md.SoftwareTag)
	}
}

func TestExtractPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(300, 260)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	md, err := NewExtractor().Extract(buf.Bytes())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if md.Format != "PNG" || md.HasEXIF || md.Width != 300 || md.Height != 260 {
		t.Fatalf("unexpected metadata: %+v", md)
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":   nil,
		"garbage": []byte("definitely not an image"),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := NewExtractor().Extract(data); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

// tiffEXIF is the raw TIFF body of exifSegment, as stored in PNG and WebP
// EXIF chunks.
func tiffEXIF(tags map[uint16]string) []byte {
	return exifSegment(tags)[len("\xFF\xE1\x00\x00Exif\x00\x00"):]
}

func pngChunk(typ string, body []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
	chunk := append([]byte(typ), body...)
	out = append(out, chunk...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(chunk))
}

// pngWithEXIF inserts an eXIf chunk right after IHDR.
func pngWithEXIF(t *testing.T, w, h int, tiff []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(w, h)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	raw := buf.Bytes()
	const afterIHDR = 8 + 25
	out := append([]byte{}, raw[:afterIHDR]...)
	out = append(out, pngChunk("eXIf", tiff)...)
	return append(out, raw[afterIHDR:]...)
}

func riffChunk(typ string, body []byte) []byte {
	out := append([]byte(typ), binary.LittleEndian.AppendUint32(nil, uint32(len(body)))...)
	out = append(out, body...)
	if len(body)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

// webpWithEXIF builds an extended WebP header (VP8X) followed by an odd-sized
// ICCP chunk and an EXIF chunk. Only the header is decodable, which is all
// metadata extraction reads.
func webpWithEXIF(w, h int, exifBody []byte) []byte {
	vp8x := make([]byte, 10)
	vp8x[0] = 1 << 3 // EXIF present
	vp8x[4], vp8x[5], vp8x[6] = byte(w-1), byte((w-1)>>8), byte((w-1)>>16)
	vp8x[7], vp8x[8], vp8x[9] = byte(h-1), byte((h-1)>>8), byte((h-1)>>16)

	body := []byte("WEBP")
	body = append(body, riffChunk("VP8X", vp8x)...)
	body = append(body, riffChunk("ICCP", []byte{1, 2, 3})...)
	body = append(body, riffChunk("EXIF", exifBody)...)

	out := append([]byte("RIFF"), binary.LittleEndian.AppendUint32(nil, uint32(len(body)))...)
	return append(out, body...)
}

func TestExtractEXIFFromPNGAndWebPChunks(t *testing.T) {
	tags := map[uint16]string{
		0x010F: "FUJIFILM",
		0x0110: "X-T5",
		0x0131: "Capture One",
	}
	tests := []struct {
		name   string
		data   []byte
		format string
	}{
		{"png eXIf", pngWithEXIF(t, 300, 260, tiffEXIF(tags)), "PNG"},
		{"webp EXIF", webpWithEXIF(640, 480, tiffEXIF(tags)), "WEBP"},
		{"webp EXIF with header", webpWithEXIF(640, 480, append([]byte("Exif\x00\x00"), tiffEXIF(tags)...)), "WEBP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md, err := NewExtractor().Extract(tt.data)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if md.Format != tt.format || !md.HasEXIF {
				t.Fatalf("format=%s has_exif=%v", md.Format, md.HasEXIF)
			}
			if md.CameraMakeModel == nil || *md.CameraMakeModel != "FUJIFILM X-T5" {
				t.Fatalf("camera = %v", md.CameraMakeModel)
			}
			if md.SoftwareTag == nil || *md.SoftwareTag != "Capture One" {
				t.Fatalf("software = %v", md.SoftwareTag)
			}
		})
	}
}

func TestExifPayloadWithoutChunk(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(8, 8)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if got := exifPayload(buf.Bytes()); got != nil {
		t.Fatalf("plain png payload = %d bytes, want nil", len(got))
	}
	truncated := webpWithEXIF(16, 16, tiffEXIF(map[uint16]string{0x010F: "Sony"}))
	if got := exifPayload(truncated[:len(truncated)-4]); got != nil {
		t.Fatalf("truncated webp payload = %d bytes, want nil", len(got))
	}
	jpg := encodeJPEG(t, 8, 8)
	if got := exifPayload(jpg); !bytes.Equal(got, jpg) {
		t.Fatalf("jpeg payload should pass through unchanged")
	}
}
