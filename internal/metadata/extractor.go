// Package metadata reads structural and EXIF facts from raw image bytes.
package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"verifai/internal/domain"
)

// Extractor produces Metadata for an image. Errors mean the bytes could not be
// understood as an image at all.
type Extractor interface {
	Extract(data []byte) (domain.Metadata, error)
}

// EXIFExtractor decodes the image header with the registered image codecs and
// reads EXIF with goexif.
type EXIFExtractor struct{}

// NewExtractor returns the default extractor.
func NewExtractor() EXIFExtractor {
	return EXIFExtractor{}
}

// Extract implements Extractor.
func (EXIFExtractor) Extract(data []byte) (domain.Metadata, error) {
	if len(data) == 0 {
		return domain.Metadata{}, errors.New("metadata: empty image")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return domain.Metadata{}, fmt.Errorf("metadata: decode header: %w", err)
	}

	md := domain.Metadata{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: normalizeFormat(format),
	}

	tags := readEXIF(data)
	md.HasEXIF = tags.count > 0
	md.CameraMakeModel = joinMakeModel(tags.maker, tags.model)
	md.SoftwareTag = domain.StringPtr(tags.software)
	return md, nil
}

func normalizeFormat(format string) string {
	format = strings.ToUpper(strings.TrimSpace(format))
	if format == "" {
		return "UNKNOWN"
	}
	return format
}

type exifTags struct {
	count    int
	maker    string
	model    string
	software string
}

// Walk implements exif.Walker.
func (t *exifTags) Walk(name exif.FieldName, tag *tiff.Tag) error {
	t.count++
	switch name {
	case exif.Make:
		t.maker = tagString(tag)
	case exif.Model:
		t.model = tagString(tag)
	case exif.Software:
		t.software = tagString(tag)
	}
	return nil
}

// readEXIF never fails: images without EXIF or with a corrupt segment simply
// report zero tags.
func readEXIF(data []byte) (tags exifTags) {
	defer func() {
		if r := recover(); r != nil {
			tags = exifTags{}
		}
	}()
	payload := exifPayload(data)
	if len(payload) == 0 {
		return exifTags{}
	}
	x, err := exif.Decode(bytes.NewReader(payload))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return exifTags{}
	}
	_ = x.Walk(&tags)
	return tags
}

func tagString(tag *tiff.Tag) string {
	if tag == nil {
		return ""
	}
	if s, err := tag.StringVal(); err == nil {
		return strings.TrimSpace(strings.TrimRight(s, "\x00"))
	}
	return strings.Trim(tag.String(), "\" ")
}

func joinMakeModel(maker, model string) *string {
	parts := make([]string, 0, 2)
	for _, p := range []string{maker, model} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return domain.StringPtr(strings.Join(parts, " "))
}
