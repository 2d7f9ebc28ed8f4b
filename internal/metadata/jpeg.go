package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
)

const markerAPP1 = 0xe1

var exifHeader = []byte("Exif\x00\x00")

// jpegWriter sets IFD0 ImageDescription in the APP1 EXIF segment. Other
// segments, including the entropy-coded scan, are written back unchanged.
type jpegWriter struct{}

func (jpegWriter) Embed(data []byte, block string) ([]byte, error) {
	sl, err := parseJPEG(data)
	if err != nil {
		return nil, err
	}

	// An existing EXIF block is never replaced wholesale: its IFD0 tags
	// must all survive the rewrite or the embed fails.
	var originalTags []uint16
	existing := exifTIFF(sl)
	if existing != nil {
		t, err := parseTIFF(existing)
		if err != nil {
			return nil, fmt.Errorf("existing EXIF could not be parsed: %w", err)
		}
		originalTags = t.tags()
	}

	rootIb, err := exifBuilder(sl, existing != nil)
	if err != nil {
		return nil, err
	}

	ifd0Ib, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD0")
	if err != nil {
		return nil, fmt.Errorf("failed to get IFD0 builder: %w", err)
	}
	if err := ifd0Ib.SetStandardWithName("ImageDescription", block); err != nil {
		return nil, fmt.Errorf("failed to set ImageDescription: %w", err)
	}
	if err := sl.SetExif(rootIb); err != nil {
		return nil, fmt.Errorf("failed to update EXIF segment: %w", err)
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write JPEG: %w", err)
	}
	out := buf.Bytes()

	if err := checkTagsKept(out, originalTags); err != nil {
		return nil, err
	}
	return out, nil
}

// exifBuilder loads the existing EXIF for editing. A fresh block is only
// built for a file that has none.
func exifBuilder(sl *jpegstructure.SegmentList, hasExif bool) (*exif.IfdBuilder, error) {
	if !hasExif {
		return newExifBuilder()
	}
	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		return nil, fmt.Errorf("existing EXIF could not be loaded: %w", err)
	}
	return rootIb, nil
}

// checkTagsKept verifies that the IFD0 of the rewritten JPEG still holds tags
func checkTagsKept(out []byte, tags []uint16) error {
	if len(tags) == 0 {
		return nil
	}
	sl, err := parseJPEG(out)
	if err != nil {
		return err
	}
	block := exifTIFF(sl)
	if block == nil {
		return errors.New("rewritten JPEG lost its EXIF segment")
	}
	t, err := parseTIFF(block)
	if err != nil {
		return fmt.Errorf("rewritten EXIF could not be parsed: %w", err)
	}
	kept := t.tags()
	for _, tag := range tags {
		if !slices.Contains(kept, tag) {
			return fmt.Errorf("rewritten EXIF dropped IFD0 tag 0x%04x", tag)
		}
	}
	return nil
}

func newExifBuilder() (*exif.IfdBuilder, error) {
	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return nil, fmt.Errorf("failed to create IFD mapping: %w", err)
	}
	ti := exif.NewTagIndex()
	if err := exif.LoadStandardTags(ti); err != nil {
		return nil, fmt.Errorf("failed to load EXIF tags: %w", err)
	}
	return exif.NewIfdBuilder(im, ti, exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder), nil
}

func parseJPEG(data []byte) (*jpegstructure.SegmentList, error) {
	mc, err := jpegstructure.NewJpegMediaParser().ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JPEG segments: %w", err)
	}
	sl, ok := mc.(*jpegstructure.SegmentList)
	if !ok {
		return nil, fmt.Errorf("unexpected JPEG media context %T", mc)
	}
	return sl, nil
}

// exifTIFF returns the TIFF block of the first EXIF APP1 segment, or nil
func exifTIFF(sl *jpegstructure.SegmentList) []byte {
	for _, s := range sl.Segments() {
		if s.MarkerId == markerAPP1 && bytes.HasPrefix(s.Data, exifHeader) {
			return s.Data[len(exifHeader):]
		}
	}
	return nil
}

// jpegDescription reads ImageDescription from the first EXIF APP1 segment
func jpegDescription(data []byte) (string, error) {
	sl, err := parseJPEG(data)
	if err != nil {
		return "", err
	}
	block := exifTIFF(sl)
	if block == nil {
		return "", ErrNoDescription
	}
	return tiffDescription(block)
}
