package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	tagImageDescription = 270

	tiffTypeByte      = 1
	tiffTypeASCII     = 2
	tiffTypeUndefined = 7

	tiffHeaderSize = 8
	ifdEntrySize   = 12
)

var errNotTIFF = errors.New("not a TIFF stream")

// ifdEntry is one raw 12-byte IFD0 entry. value holds the inline value or the offset.
type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value [4]byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// tiffStructure is the parsed header and first IFD of a TIFF stream
type tiffStructure struct {
	order   byteOrder
	ifd0    uint32
	entries []ifdEntry
	next    uint32
}

// parseTIFF reads the header and IFD0 of a classic (32-bit) TIFF stream.
// It is also used for the TIFF block inside a JPEG APP1 segment.
func parseTIFF(data []byte) (*tiffStructure, error) {
	if len(data) < tiffHeaderSize {
		return nil, errNotTIFF
	}

	var order byteOrder
	switch {
	case bytes.HasPrefix(data, []byte("II")):
		order = binary.LittleEndian
	case bytes.HasPrefix(data, []byte("MM")):
		order = binary.BigEndian
	default:
		return nil, errNotTIFF
	}
	switch order.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, errors.New("BigTIFF is not supported")
	default:
		return nil, errNotTIFF
	}

	ifd0 := order.Uint32(data[4:8])
	if uint64(ifd0)+2 > uint64(len(data)) || ifd0 < tiffHeaderSize {
		return nil, fmt.Errorf("IFD0 offset %d out of range", ifd0)
	}
	count := int(order.Uint16(data[ifd0:]))
	end := uint64(ifd0) + 2 + uint64(count)*ifdEntrySize
	if end+4 > uint64(len(data)) {
		return nil, fmt.Errorf("IFD0 with %d entries overruns the file", count)
	}

	t := &tiffStructure{order: order, ifd0: ifd0, entries: make([]ifdEntry, count)}
	for i := range t.entries {
		raw := data[int(ifd0)+2+i*ifdEntrySize:]
		e := &t.entries[i]
		e.tag = order.Uint16(raw[0:2])
		e.typ = order.Uint16(raw[2:4])
		e.count = order.Uint32(raw[4:8])
		copy(e.value[:], raw[8:12])
	}
	t.next = order.Uint32(data[end:])
	return t, nil
}

// tags lists the IFD0 tag IDs in file order
func (t *tiffStructure) tags() []uint16 {
	ids := make([]uint16, len(t.entries))
	for i, e := range t.entries {
		ids[i] = e.tag
	}
	return ids
}

// description returns the ImageDescription value of IFD0
func (t *tiffStructure) description(data []byte) (string, error) {
	for _, e := range t.entries {
		if e.tag != tagImageDescription {
			continue
		}
		if e.typ != tiffTypeASCII && e.typ != tiffTypeByte && e.typ != tiffTypeUndefined {
			return "", fmt.Errorf("ImageDescription has unexpected type %d", e.typ)
		}

		var raw []byte
		if e.count <= 4 {
			raw = e.value[:e.count]
		} else {
			offset := uint64(t.order.Uint32(e.value[:]))
			if offset+uint64(e.count) > uint64(len(data)) {
				return "", fmt.Errorf("ImageDescription value overruns the file")
			}
			raw = data[offset : offset+uint64(e.count)]
		}
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		return string(raw), nil
	}
	return "", ErrNoDescription
}

func tiffDescription(data []byte) (string, error) {
	t, err := parseTIFF(data)
	if err != nil {
		return "", err
	}
	return t.description(data)
}

// tiffWriter appends a rewritten IFD0 carrying the new ImageDescription and
// repoints the header at it. Strip and tile data, and every offset they
// are referenced by, stay where they are.
type tiffWriter struct{}

func (tiffWriter) Embed(data []byte, block string) ([]byte, error) {
	t, err := parseTIFF(data)
	if err != nil {
		return nil, err
	}

	value := append([]byte(block), 0)
	out := make([]byte, len(data), len(data)+len(value)+len(t.entries)*ifdEntrySize+32)
	copy(out, data)

	desc := ifdEntry{tag: tagImageDescription, typ: tiffTypeASCII, count: uint32(len(value))}
	if len(value) <= 4 {
		copy(desc.value[:], value)
	} else {
		out = padEven(out)
		t.order.PutUint32(desc.value[:], uint32(len(out)))
		out = append(out, value...)
	}

	entries := make([]ifdEntry, 0, len(t.entries)+1)
	for _, e := range t.entries {
		if e.tag != tagImageDescription {
			entries = append(entries, e)
		}
	}
	entries = append(entries, desc)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	out = padEven(out)
	ifdOffset := len(out)
	if uint64(ifdOffset)+2+uint64(len(entries))*ifdEntrySize+4 > math.MaxUint32 {
		return nil, errors.New("TIFF would exceed 4 GiB")
	}

	out = t.order.AppendUint16(out, uint16(len(entries)))
	for _, e := range entries {
		out = t.order.AppendUint16(out, e.tag)
		out = t.order.AppendUint16(out, e.typ)
		out = t.order.AppendUint32(out, e.count)
		out = append(out, e.value[:]...)
	}
	out = t.order.AppendUint32(out, t.next)

	t.order.PutUint32(out[4:8], uint32(ifdOffset))
	return out, nil
}

func padEven(b []byte) []byte {
	if len(b)%2 != 0 {
		return append(b, 0)
	}
	return b
}
