package metadata

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	pngstructure "github.com/dsoprea/go-png-image-structure/v2"
	"golang.org/x/text/encoding/charmap"
)

const descriptionKeyword = "ImageDescription"

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// pngWriter replaces any ImageDescription text chunk with a single UTF-8
// iTXt chunk placed before the first IDAT. Image data chunks are copied as is.
type pngWriter struct{}

func (pngWriter) Embed(data []byte, block string) ([]byte, error) {
	chunks, err := parsePNG(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + len(block) + 64)
	buf.Write(pngSignature)

	inserted := false
	for _, c := range chunks {
		if isDescriptionChunk(c) {
			continue
		}
		if c.Type == "IDAT" && !inserted {
			writeChunk(&buf, "iTXt", itxtData(descriptionKeyword, block))
			inserted = true
		}
		writeChunk(&buf, c.Type, c.Data)
	}
	if !inserted {
		return nil, errors.New("PNG has no IDAT chunk")
	}
	return buf.Bytes(), nil
}

func parsePNG(data []byte) ([]*pngstructure.Chunk, error) {
	mc, err := pngstructure.NewPngMediaParser().ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PNG chunks: %w", err)
	}
	cs, ok := mc.(*pngstructure.ChunkSlice)
	if !ok {
		return nil, fmt.Errorf("unexpected PNG media context %T", mc)
	}
	return cs.Chunks(), nil
}

func isDescriptionChunk(c *pngstructure.Chunk) bool {
	if c.Type != "tEXt" && c.Type != "iTXt" && c.Type != "zTXt" {
		return false
	}
	keyword, _, _ := bytes.Cut(c.Data, []byte{0})
	return string(keyword) == descriptionKeyword
}

// itxtData lays out an uncompressed iTXt payload with empty language tags
func itxtData(keyword, text string) []byte {
	var b bytes.Buffer
	b.WriteString(keyword)
	b.WriteByte(0)
	b.WriteByte(0) // compression flag
	b.WriteByte(0) // compression method
	b.WriteByte(0) // language tag
	b.WriteByte(0) // translated keyword
	b.WriteString(text)
	return b.Bytes()
}

func writeChunk(w *bytes.Buffer, typ string, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	w.Write(length[:])

	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	w.WriteString(typ)
	w.Write(data)

	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	w.Write(sum[:])
}

// pngDescription reads the ImageDescription text chunk
func pngDescription(data []byte) (string, error) {
	chunks, err := parsePNG(data)
	if err != nil {
		return "", err
	}
	for _, c := range chunks {
		if !isDescriptionChunk(c) {
			continue
		}
		_, rest, _ := bytes.Cut(c.Data, []byte{0})
		switch c.Type {
		case "tEXt":
			return latin1(rest)
		case "zTXt":
			if len(rest) < 1 {
				return "", errors.New("truncated zTXt chunk")
			}
			text, err := inflate(rest[1:])
			if err != nil {
				return "", err
			}
			return latin1(text)
		default:
			return parseITXt(rest)
		}
	}
	return "", ErrNoDescription
}

// parseITXt decodes the part of an iTXt payload after the keyword
func parseITXt(rest []byte) (string, error) {
	if len(rest) < 2 {
		return "", errors.New("truncated iTXt chunk")
	}
	compressed := rest[0] == 1
	rest = rest[2:]
	_, rest, ok := bytes.Cut(rest, []byte{0}) // language tag
	if !ok {
		return "", errors.New("truncated iTXt chunk")
	}
	_, rest, ok = bytes.Cut(rest, []byte{0}) // translated keyword
	if !ok {
		return "", errors.New("truncated iTXt chunk")
	}
	if compressed {
		text, err := inflate(rest)
		return string(text), err
	}
	return string(rest), nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to inflate text chunk: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// latin1 decodes tEXt and zTXt payloads, which are ISO 8859-1 by definition
func latin1(b []byte) (string, error) {
	return charmap.ISO8859_1.NewDecoder().String(string(b))
}
