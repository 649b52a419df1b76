// Package dff implements the RenderWare DFF clump model format
// (encode direction): frames, geometries, atomics, materials and their
// plugin extensions, serialized as nested binary chunks.
package dff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Chunk codec errors.
var (
	ErrTruncatedChunk      = errors.New("truncated chunk data")
	ErrUnsupportedVersion  = errors.New("unsupported RenderWare version")
	ErrUnknownVersionLabel = errors.New("unknown version label")
)

// SectionID identifies a chunk type in the DFF stream.
type SectionID uint32

// Chunk section ids used by the clump format and its plugins.
const (
	SectionStruct          SectionID = 0x0001
	SectionString          SectionID = 0x0002
	SectionExtension       SectionID = 0x0003
	SectionTexture         SectionID = 0x0006
	SectionMaterial        SectionID = 0x0007
	SectionMaterialList    SectionID = 0x0008
	SectionFrameList       SectionID = 0x000E
	SectionGeometry        SectionID = 0x000F
	SectionClump           SectionID = 0x0010
	SectionAtomic          SectionID = 0x0014
	SectionGeometryList    SectionID = 0x001A
	SectionAnimAnimation   SectionID = 0x001B
	SectionUVAnimDict      SectionID = 0x002B
	SectionSkinPLG         SectionID = 0x0116
	SectionHAnimPLG        SectionID = 0x011E
	SectionUserDataPLG     SectionID = 0x011F
	SectionMaterialFXPLG   SectionID = 0x0120
	SectionUVAnimPLG       SectionID = 0x0135
	SectionBinMeshPLG      SectionID = 0x050E
	SectionPipelineSet     SectionID = 0x0253F2F3
	SectionSpecularMat     SectionID = 0x0253F2F6
	SectionExtraVertColor  SectionID = 0x0253F2F9
	SectionCollisionModel  SectionID = 0x0253F2FA
	SectionReflectionMat   SectionID = 0x0253F2FC
	SectionFrameNode       SectionID = 0x0253F2FE
)

// Version is a packed RenderWare version number (e.g. 0x36003 = 3.6.0.3).
type Version uint32

// Target versions recognized by the exporter.
const (
	Version3_3_0_2 Version = 0x33002
	Version3_4_0_3 Version = 0x34003
	Version3_6_0_3 Version = 0x36003
)

const libraryBuild = 0xFFFF

// LibraryID packs the version into the chunk-header library id stamp.
func (v Version) LibraryID() uint32 {
	if v <= 0x31000 {
		return uint32(v) >> 8
	}
	return ((uint32(v)-0x30000)&0x3FF00)<<14 |
		(uint32(v)&0x3F)<<16 |
		libraryBuild
}

// String returns the version in dotted form, e.g. "3.6.0.3".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d",
		(v>>16)&0xF, (v>>12)&0xF, (v>>8)&0xF, v&0xFF)
}

// ParseVersion parses a version label, either dotted ("3.6.0.3") or the
// raw packed value in hex ("0x36003"), into a Version.
func ParseVersion(s string) (Version, error) {
	var v Version
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnknownVersionLabel, s)
		}
		v = Version(raw)
	} else {
		var a, b, c, d uint32
		if _, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d); err != nil {
			return 0, fmt.Errorf("%w: %q", ErrUnknownVersionLabel, s)
		}
		v = Version(a<<16 | b<<12 | c<<8 | d)
	}
	switch v {
	case Version3_3_0_2, Version3_4_0_3, Version3_6_0_3:
		return v, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
}

// chunkHeaderSize is the fixed size of a chunk header.
const chunkHeaderSize = 12

// ChunkHeader is the 12-byte header preceding every chunk body.
type ChunkHeader struct {
	ID      SectionID
	Size    uint32
	Library uint32
}

// ReadChunk splits b into the first chunk's header, its body and the
// remaining bytes after the chunk.
func ReadChunk(b []byte) (ChunkHeader, []byte, []byte, error) {
	if len(b) < chunkHeaderSize {
		return ChunkHeader{}, nil, nil, ErrTruncatedChunk
	}
	h := ChunkHeader{
		ID:      SectionID(binary.LittleEndian.Uint32(b[0:4])),
		Size:    binary.LittleEndian.Uint32(b[4:8]),
		Library: binary.LittleEndian.Uint32(b[8:12]),
	}
	if uint32(len(b)-chunkHeaderSize) < h.Size {
		return ChunkHeader{}, nil, nil, ErrTruncatedChunk
	}
	body := b[chunkHeaderSize : chunkHeaderSize+h.Size]
	rest := b[chunkHeaderSize+h.Size:]
	return h, body, rest, nil
}

// FindChunk walks the chunks in b and returns the body of the first chunk
// with the given id, or false when no such sibling exists.
func FindChunk(b []byte, id SectionID) ([]byte, bool) {
	for len(b) > 0 {
		h, body, rest, err := ReadChunk(b)
		if err != nil {
			return nil, false
		}
		if h.ID == id {
			return body, true
		}
		b = rest
	}
	return nil, false
}

// encoder accumulates little-endian chunk output. Writes to the underlying
// bytes.Buffer cannot fail, so the write helpers carry no error returns.
type encoder struct {
	buf *bytes.Buffer
	lib uint32
}

func newEncoder(v Version) *encoder {
	return &encoder{buf: new(bytes.Buffer), lib: v.LibraryID()}
}

// chunk serializes body into a child buffer, then emits header + payload.
func (e *encoder) chunk(id SectionID, body func(*encoder)) {
	child := &encoder{buf: new(bytes.Buffer), lib: e.lib}
	body(child)

	var hdr [chunkHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(id))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(child.buf.Len()))
	binary.LittleEndian.PutUint32(hdr[8:], e.lib)
	e.buf.Write(hdr[:])
	e.buf.Write(child.buf.Bytes())
}

func (e *encoder) u8(v uint8)    { e.buf.WriteByte(v) }
func (e *encoder) u16(v uint16)  { binary.Write(e.buf, binary.LittleEndian, v) }
func (e *encoder) u32(v uint32)  { binary.Write(e.buf, binary.LittleEndian, v) }
func (e *encoder) i32(v int32)   { binary.Write(e.buf, binary.LittleEndian, v) }
func (e *encoder) f32(v float32) { binary.Write(e.buf, binary.LittleEndian, v) }
func (e *encoder) raw(b []byte)  { e.buf.Write(b) }

// str writes a null-terminated string padded to 4-byte alignment, the
// layout of the String section.
func (e *encoder) str(s string) {
	e.buf.WriteString(s)
	pad := 4 - (len(s)+1)%4
	if pad == 4 {
		pad = 0
	}
	for i := 0; i < pad+1; i++ {
		e.buf.WriteByte(0)
	}
}

// fixedStr writes s into exactly n bytes, null padded and truncated if
// longer than n-1.
func (e *encoder) fixedStr(s string, n int) {
	b := make([]byte, n)
	copy(b[:n-1], s)
	e.buf.Write(b)
}
