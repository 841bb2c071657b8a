package tracing

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Field describes one named value inside a flat tracepoint payload.
type Field struct {
	Name      string
	Offset    uint64
	ElemSize  uint64
	ElemCount uint64
	IsSigned  bool
}

// ExtractFieldFunc renders the bytes of one field. Every size/count
// combination has a defined rendering, extraction can not fail.
type ExtractFieldFunc func(field Field, data []byte) string

func formatIntField(signedVal int64, unsignedVal uint64, isSigned bool) string {
	if isSigned {
		return strconv.FormatInt(signedVal, 10)
	}
	return fmt.Sprintf("0x%x", unsignedVal)
}

func extractInt8Field(field Field, data []byte) string {
	return formatIntField(int64(int8(data[0])), uint64(data[0]), field.IsSigned)
}

func extractInt16Field(field Field, data []byte) string {
	val := binary.LittleEndian.Uint16(data)
	return formatIntField(int64(int16(val)), uint64(val), field.IsSigned)
}

func extractInt32Field(field Field, data []byte) string {
	val := binary.LittleEndian.Uint32(data)
	return formatIntField(int64(int32(val)), uint64(val), field.IsSigned)
}

func extractInt64Field(field Field, data []byte) string {
	val := binary.LittleEndian.Uint64(data)
	return formatIntField(int64(val), val, field.IsSigned)
}

// extractStringField copies bytes until a NUL byte or ElemCount bytes,
// whichever comes first. The source is not guaranteed to be terminated.
func extractStringField(field Field, data []byte) string {
	end := int(field.ElemCount)
	if end > len(data) {
		end = len(data)
	}
	for i := 0; i < end; i++ {
		if data[i] == 0 {
			end = i
			break
		}
	}
	return string(data[:end])
}

func extractIntArrayField(extract ExtractFieldFunc) ExtractFieldFunc {
	return func(field Field, data []byte) string {
		elems := make([]string, 0, field.ElemCount)
		for i := uint64(0); i < field.ElemCount; i++ {
			elems = append(elems, extract(field, data[i*field.ElemSize:]))
		}
		return strings.Join(elems, " ")
	}
}

// extractUnknownField dumps whole 4-byte groups from the front of the
// field region, dropping any trailing partial group.
func extractUnknownField(field Field, data []byte) string {
	total := field.ElemSize * field.ElemCount
	if total > uint64(len(data)) {
		total = uint64(len(data))
	}
	words := []string{}
	for i := uint64(0); i+4 <= total; i += 4 {
		words = append(words, fmt.Sprintf("0x%08x", binary.LittleEndian.Uint32(data[i:])))
	}
	return strings.Join(words, " ")
}

var intExtractors = map[uint64]ExtractFieldFunc{
	1: extractInt8Field,
	2: extractInt16Field,
	4: extractInt32Field,
	8: extractInt64Field,
}

// GetExtractFieldFunction selects the rendering of a field from its
// element size and count. The choice is pure in the field descriptor, so
// callers resolve it once per field and reuse the result per record.
func GetExtractFieldFunction(field Field) ExtractFieldFunc {
	if field.ElemCount > 1 && field.ElemSize == 1 {
		// Probably a string. IsSigned is not trustworthy for char
		// fields, it differs between architectures.
		return extractStringField
	}
	extract, isExist := intExtractors[field.ElemSize]
	if !isExist {
		return extractUnknownField
	}
	if field.ElemCount == 1 {
		return extract
	}
	return extractIntArrayField(extract)
}
