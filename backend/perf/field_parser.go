package perf

import (
	"unsafe"
)

type FieldParser []byte

func (parser *FieldParser) advance(c int) {
	*parser = (*parser)[c:]
}

func (parser *FieldParser) Len() int {
	return len(*parser)
}

func (parser *FieldParser) Uint64(val *uint64) {
	*val = *(*uint64)(unsafe.Pointer(&(*parser)[0]))
	parser.advance(8)
}

func (parser *FieldParser) Uint64Cond(cond bool, val *uint64) {
	if cond {
		parser.Uint64(val)
	}
}

func (parser *FieldParser) Uint32(val *uint32) {
	*val = *(*uint32)(unsafe.Pointer(&(*parser)[0]))
	parser.advance(4)
}

func (parser *FieldParser) Uint32Cond(cond bool, val *uint32) {
	if cond {
		parser.Uint32(val)
	}
}

func (parser *FieldParser) Uint16(val *uint16) {
	*val = *(*uint16)(unsafe.Pointer(&(*parser)[0]))
	parser.advance(2)
}

func (parser *FieldParser) Int32(val *int32) {
	*val = *(*int32)(unsafe.Pointer(&(*parser)[0]))
	parser.advance(4)
}

// String reads a NUL-terminated string and advances past the terminator.
// Alignment padding after the terminator is left for the caller to skip.
func (parser *FieldParser) String(val *string) {
	for i := 0; i < len(*parser); i++ {
		if (*parser)[i] == 0 {
			*val = string((*parser)[:i])
			parser.advance(i + 1)
			return
		}
	}
	*val = string(*parser)
	parser.advance(len(*parser))
}

// SizedString reads a uint32 length followed by that many bytes holding a
// possibly NUL-terminated string.
func (parser *FieldParser) SizedString(val *string) {
	var size uint32
	parser.Uint32(&size)
	data := (*parser)[:size]
	for i := 0; i < len(data); i++ {
		if data[i] == 0 {
			data = data[:i]
			break
		}
	}
	*val = string(data)
	parser.advance(int(size))
}

func (parser *FieldParser) Bytes(size int, val *[]byte) {
	data := make([]byte, size)
	copy(data, *parser)
	*val = data
	parser.advance(size)
}

func (parser *FieldParser) BytesByUint32Size(val *[]byte) {
	var size uint32
	parser.Uint32(&size)
	parser.Bytes(int(size), val)
}

func (parser *FieldParser) BytesByUint64Size(val *[]byte) {
	var size uint64
	parser.Uint64(&size)
	parser.Bytes(int(size), val)
}

func (parser *FieldParser) ParseSampleID(sampleIDAll bool, sampleFormat SampleFormat, sampleID *SampleID) {
	if !sampleIDAll {
		return
	}
	parser.Uint32Cond(sampleFormat.Tid, &sampleID.Pid)
	parser.Uint32Cond(sampleFormat.Tid, &sampleID.Tid)
	parser.Uint64Cond(sampleFormat.Time, &sampleID.Time)
	parser.Uint64Cond(sampleFormat.ID, &sampleID.ID)
	parser.Uint64Cond(sampleFormat.StreamID, &sampleID.StreamID)
	if sampleFormat.CPU {
		parser.Uint32(&sampleID.CPU)
		parser.advance(4)
	}
	parser.Uint64Cond(sampleFormat.Identifier, &sampleID.Identifier)
}

func (parser *FieldParser) ParseReadContent(readFormat ReadFormat, readContent *ReadContent) {
	parser.Uint64(&readContent.Value)
	parser.Uint64Cond(readFormat.TotalTimeEnabled, &readContent.TimeEnabled)
	parser.Uint64Cond(readFormat.TotalTimeRunning, &readContent.TimeRunning)
	parser.Uint64Cond(readFormat.ID, &readContent.ID)
}
