package dumprecord

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaqibdv/platform-system-extras/backend/etm"
	"github.com/aaqibdv/platform-system-extras/backend/perf"
)

type buf []byte

func (b buf) u16(val uint16) buf { return binary.LittleEndian.AppendUint16(b, val) }
func (b buf) u32(val uint32) buf { return binary.LittleEndian.AppendUint32(b, val) }
func (b buf) u64(val uint64) buf { return binary.LittleEndian.AppendUint64(b, val) }
func (b buf) str(val string) buf { return append(append(b, val...), 0) }

const (
	sampleTypeTid       = 1 << 1
	sampleTypeCallchain = 1 << 5
	sampleTypeRaw       = 1 << 10
)

func makeAttr(eventType perf.EventType, config, sampleType, flags uint64) buf {
	data := buf{}.
		u32(uint32(eventType)).
		u32(perf.PerfEventAttrSize).
		u64(config).
		u64(4000).
		u64(sampleType).
		u64(0).
		u64(flags)
	for len(data) < perf.PerfEventAttrSize {
		data = append(data, 0)
	}
	return data
}

func makeRecord(recordType perf.RecordType, misc uint16, body buf) buf {
	rec := buf{}.u32(uint32(recordType)).u16(misc).u16(uint16(perf.RecordHeaderSize + len(body)))
	return append(rec, body...)
}

// recordFileBuilder assembles a synthetic record file: fixed header, attr
// entries with their id arrays, the record stream, then feature section
// descriptors in ascending key order with the payloads placed in reverse
// key order after them.
type recordFileBuilder struct {
	attrs       []buf
	attrIDs     [][]uint64
	records     []buf
	features    []perf.Feature
	featureData map[perf.Feature]buf

	headerAttrSize uint64
}

func newRecordFileBuilder() *recordFileBuilder {
	return &recordFileBuilder{
		featureData:    map[perf.Feature]buf{},
		headerAttrSize: perf.FileAttrSize,
	}
}

func (b *recordFileBuilder) addAttr(attr buf, ids ...uint64) {
	b.attrs = append(b.attrs, attr)
	b.attrIDs = append(b.attrIDs, ids)
}

func (b *recordFileBuilder) addRecord(rec buf) {
	b.records = append(b.records, rec)
}

func (b *recordFileBuilder) addFeature(feature perf.Feature, data buf) {
	b.features = append(b.features, feature)
	b.featureData[feature] = data
}

func (b *recordFileBuilder) build() []byte {
	attrsOffset := uint64(perf.FileHeaderSize)
	attrsSize := uint64(perf.FileAttrSize * len(b.attrs))
	idsOffset := attrsOffset + attrsSize

	idsBlob := buf{}
	idSections := make([]struct{ offset, size uint64 }, len(b.attrs))
	for i, ids := range b.attrIDs {
		idSections[i].offset = idsOffset + uint64(len(idsBlob))
		idSections[i].size = uint64(len(ids) * 8)
		for _, id := range ids {
			idsBlob = idsBlob.u64(id)
		}
	}

	dataOffset := idsOffset + uint64(len(idsBlob))
	dataBlob := buf{}
	for _, rec := range b.records {
		dataBlob = append(dataBlob, rec...)
	}

	features := make([]perf.Feature, len(b.features))
	copy(features, b.features)
	sort.Slice(features, func(i, j int) bool { return features[i] < features[j] })

	descOffset := dataOffset + uint64(len(dataBlob))
	payloadOffset := descOffset + uint64(16*len(features))

	payloadBlob := buf{}
	payloadSections := map[perf.Feature]struct{ offset, size uint64 }{}
	for i := len(features) - 1; i >= 0; i-- {
		data := b.featureData[features[i]]
		payloadSections[features[i]] = struct{ offset, size uint64 }{
			offset: payloadOffset + uint64(len(payloadBlob)),
			size:   uint64(len(data)),
		}
		payloadBlob = append(payloadBlob, data...)
	}

	var featureBits [4]uint64
	for _, feature := range features {
		featureBits[feature/64] |= 1 << (uint(feature) % 64)
	}

	file := buf("PERFILE2").
		u64(perf.FileHeaderSize).
		u64(b.headerAttrSize).
		u64(attrsOffset).u64(attrsSize).
		u64(dataOffset).u64(uint64(len(dataBlob))).
		u64(0).u64(0)
	for _, bits := range featureBits {
		file = file.u64(bits)
	}
	for i, attr := range b.attrs {
		file = append(file, attr...)
		file = file.u64(idSections[i].offset).u64(idSections[i].size)
	}
	file = append(file, idsBlob...)
	file = append(file, dataBlob...)
	for _, feature := range features {
		section := payloadSections[feature]
		file = file.u64(section.offset).u64(section.size)
	}
	file = append(file, payloadBlob...)
	return file
}

func (b *recordFileBuilder) write(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perf.data")
	require.NoError(t, os.WriteFile(path, b.build(), 0o644))
	return path
}

func runDump(t *testing.T, b *recordFileBuilder, option etm.DumpOption) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewCommand()
	cmd.RecordFilename = b.write(t)
	cmd.EtmDumpOption = option
	cmd.Out = out
	err := cmd.Run()
	return out.String(), err
}

func TestDumpFileHeaderAndAttr(t *testing.T) {
	b := newRecordFileBuilder()
	b.addAttr(makeAttr(perf.Hardware, 0, sampleTypeTid, 0), 10, 11)

	out, err := runDump(t, b, etm.DumpOption{})
	require.NoError(t, err)
	assert.Contains(t, out, "magic: PERFILE2\n")
	assert.Contains(t, out, "header_size: 104\n")
	assert.Contains(t, out, "attr 1:\n")
	assert.Contains(t, out, "event_type 0 (hardware)")
	assert.Contains(t, out, "sample_type 0x2\n")
	assert.Contains(t, out, "ids: 10 11\n")
}

func TestDumpTracepointSample(t *testing.T) {
	formatText := "name: custom_mark\n" +
		"ID: 316\n" +
		"field: int a; offset:0; size:4; signed:1;\n" +
		"field: char b[5]; offset:4; size:5; signed:0;\n"

	b := newRecordFileBuilder()
	b.addAttr(makeAttr(perf.Tracepoint, 316, sampleTypeTid|sampleTypeRaw, 0))
	b.addRecord(makeRecord(perf.TracingData2Rec, 0,
		append(buf{}.u32(uint32(len(formatText))), formatText...)))

	rawData := buf{0x2a, 0, 0, 0, 'h', 'i', 0, 0, 0, 0, 0, 0}
	b.addRecord(makeRecord(perf.SampleRec, 0,
		append(buf{}.u32(1).u32(1).u32(uint32(len(rawData))), rawData...)))

	out, err := runDump(t, b, etm.DumpOption{})
	require.NoError(t, err)
	assert.Contains(t, out, "record tracing_data")
	assert.Contains(t, out, "record sample")
	assert.Contains(t, out, "tracepoint fields:\n")
	assert.Contains(t, out, "a: 42\n")
	assert.Contains(t, out, "b: hi\n")
}

func TestDumpSampleCallchainContextMarkers(t *testing.T) {
	b := newRecordFileBuilder()
	b.addAttr(makeAttr(perf.Hardware, 0, sampleTypeTid|sampleTypeCallchain, 0))

	const miscKernel, miscUser = 1, 2
	b.addRecord(makeRecord(perf.MmapRec, miscKernel,
		buf{}.u32(0xffffffff).u32(0).u64(0xffff0000).u64(0x10000).u64(0xffff0000).str("[kernel.kallsyms]")))
	b.addRecord(makeRecord(perf.MmapRec, miscUser,
		buf{}.u32(1).u32(1).u64(0x1000).u64(0x1000).u64(0).str("/bin/app")))
	b.addRecord(makeRecord(perf.SampleRec, miscKernel,
		buf{}.u32(1).u32(1).u64(3).u64(0xffff0100).u64(perf.ContextUser).u64(0x1200)))

	out, err := runDump(t, b, etm.DumpOption{})
	require.NoError(t, err)
	assert.Contains(t, out, "0xffff0100 ([kernel.kallsyms][+ffff0100])\n")
	assert.Contains(t, out, "0x1200 (/bin/app[+200])\n")
	// The context marker flips the privilege level but is never
	// symbolized itself.
	assert.NotContains(t, out, "0xfffffffffffffe00 (")
}

func TestDumpZeroSizeAuxRecord(t *testing.T) {
	b := newRecordFileBuilder()
	b.addAttr(makeAttr(perf.Hardware, 0, 0, 0))
	b.addRecord(makeRecord(perf.AuxRec, 0, buf{}.u64(0).u64(0).u64(0)))

	out, err := runDump(t, b, etm.DumpOption{})
	require.NoError(t, err)
	assert.Contains(t, out, "record aux")
}

func TestAuxDataWithoutDecoderFails(t *testing.T) {
	b := newRecordFileBuilder()
	b.addAttr(makeAttr(perf.Hardware, 0, 0, 0))
	auxTrace := makeRecord(perf.AuxTraceRec, 0,
		buf{}.u64(8).u64(0x100).u64(0).u32(0).u32(0).u32(0).u32(0))
	b.addRecord(append(auxTrace, 1, 2, 3, 4, 5, 6, 7, 8))
	b.addRecord(makeRecord(perf.AuxRec, 0, buf{}.u64(0x100).u64(8).u64(0)))

	_, err := runDump(t, b, etm.DumpOption{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no auxtrace_info")
}

func TestEtmRawDump(t *testing.T) {
	b := newRecordFileBuilder()
	b.addAttr(makeAttr(perf.Hardware, 0, 0, 0))
	b.addRecord(makeRecord(perf.AuxTraceInfoRec, 0, buf{}.u32(etm.AuxTypeEtm).u32(0).u64(1).u64(2)))

	auxData := make(buf, 16)
	for i := range auxData {
		auxData[i] = byte(i)
	}
	auxTrace := makeRecord(perf.AuxTraceRec, 0,
		buf{}.u64(uint64(len(auxData))).u64(0x100).u64(0).u32(0).u32(0).u32(0).u32(0))
	b.addRecord(append(auxTrace, auxData...))
	b.addRecord(makeRecord(perf.AuxRec, 0, buf{}.u64(0x100).u64(uint64(len(auxData))).u64(0)))

	out, err := runDump(t, b, etm.DumpOption{DumpRaw: true})
	require.NoError(t, err)
	assert.Contains(t, out, "record auxtrace_info")
	assert.Contains(t, out, "etm raw data: 16 bytes\n")
	assert.Contains(t, out, "00000000: 00 01 02 03 04 05 06 07 08 09 0a 0b 0c 0d 0e 0f\n")
}

func TestWrongAuxTraceInfoTypeFails(t *testing.T) {
	b := newRecordFileBuilder()
	b.addAttr(makeAttr(perf.Hardware, 0, 0, 0))
	b.addRecord(makeRecord(perf.AuxTraceInfoRec, 0, buf{}.u32(1).u32(0)))

	_, err := runDump(t, b, etm.DumpOption{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported aux type")
}

func TestAttrSizeMismatchWarnsAndContinues(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	b := newRecordFileBuilder()
	b.headerAttrSize = 160
	b.addAttr(makeAttr(perf.Software, 0, 0, 0))

	out, err := runDump(t, b, etm.DumpOption{})
	require.NoError(t, err)
	assert.Contains(t, out, "attr_size: 160\n")
	assert.Contains(t, out, "attr 1:\n")

	warned := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, "attr size") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestDumpFeatureSectionsInAscendingKeyOrder(t *testing.T) {
	b := newRecordFileBuilder()
	b.addAttr(makeAttr(perf.Hardware, 0, 0, 0))
	b.addFeature(perf.FeatMetaInfo, buf{}.str("event_types").str("cpu-cycles"))
	b.addFeature(perf.FeatOSRelease, buf{}.u32(4).str("6.1"))
	b.addFeature(perf.Feature(200), buf{1, 2, 3, 4})

	out, err := runDump(t, b, etm.DumpOption{})
	require.NoError(t, err)
	assert.Contains(t, out, "feature: osrelease\n")
	assert.Contains(t, out, "feature: meta_info\n")
	assert.Contains(t, out, "feature: unknown_feature(200)\n")
	assert.Contains(t, out, "osrelease: 6.1\n")
	assert.Contains(t, out, "event_types = cpu-cycles\n")

	// The payloads sit in the file in reverse key order, the dump still
	// walks the sections by ascending key.
	osRelease := strings.Index(out, "feature section for osrelease")
	metaInfo := strings.Index(out, "feature section for meta_info")
	unknown := strings.Index(out, "feature section for unknown_feature(200)")
	require.GreaterOrEqual(t, osRelease, 0)
	require.GreaterOrEqual(t, metaInfo, 0)
	require.GreaterOrEqual(t, unknown, 0)
	assert.Less(t, osRelease, metaInfo)
	assert.Less(t, metaInfo, unknown)
}

func TestDumpBuildIDAndFileFeatures(t *testing.T) {
	b := newRecordFileBuilder()
	b.addAttr(makeAttr(perf.Hardware, 0, sampleTypeTid|sampleTypeCallchain, 0))

	buildID := make(buf, 20)
	for i := range buildID {
		buildID[i] = byte(i + 1)
	}
	buildIDBody := buf{}.u32(0xffffffff)
	buildIDBody = append(buildIDBody, buildID...)
	buildIDBody = append(buildIDBody, 0, 0, 0, 0)
	buildIDBody = buildIDBody.str("/bin/app")
	b.addFeature(perf.FeatBuildID, makeRecord(perf.BuildIDRec, 0, buildIDBody))

	elfFile := buf{}.str("/bin/app").u32(2).u64(0x1000).u64(0).
		u32(1).u64(0x1000).u64(0x20).str("main")
	dexFile := buf{}.str("/data/classes.dex").u32(3).u64(0).u64(0).
		u32(0).u32(2).u64(0x30).u64(0x40)
	fileFeature := buf{}.u32(uint32(len(elfFile)))
	fileFeature = append(fileFeature, elfFile...)
	fileFeature = fileFeature.u32(uint32(len(dexFile)))
	fileFeature = append(fileFeature, dexFile...)
	b.addFeature(perf.FeatFile, fileFeature)

	const miscUser = 2
	b.addRecord(makeRecord(perf.MmapRec, miscUser,
		buf{}.u32(1).u32(1).u64(0x1000).u64(0x1000).u64(0).str("/bin/app")))
	b.addRecord(makeRecord(perf.SampleRec, miscUser,
		buf{}.u32(1).u32(1).u64(1).u64(0x1010)))

	out, err := runDump(t, b, etm.DumpOption{})
	require.NoError(t, err)
	assert.Contains(t, out, "build_id_record:\n")
	assert.Contains(t, out, "build_id 0x0102030405060708090a0b0c0d0e0f1011121314\n")
	assert.Contains(t, out, "filename /bin/app\n")
	assert.Contains(t, out, "file_path /bin/app\n")
	assert.Contains(t, out, "file_type dso_elf_file\n")
	assert.Contains(t, out, "main [0x1000-0x1020]\n")
	assert.Contains(t, out, "file_path /data/classes.dex\n")
	assert.Contains(t, out, "file_type dso_dex_file\n")
	assert.Contains(t, out, "dex_file_offsets:\n")
	assert.Contains(t, out, "0x30\n")
	// The preloaded symbol table symbolizes the sample's callchain.
	assert.Contains(t, out, "main (/bin/app[+1010])\n")
}

func TestBadMagicFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.data")
	data := make([]byte, perf.FileHeaderSize)
	copy(data, "NOTAPERF")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cmd := NewCommand()
	cmd.RecordFilename = path
	cmd.Out = &bytes.Buffer{}
	err := cmd.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}
