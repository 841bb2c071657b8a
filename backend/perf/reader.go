package perf

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

type auxDataLocation struct {
	auxOffset  uint64
	auxSize    uint64
	fileOffset uint64
}

// FileReader decodes a record file: fixed header, attr section, record
// data section and the trailing keyed feature sections.
type FileReader struct {
	file            *os.File
	header          *FileHeader
	attrs           []EventAttrWithID
	eventIDToAttr   map[uint64]int
	featureSections map[Feature]SectionDesc
	auxDataLocs     map[uint32][]auxDataLocation
}

func NewFileReader(path string) (*FileReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to open record file [%s], err [%s]", path, err)
	}
	reader := &FileReader{
		file:          file,
		eventIDToAttr: map[uint64]int{},
		auxDataLocs:   map[uint32][]auxDataLocation{},
	}
	if err := reader.readHeader(); err != nil {
		file.Close()
		return nil, err
	}
	if err := reader.readAttrSection(); err != nil {
		file.Close()
		return nil, err
	}
	if err := reader.readFeatureSectionDescriptors(); err != nil {
		file.Close()
		return nil, err
	}
	return reader, nil
}

func (inst *FileReader) Close() error {
	return inst.file.Close()
}

func (inst *FileReader) readAt(offset uint64, size uint64) ([]byte, error) {
	data := make([]byte, size)
	if _, err := inst.file.ReadAt(data, int64(offset)); err != nil {
		return nil, fmt.Errorf("Failed to read [%d] bytes at offset [%d], err [%s]", size, offset, err)
	}
	return data, nil
}

func (inst *FileReader) readHeader() error {
	data, err := inst.readAt(0, FileHeaderSize)
	if err != nil {
		return err
	}
	header := parseFileHeader(data)
	if string(header.Magic[:]) != HeaderMagic {
		return fmt.Errorf("Failed to recognize record file, magic [%q]", header.Magic)
	}
	if header.HeaderSize != FileHeaderSize {
		logrus.Warnf("Record file header size [%d] doesn't match expected header size [%d]",
			header.HeaderSize, FileHeaderSize)
	}
	if header.AttrSize != FileAttrSize {
		logrus.Warnf("Record file attr size [%d] doesn't match expected attr size [%d]",
			header.AttrSize, FileAttrSize)
	}
	inst.header = header
	return nil
}

func (inst *FileReader) readAttrSection() error {
	section := inst.header.Attrs
	for offset := section.Offset; offset+FileAttrSize <= section.Offset+section.Size; offset += FileAttrSize {
		data, err := inst.readAt(offset, FileAttrSize)
		if err != nil {
			return err
		}
		attr := ParseAttr(data[:PerfEventAttrSize])

		parser := FieldParser(data[PerfEventAttrSize:])
		var idSection SectionDesc
		parser.Uint64(&idSection.Offset)
		parser.Uint64(&idSection.Size)

		ids, err := inst.readIDs(idSection)
		if err != nil {
			return err
		}
		for _, id := range ids {
			inst.eventIDToAttr[id] = len(inst.attrs)
		}
		inst.attrs = append(inst.attrs, EventAttrWithID{Attr: attr, IDs: ids})
	}
	if len(inst.attrs) == 0 {
		return fmt.Errorf("Failed to find any attr in record file")
	}
	return nil
}

func (inst *FileReader) readIDs(section SectionDesc) ([]uint64, error) {
	if section.Size == 0 {
		return nil, nil
	}
	data, err := inst.readAt(section.Offset, section.Size)
	if err != nil {
		return nil, err
	}
	parser := FieldParser(data)
	ids := make([]uint64, section.Size/8)
	for i := range ids {
		parser.Uint64(&ids[i])
	}
	return ids, nil
}

// Feature section descriptors sit right after the data section, one per
// set feature bit, ordered by bit index.
func (inst *FileReader) readFeatureSectionDescriptors() error {
	features := inst.header.FeatureList()
	sections := map[Feature]SectionDesc{}
	offset := inst.header.Data.Offset + inst.header.Data.Size
	for _, feature := range features {
		data, err := inst.readAt(offset, 16)
		if err != nil {
			return err
		}
		parser := FieldParser(data)
		var section SectionDesc
		parser.Uint64(&section.Offset)
		parser.Uint64(&section.Size)
		sections[feature] = section
		offset += 16
	}
	inst.featureSections = sections
	return nil
}

func (inst *FileReader) FileHeader() *FileHeader {
	return inst.header
}

func (inst *FileReader) AttrSection() []EventAttrWithID {
	return inst.attrs
}

// GetAttrIndexOfRecord maps a record back to its attr via the event id
// the record carries. Records without an id belong to the first attr.
func (inst *FileReader) GetAttrIndexOfRecord(rec Record) int {
	var id uint64
	switch rec := rec.(type) {
	case *SampleRecord:
		id = rec.ID
		if rec.Identifier != 0 {
			id = rec.Identifier
		}
	default:
		if sampleID := recordSampleID(rec); sampleID != nil {
			id = sampleID.ID
		}
	}
	if index, isExist := inst.eventIDToAttr[id]; isExist {
		return index
	}
	return 0
}

func recordSampleID(rec Record) *SampleID {
	switch rec := rec.(type) {
	case *MmapRecord:
		return &rec.SampleID
	case *Mmap2Record:
		return &rec.SampleID
	case *CommRecord:
		return &rec.SampleID
	case *ExitRecord:
		return &rec.SampleID
	case *ForkRecord:
		return &rec.SampleID
	case *LostRecord:
		return &rec.SampleID
	case *LostSamplesRecord:
		return &rec.SampleID
	case *ItraceStartRecord:
		return &rec.SampleID
	case *SwitchRecord:
		return &rec.SampleID
	case *SwitchCPUWideRecord:
		return &rec.SampleID
	case *AuxRecord:
		return &rec.SampleID
	}
	return nil
}

// ReadDataSection pulls records out of the data section in stream order
// and hands each decoded record to the callback. A callback error stops
// the pass immediately.
func (inst *FileReader) ReadDataSection(callback func(rec Record) error) error {
	section := inst.header.Data
	offset := section.Offset
	end := section.Offset + section.Size
	for offset+RecordHeaderSize <= end {
		headerData, err := inst.readAt(offset, RecordHeaderSize)
		if err != nil {
			return err
		}
		var raw RawRecord
		parser := FieldParser(headerData)
		parser.Uint32((*uint32)(&raw.Header.Type))
		parser.Uint16(&raw.Header.Misc)
		parser.Uint16(&raw.Header.Size)
		if raw.Header.Size < RecordHeaderSize || offset+uint64(raw.Header.Size) > end {
			return fmt.Errorf("Failed to read record at offset [%d], invalid size [%d]", offset, raw.Header.Size)
		}

		raw.Data, err = inst.readAt(offset+RecordHeaderSize, uint64(raw.Header.Size)-RecordHeaderSize)
		if err != nil {
			return err
		}
		rec := ParseRecord(&raw, inst.attrs[0].Attr)
		offset += uint64(raw.Header.Size)

		// Raw hardware trace bytes trail an auxtrace record in the file
		// and are not part of the record stream.
		if auxTrace, isAuxTrace := rec.(*AuxTraceRecord); isAuxTrace {
			auxTrace.FileDataOffset = offset
			inst.auxDataLocs[auxTrace.CPU] = append(inst.auxDataLocs[auxTrace.CPU], auxDataLocation{
				auxOffset:  auxTrace.Offset,
				auxSize:    auxTrace.AuxSize,
				fileOffset: offset,
			})
			offset += auxTrace.AuxSize
		}

		if err := callback(rec); err != nil {
			return err
		}
	}
	return nil
}

// ReadAuxData reads hardware trace bytes recorded for a CPU, addressed
// by the offset space of the aux buffer.
func (inst *FileReader) ReadAuxData(cpu uint32, offset uint64, size uint64) ([]byte, error) {
	for _, loc := range inst.auxDataLocs[cpu] {
		if offset >= loc.auxOffset && offset+size <= loc.auxOffset+loc.auxSize {
			return inst.readAt(loc.fileOffset+(offset-loc.auxOffset), size)
		}
	}
	return nil, fmt.Errorf("Failed to find aux data for cpu [%d] at offset [%d] size [%d]", cpu, offset, size)
}

func (inst *FileReader) FeatureSectionDescriptors() map[Feature]SectionDesc {
	return inst.featureSections
}

func (inst *FileReader) HasFeature(feature Feature) bool {
	_, isExist := inst.featureSections[feature]
	return isExist
}

func (inst *FileReader) ReadFeatureSection(feature Feature) ([]byte, error) {
	section, isExist := inst.featureSections[feature]
	if !isExist {
		return nil, fmt.Errorf("Failed to find feature section [%d]", int(feature))
	}
	return inst.readAt(section.Offset, section.Size)
}

// ReadBuildIDFeature decodes the build id section: a sequence of build
// id records, each one a record header plus payload.
func (inst *FileReader) ReadBuildIDFeature() ([]*BuildIDRecord, error) {
	data, err := inst.ReadFeatureSection(FeatBuildID)
	if err != nil {
		return nil, err
	}
	records := []*BuildIDRecord{}
	for len(data) >= RecordHeaderSize {
		var raw RawRecord
		parser := FieldParser(data)
		parser.Uint32((*uint32)(&raw.Header.Type))
		parser.Uint16(&raw.Header.Misc)
		parser.Uint16(&raw.Header.Size)
		if raw.Header.Size < RecordHeaderSize || int(raw.Header.Size) > len(data) {
			return nil, fmt.Errorf("Failed to read build id record, invalid size [%d]", raw.Header.Size)
		}
		raw.Data = data[RecordHeaderSize:raw.Header.Size]

		rec := BuildIDRecord{}
		rec.Decode(&raw, nil)
		records = append(records, &rec)
		data = data[raw.Header.Size:]
	}
	return records, nil
}

// ReadFeatureString decodes a single-string feature section: a uint32
// length followed by the bytes of a NUL-terminated string.
func (inst *FileReader) ReadFeatureString(feature Feature) (string, error) {
	data, err := inst.ReadFeatureSection(feature)
	if err != nil {
		return "", err
	}
	parser := FieldParser(data)
	var value string
	parser.SizedString(&value)
	return value, nil
}

func (inst *FileReader) ReadCmdlineFeature() ([]string, error) {
	data, err := inst.ReadFeatureSection(FeatCmdline)
	if err != nil {
		return nil, err
	}
	parser := FieldParser(data)
	var count uint32
	parser.Uint32(&count)
	args := make([]string, count)
	for i := range args {
		parser.SizedString(&args[i])
	}
	return args, nil
}

type FileFeatureSymbol struct {
	Addr uint64
	Len  uint64
	Name string
}

type FileFeature struct {
	Path                 string
	Type                 uint32
	MinVaddr             uint64
	FileOffsetOfMinVaddr uint64
	Symbols              []FileFeatureSymbol
	DexFileOffsets       []uint64
}

// DsoDexFile is the binary type whose file feature records carry a list
// of sub-file offsets.
const DsoDexFile = 3

// ReadFileFeature reads one per-binary record from the file feature
// section, advancing readPos. It returns nil without error once the
// section is exhausted.
func (inst *FileReader) ReadFileFeature(readPos *uint64) (*FileFeature, error) {
	section, isExist := inst.featureSections[FeatFile]
	if !isExist || *readPos+4 > section.Size {
		return nil, nil
	}
	sizeData, err := inst.readAt(section.Offset+*readPos, 4)
	if err != nil {
		return nil, err
	}
	parser := FieldParser(sizeData)
	var recSize uint32
	parser.Uint32(&recSize)
	if *readPos+4+uint64(recSize) > section.Size {
		return nil, fmt.Errorf("Failed to read file feature record, invalid size [%d]", recSize)
	}

	data, err := inst.readAt(section.Offset+*readPos+4, uint64(recSize))
	if err != nil {
		return nil, err
	}
	*readPos += 4 + uint64(recSize)

	parser = FieldParser(data)
	var file FileFeature
	parser.String(&file.Path)
	parser.Uint32(&file.Type)
	parser.Uint64(&file.MinVaddr)
	parser.Uint64(&file.FileOffsetOfMinVaddr)

	var symbolCount uint32
	parser.Uint32(&symbolCount)
	file.Symbols = make([]FileFeatureSymbol, symbolCount)
	for i := range file.Symbols {
		parser.Uint64(&file.Symbols[i].Addr)
		parser.Uint64(&file.Symbols[i].Len)
		parser.String(&file.Symbols[i].Name)
	}
	if file.Type == DsoDexFile {
		var offsetCount uint32
		parser.Uint32(&offsetCount)
		file.DexFileOffsets = make([]uint64, offsetCount)
		for i := range file.DexFileOffsets {
			parser.Uint64(&file.DexFileOffsets[i])
		}
	}
	return &file, nil
}

// ReadMetaInfoFeature decodes the key-value section: NUL-terminated key
// and value strings, alternating until the section ends.
func (inst *FileReader) ReadMetaInfoFeature() (map[string]string, error) {
	data, err := inst.ReadFeatureSection(FeatMetaInfo)
	if err != nil {
		return nil, err
	}
	metaInfo := map[string]string{}
	parser := FieldParser(data)
	for parser.Len() > 0 {
		var key, value string
		parser.String(&key)
		if parser.Len() == 0 || key == "" {
			break
		}
		parser.String(&value)
		metaInfo[key] = value
	}
	return metaInfo, nil
}

// ReadAuxTraceFeature returns the file offsets of the auxtrace records.
func (inst *FileReader) ReadAuxTraceFeature() ([]uint64, error) {
	data, err := inst.ReadFeatureSection(FeatAuxTrace)
	if err != nil {
		return nil, err
	}
	parser := FieldParser(data)
	offsets := make([]uint64, len(data)/8)
	for i := range offsets {
		parser.Uint64(&offsets[i])
	}
	return offsets, nil
}
