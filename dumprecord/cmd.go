// Package dumprecord implements the record file inspector: it dumps the
// file header, attr section and every record in the data section,
// symbolizing sample addresses and decoding tracepoint payloads, then
// dumps the trailing feature sections.
package dumprecord

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/aaqibdv/platform-system-extras/backend/etm"
	"github.com/aaqibdv/platform-system-extras/backend/perf"
	"github.com/aaqibdv/platform-system-extras/backend/symbol"
	"github.com/aaqibdv/platform-system-extras/backend/tracing"
)

const DefaultRecordFilename = "perf.data"

// EventInfo caches the tracepoint field layout and the resolved extract
// function per field for one attr. Built once from the tracing data
// record, immutable afterwards.
type EventInfo struct {
	tpDataSize   uint64
	tpFields     []tracing.Field
	extractFuncs []tracing.ExtractFieldFunc
}

type Command struct {
	RecordFilename string
	EtmDumpOption  etm.DumpOption
	Out            io.Writer

	reader     *perf.FileReader
	etmDecoder etm.Decoder
	threadTree *symbol.ThreadTree
	events     []EventInfo
}

func NewCommand() *Command {
	return &Command{
		RecordFilename: DefaultRecordFilename,
		Out:            os.Stdout,
	}
}

func (inst *Command) Run() error {
	reader, err := perf.NewFileReader(inst.RecordFilename)
	if err != nil {
		return err
	}
	defer reader.Close()
	inst.reader = reader
	inst.threadTree = symbol.NewThreadTree()
	inst.threadTree.ShowIPForUnknownSymbol()

	inst.DumpFileHeader()
	inst.DumpAttrSection()
	if err := inst.DumpDataSection(); err != nil {
		return err
	}
	return inst.DumpFeatureSection()
}

func (inst *Command) printIndented(level int, format string, args ...interface{}) {
	for i := 0; i < level; i++ {
		fmt.Fprint(inst.Out, "  ")
	}
	fmt.Fprintf(inst.Out, format, args...)
}

func featureNameOrUnknown(feature perf.Feature) string {
	if name := perf.FeatureName(feature); name != "" {
		return name
	}
	return fmt.Sprintf("unknown_feature(%d)", int(feature))
}

func (inst *Command) DumpFileHeader() {
	header := inst.reader.FileHeader()
	fmt.Fprintf(inst.Out, "magic: %s\n", string(header.Magic[:]))
	fmt.Fprintf(inst.Out, "header_size: %d\n", header.HeaderSize)
	fmt.Fprintf(inst.Out, "attr_size: %d\n", header.AttrSize)
	fmt.Fprintf(inst.Out, "attrs[file section]: offset %d, size %d\n", header.Attrs.Offset, header.Attrs.Size)
	fmt.Fprintf(inst.Out, "data[file section]: offset %d, size %d\n", header.Data.Offset, header.Data.Size)
	fmt.Fprintf(inst.Out, "event_types[file section]: offset %d, size %d\n",
		header.EventTypes.Offset, header.EventTypes.Size)
	for _, feature := range header.FeatureList() {
		fmt.Fprintf(inst.Out, "feature: %s\n", featureNameOrUnknown(feature))
	}
}

func (inst *Command) DumpAttrSection() {
	for i, attr := range inst.reader.AttrSection() {
		fmt.Fprintf(inst.Out, "attr %d:\n", i+1)
		inst.dumpEventAttr(1, attr.Attr)
		if len(attr.IDs) > 0 {
			inst.printIndented(1, "ids:")
			for _, id := range attr.IDs {
				fmt.Fprintf(inst.Out, " %d", id)
			}
			fmt.Fprintln(inst.Out)
		}
	}
}

func (inst *Command) DumpDataSection() error {
	if err := inst.loadBuildIDAndFileFeatures(); err != nil {
		return err
	}
	return inst.reader.ReadDataSection(inst.processRecord)
}

// loadBuildIDAndFileFeatures preloads the thread tree's symbol tables
// from the file's own feature sections, so sample symbolization can hit
// symbols recorded at profiling time.
func (inst *Command) loadBuildIDAndFileFeatures() error {
	if inst.reader.HasFeature(perf.FeatBuildID) {
		records, err := inst.reader.ReadBuildIDFeature()
		if err != nil {
			return err
		}
		for _, rec := range records {
			inst.threadTree.SetDsoBuildID(rec.Filename, fmt.Sprintf("%x", rec.BuildID))
		}
	}
	if inst.reader.HasFeature(perf.FeatFile) {
		readPos := uint64(0)
		for {
			file, err := inst.reader.ReadFileFeature(&readPos)
			if err != nil {
				return err
			}
			if file == nil {
				break
			}
			symbols := make([]symbol.Symbol, len(file.Symbols))
			for i, sym := range file.Symbols {
				symbols[i] = symbol.Symbol{Addr: sym.Addr, Len: sym.Len, Name: sym.Name}
			}
			inst.threadTree.AddDsoSymbols(symbol.DsoType(file.Type), file.Path,
				file.MinVaddr, file.FileOffsetOfMinVaddr, symbols)
		}
	}
	return nil
}

// processRecord handles one record: generic dump first, then the model
// update, then type-specific handling. The model update precedes the
// type-specific step so symbolization sees the record's own mappings.
func (inst *Command) processRecord(rec perf.Record) error {
	inst.dumpRecord(rec)
	inst.threadTree.Update(rec)

	switch rec := rec.(type) {
	case *perf.SampleRecord:
		inst.processSampleRecord(rec)
	case *perf.CallChainRecord:
		inst.processCallChainRecord(rec)
	case *perf.AuxTraceInfoRecord:
		decoder, err := etm.NewDecoder(rec, inst.threadTree, inst.Out)
		if err != nil {
			return err
		}
		decoder.EnableDump(inst.EtmDumpOption)
		inst.etmDecoder = decoder
	case *perf.AuxRecord:
		return inst.dumpAuxData(rec)
	case *perf.TracingDataRecord:
		return inst.processTracingData(rec)
	}
	return nil
}

func (inst *Command) getSymbolInfo(pid, tid uint32, ip uint64, inKernel bool) (*symbol.Dso, *symbol.Symbol, uint64) {
	thread := inst.threadTree.FindThreadOrNew(pid, tid)
	entry := inst.threadTree.FindMap(thread, ip, inKernel)
	return inst.threadTree.FindSymbol(entry, ip)
}

func (inst *Command) processSampleRecord(rec *perf.SampleRecord) {
	attrIndex := inst.reader.GetAttrIndexOfRecord(rec)
	attr := inst.reader.AttrSection()[attrIndex].Attr

	if attr.SampleFormat.Callchain {
		inKernel := rec.InKernel()
		inst.printIndented(1, "callchain:\n")
		for _, ip := range rec.CallchainIPs {
			// Entries at or above the context marker threshold flag a
			// privilege-level switch for the following entries.
			if ip >= perf.ContextMax {
				if ip == perf.ContextUser {
					inKernel = false
				}
				continue
			}
			dso, sym, vaddrInFile := inst.getSymbolInfo(rec.Pid, rec.Tid, ip, inKernel)
			inst.printIndented(2, "%s (%s[+%x])\n", sym.Name, dso.Path, vaddrInFile)
		}
	}
	if len(inst.events) == 0 {
		return
	}
	event := &inst.events[attrIndex]
	if event.tpDataSize == 0 || uint64(len(rec.RawData)) < event.tpDataSize {
		return
	}
	inst.printIndented(1, "tracepoint fields:\n")
	pos := uint64(0)
	for i, field := range event.tpFields {
		value := event.extractFuncs[i](field, rec.RawData[pos:])
		inst.printIndented(2, "%s: %s\n", field.Name, value)
		pos += field.ElemSize * field.ElemCount
	}
}

// processCallChainRecord symbolizes an offline-unwound chain. These
// always describe the user stack of the thread, so no context marker
// filtering applies.
func (inst *Command) processCallChainRecord(rec *perf.CallChainRecord) {
	inst.printIndented(1, "callchain:\n")
	for _, ip := range rec.IPs {
		dso, sym, vaddrInFile := inst.getSymbolInfo(rec.Pid, rec.Tid, ip, false)
		inst.printIndented(2, "%s (%s[+%x])\n", sym.Name, dso.Path, vaddrInFile)
	}
}

func (inst *Command) dumpAuxData(rec *perf.AuxRecord) error {
	if rec.Size == 0 {
		return nil
	}
	data, err := inst.reader.ReadAuxData(rec.CPU, rec.Offset, rec.Size)
	if err != nil {
		return err
	}
	if inst.etmDecoder == nil {
		return fmt.Errorf("Failed to process aux data, no auxtrace_info record seen")
	}
	return inst.etmDecoder.ProcessData(data)
}

// processTracingData builds the per-attr tracepoint decode cache. The
// record enumerates the formats of every tracepoint attr in the file and
// is the only source of field layout for the rest of the pass.
func (inst *Command) processTracingData(rec *perf.TracingDataRecord) error {
	data, err := tracing.ParseTracingData(rec.Data)
	if err != nil {
		return err
	}
	attrs := inst.reader.AttrSection()
	inst.events = make([]EventInfo, len(attrs))
	for i, attr := range attrs {
		if attr.Attr.Type != perf.Tracepoint {
			continue
		}
		format, isExist := data.FormatHavingID(attr.Attr.Config)
		if !isExist {
			continue
		}
		event := &inst.events[i]
		event.tpFields = format.Fields
		for _, field := range format.Fields {
			event.extractFuncs = append(event.extractFuncs, tracing.GetExtractFieldFunction(field))
			event.tpDataSize += field.ElemSize * field.ElemCount
		}
	}
	return nil
}

// DumpFeatureSection walks the keyed feature sections in ascending key
// order, regardless of where their payloads sit in the file.
func (inst *Command) DumpFeatureSection() error {
	sections := inst.reader.FeatureSectionDescriptors()
	features := make([]perf.Feature, 0, len(sections))
	for feature := range sections {
		features = append(features, feature)
	}
	sort.Slice(features, func(i, j int) bool { return features[i] < features[j] })

	for _, feature := range features {
		section := sections[feature]
		fmt.Fprintf(inst.Out, "feature section for %s: offset %d, size %d\n",
			featureNameOrUnknown(feature), section.Offset, section.Size)

		switch feature {
		case perf.FeatBuildID:
			records, err := inst.reader.ReadBuildIDFeature()
			if err != nil {
				return err
			}
			for _, rec := range records {
				inst.printIndented(1, "build_id_record:\n")
				inst.printIndented(2, "pid %d\n", rec.Pid)
				inst.printIndented(2, "build_id 0x%x\n", rec.BuildID)
				inst.printIndented(2, "filename %s\n", rec.Filename)
			}
		case perf.FeatOSRelease:
			value, err := inst.reader.ReadFeatureString(feature)
			if err != nil {
				return err
			}
			inst.printIndented(1, "osrelease: %s\n", value)
		case perf.FeatArch:
			value, err := inst.reader.ReadFeatureString(feature)
			if err != nil {
				return err
			}
			inst.printIndented(1, "arch: %s\n", value)
		case perf.FeatCmdline:
			args, err := inst.reader.ReadCmdlineFeature()
			if err != nil {
				return err
			}
			cmdline := ""
			for i, arg := range args {
				if i > 0 {
					cmdline += " "
				}
				cmdline += arg
			}
			inst.printIndented(1, "cmdline: %s\n", cmdline)
		case perf.FeatFile:
			if err := inst.dumpFileFeature(); err != nil {
				return err
			}
		case perf.FeatMetaInfo:
			metaInfo, err := inst.reader.ReadMetaInfoFeature()
			if err != nil {
				return err
			}
			inst.printIndented(1, "meta_info:\n")
			for key, value := range metaInfo {
				inst.printIndented(2, "%s = %s\n", key, value)
			}
		case perf.FeatAuxTrace:
			offsets, err := inst.reader.ReadAuxTraceFeature()
			if err != nil {
				return err
			}
			inst.printIndented(1, "file_offsets_of_auxtrace_records:\n")
			for _, offset := range offsets {
				inst.printIndented(2, "%d\n", offset)
			}
		}
	}
	return nil
}

func (inst *Command) dumpFileFeature() error {
	inst.printIndented(1, "file:\n")
	readPos := uint64(0)
	for {
		file, err := inst.reader.ReadFileFeature(&readPos)
		if err != nil {
			return err
		}
		if file == nil {
			return nil
		}
		inst.printIndented(2, "file_path %s\n", file.Path)
		inst.printIndented(2, "file_type %s\n", symbol.DsoType(file.Type))
		inst.printIndented(2, "min_vaddr 0x%x\n", file.MinVaddr)
		inst.printIndented(2, "file_offset_of_min_vaddr 0x%x\n", file.FileOffsetOfMinVaddr)
		inst.printIndented(2, "symbols:\n")
		for _, sym := range file.Symbols {
			inst.printIndented(3, "%s [0x%x-0x%x]\n", sym.Name, sym.Addr, sym.Addr+sym.Len)
		}
		if file.Type == perf.DsoDexFile {
			inst.printIndented(2, "dex_file_offsets:\n")
			for _, offset := range file.DexFileOffsets {
				inst.printIndented(3, "0x%x\n", offset)
			}
		}
	}
}
