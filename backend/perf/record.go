package perf

import (
	"math/bits"

	"golang.org/x/sys/unix"
)

type RecordType uint32

const (
	MmapRec          RecordType = unix.PERF_RECORD_MMAP
	LostRec          RecordType = unix.PERF_RECORD_LOST
	CommRec          RecordType = unix.PERF_RECORD_COMM
	ExitRec          RecordType = unix.PERF_RECORD_EXIT
	ForkRec          RecordType = unix.PERF_RECORD_FORK
	SampleRec        RecordType = unix.PERF_RECORD_SAMPLE
	Mmap2Rec         RecordType = unix.PERF_RECORD_MMAP2
	AuxRec           RecordType = unix.PERF_RECORD_AUX
	ItraceStartRec   RecordType = unix.PERF_RECORD_ITRACE_START
	LostSamplesRec   RecordType = unix.PERF_RECORD_LOST_SAMPLES
	SwitchRec        RecordType = unix.PERF_RECORD_SWITCH
	SwitchCPUWideRec RecordType = unix.PERF_RECORD_SWITCH_CPU_WIDE
)

// Userspace record types, from tools/perf and the profiler's own range.
const (
	TracingDataRec  RecordType = 66
	BuildIDRec      RecordType = 67
	AuxTraceInfoRec RecordType = 70
	AuxTraceRec     RecordType = 71

	profilerTypeStart           = 32768
	CallChainRec     RecordType = profilerTypeStart + 7
	TracingData2Rec  RecordType = profilerTypeStart + 9
)

func (recordType RecordType) String() string {
	switch recordType {
	case MmapRec:
		return "mmap"
	case LostRec:
		return "lost"
	case CommRec:
		return "comm"
	case ExitRec:
		return "exit"
	case ForkRec:
		return "fork"
	case SampleRec:
		return "sample"
	case Mmap2Rec:
		return "mmap2"
	case AuxRec:
		return "aux"
	case ItraceStartRec:
		return "itrace_start"
	case LostSamplesRec:
		return "lost_samples"
	case SwitchRec:
		return "switch"
	case SwitchCPUWideRec:
		return "switch_cpu_wide"
	case TracingDataRec, TracingData2Rec:
		return "tracing_data"
	case BuildIDRec:
		return "build_id"
	case AuxTraceInfoRec:
		return "auxtrace_info"
	case AuxTraceRec:
		return "auxtrace"
	case CallChainRec:
		return "callchain"
	}
	return "unknown"
}

// Sentinel values in call chains marking privilege-level transitions
// instead of code addresses, PERF_CONTEXT_* in the kernel uapi.
const (
	ContextHypervisor  uint64 = 0xffffffffffffffe0
	ContextKernel      uint64 = 0xffffffffffffff80
	ContextUser        uint64 = 0xfffffffffffffe00
	ContextGuest       uint64 = 0xfffffffffffff800
	ContextGuestKernel uint64 = 0xfffffffffffff780
	ContextGuestUser   uint64 = 0xfffffffffffff600
	ContextMax         uint64 = 0xfffffffffffff001
)

const RecordHeaderSize = 8

type Header struct {
	Type RecordType
	Misc uint16
	Size uint16
}

func (header *Header) InKernel() bool {
	return header.Misc&unix.PERF_RECORD_MISC_KERNEL == unix.PERF_RECORD_MISC_KERNEL
}

type RawRecord struct {
	Header Header
	Data   []byte
}

type Record interface {
	Decode(raw *RawRecord, attr *Attr)
}

type SampleID struct {
	Pid        uint32
	Tid        uint32
	Time       uint64
	ID         uint64
	StreamID   uint64
	CPU        uint32
	Identifier uint64
}

type MmapRecord struct {
	Header
	Pid      uint32
	Tid      uint32
	Addr     uint64
	Len      uint64
	Pgoff    uint64
	Filename string
	SampleID
}

func (rec *MmapRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint32(&rec.Pid)
	parser.Uint32(&rec.Tid)
	parser.Uint64(&rec.Addr)
	parser.Uint64(&rec.Len)
	parser.Uint64(&rec.Pgoff)
	parser.String(&rec.Filename)
	parseSampleIDAtEnd(raw, attr, &rec.SampleID)
}

type Mmap2Record struct {
	Header
	Pid           uint32
	Tid           uint32
	Addr          uint64
	Len           uint64
	Pgoff         uint64
	MajorID       uint32
	MinorID       uint32
	Ino           uint64
	InoGeneration uint64
	Prot          uint32
	Flags         uint32
	Filename      string
	SampleID
}

func (rec *Mmap2Record) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint32(&rec.Pid)
	parser.Uint32(&rec.Tid)
	parser.Uint64(&rec.Addr)
	parser.Uint64(&rec.Len)
	parser.Uint64(&rec.Pgoff)
	parser.Uint32(&rec.MajorID)
	parser.Uint32(&rec.MinorID)
	parser.Uint64(&rec.Ino)
	parser.Uint64(&rec.InoGeneration)
	parser.Uint32(&rec.Prot)
	parser.Uint32(&rec.Flags)
	parser.String(&rec.Filename)
	parseSampleIDAtEnd(raw, attr, &rec.SampleID)
}

type CommRecord struct {
	Header
	Pid  uint32
	Tid  uint32
	Comm string
	SampleID
}

func (rec *CommRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint32(&rec.Pid)
	parser.Uint32(&rec.Tid)
	parser.String(&rec.Comm)
	parseSampleIDAtEnd(raw, attr, &rec.SampleID)
}

type ExitRecord struct {
	Header
	Pid  uint32
	Ppid uint32
	Tid  uint32
	Ptid uint32
	Time uint64
	SampleID
}

func (rec *ExitRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint32(&rec.Pid)
	parser.Uint32(&rec.Ppid)
	parser.Uint32(&rec.Tid)
	parser.Uint32(&rec.Ptid)
	parser.Uint64(&rec.Time)
	parseSampleIDAtEnd(raw, attr, &rec.SampleID)
}

type ForkRecord struct {
	Header
	Pid  uint32
	Ppid uint32
	Tid  uint32
	Ptid uint32
	Time uint64
	SampleID
}

func (rec *ForkRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint32(&rec.Pid)
	parser.Uint32(&rec.Ppid)
	parser.Uint32(&rec.Tid)
	parser.Uint32(&rec.Ptid)
	parser.Uint64(&rec.Time)
	parseSampleIDAtEnd(raw, attr, &rec.SampleID)
}

type LostRecord struct {
	Header
	ID   uint64
	Lost uint64
	SampleID
}

func (rec *LostRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint64(&rec.ID)
	parser.Uint64(&rec.Lost)
	parseSampleIDAtEnd(raw, attr, &rec.SampleID)
}

type LostSamplesRecord struct {
	Header
	Lost uint64
	SampleID
}

func (rec *LostSamplesRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint64(&rec.Lost)
	parseSampleIDAtEnd(raw, attr, &rec.SampleID)
}

type ItraceStartRecord struct {
	Header
	Pid uint32
	Tid uint32
	SampleID
}

func (rec *ItraceStartRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint32(&rec.Pid)
	parser.Uint32(&rec.Tid)
	parseSampleIDAtEnd(raw, attr, &rec.SampleID)
}

type SwitchRecord struct {
	Header
	SampleID
}

func (rec *SwitchRecord) Decode(raw *RawRecord, attr *Attr) {
	rec.Header = raw.Header
	parseSampleIDAtEnd(raw, attr, &rec.SampleID)
}

type SwitchCPUWideRecord struct {
	Header
	NextPrevPid uint32
	NextPrevTid uint32
	SampleID
}

func (rec *SwitchCPUWideRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint32(&rec.NextPrevPid)
	parser.Uint32(&rec.NextPrevTid)
	parseSampleIDAtEnd(raw, attr, &rec.SampleID)
}

type ReadContent struct {
	Value       uint64
	TimeEnabled uint64
	TimeRunning uint64
	ID          uint64
}

type SampleRecord struct {
	Header
	Identifier    uint64
	IP            uint64
	Pid           uint32
	Tid           uint32
	Time          uint64
	Addr          uint64
	ID            uint64
	StreamID      uint64
	CPU           uint32
	Period        uint64
	ReadContent   ReadContent
	CallchainIPs  []uint64
	RawData       []byte
	RegsUserABI   uint64
	RegsUserRegs  []uint64
	StackUserData []byte
	Weight        uint64
	DataSrc       uint64
	Transaction   uint64
	PhysAddr      uint64
}

func (rec *SampleRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint64Cond(attr.SampleFormat.Identifier, &rec.Identifier)
	parser.Uint64Cond(attr.SampleFormat.IP, &rec.IP)
	parser.Uint32Cond(attr.SampleFormat.Tid, &rec.Pid)
	parser.Uint32Cond(attr.SampleFormat.Tid, &rec.Tid)
	parser.Uint64Cond(attr.SampleFormat.Time, &rec.Time)
	parser.Uint64Cond(attr.SampleFormat.Addr, &rec.Addr)
	parser.Uint64Cond(attr.SampleFormat.ID, &rec.ID)
	parser.Uint64Cond(attr.SampleFormat.StreamID, &rec.StreamID)

	var reserved uint32
	parser.Uint32Cond(attr.SampleFormat.CPU, &rec.CPU)
	parser.Uint32Cond(attr.SampleFormat.CPU, &reserved)
	parser.Uint64Cond(attr.SampleFormat.Period, &rec.Period)
	if attr.SampleFormat.Read {
		parser.ParseReadContent(attr.ReadFormat, &rec.ReadContent)
	}
	if attr.SampleFormat.Callchain {
		var nr uint64
		parser.Uint64(&nr)
		rec.CallchainIPs = make([]uint64, nr)
		for i := 0; i < int(nr); i++ {
			parser.Uint64(&rec.CallchainIPs[i])
		}
	}
	if attr.SampleFormat.Raw {
		parser.BytesByUint32Size(&rec.RawData)
	}
	if attr.SampleFormat.RegsUser {
		parser.Uint64(&rec.RegsUserABI)
		nr := bits.OnesCount64(attr.SampleRegsUser)
		rec.RegsUserRegs = make([]uint64, nr)
		for i := 0; i < nr; i++ {
			parser.Uint64(&rec.RegsUserRegs[i])
		}
	}
	if attr.SampleFormat.StackUser {
		parser.BytesByUint64Size(&rec.StackUserData)
	}
	parser.Uint64Cond(attr.SampleFormat.Weight, &rec.Weight)
	parser.Uint64Cond(attr.SampleFormat.DataSrc, &rec.DataSrc)
	parser.Uint64Cond(attr.SampleFormat.Transaction, &rec.Transaction)
	parser.Uint64Cond(attr.SampleFormat.PhysAddr, &rec.PhysAddr)
}

// CallChainRecord is the profiler's own record for an offline-unwound
// user stack of one thread.
type CallChainRecord struct {
	Header
	Pid       uint32
	Tid       uint32
	ChainType uint64
	Time      uint64
	IPs       []uint64
}

func (rec *CallChainRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint32(&rec.Pid)
	parser.Uint32(&rec.Tid)
	parser.Uint64(&rec.ChainType)
	parser.Uint64(&rec.Time)

	var nr uint64
	parser.Uint64(&nr)
	rec.IPs = make([]uint64, nr)
	for i := 0; i < int(nr); i++ {
		parser.Uint64(&rec.IPs[i])
	}
}

// TracingDataRecord carries the tracing format descriptions for every
// tracepoint attr in the file.
type TracingDataRecord struct {
	Header
	Data []byte
}

func (rec *TracingDataRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.BytesByUint32Size(&rec.Data)
}

// AuxTraceInfoRecord describes the hardware trace stream. Its private
// words are consumed by the trace decoder, not interpreted here.
type AuxTraceInfoRecord struct {
	Header
	AuxType  uint32
	PrivData []uint64
}

func (rec *AuxTraceInfoRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	var reserved uint32
	parser.Uint32(&rec.AuxType)
	parser.Uint32(&reserved)
	rec.PrivData = make([]uint64, parser.Len()/8)
	for i := range rec.PrivData {
		parser.Uint64(&rec.PrivData[i])
	}
}

// AuxTraceRecord locates a block of raw hardware trace bytes that
// directly follows the record in the file.
type AuxTraceRecord struct {
	Header
	AuxSize   uint64
	Offset    uint64
	Reference uint64
	Idx       uint32
	Tid       uint32
	CPU       uint32

	// FileDataOffset is where the trailing trace bytes sit in the file,
	// filled in by the reader.
	FileDataOffset uint64
}

func (rec *AuxTraceRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	var reserved uint32
	parser.Uint64(&rec.AuxSize)
	parser.Uint64(&rec.Offset)
	parser.Uint64(&rec.Reference)
	parser.Uint32(&rec.Idx)
	parser.Uint32(&rec.Tid)
	parser.Uint32(&rec.CPU)
	parser.Uint32(&reserved)
}

type AuxRecord struct {
	Header
	Offset uint64
	Size   uint64
	Flags  uint64
	SampleID
}

func (rec *AuxRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Uint64(&rec.Offset)
	parser.Uint64(&rec.Size)
	parser.Uint64(&rec.Flags)
	parseSampleIDAtEnd(raw, attr, &rec.SampleID)
}

// BuildIDRecord only appears inside the build id feature section, never
// in the data section.
type BuildIDRecord struct {
	Header
	Pid      int32
	BuildID  []byte
	Filename string
}

func (rec *BuildIDRecord) Decode(raw *RawRecord, attr *Attr) {
	parser := FieldParser(raw.Data)
	rec.Header = raw.Header
	parser.Int32(&rec.Pid)
	parser.Bytes(buildIDSize, &rec.BuildID)
	parser.advance(buildIDPadding)
	parser.String(&rec.Filename)
}

const (
	buildIDSize    = 20
	buildIDPadding = 4
)

type UnknownRecord struct {
	Header
	Data []byte
}

func (rec *UnknownRecord) Decode(raw *RawRecord, attr *Attr) {
	rec.Header = raw.Header
	rec.Data = raw.Data
}

// parseSampleIDAtEnd decodes the sample id trailer at the tail of a
// non-sample record.
func parseSampleIDAtEnd(raw *RawRecord, attr *Attr, sampleID *SampleID) {
	if attr == nil || !attr.Options.SampleIDAll {
		return
	}
	size := sampleIDTrailerSize(attr.SampleFormat)
	if size > len(raw.Data) {
		return
	}
	parser := FieldParser(raw.Data[len(raw.Data)-size:])
	parser.ParseSampleID(true, attr.SampleFormat, sampleID)
}

func sampleIDTrailerSize(format SampleFormat) int {
	size := 0
	if format.Tid {
		size += 8
	}
	if format.Time {
		size += 8
	}
	if format.ID {
		size += 8
	}
	if format.StreamID {
		size += 8
	}
	if format.CPU {
		size += 8
	}
	if format.Identifier {
		size += 8
	}
	return size
}

// ParseRecord decodes one raw record into its typed variant. Types with
// no compiled-in layout come back as UnknownRecord, never an error.
func ParseRecord(raw *RawRecord, attr *Attr) Record {
	var rec Record
	switch raw.Header.Type {
	case MmapRec:
		rec = &MmapRecord{}
	case Mmap2Rec:
		rec = &Mmap2Record{}
	case CommRec:
		rec = &CommRecord{}
	case ExitRec:
		rec = &ExitRecord{}
	case ForkRec:
		rec = &ForkRecord{}
	case LostRec:
		rec = &LostRecord{}
	case LostSamplesRec:
		rec = &LostSamplesRecord{}
	case ItraceStartRec:
		rec = &ItraceStartRecord{}
	case SwitchRec:
		rec = &SwitchRecord{}
	case SwitchCPUWideRec:
		rec = &SwitchCPUWideRecord{}
	case SampleRec:
		rec = &SampleRecord{}
	case CallChainRec:
		rec = &CallChainRecord{}
	case TracingDataRec, TracingData2Rec:
		rec = &TracingDataRecord{}
	case AuxTraceInfoRec:
		rec = &AuxTraceInfoRecord{}
	case AuxTraceRec:
		rec = &AuxTraceRecord{}
	case AuxRec:
		rec = &AuxRecord{}
	case BuildIDRec:
		rec = &BuildIDRecord{}
	default:
		rec = &UnknownRecord{}
	}
	rec.Decode(raw, attr)
	return rec
}
