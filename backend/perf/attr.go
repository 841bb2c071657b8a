package perf

import (
	"golang.org/x/sys/unix"
)

type EventType uint32

const (
	Hardware   EventType = unix.PERF_TYPE_HARDWARE
	Software   EventType = unix.PERF_TYPE_SOFTWARE
	Tracepoint EventType = unix.PERF_TYPE_TRACEPOINT
	HWCache    EventType = unix.PERF_TYPE_HW_CACHE
	Raw        EventType = unix.PERF_TYPE_RAW
	Breakpoint EventType = unix.PERF_TYPE_BREAKPOINT
)

func (eventType EventType) String() string {
	switch eventType {
	case Hardware:
		return "hardware"
	case Software:
		return "software"
	case Tracepoint:
		return "tracepoint"
	case HWCache:
		return "hw-cache"
	case Raw:
		return "raw"
	case Breakpoint:
		return "breakpoint"
	}
	return "unknown"
}

type SampleFormat struct {
	IP           bool
	Tid          bool
	Time         bool
	Addr         bool
	Read         bool
	Callchain    bool
	ID           bool
	CPU          bool
	Period       bool
	StreamID     bool
	Raw          bool
	BranchStack  bool
	RegsUser     bool
	StackUser    bool
	Weight       bool
	DataSrc      bool
	Identifier   bool
	Transaction  bool
	RegsIntr     bool
	PhysAddr     bool
	Aux          bool
	Cgroup       bool
	DataPageSize bool
	CodePageSize bool
	WeightStruct bool
}

func bitFieldsToUint64(bitFields []bool) uint64 {
	var val uint64

	for shift, set := range bitFields {
		if set {
			val |= (1 << uint(shift))
		}
	}

	return val
}

func uint64ToBitFields(val uint64, bitFields []*bool) {
	for shift, field := range bitFields {
		*field = val&(1<<uint(shift)) != 0
	}
}

func (format *SampleFormat) bitFieldPtrs() []*bool {
	return []*bool{
		&format.IP,
		&format.Tid,
		&format.Time,
		&format.Addr,
		&format.Read,
		&format.Callchain,
		&format.ID,
		&format.CPU,
		&format.Period,
		&format.StreamID,
		&format.Raw,
		&format.BranchStack,
		&format.RegsUser,
		&format.StackUser,
		&format.Weight,
		&format.DataSrc,
		&format.Identifier,
		&format.Transaction,
		&format.RegsIntr,
		&format.PhysAddr,
		&format.Aux,
		&format.Cgroup,
		&format.DataPageSize,
		&format.CodePageSize,
		&format.WeightStruct,
	}
}

func (format *SampleFormat) BitFields() uint64 {
	ptrs := format.bitFieldPtrs()
	bitFields := make([]bool, len(ptrs))
	for i, ptr := range ptrs {
		bitFields[i] = *ptr
	}
	return bitFieldsToUint64(bitFields)
}

func (format *SampleFormat) SetBitFields(val uint64) {
	uint64ToBitFields(val, format.bitFieldPtrs())
}

type ReadFormat struct {
	TotalTimeEnabled bool
	TotalTimeRunning bool
	ID               bool
	Group            bool
}

func (format *ReadFormat) bitFieldPtrs() []*bool {
	return []*bool{
		&format.TotalTimeEnabled,
		&format.TotalTimeRunning,
		&format.ID,
		&format.Group,
	}
}

func (format *ReadFormat) BitFields() uint64 {
	ptrs := format.bitFieldPtrs()
	bitFields := make([]bool, len(ptrs))
	for i, ptr := range ptrs {
		bitFields[i] = *ptr
	}
	return bitFieldsToUint64(bitFields)
}

func (format *ReadFormat) SetBitFields(val uint64) {
	uint64ToBitFields(val, format.bitFieldPtrs())
}

type Options struct {
	Disabled               bool
	Inherit                bool
	Pinned                 bool
	Exclusive              bool
	ExcludeUser            bool
	ExcludeKernel          bool
	ExcludeHv              bool
	ExcludeIdle            bool
	Mmap                   bool
	Comm                   bool
	Freq                   bool
	InheritStat            bool
	EnableOnExec           bool
	Task                   bool
	Watermark              bool
	PreciseIPBit1          bool
	PreciseIPBit2          bool
	MmapData               bool
	SampleIDAll            bool
	ExcludeHost            bool
	ExcludeGuest           bool
	ExcludeCallchainKernel bool
	ExcludeCallchainUser   bool
	Mmap2                  bool
	CommExec               bool
	UseClockID             bool
	ContextSwitch          bool
	WriteBackward          bool
	Namespaces             bool
	Ksymbol                bool
	BpfEvent               bool
	AuxOutput              bool
	Cgroup                 bool
	TextPoke               bool
}

func (opt *Options) bitFieldPtrs() []*bool {
	return []*bool{
		&opt.Disabled,
		&opt.Inherit,
		&opt.Pinned,
		&opt.Exclusive,
		&opt.ExcludeUser,
		&opt.ExcludeKernel,
		&opt.ExcludeHv,
		&opt.ExcludeIdle,
		&opt.Mmap,
		&opt.Comm,
		&opt.Freq,
		&opt.InheritStat,
		&opt.EnableOnExec,
		&opt.Task,
		&opt.Watermark,
		&opt.PreciseIPBit1,
		&opt.PreciseIPBit2,
		&opt.MmapData,
		&opt.SampleIDAll,
		&opt.ExcludeHost,
		&opt.ExcludeGuest,
		&opt.ExcludeCallchainKernel,
		&opt.ExcludeCallchainUser,
		&opt.Mmap2,
		&opt.CommExec,
		&opt.UseClockID,
		&opt.ContextSwitch,
		&opt.WriteBackward,
		&opt.Namespaces,
		&opt.Ksymbol,
		&opt.BpfEvent,
		&opt.AuxOutput,
		&opt.Cgroup,
		&opt.TextPoke,
	}
}

func (opt *Options) BitFields() uint64 {
	ptrs := opt.bitFieldPtrs()
	bitFields := make([]bool, len(ptrs))
	for i, ptr := range ptrs {
		bitFields[i] = *ptr
	}
	return bitFieldsToUint64(bitFields)
}

func (opt *Options) SetBitFields(val uint64) {
	uint64ToBitFields(val, opt.bitFieldPtrs())
}

// Attr is the decoded form of an on-disk perf_event_attr.
type Attr struct {
	Type             EventType
	Size             uint32
	Config           uint64
	Sample           uint64
	SampleFormat     SampleFormat
	ReadFormat       ReadFormat
	Options          Options
	Wakeup           uint32
	BreakpointType   uint32
	Config1          uint64
	Config2          uint64
	BranchSampleType uint64
	SampleRegsUser   uint64
	SampleStackUser  uint32
	ClockID          int32
	SampleRegsIntr   uint64
	AuxWatermark     uint32
	SampleMaxStack   uint16
}

// PerfEventAttrSize is the byte length of the perf_event_attr revision this
// package decodes. Files written with other revisions still parse, the size
// mismatch is only warned about.
const PerfEventAttrSize = 128

// ParseAttr decodes a perf_event_attr from its on-disk little-endian layout.
// The buffer must hold at least PerfEventAttrSize bytes.
func ParseAttr(data []byte) *Attr {
	parser := FieldParser(data)
	var attr Attr
	var sampleType, readFormat, flags uint64
	var reserved uint16

	parser.Uint32((*uint32)(&attr.Type))
	parser.Uint32(&attr.Size)
	parser.Uint64(&attr.Config)
	parser.Uint64(&attr.Sample)
	parser.Uint64(&sampleType)
	parser.Uint64(&readFormat)
	parser.Uint64(&flags)
	parser.Uint32(&attr.Wakeup)
	parser.Uint32(&attr.BreakpointType)
	parser.Uint64(&attr.Config1)
	parser.Uint64(&attr.Config2)
	parser.Uint64(&attr.BranchSampleType)
	parser.Uint64(&attr.SampleRegsUser)
	parser.Uint32(&attr.SampleStackUser)
	parser.Int32(&attr.ClockID)
	parser.Uint64(&attr.SampleRegsIntr)
	parser.Uint32(&attr.AuxWatermark)
	parser.Uint16(&attr.SampleMaxStack)
	parser.Uint16(&reserved)

	attr.SampleFormat.SetBitFields(sampleType)
	attr.ReadFormat.SetBitFields(readFormat)
	attr.Options.SetBitFields(flags)
	return &attr
}

// EventAttrWithID pairs an attr with the event ids it applies to in the
// record stream.
type EventAttrWithID struct {
	Attr *Attr
	IDs  []uint64
}
