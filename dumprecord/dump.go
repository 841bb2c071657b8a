package dumprecord

import (
	"fmt"

	"github.com/aaqibdv/platform-system-extras/backend/perf"
)

// dumpRecord renders the declared fields of any record variant. The
// variant set is closed by the file format, unhandled types land in the
// UnknownRecord arm with a raw byte dump.
func (inst *Command) dumpRecord(rec perf.Record) {
	switch rec := rec.(type) {
	case *perf.MmapRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "pid %d, tid %d, addr 0x%x, len 0x%x\n", rec.Pid, rec.Tid, rec.Addr, rec.Len)
		inst.printIndented(1, "pgoff 0x%x, filename %s\n", rec.Pgoff, rec.Filename)
		inst.dumpSampleID(&rec.SampleID)
	case *perf.Mmap2Record:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "pid %d, tid %d, addr 0x%x, len 0x%x\n", rec.Pid, rec.Tid, rec.Addr, rec.Len)
		inst.printIndented(1, "pgoff 0x%x, maj %d, min %d, ino %d, ino_generation %d\n",
			rec.Pgoff, rec.MajorID, rec.MinorID, rec.Ino, rec.InoGeneration)
		inst.printIndented(1, "prot %d, flags %d, filename %s\n", rec.Prot, rec.Flags, rec.Filename)
		inst.dumpSampleID(&rec.SampleID)
	case *perf.CommRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "pid %d, tid %d, comm %s\n", rec.Pid, rec.Tid, rec.Comm)
		inst.dumpSampleID(&rec.SampleID)
	case *perf.ExitRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "pid %d, ppid %d, tid %d, ptid %d, time %d\n",
			rec.Pid, rec.Ppid, rec.Tid, rec.Ptid, rec.Time)
		inst.dumpSampleID(&rec.SampleID)
	case *perf.ForkRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "pid %d, ppid %d, tid %d, ptid %d, time %d\n",
			rec.Pid, rec.Ppid, rec.Tid, rec.Ptid, rec.Time)
		inst.dumpSampleID(&rec.SampleID)
	case *perf.LostRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "id %d, lost %d\n", rec.ID, rec.Lost)
		inst.dumpSampleID(&rec.SampleID)
	case *perf.LostSamplesRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "lost %d\n", rec.Lost)
		inst.dumpSampleID(&rec.SampleID)
	case *perf.ItraceStartRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "pid %d, tid %d\n", rec.Pid, rec.Tid)
		inst.dumpSampleID(&rec.SampleID)
	case *perf.SwitchRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.dumpSampleID(&rec.SampleID)
	case *perf.SwitchCPUWideRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "next_prev_pid %d, next_prev_tid %d\n", rec.NextPrevPid, rec.NextPrevTid)
		inst.dumpSampleID(&rec.SampleID)
	case *perf.SampleRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "sample_ip 0x%x, pid %d, tid %d, time %d, period %d\n",
			rec.IP, rec.Pid, rec.Tid, rec.Time, rec.Period)
		inst.printIndented(1, "addr 0x%x, id %d, stream_id %d, cpu %d\n",
			rec.Addr, rec.ID, rec.StreamID, rec.CPU)
		if len(rec.CallchainIPs) > 0 {
			inst.printIndented(1, "callchain nr=%d\n", len(rec.CallchainIPs))
			for _, ip := range rec.CallchainIPs {
				inst.printIndented(2, "0x%x\n", ip)
			}
		}
		if len(rec.RawData) > 0 {
			inst.printIndented(1, "raw size=%d\n", len(rec.RawData))
		}
	case *perf.CallChainRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "pid %d, tid %d, chain_type %d, time %d, ip_nr %d\n",
			rec.Pid, rec.Tid, rec.ChainType, rec.Time, len(rec.IPs))
		for _, ip := range rec.IPs {
			inst.printIndented(2, "0x%x\n", ip)
		}
	case *perf.TracingDataRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "data size %d\n", len(rec.Data))
	case *perf.AuxTraceInfoRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "aux_type %d, priv data %d words\n", rec.AuxType, len(rec.PrivData))
	case *perf.AuxTraceRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "aux_size %d, offset %d, reference %d\n", rec.AuxSize, rec.Offset, rec.Reference)
		inst.printIndented(1, "idx %d, tid %d, cpu %d\n", rec.Idx, rec.Tid, rec.CPU)
	case *perf.AuxRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "aux_offset %d, aux_size %d, flags 0x%x\n", rec.Offset, rec.Size, rec.Flags)
		inst.dumpSampleID(&rec.SampleID)
	case *perf.BuildIDRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "pid %d, build_id 0x%x, filename %s\n", rec.Pid, rec.BuildID, rec.Filename)
	case *perf.UnknownRecord:
		inst.dumpRecordHeader(&rec.Header)
		inst.printIndented(1, "data size %d\n", len(rec.Data))
	}
}

func (inst *Command) dumpRecordHeader(header *perf.Header) {
	fmt.Fprintf(inst.Out, "record %s: type %d, misc %d, size %d\n",
		header.Type, uint32(header.Type), header.Misc, header.Size)
}

func (inst *Command) dumpSampleID(sampleID *perf.SampleID) {
	if !inst.reader.AttrSection()[0].Attr.Options.SampleIDAll {
		return
	}
	inst.printIndented(1, "sample_id: pid %d, tid %d, time %d, id %d, cpu %d\n",
		sampleID.Pid, sampleID.Tid, sampleID.Time, sampleID.ID, sampleID.CPU)
}

func (inst *Command) dumpEventAttr(level int, attr *perf.Attr) {
	inst.printIndented(level, "event_type %d (%s), size %d, config %d\n",
		uint32(attr.Type), attr.Type, attr.Size, attr.Config)
	if attr.Options.Freq {
		inst.printIndented(level, "sample_freq %d\n", attr.Sample)
	} else {
		inst.printIndented(level, "sample_period %d\n", attr.Sample)
	}
	inst.printIndented(level, "sample_type 0x%x\n", attr.SampleFormat.BitFields())
	inst.printIndented(level, "read_format 0x%x\n", attr.ReadFormat.BitFields())
	inst.printIndented(level, "disabled %t, inherit %t, pinned %t, exclusive %t\n",
		attr.Options.Disabled, attr.Options.Inherit, attr.Options.Pinned, attr.Options.Exclusive)
	inst.printIndented(level, "exclude_user %t, exclude_kernel %t, exclude_hv %t, exclude_idle %t\n",
		attr.Options.ExcludeUser, attr.Options.ExcludeKernel, attr.Options.ExcludeHv, attr.Options.ExcludeIdle)
	inst.printIndented(level, "mmap %t, comm %t, freq %t, sample_id_all %t\n",
		attr.Options.Mmap, attr.Options.Comm, attr.Options.Freq, attr.Options.SampleIDAll)
	inst.printIndented(level, "wakeup_events %d, bp_type %d, config1 %d, config2 %d\n",
		attr.Wakeup, attr.BreakpointType, attr.Config1, attr.Config2)
	inst.printIndented(level, "branch_sample_type 0x%x, sample_regs_user 0x%x, sample_stack_user %d\n",
		attr.BranchSampleType, attr.SampleRegsUser, attr.SampleStackUser)
	inst.printIndented(level, "sample_max_stack %d\n", attr.SampleMaxStack)
}
