package symbol

import (
	"fmt"
	"sort"

	"github.com/aaqibdv/platform-system-extras/backend/perf"
)

const (
	UnknownComm    = "unknown"
	UnknownDsoPath = "unknown"
)

// MapEntry is one memory mapping of a binary into an address space.
type MapEntry struct {
	StartAddr uint64
	Len       uint64
	Pgoff     uint64
	Dso       *Dso
}

func (inst *MapEntry) Contains(ip uint64) bool {
	return ip >= inst.StartAddr && ip < inst.StartAddr+inst.Len
}

// GetVaddrInFile moves ip from the mapped address space into the
// binary's own address space.
func (inst *MapEntry) GetVaddrInFile(ip uint64) uint64 {
	if inst.Dso.Type == DsoKernel {
		return ip
	}
	return ip - inst.StartAddr + inst.Pgoff + inst.Dso.MinVaddr - inst.Dso.FileOffsetOfMinVaddr
}

type ThreadEntry struct {
	Pid  uint32
	Tid  uint32
	Comm string
}

// ThreadTree is the live process/thread/mapping model built up from the
// record stream. Threads are created lazily on first reference, user
// mappings belong to the owning process, kernel mappings are global.
type ThreadTree struct {
	threads     map[uint64]*ThreadEntry
	processMaps map[uint32][]MapEntry
	kernelMaps  []MapEntry
	dsos        map[string]*Dso

	kernelDso  *Dso
	unknownDso *Dso
	unknownMap MapEntry

	showIPForUnknownSymbol bool
	unknownSymbol          Symbol
}

func NewThreadTree() *ThreadTree {
	unknownDso := NewDso(DsoUnknownFile, UnknownDsoPath)
	return &ThreadTree{
		threads:       map[uint64]*ThreadEntry{},
		processMaps:   map[uint32][]MapEntry{},
		dsos:          map[string]*Dso{},
		kernelDso:     NewDso(DsoKernel, "[kernel.kallsyms]"),
		unknownDso:    unknownDso,
		unknownMap:    MapEntry{Dso: unknownDso},
		unknownSymbol: Symbol{Name: UnknownComm},
	}
}

// ShowIPForUnknownSymbol names unsymbolizable addresses by their raw
// instruction pointer instead of a shared placeholder.
func (inst *ThreadTree) ShowIPForUnknownSymbol() {
	inst.showIPForUnknownSymbol = true
}

func threadKey(pid, tid uint32) uint64 {
	return uint64(pid)<<32 | uint64(tid)
}

// FindThreadOrNew returns the thread entry for (pid, tid), synthesizing
// one on first reference.
func (inst *ThreadTree) FindThreadOrNew(pid, tid uint32) *ThreadEntry {
	key := threadKey(pid, tid)
	if thread, isExist := inst.threads[key]; isExist {
		return thread
	}
	thread := &ThreadEntry{Pid: pid, Tid: tid, Comm: UnknownComm}
	inst.threads[key] = thread
	return thread
}

func (inst *ThreadTree) SetThreadComm(pid, tid uint32, comm string) {
	inst.FindThreadOrNew(pid, tid).Comm = comm
}

func (inst *ThreadTree) ForkThread(pid, tid, ppid, ptid uint32) {
	parent := inst.FindThreadOrNew(ppid, ptid)
	child := inst.FindThreadOrNew(pid, tid)
	child.Comm = parent.Comm
	if pid != ppid {
		maps := make([]MapEntry, len(inst.processMaps[ppid]))
		copy(maps, inst.processMaps[ppid])
		inst.processMaps[pid] = maps
	}
}

func (inst *ThreadTree) ExitThread(pid, tid uint32) {
	delete(inst.threads, threadKey(pid, tid))
}

func (inst *ThreadTree) FindDsoOrNew(dsoType DsoType, path string) *Dso {
	if dso, isExist := inst.dsos[path]; isExist {
		return dso
	}
	dso := NewDso(dsoType, path)
	inst.dsos[path] = dso
	return dso
}

func insertMap(maps []MapEntry, entry MapEntry) []MapEntry {
	idx := sort.Search(len(maps), func(i int) bool { return entry.StartAddr < maps[i].StartAddr })
	maps = append(maps, MapEntry{})
	copy(maps[idx+1:], maps[idx:])
	maps[idx] = entry
	return maps
}

func (inst *ThreadTree) AddThreadMap(pid, tid uint32, start, length, pgoff uint64, filename string) {
	inst.FindThreadOrNew(pid, tid)
	dso := inst.FindDsoOrNew(DsoElfFile, filename)
	inst.processMaps[pid] = insertMap(inst.processMaps[pid], MapEntry{
		StartAddr: start,
		Len:       length,
		Pgoff:     pgoff,
		Dso:       dso,
	})
}

func (inst *ThreadTree) AddKernelMap(start, length, pgoff uint64, filename string) {
	dso := inst.kernelDso
	if filename != dso.Path && filename != "" {
		dso = inst.FindDsoOrNew(DsoKernelModule, filename)
	}
	inst.kernelMaps = insertMap(inst.kernelMaps, MapEntry{
		StartAddr: start,
		Len:       length,
		Pgoff:     pgoff,
		Dso:       dso,
	})
}

func searchMaps(maps []MapEntry, ip uint64) *MapEntry {
	idx := sort.Search(len(maps), func(i int) bool { return ip < maps[i].StartAddr })
	if idx == 0 {
		return nil
	}
	entry := &maps[idx-1]
	if !entry.Contains(ip) {
		return nil
	}
	return entry
}

// FindMap locates the mapping covering ip, searching kernel mappings if
// inKernel, else the user mappings of the thread's process. A miss
// yields a placeholder mapping, never nil.
func (inst *ThreadTree) FindMap(thread *ThreadEntry, ip uint64, inKernel bool) *MapEntry {
	var entry *MapEntry
	if inKernel {
		entry = searchMaps(inst.kernelMaps, ip)
	} else {
		entry = searchMaps(inst.processMaps[thread.Pid], ip)
	}
	if entry == nil {
		return &inst.unknownMap
	}
	return entry
}

// FindSymbol resolves ip inside a mapping to the nearest symbol and the
// address in the binary's own address space. Missing symbolization
// yields a placeholder, never a failure.
func (inst *ThreadTree) FindSymbol(entry *MapEntry, ip uint64) (*Dso, *Symbol, uint64) {
	vaddrInFile := entry.GetVaddrInFile(ip)
	symbol := entry.Dso.FindSymbol(vaddrInFile)
	if symbol == nil {
		if inst.showIPForUnknownSymbol {
			symbol = &Symbol{Addr: ip, Name: fmt.Sprintf("0x%x", ip)}
		} else {
			symbol = &inst.unknownSymbol
		}
	}
	return entry.Dso, symbol, vaddrInFile
}

// AddDsoSymbols preloads the symbol table of one binary, as recorded in
// the file's per-binary feature section.
func (inst *ThreadTree) AddDsoSymbols(dsoType DsoType, path string, minVaddr, fileOffsetOfMinVaddr uint64, symbols []Symbol) {
	dso := inst.FindDsoOrNew(dsoType, path)
	dso.Type = dsoType
	dso.MinVaddr = minVaddr
	dso.FileOffsetOfMinVaddr = fileOffsetOfMinVaddr
	dso.SetSymbols(symbols)
}

func (inst *ThreadTree) SetDsoBuildID(path, buildID string) {
	inst.FindDsoOrNew(DsoUnknownFile, path).BuildID = buildID
}

// Update feeds one record's model-relevant information into the tree.
// Every record type may carry mapping or comm changes, so the dispatcher
// calls this unconditionally before type-specific handling.
func (inst *ThreadTree) Update(rec perf.Record) {
	switch rec := rec.(type) {
	case *perf.MmapRecord:
		if rec.InKernel() {
			inst.AddKernelMap(rec.Addr, rec.Len, rec.Pgoff, rec.Filename)
		} else {
			inst.AddThreadMap(rec.Pid, rec.Tid, rec.Addr, rec.Len, rec.Pgoff, rec.Filename)
		}
	case *perf.Mmap2Record:
		if rec.InKernel() {
			inst.AddKernelMap(rec.Addr, rec.Len, rec.Pgoff, rec.Filename)
		} else {
			inst.AddThreadMap(rec.Pid, rec.Tid, rec.Addr, rec.Len, rec.Pgoff, rec.Filename)
		}
	case *perf.CommRecord:
		inst.SetThreadComm(rec.Pid, rec.Tid, rec.Comm)
	case *perf.ForkRecord:
		inst.ForkThread(rec.Pid, rec.Tid, rec.Ppid, rec.Ptid)
	case *perf.ExitRecord:
		inst.ExitThread(rec.Pid, rec.Tid)
	}
}
