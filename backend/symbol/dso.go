package symbol

import (
	"fmt"
	"os"
	"sort"

	"github.com/golang/groupcache/lru"
)

type DsoType uint32

const (
	DsoKernel DsoType = iota
	DsoKernelModule
	DsoElfFile
	DsoDexFile
	DsoSymbolMapFile
	DsoUnknownFile
)

func (dsoType DsoType) String() string {
	switch dsoType {
	case DsoKernel:
		return "dso_kernel"
	case DsoKernelModule:
		return "dso_kernel_module"
	case DsoElfFile:
		return "dso_elf_file"
	case DsoDexFile:
		return "dso_dex_file"
	case DsoSymbolMapFile:
		return "dso_symbol_map_file"
	}
	return "dso_unknown_file"
}

type Symbol struct {
	Addr uint64
	Len  uint64
	Name string
}

const lruCacheSize = 128

// Dso is one mapped binary and its symbol table, sorted by address.
type Dso struct {
	Path                 string
	Type                 DsoType
	MinVaddr             uint64
	FileOffsetOfMinVaddr uint64
	BuildID              string

	symbols []Symbol
	cache   *lru.Cache
}

func NewDso(dsoType DsoType, path string) *Dso {
	return &Dso{
		Path:  path,
		Type:  dsoType,
		cache: lru.New(lruCacheSize),
	}
}

func (inst *Dso) SetSymbols(symbols []Symbol) {
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Addr < symbols[j].Addr })
	inst.symbols = symbols
	inst.cache = lru.New(lruCacheSize)
}

func (inst *Dso) Symbols() []Symbol {
	return inst.symbols
}

// FindSymbol returns the closest symbol at or below vaddr, or nil when
// no symbol covers it.
func (inst *Dso) FindSymbol(vaddr uint64) *Symbol {
	if cached, isExist := inst.cache.Get(vaddr); isExist {
		return cached.(*Symbol)
	}
	symbol := inst.searchSymbol(vaddr)
	inst.cache.Add(vaddr, symbol)
	return symbol
}

func (inst *Dso) searchSymbol(vaddr uint64) *Symbol {
	idx := sort.Search(len(inst.symbols), func(i int) bool { return vaddr < inst.symbols[i].Addr })
	if idx == 0 {
		return nil
	}
	symbol := &inst.symbols[idx-1]
	if symbol.Len > 0 && vaddr >= symbol.Addr+symbol.Len {
		return nil
	}
	return symbol
}

var symbolDirs []string

// AddSymbolDir registers a directory searched recursively for binaries
// during symbolization. The directory must exist.
func AddSymbolDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("Failed to add symbol dir [%s], err [%s]", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("Failed to add symbol dir [%s], not a directory", dir)
	}
	symbolDirs = append(symbolDirs, dir)
	return nil
}

func SymbolDirs() []string {
	return symbolDirs
}
