package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindThreadOrNew(t *testing.T) {
	tree := NewThreadTree()

	thread := tree.FindThreadOrNew(10, 11)
	require.NotNil(t, thread)
	assert.Equal(t, uint32(10), thread.Pid)
	assert.Equal(t, uint32(11), thread.Tid)
	assert.Equal(t, UnknownComm, thread.Comm)

	tree.SetThreadComm(10, 11, "worker")
	assert.Equal(t, "worker", tree.FindThreadOrNew(10, 11).Comm)
	assert.Same(t, thread, tree.FindThreadOrNew(10, 11))
}

func TestForkThreadCopiesMaps(t *testing.T) {
	tree := NewThreadTree()
	tree.SetThreadComm(1, 1, "parent")
	tree.AddThreadMap(1, 1, 0x1000, 0x1000, 0, "/bin/parent")

	tree.ForkThread(2, 2, 1, 1)
	child := tree.FindThreadOrNew(2, 2)
	assert.Equal(t, "parent", child.Comm)

	entry := tree.FindMap(child, 0x1800, false)
	assert.Equal(t, "/bin/parent", entry.Dso.Path)
}

func TestFindMapKernelVsUser(t *testing.T) {
	tree := NewThreadTree()
	tree.AddKernelMap(0xffff0000, 0x10000, 0, "[kernel.kallsyms]")
	tree.AddThreadMap(5, 5, 0x1000, 0x1000, 0, "/bin/foo")
	thread := tree.FindThreadOrNew(5, 5)

	entry := tree.FindMap(thread, 0xffff1234, true)
	assert.Equal(t, DsoKernel, entry.Dso.Type)

	entry = tree.FindMap(thread, 0x1234, false)
	assert.Equal(t, "/bin/foo", entry.Dso.Path)

	// A user address never matches kernel mappings and vice versa.
	entry = tree.FindMap(thread, 0x1234, true)
	assert.Equal(t, UnknownDsoPath, entry.Dso.Path)
}

func TestFindMapMissReturnsPlaceholder(t *testing.T) {
	tree := NewThreadTree()
	thread := tree.FindThreadOrNew(7, 7)

	entry := tree.FindMap(thread, 0xdeadbeef, false)
	require.NotNil(t, entry)
	assert.Equal(t, UnknownDsoPath, entry.Dso.Path)

	dso, sym, _ := tree.FindSymbol(entry, 0xdeadbeef)
	require.NotNil(t, dso)
	require.NotNil(t, sym)
	assert.Equal(t, UnknownComm, sym.Name)
}

func TestFindSymbolShowIPForUnknown(t *testing.T) {
	tree := NewThreadTree()
	tree.ShowIPForUnknownSymbol()
	thread := tree.FindThreadOrNew(7, 7)

	entry := tree.FindMap(thread, 0xdead, false)
	_, sym, _ := tree.FindSymbol(entry, 0xdead)
	assert.Equal(t, "0xdead", sym.Name)
}

func TestFindSymbolNearest(t *testing.T) {
	tree := NewThreadTree()
	tree.AddDsoSymbols(DsoElfFile, "/bin/foo", 0, 0, []Symbol{
		{Addr: 0x400, Len: 0x100, Name: "main"},
		{Addr: 0x500, Len: 0x80, Name: "helper"},
	})
	tree.AddThreadMap(5, 5, 0x1000, 0x1000, 0, "/bin/foo")
	thread := tree.FindThreadOrNew(5, 5)

	entry := tree.FindMap(thread, 0x1450, false)
	dso, sym, vaddrInFile := tree.FindSymbol(entry, 0x1450)
	assert.Equal(t, "/bin/foo", dso.Path)
	assert.Equal(t, "main", sym.Name)
	assert.Equal(t, uint64(0x450), vaddrInFile)

	_, sym, _ = tree.FindSymbol(entry, 0x1500)
	assert.Equal(t, "helper", sym.Name)

	// Beyond the last symbol's length there is no match.
	_, sym, _ = tree.FindSymbol(entry, 0x1600)
	assert.Equal(t, UnknownComm, sym.Name)
}

func TestMapVaddrInFileAdjustment(t *testing.T) {
	dso := NewDso(DsoElfFile, "/bin/foo")
	dso.MinVaddr = 0x400
	dso.FileOffsetOfMinVaddr = 0x400
	entry := MapEntry{StartAddr: 0x1000, Len: 0x1000, Pgoff: 0x400, Dso: dso}
	assert.Equal(t, uint64(0x450), entry.GetVaddrInFile(0x1050))

	kernel := MapEntry{StartAddr: 0xffff0000, Len: 0x10000, Dso: NewDso(DsoKernel, "[kernel.kallsyms]")}
	assert.Equal(t, uint64(0xffff1234), kernel.GetVaddrInFile(0xffff1234))
}

func TestAddSymbolDir(t *testing.T) {
	assert.Error(t, AddSymbolDir("/nonexistent/path"))
	assert.NoError(t, AddSymbolDir(t.TempDir()))
}
