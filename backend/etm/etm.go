// Package etm covers the boundary to the instruction trace decoder: the
// inspector constructs a decoder from an auxtrace info record and feeds
// it raw trace bytes. The packet and element level decode is supplied by
// an external decoder library behind the Decoder interface.
package etm

import (
	"fmt"
	"io"
	"strings"

	"github.com/aaqibdv/platform-system-extras/backend/perf"
	"github.com/aaqibdv/platform-system-extras/backend/symbol"
)

// AuxTypeEtm is the auxtrace type of coresight ETM data.
const AuxTypeEtm = 3

type DumpOption struct {
	DumpRaw      bool
	DumpPackets  bool
	DumpElements bool
}

// ParseDumpOption parses a comma separated list of dump categories. Any
// unrecognized category is an error.
func ParseDumpOption(value string, option *DumpOption) error {
	for _, token := range strings.Split(value, ",") {
		switch token {
		case "raw":
			option.DumpRaw = true
		case "packet":
			option.DumpPackets = true
		case "element":
			option.DumpElements = true
		default:
			return fmt.Errorf("Failed to parse etm dump option, unknown type [%s]", token)
		}
	}
	return nil
}

// Decoder consumes raw hardware trace bytes.
type Decoder interface {
	EnableDump(option DumpOption)
	ProcessData(data []byte) error
}

type rawDecoder struct {
	out    io.Writer
	tree   *symbol.ThreadTree
	option DumpOption
}

// NewDecoder builds a decoder from the trace parameters in an auxtrace
// info record and the current process model.
func NewDecoder(info *perf.AuxTraceInfoRecord, tree *symbol.ThreadTree, out io.Writer) (Decoder, error) {
	if info.AuxType != AuxTypeEtm {
		return nil, fmt.Errorf("Failed to create etm decoder, unsupported aux type [%d]", info.AuxType)
	}
	return &rawDecoder{out: out, tree: tree}, nil
}

func (inst *rawDecoder) EnableDump(option DumpOption) {
	inst.option = option
}

func (inst *rawDecoder) ProcessData(data []byte) error {
	if !inst.option.DumpRaw {
		return nil
	}
	fmt.Fprintf(inst.out, "etm raw data: %d bytes\n", len(data))
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		line := make([]string, 0, 16)
		for _, b := range data[i:end] {
			line = append(line, fmt.Sprintf("%02x", b))
		}
		fmt.Fprintf(inst.out, "  %08x: %s\n", i, strings.Join(line, " "))
	}
	return nil
}
