package perf

// The record file starts with a fixed header locating the attr and data
// sections. Keyed feature sections follow the data section, one section
// descriptor per bit set in the header's feature bitmap.

const HeaderMagic = "PERFILE2"

const FileHeaderSize = 104

// FileAttrSize is the compiled byte length of one attr section entry: a
// perf_event_attr followed by the section descriptor of its id array.
const FileAttrSize = PerfEventAttrSize + 16

type SectionDesc struct {
	Offset uint64
	Size   uint64
}

type FileHeader struct {
	Magic      [8]byte
	HeaderSize uint64
	AttrSize   uint64
	Attrs      SectionDesc
	Data       SectionDesc
	EventTypes SectionDesc
	Features   [4]uint64
}

func (header *FileHeader) HasFeature(feature Feature) bool {
	return header.Features[feature/64]&(1<<(uint(feature)%64)) != 0
}

// FeatureList returns the set feature bits in ascending order.
func (header *FileHeader) FeatureList() []Feature {
	features := []Feature{}
	for feature := Feature(0); feature < FeatMaxNum; feature++ {
		if header.HasFeature(feature) {
			features = append(features, feature)
		}
	}
	return features
}

type Feature int

const (
	FeatTracingData Feature = iota + 1
	FeatBuildID
	FeatHostname
	FeatOSRelease
	FeatVersion
	FeatArch
	FeatNrCpus
	FeatCPUDesc
	FeatCPUID
	FeatTotalMem
	FeatCmdline
	FeatEventDesc
	FeatCPUTopology
	FeatNUMATopology
	FeatBranchStack
	FeatPMUMappings
	FeatGroupDesc
	FeatAuxTrace
)

const (
	FeatFile     Feature = 128
	FeatMetaInfo Feature = 129
	FeatMaxNum   Feature = 256
)

var featureNames = map[Feature]string{
	FeatTracingData:  "tracing_data",
	FeatBuildID:      "build_id",
	FeatHostname:     "hostname",
	FeatOSRelease:    "osrelease",
	FeatVersion:      "version",
	FeatArch:         "arch",
	FeatNrCpus:       "nrcpus",
	FeatCPUDesc:      "cpudesc",
	FeatCPUID:        "cpuid",
	FeatTotalMem:     "total_mem",
	FeatCmdline:      "cmdline",
	FeatEventDesc:    "event_desc",
	FeatCPUTopology:  "cpu_topology",
	FeatNUMATopology: "numa_topology",
	FeatBranchStack:  "branch_stack",
	FeatPMUMappings:  "pmu_mappings",
	FeatGroupDesc:    "group_desc",
	FeatAuxTrace:     "auxtrace",
	FeatFile:         "file",
	FeatMetaInfo:     "meta_info",
}

// FeatureName returns the name of a known feature key, or "" for keys this
// package does not recognize.
func FeatureName(feature Feature) string {
	return featureNames[feature]
}

func parseFileHeader(data []byte) *FileHeader {
	parser := FieldParser(data)
	var header FileHeader

	copy(header.Magic[:], parser[:8])
	parser.advance(8)
	parser.Uint64(&header.HeaderSize)
	parser.Uint64(&header.AttrSize)
	for _, section := range []*SectionDesc{&header.Attrs, &header.Data, &header.EventTypes} {
		parser.Uint64(&section.Offset)
		parser.Uint64(&section.Size)
	}
	for i := range header.Features {
		parser.Uint64(&header.Features[i])
	}
	return &header
}
