package tracing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Format is the parsed tracefs format description of one tracepoint
// event, keyed by the event id the kernel assigns to it.
type Format struct {
	Name   string
	ID     uint64
	Fields []Field
}

// Data holds every tracepoint format carried by a tracing data record.
type Data struct {
	formats []*Format
	byID    map[uint64]*Format
}

// ParseTracingData parses the text payload of a tracing data record: the
// concatenated tracefs format files of all recorded tracepoint events.
func ParseTracingData(data []byte) (*Data, error) {
	inst := &Data{byID: map[uint64]*Format{}}
	for _, text := range splitFormatFiles(string(data)) {
		format, err := parseFormatText(text)
		if err != nil {
			return nil, err
		}
		inst.formats = append(inst.formats, format)
		inst.byID[format.ID] = format
	}
	return inst, nil
}

// FormatHavingID looks up the format declared for an event id.
func (inst *Data) FormatHavingID(id uint64) (*Format, bool) {
	format, isExist := inst.byID[id]
	return format, isExist
}

func (inst *Data) Formats() []*Format {
	return inst.formats
}

// Each format file starts with a "name:" line, which never appears at
// the start of a line elsewhere in the file.
func splitFormatFiles(text string) []string {
	files := []string{}
	start := -1
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "name:") {
			if start >= 0 {
				files = append(files, strings.Join(lines[start:i], "\n"))
			}
			start = i
		}
	}
	if start >= 0 {
		files = append(files, strings.Join(lines[start:], "\n"))
	}
	return files
}

func parseFormatText(text string) (*Format, error) {
	format := Format{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "name:"):
			format.Name = strings.TrimSpace(strings.TrimPrefix(line, "name:"))
		case strings.HasPrefix(line, "ID:"):
			id, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "ID:")), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("Failed to parse event id in format [%s], err [%s]", format.Name, err)
			}
			format.ID = id
		case strings.HasPrefix(line, "field:"):
			field, err := parseFieldLine(line)
			if err != nil {
				logrus.Warnf("Failed to parse field line [%s], err [%s]", line, err)
				continue
			}
			format.Fields = append(format.Fields, field)
		case strings.HasPrefix(line, "print fmt:"):
			continue
		}
	}
	if format.Name == "" {
		return nil, fmt.Errorf("Failed to find event name in tracing format")
	}
	return &format, nil
}

// parseFieldLine decodes one tracefs field declaration, e.g.
// "field:char comm[16]; offset:8; size:16; signed:1;".
func parseFieldLine(line string) (Field, error) {
	field := Field{}
	var decl string
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		var err error
		switch key {
		case "field":
			decl = value
		case "offset":
			field.Offset, err = strconv.ParseUint(value, 10, 64)
		case "size":
			field.ElemSize, err = strconv.ParseUint(value, 10, 64)
		case "signed":
			field.IsSigned = value == "1"
		}
		if err != nil {
			return Field{}, err
		}
	}
	if decl == "" || field.ElemSize == 0 {
		return Field{}, fmt.Errorf("incomplete field declaration")
	}

	field.ElemCount = 1
	name := decl[strings.LastIndexByte(decl, ' ')+1:]
	if open := strings.IndexByte(name, '['); open >= 0 {
		end := strings.IndexByte(name, ']')
		if end > open+1 {
			count, err := strconv.ParseUint(name[open+1:end], 10, 64)
			if err == nil && count > 0 && field.ElemSize%count == 0 {
				field.ElemCount = count
				field.ElemSize /= count
			}
		}
		name = name[:open]
	}
	field.Name = name
	return field, nil
}
