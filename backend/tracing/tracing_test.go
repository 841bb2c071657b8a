package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schedSwitchFormat = `name: sched_switch
ID: 316
format:
	field:unsigned short common_type;	offset:0;	size:2;	signed:0;
	field:unsigned char common_flags;	offset:2;	size:1;	signed:0;
	field:char prev_comm[16];	offset:8;	size:16;	signed:1;
	field:pid_t prev_pid;	offset:24;	size:4;	signed:1;

print fmt: "prev_comm=%s prev_pid=%d", REC->prev_comm, REC->prev_pid
`

const markFormat = `name: mark
ID: 42
format:
	field:int value;	offset:0;	size:4;	signed:1;
`

func TestParseTracingData(t *testing.T) {
	data, err := ParseTracingData([]byte(schedSwitchFormat + markFormat))
	require.NoError(t, err)
	require.Len(t, data.Formats(), 2)

	format, isExist := data.FormatHavingID(316)
	require.True(t, isExist)
	assert.Equal(t, "sched_switch", format.Name)
	require.Len(t, format.Fields, 4)

	assert.Equal(t, Field{Name: "common_type", Offset: 0, ElemSize: 2, ElemCount: 1}, format.Fields[0])
	assert.Equal(t, Field{Name: "common_flags", Offset: 2, ElemSize: 1, ElemCount: 1}, format.Fields[1])
	assert.Equal(t, Field{Name: "prev_comm", Offset: 8, ElemSize: 1, ElemCount: 16, IsSigned: true}, format.Fields[2])
	assert.Equal(t, Field{Name: "prev_pid", Offset: 24, ElemSize: 4, ElemCount: 1, IsSigned: true}, format.Fields[3])

	format, isExist = data.FormatHavingID(42)
	require.True(t, isExist)
	assert.Equal(t, "mark", format.Name)
	require.Len(t, format.Fields, 1)
	assert.Equal(t, Field{Name: "value", ElemSize: 4, ElemCount: 1, IsSigned: true}, format.Fields[0])

	_, isExist = data.FormatHavingID(999)
	assert.False(t, isExist)
}

func TestParseTracingDataBadID(t *testing.T) {
	_, err := ParseTracingData([]byte("name: broken\nID: not_a_number\n"))
	assert.Error(t, err)
}

func TestParseTracingDataEmpty(t *testing.T) {
	data, err := ParseTracingData(nil)
	require.NoError(t, err)
	assert.Empty(t, data.Formats())
}
