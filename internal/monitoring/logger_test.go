package monitoring

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreams_DisabledByDefault(t *testing.T) {
	s := NewStreams("test")

	// Should not panic with no writers configured.
	s.Opsf("dropped %d", 1)
	s.Diagf("diag")
	s.Tracef("trace")
	assert.Equal(t, "test", s.Component())
}

func TestStreams_RoutesEachStream(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	s := NewStreams("dispatch")
	s.SetWriters(&ops, &diag, &trace)

	s.Opsf("queue full, dropped task %s", "tsk_1")
	s.Diagf("worker %d started", 2)
	s.Tracef("frame %d", 99)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(ops.Bytes(), &rec))
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "dispatch", rec["component"])
	assert.Equal(t, "queue full, dropped task tsk_1", rec["message"])

	require.NoError(t, json.Unmarshal(diag.Bytes(), &rec))
	assert.Equal(t, "info", rec["level"])
	assert.Equal(t, "worker 2 started", rec["message"])

	require.NoError(t, json.Unmarshal(trace.Bytes(), &rec))
	assert.Equal(t, "debug", rec["level"])
}

func TestStreams_NilWriterDisables(t *testing.T) {
	var ops bytes.Buffer
	s := NewStreams("x")
	s.SetWriters(&ops, nil, nil)
	s.Diagf("not written")
	s.Tracef("not written")
	assert.Zero(t, ops.Len())

	s.SetWriters(nil, nil, nil)
	s.Opsf("not written")
	assert.Zero(t, ops.Len())
}

func TestParseLevel(t *testing.T) {
	var w bytes.Buffer
	tests := []struct {
		name                 string
		wantOps, wantDiag    bool
		wantTrace, wantError bool
	}{
		{name: "", wantOps: true},
		{name: "ops", wantOps: true},
		{name: "diag", wantOps: true, wantDiag: true},
		{name: "trace", wantOps: true, wantDiag: true, wantTrace: true},
		{name: "off"},
		{name: "verbose", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, diag, trace, err := ParseLevel(tt.name, &w)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOps, ops != nil)
			assert.Equal(t, tt.wantDiag, diag != nil)
			assert.Equal(t, tt.wantTrace, trace != nil)
		})
	}
}
