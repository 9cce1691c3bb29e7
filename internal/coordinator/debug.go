package coordinator

import (
	"io"

	"github.com/odsyjr2/illegal-parking-detection/internal/monitoring"
)

var logs = monitoring.NewStreams("coordinator")

// SetLogWriters configures the three logging streams for the coordinator
// package. Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	logs.SetWriters(ops, diag, trace)
}

func opsf(format string, args ...interface{}) { logs.Opsf(format, args...) }

func diagf(format string, args ...interface{}) { logs.Diagf(format, args...) }

func tracef(format string, args ...interface{}) { logs.Tracef(format, args...) }
