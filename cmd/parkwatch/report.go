package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/odsyjr2/illegal-parking-detection/internal/dispatch"
)

// acceptAnalyzer confirms every candidate at the tracker's confidence. It
// stands in for the verification stage when replaying.
type acceptAnalyzer struct{}

func (acceptAnalyzer) Analyze(ctx context.Context, task *dispatch.AnalysisTask) (dispatch.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return dispatch.AnalysisResult{}, err
	}
	return dispatch.AnalysisResult{
		Confirmed:  true,
		Confidence: task.Event.Confidence,
	}, nil
}

// reportWriter writes one JSON report per line.
type reportWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newReportWriter(w io.Writer) *reportWriter {
	return &reportWriter{enc: json.NewEncoder(w)}
}

func (r *reportWriter) Report(ctx context.Context, report dispatch.ViolationReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
