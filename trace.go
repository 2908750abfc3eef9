package promise

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// ElisionMarker is the placeholder substituted for a run of redundant shared
// trace lines during stitching.
const ElisionMarker = "..."

// maxTraceDepth bounds the number of stack frames captured per hop.
const maxTraceDepth = 32

// traceIndent nests each stitched hop one level below its predecessor.
const traceIndent = "  "

var traceCapture atomic.Bool

func init() {
	traceCapture.Store(true)
}

// SetTraceCapture toggles stack capture for promise creation and failure
// sites. Capture is enabled by default; disabling it leaves all settlement
// semantics unchanged, promises simply carry empty traces.
//
// Package-level configuration is used here for the same reason as SetLogger:
// diagnostics are a cross-cutting concern shared by every promise regardless
// of how it was constructed.
func SetTraceCapture(enabled bool) {
	traceCapture.Store(enabled)
}

// TraceCaptureEnabled reports whether stack capture is currently enabled.
func TraceCaptureEnabled() bool {
	return traceCapture.Load()
}

// CaptureTrace renders the calling goroutine's stack as one line per frame,
// innermost first, each in the form "function (file:line)". skip is the
// number of frames to omit, with 0 identifying the caller of CaptureTrace.
func CaptureTrace(skip int) []string {
	pcs := make([]uintptr, maxTraceDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	lines := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		lines = append(lines, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}
	return lines
}

// captureHop captures the current stack for an asynchronous hop, or nil when
// capture is disabled. skip 0 identifies the caller of captureHop.
func captureHop(skip int) []string {
	if !traceCapture.Load() {
		return nil
	}
	return CaptureTrace(skip + 1)
}

// stitchTrace merges a hop's raw capture onto the predecessor's already
// stitched trace. Trailing frames shared with the predecessor, typically the
// caller's own stack above the async boundary, are collapsed to an anchor
// line plus ElisionMarker; the surviving hop lines are then appended one
// nesting level below a label line identifying the hop.
func stitchTrace(prev, hop []string, label string) []string {
	if len(hop) == 0 {
		out := make([]string, len(prev))
		copy(out, prev)
		return out
	}
	if len(prev) == 0 {
		out := make([]string, len(hop))
		copy(out, hop)
		return out
	}

	hop = ReplaceCommonTrailingElements(prev, hop, ElisionMarker)
	out := AppendIndented(prev, traceIndent+"from "+label+":")
	for _, line := range hop {
		out = AppendIndented(out, line)
	}
	return out
}
