// Package goroutine provides panic recovery for background goroutines.
// Detection workers and the event batch writer run outside any request
// path, so an unrecovered panic there would take down the whole process.
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"

	"argus/metrics"
)

// stackBufferSize bounds the captured stack trace. 4KB covers the
// goroutine's own frames without pulling in every stack in the process.
const stackBufferSize = 4096

// Recover logs and swallows a panic in the calling goroutine. Use it as
// a deferred call at the top of any goroutine that must outlive a single
// task, with a name that identifies the goroutine in logs and metrics:
//
//	defer goroutine.Recover("event-batch-writer", logger)
//
// A nil logger falls back to stderr so the panic is never silently lost.
func Recover(name string, logger *zap.SugaredLogger) {
	r := recover()
	if r == nil {
		return
	}

	metrics.PanicsRecovered.WithLabelValues(name).Inc()

	buf := make([]byte, stackBufferSize)
	n := runtime.Stack(buf, false)

	if logger == nil {
		fmt.Fprintf(os.Stderr, "panic in goroutine %s: %v\n%s\n", name, r, buf[:n])
		return
	}
	logger.Errorw("Recovered panic in goroutine",
		"goroutine", name,
		"panic", r,
		"stack", string(buf[:n]))
}
