// Package logx is the structured-logging seam the rest of the core
// uses, mirroring how the teacher's cmd/ binaries carry a single
// package-level logger seeded once from main rather than threading a
// logger through every call. Library code never panics or calls
// os.Exit; only cmd/fusimg does that.
package logx

import (
	"fmt"

	"go.uber.org/zap"
)

var log = zap.NewNop()

// Init installs l as the package-wide logger. Call once from main;
// tests and library callers that never call Init get a no-op logger.
func Init(l *zap.Logger) {
	if l != nil {
		log = l
	}
}

// L returns the current logger.
func L() *zap.Logger {
	return log
}

func Tag(v string) zap.Field     { return zap.String("tag", v) }
func Date(v int) zap.Field       { return zap.Int("date", v) }
func Kernel(v string) zap.Field  { return zap.String("kernel", v) }
func Tile(x, y int) zap.Field    { return zap.String("tile", fmt.Sprintf("%d,%d", x, y)) }
