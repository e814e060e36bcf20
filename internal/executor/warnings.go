package executor

import (
	"context"
	"os"
	"path/filepath"

	"taskweave/internal/warnfilter"
)

type recorderKey struct{}

type recorder struct {
	warnings []warnfilter.Warning
}

// withRecorder attaches a fresh warning recorder to ctx, for task bodies to
// report through via ReportWarning.
func withRecorder(ctx context.Context) (context.Context, *recorder) {
	r := &recorder{}
	return context.WithValue(ctx, recorderKey{}, r), r
}

// ReportWarning lets a task body report a warning during execution; it is
// resolved against the effective filterwarnings set once the body returns.
func ReportWarning(ctx context.Context, message, category string) {
	r, ok := ctx.Value(recorderKey{}).(*recorder)
	if !ok {
		return
	}
	r.warnings = append(r.warnings, warnfilter.Warning{Message: message, Category: category})
}

func mkdirForPath(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
