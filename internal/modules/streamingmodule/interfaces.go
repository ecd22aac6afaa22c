package streamingmodule

import (
	"context"
	"time"
)

// MediaResolver resolves a media file identifier to its source path.
// An unknown identifier returns ErrMediaFileNotFound; any other failure is
// reported distinctly.
type MediaResolver interface {
	Resolve(ctx context.Context, mediaFileID string) (string, error)
}

// Prober extracts the technical profile of a source file.
type Prober interface {
	Probe(ctx context.Context, sourcePath string) (*MediaProbe, error)
}

// StartSpec carries everything the executor needs to launch one encoding
// process. VariantLabel is empty for single-variant sessions. Geometry and
// bitrates are zero when the process passes the source stream through.
type StartSpec struct {
	SessionID     string
	VariantLabel  string
	SourcePath    string
	SeekPosition  float64
	SegmentLength int
	Decision      TranscodeDecision
	Width         int
	Height        int
	VideoBitrate  int64
	AudioBitrate  int64
}

// ProcessExecutor is the seam to the external encoder. The in-memory fake in
// service_test.go is what keeps the orchestration logic testable without a
// real encoder; implementations live outside this package.
type ProcessExecutor interface {
	Start(ctx context.Context, spec StartSpec) (*TranscodeHandle, error)
	Stop(ctx context.Context, sessionID, variantLabel string) error
	IsRunning(sessionID, variantLabel string) bool
	IsHealthy() bool
}

// SegmentStore owns the produced segment bytes for a session, optionally
// split per variant label. WaitForSegment blocks until the named segment
// exists or the timeout elapses.
type SegmentStore interface {
	SessionDir(sessionID, variantLabel string) string
	ReadSegment(ctx context.Context, sessionID, variantLabel, name string) ([]byte, error)
	WaitForSegment(ctx context.Context, sessionID, variantLabel, name string, timeout time.Duration) error
	Remove(sessionID string) error
}
