package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/nightjar-media/nightjar/internal/modules/streamingmodule"
)

// stopGracePeriod is how long a process gets to exit after SIGTERM before
// it is killed.
const stopGracePeriod = 5 * time.Second

// OutputDirs resolves where a process writes its segments. Satisfied by
// *SegmentStore.
type OutputDirs interface {
	SessionDir(sessionID, variantLabel string) string
}

// encoders maps target codec families to ffmpeg encoder names.
var encoders = map[string]string{
	"h264": "libx264",
	"hevc": "libx265",
	"av1":  "libsvtav1",
	"vp9":  "libvpx-vp9",
}

type managedProcess struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
}

// Executor launches and supervises one ffmpeg process per session variant.
type Executor struct {
	logger hclog.Logger
	binary string
	dirs   OutputDirs

	mu    sync.Mutex
	procs map[string]*managedProcess
}

// NewExecutor creates an executor around the given ffmpeg binary path, or
// plain "ffmpeg" from PATH when empty.
func NewExecutor(binary string, dirs OutputDirs, logger hclog.Logger) *Executor {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Executor{
		logger: logger.Named("ffmpeg-executor"),
		binary: binary,
		dirs:   dirs,
		procs:  make(map[string]*managedProcess),
	}
}

func processKey(sessionID, label string) string {
	return sessionID + "/" + label
}

// Start launches an encoding process for the given spec and returns its
// handle. The process runs until it finishes the file, fails, or Stop is
// called.
func (e *Executor) Start(ctx context.Context, spec streamingmodule.StartSpec) (*streamingmodule.TranscodeHandle, error) {
	outDir := e.dirs.SessionDir(spec.SessionID, spec.VariantLabel)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	args := BuildArgs(spec, outDir)
	cmd := exec.Command(e.binary, args...)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	proc := &managedProcess{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		close(proc.done)
		if err != nil {
			e.logger.Warn("ffmpeg exited with error",
				"session_id", spec.SessionID,
				"variant", spec.VariantLabel,
				"pid", proc.pid,
				"error", err)
		}
	}()

	e.mu.Lock()
	e.procs[processKey(spec.SessionID, spec.VariantLabel)] = proc
	e.mu.Unlock()

	e.logger.Info("started encoding process",
		"session_id", spec.SessionID,
		"variant", spec.VariantLabel,
		"pid", proc.pid,
		"mode", spec.Decision.Mode,
		"seek", spec.SeekPosition)

	return &streamingmodule.TranscodeHandle{
		ProcessID: strconv.Itoa(proc.pid),
		Status:    streamingmodule.HandleActive,
	}, nil
}

// Stop terminates the process for a session variant. The process gets
// SIGTERM first and SIGKILL after the grace period. Stopping an unknown
// process is a no-op.
func (e *Executor) Stop(ctx context.Context, sessionID, variantLabel string) error {
	key := processKey(sessionID, variantLabel)

	e.mu.Lock()
	proc, ok := e.procs[key]
	delete(e.procs, key)
	e.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-proc.done:
		return nil
	default:
	}

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", proc.pid, err)
	}

	select {
	case <-proc.done:
	case <-time.After(stopGracePeriod):
		e.logger.Warn("process ignored SIGTERM, killing", "pid", proc.pid)
		_ = proc.cmd.Process.Kill()
		<-proc.done
	case <-ctx.Done():
		_ = proc.cmd.Process.Kill()
		return ctx.Err()
	}
	return nil
}

// IsRunning reports whether the process for a session variant is alive. The
// OS is consulted as well as our own bookkeeping, so a process killed from
// outside reads as dead even before its waiter has run.
func (e *Executor) IsRunning(sessionID, variantLabel string) bool {
	e.mu.Lock()
	proc, ok := e.procs[processKey(sessionID, variantLabel)]
	e.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case <-proc.done:
		return false
	default:
	}

	alive, err := process.PidExists(int32(proc.pid))
	if err != nil {
		// Can't tell; trust our own waiter.
		return true
	}
	return alive
}

// IsHealthy reports whether the executor can launch processes at all.
func (e *Executor) IsHealthy() bool {
	_, err := exec.LookPath(e.binary)
	return err == nil
}

// BuildArgs assembles the ffmpeg command line for one encoding process.
// Exported for testing.
func BuildArgs(spec streamingmodule.StartSpec, outDir string) []string {
	var args []string

	if spec.SeekPosition > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", spec.SeekPosition))
	}
	args = append(args, "-i", spec.SourcePath)

	// Video stream.
	if spec.Decision.Mode == streamingmodule.ModeFullTranscode {
		encoder, ok := encoders[spec.Decision.VideoCodec]
		if !ok {
			encoder = "libx264"
		}
		args = append(args, "-c:v", encoder)
		if spec.Width > 0 && spec.Height > 0 {
			args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", spec.Width, spec.Height))
		}
		if spec.VideoBitrate > 0 {
			args = append(args, "-b:v", strconv.FormatInt(spec.VideoBitrate, 10))
		}
		// A full re-encode places keyframes exactly on segment boundaries.
		args = append(args, "-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", spec.SegmentLength))
	} else {
		args = append(args, "-c:v", "copy")
	}

	// Audio stream.
	if spec.Decision.Mode == streamingmodule.ModeRemux {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", "aac")
		if spec.AudioBitrate > 0 {
			args = append(args, "-b:a", strconv.FormatInt(spec.AudioBitrate, 10))
		}
	}

	// HLS segmenter.
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(spec.SegmentLength),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
	)
	ext := "ts"
	if spec.Decision.Container == streamingmodule.ContainerFMP4 {
		ext = "m4s"
		args = append(args,
			"-hls_segment_type", "fmp4",
			"-hls_fmp4_init_filename", "init.mp4",
		)
	}
	args = append(args,
		"-hls_segment_filename", outDir+"/segment_%03d."+ext,
		outDir+"/live.m3u8",
	)

	return args
}
