package streamingmodule

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// SessionReaper sweeps the registry on a timer, flagging externally-dead
// encoding processes and reclaiming idle sessions. Each session is handled
// behind its own panic boundary so one bad entry cannot halt the sweep.
type SessionReaper struct {
	logger  hclog.Logger
	service *HlsStreamingService
}

// NewSessionReaper creates a reaper bound to the given service.
func NewSessionReaper(service *HlsStreamingService, logger hclog.Logger) *SessionReaper {
	return &SessionReaper{
		logger:  logger.Named("session-reaper"),
		service: service,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *SessionReaper) Run(ctx context.Context) {
	r.logger.Info("starting session reaper",
		"interval", r.service.cfg.ReapInterval,
		"idle_timeout", r.service.cfg.IdleTimeout)

	ticker := time.NewTicker(r.service.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			r.logger.Info("session reaper stopped")
			return
		}
	}
}

// Sweep examines a snapshot of the registry once. The liveness and idle
// checks are independent: a session can carry a FAILED handle yet survive
// for status reporting, and a healthy session can still be reclaimed for
// being idle.
func (r *SessionReaper) Sweep(ctx context.Context) {
	for _, session := range r.service.GetAllSessions() {
		r.sweepSession(ctx, session)
	}
}

func (r *SessionReaper) sweepSession(ctx context.Context, session *StreamSession) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while sweeping session", "session_id", session.ID, "panic", rec)
		}
	}()

	r.checkLiveness(session)

	if r.isIdle(session) {
		r.logger.Info("reclaiming idle session",
			"session_id", session.ID,
			"last_accessed", session.LastAccessedAt())
		if err := r.service.DestroySession(ctx, session.ID); err != nil {
			r.logger.Error("idle reclaim failed", "session_id", session.ID, "error", err)
		}
	}
}

// checkLiveness asks the executor about every handle and records dead
// processes as FAILED. A dead process never removes the session by itself.
func (r *SessionReaper) checkLiveness(session *StreamSession) {
	if session.IsAdaptive() {
		for label, handle := range session.VariantHandles() {
			if handle.Status == HandleFailed {
				continue
			}
			if !r.service.executor.IsRunning(session.ID, label) {
				session.markHandleFailed(label)
				r.logger.Warn("encoding process died",
					"session_id", session.ID,
					"variant", label,
					"process_id", handle.ProcessID)
			}
		}
		return
	}

	handle := session.Handle()
	if handle == nil || handle.Status == HandleFailed {
		return
	}
	if !r.service.executor.IsRunning(session.ID, "") {
		session.markHandleFailed("")
		r.logger.Warn("encoding process died",
			"session_id", session.ID,
			"process_id", handle.ProcessID)
	}
}

// isIdle reports whether a session is past the idle timeout with no reads
// in flight. Outstanding requests always win, regardless of age.
func (r *SessionReaper) isIdle(session *StreamSession) bool {
	if session.ActiveRequests() > 0 {
		return false
	}
	return time.Since(session.LastAccessedAt()) > r.service.cfg.IdleTimeout
}
