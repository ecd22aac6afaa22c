package streamingmodule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Config holds the streaming engine settings.
type Config struct {
	// MaxConcurrentTranscodes caps sessions whose mode is not REMUX.
	MaxConcurrentTranscodes int
	// SegmentLength is the target segment duration in seconds.
	SegmentLength int
	// IdleTimeout is how long an untouched session survives before the
	// reaper reclaims it.
	IdleTimeout time.Duration
	// ReapInterval is the sweep period of the session reaper.
	ReapInterval time.Duration
}

// HlsStreamingService owns the session registry and drives the external
// encoding processes through the collaborator seams. Registry access is
// guarded by mu; process start/stop always happens outside it.
type HlsStreamingService struct {
	logger   hclog.Logger
	cfg      Config
	resolver MediaResolver
	prober   Prober
	executor ProcessExecutor
	segments SegmentStore
	decider  *TranscodeDecisionService
	ladder   *QualityLadderService

	mu       sync.RWMutex
	sessions map[string]*StreamSession
	// activeTranscodes counts registered non-remux sessions plus slots
	// reserved by in-flight createSession calls.
	activeTranscodes int
}

// NewHlsStreamingService creates the streaming orchestrator.
func NewHlsStreamingService(cfg Config, resolver MediaResolver, prober Prober, executor ProcessExecutor, segments SegmentStore, logger hclog.Logger) *HlsStreamingService {
	return &HlsStreamingService{
		logger:   logger.Named("hls-service"),
		cfg:      cfg,
		resolver: resolver,
		prober:   prober,
		executor: executor,
		segments: segments,
		decider:  NewTranscodeDecisionService(),
		ladder:   NewQualityLadderService(),
		sessions: make(map[string]*StreamSession),
	}
}

// CreateSession probes the media file, decides the delivery mode, admits the
// session against the transcode budget and starts the external process(es).
// Nothing is registered on failure: any process already started for the
// attempt is stopped before the error surfaces.
func (s *HlsStreamingService) CreateSession(ctx context.Context, mediaFileID string, opts StreamingOptions) (*StreamSession, error) {
	sourcePath, err := s.resolver.Resolve(ctx, mediaFileID)
	if err != nil {
		return nil, err
	}

	probe, err := s.prober.Probe(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", sourcePath, err)
	}

	decision := s.decider.Decide(*probe, opts)

	// Remux costs no CPU worth gating; everything else takes a slot. The
	// reservation holds through process startup so concurrent creates can
	// never both squeeze into the last slot.
	reserved := false
	if decision.Mode != ModeRemux {
		if err := s.reserveTranscodeSlot(); err != nil {
			return nil, err
		}
		reserved = true
	}

	sessionID := uuid.New().String()
	session, err := s.startSession(ctx, sessionID, mediaFileID, sourcePath, *probe, decision, opts)
	if err != nil {
		if reserved {
			s.releaseTranscodeSlot()
		}
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sessionID] = session
	s.mu.Unlock()

	s.logger.Info("created streaming session",
		"session_id", sessionID,
		"media_id", mediaFileID,
		"mode", decision.Mode,
		"container", decision.Container,
		"adaptive", session.IsAdaptive())

	return session, nil
}

// GetSession returns the session for id and refreshes its last-accessed
// timestamp. Absence is not an error; the result is nil.
func (s *HlsStreamingService) GetSession(id string) *StreamSession {
	s.mu.RLock()
	session := s.sessions[id]
	s.mu.RUnlock()
	if session != nil {
		session.Touch()
	}
	return session
}

// SeekSession stops the session's processes and restarts them at the
// requested position, reusing the original decision and variant set.
func (s *HlsStreamingService) SeekSession(ctx context.Context, id string, position float64) (*StreamSession, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	if session.IsAdaptive() {
		for _, label := range session.variantLabels() {
			if err := s.executor.Stop(ctx, id, label); err != nil {
				s.logger.Warn("stop before seek failed", "session_id", id, "variant", label, "error", err)
			}
		}

		handles := make(map[string]*TranscodeHandle)
		started := make([]string, 0)
		for _, v := range session.Variants() {
			handle, err := s.executor.Start(ctx, s.variantStartSpec(id, session.SourcePath, position, session.Decision, v))
			if err != nil {
				s.stopStarted(ctx, id, started)
				// The old processes are already gone, so the handles the
				// session keeps must not keep reading ACTIVE.
				for _, label := range session.variantLabels() {
					session.markHandleFailed(label)
				}
				return nil, fmt.Errorf("restart variant %s at %.1fs: %w", v.Label, position, err)
			}
			handles[v.Label] = handle
			started = append(started, v.Label)
		}
		session.replaceVariantHandles(handles, position)
	} else {
		if err := s.executor.Stop(ctx, id, ""); err != nil {
			s.logger.Warn("stop before seek failed", "session_id", id, "error", err)
		}

		handle, err := s.executor.Start(ctx, s.singleStartSpec(id, session.SourcePath, position, session.Probe, session.Decision, session.Options))
		if err != nil {
			session.markHandleFailed("")
			return nil, fmt.Errorf("restart at %.1fs: %w", position, err)
		}
		session.replaceSingleHandle(handle, position)
	}

	s.logger.Info("session seek", "session_id", id, "position", position)
	return session, nil
}

// DestroySession stops the session's processes, releases its segment
// storage and removes it from the registry. Destroying an unknown id is a
// silent no-op.
func (s *HlsStreamingService) DestroySession(ctx context.Context, id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
		if session.Decision.Mode != ModeRemux && s.activeTranscodes > 0 {
			s.activeTranscodes--
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	s.stopSessionProcesses(ctx, session)

	if err := s.segments.Remove(id); err != nil {
		s.logger.Warn("segment cleanup failed", "session_id", id, "error", err)
	}

	s.logger.Info("destroyed streaming session", "session_id", id)
	return nil
}

// GetAllSessions returns a point-in-time snapshot of the registry.
func (s *HlsStreamingService) GetAllSessions() []*StreamSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*StreamSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

// GetActiveSessionCount returns the number of registered sessions.
func (s *HlsStreamingService) GetActiveSessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ActiveTranscodeCount returns the non-remux sessions currently holding a
// transcode slot.
func (s *HlsStreamingService) ActiveTranscodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTranscodes
}

func (s *HlsStreamingService) reserveTranscodeSlot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTranscodes >= s.cfg.MaxConcurrentTranscodes {
		return ErrMaxConcurrentTranscodes
	}
	s.activeTranscodes++
	return nil
}

func (s *HlsStreamingService) releaseTranscodeSlot() {
	s.mu.Lock()
	if s.activeTranscodes > 0 {
		s.activeTranscodes--
	}
	s.mu.Unlock()
}

// startSession launches the external process(es) for a new session and
// builds the aggregate. Adaptive delivery applies only to automatic-quality
// full transcodes; everything else runs a single implicit variant.
func (s *HlsStreamingService) startSession(ctx context.Context, id, mediaFileID, sourcePath string, probe MediaProbe, decision TranscodeDecision, opts StreamingOptions) (*StreamSession, error) {
	if opts.Quality == QualityAuto && decision.Mode == ModeFullTranscode {
		variants := s.ladder.Build(probe, opts)
		handles := make(map[string]*TranscodeHandle, len(variants))
		started := make([]string, 0, len(variants))
		for _, v := range variants {
			handle, err := s.executor.Start(ctx, s.variantStartSpec(id, sourcePath, 0, decision, v))
			if err != nil {
				s.stopStarted(ctx, id, started)
				return nil, fmt.Errorf("start variant %s: %w", v.Label, err)
			}
			handles[v.Label] = handle
			started = append(started, v.Label)
		}
		return newAdaptiveSession(id, mediaFileID, sourcePath, probe, decision, opts, variants, handles), nil
	}

	handle, err := s.executor.Start(ctx, s.singleStartSpec(id, sourcePath, 0, probe, decision, opts))
	if err != nil {
		return nil, fmt.Errorf("start transcode: %w", err)
	}
	return newSingleHandleSession(id, mediaFileID, sourcePath, probe, decision, opts, handle), nil
}

func (s *HlsStreamingService) variantStartSpec(id, sourcePath string, position float64, decision TranscodeDecision, v QualityVariant) StartSpec {
	return StartSpec{
		SessionID:     id,
		VariantLabel:  v.Label,
		SourcePath:    sourcePath,
		SeekPosition:  position,
		SegmentLength: s.cfg.SegmentLength,
		Decision:      decision,
		Width:         v.Width,
		Height:        v.Height,
		VideoBitrate:  v.VideoBitrate,
		AudioBitrate:  v.AudioBitrate,
	}
}

// singleStartSpec builds the start parameters for a single-variant session.
// Passthrough modes carry no target geometry; a fixed-tier full transcode
// encodes at the requested tier, clamped to the source by tierForQuality.
func (s *HlsStreamingService) singleStartSpec(id, sourcePath string, position float64, probe MediaProbe, decision TranscodeDecision, opts StreamingOptions) StartSpec {
	spec := StartSpec{
		SessionID:     id,
		SourcePath:    sourcePath,
		SeekPosition:  position,
		SegmentLength: s.cfg.SegmentLength,
		Decision:      decision,
	}
	if decision.Mode == ModeFullTranscode {
		tier := tierForQuality(opts.Quality, probe)
		spec.Width = tier.Width
		spec.Height = tier.Height
		spec.VideoBitrate = tier.VideoBitrate
		spec.AudioBitrate = tier.AudioBitrate
	}
	return spec
}

// tierForQuality resolves an explicit quality tier against the ladder,
// never upscaling past the source. Unknown tiers fall back to the source's
// own geometry.
func tierForQuality(q Quality, probe MediaProbe) QualityVariant {
	for _, tier := range ladderTiers {
		if string(q) == tier.Label && tier.Height <= probe.Height {
			return tier
		}
	}
	return sourceVariant(probe)
}

func (s *HlsStreamingService) stopStarted(ctx context.Context, id string, labels []string) {
	for _, label := range labels {
		if err := s.executor.Stop(ctx, id, label); err != nil {
			s.logger.Warn("rollback stop failed", "session_id", id, "variant", label, "error", err)
		}
	}
}

func (s *HlsStreamingService) stopSessionProcesses(ctx context.Context, session *StreamSession) {
	if session.IsAdaptive() {
		for _, label := range session.variantLabels() {
			if err := s.executor.Stop(ctx, session.ID, label); err != nil {
				s.logger.Warn("process stop failed", "session_id", session.ID, "variant", label, "error", err)
			}
		}
		return
	}
	if err := s.executor.Stop(ctx, session.ID, ""); err != nil {
		s.logger.Warn("process stop failed", "session_id", session.ID, "error", err)
	}
}
