package streamingmodule

import (
	"sync"
	"sync/atomic"
	"time"
)

// TranscodeMode describes how much of the source stream gets re-encoded.
type TranscodeMode string

const (
	// ModeRemux repackages audio and video without re-encoding either.
	ModeRemux TranscodeMode = "REMUX"
	// ModePartialTranscode re-encodes audio only, video passes through.
	ModePartialTranscode TranscodeMode = "PARTIAL_TRANSCODE"
	// ModeFullTranscode re-encodes both streams.
	ModeFullTranscode TranscodeMode = "FULL_TRANSCODE"
)

// Container is the segment container format delivered to the client.
type Container string

const (
	ContainerMPEGTS Container = "MPEGTS"
	ContainerFMP4   Container = "FMP4"
)

// MediaProbe holds the technical profile of a source file. It is produced
// once per session by the probing collaborator and never mutated.
type MediaProbe struct {
	Duration   float64 `json:"duration"` // seconds
	FrameRate  float64 `json:"frame_rate"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	VideoCodec string  `json:"video_codec"`
	AudioCodec string  `json:"audio_codec"`
	Bitrate    int64   `json:"bitrate"` // overall, bits per second
}

// Quality is either an explicit resolution tier ("720p") or QualityAuto.
type Quality string

// QualityAuto requests an adaptive ladder instead of a fixed tier.
const QualityAuto Quality = "auto"

// StreamingOptions are the caller-supplied client capabilities for a session.
// SupportedCodecs is ordered by client preference; the first entry wins when
// the source codec is incompatible.
type StreamingOptions struct {
	Quality         Quality  `json:"quality"`
	MaxHeight       int      `json:"max_height,omitempty"`
	MaxBitrate      int64    `json:"max_bitrate,omitempty"`
	SupportedCodecs []string `json:"supported_codecs"`
}

// TranscodeDecision is the delivery plan for a session. Immutable once set.
type TranscodeDecision struct {
	Mode                   TranscodeMode `json:"mode"`
	VideoCodec             string        `json:"video_codec"` // target family, e.g. "hevc"
	AudioCodec             string        `json:"audio_codec"`
	Container              Container     `json:"container"`
	NeedsKeyframeAlignment bool          `json:"needs_keyframe_alignment"`
}

// QualityVariant is one rung of an adaptive ladder. Label doubles as the
// routing key and the playlist sub-path for that rendition.
type QualityVariant struct {
	Label        string `json:"label"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate int64  `json:"video_bitrate"` // bps
	AudioBitrate int64  `json:"audio_bitrate"` // bps
}

// Bandwidth is the value advertised in the master playlist for this variant.
func (v QualityVariant) Bandwidth() int64 {
	return v.VideoBitrate + v.AudioBitrate
}

// HandleStatus is the observed state of one external encoding process.
type HandleStatus string

const (
	HandleActive HandleStatus = "ACTIVE"
	HandleFailed HandleStatus = "FAILED"
)

// TranscodeHandle tracks one running external process. The reaper flips
// Status to FAILED when the process dies; ProcessID is preserved so the
// failure stays attributable.
type TranscodeHandle struct {
	ProcessID string       `json:"process_id"`
	Status    HandleStatus `json:"status"`
}

// StreamSession is the central mutable aggregate for one playback session.
//
// Exactly one handle form is populated: a single handle for non-adaptive
// delivery, or a variant list with one handle per label for adaptive
// delivery. The constructors below are the only way sessions are built, so
// the duality holds structurally. Probe, Decision and Options never change
// after construction; handles, seek position and the access timestamp are
// guarded by mu.
type StreamSession struct {
	ID          string
	MediaFileID string
	SourcePath  string
	Probe       MediaProbe
	Decision    TranscodeDecision
	Options     StreamingOptions
	CreatedAt   time.Time

	mu             sync.Mutex
	seekPosition   float64
	lastAccessedAt time.Time
	handle         *TranscodeHandle
	variants       []QualityVariant
	variantHandles map[string]*TranscodeHandle

	activeRequests atomic.Int64
}

func newSingleHandleSession(id, mediaFileID, sourcePath string, probe MediaProbe, decision TranscodeDecision, opts StreamingOptions, handle *TranscodeHandle) *StreamSession {
	now := time.Now()
	return &StreamSession{
		ID:             id,
		MediaFileID:    mediaFileID,
		SourcePath:     sourcePath,
		Probe:          probe,
		Decision:       decision,
		Options:        opts,
		CreatedAt:      now,
		lastAccessedAt: now,
		handle:         handle,
	}
}

func newAdaptiveSession(id, mediaFileID, sourcePath string, probe MediaProbe, decision TranscodeDecision, opts StreamingOptions, variants []QualityVariant, handles map[string]*TranscodeHandle) *StreamSession {
	now := time.Now()
	return &StreamSession{
		ID:             id,
		MediaFileID:    mediaFileID,
		SourcePath:     sourcePath,
		Probe:          probe,
		Decision:       decision,
		Options:        opts,
		CreatedAt:      now,
		lastAccessedAt: now,
		variants:       variants,
		variantHandles: handles,
	}
}

// IsAdaptive reports whether the session delivers a multi-variant ladder.
func (s *StreamSession) IsAdaptive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.variants) > 0
}

// SeekPosition returns the current seek offset in seconds.
func (s *StreamSession) SeekPosition() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seekPosition
}

// LastAccessedAt returns the last time a caller touched this session.
func (s *StreamSession) LastAccessedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessedAt
}

// Touch refreshes the last-accessed timestamp.
func (s *StreamSession) Touch() {
	s.mu.Lock()
	s.lastAccessedAt = time.Now()
	s.mu.Unlock()
}

// Handle returns a copy of the single handle, or nil for adaptive sessions.
func (s *StreamSession) Handle() *TranscodeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	h := *s.handle
	return &h
}

// Variants returns a copy of the variant ladder, descending by bandwidth.
func (s *StreamSession) Variants() []QualityVariant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QualityVariant, len(s.variants))
	copy(out, s.variants)
	return out
}

// VariantHandles returns a copy of the per-label handle map.
func (s *StreamSession) VariantHandles() map[string]TranscodeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TranscodeHandle, len(s.variantHandles))
	for label, h := range s.variantHandles {
		out[label] = *h
	}
	return out
}

// variantLabels returns the labels a seek or sweep must visit, in ladder
// order. Empty for single-handle sessions.
func (s *StreamSession) variantLabels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	labels := make([]string, 0, len(s.variants))
	for _, v := range s.variants {
		labels = append(labels, v.Label)
	}
	return labels
}

// replaceSingleHandle swaps in a new handle after a seek.
func (s *StreamSession) replaceSingleHandle(h *TranscodeHandle, position float64) {
	s.mu.Lock()
	s.handle = h
	s.seekPosition = position
	s.lastAccessedAt = time.Now()
	s.mu.Unlock()
}

// replaceVariantHandles swaps in the new per-variant handles after a seek.
func (s *StreamSession) replaceVariantHandles(handles map[string]*TranscodeHandle, position float64) {
	s.mu.Lock()
	s.variantHandles = handles
	s.seekPosition = position
	s.lastAccessedAt = time.Now()
	s.mu.Unlock()
}

// markHandleFailed records an externally-dead process. The empty label
// addresses the single handle. The process id is kept so status reporting
// can still name the dead process.
func (s *StreamSession) markHandleFailed(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if label == "" {
		if s.handle != nil {
			s.handle.Status = HandleFailed
		}
		return
	}
	if h, ok := s.variantHandles[label]; ok {
		h.Status = HandleFailed
	}
}

// BeginRequest marks an in-flight read against this session. Sessions with
// outstanding requests are never reaped.
func (s *StreamSession) BeginRequest() {
	s.activeRequests.Add(1)
}

// EndRequest releases a previously begun request.
func (s *StreamSession) EndRequest() {
	s.activeRequests.Add(-1)
}

// ActiveRequests returns the in-flight request count.
func (s *StreamSession) ActiveRequests() int64 {
	return s.activeRequests.Load()
}
