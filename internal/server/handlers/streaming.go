package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/nightjar-media/nightjar/internal/modules/streamingmodule"
)

// StreamingHandler serves the session lifecycle API and the HLS delivery
// endpoints backed by the streaming service.
type StreamingHandler struct {
	logger      hclog.Logger
	service     *streamingmodule.HlsStreamingService
	playlists   *streamingmodule.HlsPlaylistService
	segments    streamingmodule.SegmentStore
	waitTimeout time.Duration
}

// NewStreamingHandler creates the streaming API handler.
func NewStreamingHandler(service *streamingmodule.HlsStreamingService, playlists *streamingmodule.HlsPlaylistService, segments streamingmodule.SegmentStore, waitTimeout time.Duration, logger hclog.Logger) *StreamingHandler {
	return &StreamingHandler{
		logger:      logger.Named("streaming-api"),
		service:     service,
		playlists:   playlists,
		segments:    segments,
		waitTimeout: waitTimeout,
	}
}

type createStreamRequest struct {
	MediaFileID     string   `json:"media_file_id" binding:"required"`
	Quality         string   `json:"quality"`
	MaxHeight       int      `json:"max_height"`
	MaxBitrate      int64    `json:"max_bitrate"`
	SupportedCodecs []string `json:"supported_codecs"`
}

type seekRequest struct {
	Position float64 `json:"position" binding:"min=0"`
}

type sessionResponse struct {
	ID             string                                     `json:"id"`
	MediaFileID    string                                     `json:"media_file_id"`
	Mode           streamingmodule.TranscodeMode              `json:"mode"`
	Container      streamingmodule.Container                  `json:"container"`
	Adaptive       bool                                       `json:"adaptive"`
	SeekPosition   float64                                    `json:"seek_position"`
	Variants       []streamingmodule.QualityVariant           `json:"variants,omitempty"`
	Handle         *streamingmodule.TranscodeHandle           `json:"handle,omitempty"`
	VariantHandles map[string]streamingmodule.TranscodeHandle `json:"variant_handles,omitempty"`
	CreatedAt      time.Time                                  `json:"created_at"`
	LastAccessedAt time.Time                                  `json:"last_accessed_at"`
}

func toSessionResponse(s *streamingmodule.StreamSession) sessionResponse {
	resp := sessionResponse{
		ID:             s.ID,
		MediaFileID:    s.MediaFileID,
		Mode:           s.Decision.Mode,
		Container:      s.Decision.Container,
		Adaptive:       s.IsAdaptive(),
		SeekPosition:   s.SeekPosition(),
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt(),
	}
	if resp.Adaptive {
		resp.Variants = s.Variants()
		resp.VariantHandles = s.VariantHandles()
	} else {
		resp.Handle = s.Handle()
	}
	return resp
}

// CreateStream starts a new playback session.
func (h *StreamingHandler) CreateStream(c *gin.Context) {
	var req createStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	opts := streamingmodule.StreamingOptions{
		Quality:         streamingmodule.Quality(req.Quality),
		MaxHeight:       req.MaxHeight,
		MaxBitrate:      req.MaxBitrate,
		SupportedCodecs: req.SupportedCodecs,
	}
	if opts.Quality == "" {
		opts.Quality = streamingmodule.QualityAuto
	}

	session, err := h.service.CreateSession(c.Request.Context(), req.MediaFileID, opts)
	if err != nil {
		switch {
		case errors.Is(err, streamingmodule.ErrMediaFileNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "media file not found"})
		case errors.Is(err, streamingmodule.ErrMaxConcurrentTranscodes):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "transcode capacity exhausted"})
		default:
			h.logger.Error("create session failed", "media_id", req.MediaFileID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		}
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(session))
}

// ListStreams returns every registered session.
func (h *StreamingHandler) ListStreams(c *gin.Context) {
	sessions := h.service.GetAllSessions()
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out, "count": len(out)})
}

// GetStream returns one session's status.
func (h *StreamingHandler) GetStream(c *gin.Context) {
	session := h.service.GetSession(c.Param("id"))
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(session))
}

// SeekStream restarts the session's processes at a new position.
func (h *StreamingHandler) SeekStream(c *gin.Context) {
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	session, err := h.service.SeekSession(c.Request.Context(), c.Param("id"), req.Position)
	if err != nil {
		if errors.Is(err, streamingmodule.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("seek failed", "session_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "seek failed"})
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(session))
}

// DestroyStream tears a session down. Unknown ids still return 204.
func (h *StreamingHandler) DestroyStream(c *gin.Context) {
	if err := h.service.DestroySession(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("destroy failed", "session_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to destroy session"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ServeSessionFile dispatches /streams/:id/:name: the master playlist, the
// single-variant media playlist, or a single-variant segment. Segment names
// relative to master.m3u8 resolve here, which is why one route carries all
// three.
func (h *StreamingHandler) ServeSessionFile(c *gin.Context) {
	session := h.service.GetSession(c.Param("id"))
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	name := c.Param("name")
	switch name {
	case "master.m3u8":
		h.servePlaylist(c, h.playlists.GenerateMasterPlaylist(session))
	case "stream.m3u8":
		if session.IsAdaptive() {
			c.JSON(http.StatusNotFound, gin.H{"error": "adaptive session has no top-level media playlist"})
			return
		}
		h.servePlaylist(c, h.playlists.GenerateMediaPlaylist(session))
	default:
		if session.IsAdaptive() {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown file"})
			return
		}
		h.serveSegment(c, session, "", name)
	}
}

// ServeVariantFile dispatches /streams/:id/:name/:file for adaptive
// sessions, where :name is a variant label.
func (h *StreamingHandler) ServeVariantFile(c *gin.Context) {
	session := h.service.GetSession(c.Param("id"))
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	label := c.Param("name")
	if !hasVariant(session, label) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown variant"})
		return
	}

	file := c.Param("file")
	if file == "stream.m3u8" {
		h.servePlaylist(c, h.playlists.GenerateMediaPlaylist(session))
		return
	}
	h.serveSegment(c, session, label, file)
}

func hasVariant(session *streamingmodule.StreamSession, label string) bool {
	for _, v := range session.Variants() {
		if v.Label == label {
			return true
		}
	}
	return false
}

func (h *StreamingHandler) servePlaylist(c *gin.Context, playlist string) {
	c.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(playlist))
}

// serveSegment waits for the encoder to produce the requested segment and
// streams it back. The in-flight request marker keeps the reaper away while
// the wait is outstanding.
func (h *StreamingHandler) serveSegment(c *gin.Context, session *streamingmodule.StreamSession, label, name string) {
	session.BeginRequest()
	defer session.EndRequest()

	ctx := c.Request.Context()
	if err := h.segments.WaitForSegment(ctx, session.ID, label, name, h.waitTimeout); err != nil {
		h.logger.Warn("segment wait failed", "session_id", session.ID, "variant", label, "segment", name, "error", err)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "segment not ready"})
		return
	}

	data, err := h.segments.ReadSegment(ctx, session.ID, label, name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "segment not found"})
		return
	}

	c.Data(http.StatusOK, segmentContentType(name), data)
}

func segmentContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".m4s"), strings.HasSuffix(name, ".mp4"):
		return "video/mp4"
	default:
		return "video/mp2t"
	}
}
