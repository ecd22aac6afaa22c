package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nightjar-media/nightjar/internal/config"
	"github.com/nightjar-media/nightjar/internal/database"
	"github.com/nightjar-media/nightjar/internal/modules/mediamodule"
	"github.com/nightjar-media/nightjar/internal/modules/streamingmodule"
)

type stubProber struct {
	probe streamingmodule.MediaProbe
}

func (p *stubProber) Probe(ctx context.Context, sourcePath string) (*streamingmodule.MediaProbe, error) {
	out := p.probe
	return &out, nil
}

type stubExecutor struct {
	mu      sync.Mutex
	nextPID int
	running map[string]bool
	healthy bool
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{running: make(map[string]bool), healthy: true}
}

func (e *stubExecutor) key(id, label string) string { return id + "/" + label }

func (e *stubExecutor) Start(ctx context.Context, spec streamingmodule.StartSpec) (*streamingmodule.TranscodeHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextPID++
	e.running[e.key(spec.SessionID, spec.VariantLabel)] = true
	return &streamingmodule.TranscodeHandle{
		ProcessID: fmt.Sprintf("%d", 1000+e.nextPID),
		Status:    streamingmodule.HandleActive,
	}, nil
}

func (e *stubExecutor) Stop(ctx context.Context, sessionID, variantLabel string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, e.key(sessionID, variantLabel))
	return nil
}

func (e *stubExecutor) IsRunning(sessionID, variantLabel string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running[e.key(sessionID, variantLabel)]
}

func (e *stubExecutor) IsHealthy() bool { return e.healthy }

// stubSegments keeps segment bytes in memory keyed by session/variant/name.
type stubSegments struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newStubSegments() *stubSegments {
	return &stubSegments{data: make(map[string][]byte)}
}

func (s *stubSegments) key(id, label, name string) string { return id + "/" + label + "/" + name }

func (s *stubSegments) put(id, label, name string, data []byte) {
	s.mu.Lock()
	s.data[s.key(id, label, name)] = data
	s.mu.Unlock()
}

func (s *stubSegments) SessionDir(sessionID, variantLabel string) string {
	return "/tmp/" + sessionID + "/" + variantLabel
}

func (s *stubSegments) ReadSegment(ctx context.Context, sessionID, variantLabel, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[s.key(sessionID, variantLabel, name)]
	if !ok {
		return nil, fmt.Errorf("segment %s not found", name)
	}
	return data, nil
}

func (s *stubSegments) WaitForSegment(ctx context.Context, sessionID, variantLabel, name string, timeout time.Duration) error {
	s.mu.Lock()
	_, ok := s.data[s.key(sessionID, variantLabel, name)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("segment %s not produced", name)
	}
	return nil
}

func (s *stubSegments) Remove(sessionID string) error { return nil }

type apiEnv struct {
	router   http.Handler
	executor *stubExecutor
	segments *stubSegments
}

func newAPIEnv(t *testing.T, maxTranscodes int) *apiEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.MediaFile{}))
	require.NoError(t, db.Create(&database.MediaFile{ID: "media-1", Path: "/library/movie.mkv", Title: "Movie"}).Error)

	logger := hclog.NewNullLogger()
	resolver := mediamodule.NewResolver(db, logger)
	prober := &stubProber{probe: streamingmodule.MediaProbe{
		Duration:   600,
		FrameRate:  24,
		Width:      1920,
		Height:     1080,
		VideoCodec: "hevc",
		AudioCodec: "aac",
		Bitrate:    8_000_000,
	}}
	executor := newStubExecutor()
	segments := newStubSegments()

	service := streamingmodule.NewHlsStreamingService(streamingmodule.Config{
		MaxConcurrentTranscodes: maxTranscodes,
		SegmentLength:           6,
		IdleTimeout:             time.Minute,
		ReapInterval:            time.Second,
	}, resolver, prober, executor, segments, logger)

	router := SetupRouter(config.ServerConfig{EnableCORS: true}, Dependencies{
		Streaming:          service,
		Playlists:          streamingmodule.NewHlsPlaylistService(6),
		Segments:           segments,
		Executor:           executor,
		Resolver:           resolver,
		SegmentWaitTimeout: time.Second,
	}, logger)

	return &apiEnv{router: router, executor: executor, segments: segments}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *apiEnv) createSession(t *testing.T, body map[string]any) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/streams", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ID
}

func TestCreateStreamAdaptive(t *testing.T) {
	env := newAPIEnv(t, 4)

	rec := env.do(t, http.MethodPost, "/api/v1/streams", map[string]any{
		"media_file_id":    "media-1",
		"quality":          "auto",
		"supported_codecs": []string{"h264"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID       string                           `json:"id"`
		Mode     string                           `json:"mode"`
		Adaptive bool                             `json:"adaptive"`
		Variants []streamingmodule.QualityVariant `json:"variants"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "FULL_TRANSCODE", resp.Mode)
	assert.True(t, resp.Adaptive)
	assert.Len(t, resp.Variants, 4)
}

func TestCreateStreamUnknownMedia(t *testing.T) {
	env := newAPIEnv(t, 4)

	rec := env.do(t, http.MethodPost, "/api/v1/streams", map[string]any{
		"media_file_id":    "no-such",
		"supported_codecs": []string{"h264"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateStreamMissingBody(t *testing.T) {
	env := newAPIEnv(t, 4)

	rec := env.do(t, http.MethodPost, "/api/v1/streams", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateStreamCapacityExhausted(t *testing.T) {
	env := newAPIEnv(t, 1)

	env.createSession(t, map[string]any{
		"media_file_id":    "media-1",
		"supported_codecs": []string{"h264"},
	})

	rec := env.do(t, http.MethodPost, "/api/v1/streams", map[string]any{
		"media_file_id":    "media-1",
		"supported_codecs": []string{"h264"},
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A remux of the same source is never gated.
	rec = env.do(t, http.MethodPost, "/api/v1/streams", map[string]any{
		"media_file_id":    "media-1",
		"supported_codecs": []string{"hevc", "h264"},
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestGetAndListAndDestroy(t *testing.T) {
	env := newAPIEnv(t, 4)
	id := env.createSession(t, map[string]any{
		"media_file_id":    "media-1",
		"supported_codecs": []string{"hevc"},
	})

	rec := env.do(t, http.MethodGet, "/api/v1/streams/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/streams", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = env.do(t, http.MethodDelete, "/api/v1/streams/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/streams/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Destroying again is still a 204.
	rec = env.do(t, http.MethodDelete, "/api/v1/streams/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSeekStream(t *testing.T) {
	env := newAPIEnv(t, 4)
	id := env.createSession(t, map[string]any{
		"media_file_id":    "media-1",
		"supported_codecs": []string{"hevc"},
	})

	rec := env.do(t, http.MethodPost, "/api/v1/streams/"+id+"/seek", map[string]any{"position": 120.0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		SeekPosition float64 `json:"seek_position"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 120.0, resp.SeekPosition)

	rec = env.do(t, http.MethodPost, "/api/v1/streams/unknown/seek", map[string]any{"position": 10.0})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMasterAndMediaPlaylists(t *testing.T) {
	env := newAPIEnv(t, 4)
	id := env.createSession(t, map[string]any{
		"media_file_id":    "media-1",
		"supported_codecs": []string{"hevc"},
	})

	rec := env.do(t, http.MethodGet, "/api/v1/streams/"+id+"/master.m3u8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "#EXTM3U\n"))
	assert.Contains(t, rec.Body.String(), "stream.m3u8")

	rec = env.do(t, http.MethodGet, "/api/v1/streams/"+id+"/stream.m3u8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "#EXT-X-ENDLIST")
}

func TestVariantPlaylistAndSegments(t *testing.T) {
	env := newAPIEnv(t, 4)
	id := env.createSession(t, map[string]any{
		"media_file_id":    "media-1",
		"quality":          "auto",
		"supported_codecs": []string{"h264"},
	})

	rec := env.do(t, http.MethodGet, "/api/v1/streams/"+id+"/720p/stream.m3u8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "#EXTINF")

	rec = env.do(t, http.MethodGet, "/api/v1/streams/"+id+"/4320p/stream.m3u8", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.segments.put(id, "720p", "segment_000.ts", []byte("ts bytes"))
	rec = env.do(t, http.MethodGet, "/api/v1/streams/"+id+"/720p/segment_000.ts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ts bytes", rec.Body.String())

	// Unproduced segments time out rather than 404.
	rec = env.do(t, http.MethodGet, "/api/v1/streams/"+id+"/720p/segment_042.ts", nil)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestSingleVariantSegment(t *testing.T) {
	env := newAPIEnv(t, 4)
	id := env.createSession(t, map[string]any{
		"media_file_id":    "media-1",
		"supported_codecs": []string{"hevc"},
	})

	env.segments.put(id, "", "segment_003.ts", []byte("x"))
	rec := env.do(t, http.MethodGet, "/api/v1/streams/"+id+"/segment_003.ts", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMediaEndpoints(t *testing.T) {
	env := newAPIEnv(t, 4)

	rec := env.do(t, http.MethodGet, "/api/v1/media", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "media-1")

	rec = env.do(t, http.MethodGet, "/api/v1/media/media-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/media/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t, 4)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.executor.healthy = false
	rec = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newAPIEnv(t, 4)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/streams", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
