package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/lipfilter/internal/capture"
	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/geometry"
	"github.com/dudu/lipfilter/internal/landmark"
	"github.com/dudu/lipfilter/internal/monitor"
	"github.com/dudu/lipfilter/internal/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTarget struct {
	mu  sync.Mutex
	img image.Image
}

func (t *fakeTarget) Size() (int, int)                                  { return 4, 4 }
func (t *fakeTarget) Begin()                                            {}
func (t *fakeTarget) Clear()                                            {}
func (t *fakeTarget) DrawFrame(image.Image, geometry.DrawArea, float64) {}
func (t *fakeTarget) Overlay() compositor.Canvas                        { return nil }
func (t *fakeTarget) Present() image.Image                              { return t.Snapshot() }

func (t *fakeTarget) Snapshot() image.Image {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.img
}

func (t *fakeTarget) set(img image.Image) {
	t.mu.Lock()
	t.img = img
	t.mu.Unlock()
}

type fakeSession struct {
	target    *fakeTarget
	styles    *compositor.StyleStore
	running   atomic.Bool
	refreshes atomic.Int32
	startErr  error
	result    *landmark.Result
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		target: &fakeTarget{},
		styles: compositor.NewStyleStore(compositor.DefaultStyle()),
	}
}

func (f *fakeSession) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	if !f.running.CompareAndSwap(false, true) {
		return scheduler.ErrAlreadyRunning
	}
	return nil
}

func (f *fakeSession) Stop() error {
	f.running.Store(false)
	return nil
}

func (f *fakeSession) State() scheduler.State {
	if f.running.Load() {
		return scheduler.StateRunning
	}
	return scheduler.StateIdle
}

func (f *fakeSession) Refresh(context.Context) error {
	f.refreshes.Add(1)
	if !f.running.Load() {
		return scheduler.ErrNotRunning
	}
	return nil
}

func (f *fakeSession) Result() *landmark.Result       { return f.result }
func (f *fakeSession) Target() scheduler.Target       { return f.target }
func (f *fakeSession) Styles() *compositor.StyleStore { return f.styles }
func (f *fakeSession) LastTiming() scheduler.Timing   { return scheduler.Timing{Renders: 3} }

func newTestServer(t *testing.T, cfg Config, sess *fakeSession) *Server {
	t.Helper()
	s, err := New(cfg, Deps{Session: sess, Metrics: monitor.New().Handler()})
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func solid(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestNewRequiresSession(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestPingAndPalette(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), newFakeSession())

	w := do(s, http.MethodGet, "/api/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())

	w = do(s, http.MethodGet, "/api/palette", "")
	require.Equal(t, http.StatusOK, w.Code)
	var palette compositor.Palette
	decodeData(t, w, &palette)
	assert.Equal(t, compositor.DefaultPalette, palette)
}

func TestStatus(t *testing.T) {
	sess := newFakeSession()
	sess.result = &landmark.Result{Landmarks: make(landmark.Set, landmark.MeshSize), Timestamp: 120}
	s := newTestServer(t, DefaultConfig(), sess)

	w := do(s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		State     string    `json:"state"`
		FaceFound bool      `json:"faceFound"`
		Timestamp int64     `json:"timestamp"`
		Renders   uint64    `json:"renders"`
		Style     styleView `json:"style"`
	}
	decodeData(t, w, &got)
	assert.Equal(t, "idle", got.State)
	assert.True(t, got.FaceFound)
	assert.Equal(t, int64(120), got.Timestamp)
	assert.Equal(t, uint64(3), got.Renders)
	assert.Equal(t, "Barely Peachy", got.Style.Swatch)
	assert.InDelta(t, 0.95, got.Style.VideoAlpha, 1e-9)
}

func TestStyle(t *testing.T) {
	t.Run("get", func(t *testing.T) {
		s := newTestServer(t, DefaultConfig(), newFakeSession())
		w := do(s, http.MethodGet, "/api/style", "")
		require.Equal(t, http.StatusOK, w.Code)
		var v styleView
		decodeData(t, w, &v)
		assert.Equal(t, "Barely Peachy", v.Swatch)
		assert.Equal(t, "#BB5F43", v.Color)
		assert.InDelta(t, 0.7, v.Opacity, 1e-9)
		assert.InDelta(t, 0.245, v.StrokeOpacity, 1e-9)
		assert.InDelta(t, 0.1, v.Brightness, 1e-9)
		assert.InDelta(t, 0.95, v.VideoAlpha, 1e-9)
	})

	t.Run("color change refreshes", func(t *testing.T) {
		sess := newFakeSession()
		sess.running.Store(true)
		s := newTestServer(t, DefaultConfig(), sess)

		w := do(s, http.MethodPut, "/api/style", `{"color":"fiery-crimson","opacity":0.5}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		st := sess.styles.Load()
		assert.Equal(t, "#A4343A", compositor.Hex(st.Color))
		assert.InDelta(t, 0.5, st.FillOpacity, 1e-9)
		assert.InDelta(t, 0.1, st.Brightness, 1e-9)
		assert.Equal(t, int32(1), sess.refreshes.Load())
	})

	t.Run("slider change does not refresh", func(t *testing.T) {
		sess := newFakeSession()
		s := newTestServer(t, DefaultConfig(), sess)
		w := do(s, http.MethodPut, "/api/style", `{"brightness":0.4}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.InDelta(t, 0.4, sess.styles.Load().Brightness, 1e-9)
		assert.Zero(t, sess.refreshes.Load())
	})

	t.Run("none and hex", func(t *testing.T) {
		sess := newFakeSession()
		s := newTestServer(t, DefaultConfig(), sess)

		w := do(s, http.MethodPut, "/api/style", `{"color":"none"}`)
		require.Equal(t, http.StatusOK, w.Code, "idle refresh is not an error")
		assert.Equal(t, compositor.NoEffect, sess.styles.Load().Color)

		w = do(s, http.MethodPut, "/api/style", `{"color":"#102030"}`)
		require.Equal(t, http.StatusOK, w.Code)
		var v styleView
		decodeData(t, w, &v)
		assert.Equal(t, "#102030", v.Swatch)
	})

	bad := []struct {
		name string
		body string
	}{
		{"unknown color", `{"color":"teal"}`},
		{"opacity above one", `{"opacity":1.5}`},
		{"negative brightness", `{"brightness":-0.1}`},
		{"malformed", `{"color":`},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession()
			s := newTestServer(t, DefaultConfig(), sess)
			w := do(s, http.MethodPut, "/api/style", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, compositor.DefaultStyle(), sess.styles.Load())
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	sess := newFakeSession()
	s := newTestServer(t, DefaultConfig(), sess)

	w := do(s, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, scheduler.StateRunning, sess.State())

	w = do(s, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(s, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, scheduler.StateIdle, sess.State())

	failing := newFakeSession()
	failing.startErr = errors.Mark(errors.WithHint(errors.New("no camera"), "plug one in"), scheduler.ErrAcquisition)
	s = newTestServer(t, DefaultConfig(), failing)
	w = do(s, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "plug one in")
}

func TestCapture(t *testing.T) {
	t.Run("no frame", func(t *testing.T) {
		s := newTestServer(t, DefaultConfig(), newFakeSession())
		w := do(s, http.MethodPost, "/api/capture", "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("png download named after swatch", func(t *testing.T) {
		sess := newFakeSession()
		sess.target.set(solid(color.RGBA{R: 200, A: 255}))
		sw, _ := compositor.DefaultPalette.Find("Fiery Crimson")
		sess.styles.SetColor(sw.Color())
		s := newTestServer(t, DefaultConfig(), sess)

		w := do(s, http.MethodPost, "/api/capture", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="lipstick-filter-fiery-crimson.png"`, w.Header().Get("Content-Disposition"))
		_, err := uuid.Parse(w.Header().Get("X-Capture-ID"))
		assert.NoError(t, err)
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
	})

	t.Run("jpeg by query", func(t *testing.T) {
		sess := newFakeSession()
		sess.target.set(solid(color.RGBA{G: 200, A: 255}))
		s := newTestServer(t, DefaultConfig(), sess)

		w := do(s, http.MethodPost, "/api/capture?format=jpeg", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte{0xFF, 0xD8}))

		w = do(s, http.MethodPost, "/api/capture?format=gif", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		sess := newFakeSession()
		sess.target.set(solid(color.RGBA{B: 200, A: 255}))
		cfg := DefaultConfig()
		cfg.CaptureRate = 0.001
		cfg.CaptureBurst = 1
		s := newTestServer(t, cfg, sess)

		assert.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/capture", "").Code)
		assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodPost, "/api/capture", "").Code)
	})
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), newFakeSession())
	w := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lipfilter_cpu_usage_percent")

	bare, err := New(DefaultConfig(), Deps{Session: newFakeSession()})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, do(bare, http.MethodGet, "/metrics", "").Code)
}

func TestPreviewStreamsJPEG(t *testing.T) {
	sess := newFakeSession()
	sess.target.set(solid(color.RGBA{R: 10, G: 20, B: 30, A: 255}))
	cfg := DefaultConfig()
	cfg.PreviewFPS = 50
	s := newTestServer(t, cfg, sess)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/preview"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.True(t, bytes.HasPrefix(data, []byte{0xFF, 0xD8}))

	// a new frame is sent once presented
	sess.target.set(solid(color.RGBA{R: 90, A: 255}))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte{0xFF, 0xD8}))
}

func TestRunShutsDownWithContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	s := newTestServer(t, cfg, newFakeSession())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

var _ capture.Snapshotter = (*fakeTarget)(nil)
