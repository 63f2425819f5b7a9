package server

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dudu/lipfilter/internal/capture"
	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/config"
	"github.com/dudu/lipfilter/internal/scheduler"
)

type styleView struct {
	Swatch        string  `json:"swatch"`
	Color         string  `json:"color"`
	Opacity       float64 `json:"opacity"`
	StrokeOpacity float64 `json:"strokeOpacity"`
	Brightness    float64 `json:"brightness"`
	VideoAlpha    float64 `json:"videoAlpha"`
}

// styleRequest changes only the fields that are present
type styleRequest struct {
	Color      *string  `json:"color"`
	Opacity    *float64 `json:"opacity"`
	Brightness *float64 `json:"brightness"`
}

func (s *Server) styleView(st compositor.Style) styleView {
	return styleView{
		Swatch:        s.palette.NameOf(st.Color),
		Color:         compositor.Hex(st.Color),
		Opacity:       st.FillOpacity,
		StrokeOpacity: st.FillOpacity * st.StrokeOpacityFactor,
		Brightness:    st.Brightness,
		VideoAlpha:    st.VideoAlpha(),
	}
}

func (s *Server) status(c *gin.Context) {
	res := s.session.Result()
	timing := s.session.LastTiming()
	data := gin.H{
		"state":       s.session.State().String(),
		"faceFound":   res.Found(),
		"style":       s.styleView(s.session.Styles().Load()),
		"detectionMs": float64(timing.Detection) / float64(time.Millisecond),
		"renderMs":    float64(timing.Render) / float64(time.Millisecond),
		"detections":  timing.Detections,
		"renders":     timing.Renders,
	}
	if res != nil {
		data["timestamp"] = res.Timestamp
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func (s *Server) listPalette(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.palette})
}

func (s *Server) getStyle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.styleView(s.session.Styles().Load())})
}

func (s *Server) putStyle(c *gin.Context) {
	var req styleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var col color.NRGBA
	if req.Color != nil {
		var err error
		if col, err = config.ResolveColor(s.palette, *req.Color); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Opacity != nil && (*req.Opacity < 0 || *req.Opacity > 1) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "opacity must be between 0 and 1"})
		return
	}
	if req.Brightness != nil && (*req.Brightness < 0 || *req.Brightness > 1) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "brightness must be between 0 and 1"})
		return
	}

	st := s.session.Styles().Update(func(st *compositor.Style) {
		if req.Color != nil {
			st.Color = col
		}
		if req.Opacity != nil {
			st.FillOpacity = *req.Opacity
		}
		if req.Brightness != nil {
			st.Brightness = *req.Brightness
		}
	})

	if req.Color != nil {
		err := s.session.Refresh(c.Request.Context())
		if err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
			s.log.Debugw("refresh after style change failed", "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": s.styleView(st)})
}

func (s *Server) start(c *gin.Context) {
	err := s.session.Start(s.base)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"data": s.session.State().String()})
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrAcquisition):
		s.log.Warnw("session start failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": err.Error(),
			"hints": errors.GetAllHints(err),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) stop(c *gin.Context) {
	if err := s.session.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.session.State().String()})
}

func (s *Server) capture(c *gin.Context) {
	if !s.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many captures"})
		return
	}

	opts := s.cfg.Capture
	if f := c.Query("format"); f != "" {
		format, err := capture.ParseFormat(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts.Format = format
	}

	swatch := s.palette.NameOf(s.session.Styles().Load().Color)
	img, err := capture.Snapshot(s.session.Target(), swatch, opts)
	if errors.Is(err, capture.ErrNoFrame) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.log.Warnw("capture failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	id := uuid.New().String()
	s.log.Infow("frame captured", "id", id, "name", img.Name, "bytes", len(img.Data))
	c.Header("X-Capture-ID", id)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", img.Name))
	c.Data(http.StatusOK, img.ContentType, img.Data)
}

// preview streams the presented frame as JPEG binary messages
func (s *Server) preview(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// the client never sends; reading detects the close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	opts := capture.Options{Format: capture.FormatJPEG, Quality: 80}
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.PreviewFPS))
	defer ticker.Stop()

	var last image.Image
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "preview closed"))
			return
		case <-ticker.C:
		}

		img := s.session.Target().Snapshot()
		if img == nil || img == last {
			continue
		}
		last = img
		data, err := capture.Encode(img, opts)
		if err != nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			s.log.Debugw("preview client gone", "error", err)
			return
		}
	}
}
