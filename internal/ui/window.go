package ui

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"
)

// Window manages the preview display
type Window struct {
	window     *gocv.Window
	name       string
	lastFrame  time.Time
	frameCount int
	fps        float64
	status     string
}

// NewWindow creates a new preview window
func NewWindow(name string, width, height int) *Window {
	window := gocv.NewWindow(name)
	// Force window to appear on macOS
	window.ResizeWindow(width, height)
	window.MoveWindow(100, 100)
	return &Window{
		window:    window,
		name:      name,
		lastFrame: time.Now(),
	}
}

// SetStatus sets a line of text drawn under the FPS counter
func (w *Window) SetStatus(s string) {
	w.status = s
}

// Show displays a presented frame and updates the FPS counter
func (w *Window) Show(img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return nil
	}
	frame, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return errors.Wrap(err, "failed to convert preview frame")
	}
	defer frame.Close()

	w.frameCount++
	now := time.Now()

	// Calculate FPS every second
	elapsed := now.Sub(w.lastFrame)
	if elapsed >= time.Second {
		w.fps = float64(w.frameCount) / elapsed.Seconds()
		w.frameCount = 0
		w.lastFrame = now
	}

	green := color.RGBA{G: 255, A: 255}
	gocv.PutText(&frame, fmt.Sprintf("FPS: %.1f", w.fps), image.Pt(10, 30),
		gocv.FontHersheyPlain, 2, green, 2)
	if w.status != "" {
		gocv.PutText(&frame, w.status, image.Pt(10, 60),
			gocv.FontHersheyPlain, 1.4, green, 1)
	}

	w.window.IMShow(frame)
	return nil
}

// WaitKey waits for key press, returns key code or -1
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// FPS returns current frames per second
func (w *Window) FPS() float64 {
	return w.fps
}

// Close closes the window
func (w *Window) Close() error {
	if w.window != nil {
		return w.window.Close()
	}
	return nil
}
