// Package ui shows the preview window and maps its keys to style changes
package ui

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dudu/lipfilter/internal/compositor"
)

// Action is what a key press asks for
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionCapture
	ActionNextSwatch
	ActionPrevSwatch
	ActionNoEffect
	ActionOpacityUp
	ActionOpacityDown
	ActionBrightness
)

const (
	keyEsc         = 27
	opacityStep    = 0.1
	brightnessStep = 0.1
)

// KeyAction maps a WaitKey code to an action
func KeyAction(key int) Action {
	if key < 0 {
		return ActionNone
	}
	switch key & 0xff {
	case 'q', 'Q', keyEsc:
		return ActionQuit
	case 'c', 'C', ' ':
		return ActionCapture
	case 'n', 'N', ']':
		return ActionNextSwatch
	case 'p', 'P', '[':
		return ActionPrevSwatch
	case '0':
		return ActionNoEffect
	case '+', '=':
		return ActionOpacityUp
	case '-', '_':
		return ActionOpacityDown
	case 'b', 'B':
		return ActionBrightness
	}
	return ActionNone
}

// Controls applies actions to the shared style
type Controls struct {
	Styles  *compositor.StyleStore
	Palette compositor.Palette
	// Refresh is called after a color change so the overlay updates at once
	Refresh func(ctx context.Context) error
	// Capture saves the current frame; it is given the active swatch name
	Capture func(swatch string) error
	Log     *zap.SugaredLogger
}

// Apply performs a and reports whether the preview should close
func (c *Controls) Apply(ctx context.Context, a Action) (quit bool) {
	log := c.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch a {
	case ActionQuit:
		return true
	case ActionCapture:
		if c.Capture != nil {
			if err := c.Capture(c.SwatchName()); err != nil {
				log.Warnw("capture failed", "error", err)
			}
		}
	case ActionNextSwatch, ActionPrevSwatch, ActionNoEffect:
		var sw compositor.Swatch
		switch a {
		case ActionNextSwatch:
			sw = c.Palette.Step(c.Styles.Load().Color, 1)
		case ActionPrevSwatch:
			sw = c.Palette.Step(c.Styles.Load().Color, -1)
		default:
			sw = compositor.Swatch{Name: compositor.NoneSwatch}
		}
		c.Styles.SetColor(sw.Color())
		log.Infow("color selected", "swatch", sw.Name)
		if c.Refresh != nil {
			if err := c.Refresh(ctx); err != nil {
				log.Debugw("refresh skipped", "error", err)
			}
		}
	case ActionOpacityUp:
		c.Styles.SetOpacity(c.Styles.Load().FillOpacity + opacityStep)
	case ActionOpacityDown:
		c.Styles.SetOpacity(c.Styles.Load().FillOpacity - opacityStep)
	case ActionBrightness:
		b := c.Styles.Load().Brightness + brightnessStep
		if b > 1+1e-9 {
			b = 0
		}
		c.Styles.SetBrightness(b)
	}
	return false
}

// SwatchName names the active color: a palette swatch, "none" or its hex
func (c *Controls) SwatchName() string {
	return c.Palette.NameOf(c.Styles.Load().Color)
}

// Status is the one-line summary shown in the preview
func (c *Controls) Status() string {
	s := c.Styles.Load()
	return fmt.Sprintf("%s  opacity %.1f  light %.1f", c.SwatchName(), s.FillOpacity, s.Brightness)
}
