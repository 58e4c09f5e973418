package adb

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"jordanella.com/scenario-detector/internal/cv"
	"jordanella.com/scenario-detector/internal/scenario"
)

const notificationTag = "scenario-detector"

// Click taps at the given screen position. A press longer than a tap is sent as a
// stationary swipe. The command returns once the device has performed the gesture.
func (c *Controller) Click(ctx context.Context, at image.Point, press time.Duration) error {
	var cmd string
	if press > 0 {
		cmd = fmt.Sprintf("input swipe %d %d %d %d %d", at.X, at.Y, at.X, at.Y, press.Milliseconds())
	} else {
		cmd = fmt.Sprintf("input tap %d %d", at.X, at.Y)
	}
	_, err := c.Shell(ctx, cmd)
	return err
}

// Swipe performs a swipe gesture
func (c *Controller) Swipe(ctx context.Context, from, to image.Point, duration time.Duration) error {
	cmd := fmt.Sprintf("input swipe %d %d %d %d %d",
		from.X, from.Y, to.X, to.Y, duration.Milliseconds())
	_, err := c.Shell(ctx, cmd)
	return err
}

// SendKey sends a key event (e.g., "KEYCODE_BACK", "KEYCODE_HOME")
func (c *Controller) SendKey(ctx context.Context, key string) error {
	_, err := c.Shell(ctx, "input keyevent "+key)
	return err
}

// SendIntent starts an activity, or sends a broadcast, through the activity manager
func (c *Controller) SendIntent(ctx context.Context, intent scenario.IntentAction) error {
	verb := "start"
	if intent.Broadcast {
		verb = "broadcast"
	}

	parts := []string{"am", verb}
	if intent.Action != "" {
		parts = append(parts, "-a", shellQuote(intent.Action))
	}
	if intent.Component != "" {
		parts = append(parts, "-n", shellQuote(intent.Component))
	}

	keys := make([]string, 0, len(intent.Extras))
	for k := range intent.Extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, "--es", shellQuote(k), shellQuote(intent.Extras[k]))
	}

	output, err := c.Shell(ctx, strings.Join(parts, " "))
	if err != nil {
		return err
	}
	if strings.Contains(output, "Error:") {
		return fmt.Errorf("intent rejected: %s", output)
	}
	return nil
}

// Notify posts a notification on the device
func (c *Controller) Notify(ctx context.Context, title, message string) error {
	cmd := fmt.Sprintf("cmd notification post -t %s %s %s",
		shellQuote(title), notificationTag, shellQuote(message))
	_, err := c.Shell(ctx, cmd)
	return err
}

// Screencap captures the device screen
func (c *Controller) Screencap(ctx context.Context) (*image.RGBA, error) {
	data, err := c.ExecOut(ctx, "screencap", "-p")
	if err != nil {
		return nil, err
	}
	img, err := cv.DecodeRGBA(bytes.NewReader(data))
	if err != nil {
		c.logger.Debug("Undecodable screencap", zap.Int("bytes", len(data)))
		return nil, fmt.Errorf("failed to decode screencap: %w", err)
	}
	return img, nil
}

// ScreenSize returns the current display size
func (c *Controller) ScreenSize(ctx context.Context) (image.Point, error) {
	output, err := c.Shell(ctx, "wm size")
	if err != nil {
		return image.Point{}, err
	}

	// "Override size" wins over "Physical size" when both are printed
	var size image.Point
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		var w, h int
		if _, err := fmt.Sscanf(line, "Physical size: %dx%d", &w, &h); err == nil && size == (image.Point{}) {
			size = image.Pt(w, h)
		}
		if _, err := fmt.Sscanf(line, "Override size: %dx%d", &w, &h); err == nil {
			size = image.Pt(w, h)
		}
	}
	if size == (image.Point{}) {
		return image.Point{}, fmt.Errorf("failed to parse window size: %s", output)
	}
	return size, nil
}

// shellQuote wraps s for the device shell
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
