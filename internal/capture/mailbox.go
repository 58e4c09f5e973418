// Package capture provides the frame sources feeding the detector: a single-slot
// mailbox, an adb screencap poller and a directory replayer.
package capture

import (
	"image"
	"sync"
)

// MailboxStats counts the frames that went through a mailbox
type MailboxStats struct {
	Published int64
	Acquired  int64
	Dropped   int64 // Overwritten before being acquired
}

// Mailbox holds the newest published frame. Publishing over an unread frame replaces it.
// It implements cv.FrameSource for producers that push frames.
type Mailbox struct {
	mu      sync.Mutex
	frame   *image.RGBA
	size    image.Point
	running bool
	stats   MailboxStats
}

// NewMailbox creates an empty mailbox
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Start empties the slot and accepts frames of the given size
func (m *Mailbox) Start(size image.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = nil
	m.size = size
	m.running = true
	return nil
}

// Stop empties the slot. Frames published while stopped are discarded.
func (m *Mailbox) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = nil
	m.running = false
	return nil
}

// Size returns the size given to the last Start
func (m *Mailbox) Size() image.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Publish stores frame as the newest one. It returns false when the mailbox is stopped.
func (m *Mailbox) Publish(frame *image.RGBA) bool {
	if frame == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return false
	}
	if m.frame != nil {
		m.stats.Dropped++
	}
	m.frame = frame
	m.stats.Published++
	return true
}

// AcquireLatestFrame takes the pending frame, or returns nil
func (m *Mailbox) AcquireLatestFrame() *image.RGBA {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame := m.frame
	if frame != nil {
		m.frame = nil
		m.stats.Acquired++
	}
	return frame
}

// Stats returns the frame counters
func (m *Mailbox) Stats() MailboxStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
