package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"jordanella.com/scenario-detector/internal/logging"
)

// ErrAlreadyStarted is returned by Start on a running source
var ErrAlreadyStarted = errors.New("capture already started")

// Screencapper grabs one screenshot of a device
type Screencapper interface {
	Screencap(ctx context.Context) (*image.RGBA, error)
}

// ADBSource polls a device for screenshots and publishes them to a mailbox. Frames are
// resized to the size given to Start when the device returns another size.
type ADBSource struct {
	device   Screencapper
	interval time.Duration
	mailbox  *Mailbox
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewADBSource creates a source capturing at most once per interval
func NewADBSource(device Screencapper, interval time.Duration) *ADBSource {
	return &ADBSource{
		device:   device,
		interval: interval,
		mailbox:  NewMailbox(),
		logger:   logging.NewLogger("ADBSource"),
	}
}

func (s *ADBSource) Start(size image.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	if err := s.mailbox.Start(size); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.poll(gctx, size)
		return nil
	})

	s.cancel = cancel
	s.group = group
	s.logger.Info("Screen capture started",
		zap.Int("width", size.X),
		zap.Int("height", size.Y),
		zap.Duration("interval", s.interval))
	return nil
}

func (s *ADBSource) Stop() error {
	s.mu.Lock()
	cancel, group := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := group.Wait()
	s.mailbox.Stop()
	s.logger.Info("Screen capture stopped", zap.Int64("dropped_frames", s.mailbox.Stats().Dropped))
	return err
}

func (s *ADBSource) AcquireLatestFrame() *image.RGBA {
	return s.mailbox.AcquireLatestFrame()
}

// Stats returns the mailbox counters
func (s *ADBSource) Stats() MailboxStats {
	return s.mailbox.Stats()
}

func (s *ADBSource) poll(ctx context.Context, size image.Point) {
	limiter := rate.NewLimiter(rate.Every(s.interval), 1)
	failures := 0

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		frame, err := s.device.Screencap(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			// Log the first failure of a streak and then every 50th
			if failures == 1 || failures%50 == 0 {
				s.logger.Warn("Screencap failed", zap.Int("consecutive", failures), zap.Error(err))
			}
			continue
		}
		failures = 0

		s.mailbox.Publish(fitFrame(frame, size))
	}
}

// fitFrame resizes frame to size. Empty sizes keep the frame as captured.
func fitFrame(frame *image.RGBA, size image.Point) *image.RGBA {
	if size.X <= 0 || size.Y <= 0 || frame.Bounds().Size() == size {
		return frame
	}
	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, frame.Bounds(), draw.Src, nil)
	return dst
}
