package adb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"jordanella.com/scenario-detector/internal/logging"
)

// Runner executes the adb binary and returns its standard output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%w, output: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Controller drives one device through the adb binary
type Controller struct {
	path   string
	serial string
	runner Runner
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
}

// Option configures a Controller
type Option func(*Controller)

// WithRunner replaces the process runner
func WithRunner(r Runner) Option {
	return func(c *Controller) {
		c.runner = r
	}
}

// NewController creates a controller for the device with the given serial. An empty
// serial targets the only attached device.
func NewController(adbPath, serial string, opts ...Option) *Controller {
	c := &Controller{
		path:   adbPath,
		serial: serial,
		runner: execRunner{},
		logger: logging.NewLogger("adb").With(zap.String("serial", serial)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Serial returns the targeted device serial
func (c *Controller) Serial() string {
	return c.serial
}

// Connect attaches network devices ("host:port" serials). Other devices are assumed
// attached already.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.Contains(c.serial, ":") {
		c.connected = true
		return nil
	}

	output, err := c.runner.Run(ctx, c.path, "connect", c.serial)
	if err != nil {
		return fmt.Errorf("failed to connect to device %s: %w", c.serial, err)
	}

	out := string(output)
	if !strings.Contains(out, "connected") {
		return fmt.Errorf("unexpected connect output: %s", strings.TrimSpace(out))
	}

	c.connected = true
	c.logger.Info("Connected to device")
	return nil
}

// Disconnect detaches a network device
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && strings.Contains(c.serial, ":") {
		if _, err := c.runner.Run(ctx, c.path, "disconnect", c.serial); err != nil {
			return fmt.Errorf("failed to disconnect %s: %w", c.serial, err)
		}
	}
	c.connected = false
	return nil
}

// IsConnected returns whether the controller is connected
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Controller) args(args ...string) []string {
	if c.serial == "" {
		return args
	}
	return append([]string{"-s", c.serial}, args...)
}

// Shell executes a shell command and returns its trimmed output
func (c *Controller) Shell(ctx context.Context, command string) (string, error) {
	output, err := c.runner.Run(ctx, c.path, c.args("shell", command)...)
	if err != nil {
		return "", fmt.Errorf("shell command %q failed: %w", command, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// ExecOut runs a command and returns its raw binary output
func (c *Controller) ExecOut(ctx context.Context, args ...string) ([]byte, error) {
	output, err := c.runner.Run(ctx, c.path, c.args(append([]string{"exec-out"}, args...)...)...)
	if err != nil {
		return nil, fmt.Errorf("exec-out %s failed: %w", strings.Join(args, " "), err)
	}
	return output, nil
}
