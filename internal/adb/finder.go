package adb

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "adb.exe"
	}
	return "adb"
}

// FindADB locates the adb executable. preferredPath may be the binary itself or a
// directory holding it (directly or under platform-tools/).
func FindADB(preferredPath string) (string, error) {
	name := binaryName()

	if preferredPath != "" {
		candidates := []string{
			preferredPath,
			filepath.Join(preferredPath, name),
			filepath.Join(preferredPath, "platform-tools", name),
		}
		for _, candidate := range candidates {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}

	if sdk := os.Getenv("ANDROID_HOME"); sdk != "" {
		candidate := filepath.Join(sdk, "platform-tools", name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	commonPaths := []string{
		`C:\Android\sdk\platform-tools\adb.exe`,
		os.ExpandEnv(`${LOCALAPPDATA}\Android\Sdk\platform-tools\adb.exe`),
	}
	if runtime.GOOS != "windows" {
		home, _ := os.UserHomeDir()
		commonPaths = []string{
			"/usr/bin/adb",
			"/usr/local/bin/adb",
			filepath.Join(home, "Android", "Sdk", "platform-tools", "adb"),
		}
	}

	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if adbPath, err := exec.LookPath(name); err == nil {
		return adbPath, nil
	}

	return "", fmt.Errorf("adb not found, please specify path in config")
}

// ListDevices returns the serials of the devices in the "device" state
func ListDevices(ctx context.Context, adbPath string, runner Runner) ([]string, error) {
	if runner == nil {
		runner = execRunner{}
	}
	output, err := runner.Run(ctx, adbPath, "devices")
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return parseDevices(string(output)), nil
}

func parseDevices(output string) []string {
	var serials []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "device" {
			serials = append(serials, fields[0])
		}
	}
	return serials
}

// ConnectADB finds adb and connects to the device with the given serial. An empty
// serial picks the first attached device.
func ConnectADB(ctx context.Context, adbPath, serial string, opts ...Option) (*Controller, error) {
	path, err := FindADB(adbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find ADB: %w", err)
	}

	ctrl := NewController(path, serial, opts...)

	if serial == "" {
		devices, err := ListDevices(ctx, path, ctrl.runner)
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, fmt.Errorf("no device attached")
		}
		ctrl = NewController(path, devices[0], opts...)
	}

	if err := ctrl.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to device: %w", err)
	}

	return ctrl, nil
}
