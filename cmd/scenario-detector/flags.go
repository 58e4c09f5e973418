package main

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// parseSize parses "WIDTHxHEIGHT"
func parseSize(s string) (image.Point, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return image.Point{}, fmt.Errorf("invalid size %q: expected WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return image.Point{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return image.Point{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return image.Point{}, fmt.Errorf("invalid size %q: dimensions must be positive", s)
	}
	return image.Pt(width, height), nil
}

// parseArea parses "x1,y1,x2,y2"
func parseArea(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("invalid area %q: expected x1,y1,x2,y2", s)
	}
	var v [4]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("invalid area %q: %w", s, err)
		}
		v[i] = n
	}
	area := image.Rect(v[0], v[1], v[2], v[3])
	if area.Empty() {
		return image.Rectangle{}, fmt.Errorf("invalid area %q: empty rectangle", s)
	}
	return area, nil
}
