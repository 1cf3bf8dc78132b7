// Package camera produces JPEG frames for the robot feed.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

const (
	DefaultWidth   = 200
	DefaultHeight  = 300
	DefaultQuality = 10
	DefaultFPS     = 5
)

// Source yields encoded frames. Frame may block until the next frame is
// ready and must honour ctx.
type Source interface {
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

// Synthetic renders a moving test pattern, so the feed works without a
// camera attached.
type Synthetic struct {
	mu      sync.Mutex
	width   int
	height  int
	quality int
	tick    int
	buf     bytes.Buffer
	img     *image.RGBA
}

func NewSynthetic(width, height, quality int) *Synthetic {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Synthetic{
		width:   width,
		height:  height,
		quality: quality,
		img:     image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

// Frame returns a freshly allocated JPEG; callers may hand it to other
// goroutines.
func (s *Synthetic) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.draw()
	s.tick++

	s.buf.Reset()
	if err := jpeg.Encode(&s.buf, s.img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return bytes.Clone(s.buf.Bytes()), nil
}

// draw paints vertical colour bars with a white band sweeping downwards.
func (s *Synthetic) draw() {
	bars := []color.RGBA{
		{192, 192, 192, 255},
		{192, 192, 0, 255},
		{0, 192, 192, 255},
		{0, 192, 0, 255},
		{192, 0, 192, 255},
		{192, 0, 0, 255},
		{0, 0, 192, 255},
	}
	barWidth := (s.width + len(bars) - 1) / len(bars)
	band := s.tick * 4 % s.height

	for y := 0; y < s.height; y++ {
		inBand := y >= band && y < band+8
		for x := 0; x < s.width; x++ {
			c := bars[x/barWidth]
			if inBand {
				c = color.RGBA{255, 255, 255, 255}
			}
			s.img.SetRGBA(x, y, c)
		}
	}
}

func (s *Synthetic) Close() error { return nil }

// Stream pulls frames from src at fps and passes each to sink until ctx is
// cancelled or src fails. A slow sink delays the next frame rather than
// queueing them.
func Stream(ctx context.Context, src Source, fps int, sink func([]byte) error) error {
	if fps <= 0 {
		fps = DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, err := src.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := sink(frame); err != nil {
			return err
		}
	}
}
