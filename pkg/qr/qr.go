package qr

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

const imageSize = 256

// Renderer writes scannable QR PNGs for outbound replies. Images land in a
// dedicated directory under the workspace; channels send them by path and the
// heartbeat sweeps stale ones.
type Renderer struct {
	dir string
}

func NewRenderer(workspace string) (*Renderer, error) {
	dir := filepath.Join(workspace, "qr")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create qr directory: %w", err)
	}
	return &Renderer{dir: dir}, nil
}

func (r *Renderer) Dir() string {
	return r.dir
}

// Render encodes url as a PNG and returns the file path.
func (r *Renderer) Render(url string) (string, error) {
	name := fmt.Sprintf("qr_%s_%s.png", time.Now().UTC().Format("150405"), uuid.NewString()[:8])
	path := filepath.Join(r.dir, name)
	if err := qrcode.WriteFile(url, qrcode.Medium, imageSize, path); err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return path, nil
}

// SweepOlderThan removes rendered images past the given age and returns how
// many were deleted.
func (r *Renderer) SweepOlderThan(age time.Duration) int {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-age)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(r.dir, entry.Name())) == nil {
				removed++
			}
		}
	}
	return removed
}
