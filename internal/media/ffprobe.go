package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Prober measures the duration of a local media file
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// FFProbe runs the ffprobe binary
type FFProbe struct {
	Binary string
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration returns the container duration in seconds
func (p FFProbe) Duration(ctx context.Context, path string) (float64, error) {
	binary := strings.TrimSpace(p.Binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, errors.New("ffprobe: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return parseDuration(output)
}

func parseDuration(output []byte) (float64, error) {
	var parsed probeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return 0, fmt.Errorf("ffprobe parse: %w", err)
	}

	value := strings.TrimSpace(parsed.Format.Duration)
	if value == "" || value == "N/A" {
		return 0, errors.New("ffprobe: could not determine duration")
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(seconds) || seconds < 0 {
		return 0, fmt.Errorf("ffprobe: invalid duration %q", value)
	}
	return seconds, nil
}
