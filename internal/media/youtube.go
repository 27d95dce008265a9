package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
	ytdl "github.com/kkdai/youtube/v2"
)

// VideoSource is the subset of the YouTube client used for acquisition
type VideoSource interface {
	GetVideoContext(ctx context.Context, url string) (*ytdl.Video, error)
	GetStreamContext(ctx context.Context, video *ytdl.Video, format *ytdl.Format) (io.ReadCloser, int64, error)
}

// Config holds acquirer configuration
type Config struct {
	Logger    *slog.Logger
	OutputDir string
	Source    VideoSource
	Prober    Prober
}

// YouTubeAcquirer downloads the best audio-only stream of a video
type YouTubeAcquirer struct {
	logger    *slog.Logger
	outputDir string
	source    VideoSource
	prober    Prober
}

// NewYouTubeAcquirer creates a new acquirer
func NewYouTubeAcquirer(cfg *Config) *YouTubeAcquirer {
	source := cfg.Source
	if source == nil {
		source = &ytdl.Client{}
	}
	prober := cfg.Prober
	if prober == nil {
		prober = FFProbe{}
	}
	return &YouTubeAcquirer{
		logger:    cfg.Logger,
		outputDir: cfg.OutputDir,
		source:    source,
		prober:    prober,
	}
}

// audioExtensions are tried in order when looking for an earlier download
var audioExtensions = []string{".m4a", ".webm", ".audio"}

// Acquire stores the audio of sourceURL as <output_dir>/<videoID><ext>.
// A file left by an earlier run is reused.
func (a *YouTubeAcquirer) Acquire(ctx context.Context, sourceURL string) (*domain.Artifact, error) {
	videoID, err := ExtractVideoID(sourceURL)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	if artifact, ok := a.existing(ctx, videoID); ok {
		return artifact, nil
	}

	video, err := a.source.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	format, err := bestAudioFormat(video.Formats)
	if err != nil {
		return nil, err
	}

	stream, size, err := a.source.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()

	filename := videoID + extension(format.MimeType)
	path := filepath.Join(a.outputDir, filename)

	a.logger.Info("Downloading audio",
		slog.String("video_id", videoID),
		slog.String("mime_type", format.MimeType),
		slog.Int("bitrate", format.Bitrate),
		slog.Int64("size", size),
	)

	if err := writeFile(path, stream); err != nil {
		return nil, err
	}

	duration, err := a.prober.Duration(ctx, path)
	if err != nil || duration <= 0 {
		attrs := []any{
			slog.String("path", path),
			slog.Float64("metadata_seconds", video.Duration.Seconds()),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		a.logger.Warn("Downloaded audio could not be measured, using metadata duration", attrs...)
		duration = video.Duration.Seconds()
	}

	return &domain.Artifact{
		Path:     path,
		Filename: filename,
		Duration: duration,
	}, nil
}

func (a *YouTubeAcquirer) existing(ctx context.Context, videoID string) (*domain.Artifact, bool) {
	for _, ext := range audioExtensions {
		filename := videoID + ext
		path := filepath.Join(a.outputDir, filename)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}

		duration, err := a.prober.Duration(ctx, path)
		if err != nil {
			a.logger.Warn("Existing audio could not be probed, downloading again",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil, false
		}

		a.logger.Info("Reusing downloaded audio",
			slog.String("path", path),
			slog.Float64("duration_seconds", duration),
		)
		return &domain.Artifact{Path: path, Filename: filename, Duration: duration}, true
	}
	return nil, false
}

func bestAudioFormat(formats ytdl.FormatList) (*ytdl.Format, error) {
	var audio []*ytdl.Format
	for i := range formats {
		if strings.HasPrefix(formats[i].MimeType, "audio/") {
			audio = append(audio, &formats[i])
		}
	}
	if len(audio) == 0 {
		return nil, errors.New("no audio formats available")
	}

	sort.SliceStable(audio, func(i, j int) bool {
		// prefer mp4 containers, then higher bitrate
		mi, mj := strings.Contains(audio[i].MimeType, "mp4"), strings.Contains(audio[j].MimeType, "mp4")
		if mi != mj {
			return mi
		}
		return audio[i].Bitrate > audio[j].Bitrate
	})
	return audio[0], nil
}

func extension(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "mp4"):
		return ".m4a"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	default:
		return ".audio"
	}
}

func writeFile(path string, src io.Reader) error {
	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(file, src); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to download: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}
