package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

// StatusSource is the remote cache-status endpoint
type StatusSource interface {
	CheckCache(ctx context.Context, key string) (*domain.CacheStatus, error)
}

// Config holds cache probe configuration
type Config struct {
	Logger *slog.Logger
	Source StatusSource
	// ChaptersMaxAge, when positive, makes cached chapters older than this
	// count as a miss
	ChaptersMaxAge time.Duration
}

// Probe reports which pipeline stages are already satisfied for a key
type Probe struct {
	logger         *slog.Logger
	source         StatusSource
	chaptersMaxAge time.Duration
	now            func() time.Time
}

// NewProbe creates a new Probe
func NewProbe(cfg *Config) *Probe {
	return &Probe{
		logger:         cfg.Logger,
		source:         cfg.Source,
		chaptersMaxAge: cfg.ChaptersMaxAge,
		now:            time.Now,
	}
}

// Snapshot issues a single cache-status request. Any failure is reported
// as "nothing cached" so acquisition-dependent stages still run.
func (p *Probe) Snapshot(ctx context.Context, key string) domain.CacheStatus {
	status, err := p.source.CheckCache(ctx, key)
	if err != nil {
		p.logger.Warn("Cache check failed, assuming nothing cached",
			slog.String("content_key", key),
			slog.String("error", err.Error()),
		)
		return domain.CacheStatus{}
	}

	snapshot := *status
	if snapshot.HasChapters && p.chaptersStale(snapshot) {
		p.logger.Info("Cached chapters are stale, forcing regeneration",
			slog.String("content_key", key),
			slog.Time("created_at", *snapshot.CreatedAt),
			slog.Duration("max_age", p.chaptersMaxAge),
		)
		snapshot.HasChapters = false
		snapshot.ProcessingComplete = false
	}

	p.logger.Debug("Cache snapshot",
		slog.String("content_key", key),
		slog.Bool("has_audio", snapshot.HasAudio),
		slog.Bool("has_transcript", snapshot.HasTranscript),
		slog.Bool("has_chapters", snapshot.HasChapters),
		slog.Bool("processing_complete", snapshot.ProcessingComplete),
	)

	return snapshot
}

func (p *Probe) chaptersStale(status domain.CacheStatus) bool {
	if p.chaptersMaxAge <= 0 || status.CreatedAt == nil {
		return false
	}
	return p.now().Sub(*status.CreatedAt) > p.chaptersMaxAge
}
