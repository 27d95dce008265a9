package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
	"golang.org/x/sync/errgroup"
)

// stoppedMarkers appear in the body served by the hosting platform when the
// app behind an endpoint has been stopped
var stoppedMarkers = []string{
	"modal-http",
	"app for invoked web endpoint is stopped",
}

// Config holds probe configuration
type Config struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	Path       string
}

// Probe checks reachability of remote services
type Probe struct {
	logger     *slog.Logger
	httpClient *http.Client
	path       string
	now        func() time.Time
}

// NewProbe creates a new Probe
func NewProbe(cfg *Config) *Probe {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	path := cfg.Path
	if path == "" {
		path = "/docs"
	}
	return &Probe{
		logger:     cfg.Logger,
		httpClient: client,
		path:       path,
		now:        time.Now,
	}
}

// CheckAll probes every service concurrently and returns once all have
// answered, in the order they were given
func (p *Probe) CheckAll(ctx context.Context, services []domain.Service) []domain.ServiceStatus {
	results := make([]domain.ServiceStatus, len(services))

	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range services {
		g.Go(func() error {
			results[i] = domain.ServiceStatus{
				Name:   svc.Name,
				Status: p.check(gctx, svc),
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Offline returns the names of services reported offline
func Offline(statuses []domain.ServiceStatus) []string {
	var names []string
	for _, s := range statuses {
		if s.Status == domain.ServiceOffline {
			names = append(names, s.Name)
		}
	}
	return names
}

func (p *Probe) check(ctx context.Context, svc domain.Service) string {
	url := fmt.Sprintf("%s%s?t=%d", strings.TrimRight(svc.Endpoint, "/"), p.path, p.now().UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Warn("Failed to build health request",
			slog.String("service", svc.Name),
			slog.String("error", err.Error()),
		)
		return domain.ServiceOffline
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn("Service unreachable",
			slog.String("service", svc.Name),
			slog.String("error", err.Error()),
		)
		return domain.ServiceOffline
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		p.logger.Warn("Service returned 404",
			slog.String("service", svc.Name),
		)
		return domain.ServiceOffline
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		p.logger.Warn("Failed to read health response",
			slog.String("service", svc.Name),
			slog.String("error", err.Error()),
		)
		return domain.ServiceOffline
	}

	text := string(body)
	for _, marker := range stoppedMarkers {
		if strings.Contains(text, marker) {
			p.logger.Warn("Service reports stopped app",
				slog.String("service", svc.Name),
			)
			return domain.ServiceOffline
		}
	}

	return domain.ServiceOnline
}
