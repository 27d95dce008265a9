package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

// ErrNoRefreshToken is returned when no refresh token has been configured
var ErrNoRefreshToken = errors.New("no refresh token configured")

// Config holds Supabase token source configuration
type Config struct {
	Logger       *slog.Logger
	URL          string
	AnonKey      string
	RefreshToken string
	HTTPClient   *http.Client
}

// SupabaseSource exchanges a refresh token for a fresh access token on every
// call. Supabase rotates refresh tokens, so the latest one is kept.
type SupabaseSource struct {
	logger     *slog.Logger
	url        string
	anonKey    string
	httpClient *http.Client

	mu           sync.Mutex
	refreshToken string
}

// NewSupabaseSource creates a new SupabaseSource
func NewSupabaseSource(cfg *Config) (*SupabaseSource, error) {
	url := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if url == "" {
		return nil, errors.New("supabase url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &SupabaseSource{
		logger:       cfg.Logger,
		url:          url,
		anonKey:      cfg.AnonKey,
		httpClient:   httpClient,
		refreshToken: strings.TrimSpace(cfg.RefreshToken),
	}, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

// Token performs a refresh-token grant and returns the new access token
func (s *SupabaseSource) Token(ctx context.Context) (string, error) {
	session, err := s.Session(ctx)
	if err != nil {
		return "", err
	}
	return session.AccessToken, nil
}

// Session performs a refresh-token grant and returns the new access token
// together with the user it was issued for
func (s *SupabaseSource) Session(ctx context.Context) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshToken == "" {
		return domain.Session{}, ErrNoRefreshToken
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: s.refreshToken})
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/auth/v1/token?grant_type=refresh_token", bytes.NewReader(body))
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.anonKey != "" {
		req.Header.Set("apikey", s.anonKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to refresh session: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to read refresh response: %w", err)
	}

	var parsed refreshResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil && resp.StatusCode < 300 {
			return domain.Session{}, fmt.Errorf("failed to decode refresh response: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Session{}, fmt.Errorf("failed to refresh session: %d %s", resp.StatusCode, describe(parsed))
	}
	if parsed.AccessToken == "" {
		return domain.Session{}, errors.New("failed to refresh session: response has no access_token")
	}

	if parsed.RefreshToken != "" {
		s.refreshToken = parsed.RefreshToken
	}
	if parsed.User.ID == "" {
		return domain.Session{}, errors.New("failed to refresh session: response has no user id")
	}

	s.logger.Debug("Session refreshed",
		slog.String("user_id", parsed.User.ID),
		slog.Int("expires_in", parsed.ExpiresIn),
	)

	return domain.Session{AccessToken: parsed.AccessToken, UserID: parsed.User.ID}, nil
}

func describe(r refreshResponse) string {
	switch {
	case r.ErrorDescription != "":
		return r.ErrorDescription
	case r.Msg != "":
		return r.Msg
	case r.Error != "":
		return r.Error
	}
	return "unknown error"
}

// StaticSource always returns the same token, issued for a fixed user
type StaticSource struct {
	token  string
	userID string
}

// NewStaticSource creates a token source for service deployments that are
// handed a long-lived token
func NewStaticSource(token, userID string) *StaticSource {
	return &StaticSource{
		token:  strings.TrimSpace(token),
		userID: strings.TrimSpace(userID),
	}
}

// Token returns the configured token
func (s *StaticSource) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", errors.New("no static token configured")
	}
	return s.token, nil
}

// Session returns the configured token and user
func (s *StaticSource) Session(ctx context.Context) (domain.Session, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{AccessToken: token, UserID: s.userID}, nil
}
