package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

// ChaptersClient talks to the chapter generation service, which also owns
// the task-status endpoint
type ChaptersClient struct {
	base
}

// NewChaptersClient creates a chapters client
func NewChaptersClient(baseURL string, opts ...Option) (*ChaptersClient, error) {
	b, err := newBase(baseURL, opts)
	if err != nil {
		return nil, fmt.Errorf("chapters: %w", err)
	}
	return &ChaptersClient{base: b}, nil
}

type generateRequest struct {
	FilenameID string `json:"filename_id"`
	Transcript string `json:"transcript"`
}

type generateResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

// GenerateChapters asks the service to build chapters from a transcript
func (c *ChaptersClient) GenerateChapters(ctx context.Context, filenameID, transcript, authToken string) (string, error) {
	body, err := json.Marshal(generateRequest{FilenameID: filenameID, Transcript: transcript})
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/generate-chapters-auth", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	bearer(req, authToken)

	var resp generateResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", fmt.Errorf("generate chapters: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("generate chapters: %s", resp.Error)
	}
	if resp.TaskID == "" {
		return "", errors.New("generate chapters: response has no task_id")
	}
	return resp.TaskID, nil
}

type taskStatusResponse struct {
	TaskResult *domain.TaskStatus `json:"task_result"`
}

// TaskStatus reads the state of a remote task
func (c *ChaptersClient) TaskStatus(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/task-status/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}

	var resp taskStatusResponse
	if err := c.doJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("task status: %w", err)
	}
	if resp.TaskResult == nil || resp.TaskResult.Result == "" {
		return &domain.TaskStatus{Result: domain.TaskPending}, nil
	}
	return resp.TaskResult, nil
}

// Chapters reads the chapter set stored for a key
func (c *ChaptersClient) Chapters(ctx context.Context, key string) (*domain.ChapterSet, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/chapters/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}

	var set domain.ChapterSet
	if err := c.doJSON(req, &set); err != nil {
		return nil, fmt.Errorf("fetch chapters: %w", err)
	}
	return &set, nil
}
