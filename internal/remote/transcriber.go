package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

// TranscriberClient talks to the upload/transcription service
type TranscriberClient struct {
	base
}

// NewTranscriberClient creates a transcriber client
func NewTranscriberClient(baseURL string, opts ...Option) (*TranscriberClient, error) {
	b, err := newBase(baseURL, opts)
	if err != nil {
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	return &TranscriberClient{base: b}, nil
}

// Upload sends the audio file as multipart form field "file"
func (c *TranscriberClient) Upload(ctx context.Context, artifactPath, authToken string) (*domain.UploadReceipt, error) {
	file, err := os.Open(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		defer file.Close()
		part, err := form.CreateFormFile("file", filepath.Base(artifactPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	bearer(req, authToken)

	var receipt domain.UploadReceipt
	if err := c.doJSON(req, &receipt); err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	if receipt.Error != "" {
		return nil, fmt.Errorf("upload failed: %s", receipt.Error)
	}
	if receipt.FilenameID == "" {
		return nil, errors.New("upload failed: response has no filename_id")
	}
	return &receipt, nil
}

type triggerResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

// TriggerTranscription starts transcription of an uploaded file and returns
// the remote task id
func (c *TranscriberClient) TriggerTranscription(ctx context.Context, filenameID, authToken string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/process-transcription/"+url.PathEscape(filenameID), nil)
	if err != nil {
		return "", err
	}
	bearer(req, authToken)

	var resp triggerResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", fmt.Errorf("trigger transcription: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("trigger transcription: %s", resp.Error)
	}
	if resp.TaskID == "" {
		return "", errors.New("trigger transcription: response has no task_id")
	}
	return resp.TaskID, nil
}

type transcriptResponse struct {
	Transcript *string `json:"transcript"`
}

// Transcript fetches the finished transcript of an uploaded file
func (c *TranscriberClient) Transcript(ctx context.Context, filenameID string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/transcript/"+url.PathEscape(filenameID), nil)
	if err != nil {
		return "", err
	}

	var resp transcriptResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	if resp.Transcript == nil {
		return "", errors.New("transcription not found in response")
	}
	return *resp.Transcript, nil
}

type cacheResponse struct {
	Status struct {
		HasAudio           bool `json:"has_audio"`
		HasTranscript      bool `json:"has_transcript"`
		HasChapters        bool `json:"has_chapters"`
		ProcessingComplete bool `json:"processing_complete"`
	} `json:"status"`
	VideoID  string `json:"video_id"`
	Metadata struct {
		CreatedAt string `json:"created_at"`
	} `json:"metadata"`
}

// CheckCache reads what the service already holds for a content key
func (c *TranscriberClient) CheckCache(ctx context.Context, key string) (*domain.CacheStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/check-cache/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}

	var resp cacheResponse
	if err := c.doJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("check cache: %w", err)
	}

	status := &domain.CacheStatus{
		HasAudio:           resp.Status.HasAudio,
		HasTranscript:      resp.Status.HasTranscript,
		HasChapters:        resp.Status.HasChapters,
		ProcessingComplete: resp.Status.ProcessingComplete,
		VideoID:            resp.VideoID,
	}
	if created := parseTimestamp(resp.Metadata.CreatedAt); !created.IsZero() {
		status.CreatedAt = &created
	}
	return status, nil
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
