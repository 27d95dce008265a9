package progress

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// ErrUnknownEvent is returned for events the renderer cannot present
var ErrUnknownEvent = errors.New("unknown event type")

// Renderer presents job events as log lines and, on completion, a chapter
// table
type Renderer struct {
	logger *slog.Logger
	out    io.Writer
}

// NewRenderer creates a new Renderer writing tables to out
func NewRenderer(logger *slog.Logger, out io.Writer) *Renderer {
	return &Renderer{logger: logger, out: out}
}

// Render presents one event
func (r *Renderer) Render(ev domain.Event) error {
	switch ev.Type {
	case domain.EventProgress:
		r.logger.Info("Job progress",
			slog.String("job_id", ev.JobID),
			slog.String("stage", ev.Stage.String()),
			slog.Float64("percent", ev.Percent),
		)
	case domain.EventError:
		r.logger.Error("Job failed",
			slog.String("job_id", ev.JobID),
			slog.String("stage", ev.Stage.String()),
			slog.String("kind", string(ev.Kind)),
			slog.String("classification", string(ev.Classification)),
			slog.String("error", ev.Message),
		)
	case domain.EventNotice:
		r.logger.Warn(ev.Message,
			slog.String("job_id", ev.JobID),
			slog.String("stage", ev.Stage.String()),
			slog.String("kind", string(ev.Kind)),
		)
	case domain.EventComplete:
		if ev.Result == nil {
			return fmt.Errorf("complete event for job %s has no result", ev.JobID)
		}
		r.logger.Info("Job completed",
			slog.String("job_id", ev.JobID),
			slog.Int("chapters", len(ev.Result.Chapters)),
			slog.Bool("from_cache", ev.Result.FromCache),
		)
		if _, err := io.WriteString(r.out, ChapterTable(ev.Result)+"\n"); err != nil {
			return fmt.Errorf("failed to write chapter table: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return nil
}

// ChapterTable renders the chapters of a result in a rounded table captioned
// with the elapsed-time label
func ChapterTable(result *domain.Result) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Timecode", "Title"})

	for i, ch := range result.Chapters {
		tw.AppendRow(table.Row{i + 1, ch.Timecode, ch.Title})
	}
	if len(result.Chapters) == 0 {
		msg := "no chapters"
		if result.Notice != nil {
			msg = result.Notice.Message
		}
		tw.AppendRow(table.Row{"", "", msg})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
	})

	if result.ElapsedLabel != "" {
		tw.SetCaption(result.ElapsedLabel)
	}
	return tw.Render()
}
