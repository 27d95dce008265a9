package pipeline

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
	"github.com/cuongbtq/chapterize/internal/remote"
)

// classify tags err with its stage. Quota and rate-limit responses get their
// own kind and message; network faults are transient; everything else keeps
// the stage's default kind and class.
func classify(stage domain.Stage, kind domain.Kind, class domain.Classification, err error) *domain.ProcessError {
	perr := domain.NewProcessError(stage, kind, class, err)

	switch code := remote.StatusCode(err); {
	case code == http.StatusPaymentRequired:
		perr.Kind = domain.KindQuotaExceeded
		perr.Classification = domain.ClassQuotaExceeded
		perr.Message = "Usage quota exceeded. Add credits or wait for the quota to reset, then try again."
	case code == http.StatusTooManyRequests:
		perr.Kind = domain.KindRateLimited
		perr.Classification = domain.ClassRateLimited
		perr.Message = "Too many requests. Wait a moment and try again."
	case code >= http.StatusInternalServerError:
		perr.Classification = domain.ClassTransient
	case code == 0 && isNetworkError(err):
		perr.Classification = domain.ClassTransient
	}
	return perr
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
