package media

import (
	"strings"

	"github.com/cuongbtq/chapterize/internal/pipeline/domain"
)

const videoIDLength = 11

// ExtractVideoID returns the 11-character YouTube video id found in url.
// It works for watch, youtu.be and shorts links, with or without extra
// query parameters.
func ExtractVideoID(url string) (string, error) {
	parts := strings.FieldsFunc(url, func(r rune) bool {
		return !isIDRune(r)
	})
	for _, part := range parts {
		if len(part) == videoIDLength {
			return part, nil
		}
	}
	return "", domain.ErrInvalidSourceURL
}

func isIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}
