// Package attachment turns uploaded files and data URIs into inline message
// payloads. Only image and video media are accepted.
package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"rotorwise.app/rotorwise/internal/store"
)

var (
	ErrUnsupportedMedia = errors.New("only image and video attachments are supported")
	ErrTooLarge         = errors.New("attachment exceeds the size limit")
	ErrMalformedDataURI = errors.New("malformed data URI")
)

// Ingest reads an uploaded file of at most maxBytes and returns it as an
// attachment. The media type is sniffed from the content, falling back to the
// file extension when sniffing finds no image or video type.
func Ingest(r io.Reader, filename string, maxBytes int64) (store.Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return store.Attachment{}, fmt.Errorf("failed to read attachment %s: %w", filename, err)
	}
	if int64(len(data)) > maxBytes {
		return store.Attachment{}, ErrTooLarge
	}
	if len(data) == 0 {
		return store.Attachment{}, fmt.Errorf("attachment %s is empty: %w", filename, ErrUnsupportedMedia)
	}

	mimeType := detect(data, filename)
	if !Supported(mimeType) {
		return store.Attachment{}, fmt.Errorf("%s (%s): %w", filename, mimeType, ErrUnsupportedMedia)
	}
	return store.Attachment{
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// videoTypes covers containers missing from Go's builtin extension table.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".avi":  "video/x-msvideo",
	".3gp":  "video/3gpp",
}

func detect(data []byte, filename string) string {
	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	if Supported(sniffed) {
		return sniffed
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if mt, ok := videoTypes[ext]; ok {
		return mt
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	return sniffed
}

// Supported reports whether mimeType is an image or video type.
func Supported(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/")
}

// ParseDataURI decodes "data:<mime>;base64,<payload>" into an attachment,
// validating both the media type and the payload.
func ParseDataURI(uri string) (store.Attachment, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return store.Attachment{}, ErrMalformedDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return store.Attachment{}, ErrMalformedDataURI
	}
	mimeType, params, ok := strings.Cut(meta, ";")
	if !ok || !strings.Contains(params, "base64") {
		return store.Attachment{}, ErrMalformedDataURI
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !Supported(mimeType) {
		return store.Attachment{}, fmt.Errorf("%s: %w", mimeType, ErrUnsupportedMedia)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return store.Attachment{}, fmt.Errorf("%w: %v", ErrMalformedDataURI, err)
	}
	return store.Attachment{MIMEType: mimeType, Data: payload}, nil
}

func DataURI(a store.Attachment) string {
	var b bytes.Buffer
	b.WriteString("data:")
	b.WriteString(a.MIMEType)
	b.WriteString(";base64,")
	b.WriteString(a.Data)
	return b.String()
}

// Decode returns the raw attachment bytes.
func Decode(a store.Attachment) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", a.MIMEType, err)
	}
	return data, nil
}
