// Package media validates and encodes outgoing attachments.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/matheus3301/clinichat/internal/chat"
)

const mb = 1 << 20

// Rule is the accepted MIME types and size ceiling for one attachment kind.
type Rule struct {
	MaxSize   int64
	MimeTypes []string
}

// Rules is the attachment policy per kind.
var Rules = map[chat.MessageType]Rule{
	chat.TypeImage: {
		MaxSize:   5 * mb,
		MimeTypes: []string{"image/jpeg", "image/png", "image/webp"},
	},
	chat.TypeVideo: {
		MaxSize:   16 * mb,
		MimeTypes: []string{"video/mp4", "video/3gpp"},
	},
	chat.TypeAudio: {
		MaxSize:   16 * mb,
		MimeTypes: []string{"audio/mpeg", "audio/ogg", "audio/aac", "audio/mp4", "audio/amr", "audio/wav"},
	},
	chat.TypeDocument: {
		MaxSize: 100 * mb,
		MimeTypes: []string{
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"application/vnd.ms-powerpoint",
			"application/vnd.openxmlformats-officedocument.presentationml.presentation",
			"application/zip",
			"text/plain",
			"text/csv",
		},
	},
}

// File is an attachment picked by the user.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Reader   io.Reader
}

// OpenFile reads the file at path and detects its MIME type from content.
func OpenFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return FromBytes(filepath.Base(path), data), nil
}

// FromBytes wraps an in-memory payload, detecting its MIME type from content.
func FromBytes(name string, data []byte) *File {
	return &File{
		Name:     name,
		MimeType: baseType(mimetype.Detect(data).String()),
		Size:     int64(len(data)),
		Reader:   bytes.NewReader(data),
	}
}

// ValidationError explains why an attachment was rejected.
type ValidationError struct {
	Kind   chat.MessageType
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s attachment: %s", e.Kind, e.Reason)
}

// Validate checks f against the policy for kind. It returns nil when the
// attachment is acceptable and a *ValidationError otherwise.
func Validate(f *File, kind chat.MessageType) error {
	rule, ok := Rules[kind]
	if !ok {
		return &ValidationError{Kind: kind, Reason: "unsupported attachment kind"}
	}
	if f == nil {
		return &ValidationError{Kind: kind, Reason: "no file selected"}
	}
	mt := baseType(f.MimeType)
	if !slices.Contains(rule.MimeTypes, mt) {
		return &ValidationError{Kind: kind, Reason: fmt.Sprintf("type %q is not allowed (accepted: %s)", mt, strings.Join(rule.MimeTypes, ", "))}
	}
	if f.Size <= 0 {
		return &ValidationError{Kind: kind, Reason: "file is empty"}
	}
	if f.Size > rule.MaxSize {
		return &ValidationError{Kind: kind, Reason: fmt.Sprintf("file is %s, limit is %s", humanSize(f.Size), humanSize(rule.MaxSize))}
	}
	return nil
}

// Prepare encodes the file payload and attaches the send metadata.
func Prepare(f *File, to, caption string) (chat.OutboundMedia, error) {
	if f == nil || f.Reader == nil {
		return chat.OutboundMedia{}, errors.New("read attachment: no content")
	}
	data, err := io.ReadAll(f.Reader)
	if err != nil {
		return chat.OutboundMedia{}, fmt.Errorf("read attachment: %w", err)
	}
	return chat.OutboundMedia{
		To:       to,
		Base64:   base64.StdEncoding.EncodeToString(data),
		MimeType: baseType(f.MimeType),
		FileName: f.Name,
		Caption:  caption,
	}, nil
}

// Decode reverses the payload encoding done by Prepare.
func Decode(m chat.OutboundMedia) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(m.Base64)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return data, nil
}

// baseType drops MIME parameters such as "; charset=utf-8".
func baseType(mt string) string {
	mt, _, _ = strings.Cut(mt, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func humanSize(n int64) string {
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
	return fmt.Sprintf("%d KB", (n+1023)/1024)
}
