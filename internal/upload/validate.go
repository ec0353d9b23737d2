package upload

import (
	"fmt"
	"slices"
	"strings"
)

// ViolationCode classifies a rejected upload.
type ViolationCode string

const (
	MissingFile ViolationCode = "missing_file"
	EmptyFile   ViolationCode = "empty_file"
	InvalidType ViolationCode = "invalid_type"
	TooLarge    ViolationCode = "too_large"
)

type Violation struct {
	Code    ViolationCode
	Message string
}

// FileInput is the file part of an upload request as declared by the client.
type FileInput struct {
	Present  bool
	Filename string
	MimeType string
	Size     int64
	Data     []byte
}

type Limits struct {
	MaxSize      int64
	AllowedTypes []string
}

// ValidationError carries every violation; the first is the one reported to clients.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	return e.First().Message
}

func (e *ValidationError) First() Violation {
	if len(e.Violations) == 0 {
		return Violation{Code: MissingFile, Message: "Invalid upload"}
	}
	return e.Violations[0]
}

// Validate checks in against lim without touching the payload beyond its length.
// It returns all violations found, in a stable order.
func Validate(in FileInput, lim Limits) []Violation {
	if !in.Present {
		return []Violation{{Code: MissingFile, Message: "No file uploaded"}}
	}

	var out []Violation
	size := max(in.Size, int64(len(in.Data)))

	allowed := slices.ContainsFunc(lim.AllowedTypes, func(t string) bool {
		return strings.EqualFold(t, in.MimeType)
	})
	if !allowed {
		out = append(out, Violation{
			Code:    InvalidType,
			Message: fmt.Sprintf("Invalid file type. Allowed types: %s", strings.Join(lim.AllowedTypes, ", ")),
		})
	}
	if lim.MaxSize > 0 && size > lim.MaxSize {
		out = append(out, Violation{
			Code:    TooLarge,
			Message: fmt.Sprintf("File too large. Maximum size is %s", HumanSize(lim.MaxSize)),
		})
	}
	if len(in.Data) == 0 {
		out = append(out, Violation{Code: EmptyFile, Message: "Uploaded file is empty"})
	}
	return out
}

// HumanSize renders a byte count the way limit messages show it.
func HumanSize(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	if n >= mb {
		return fmt.Sprintf("%.1fMB", float64(n)/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
