package upload

import (
	"errors"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petermazzocco/recipe-media/internal/storage"
)

const anonymousOwner = "anonymous"

// ErrInvalidURL is returned when an image URL cannot name a stored file.
var ErrInvalidURL = errors.New("invalid image URL")

// BaseName builds {ownerTag}_{timestampMillis}_{randomToken}. Uniqueness is probabilistic;
// nothing checks for an existing base before writing.
func BaseName(userID string, now time.Time, token string) string {
	return ownerTag(userID) + "_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + token
}

// RandomToken returns 12 hex characters from a v4 UUID.
func RandomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ownerTag keeps only characters that are safe in a filename and cannot be
// confused with the field separator.
func ownerTag(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return anonymousOwner
	}
	return b.String()
}

// FileNameFromURL extracts the stored filename from an asset URL (or a bare filename).
func FileNameFromURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}
	name := path.Base(u.Path)
	if !storage.ValidName(name) {
		return "", ErrInvalidURL
	}
	return name, nil
}

func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + name
}
