package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/petermazzocco/recipe-media/internal/auth"
	"github.com/petermazzocco/recipe-media/internal/logger"
	"github.com/petermazzocco/recipe-media/internal/mediaerr"
	"github.com/petermazzocco/recipe-media/internal/monitor"
	"github.com/petermazzocco/recipe-media/internal/retention"
	"github.com/petermazzocco/recipe-media/internal/upload"
)

// multipartSlack covers boundaries and part headers around the file itself.
const multipartSlack = 1 << 20

type uploadResponse struct {
	URL          string          `json:"url"`
	Filename     string          `json:"filename"`
	Size         int64           `json:"size"`
	MimeType     string          `json:"mimetype"`
	OriginalURL  string          `json:"originalUrl"`
	ThumbnailURL string          `json:"thumbnailUrl"`
	WebpURL      string          `json:"webpUrl"`
	Metadata     upload.Metadata `json:"metadata"`
}

type deleteRequest struct {
	ImageURL string `json:"imageUrl" validate:"required"`
}

type infoQuery struct {
	ImageURL string `json:"imageUrl" validate:"required"`
}

type cleanupRequest struct {
	OlderThanDays *int `json:"olderThanDays" validate:"omitempty,min=1"`
}

type cleanupResponse struct {
	DeletedCount  int `json:"deletedCount"`
	OlderThanDays int `json:"olderThanDays"`
}

func UploadImageHandler(w http.ResponseWriter, r *http.Request, svc *upload.Service, mon *monitor.Monitor) {
	log := logger.FromContext(r.Context())

	in, tooLarge := readImageField(w, r, svc.Limits().MaxSize)
	if tooLarge {
		mon.UploadRejected()
		writeError(w, http.StatusBadRequest, "File too large", "File too large. Maximum size is "+upload.HumanSize(svc.Limits().MaxSize))
		return
	}

	// Anonymous uploads are allowed; the owner tag falls back to "anonymous".
	var userID string
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		userID = p.UserID
	}

	res, err := svc.Upload(r.Context(), upload.Request{File: in, UserID: userID})
	if err != nil {
		writeUploadError(w, r, mon, err)
		return
	}
	mon.UploadSucceeded(res.Size)
	log.Info("image uploaded", slog.String("base", res.BaseName), slog.String("user", userID))

	writeData(w, http.StatusOK, "Image uploaded successfully", uploadResponse{
		URL:          res.OptimizedURL,
		Filename:     res.Filename,
		Size:         res.Size,
		MimeType:     res.MimeType,
		OriginalURL:  res.OriginalURL,
		ThumbnailURL: res.ThumbnailURL,
		WebpURL:      res.OptimizedURL,
		Metadata:     res.Metadata,
	})
}

// readImageField pulls the "image" part out of a multipart body. A missing or
// unreadable part yields a FileInput with Present=false.
func readImageField(w http.ResponseWriter, r *http.Request, maxSize int64) (upload.FileInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartSlack)

	file, header, err := r.FormFile("image")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return upload.FileInput{}, true
		}
		return upload.FileInput{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var mbe *http.MaxBytesError
		return upload.FileInput{}, errors.As(err, &mbe)
	}
	return upload.FileInput{
		Present:  true,
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Data:     data,
	}, false
}

func writeUploadError(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, err error) {
	log := logger.FromContext(r.Context())

	var verr *upload.ValidationError
	if errors.As(err, &verr) {
		mon.UploadRejected()
		v := verr.First()
		label := errValidation
		switch v.Code {
		case upload.InvalidType:
			label = "Invalid file type"
		case upload.TooLarge:
			label = "File too large"
		}
		writeError(w, http.StatusBadRequest, label, v.Message)
		return
	}

	mon.UploadFailed()
	kind, ok := mediaerr.KindOf(err)
	if !ok {
		writeInternal(w, r, "upload failed", err)
		return
	}
	log.Error("upload failed", slog.String("kind", kind.String()), slog.Any("error", err))
	switch kind {
	case mediaerr.InsufficientStorage:
		writeError(w, http.StatusInternalServerError, errInternal, "Unable to store the uploaded image")
	default:
		writeError(w, http.StatusUnprocessableEntity, errProcessing, "Unable to process the uploaded image")
	}
}

func DeleteImageHandler(w http.ResponseWriter, r *http.Request, svc *upload.Service) {
	var req deleteRequest
	if msg, ok := decodeJSON(w, r, &req); !ok {
		writeError(w, http.StatusBadRequest, errValidation, msg)
		return
	}

	deleted, err := svc.Delete(r.Context(), req.ImageURL)
	if errors.Is(err, upload.ErrInvalidURL) {
		writeError(w, http.StatusBadRequest, errValidation, "imageUrl does not reference an uploaded image")
		return
	}
	if err != nil {
		writeInternal(w, r, "delete failed", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, errNotFound, "Image not found")
		return
	}
	writeData(w, http.StatusOK, "Image deleted successfully", nil)
}

func ImageInfoHandler(w http.ResponseWriter, r *http.Request, svc *upload.Service) {
	q := infoQuery{ImageURL: r.URL.Query().Get("imageUrl")}
	if msg, ok := validateStruct(q); !ok {
		writeError(w, http.StatusBadRequest, errValidation, msg)
		return
	}

	info, err := svc.Info(r.Context(), q.ImageURL)
	if errors.Is(err, upload.ErrInvalidURL) {
		writeError(w, http.StatusBadRequest, errValidation, "imageUrl does not reference an uploaded image")
		return
	}
	if err != nil {
		writeInternal(w, r, "info lookup failed", err)
		return
	}
	if !info.Exists {
		writeError(w, http.StatusNotFound, errNotFound, "Image not found")
		return
	}
	writeData(w, http.StatusOK, "", info)
}

func StatsHandler(w http.ResponseWriter, r *http.Request, svc *upload.Service) {
	st, err := svc.Stats(r.Context())
	if err != nil {
		writeInternal(w, r, "stats failed", err)
		return
	}
	writeData(w, http.StatusOK, "", st)
}

func CleanupHandler(w http.ResponseWriter, r *http.Request, svc *upload.Service) {
	var req cleanupRequest
	if msg, ok := decodeJSON(w, r, &req); !ok {
		writeError(w, http.StatusBadRequest, errValidation, msg)
		return
	}
	days := retention.DefaultDays
	if req.OlderThanDays != nil {
		days = *req.OlderThanDays
	}

	n, err := svc.Cleanup(r.Context(), days)
	if errors.Is(err, retention.ErrInvalidThreshold) {
		writeError(w, http.StatusBadRequest, errValidation, "olderThanDays must be at least 1")
		return
	}
	if err != nil {
		writeInternal(w, r, "cleanup failed", err)
		return
	}
	logger.FromContext(r.Context()).Info("cleanup completed", slog.Int("deleted", n), slog.Int("days", days))
	writeData(w, http.StatusOK, "Cleanup completed", cleanupResponse{DeletedCount: n, OlderThanDays: days})
}
