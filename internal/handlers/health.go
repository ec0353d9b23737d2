package handlers

import (
	"net/http"

	"github.com/petermazzocco/recipe-media/internal/monitor"
)

// HealthHandler answers 503 when any registered check fails.
func HealthHandler(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor) {
	rep := mon.Report(r.Context())
	status := http.StatusOK
	if rep.Status != monitor.StatusUp {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// StaticHandler serves stored assets from dir under prefix. Variants are never
// rewritten in place, so responses are cacheable for a year.
func StaticHandler(prefix, dir string) http.Handler {
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		fs.ServeHTTP(w, r)
	})
}
