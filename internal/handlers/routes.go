package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/petermazzocco/recipe-media/internal/auth"
	"github.com/petermazzocco/recipe-media/internal/monitor"
	"github.com/petermazzocco/recipe-media/internal/upload"
)

// Deps are the collaborators the routes close over.
type Deps struct {
	Uploads *upload.Service
	Issuer  *auth.Issuer
	Monitor *monitor.Monitor
	// Users enables the OAuth login routes when set.
	Users UserStore
	// StaticDir enables GET /uploads/* when set.
	StaticDir string
	// RateLimit is requests per minute per client on /upload routes; 0 disables it.
	RateLimit int
}

// Mount registers every route on r.
func Mount(r chi.Router, d Deps) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		HealthHandler(w, r, d.Monitor)
	})

	if d.StaticDir != "" {
		r.Handle("/uploads/*", StaticHandler("/uploads/", d.StaticDir))
	}

	r.Post("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		RefreshTokenHandler(w, r, d.Issuer)
	})
	r.With(auth.Required(d.Issuer)).Get("/auth/me", GetUserHandler)

	// User auth
	if d.Users != nil {
		r.Get("/auth/{provider}", BeginAuthHandler)
		r.Get("/auth/{provider}/callback", func(w http.ResponseWriter, r *http.Request) {
			UserLoginHandler(w, r, d.Users, d.Issuer)
		})
		r.Post("/logout/{provider}", LogoutHandler)
	}

	r.Route("/upload", func(r chi.Router) {
		if d.RateLimit > 0 {
			r.Use(httprate.Limit(
				d.RateLimit,
				1*time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
			))
		}

		r.With(auth.Optional(d.Issuer)).Post("/image", func(w http.ResponseWriter, r *http.Request) {
			UploadImageHandler(w, r, d.Uploads, d.Monitor)
		})
		r.Get("/image/info", func(w http.ResponseWriter, r *http.Request) {
			ImageInfoHandler(w, r, d.Uploads)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Required(d.Issuer))
			r.Delete("/image", func(w http.ResponseWriter, r *http.Request) {
				DeleteImageHandler(w, r, d.Uploads)
			})
			r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
				StatsHandler(w, r, d.Uploads)
			})
			r.Post("/cleanup", func(w http.ResponseWriter, r *http.Request) {
				CleanupHandler(w, r, d.Uploads)
			})
		})
	})
}
