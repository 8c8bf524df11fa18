package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Health contributes extra fields to /health.
	Health func() map[string]interface{}
}

func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{"status": "ok"}
		if opts.Health != nil {
			for k, v := range opts.Health() {
				health[k] = v
			}
		}
		h.respondJSON(w, http.StatusOK, health)
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/book", func(r chi.Router) {
			r.Route("/depository", func(r chi.Router) {
				r.Get("/sections", h.GetSections)
				r.Get("/section/{sectionName}", h.GetSection)
				r.Get("/isbn/{isbn}", h.GetByISBN)

				r.Group(func(r chi.Router) {
					r.Use(h.RequireUser)
					r.Get("/search/{searchTerm}", h.SearchDepository)
					r.Get("/search/{searchTerm}/{page}", h.SearchDepository)
					r.Post("/auth/login", h.Login)
					r.Post("/auth/logout", h.Logout)
					r.Get("/auth/status", h.LoginStatus)
					r.Get("/wishlist", h.DepositoryWishlist)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(h.RequireUser)
				r.Get("/amazon/search/{searchTerm}", h.SearchAmazon)
				r.Get("/amazon/search/{searchTerm}/{page}", h.SearchAmazon)
				r.Get("/ebay/search/{searchTerm}", h.SearchEbay)
				r.Get("/ebay/search/{searchTerm}/{page}", h.SearchEbay)
				r.Get("/all/recent", h.RecentSearches)
				r.Get("/all/auth", h.AllAuth)
			})
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(h.RequireUser)

			r.Get("/wishlist", h.GetWishlist)
			r.Post("/wishlist", h.AddToWishlist)
			r.Get("/wishlist/{isbn}", h.GetWishlistBook)
			r.Delete("/wishlist/{isbn}", h.RemoveFromWishlist)

			r.Get("/watcher/subscription", h.GetSubscriptions)
			r.Post("/watcher/subscription", h.Subscribe)
			r.Delete("/watcher/subscription/{email}", h.Unsubscribe)
		})
	})

	return r
}
