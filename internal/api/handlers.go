// Package api exposes the book sources, wishlists, search history and the
// price watcher over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/uniscrape/internal/apperr"
	"github.com/maltedev/uniscrape/internal/models"
	"github.com/maltedev/uniscrape/internal/normalize"
)

type DepositoryScraper interface {
	GetHomeSections(ctx context.Context) ([]string, error)
	GetSectionBooks(ctx context.Context, section string) ([]models.DepositoryBook, error)
	GetSearch(ctx context.Context, term string, page int) ([]models.DepositoryBook, error)
	GetByIdentifier(ctx context.Context, id string) (models.DepositoryBook, error)
}

type DepositorySessions interface {
	Login(ctx context.Context, email, password, userID string) (string, error)
	Logout(ctx context.Context, userID string) (string, error)
	IsLoggedIn(ctx context.Context, userID string) (bool, error)
	GetWishlistItems(ctx context.Context, userID string) ([]models.DepositoryWishlistItem, error)
}

type AmazonSearcher interface {
	Search(ctx context.Context, keywords string, page int) ([]models.AmazonBook, error)
}

type EbaySearcher interface {
	Search(ctx context.Context, keywords string, page int) ([]models.EbayItem, error)
}

type SearchHistory interface {
	Record(ctx context.Context, userID, term string) ([]string, error)
	Recent(ctx context.Context, userID string) ([]string, error)
}

type Wishlists interface {
	Get(ctx context.Context, userID string) ([]models.Book, error)
	GetBook(ctx context.Context, userID, isbn string) (models.Book, error)
	Add(ctx context.Context, userID string, book models.Book) ([]models.Book, error)
	Remove(ctx context.Context, userID, isbn string) ([]models.Book, error)
}

type Subscriptions interface {
	Subscribe(ctx context.Context, userID, email string) (models.Subscription, error)
	Unsubscribe(ctx context.Context, userID, email string) error
	Subscriptions(ctx context.Context, userID string) ([]models.Subscription, error)
}

// Deps wires the handlers. Sessions and Amazon are nil when the headless
// browser is disabled; their routes then answer 503.
type Deps struct {
	Depository    DepositoryScraper
	Sessions      DepositorySessions
	Amazon        AmazonSearcher
	Ebay          EbaySearcher
	History       SearchHistory
	Wishlists     Wishlists
	Subscriptions Subscriptions
	Normalizer    *normalize.Normalizer
	Tokens        TokenService
	Logger        *slog.Logger
}

type Handlers struct {
	depository    DepositoryScraper
	sessions      DepositorySessions
	amazon        AmazonSearcher
	ebay          EbaySearcher
	history       SearchHistory
	wishlists     Wishlists
	subscriptions Subscriptions
	normalizer    *normalize.Normalizer
	tokens        TokenService
	logger        *slog.Logger
}

func NewHandlers(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Normalizer == nil {
		d.Normalizer = normalize.New(normalize.DefaultUSDRate)
	}
	return &Handlers{
		depository:    d.Depository,
		sessions:      d.Sessions,
		amazon:        d.Amazon,
		ebay:          d.Ebay,
		history:       d.History,
		wishlists:     d.Wishlists,
		subscriptions: d.Subscriptions,
		normalizer:    d.Normalizer,
		tokens:        d.Tokens,
		logger:        d.Logger.With("component", "api"),
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SubscriptionRequest struct {
	Email string `json:"email"`
}

type SubscriptionsResponse struct {
	Subscribed    bool                  `json:"subscribed"`
	Subscriptions []models.Subscription `json:"subscriptions"`
}

type StatusResponse struct {
	LoggedIn bool `json:"loggedIn"`
}

// Depository

func (h *Handlers) GetSections(w http.ResponseWriter, r *http.Request) {
	sections, err := h.depository.GetHomeSections(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, sections)
}

func (h *Handlers) GetSection(w http.ResponseWriter, r *http.Request) {
	section := pathParam(r, "sectionName")
	books, err := h.depository.GetSectionBooks(r.Context(), section)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.normalizer.FromDepositoryList(books))
}

func (h *Handlers) SearchDepository(w http.ResponseWriter, r *http.Request) {
	term, page, ok := h.searchParams(w, r)
	if !ok {
		return
	}
	books, err := h.depository.GetSearch(r.Context(), term, page)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.normalizer.FromDepositoryList(books))
}

func (h *Handlers) GetByISBN(w http.ResponseWriter, r *http.Request) {
	book, err := h.depository.GetByIdentifier(r.Context(), pathParam(r, "isbn"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.normalizer.FromDepository(book))
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsAvailable(w, r) {
		return
	}
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, apperr.KindInvalidIdentifier, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		h.respondError(w, r, http.StatusBadRequest, apperr.KindInvalidIdentifier, "email and password are required")
		return
	}

	msg, err := h.sessions.Login(r.Context(), req.Email, req.Password, UserID(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsAvailable(w, r) {
		return
	}
	msg, err := h.sessions.Logout(r.Context(), UserID(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (h *Handlers) LoginStatus(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsAvailable(w, r) {
		return
	}
	loggedIn, err := h.sessions.IsLoggedIn(r.Context(), UserID(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, StatusResponse{LoggedIn: loggedIn})
}

// AllAuth reports whether every source requiring a login has a session.
func (h *Handlers) AllAuth(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsAvailable(w, r) {
		return
	}
	loggedIn, err := h.sessions.IsLoggedIn(r.Context(), UserID(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, messageResponse{Message: strconv.FormatBool(loggedIn)})
}

func (h *Handlers) DepositoryWishlist(w http.ResponseWriter, r *http.Request) {
	if !h.sessionsAvailable(w, r) {
		return
	}
	items, err := h.sessions.GetWishlistItems(r.Context(), UserID(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.normalizer.FromWishlistList(items))
}

// Other sources

func (h *Handlers) SearchAmazon(w http.ResponseWriter, r *http.Request) {
	if h.amazon == nil {
		h.unavailable(w, r, "headless search is disabled")
		return
	}
	term, page, ok := h.searchParams(w, r)
	if !ok {
		return
	}
	books, err := h.amazon.Search(r.Context(), term, page)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.normalizer.FromAmazonList(books))
}

func (h *Handlers) SearchEbay(w http.ResponseWriter, r *http.Request) {
	if h.ebay == nil {
		h.unavailable(w, r, "structured search is disabled")
		return
	}
	term, page, ok := h.searchParams(w, r)
	if !ok {
		return
	}
	items, err := h.ebay.Search(r.Context(), term, page)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.normalizer.FromEbayList(items))
}

func (h *Handlers) RecentSearches(w http.ResponseWriter, r *http.Request) {
	terms, err := h.history.Recent(r.Context(), UserID(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, terms)
}

// Wishlist

func (h *Handlers) GetWishlist(w http.ResponseWriter, r *http.Request) {
	books, err := h.wishlists.Get(r.Context(), UserID(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, books)
}

func (h *Handlers) GetWishlistBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.wishlists.GetBook(r.Context(), UserID(r.Context()), pathParam(r, "isbn"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, book)
}

func (h *Handlers) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	var book models.Book
	if err := json.NewDecoder(r.Body).Decode(&book); err != nil {
		h.respondError(w, r, http.StatusBadRequest, apperr.KindInvalidIdentifier, "invalid request body")
		return
	}
	books, err := h.wishlists.Add(r.Context(), UserID(r.Context()), book)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, books)
}

func (h *Handlers) RemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	if _, err := h.wishlists.Remove(r.Context(), UserID(r.Context()), pathParam(r, "isbn")); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Watcher subscriptions

func (h *Handlers) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subscriptions.Subscriptions(r.Context(), UserID(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, SubscriptionsResponse{Subscribed: true, Subscriptions: subs})
}

func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, apperr.KindInvalidIdentifier, "invalid request body")
		return
	}
	sub, err := h.subscriptions.Subscribe(r.Context(), UserID(r.Context()), req.Email)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, sub)
}

func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.subscriptions.Unsubscribe(r.Context(), UserID(r.Context()), pathParam(r, "email")); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// searchParams reads the term and page and records the term in the user's
// history. A history failure never fails the search.
func (h *Handlers) searchParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	term := strings.TrimSpace(pathParam(r, "searchTerm"))
	if term == "" {
		h.respondError(w, r, http.StatusBadRequest, apperr.KindInvalidIdentifier, "search term is required")
		return "", 0, false
	}

	rawPage := chi.URLParam(r, "page")
	if rawPage == "" {
		rawPage = r.URL.Query().Get("page")
	}
	page := 1
	if rawPage != "" {
		p, err := strconv.Atoi(rawPage)
		if err != nil || p < 1 {
			h.respondError(w, r, http.StatusBadRequest, apperr.KindInvalidIdentifier, "page must be a positive integer")
			return "", 0, false
		}
		page = p
	}

	if userID := UserID(r.Context()); userID != "" && h.history != nil {
		if _, err := h.history.Record(r.Context(), userID, term); err != nil {
			h.logger.Warn("failed to record search", "user_id", userID, "error", err)
		}
	}
	return term, page, true
}

func (h *Handlers) sessionsAvailable(w http.ResponseWriter, r *http.Request) bool {
	if h.sessions == nil {
		h.unavailable(w, r, "authenticated sessions are disabled")
		return false
	}
	return true
}

func (h *Handlers) unavailable(w http.ResponseWriter, r *http.Request, message string) {
	h.respondError(w, r, http.StatusServiceUnavailable, apperr.KindUnknown, message)
}

func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}
