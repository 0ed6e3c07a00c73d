package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/metrics"
	"stockledger/backend/internal/service"
	"stockledger/backend/internal/store"
)

type API struct {
	service       *service.Service
	verifier      *TokenVerifier
	allowedOrigin string
	metrics       *metrics.Ledger
	logger        *zap.Logger
}

type Option func(*API)

func WithMetrics(m *metrics.Ledger) Option {
	return func(a *API) {
		a.metrics = m
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

func New(svc *service.Service, verifier *TokenVerifier, allowedOrigin string, opts ...Option) *API {
	a := &API{
		service:       svc,
		verifier:      verifier,
		allowedOrigin: allowedOrigin,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.withMiddleware)
	r.Use(a.recoverPanic)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.Get("/healthz", a.handleHealth)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(RoleCashier, RoleAdmin))
			r.Get("/variants/availability", a.handleAvailability)
			r.Get("/variants/{id}", a.handleVariant)
			r.Get("/variants/{id}/sales", a.handleVariantSales)
			r.Get("/stock-history", a.handleStockHistory)
			r.Post("/orders", a.handleCreateOrder)
			r.Get("/orders", a.handleListOrders)
			r.Get("/orders/{id}", a.handleGetOrder)
			r.Get("/returns", a.handleListReturns)
			r.Post("/sales", a.handleQuickSale)
		})
		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(RoleAdmin))
			r.Post("/stock/mutations", a.handleMutation)
			r.Get("/variants/{id}/reconcile", a.handleReconcile)
			r.Post("/returns", a.handleCreateReturn)
			r.Post("/sales/backfill", a.handleBackfill)
		})
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.service.Ping(ctx); err != nil {
		a.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok": false,
			"at": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleMutation(w http.ResponseWriter, r *http.Request) {
	var req domain.MutationRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if reason, ok := domain.ParseReason(string(req.Reason)); ok {
		req.Reason = reason
	}

	result, err := a.service.Mutate(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleAvailability(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	productID, err := uuid.Parse(strings.TrimSpace(query.Get("product_id")))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("product_id must be a uuid"))
		return
	}
	key := domain.VariantKey{ProductID: productID}
	if key.SizeID, err = optionalUUID(query.Get("size_id")); err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("size_id must be a uuid"))
		return
	}
	if key.ColorID, err = optionalUUID(query.Get("color_id")); err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("color_id must be a uuid"))
		return
	}

	availability, err := a.service.Availability(r.Context(), key)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

func (a *API) handleVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r)
	if !ok {
		return
	}
	variant, err := a.service.GetVariant(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"variant":         variant,
		"effective_price": variant.EffectivePrice(),
	})
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r)
	if !ok {
		return
	}
	report, err := a.service.Reconcile(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleVariantSales(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r)
	if !ok {
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	sales, err := a.service.ListSales(r.Context(), id, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleStockHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.HistoryFilter{
		Reason: domain.Reason(strings.ToLower(strings.TrimSpace(query.Get("reason")))),
		Limit:  parsePositiveLimit(query.Get("limit"), 200, 1000),
	}

	var err error
	for name, dest := range map[string]**uuid.UUID{
		"variant_id": &filter.VariantID,
		"product_id": &filter.ProductID,
		"size_id":    &filter.SizeID,
		"color_id":   &filter.ColorID,
	} {
		if *dest, err = optionalUUID(query.Get(name)); err != nil {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("%s must be a uuid", name))
			return
		}
	}
	if filter.From, err = optionalTime(query.Get("from")); err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("from must be RFC3339"))
		return
	}
	if filter.To, err = optionalTime(query.Get("to")); err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("to must be RFC3339"))
		return
	}

	entries, err := a.service.StockHistory(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	order, err := a.service.CreateOrder(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 200)
	orders, err := a.service.RecentOrders(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathUUID(w, r)
	if !ok {
		return
	}
	order, err := a.service.GetOrder(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	ret, err := a.service.CreateReturn(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ret)
}

func (a *API) handleListReturns(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 200)
	returns, err := a.service.RecentReturns(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (a *API) handleQuickSale(w http.ResponseWriter, r *http.Request) {
	var req domain.QuickSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.QuickSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleBackfill(w http.ResponseWriter, r *http.Request) {
	var req domain.BackfillRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	sale, err := a.service.RecordBackfill(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(startedAt)
		a.metrics.ObserveRequest(r.Method, route, status, elapsed)
		a.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
		)
	})
}

func (a *API) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				a.writeError(w, http.StatusInternalServerError, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// writeServiceError maps ledger errors onto HTTP statuses. Anything not
// recognised is reported as a generic 500.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var stockErr *store.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		payload := map[string]any{
			"error":      stockErr.Error(),
			"variant_id": stockErr.VariantID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}
		if stockErr.Line > 0 {
			payload["line"] = stockErr.Line
		}
		writeJSON(w, http.StatusConflict, payload)
	case errors.Is(err, store.ErrTransactionAborted):
		a.logger.Warn("ledger transaction aborted", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "transaction aborted; retry"})
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrVariantNotFound):
		a.writeError(w, http.StatusNotFound, err)
	case isValidationError(err):
		a.writeError(w, http.StatusBadRequest, err)
	default:
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		store.ErrEmptyOrder,
		store.ErrEmptyReturn,
		store.ErrInvalidQuantity,
		store.ErrInvalidPrice,
		store.ErrInvalidReason,
		store.ErrInvalidTotals,
		store.ErrInvalidPaymentStatus,
		store.ErrInvalidRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (a *API) pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("id must be a uuid"))
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(raw string) (*uuid.UUID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	id, err := uuid.Parse(trimmed)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalTime(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the detail goes to the log only.
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
