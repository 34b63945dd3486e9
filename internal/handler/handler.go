// Package handler содержит HTTP-обработчики API библиотечного сервиса.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/middleware"
	"github.com/mmeshcher/library-system/internal/model"
	"github.com/mmeshcher/library-system/internal/validation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RequestBook(ctx context.Context, memberID, bookID int64) (*model.Transaction, error)
	Approve(ctx context.Context, id int64) (*model.Transaction, error)
	Reject(ctx context.Context, id int64) (*model.Transaction, error)
	ReturnBook(ctx context.Context, id int64) (*model.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	ListTransactions(ctx context.Context, memberID int64, page model.PageRequest) (*model.Page[model.Transaction], error)
	ListPending(ctx context.Context, page model.PageRequest) (*model.Page[model.Transaction], error)
	ListNonPending(ctx context.Context, page model.PageRequest) (*model.Page[model.Transaction], error)
	ListOverdue(ctx context.Context, page model.PageRequest) (*model.Page[model.Transaction], error)
	ListByMember(ctx context.Context, memberID int64) ([]model.Transaction, error)
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	ListBooks(ctx context.Context, page model.PageRequest) (*model.Page[model.Book], error)
	GetMember(ctx context.Context, id int64) (*model.Member, error)
	AuditBook(ctx context.Context, bookID int64) (*model.InventoryReport, error)
}

// Handler реализует HTTP-обработчики API библиотечного сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnavailable), errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error",
			zap.Error(err),
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		h.writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode response error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func pageFromQuery(r *http.Request) (model.PageRequest, error) {
	q := r.URL.Query()
	page := model.PageRequest{Search: q.Get("search")}

	var err error
	if v := q.Get("offset"); v != "" {
		if page.Offset, err = strconv.Atoi(v); err != nil {
			return page, fmt.Errorf("%w: offset %q is not a number", model.ErrValidation, v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if page.Limit, err = strconv.Atoi(v); err != nil {
			return page, fmt.Errorf("%w: limit %q is not a number", model.ErrValidation, v)
		}
	}
	return page, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	return validation.ParseID(name, chi.URLParam(r, name))
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (middleware.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return p, ok
}

// ListBooks возвращает страницу каталога.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, "list books", err)
		return
	}

	books, err := h.service.ListBooks(r.Context(), page)
	if err != nil {
		h.writeError(w, r, "list books", err)
		return
	}
	h.writeJSON(w, http.StatusOK, books)
}

// GetBook возвращает книгу каталога.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookID")
	if err != nil {
		h.writeError(w, r, "get book", err)
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get book", err)
		return
	}
	h.writeJSON(w, http.StatusOK, book)
}

// RequestBook создаёт заявку текущего участника на выдачу книги.
func (h *Handler) RequestBook(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	bookID, err := pathID(r, "bookID")
	if err != nil {
		h.writeError(w, r, "request book", err)
		return
	}

	tx, err := h.service.RequestBook(r.Context(), p.MemberID, bookID)
	if err != nil {
		h.writeError(w, r, "request book", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

// MyTransactions возвращает все заявки текущего участника.
func (h *Handler) MyTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	txs, err := h.service.ListByMember(r.Context(), p.MemberID)
	if err != nil {
		h.writeError(w, r, "list member transactions", err)
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

type pageLister func(ctx context.Context, page model.PageRequest) (*model.Page[model.Transaction], error)

func (h *Handler) listTransactions(op string, list pageLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := pageFromQuery(r)
		if err != nil {
			h.writeError(w, r, op, err)
			return
		}

		txs, err := list(r.Context(), page)
		if err != nil {
			h.writeError(w, r, op, err)
			return
		}
		h.writeJSON(w, http.StatusOK, txs)
	}
}

// ListTransactions возвращает страницу всех заявок; параметр memberId ограничивает выборку.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	var memberID int64
	if v := r.URL.Query().Get("memberId"); v != "" {
		id, err := validation.ParseID("memberId", v)
		if err != nil {
			h.writeError(w, r, "list transactions", err)
			return
		}
		memberID = id
	}

	h.listTransactions("list transactions", func(ctx context.Context, page model.PageRequest) (*model.Page[model.Transaction], error) {
		return h.service.ListTransactions(ctx, memberID, page)
	})(w, r)
}

// ListPending возвращает страницу заявок, ожидающих решения.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	h.listTransactions("list pending transactions", h.service.ListPending)(w, r)
}

// ListHistory возвращает страницу рассмотренных заявок.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	h.listTransactions("list transaction history", h.service.ListNonPending)(w, r)
}

// ListOverdue возвращает страницу просроченных выдач.
func (h *Handler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	h.listTransactions("list overdue transactions", h.service.ListOverdue)(w, r)
}

// GetTransaction возвращает заявку по идентификатору.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, "get transaction", err)
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

type transactionOp func(ctx context.Context, id int64) (*model.Transaction, error)

func (h *Handler) mutate(op string, fn transactionOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			h.writeError(w, r, op, err)
			return
		}

		tx, err := fn(r.Context(), id)
		if err != nil {
			h.writeError(w, r, op, err)
			return
		}
		h.writeJSON(w, http.StatusOK, tx)
	}
}

// Approve выдаёт книгу по заявке.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.mutate("approve transaction", h.service.Approve)(w, r)
}

// Reject отклоняет заявку.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.mutate("reject transaction", h.service.Reject)(w, r)
}

// Return принимает книгу по выданной заявке.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	h.mutate("return book", h.service.ReturnBook)(w, r)
}

// DeleteTransaction удаляет заявку.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	h.mutate("delete transaction", h.service.DeleteTransaction)(w, r)
}

// AuditBook сверяет счётчик экземпляров книги с активными заявками.
func (h *Handler) AuditBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookID")
	if err != nil {
		h.writeError(w, r, "audit book", err)
		return
	}

	report, err := h.service.AuditBook(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "audit book", err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// GetMember возвращает участника библиотеки.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "memberID")
	if err != nil {
		h.writeError(w, r, "get member", err)
		return
	}

	m, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get member", err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}
