package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/library-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware библиотечного сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.RequestID)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/books", h.ListBooks)
		r.Get("/books/{bookID}", h.GetBook)
		r.Post("/books/{bookID}/request", h.RequestBook)

		r.Get("/user/transactions", h.MyTransactions)

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.RequireAdmin)

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.ListTransactions)
				r.Get("/pending", h.ListPending)
				r.Get("/history", h.ListHistory)
				r.Get("/overdue", h.ListOverdue)

				r.Get("/{id}", h.GetTransaction)
				r.Delete("/{id}", h.DeleteTransaction)
				r.Post("/{id}/approve", h.Approve)
				r.Post("/{id}/reject", h.Reject)
				r.Post("/{id}/return", h.Return)
			})

			r.Get("/books/{bookID}/audit", h.AuditBook)
			r.Get("/members/{memberID}", h.GetMember)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
