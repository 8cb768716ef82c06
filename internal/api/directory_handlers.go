package api

import (
	"net/http"

	"github.com/example/ec-fulfillment/internal/api/middleware"
	"github.com/example/ec-fulfillment/internal/catalog"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// WithDirectory enables the catalog and contact maintenance routes.
func (h *Handlers) WithDirectory(products *catalog.Service, contacts *notification.Directory) *Handlers {
	h.products = products
	h.contacts = contacts
	return h
}

// PutProduct creates or replaces a catalog entry (admin).
func (h *Handlers) PutProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string          `json:"name"`
		Price decimal.Decimal `json:"price"`
		Image string          `json:"image"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.products.Put(r.Context(), catalog.Product{
		ID:    chi.URLParam(r, "productID"),
		Name:  req.Name,
		Price: req.Price,
		Image: req.Image,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// PutContact stores where the caller's order emails go. Email defaults to the
// token's email claim.
func (h *Handlers) PutContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Email == "" {
		if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
			req.Email = claims.Email
		}
	}
	if req.Email == "" {
		h.respondError(w, r, http.StatusBadRequest, errBadRequest)
		return
	}

	c := notification.Contact{UserID: middleware.GetUserID(r.Context()), Email: req.Email, Name: req.Name}
	if err := h.contacts.Put(r.Context(), c); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) GetContact(w http.ResponseWriter, r *http.Request) {
	c, err := h.contacts.Lookup(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}
