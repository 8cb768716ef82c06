package api

import (
	"net/http"
	"time"

	"github.com/example/ec-fulfillment/internal/api/middleware"
	"github.com/example/ec-fulfillment/internal/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// RequestTimeout bounds every request.
const RequestTimeout = 30 * time.Second

func NewRouter(h *Handlers, tokens middleware.Validator, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, middleware.RequestLogger(logger), chimw.Recoverer)
	r.Use(chimw.Timeout(RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Public
	r.Post("/payments/webhook", h.Webhook)
	r.Get("/inventory/{productID}/available", h.GetAvailability)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(tokens))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddToCart)
			r.Put("/items/{productID}", h.UpdateCartItem)
			r.Delete("/items/{productID}", h.RemoveFromCart)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/", h.ListOrders)
			r.Get("/number/{number}", h.GetOrderByNumber)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(auth.RoleAdmin))
				r.Put("/{id}/status", h.UpdateOrderStatus)
				r.Get("/alerts/unsettled", h.UnsettledOrders)
				r.Post("/{id}/settle-stock", h.SettleStock)
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/create/{orderID}", h.CreatePayment)
			r.Post("/verify", h.VerifyPayment)
			r.Get("/order/{orderID}", h.GetPaymentByOrder)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/{productID}", h.GetStock)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(auth.RoleAdmin))
				r.Post("/", h.CreateStock)
				r.Post("/adjust", h.AdjustStock)
				r.Get("/alerts/low-stock", h.LowStock)
				r.Get("/{productID}/movements", h.Movements)
				r.Get("/{productID}/reconcile", h.Reconcile)
			})
		})

		if h.products != nil && h.contacts != nil {
			r.Get("/catalog/products/{productID}", h.GetProduct)
			r.With(middleware.RequireRole(auth.RoleAdmin)).Put("/catalog/products/{productID}", h.PutProduct)
			r.Get("/me/contact", h.GetContact)
			r.Put("/me/contact", h.PutContact)
		}
	})

	return otelhttp.NewHandler(r, "api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}
