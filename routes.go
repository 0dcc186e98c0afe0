package main

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/manojkumarsharma/bookstore/handlers"
	"github.com/manojkumarsharma/bookstore/metrics"
	"github.com/manojkumarsharma/bookstore/middleware"
	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/respond"
	"github.com/manojkumarsharma/bookstore/store"
)

type api struct {
	Auth    *handlers.AuthHandler
	Users   *handlers.UsersHandler
	Admin   *handlers.AdminHandler
	Books   *handlers.BooksHandler
	Upload  *handlers.UploadHandler
	Cart    *handlers.CartHandler
	Orders  *handlers.OrdersHandler
	System  *handlers.SystemHandler
	Authn   *middleware.Authenticator
	Limit   func(http.Handler) http.Handler
	Login   func(http.Handler) http.Handler
	Origins []string

	// UploadDir is served under /uploads/ when uploads are kept on disk.
	UploadDir  string
	TrustProxy bool
	Production bool
	Debug      bool
}

func passthrough(next http.Handler) http.Handler { return next }

func newRouter(a api, log logrus.FieldLogger) chi.Router {
	if a.Limit == nil {
		a.Limit = passthrough
	}
	if a.Login == nil {
		a.Login = passthrough
	}
	user, admin := a.Authn.User, a.Authn.Admin
	staff := middleware.Authorize(models.RoleAdmin, models.RoleModerator)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if a.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Recoverer(log, a.Debug))
	r.Use(middleware.RequestLogger(log))
	r.Use(metrics.HTTPMetricsMiddleware)
	r.Use(middleware.SecurityHeaders(a.Production))
	r.Use(middleware.CORS(a.Origins))
	r.NotFound(respond.RouteNotFound)
	r.MethodNotAllowed(respond.RouteNotFound)

	r.Get("/api/health", a.System.Health)
	r.Get("/api/docs", handlers.Docs(r))
	r.Handle("/metrics", metrics.Handler())
	if a.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", noListing(http.FileServer(http.Dir(a.UploadDir)))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.Limit)

		r.Route("/auth", func(r chi.Router) {
			r.With(a.Login).Post("/register", a.Auth.Register)
			r.With(a.Login).Post("/login", a.Auth.Login)
			r.With(a.Login).Post("/forgot-password", a.Auth.ForgotPassword)
			r.With(a.Login).Post("/reset-password", a.Auth.ResetPassword)
			r.With(a.Authn.Optional).Post("/logout", a.Auth.Logout)
			r.With(user).Get("/me", a.Auth.Me)
		})

		r.Route("/users", func(r chi.Router) {
			r.With(a.Login).Post("/register", a.Auth.Register)
			r.With(a.Login).Post("/login", a.Auth.Login)
			r.Group(func(r chi.Router) {
				r.Use(user)
				r.Put("/profile", a.Users.UpdateProfile)
				r.Put("/change-password", a.Users.ChangePassword)
			})
			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Get("/", a.Users.List)
				r.Get("/{id}", a.Users.Get)
				r.Put("/{id}", a.Users.Update)
				r.Delete("/{id}", a.Users.Delete)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(a.Login).Post("/login", a.Admin.Login)
			r.Post("/logout", a.Admin.Logout)
			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Get("/validate", a.Admin.Validate)
				r.Get("/dashboard", a.Admin.Dashboard)
				r.Get("/admins", a.Admin.ListAdmins)
				r.Post("/admins", a.Admin.CreateAdmin)
				r.Put("/admins/{id}", a.Admin.UpdateAdmin)
				r.Delete("/admins/{id}", a.Admin.DeleteAdmin)
				r.Get("/users", a.Users.List)
				r.Put("/users/{id}/role", a.Users.SetRole)
				r.Put("/users/{id}/activate", a.Users.Activate)
				r.Put("/users/{id}/deactivate", a.Users.Deactivate)
				r.Get("/settings", a.Admin.GetSettings)
				r.Put("/settings", a.Admin.UpdateSettings)
				r.Get("/email-logs", a.Admin.EmailLogs)
			})
		})

		r.Route("/books", func(r chi.Router) {
			r.Get("/", a.Books.List)
			r.Get("/featured", a.Books.Highlight(store.HighlightFeatured))
			r.Get("/bestsellers", a.Books.Highlight(store.HighlightBestsellers))
			r.Get("/new-releases", a.Books.Highlight(store.HighlightNewReleases))
			r.Get("/on-sale", a.Books.Highlight(store.HighlightOnSale))
			r.Get("/slug/{slug}", a.Books.BySlug)
			r.Get("/{id}", a.Books.Get)
			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Post("/", a.Books.Create)
				r.Put("/{id}", a.Books.Update)
				r.Delete("/{id}", a.Books.Delete)
				r.Get("/admin/stats", a.Books.Stats)
				r.Get("/lookup/{isbn}", a.Books.Lookup)
			})
			r.Group(func(r chi.Router) {
				r.Use(user, staff)
				r.Post("/admin", a.Books.Create)
				r.Put("/admin/{id}", a.Books.Update)
			})
		})

		r.Route("/upload", func(r chi.Router) {
			r.Get("/files", a.Upload.List)
			r.Get("/files/{filename}", a.Upload.Info)
			r.Group(func(r chi.Router) {
				r.Use(user)
				r.Post("/single", a.Upload.Single)
				r.Post("/multiple", a.Upload.Multiple)
				r.Post("/users/avatar", a.Upload.Avatar)
				r.Delete("/files/{filename}", a.Upload.Delete)
			})
			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Post("/book-images", a.Upload.BookImages)
				r.Post("/image", a.Upload.Single)
				r.Post("/cleanup", a.Upload.Cleanup)
			})
			r.Group(func(r chi.Router) {
				r.Use(user, staff)
				r.Post("/admin/single", a.Upload.Single)
				r.Post("/admin/multiple", a.Upload.Multiple)
			})
		})

		r.Route("/cart", func(r chi.Router) {
			r.Use(user)
			r.Get("/", a.Cart.Get)
			r.Post("/add", a.Cart.Add)
			r.Put("/update/{bookId}", a.Cart.Update)
			r.Delete("/remove/{bookId}", a.Cart.Remove)
			r.Delete("/clear", a.Cart.Clear)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(user)
				r.Post("/", a.Orders.Create)
				r.Get("/my-orders", a.Orders.Mine)
				r.Get("/{id}", a.Orders.Get)
				r.Put("/{id}/cancel", a.Orders.Cancel)
			})
			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Get("/admin/all", a.Orders.All)
				r.Get("/admin/stats", a.Orders.Stats)
				r.Put("/{id}/status", a.Orders.UpdateStatus)
			})
		})
	})
	return r
}

// noListing hides directory indexes of the upload tree.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			respond.RouteNotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
