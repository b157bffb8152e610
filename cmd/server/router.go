package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/alertbot/internal/alertapi"
	"github.com/linnemanlabs/alertbot/internal/authmw"
)

// webhookBodyLimit leaves room for large Alertmanager groups.
const webhookBodyLimit = 1 << 20

type routerOptions struct {
	WebhookToken   string
	RequestTimeout time.Duration
	Healthz        http.HandlerFunc
	Readyz         http.HandlerFunc
}

// newRouter builds the main listener routes. Health endpoints stay open,
// the webhook sits behind the shared token.
func newRouter(L log.Logger, handler alertapi.BatchHandler, o routerOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Compress(5, "application/json"))

	// names the span and request logger after the chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())

	// 413 above the limit
	r.Use(httpmw.MaxBody(webhookBodyLimit))

	// a slow homeserver must not pin handlers forever
	if o.RequestTimeout > 0 {
		r.Use(middleware.Timeout(o.RequestTimeout))
	}

	if o.Healthz != nil {
		r.Get("/-/healthy", o.Healthz)
	}
	if o.Readyz != nil {
		r.Get("/-/ready", o.Readyz)
	}

	api := alertapi.New(L, handler)
	r.Group(func(r chi.Router) {
		r.Use(authmw.BearerToken(o.WebhookToken))
		api.RegisterRoutes(r)
	})

	return r
}
