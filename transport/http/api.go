// Package httptransport exposes the credit lot engine over a chi REST API and
// mounts the payment collector webhook.
//
// Callers are identified by the X-Actor-Id and X-Actor-Role headers, which an
// upstream gateway is expected to set after authentication.
package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocmd "github.com/goliatone/go-command"
	creditlots "github.com/goliatone/go-creditlots"
	"github.com/goliatone/go-creditlots/core"
	"github.com/goliatone/go-creditlots/webhooks"
	glog "github.com/goliatone/go-logger/glog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorRole = "X-Actor-Role"

	defaultMaxBodyBytes int64 = 1 << 20
)

type Option func(*API)

func WithPaymentWebhook(processor *webhooks.PaymentProcessor) Option {
	return func(a *API) { a.webhook = processor }
}

func WithLogger(logger core.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithMaxBodyBytes(limit int64) Option {
	return func(a *API) {
		if limit > 0 {
			a.maxBodyBytes = limit
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(a *API) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

type API struct {
	commands     creditlots.Commands
	queries      creditlots.Queries
	webhook      *webhooks.PaymentProcessor
	logger       core.Logger
	tracer       trace.Tracer
	maxBodyBytes int64
}

func NewAPI(facade *creditlots.Facade, opts ...Option) (*API, error) {
	if facade == nil {
		return nil, fmt.Errorf("httptransport: facade is required")
	}
	api := &API{
		commands:     facade.Commands(),
		queries:      facade.Queries(),
		logger:       glog.Nop(),
		tracer:       otel.Tracer("creditlots-http"),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(api)
		}
	}
	return api, nil
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/lots", func(r chi.Router) {
		r.Post("/", a.createLot)
		r.Get("/", a.listLots)
		r.Route("/{lotID}", func(r chi.Router) {
			r.Get("/", a.getLot)
			r.Get("/capacity", a.capacitySummary)
			r.Post("/publish", a.publishLot)
			r.Post("/pause", a.pauseLot)
			r.Post("/close", a.closeLot)
			r.Put("/price", a.updateLotPrice)
		})
	})

	r.Route("/holds", func(r chi.Router) {
		r.Post("/", a.createHold)
		r.Get("/", a.listHolds)
		r.Route("/{holdID}", func(r chi.Router) {
			r.Get("/", a.getHold)
			r.Delete("/", a.cancelHold)
			r.Post("/convert", a.convertHold)
		})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", a.checkout)
		r.Get("/", a.listOrders)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", a.getOrder)
			r.Post("/payment-initiated", a.recordPaymentInitiated)
			r.Post("/broker-status", a.setBrokerStatus)
			r.Post("/settle", a.settle)
			r.Post("/cancel", a.cancelOrder)
		})
	})

	r.Post("/admin/sweep", a.sweep)
	if a.webhook != nil {
		r.Post("/webhooks/payments", a.paymentWebhook)
	}
	return r
}

// execute validates msg, runs cmd and returns the value it stored.
func execute[T any, R any](ctx context.Context, cmd gocmd.Commander[T], msg T) (R, error) {
	var zero R
	if err := validate(msg); err != nil {
		return zero, err
	}
	collector := gocmd.NewResult[R]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	value, _ := collector.Load()
	return value, nil
}

func query[T any, R any](ctx context.Context, qry gocmd.Querier[T, R], msg T) (R, error) {
	if err := validate(msg); err != nil {
		var zero R
		return zero, err
	}
	return qry.Query(ctx, msg)
}

func validate(msg any) error {
	if v, ok := msg.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}

func (a *API) start(r *http.Request, operation string) (context.Context, trace.Span) {
	return a.tracer.Start(r.Context(), "creditlots.http."+operation)
}

// finish writes either the error envelope or value with status.
func (a *API) finish(w http.ResponseWriter, span trace.Span, status int, value any, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		code := writeError(w, err)
		if code >= http.StatusInternalServerError {
			a.logger.Error("http request failed", "error", err, "status", code)
		}
		return
	}
	writeJSON(w, status, value)
}

func actorFrom(r *http.Request) (core.Actor, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderActorID))
	if id == "" {
		return core.Actor{}, requestError("actor", HeaderActorID+" header is required")
	}
	role := core.ActorRole(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
	switch role {
	case core.ActorRoleBuyer, core.ActorRoleBroker, core.ActorRoleAdmin:
		return core.Actor{ID: id, Role: role}, nil
	default:
		return core.Actor{}, requestError("actor", HeaderActorRole+" must be buyer, broker or admin")
	}
}
