package mid

import (
	"context"
	"net/http"

	"github.com/btn-network/blockchain/business/web/errs"
	"github.com/btn-network/blockchain/foundation/metrics"
	"github.com/btn-network/blockchain/foundation/validate"
	"github.com/btn-network/blockchain/foundation/web"
)

// Metrics records the route, status code and latency of every request.
func Metrics() web.Middleware {
	var rec metrics.HTTP

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			// Call the next handler.
			err := handler(ctx, w, r)

			v, verr := web.GetValues(ctx)
			if verr != nil {
				return err
			}

			rec.ObserveRequest(r.Method, v.Route, statusOf(v.StatusCode, err), v.Now)

			// Return the error so it can be handled further up the chain.
			return err
		}

		return h
	}

	return m
}

// statusOf returns the status the Errors middleware will respond with.
func statusOf(status int, err error) int {
	switch {
	case err == nil:
		return status
	case validate.IsFieldErrors(err):
		return http.StatusBadRequest
	case errs.IsTrusted(err):
		return errs.GetTrusted(err).Status
	default:
		return http.StatusInternalServerError
	}
}
