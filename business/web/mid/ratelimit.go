package mid

import (
	"context"
	"errors"
	"net/http"

	"github.com/btn-network/blockchain/business/web/errs"
	"github.com/btn-network/blockchain/foundation/web"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request exceeds the configured rate.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit rejects requests once the limiter runs out of tokens. The
// limiter is shared by every route the middleware wraps.
func RateLimit(limiter *rate.Limiter) web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if !limiter.Allow() {
				return errs.NewTrusted(ErrRateLimited, http.StatusTooManyRequests)
			}

			// Call the next handler.
			return handler(ctx, w, r)
		}

		return h
	}

	return m
}
