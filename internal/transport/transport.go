// Package transport composes http.RoundTripper decorators used by the upstream
// client and the development proxy.
package transport

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type backendContextKey struct{}

// Middleware decorates a RoundTripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements http.RoundTripper.
func (f RoundTripperFunc) RoundTrip(request *http.Request) (*http.Response, error) {
	return f(request)
}

// Chain wraps base with middlewares; the first middleware is the outermost.
func Chain(base http.RoundTripper, middlewares ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := base
	for index := len(middlewares) - 1; index >= 0; index-- {
		if middlewares[index] != nil {
			wrapped = middlewares[index](wrapped)
		}
	}
	return wrapped
}

// WithBackend tags ctx with the upstream backend name a request is destined for.
func WithBackend(ctx context.Context, backend string) context.Context {
	return context.WithValue(ctx, backendContextKey{}, backend)
}

// BackendFrom returns the backend name stored by WithBackend, or "unknown".
func BackendFrom(ctx context.Context) string {
	if backend, ok := ctx.Value(backendContextKey{}).(string); ok && backend != "" {
		return backend
	}
	return "unknown"
}

// Exchange summarises one completed round trip.
type Exchange struct {
	Backend       string
	Method        string
	URL           string
	Status        int
	Duration      time.Duration
	RequestBytes  int64
	ResponseBytes int64
	Err           error
}

// Observer receives a summary of every round trip.
type Observer interface {
	ObserveExchange(exchange Exchange)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Exchange)

// ObserveExchange implements Observer.
func (f ObserverFunc) ObserveExchange(exchange Exchange) {
	f(exchange)
}

// WithObserver reports every round trip to observer.
func WithObserver(observer Observer, clock func() time.Time) Middleware {
	if clock == nil {
		clock = time.Now
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(request *http.Request) (*http.Response, error) {
			started := clock()
			response, err := next.RoundTrip(request)
			exchange := Exchange{
				Backend:      BackendFrom(request.Context()),
				Method:       request.Method,
				URL:          request.URL.String(),
				Duration:     clock().Sub(started),
				RequestBytes: max(request.ContentLength, 0),
				Err:          err,
			}
			if response != nil {
				exchange.Status = response.StatusCode
				exchange.ResponseBytes = max(response.ContentLength, 0)
			}
			observer.ObserveExchange(exchange)
			return response, err
		})
	}
}

// WithLogging logs every round trip at debug level and transport failures at warn.
func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return WithObserver(ObserverFunc(func(exchange Exchange) {
		fields := []zap.Field{
			zap.String("backend", exchange.Backend),
			zap.String("method", exchange.Method),
			zap.String("url", exchange.URL),
			zap.Int("status", exchange.Status),
			zap.Duration("duration", exchange.Duration),
		}
		if exchange.Err != nil {
			logger.Warn("upstream request failed", append(fields, zap.Error(exchange.Err))...)
			return
		}
		logger.Debug("upstream request", fields...)
	}), nil)
}
