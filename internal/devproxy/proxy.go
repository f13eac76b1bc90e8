// Package devproxy forwards /api calls to the two admin backends during development and keeps a log of the traffic.
package devproxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/config"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/transport"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/upstream"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	chatPathPrefix = "/api/v1/"
	errorCodeProxy = "proxy_error"
)

// Config describes the proxy dependencies. Observers receive every proxied exchange.
type Config struct {
	Backends  config.BackendsConfig
	Log       *TrafficLog
	Observers []transport.Observer
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Proxy routes /api/v1/ to the chat backend and every other /api path to myusta.
type Proxy struct {
	targets map[string]*url.URL
	log     *TrafficLog
	logger  *zap.Logger
	reverse *httputil.ReverseProxy
}

// New builds the reverse proxy.
func New(cfg Config) (*Proxy, error) {
	if cfg.Log == nil {
		return nil, errors.New("devproxy: traffic log is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	targets := map[string]*url.URL{}
	for name, raw := range map[string]string{
		upstream.BackendMyusta: cfg.Backends.MyustaBaseURL,
		upstream.BackendChat:   cfg.Backends.ChatBaseURL,
	} {
		target, err := url.Parse(raw)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("devproxy: invalid %s backend url %q", name, raw)
		}
		targets[name] = target
	}

	middlewares := []transport.Middleware{transport.WithObserver(cfg.Log, nil)}
	for _, observer := range cfg.Observers {
		if observer != nil {
			middlewares = append(middlewares, transport.WithObserver(observer, nil))
		}
	}
	middlewares = append(middlewares, transport.WithLogging(logger))

	p := &Proxy{targets: targets, log: cfg.Log, logger: logger}
	p.reverse = &httputil.ReverseProxy{
		Director:     p.direct,
		Transport:    transport.Chain(cfg.Transport, middlewares...),
		ErrorHandler: p.fail,
	}
	return p, nil
}

// BackendFor names the backend a request path is forwarded to.
func BackendFor(path string) string {
	if strings.HasPrefix(path, chatPathPrefix) {
		return upstream.BackendChat
	}
	return upstream.BackendMyusta
}

// Targets returns the backend base URLs keyed by backend name.
func (p *Proxy) Targets() map[string]string {
	targets := make(map[string]string, len(p.targets))
	for name, target := range p.targets {
		targets[name] = target.String()
	}
	return targets
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	backend := BackendFor(r.URL.Path)
	p.logger.Debug("proxying request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("backend", backend),
	)
	p.reverse.ServeHTTP(w, r.WithContext(transport.WithBackend(r.Context(), backend)))
}

func (p *Proxy) direct(request *http.Request) {
	target := p.targets[transport.BackendFrom(request.Context())]
	if target == nil {
		target = p.targets[upstream.BackendMyusta]
	}
	request.URL.Scheme = target.Scheme
	request.URL.Host = target.Host
	if basePath := strings.TrimRight(target.Path, "/"); basePath != "" {
		request.URL.Path = basePath + request.URL.Path
		request.URL.RawPath = ""
	}
	request.Host = target.Host
}

func (p *Proxy) fail(w http.ResponseWriter, r *http.Request, err error) {
	backend := transport.BackendFrom(r.Context())
	p.logger.Error("proxy request failed",
		zap.String("backend", backend),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_ = json.NewEncoder(w).Encode(gin.H{"error": errorCodeProxy, "message": err.Error(), "backend": backend})
}
