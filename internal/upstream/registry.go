package upstream

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/config"
	"go.uber.org/zap"
)

// Registry resolves backend names to clients. The primary backend hosts the auth endpoints.
type Registry struct {
	clients map[string]*Client
	primary string
}

// NewRegistry builds one client per configured backend sharing roundTripper.
func NewRegistry(backends config.BackendsConfig, roundTripper http.RoundTripper, logger *zap.Logger) (*Registry, error) {
	registry := &Registry{clients: map[string]*Client{}, primary: BackendMyusta}
	for name, baseURL := range map[string]string{
		BackendMyusta: backends.MyustaBaseURL,
		BackendChat:   backends.ChatBaseURL,
	} {
		client, err := NewClient(ClientConfig{
			Backend:   name,
			BaseURL:   baseURL,
			Timeout:   backends.Timeout,
			Transport: roundTripper,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("configure %s backend: %w", name, err)
		}
		registry.clients[name] = client
	}
	return registry, nil
}

// NewRegistryFromClients wires prebuilt clients; primary must be among them.
func NewRegistryFromClients(primary string, clients ...*Client) (*Registry, error) {
	registry := &Registry{clients: map[string]*Client{}, primary: primary}
	for _, client := range clients {
		if client != nil {
			registry.clients[client.Backend()] = client
		}
	}
	if _, ok := registry.clients[primary]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, primary)
	}
	return registry, nil
}

// Client returns the client of backend.
func (r *Registry) Client(backend string) (*Client, error) {
	client, ok := r.clients[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
	return client, nil
}

// Primary returns the client hosting the auth endpoints.
func (r *Registry) Primary() *Client {
	return r.clients[r.primary]
}

// Names lists the registered backends in a stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
