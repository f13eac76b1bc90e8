package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/catalog"
	"github.com/MarcoPoloResearchLab/deskadmin/internal/upstream"
)

func TestListTablesMapsUpstreamModels(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/catalog/myusta/tables", env.token(t), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	listing := decodeResponse[catalog.Listing](t, recorder)
	if listing.Fallback || len(listing.Tables) != 1 {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	table := listing.Tables[0]
	if table.Name != "User" || table.TableName != "users" || table.PrimaryKey != "id" || table.Backend != upstream.BackendMyusta {
		t.Fatalf("unexpected table: %+v", table)
	}
	if len(table.Attributes) != 2 || table.Attributes[0].Name != "id" {
		t.Fatalf("expected primary key first, got %+v", table.Attributes)
	}

	recorder = env.request(t, http.MethodPost, "/catalog/myusta/refresh", env.token(t), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected refresh status %d", recorder.Code)
	}
}

func TestCatalogListsBackends(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/catalog", env.token(t), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	body := decodeResponse[struct {
		Backends []string `json:"backends"`
	}](t, recorder)
	if len(body.Backends) != 2 || body.Backends[0] != upstream.BackendChat || body.Backends[1] != upstream.BackendMyusta {
		t.Fatalf("unexpected backends: %v", body.Backends)
	}
}

func TestChatListingFallsBackToBuiltInTables(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/catalog/chat/tables", env.token(t), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	listing := decodeResponse[catalog.Listing](t, recorder)
	if !listing.Fallback || len(listing.Tables) != 3 {
		t.Fatalf("expected built-in chat tables, got %+v", listing)
	}
}

func TestCatalogErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	recorder := env.request(t, http.MethodGet, "/catalog/billing/tables", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown backend, got %d", recorder.Code)
	}
	if body := decodeResponse[map[string]any](t, recorder); body["error"] != "catalog.list_tables.unknown_backend" {
		t.Fatalf("unexpected error body: %v", body)
	}

	recorder = env.request(t, http.MethodGet, "/catalog/chat/tables/messages/records", token, nil)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected upstream 5xx to surface as 502, got %d", recorder.Code)
	}
	body := decodeResponse[map[string]any](t, recorder)
	if body["error"] != "chat admin unavailable" || body["errorType"] != "UNKNOWN" || body["success"] != false {
		t.Fatalf("unexpected upstream error body: %v", body)
	}
}

func TestRecordsForwardsQuery(t *testing.T) {
	env := newTestEnv(t)

	query := url.Values{}
	query.Set("page", "3")
	query.Set("size", "4")
	query.Set("search", " ada ")
	query.Set("sortBy", "email")
	query.Set("sortOrder", "desc")
	query.Set("filters", `{"role":"admin","active":true}`)
	recorder := env.request(t, http.MethodGet, "/catalog/myusta/tables/User/records?"+query.Encode(), env.token(t), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	page := decodeResponse[upstream.RecordPage](t, recorder)
	if len(page.Records) != 4 || page.Pagination.Page != 3 {
		t.Fatalf("unexpected page: %+v", page)
	}

	sent := env.upstream.lastQuery()
	if sent.Get("page") != "3" || sent.Get("size") != "4" || sent.Get("search") != "ada" || sent.Get("sortOrder") != "DESC" {
		t.Fatalf("unexpected upstream query: %v", sent)
	}
	var filters map[string]string
	if err := json.Unmarshal([]byte(sent.Get("filters")), &filters); err != nil {
		t.Fatalf("filters are not JSON: %v", err)
	}
	if filters["role"] != "admin" || filters["active"] != "true" {
		t.Fatalf("unexpected filters: %v", filters)
	}
}

func TestRecordsRejectsInvalidQuery(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	for _, rawQuery := range []string{"page=0", "size=abc", "filters=%5B1%5D"} {
		recorder := env.request(t, http.MethodGet, "/catalog/myusta/tables/User/records?"+rawQuery, token, nil)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", rawQuery, recorder.Code)
		}
	}
}

func TestSchemaAndRecordMutations(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t)

	recorder := env.request(t, http.MethodGet, "/catalog/myusta/tables/User/schema", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected schema status %d: %s", recorder.Code, recorder.Body.String())
	}
	if schema := decodeResponse[upstream.Schema](t, recorder); schema.PrimaryKey != "id" {
		t.Fatalf("unexpected schema: %+v", schema)
	}

	recorder = env.request(t, http.MethodPut, "/catalog/myusta/tables/User/records/7", token, map[string]any{"email": "new@example.com"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected update status %d: %s", recorder.Code, recorder.Body.String())
	}
	updated := decodeResponse[catalog.MutationResult](t, recorder)
	if !updated.Success || updated.Record["email"] != "new@example.com" {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	recorder = env.request(t, http.MethodPut, "/catalog/myusta/tables/User/records/7", token, map[string]any{})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty update, got %d", recorder.Code)
	}

	recorder = env.request(t, http.MethodDelete, "/catalog/myusta/tables/User/records/7", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected delete status %d", recorder.Code)
	}
	env.upstream.mu.Lock()
	deleted := append([]string(nil), env.upstream.deleted...)
	env.upstream.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "7" {
		t.Fatalf("unexpected deletions: %v", deleted)
	}
}

func TestDashboardKPIs(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/dashboard/kpis", env.token(t), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	dashboard := decodeResponse[catalog.Dashboard](t, recorder)
	if len(dashboard.Backends) != 2 {
		t.Fatalf("expected both backends, got %+v", dashboard.Backends)
	}
	for _, kpi := range dashboard.Backends {
		switch kpi.Backend {
		case upstream.BackendChat:
			if !kpi.Fallback || kpi.Tables != 3 || kpi.Records != 0 {
				t.Fatalf("unexpected chat KPIs: %+v", kpi)
			}
		case upstream.BackendMyusta:
			if kpi.Tables != 1 || kpi.Attributes != 2 || kpi.Associations != 1 || kpi.Records != testRecordTotal {
				t.Fatalf("unexpected myusta KPIs: %+v", kpi)
			}
		default:
			t.Fatalf("unexpected backend %q", kpi.Backend)
		}
	}
}

func TestExportDownloadsTablePage(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.request(t, http.MethodGet, "/export/myusta/tables/User", env.token(t), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	if disposition := recorder.Header().Get("Content-Disposition"); disposition != `attachment; filename="myusta-User-20240501-103000.json"` {
		t.Fatalf("unexpected content disposition %q", disposition)
	}
	var export struct {
		Backend string           `json:"backend"`
		Table   string           `json:"table"`
		Records []map[string]any `json:"records"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &export); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if export.Backend != "myusta" || export.Table != "User" || len(export.Records) != testRecordTotal {
		t.Fatalf("unexpected export: backend=%s table=%s records=%d", export.Backend, export.Table, len(export.Records))
	}
	if size := env.upstream.lastQuery().Get("size"); size != "500" {
		t.Fatalf("expected export to request the largest page, got %s", size)
	}
}
