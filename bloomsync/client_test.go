package bloomsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func testBloomClient(t *testing.T, handler http.HandlerFunc) *bloomClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("BLOOM_API_BASE_URL", srv.URL)
	t.Setenv("BLOOM_API_KEY", "test-key")
	t.Setenv("BLOOM_API_KEY_HEADER", "")
	t.Setenv("BLOOM_RATE_LIMIT_PER_MIN", "60000")

	c, err := newBloomClient()
	if err != nil {
		t.Fatalf("newBloomClient: %v", err)
	}
	return c
}

func TestQueryDetectsNonJSONResponse(t *testing.T) {
	c := testBloomClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("<html><body>Service Unavailable</body></html>"))
	})

	_, err := c.TestConnection(context.Background())
	if err == nil {
		t.Fatalf("expected error for HTML body")
	}
	if !errors.Is(err, ErrNonJSONResponse) {
		t.Fatalf("expected ErrNonJSONResponse, got: %v", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status code in error, got: %v", err)
	}
}

func TestQuerySurfacesGraphQLErrors(t *testing.T) {
	c := testBloomClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"message":"Throttled"},{"message":"Try later"}]}`))
	})

	_, err := c.TestConnection(context.Background())
	if err == nil {
		t.Fatalf("expected error for graphql errors array")
	}
	if errors.Is(err, ErrNonJSONResponse) {
		t.Fatalf("structured errors must not map to ErrNonJSONResponse: %v", err)
	}
	if !strings.Contains(err.Error(), "Throttled") || !strings.Contains(err.Error(), "Try later") {
		t.Fatalf("expected joined messages, got: %v", err)
	}
}

func TestQuerySendsApiKeyHeader(t *testing.T) {
	var gotHeader string
	c := testBloomClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"business":{"id":"biz-1","name":"Radiance Aesthetics"}}}`))
	})

	name, err := c.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if name != "Radiance Aesthetics" {
		t.Fatalf("business name = %q", name)
	}
	if gotHeader != "test-key" {
		t.Fatalf("X-API-Key header = %q", gotHeader)
	}
}

func TestAppointmentsPassesCursorVariables(t *testing.T) {
	var gotVars map[string]any
	c := testBloomClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables map[string]any `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotVars = req.Variables
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"appointments":{
			"edges":[{"node":{"id":"apt-1","state":"COMPLETED","startAt":"2026-05-01T15:00:00Z","endAt":"2026-05-01T16:00:00Z",
				"client":{"id":"cl-1","firstName":"Ava","lastName":"Hart"},
				"appointmentServices":[{"id":"svc-1","name":"Lip Filler","category":{"name":"Tox + Fillers"},"staff":{"id":"stf-1","name":"Jess"},"price":650,"duration":45}]}}],
			"pageInfo":{"hasNextPage":true,"endCursor":"cur-1"}}}}`))
	})

	page, err := c.Appointments(context.Background(), "loc-carmel", 50, nil)
	if err != nil {
		t.Fatalf("Appointments(first page): %v", err)
	}
	if _, ok := gotVars["after"]; ok {
		t.Fatalf("first page must not send an after cursor, vars: %v", gotVars)
	}
	if len(page.Edges) != 1 || page.Edges[0].Node.ID != "apt-1" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if !page.PageInfo.HasNextPage || page.PageInfo.EndCursor != "cur-1" {
		t.Fatalf("unexpected pageInfo: %+v", page.PageInfo)
	}
	if got := page.Edges[0].Node.Services[0].Provider.ID; got != "stf-1" {
		t.Fatalf("staff id = %q", got)
	}

	cursor := page.PageInfo.EndCursor
	if _, err := c.Appointments(context.Background(), "loc-carmel", 50, &cursor); err != nil {
		t.Fatalf("Appointments(second page): %v", err)
	}
	if gotVars["after"] != "cur-1" {
		t.Fatalf("after = %v, want cur-1", gotVars["after"])
	}
	if gotVars["locationId"] != "loc-carmel" {
		t.Fatalf("locationId = %v", gotVars["locationId"])
	}
}

func TestClientCreditsAliasedBatch(t *testing.T) {
	c := testBloomClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Missing client resolves to a null alias.
		_, _ = w.Write([]byte(`{"data":{"c0":{"id":"cl-1","accountCredit":125.5},"c1":null}}`))
	})

	credits, err := c.ClientCredits(context.Background(), []string{"cl-1", "cl-gone"})
	if err != nil {
		t.Fatalf("ClientCredits: %v", err)
	}
	if len(credits) != 1 {
		t.Fatalf("credits = %v, want one entry", credits)
	}
	if got, ok := credits["cl-1"]; !ok || !got.Equal(decimal.RequireFromString("125.5")) {
		t.Fatalf("credits[cl-1] = %v, %v", got, ok)
	}
}

func TestClientCreditsEmptyBatch(t *testing.T) {
	c := testBloomClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	})

	credits, err := c.ClientCredits(context.Background(), nil)
	if err != nil {
		t.Fatalf("ClientCredits(nil): %v", err)
	}
	if len(credits) != 0 {
		t.Fatalf("credits = %v, want empty", credits)
	}
}
