package bloomsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNonJSONResponse marks an upstream reply whose body is not JSON, which in
// practice is an HTML error page produced while the upstream sheds load.
// Callers surface it with a wait-before-resuming message instead of retrying.
var ErrNonJSONResponse = errors.New("bloom returned a non-JSON response")

type bloomClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func newBloomClient() (*bloomClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("BLOOM_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.bloom.dev/2024-01/graphql"
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("BLOOM_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	apiKey := strings.TrimSpace(os.Getenv("BLOOM_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("bloom api key is empty")
	}
	rateLimitPerMin := int64(30)
	if v := strings.TrimSpace(os.Getenv("BLOOM_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &bloomClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *bloomClient) query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	<-c.limiter

	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var parsed graphQLResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 120 {
			snippet = snippet[:120]
		}
		return nil, fmt.Errorf("%w (status %d): %q", ErrNonJSONResponse, resp.StatusCode, snippet)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bloom api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("bloom query error: %s", strings.Join(msgs, "; "))
	}
	return parsed.Data, nil
}

const appointmentsQuery = `
query Appointments($locationId: ID!, $first: Int!, $after: String) {
  appointments(locationId: $locationId, first: $first, after: $after) {
    edges {
      node {
        id
        state
        startAt
        endAt
        cancelledAt
        client { id firstName lastName email mobilePhone }
        appointmentServices {
          id
          name
          category { name }
          staff { id name }
          price
          duration
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

// Appointments fetches one page of appointments for a location, most recent
// first, resuming from the given cursor.
func (c *bloomClient) Appointments(ctx context.Context, locationId string, first int, after *string) (appointmentsPage, error) {
	variables := map[string]any{
		"locationId": locationId,
		"first":      first,
	}
	if after != nil && *after != "" {
		variables["after"] = *after
	}
	data, err := c.query(ctx, appointmentsQuery, variables)
	if err != nil {
		return appointmentsPage{}, err
	}
	var wrapper struct {
		Appointments appointmentsPage `json:"appointments"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return appointmentsPage{}, err
	}
	return wrapper.Appointments, nil
}

const membershipsQuery = `
query Memberships($first: Int!, $after: String) {
  memberships(first: $first, after: $after) {
    edges {
      node {
        id
        name
        status
        interval
        unitPrice
        termNumber
        clientId
        locationId
        vouchers { id quantity }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

func (c *bloomClient) Memberships(ctx context.Context, first int, after *string) (membershipsPage, error) {
	variables := map[string]any{"first": first}
	if after != nil && *after != "" {
		variables["after"] = *after
	}
	data, err := c.query(ctx, membershipsQuery, variables)
	if err != nil {
		return membershipsPage{}, err
	}
	var wrapper struct {
		Memberships membershipsPage `json:"memberships"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return membershipsPage{}, err
	}
	return wrapper.Memberships, nil
}

// ClientCredits looks up account credit balances for a batch of external
// client ids with one aliased query. Missing ids are simply absent from the
// result map.
func (c *bloomClient) ClientCredits(ctx context.Context, externalIds []string) (map[string]decimal.Decimal, error) {
	if len(externalIds) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	var sb strings.Builder
	sb.WriteString("query ClientCredits {\n")
	for i, id := range externalIds {
		fmt.Fprintf(&sb, "  c%d: client(id: %q) { id accountCredit }\n", i, id)
	}
	sb.WriteString("}")

	data, err := c.query(ctx, sb.String(), nil)
	if err != nil {
		return nil, err
	}

	var aliased map[string]*struct {
		ID            string      `json:"id"`
		AccountCredit json.Number `json:"accountCredit"`
	}
	if err := json.Unmarshal(data, &aliased); err != nil {
		return nil, err
	}

	credits := make(map[string]decimal.Decimal, len(aliased))
	for _, node := range aliased {
		if node == nil || node.ID == "" {
			continue
		}
		credits[node.ID] = decimalFromNumber(node.AccountCredit)
	}
	return credits, nil
}

const businessQuery = `query Business { business { id name } }`

// TestConnection is a read-only upstream health query.
func (c *bloomClient) TestConnection(ctx context.Context) (string, error) {
	data, err := c.query(ctx, businessQuery, nil)
	if err != nil {
		return "", err
	}
	var wrapper struct {
		Business struct {
			Name string `json:"name"`
		} `json:"business"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return "", err
	}
	return wrapper.Business.Name, nil
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}
