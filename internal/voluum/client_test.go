package voluum

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, srv *httptest.Server, opts Options) *Client {
	t.Helper()
	opts.BaseURL = srv.URL
	return NewClient(opts, zerolog.Nop())
}

func TestAuthenticateWithoutCredentials(t *testing.T) {
	c := NewClient(Options{}, zerolog.Nop())
	_, err := c.Authenticate(context.Background())
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("want ErrNoCredentials, got %v", err)
	}
}

func TestAuthenticatePrefersAccessKeys(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/session" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode auth payload: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	}))
	defer srv.Close()

	c := testClient(t, srv, Options{
		Email:           "a@b.c",
		Password:        "pw",
		AccessKeyID:     "key-id",
		AccessKeySecret: "key-secret",
	})
	token, err := c.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if token != "tok-1" {
		t.Fatalf("token: want tok-1, got %q", token)
	}
	if got["accessKeyId"] != "key-id" || got["accessKeySecret"] != "key-secret" {
		t.Fatalf("expected access key payload, got %v", got)
	}
	if _, ok := got["email"]; ok {
		t.Fatal("email must not be sent when access keys are configured")
	}
}

func TestAuthenticateSurfacesAPIErrorDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"description": "bad credentials"})
	}))
	defer srv.Close()

	c := testClient(t, srv, Options{Email: "a@b.c", Password: "pw"})
	_, err := c.Authenticate(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad credentials") {
		t.Fatalf("expected description in error, got %v", err)
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status code in error, got %v", err)
	}
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": ""})
	}))
	defer srv.Close()

	c := testClient(t, srv, Options{Email: "a@b.c", Password: "pw"})
	if _, err := c.Authenticate(context.Background()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestFetchReportPaginates(t *testing.T) {
	truncated := true
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/report" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("cwauth-token") != "tok-1" {
			t.Fatalf("missing auth token header")
		}
		q := r.URL.Query()
		if q.Get("tz") != "UTC" || q.Get("groupBy") != "offer" {
			t.Fatalf("unexpected query %v", q)
		}
		offsets = append(offsets, q.Get("offset"))

		page := []Row{{"offerId": "a"}, {"offerId": "b"}}
		trunc := truncated
		if q.Get("offset") != "0" {
			trunc = false
		}
		json.NewEncoder(w).Encode(map[string]any{"rows": page, "truncated": trunc})
	}))
	defer srv.Close()

	c := testClient(t, srv, Options{Email: "a@b.c", Password: "pw", PageLimit: 2})
	rows, err := c.FetchReport(context.Background(), "tok-1", GroupByOffer)
	if err != nil {
		t.Fatalf("fetch report: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows: want 4, got %d", len(rows))
	}
	if len(offsets) != 2 || offsets[0] != "0" || offsets[1] != "2" {
		t.Fatalf("unexpected pagination offsets %v", offsets)
	}
}

func TestFetchReportStopsOnShortPage(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"rows": []Row{{"offerId": "a"}}})
	}))
	defer srv.Close()

	c := testClient(t, srv, Options{Email: "a@b.c", Password: "pw", PageLimit: 10})
	rows, err := c.FetchReport(context.Background(), "tok-1", GroupByOffer)
	if err != nil {
		t.Fatalf("fetch report: %v", err)
	}
	if len(rows) != 1 || calls != 1 {
		t.Fatalf("want single page with one row, got %d rows over %d calls", len(rows), calls)
	}
}

func TestFetchReportWindowSnapsToWholeHours(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		for _, key := range []string{"from", "to"} {
			v := q.Get(key)
			if !strings.HasSuffix(v, ":00:00.000Z") {
				t.Fatalf("%s not snapped to hour: %q", key, v)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"rows": []Row{}})
	}))
	defer srv.Close()

	c := testClient(t, srv, Options{Email: "a@b.c", Password: "pw"})
	if _, err := c.FetchReport(context.Background(), "tok-1", GroupByCampaign); err != nil {
		t.Fatalf("fetch report: %v", err)
	}
}

func TestFetchReportRangeSendsRequestedWindow(t *testing.T) {
	var gotFrom, gotTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotFrom = q.Get("from")
		gotTo = q.Get("to")
		json.NewEncoder(w).Encode(map[string]any{"rows": []Row{{"offerId": "a"}}})
	}))
	defer srv.Close()

	c := testClient(t, srv, Options{Email: "a@b.c", Password: "pw"})
	from := time.Date(2026, 8, 27, 6, 30, 0, 0, time.UTC)
	to := time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)
	rows, err := c.FetchReportRange(context.Background(), "tok-1", GroupByOffer, from, to)
	if err != nil {
		t.Fatalf("fetch report range: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows: want 1, got %d", len(rows))
	}
	if gotFrom != "2026-08-27T06:00:00.000Z" {
		t.Fatalf("from not truncated to the hour: %q", gotFrom)
	}
	if gotTo != "2026-08-27T09:00:00.000Z" {
		t.Fatalf("unexpected to: %q", gotTo)
	}
}

func TestFetchReportRangeRejectsEmptyWindow(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://unused.invalid"}, zerolog.Nop())
	at := time.Date(2026, 8, 27, 6, 0, 0, 0, time.UTC)
	if _, err := c.FetchReportRange(context.Background(), "tok-1", GroupByOffer, at, at); err == nil {
		t.Fatal("expected error for an empty window")
	}
}

func TestFetchReportSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("session expired"))
	}))
	defer srv.Close()

	c := testClient(t, srv, Options{Email: "a@b.c", Password: "pw"})
	_, err := c.FetchReport(context.Background(), "stale", GroupByOffer)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 report error, got %v", err)
	}
}
