package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "ensenbot/pkg/logx"
)

func statusHandler(t *testing.T, wantToken, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("acl:consumerKey"); got != wantToken {
			t.Errorf("consumerKey = %q, want %q", got, wantToken)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestFetchAllConcatenates(t *testing.T) {
	srv1 := httptest.NewServer(statusHandler(t, "tok1", `[
		{"odpt:railway":"odpt.Railway:JR-East.Yamanote","odpt:trainInformationText":{"ja":"遅延しています"}}
	]`))
	defer srv1.Close()
	srv2 := httptest.NewServer(statusHandler(t, "tok2", `[
		{"odpt:railway":"odpt.Railway:TokyoMetro.Tozai","odpt:trainInformationText":"平常運転"},
		{"odpt:railway":"","odpt:trainInformationText":"dropped"}
	]`))
	defer srv2.Close()

	c := NewClient([]Endpoint{
		{Name: "jreast", URL: srv1.URL, Token: "tok1"},
		{Name: "metro", URL: srv2.URL, Token: "tok2"},
	}, time.Second, logx.Nop())

	recs, err := c.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %v, want 2", recs)
	}
	if recs[0].RouteID != "odpt.Railway:JR-East.Yamanote" || recs[0].Text != "遅延しています" {
		t.Fatalf("recs[0] = %+v", recs[0])
	}
	if recs[1].RouteID != "odpt.Railway:TokyoMetro.Tozai" || recs[1].Text != "平常運転" {
		t.Fatalf("recs[1] = %+v", recs[1])
	}
}

func TestFetchAllFailsWhenAnyEndpointFails(t *testing.T) {
	good := httptest.NewServer(statusHandler(t, "tok", `[]`))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer bad.Close()

	c := NewClient([]Endpoint{
		{Name: "good", URL: good.URL, Token: "tok"},
		{Name: "bad", URL: bad.URL, Token: "tok"},
	}, time.Second, logx.Nop())

	if _, err := c.FetchAll(context.Background()); err == nil {
		t.Fatal("expected error when one endpoint returns 5xx")
	}
}

func TestFetchAllRespectsContext(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer slow.Close()

	c := NewClient([]Endpoint{{Name: "slow", URL: slow.URL, Token: "tok"}}, time.Minute, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.FetchAll(ctx); err == nil {
		t.Fatal("expected error when context deadline passes")
	}
}

func TestLocalizedTextFallsBackToEnglish(t *testing.T) {
	srv := httptest.NewServer(statusHandler(t, "tok", `[
		{"odpt:railway":"feed.X","odpt:trainInformationText":{"en":"Service suspended"}}
	]`))
	defer srv.Close()

	c := NewClient([]Endpoint{{URL: srv.URL, Token: "tok"}}, time.Second, logx.Nop())
	recs, err := c.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(recs) != 1 || recs[0].Text != "Service suspended" {
		t.Fatalf("records = %+v", recs)
	}
}
