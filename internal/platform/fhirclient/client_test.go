package fhirclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrsync/internal/domain/connection"
	"github.com/ehr/ehrsync/internal/platform/engine"
)

func testConn(baseURL string) *connection.Connection {
	return &connection.Connection{
		Name:    "test",
		Vendor:  "epic",
		BaseURL: baseURL,
		Active:  true,
	}
}

func TestFetchResources_SinglePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Patient" {
			t.Errorf("path = %q, want /Patient", r.URL.Path)
		}
		if got := r.Header.Get("Accept"); got != "application/fhir+json" {
			t.Errorf("Accept = %q", got)
		}
		fmt.Fprint(w, `{
			"resourceType": "Bundle",
			"entry": [
				{"resource": {"resourceType": "Patient", "id": "pat-1"}},
				{"resource": {"resourceType": "Patient", "id": "pat-2"}}
			]
		}`)
	}))
	defer srv.Close()

	c := New(zerolog.Nop())
	payloads, err := c.FetchResources(context.Background(), testConn(srv.URL), "Patient", engine.FetchFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(payloads) != 2 {
		t.Fatalf("got %d payloads, want 2", len(payloads))
	}
	if payloads[0].FHIRID() != "pat-1" || payloads[1].FHIRID() != "pat-2" {
		t.Errorf("ids = %q, %q", payloads[0].FHIRID(), payloads[1].FHIRID())
	}
}

func TestFetchResources_FollowsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{
				"resourceType": "Bundle",
				"entry": [{"resource": {"resourceType": "Patient", "id": "pat-2"}}]
			}`)
			return
		}
		fmt.Fprintf(w, `{
			"resourceType": "Bundle",
			"entry": [{"resource": {"resourceType": "Patient", "id": "pat-1"}}],
			"link": [{"relation": "next", "url": %q}]
		}`, srv.URL+"/Patient?page=2")
	}))
	defer srv.Close()

	c := New(zerolog.Nop())
	payloads, err := c.FetchResources(context.Background(), testConn(srv.URL), "Patient", engine.FetchFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(payloads) != 2 {
		t.Fatalf("got %d payloads across pages, want 2", len(payloads))
	}
}

func TestFetchResources_QueryParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("_id"); got != "a,b" {
			t.Errorf("_id = %q, want a,b", got)
		}
		if got := q["_lastUpdated"]; len(got) != 2 || got[0] != "ge2024-01-01" || got[1] != "le2024-06-30" {
			t.Errorf("_lastUpdated = %v", got)
		}
		if got := q.Get("patient"); got != "p1" {
			t.Errorf("patient = %q, want p1", got)
		}
		fmt.Fprint(w, `{"resourceType": "Bundle"}`)
	}))
	defer srv.Close()

	c := New(zerolog.Nop())
	_, err := c.FetchResources(context.Background(), testConn(srv.URL), "Observation", engine.FetchFilters{
		DateFrom:    "2024-01-01",
		DateTo:      "2024-06-30",
		PatientIDs:  []string{"p1"},
		ResourceIDs: []string{"a", "b"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFetchResources_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"unauthorized is permanent", http.StatusUnauthorized, true},
		{"not found is permanent", http.StatusNotFound, true},
		{"server error is transient", http.StatusBadGateway, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := New(zerolog.Nop())
			_, err := c.FetchResources(context.Background(), testConn(srv.URL), "Patient", engine.FetchFilters{})
			if err == nil {
				t.Fatal("expected an error")
			}
			if engine.IsPermanent(err) != tc.permanent {
				t.Errorf("IsPermanent = %v, want %v (err: %v)", engine.IsPermanent(err), tc.permanent, err)
			}
		})
	}
}

func TestFetchResources_NonBundleResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"resourceType": "OperationOutcome"}`)
	}))
	defer srv.Close()

	c := New(zerolog.Nop())
	_, err := c.FetchResources(context.Background(), testConn(srv.URL), "Patient", engine.FetchFilters{})
	if err == nil {
		t.Fatal("expected an error for a non-bundle response")
	}
}
