package records

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const sampleResponse = `{
	"animal": "cow-042",
	"records": [
		{"dim": 90, "milkKg": 40.1},
		{"dim": 15, "milkKg": 25.5},
		{"dim": 30, "milkKg": 35.1},
		{"dim": 60, "milkKg": 42.5},
		{"dim": 45, "milkKg": 40.2}
	]
}`

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/animals/cow-042/testdays") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	client := &Client{
		URL:          srv.URL + "/animals/{{.Animal}}/testdays",
		Headers:      map[string]string{"Authorization": "Bearer {{.Token}}"},
		DayPath:      "records.#.dim",
		YieldPath:    "records.#.milkKg",
		TemplateVars: map[string]string{"Token": "sekrit"},
	}

	obs, err := client.Fetch(context.Background(), "cow-042")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if len(obs) != 5 {
		t.Fatalf("got %d observations, want 5", len(obs))
	}
	for i := 1; i < len(obs); i++ {
		if obs[i].Day < obs[i-1].Day {
			t.Fatalf("observations not sorted by day: %+v", obs)
		}
	}
	if obs[0].Day != 15 || obs[0].Yield != 25.5 {
		t.Errorf("obs[0] = %+v, want day 15 yield 25.5", obs[0])
	}
}

func TestClient_Fetch_Validation(t *testing.T) {
	tests := []struct {
		name    string
		client  Client
		animal  string
		wantErr string
	}{
		{
			name:    "missing URL",
			client:  Client{DayPath: "a", YieldPath: "b"},
			animal:  "cow-042",
			wantErr: "URL is required",
		},
		{
			name:    "missing paths",
			client:  Client{URL: "http://example.invalid"},
			animal:  "cow-042",
			wantErr: "DayPath and YieldPath are required",
		},
		{
			name:    "missing animal",
			client:  Client{URL: "http://example.invalid", DayPath: "a", YieldPath: "b"},
			wantErr: "animal is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.Fetch(context.Background(), tt.animal)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Fetch() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestClient_Fetch_BadResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    "boom",
			wantErr: "http status 500",
		},
		{
			name:    "day path missing",
			status:  http.StatusOK,
			body:    `{"animal": "cow-042"}`,
			wantErr: "day path",
		},
		{
			name:    "mismatched lengths",
			status:  http.StatusOK,
			body:    `{"dims": [15, 30], "yields": [25.5]}`,
			wantErr: "day count",
		},
		{
			name:    "negative day",
			status:  http.StatusOK,
			body:    `{"dims": [-1], "yields": [25.5]}`,
			wantErr: "negative day",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := &Client{
				URL:       srv.URL,
				DayPath:   "dims",
				YieldPath: "yields",
			}
			if tt.name == "day path missing" {
				client.DayPath = "records.#.dim"
				client.YieldPath = "records.#.milkKg"
			}

			_, err := client.Fetch(context.Background(), "cow-042")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Fetch() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestClient_Fetch_PostBodyTemplate(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"dims": [15, 30, 45, 60, 90], "yields": [25.5, 35.1, 40.2, 42.5, 40.1]}`))
	}))
	defer srv.Close()

	client := &Client{
		URL:       srv.URL,
		Method:    http.MethodPost,
		Body:      `{"animal": "{{.Animal}}", "farm": "{{.Farm}}"}`,
		DayPath:   "dims",
		YieldPath: "yields",
		TemplateVars: map[string]string{
			"Farm": "meadow-7",
		},
	}

	obs, err := client.Fetch(context.Background(), "cow-042")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(obs) != 5 {
		t.Errorf("got %d observations, want 5", len(obs))
	}
	if !strings.Contains(gotBody, `"animal": "cow-042"`) || !strings.Contains(gotBody, `"farm": "meadow-7"`) {
		t.Errorf("request body = %q, template vars not rendered", gotBody)
	}
}
