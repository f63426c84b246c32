package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/open-oni/oni-admin/internal/config"
	"github.com/open-oni/oni-admin/internal/feed"
	"github.com/open-oni/oni-admin/internal/guard"
	"github.com/open-oni/oni-admin/internal/jobs"
	"github.com/open-oni/oni-admin/internal/manage"
)

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHandleDescription(t *testing.T) {
	env := newTestEnv(t, &scriptedExecutor{}, nil)

	resp := env.do(t, http.MethodGet, "/", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got %q", ct)
	}
	got := decode[DescriptionResponse](t, resp)
	if got.Description != "Open ONI Admin API for automating management tasks" || got.Title != "Open ONI Admin API" {
		t.Errorf("unexpected description: %+v", got)
	}
}

func TestBasePath(t *testing.T) {
	env := newTestEnv(t, &scriptedExecutor{}, func(cfg *config.Config, _ *guard.Options) {
		cfg.BasePath = "/api/admin"
	})

	tests := []struct {
		path string
		want int
	}{
		{"/api/admin/", http.StatusOK},
		{"/api/admin/health", http.StatusOK},
		{"/api/admin", http.StatusMovedPermanently},
		{"/", http.StatusNotFound},
		{"/health", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp := env.do(t, http.MethodGet, tt.path, "")
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.want, resp.StatusCode)
		}
	}
}

func TestHandleBatch_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		execErr  error
		wantCode int
		wantInfo string
	}{
		{"load ok", "/batch/load", `{"batch_path":"` + testBatch + `"}`, nil, http.StatusOK, testBatch},
		{"purge ok", "/batch/purge", `{"batch_name":"` + testBatch + `"}`, nil, http.StatusOK, testBatch},
		{"malformed json", "/batch/load", `{"batch_path":`, nil, http.StatusBadRequest, "Invalid request body"},
		{"missing field", "/batch/purge", `{"name":"x"}`, nil, http.StatusBadRequest, "batch_name"},
		{"wrong type", "/batch/load", `{"batch_path":7}`, nil, http.StatusBadRequest, "Invalid request body"},
		{"invalid name", "/batch/purge", `{"batch_name":"batch_ABC_issue1_ver01"}`, nil, http.StatusBadRequest, "Invalid batch name"},
		{"path not found", "/batch/load", `{"batch_path":"batch_abc_missing_ver01"}`, nil, http.StatusNotFound, "not found"},
		{"already loaded", "/batch/load", `{"batch_path":"` + testBatch + `"}`, manage.ErrAlreadyLoaded, http.StatusUnprocessableEntity, "already loaded"},
		{"does not exist", "/batch/purge", `{"batch_name":"` + testBatch + `"}`, manage.ErrBatchNotFound, http.StatusNotFound, "does not exist"},
		{"other failure", "/batch/purge", `{"batch_name":"` + testBatch + `"}`, errors.New("purge_batch failed: exit status 1: solr down"), http.StatusInternalServerError, "solr down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &scriptedExecutor{fn: func(manage.Work, io.Writer) error { return tt.execErr }}
			env := newTestEnv(t, exec, nil)

			resp := env.do(t, http.MethodPost, tt.path, tt.body)
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, resp.StatusCode)
			}

			if tt.wantCode == http.StatusOK {
				got := decode[guard.Result](t, resp)
				if got.Status != "Completed" || got.Info != tt.wantInfo || !jobs.ValidID(got.JobID) {
					t.Errorf("unexpected result: %+v", got)
				}
				return
			}
			got := decode[ErrorResponse](t, resp)
			if !strings.Contains(got.Info, tt.wantInfo) {
				t.Errorf("expected info containing %q, got %q", tt.wantInfo, got.Info)
			}
		})
	}
}

func TestHandleBatch_ConflictRetryAfter(t *testing.T) {
	tests := []struct {
		path      string
		body      string
		wantRetry string
	}{
		{"/batch/load", `{"batch_path":"` + testBatch + `"}`, "120"},
		{"/batch/purge", `{"batch_name":"` + testBatch + `"}`, "30"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			release := make(chan struct{})
			exec := &scriptedExecutor{fn: func(manage.Work, io.Writer) error {
				<-release
				return nil
			}}
			env := newTestEnv(t, exec, func(_ *config.Config, o *guard.Options) {
				o.Settle = 20 * time.Millisecond
			})
			t.Cleanup(func() {
				close(release)
				env.guard.Wait()
			})

			first := decode[guard.Result](t, env.do(t, http.MethodPost, tt.path, tt.body))
			if first.Status != "In Progress" {
				t.Fatalf("expected first submission to be In Progress, got %+v", first)
			}

			resp := env.do(t, http.MethodPost, tt.path, tt.body)
			if resp.StatusCode != http.StatusConflict {
				t.Fatalf("expected 409, got %d", resp.StatusCode)
			}
			if got := resp.Header.Get("Retry-After"); got != tt.wantRetry {
				t.Errorf("expected Retry-After %s, got %q", tt.wantRetry, got)
			}
			body := decode[ErrorResponse](t, resp)
			if body.JobID != first.JobID || body.Info == "" {
				t.Errorf("unexpected conflict body: %+v", body)
			}

			report := decode[map[string]any](t, env.do(t, http.MethodGet, "/job/"+first.JobID+"/status", ""))
			if report["status"] != "In Progress" || report["page_count"] != float64(17) {
				t.Errorf("expected live page count while in progress, got %v", report)
			}
		})
	}
}

func TestHandleJobStatus(t *testing.T) {
	env := newTestEnv(t, &scriptedExecutor{}, nil)
	result := decode[guard.Result](t, env.do(t, http.MethodPost, "/batch/purge", `{"batch_name":"`+testBatch+`"}`))

	tests := []struct {
		name     string
		id       string
		wantCode int
	}{
		{"invalid id", "not-a-uuid", http.StatusBadRequest},
		{"unknown id", jobs.NewID(), http.StatusNotFound},
		{"known id", result.JobID, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/job/"+tt.id+"/status", "")
			if resp.StatusCode != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, resp.StatusCode)
			}
			body := decode[map[string]any](t, resp)
			if tt.wantCode != http.StatusOK {
				if body["info"] == "" {
					t.Errorf("expected info in error body, got %v", body)
				}
				return
			}
			if body["status"] != "Completed" || body["info"] != testBatch {
				t.Errorf("unexpected report: %v", body)
			}
			if _, ok := body["page_count"]; ok {
				t.Errorf("terminal purge must not carry page_count: %v", body)
			}
		})
	}
}

func TestHandleJobLogs(t *testing.T) {
	exec := &scriptedExecutor{fn: func(w manage.Work, out io.Writer) error {
		fmt.Fprintf(out, "purging %s\n", w.Target)
		return nil
	}}
	env := newTestEnv(t, exec, nil)
	result := decode[guard.Result](t, env.do(t, http.MethodPost, "/batch/purge", `{"batch_name":"`+testBatch+`"}`))

	resp := env.do(t, http.MethodGet, "/job/"+result.JobID+"/logs", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "purging "+testBatch+"\n" {
		t.Errorf("unexpected logs: %q", body)
	}

	if resp := env.do(t, http.MethodGet, "/job/bogus/logs", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid id, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/job/"+jobs.NewID()+"/logs", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", resp.StatusCode)
	}
}

func TestHandleJobs(t *testing.T) {
	env := newTestEnv(t, &scriptedExecutor{}, nil)
	env.do(t, http.MethodPost, "/batch/load", `{"batch_path":"`+testBatch+`"}`).Body.Close()
	env.do(t, http.MethodPost, "/batch/purge", `{"batch_name":"`+testBatch+`"}`).Body.Close()

	all := decode[JobsResponse](t, env.do(t, http.MethodGet, "/jobs", ""))
	if len(all.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all.Jobs))
	}

	loads := decode[JobsResponse](t, env.do(t, http.MethodGet, "/jobs?kind=load_batch&status=Completed", ""))
	if len(loads.Jobs) != 1 || loads.Jobs[0].Kind != jobs.KindLoadBatch {
		t.Errorf("unexpected filtered jobs: %+v", loads.Jobs)
	}

	limited := decode[JobsResponse](t, env.do(t, http.MethodGet, "/jobs?limit=1", ""))
	if len(limited.Jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(limited.Jobs))
	}

	for _, q := range []string{"?kind=reindex", "?status=done", "?limit=0", "?limit=abc"} {
		resp := env.do(t, http.MethodGet, "/jobs"+q, "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET /jobs%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestHandleJobsExport(t *testing.T) {
	env := newTestEnv(t, &scriptedExecutor{}, nil)
	env.do(t, http.MethodPost, "/batch/purge", `{"batch_name":"`+testBatch+`"}`).Body.Close()

	resp := env.do(t, http.MethodGet, "/jobs/export", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("unexpected content type %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(body, []byte("PK")) {
		t.Error("expected a zip-based xlsx payload")
	}
}

func TestHandleHistory(t *testing.T) {
	env := newTestEnv(t, &scriptedExecutor{}, nil)
	env.do(t, http.MethodPost, "/batch/purge", `{"batch_name":"`+testBatch+`"}`).Body.Close()
	env.do(t, http.MethodPost, "/batch/purge", `{"batch_name":"bad"}`).Body.Close()

	all := decode[HistoryResponse](t, env.do(t, http.MethodGet, "/history", ""))
	if len(all.Events) != 3 {
		t.Fatalf("expected submitted, finished and rejected events, got %+v", all.Events)
	}

	rejected := decode[HistoryResponse](t, env.do(t, http.MethodGet, "/history?type=rejected", ""))
	if len(rejected.Events) != 1 || rejected.Events[0].Target != "bad" {
		t.Errorf("unexpected rejected events: %+v", rejected.Events)
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, &scriptedExecutor{}, nil)

	resp := env.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decode[HealthResponse](t, resp); got.Status != "ok" {
		t.Errorf("expected ok, got %+v", got)
	}

	resp = env.do(t, http.MethodPost, "/health", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", resp.StatusCode)
	}

	env.store.Close()
	resp = env.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once the store is closed, got %d", resp.StatusCode)
	}
	if got := decode[HealthResponse](t, resp); got.Status != "unavailable" || got.Info == "" {
		t.Errorf("unexpected health body: %+v", got)
	}
}

func TestJobsFeed(t *testing.T) {
	env := newTestEnv(t, &scriptedExecutor{}, nil)
	server := httptest.NewServer(env.server.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/jobs/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.feed.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Post(server.URL+"/batch/purge", "application/json", stringsReader(`{"batch_name":"`+testBatch+`"}`))
	if err != nil {
		t.Fatalf("purge request failed: %v", err)
	}
	result := decode[guard.Result](t, resp)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var statuses []string
	for i := 0; i < 2; i++ {
		var update feed.Update
		if err := conn.ReadJSON(&update); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if update.JobID != result.JobID {
			t.Errorf("unexpected job in feed: %+v", update)
		}
		statuses = append(statuses, update.Status)
	}
	if strings.Join(statuses, ",") != "In Progress,Completed" {
		t.Errorf("unexpected feed statuses: %v", statuses)
	}
}
