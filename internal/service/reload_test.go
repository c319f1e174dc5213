package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/listrelay/listrelay/internal/domain"
)

// fakeListsAPI fakes the list-management API plus its token endpoint.
type fakeListsAPI struct {
	mu sync.Mutex

	tokenCalls    int
	metadataCalls int
	uploadCalls   int
	ingestCalls   int
	progressCalls int

	metadataStatus   int
	validationErrors []string
	// progress responses consumed in order; the last one repeats
	progress []fakeProgress

	srv *httptest.Server
}

type fakeProgress struct {
	status    int
	completed bool
}

func newFakeListsAPI(t *testing.T) *fakeListsAPI {
	t.Helper()
	f := &fakeListsAPI{metadataStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenCalls++
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token", "token_type": "Bearer", "expires_in": 3600,
		})
	})
	mux.HandleFunc("/v2/speciesList/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.metadataCalls++
		status := f.metadataStatus
		f.mu.Unlock()
		if status != http.StatusOK {
			http.Error(w, `{"message":"boom"}`, status)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "internal-1", "title": "Foo list", "version": 3, "rowCount": 10,
		})
	})
	mux.HandleFunc("/v2/upload", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.uploadCalls++
		verrs := f.validationErrors
		f.mu.Unlock()
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("file")
		require.NoError(t, err, "upload must carry a multipart file field")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"localFile": "tmp-1", "rowCount": 42, "validationErrors": verrs,
		})
	})
	mux.HandleFunc("/v2/ingest/internal-1/progress", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.progressCalls++
		idx := f.progressCalls - 1
		if idx >= len(f.progress) {
			idx = len(f.progress) - 1
		}
		p := fakeProgress{status: http.StatusOK}
		if idx >= 0 {
			p = f.progress[idx]
		}
		f.mu.Unlock()
		if p.status != http.StatusOK {
			http.Error(w, `{"message":"flaky"}`, p.status)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"completed": p.completed, "rowCount": 42, "mongoTotal": 42, "elasticTotal": 42,
		})
	})
	mux.HandleFunc("/v2/ingest/internal-1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.ingestCalls++
		f.mu.Unlock()
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "tmp-1", r.FormValue("file"))
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{}`)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeListsAPI) calls() (token, metadata, upload, ingest, progress int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls, f.metadataCalls, f.uploadCalls, f.ingestCalls, f.progressCalls
}

func newTestReloadService(f *fakeListsAPI, maxAttempts int) *ReloadService {
	tokens := NewTokenService(&TokenConfig{
		TokenURL: f.srv.URL + "/oauth/token",
		ClientID: "id", ClientSecret: "secret", Scope: "users/read",
	})
	lists := NewListsService(&ListsClientConfig{BaseURL: f.srv.URL}, tokens)
	return NewReloadService(lists, domain.EnvProduction, ReloadConfig{
		PollInterval:    time.Millisecond,
		MaxPollAttempts: maxAttempts,
	}, nil)
}

func testDrMap() *domain.DrMap {
	m, _ := domain.ParseDrMap([]byte(`{"prod": {"Foo": "dr-foo", "Bar": "dr-bar"}, "test": {"Foo": "dr-foo-test"}}`))
	return m
}

// stageRecorder records the pipeline's state transitions.
type stageRecorder struct {
	mu     sync.Mutex
	stages []ReloadStage
}

func (r *stageRecorder) Stage(_ context.Context, stage ReloadStage, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func TestReloadService_HappyPath(t *testing.T) {
	f := newFakeListsAPI(t)
	f.progress = []fakeProgress{
		{status: http.StatusOK, completed: false},
		{status: http.StatusOK, completed: false},
		{status: http.StatusOK, completed: true},
	}
	svc := newTestReloadService(f, 10)

	rec := &stageRecorder{}
	result, err := svc.Run(context.Background(), &ReloadRequest{
		ListName: "Foo",
		FileName: "2025-01-01.csv",
		Content:  []byte("a,b\n1,2\n"),
		DrMap:    testDrMap(),
		Reporter: rec,
	})
	require.NoError(t, err)
	require.Equal(t, "dr-foo", result.ResourceID)
	require.Equal(t, "internal-1", result.InternalID)
	require.Equal(t, 42, result.RowCount)
	require.Equal(t, 3, result.PollAttempts)

	_, metadata, upload, ingest, progress := f.calls()
	require.Equal(t, 1, metadata)
	require.Equal(t, 1, upload)
	require.Equal(t, 1, ingest)
	// Polling stops on the first completed=true, no further check.
	require.Equal(t, 3, progress)

	require.Equal(t, []ReloadStage{
		StageResolving, StageFetchingMetadata, StageUploading,
		StageIngesting, StagePolling, StageCompleted,
	}, rec.stages)
}

func TestReloadService_UnknownList(t *testing.T) {
	f := newFakeListsAPI(t)
	svc := newTestReloadService(f, 10)

	_, err := svc.Run(context.Background(), &ReloadRequest{
		ListName: "Nope",
		FileName: "x.csv",
		Content:  []byte("a\n"),
		DrMap:    testDrMap(),
	})

	var unknownErr *UnknownListError
	require.True(t, errors.As(err, &unknownErr))
	require.Equal(t, "Nope", unknownErr.ListName)
	require.Equal(t, []string{"Foo", "Bar"}, unknownErr.Available)

	// The list-management API (including the token endpoint) is never touched.
	token, metadata, upload, ingest, progress := f.calls()
	require.Zero(t, token+metadata+upload+ingest+progress)
}

func TestReloadService_EnvironmentPartition(t *testing.T) {
	f := newFakeListsAPI(t)
	tokens := NewTokenService(&TokenConfig{
		TokenURL: f.srv.URL + "/oauth/token",
		ClientID: "id", ClientSecret: "secret", Scope: "users/read",
	})
	lists := NewListsService(&ListsClientConfig{BaseURL: f.srv.URL}, tokens)
	svc := NewReloadService(lists, domain.EnvTest, ReloadConfig{
		PollInterval: time.Millisecond, MaxPollAttempts: 5,
	}, nil)

	// Bar exists only in prod, so the test environment must reject it.
	_, err := svc.Run(context.Background(), &ReloadRequest{
		ListName: "Bar", FileName: "x.csv", Content: []byte("a\n"), DrMap: testDrMap(),
	})
	var unknownErr *UnknownListError
	require.True(t, errors.As(err, &unknownErr))
	require.Equal(t, []string{"Foo"}, unknownErr.Available)
}

func TestReloadService_ValidationErrorsAbortBeforeIngest(t *testing.T) {
	f := newFakeListsAPI(t)
	f.validationErrors = []string{"missing column scientificName", "row 7 is empty"}
	svc := newTestReloadService(f, 10)

	_, err := svc.Run(context.Background(), &ReloadRequest{
		ListName: "Foo", FileName: "x.csv", Content: []byte("a\n"), DrMap: testDrMap(),
	})

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	require.Len(t, valErr.Messages, 2)
	require.Contains(t, valErr.Error(), "1. missing column scientificName")
	require.Contains(t, valErr.Error(), "2. row 7 is empty")

	_, _, upload, ingest, _ := f.calls()
	require.Equal(t, 1, upload)
	require.Zero(t, ingest, "ingest must not run after validation failure")
}

func TestReloadService_PollTimeout(t *testing.T) {
	f := newFakeListsAPI(t)
	f.progress = []fakeProgress{{status: http.StatusOK, completed: false}}
	svc := newTestReloadService(f, 3)

	_, err := svc.Run(context.Background(), &ReloadRequest{
		ListName: "Foo", FileName: "x.csv", Content: []byte("a\n"), DrMap: testDrMap(),
	})

	var timeoutErr *TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	require.Equal(t, 3, timeoutErr.Attempts)

	_, _, _, _, progress := f.calls()
	require.Equal(t, 3, progress, "no poll beyond the attempt budget")
}

func TestReloadService_PollSurvivesTransientFailures(t *testing.T) {
	f := newFakeListsAPI(t)
	f.progress = []fakeProgress{
		{status: http.StatusBadGateway},
		{status: http.StatusOK, completed: true},
	}
	svc := newTestReloadService(f, 10)

	result, err := svc.Run(context.Background(), &ReloadRequest{
		ListName: "Foo", FileName: "x.csv", Content: []byte("a\n"), DrMap: testDrMap(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.PollAttempts)
}

func TestReloadService_MetadataError(t *testing.T) {
	f := newFakeListsAPI(t)
	f.metadataStatus = http.StatusInternalServerError
	svc := newTestReloadService(f, 10)

	_, err := svc.Run(context.Background(), &ReloadRequest{
		ListName: "Foo", FileName: "x.csv", Content: []byte("a\n"), DrMap: testDrMap(),
	})

	var apiErr *RemoteAPIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "metadata", apiErr.Step)
	require.Equal(t, http.StatusInternalServerError, apiErr.Status)

	_, _, upload, _, _ := f.calls()
	require.Zero(t, upload, "upload must not run after a metadata failure")
}

func TestReloadService_PollCancellable(t *testing.T) {
	f := newFakeListsAPI(t)
	f.progress = []fakeProgress{{status: http.StatusOK, completed: false}}
	svc := newTestReloadService(f, 1000)
	svc.cfg.PollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := svc.Run(ctx, &ReloadRequest{
		ListName: "Foo", FileName: "x.csv", Content: []byte("a\n"), DrMap: testDrMap(),
	})
	require.ErrorIs(t, err, context.Canceled)
}
