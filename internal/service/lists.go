package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ListsService is the client for the list-management API. Every call ensures
// a valid credential via the token service first; a failed exchange surfaces
// as *AuthError before any API traffic.
type ListsService struct {
	client  *resty.Client
	baseURL string
	tokens  *TokenService
}

// ListsClientConfig holds configuration for the lists client.
type ListsClientConfig struct {
	BaseURL     string
	CallTimeout time.Duration
}

// NewListsService creates a new list-management API client.
func NewListsService(cfg *ListsClientConfig, tokens *TokenService) *ListsService {
	client := resty.New()
	if cfg.CallTimeout > 0 {
		client.SetTimeout(cfg.CallTimeout)
	} else {
		client.SetTimeout(30 * time.Second)
	}

	return &ListsService{
		client:  client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  tokens,
	}
}

// ListMeta is the metadata record for a remote list.
type ListMeta struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Version  int    `json:"version"`
	RowCount int    `json:"rowCount"`
}

// UploadResult is the upload endpoint's response. ValidationErrors may be
// populated even on a success status; callers must treat a non-empty slice as
// a semantic failure.
type UploadResult struct {
	LocalFile        string   `json:"localFile"`
	RowCount         int      `json:"rowCount"`
	ValidationErrors []string `json:"validationErrors"`
}

// IngestProgress is the asynchronous ingest job's progress record.
type IngestProgress struct {
	Completed    bool   `json:"completed"`
	RowCount     int    `json:"rowCount"`
	MongoTotal   int    `json:"mongoTotal"`
	ElasticTotal int    `json:"elasticTotal"`
	Started      string `json:"started"`
}

func (s *ListsService) authedRequest(ctx context.Context) (*resty.Request, error) {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token), nil
}

// GetListMeta fetches list metadata by resource identifier, yielding the
// internal list ID used by the upload/ingest/progress calls.
func (s *ListsService) GetListMeta(ctx context.Context, resourceID string) (*ListMeta, error) {
	req, err := s.authedRequest(ctx)
	if err != nil {
		return nil, err
	}

	var meta ListMeta
	resp, err := req.
		SetResult(&meta).
		Get(fmt.Sprintf("%s/v2/speciesList/%s", s.baseURL, resourceID))
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &RemoteAPIError{Step: "metadata", Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	return &meta, nil
}

// Upload submits file content as a multipart body. The returned LocalFile
// handle addresses a server-side temp copy consumed by Ingest.
func (s *ListsService) Upload(ctx context.Context, fileName string, content []byte) (*UploadResult, error) {
	req, err := s.authedRequest(ctx)
	if err != nil {
		return nil, err
	}

	var result UploadResult
	resp, err := req.
		SetFileReader("file", fileName, bytes.NewReader(content)).
		SetResult(&result).
		Post(s.baseURL + "/v2/upload")
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &RemoteAPIError{Step: "upload", Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	return &result, nil
}

// Ingest starts asynchronous server-side processing of an uploaded file. The
// handle is sent as the multipart "file" field; no bytes are re-sent.
// Completion is observed through Progress, not through this call.
func (s *ListsService) Ingest(ctx context.Context, internalID, localFile string) error {
	req, err := s.authedRequest(ctx)
	if err != nil {
		return err
	}

	resp, err := req.
		SetMultipartFormData(map[string]string{"file": localFile}).
		Post(fmt.Sprintf("%s/v2/ingest/%s", s.baseURL, internalID))
	if err != nil {
		return fmt.Errorf("ingest request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &RemoteAPIError{Step: "ingest", Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

// Progress reads the ingest job's progress record.
func (s *ListsService) Progress(ctx context.Context, internalID string) (*IngestProgress, error) {
	req, err := s.authedRequest(ctx)
	if err != nil {
		return nil, err
	}

	var progress IngestProgress
	resp, err := req.
		SetResult(&progress).
		Get(fmt.Sprintf("%s/v2/ingest/%s/progress", s.baseURL, internalID))
	if err != nil {
		return nil, fmt.Errorf("progress request failed: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, &RemoteAPIError{Step: "progress", Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	return &progress, nil
}
