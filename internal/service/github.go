package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/listrelay/listrelay/internal/logger"
)

// GitHubService retrieves file content and directory listings from the
// source-control host. Every failure path collapses to ok=false: callers
// cannot tell "not found" from a transient fault and must report the content
// as unavailable. Causes are logged here with full detail.
type GitHubService struct {
	client  *resty.Client
	baseURL string
	logger  *logger.Logger
}

// GitHubClientConfig holds configuration for the GitHub service.
type GitHubClientConfig struct {
	BaseURL     string
	Token       string
	CallTimeout time.Duration
}

// NewGitHubService creates a new GitHub content service. The token is
// optional; unauthenticated requests work at lower rate limits.
func NewGitHubService(cfg *GitHubClientConfig, log *logger.Logger) *GitHubService {
	client := resty.New()
	client.SetHeader("Accept", "application/vnd.github+json")
	if cfg.Token != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.Token)
	}
	if cfg.CallTimeout > 0 {
		client.SetTimeout(cfg.CallTimeout)
	} else {
		client.SetTimeout(30 * time.Second)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}

	if log == nil {
		log = logger.GetDefault()
	}

	return &GitHubService{
		client:  client,
		baseURL: baseURL,
		logger:  log,
	}
}

func (s *GitHubService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// contentEntry is the contents API response for a single file, and also the
// element shape of a directory listing.
type contentEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Encoding    string `json:"encoding"`
	Content     string `json:"content"`
	DownloadURL string `json:"download_url"`
	Size        int64  `json:"size"`
}

// RepoFile identifies one file in the monitored repository.
type RepoFile struct {
	Name string
	Path string
}

// GetFileContent fetches a file's text at the given revision. Inline base64
// content is preferred; oversized files fall back to the download URL. Files
// ending in .gz are decompressed transparently. ok is false when the path is
// a directory or the content could not be obtained for any reason.
func (s *GitHubService) GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, bool) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.baseURL, owner, repo, path)

	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("ref", ref).
		Get(url)
	if err != nil {
		s.log(ctx).WithError(err).Errorf("Failed to fetch content: path=%s, ref=%s", path, ref)
		return "", false
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		s.log(ctx).Errorf("Content request returned %d: path=%s, ref=%s, body=%s",
			resp.StatusCode(), path, ref, string(resp.Body()))
		return "", false
	}

	body := resp.Body()
	// A directory listing comes back as a JSON array.
	if len(bytes.TrimSpace(body)) > 0 && bytes.TrimSpace(body)[0] == '[' {
		s.log(ctx).Warnf("Requested path is a directory: path=%s", path)
		return "", false
	}

	var entry contentEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		s.log(ctx).WithError(err).Errorf("Failed to decode content response: path=%s", path)
		return "", false
	}
	if entry.Type == "dir" {
		s.log(ctx).Warnf("Requested path is a directory: path=%s", path)
		return "", false
	}

	if entry.Content != "" {
		raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(entry.Content, "\n", ""))
		if err != nil {
			s.log(ctx).WithError(err).Errorf("Failed to base64-decode content: path=%s", path)
			return "", false
		}
		return s.decode(ctx, path, raw)
	}

	// Oversized files carry no inline content, only a download URL.
	if entry.DownloadURL != "" {
		raw, ok := s.download(ctx, entry.DownloadURL)
		if !ok {
			return "", false
		}
		return s.decode(ctx, path, raw)
	}

	s.log(ctx).Warnf("Content response had neither inline content nor download URL: path=%s", path)
	return "", false
}

func (s *GitHubService) download(ctx context.Context, url string) ([]byte, bool) {
	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		s.log(ctx).WithError(err).Errorf("Failed to download oversized file: url=%s", url)
		return nil, false
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		s.log(ctx).Errorf("Download returned %d: url=%s", resp.StatusCode(), url)
		return nil, false
	}
	return resp.Body(), true
}

// decode applies the compression rule keyed on the path suffix and converts
// the bytes to text.
func (s *GitHubService) decode(ctx context.Context, path string, raw []byte) (string, bool) {
	if !strings.HasSuffix(path, ".gz") {
		return string(raw), true
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		s.log(ctx).WithError(err).Errorf("Failed to open gzip stream: path=%s", path)
		return "", false
	}
	defer zr.Close()
	text, err := io.ReadAll(zr)
	if err != nil {
		s.log(ctx).WithError(err).Errorf("Failed to decompress content: path=%s", path)
		return "", false
	}
	return string(text), true
}

// FindLatestFile lists a folder and returns the importable file with the
// lexicographically greatest name. Filenames embed a sortable timestamp, so
// lexicographic order approximates recency.
func (s *GitHubService) FindLatestFile(ctx context.Context, owner, repo, dir string) (*RepoFile, bool) {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.baseURL, owner, repo, dir)

	var entries []contentEntry
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&entries).
		Get(url)
	if err != nil {
		s.log(ctx).WithError(err).Errorf("Failed to list directory: dir=%s", dir)
		return nil, false
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		s.log(ctx).Errorf("Directory listing returned %d: dir=%s, body=%s",
			resp.StatusCode(), dir, string(resp.Body()))
		return nil, false
	}

	var latest *contentEntry
	for i := range entries {
		e := &entries[i]
		if e.Type != "file" || !IsImportableFileName(e.Name) {
			continue
		}
		if latest == nil || e.Name > latest.Name {
			latest = e
		}
	}
	if latest == nil {
		s.log(ctx).Warnf("No importable files in directory: dir=%s, entries=%d", dir, len(entries))
		return nil, false
	}
	return &RepoFile{Name: latest.Name, Path: latest.Path}, true
}

// IsImportableFileName reports whether a filename has a recognized list-data
// extension.
func IsImportableFileName(name string) bool {
	return strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".csv.gz")
}
