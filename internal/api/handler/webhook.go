package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/listrelay/listrelay/internal/domain"
	"github.com/listrelay/listrelay/internal/logger"
	"github.com/listrelay/listrelay/internal/repository"
	"github.com/listrelay/listrelay/internal/service"
)

// WebhookConfig describes the monitored repository for the webhook adapter.
type WebhookConfig struct {
	Owner      string
	Repo       string
	Branch     string
	ImportRoot string
	ConfigPath string
	Secret     string
}

// WebhookHandler reacts to push events from the source-control host. The
// request is acknowledged as soon as its signature checks out; processing
// happens on a spawned task because the host enforces a short response
// window.
type WebhookHandler struct {
	cfg    WebhookConfig
	github *service.GitHubService
	drmap  *service.DrMapService
	slack  *service.SlackService
	runner *pipelineRunner
	logger *logger.Logger

	// dispatch spawns post-ack processing; tests swap in a synchronous one.
	dispatch func(func())
}

// NewWebhookHandler creates the webhook adapter.
func NewWebhookHandler(
	cfg WebhookConfig,
	github *service.GitHubService,
	drmap *service.DrMapService,
	reload *service.ReloadService,
	slack *service.SlackService,
	runs *repository.RunRepository,
	log *logger.Logger,
) *WebhookHandler {
	if log == nil {
		log = logger.GetDefault()
	}
	return &WebhookHandler{
		cfg:    cfg,
		github: github,
		drmap:  drmap,
		slack:  slack,
		runner: &pipelineRunner{reload: reload, slack: slack, drmap: drmap, runs: runs, logger: log},
		logger: log,
		dispatch: func(fn func()) {
			go fn()
		},
	}
}

// PushEvent is the push payload subset this adapter consumes.
type PushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Commits    []PushCommit `json:"commits"`
	HeadCommit *PushCommit  `json:"head_commit"`
}

// PushCommit carries the changed paths of one commit in a push.
type PushCommit struct {
	ID       string   `json:"id"`
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// Handle verifies the signature, acknowledges, and hands the payload to a
// spawned task.
func (h *WebhookHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	// Signature first, before touching the payload.
	if !verifyGitHubSignature(h.cfg.Secret, body, c.GetHeader("X-Hub-Signature-256")) {
		logger.CtxWarn(ctx, "Webhook signature mismatch: client_ip=%s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event := c.GetHeader("X-GitHub-Event")
	if event != "push" {
		logger.CtxDebug(ctx, "Ignoring webhook event: type=%s", event)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	var ev PushEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		logger.CtxWarn(ctx, "Malformed push payload: error=%v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	deliveryID := c.GetHeader("X-GitHub-Delivery")
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})

	// Detach from the request context: the response is already on its way.
	taskCtx := logger.WithFields(context.Background(), logger.Fields{
		logger.FieldDeliveryID: deliveryID,
		logger.FieldTrigger:    string(domain.TriggerWebhook),
		logger.FieldComponent:  "webhook",
	})
	h.dispatch(func() {
		h.ProcessPush(taskCtx, &ev)
	})
}

// ProcessPush runs after the acknowledgement: filters by branch, reloads the
// configuration mapping when drs.json changed, and starts at most one
// pipeline run for a newly added import file.
func (h *WebhookHandler) ProcessPush(ctx context.Context, ev *PushEvent) {
	if ev.Ref != "refs/heads/"+h.cfg.Branch {
		logger.CtxDebug(ctx, "Ignoring push to non-primary branch: ref=%s", ev.Ref)
		return
	}

	var added, modified []string
	for _, commit := range ev.Commits {
		added = append(added, commit.Added...)
		modified = append(modified, commit.Modified...)
	}

	rev := ev.After
	if ev.HeadCommit != nil && ev.HeadCommit.ID != "" {
		rev = ev.HeadCommit.ID
	}

	if containsPath(modified, h.cfg.ConfigPath) || containsPath(added, h.cfg.ConfigPath) {
		h.reloadDrMap(ctx, rev)
	}

	// At most one addition per delivery starts a pipeline run. A push that
	// drops many files at once must not fan out unbounded runs.
	for _, p := range added {
		listName, ok := MatchImportPath(h.cfg.ImportRoot, p)
		if !ok {
			continue
		}
		logger.CtxInfo(ctx, "New import file pushed: path=%s, list=%s, rev=%s", p, listName, rev)
		content, found := h.github.GetFileContent(ctx, h.cfg.Owner, h.cfg.Repo, p, rev)
		if !found {
			h.runner.failEarly(ctx, domain.TriggerWebhook, listName, p, "file content unavailable")
			return
		}
		h.runner.run(ctx, domain.TriggerWebhook, listName, p, []byte(content))
		return
	}
}

func (h *WebhookHandler) reloadDrMap(ctx context.Context, rev string) {
	changes, err := h.drmap.Reload(ctx, rev)
	if err != nil {
		// Non-fatal at runtime: the previous mapping remains active.
		logger.CtxError(ctx, "Configuration reload failed, keeping previous mapping: error=%v", err)
		if _, perr := h.slack.PostMessage(ctx, fmt.Sprintf(":warning: Failed to reload `%s` (previous mapping remains active): %v", h.cfg.ConfigPath, err)); perr != nil {
			h.logger.WithError(perr).Warn("Failed to post reload-failure message")
		}
		return
	}
	if _, err := h.slack.PostMessage(ctx, formatMapChanges(h.cfg.ConfigPath, changes)); err != nil {
		h.logger.WithError(err).Warn("Failed to post mapping diff message")
	}
}

func formatMapChanges(configPath string, changes []domain.MapChange) string {
	if len(changes) == 0 {
		return fmt.Sprintf(":information_source: `%s` reloaded, no mapping changes.", configPath)
	}
	var b strings.Builder
	fmt.Fprintf(&b, ":information_source: `%s` reloaded with %d change(s):", configPath, len(changes))
	for _, c := range changes {
		b.WriteString("\n• ")
		b.WriteString(c.String())
	}
	return b.String()
}

func containsPath(paths []string, target string) bool {
	for _, p := range paths {
		if p == target {
			return true
		}
	}
	return false
}

// MatchImportPath checks a path against the monitored folder convention
// <importRoot>/<listName>/<file>.csv[.gz] and extracts the list name.
func MatchImportPath(importRoot, p string) (string, bool) {
	parts := strings.Split(p, "/")
	if len(parts) != 3 {
		return "", false
	}
	if parts[0] != importRoot || parts[1] == "" {
		return "", false
	}
	if !service.IsImportableFileName(parts[2]) {
		return "", false
	}
	return parts[1], true
}

// verifyGitHubSignature checks the x-hub-signature-256 header: HMAC-SHA256
// over the raw body with the shared secret, compared in constant time.
func verifyGitHubSignature(secret string, body []byte, header string) bool {
	if secret == "" || !strings.HasPrefix(header, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}
