package handler

import (
	"bytes"
	"context"
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

// CommandConfig describes the repository the command adapter reads from.
type CommandConfig struct {
	Owner         string
	Repo          string
	Branch        string
	ImportRoot    string
	SigningSecret string
}

// CommandHandler reacts to operator-issued slash commands. Commands are
// acknowledged within Slack's response window and processed on a spawned
// task, with the outcome delivered as channel messages.
type CommandHandler struct {
	cfg    CommandConfig
	github *service.GitHubService
	drmap  *service.DrMapService
	reload *service.ReloadService
	slack  *service.SlackService
	runner *pipelineRunner
	logger *logger.Logger

	dispatch func(func())
}

// NewCommandHandler creates the slash-command adapter.
func NewCommandHandler(
	cfg CommandConfig,
	github *service.GitHubService,
	drmap *service.DrMapService,
	reload *service.ReloadService,
	slack *service.SlackService,
	runs *repository.RunRepository,
	log *logger.Logger,
) *CommandHandler {
	if log == nil {
		log = logger.GetDefault()
	}
	return &CommandHandler{
		cfg:    cfg,
		github: github,
		drmap:  drmap,
		reload: reload,
		slack:  slack,
		runner: &pipelineRunner{reload: reload, slack: slack, drmap: drmap, runs: runs, logger: log},
		logger: log,
		dispatch: func(fn func()) {
			go fn()
		},
	}
}

// Handle verifies the request signature, acknowledges, and spawns the
// command's processing.
func (h *CommandHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if !service.VerifySlackSignature(
		h.cfg.SigningSecret,
		c.GetHeader("X-Slack-Request-Timestamp"),
		c.GetHeader("X-Slack-Signature"),
		body,
	) {
		logger.CtxWarn(ctx, "Slash command signature mismatch: client_ip=%s", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	// Form parsing consumes the body; put the verified bytes back.
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	command := c.PostForm("command")
	text := strings.TrimSpace(c.PostForm("text"))

	switch command {
	case "/reload":
		if text == "" {
			c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": "Usage: `/reload <listName>`"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"response_type": "in_channel",
			"text":          fmt.Sprintf("Reload of *%s* accepted.", text),
		})
		taskCtx := logger.WithFields(context.Background(), logger.Fields{
			logger.FieldTrigger:   string(domain.TriggerCommand),
			logger.FieldComponent: "command",
		})
		h.dispatch(func() {
			h.ProcessReload(taskCtx, text)
		})

	case "/clean":
		if text == "" {
			c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": "Usage: `/clean <ts,ts,...>`"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": "Cleaning up messages..."})
		taskCtx := logger.WithFields(context.Background(), logger.Fields{
			logger.FieldComponent: "command",
		})
		h.dispatch(func() {
			h.ProcessClean(taskCtx, text)
		})

	default:
		logger.CtxWarn(ctx, "Unknown slash command: command=%s", command)
		c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": "Unknown command."})
	}
}

// ProcessReload resolves the list, locates the most recent import file for it
// by directory listing, fetches the content at the primary branch head, and
// runs the pipeline.
func (h *CommandHandler) ProcessReload(ctx context.Context, listName string) {
	ctx = logger.SetListName(ctx, listName)

	// Unknown lists are rejected before any file lookup or list-API call.
	if _, err := h.reload.ResolveList(h.drmap.Current(), listName); err != nil {
		logger.CtxWarn(ctx, "Reload command for unknown list: error=%v", err)
		if _, perr := h.slack.PostMessage(ctx, ":x: "+err.Error()); perr != nil {
			h.logger.WithError(perr).Warn("Failed to post unknown-list message")
		}
		return
	}

	dir := h.cfg.ImportRoot + "/" + listName
	file, ok := h.github.FindLatestFile(ctx, h.cfg.Owner, h.cfg.Repo, dir)
	if !ok {
		h.runner.failEarly(ctx, domain.TriggerCommand, listName, dir, "no importable file found")
		return
	}

	content, ok := h.github.GetFileContent(ctx, h.cfg.Owner, h.cfg.Repo, file.Path, h.cfg.Branch)
	if !ok {
		h.runner.failEarly(ctx, domain.TriggerCommand, listName, file.Path, "file content unavailable")
		return
	}

	h.runner.run(ctx, domain.TriggerCommand, listName, file.Path, []byte(content))
}

// ProcessClean deletes the chat messages named by a comma-separated list of
// timestamps. Administrative cleanup, independent of the pipeline.
func (h *CommandHandler) ProcessClean(ctx context.Context, text string) {
	deleted := 0
	for _, ts := range strings.Split(text, ",") {
		ts = strings.TrimSpace(ts)
		if ts == "" {
			continue
		}
		if err := h.slack.DeleteMessage(ctx, ts); err != nil {
			logger.CtxWarn(ctx, "Failed to delete message: ts=%s, error=%v", ts, err)
			continue
		}
		deleted++
	}
	logger.CtxInfo(ctx, "Cleanup finished: deleted=%d", deleted)
}
