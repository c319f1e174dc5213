package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/listrelay/listrelay/internal/logger"
)

// SlackService posts, updates, and deletes messages in the operator channel
// through the Slack Web API.
type SlackService struct {
	client  *resty.Client
	baseURL string
	channel string
	logger  *logger.Logger
}

// SlackClientConfig holds configuration for the Slack service.
type SlackClientConfig struct {
	BaseURL     string
	BotToken    string
	Channel     string
	CallTimeout time.Duration
}

// NewSlackService creates a new Slack Web API client.
func NewSlackService(cfg *SlackClientConfig, log *logger.Logger) *SlackService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.BotToken)
	client.SetHeader("Content-Type", "application/json; charset=utf-8")
	if cfg.CallTimeout > 0 {
		client.SetTimeout(cfg.CallTimeout)
	} else {
		client.SetTimeout(30 * time.Second)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &SlackService{
		client:  client,
		baseURL: baseURL,
		channel: cfg.Channel,
		logger:  log,
	}
}

// MessageRef addresses one posted chat message for later updates or deletion.
type MessageRef struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"ts"`
}

type slackAPIResponse struct {
	OK      bool   `json:"ok"`
	Channel string `json:"channel"`
	TS      string `json:"ts"`
	Error   string `json:"error"`
}

func (s *SlackService) call(ctx context.Context, method string, body map[string]string) (*slackAPIResponse, error) {
	var out slackAPIResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(s.baseURL + "/" + method)
	if err != nil {
		return nil, fmt.Errorf("slack %s failed: %w", method, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("slack %s returned %d: %s", method, resp.StatusCode(), string(resp.Body()))
	}
	if !out.OK {
		return nil, fmt.Errorf("slack %s rejected: %s", method, out.Error)
	}
	return &out, nil
}

// PostMessage posts a message to the configured channel.
func (s *SlackService) PostMessage(ctx context.Context, text string) (*MessageRef, error) {
	out, err := s.call(ctx, "chat.postMessage", map[string]string{
		"channel": s.channel,
		"text":    text,
	})
	if err != nil {
		return nil, err
	}
	return &MessageRef{Channel: out.Channel, Timestamp: out.TS}, nil
}

// UpdateMessage replaces the text of an existing message in place.
func (s *SlackService) UpdateMessage(ctx context.Context, ref *MessageRef, text string) error {
	_, err := s.call(ctx, "chat.update", map[string]string{
		"channel": ref.Channel,
		"ts":      ref.Timestamp,
		"text":    text,
	})
	return err
}

// DeleteMessage deletes a message by timestamp in the configured channel.
func (s *SlackService) DeleteMessage(ctx context.Context, ts string) error {
	_, err := s.call(ctx, "chat.delete", map[string]string{
		"channel": s.channel,
		"ts":      ts,
	})
	return err
}

// slackTimestampTolerance bounds how old a signed request may be before it is
// rejected as a possible replay.
const slackTimestampTolerance = 5 * time.Minute

// VerifySlackSignature checks Slack's v0 request signature: HMAC-SHA256 of
// "v0:<timestamp>:<body>" with the signing secret, compared in constant time.
func VerifySlackSignature(secret, timestamp, signature string, body []byte) bool {
	if secret == "" || timestamp == "" || signature == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(ts, 0))
	if age > slackTimestampTolerance || age < -slackTimestampTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// RunReporter delivers a pipeline run's progress by updating one Slack
// message in place, one message handle per run.
type RunReporter struct {
	slack    *SlackService
	listName string
	fileName string
	ref      *MessageRef
}

// NewRunReporter creates a reporter for one pipeline run.
func (s *SlackService) NewRunReporter(listName, fileName string) *RunReporter {
	return &RunReporter{slack: s, listName: listName, fileName: fileName}
}

// Start posts the initial progress message.
func (r *RunReporter) Start(ctx context.Context) {
	text := fmt.Sprintf(":arrows_counterclockwise: Reloading list *%s* from `%s`...", r.listName, r.fileName)
	ref, err := r.slack.PostMessage(ctx, text)
	if err != nil {
		r.slack.logger.WithError(err).Warnf("Failed to post progress message: list=%s", r.listName)
		return
	}
	r.ref = ref
}

// Stage updates the progress message for a pipeline state transition.
// Implements the pipeline's ProgressReporter.
func (r *RunReporter) Stage(ctx context.Context, stage ReloadStage, detail string) {
	if r.ref == nil {
		return
	}
	text := fmt.Sprintf(":arrows_counterclockwise: Reloading list *%s* from `%s`: %s", r.listName, r.fileName, stageText(stage))
	if detail != "" {
		text += " (" + detail + ")"
	}
	if err := r.slack.UpdateMessage(ctx, r.ref, text); err != nil {
		r.slack.logger.WithError(err).Warnf("Failed to update progress message: list=%s, stage=%s", r.listName, stage)
	}
}

// Done replaces the progress message with the terminal success text.
func (r *RunReporter) Done(ctx context.Context, rowCount int) {
	r.finish(ctx, fmt.Sprintf(":white_check_mark: Reloaded list *%s* from `%s` (%d rows).", r.listName, r.fileName, rowCount))
}

// Fail replaces the progress message with the terminal failure text.
func (r *RunReporter) Fail(ctx context.Context, err error) {
	r.finish(ctx, fmt.Sprintf(":x: Reload of list *%s* from `%s` failed: %v", r.listName, r.fileName, err))
}

func (r *RunReporter) finish(ctx context.Context, text string) {
	if r.ref == nil {
		if _, err := r.slack.PostMessage(ctx, text); err != nil {
			r.slack.logger.WithError(err).Warnf("Failed to post terminal message: list=%s", r.listName)
		}
		return
	}
	if err := r.slack.UpdateMessage(ctx, r.ref, text); err != nil {
		r.slack.logger.WithError(err).Warnf("Failed to update terminal message: list=%s", r.listName)
	}
}

func stageText(stage ReloadStage) string {
	switch stage {
	case StageResolving:
		return "resolving resource identifier"
	case StageFetchingMetadata:
		return "fetching list metadata"
	case StageUploading:
		return "uploading file"
	case StageIngesting:
		return "starting ingest"
	case StagePolling:
		return "waiting for ingest to complete"
	case StageCompleted:
		return "completed"
	default:
		return string(stage)
	}
}
