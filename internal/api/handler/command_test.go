package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const commandSecret = "slack-signing-secret"

func postCommand(h *CommandHandler, form url.Values, sign bool) *httptest.ResponseRecorder {
	r := gin.New()
	r.POST("/slack/commands", h.Handle)

	body := form.Encode()
	req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	if sign {
		req.Header.Set("X-Slack-Signature", slackTestSign(commandSecret, ts, []byte(body)))
	} else {
		req.Header.Set("X-Slack-Signature", "v0=0000")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func slackTestSign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func gzippedCSV(t *testing.T, text string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.String()
}

func TestCommandHandle_RejectsBadSignature(t *testing.T) {
	h := newHarness(t, defaultDrs)
	w := postCommand(h.command, url.Values{"command": {"/reload"}, "text": {"Foo"}}, false)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	_, uploads := h.lists.calls()
	require.Zero(t, uploads)
}

func TestCommandHandle_ReloadUsage(t *testing.T) {
	h := newHarness(t, defaultDrs)
	w := postCommand(h.command, url.Values{"command": {"/reload"}, "text": {""}}, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Usage")
	require.Contains(t, w.Body.String(), "ephemeral")
}

func TestCommandHandle_UnknownCommand(t *testing.T) {
	h := newHarness(t, defaultDrs)
	w := postCommand(h.command, url.Values{"command": {"/frobnicate"}, "text": {"x"}}, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Unknown command")
}

func TestCommandHandle_ReloadAcknowledgesInChannel(t *testing.T) {
	h := newHarness(t, defaultDrs)
	h.github.setDir("imported_GoogleSheets/Foo", "2025-01-01.csv")
	h.github.setFile("imported_GoogleSheets/Foo/2025-01-01.csv", "a,b\n1,2\n")

	w := postCommand(h.command, url.Values{"command": {"/reload"}, "text": {"Foo"}}, true)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "in_channel")
	require.Contains(t, w.Body.String(), "Reload of *Foo* accepted.")

	// Synchronous dispatch: processing has already happened.
	_, uploads := h.lists.calls()
	require.Equal(t, 1, uploads)
}

func TestProcessReload_UnknownListSkipsAPI(t *testing.T) {
	h := newHarness(t, defaultDrs)
	h.command.ProcessReload(context.Background(), "Nope")

	token, uploads := h.lists.calls()
	require.Zero(t, token, "unknown list must not trigger a token exchange")
	require.Zero(t, uploads)

	posts := h.slack.allPosts()
	require.Len(t, posts, 1)
	require.Contains(t, posts[0], "Nope")
	require.Contains(t, posts[0], "Foo")
}

func TestProcessReload_PicksLatestFile(t *testing.T) {
	h := newHarness(t, defaultDrs)
	h.github.setDir("imported_GoogleSheets/Foo",
		"2025-01-01.csv", "2025-03-01.csv.gz", "2025-02-01.csv", "notes.txt")
	h.github.setFile("imported_GoogleSheets/Foo/2025-03-01.csv.gz", gzippedCSV(t, "a,b\n1,2\n"))

	h.command.ProcessReload(context.Background(), "Foo")

	_, uploads := h.lists.calls()
	require.Equal(t, 1, uploads)
	posts := h.slack.allPosts()
	require.NotEmpty(t, posts)
	require.Contains(t, posts[0], "2025-03-01.csv.gz")
}

func TestProcessReload_NoImportableFile(t *testing.T) {
	h := newHarness(t, defaultDrs)
	h.github.setDir("imported_GoogleSheets/Foo", "notes.txt")

	h.command.ProcessReload(context.Background(), "Foo")

	_, uploads := h.lists.calls()
	require.Zero(t, uploads)
	posts := h.slack.allPosts()
	require.Len(t, posts, 1)
	require.Contains(t, posts[0], "no importable file found")
}

func TestProcessClean_DeletesEachTimestamp(t *testing.T) {
	h := newHarness(t, defaultDrs)
	h.command.ProcessClean(context.Background(), "1710.0001, 1710.0002,")

	h.slack.mu.Lock()
	deletes := append([]string(nil), h.slack.deletes...)
	h.slack.mu.Unlock()
	require.Equal(t, []string{"1710.0001", "1710.0002"}, deletes)
}
