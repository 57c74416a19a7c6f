package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"querybot/internal/bus"
	"querybot/internal/domain"

	"github.com/slack-go/slack"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type post struct {
	channel string
	text    string
}

type fakeSlackAPI struct {
	mu        sync.Mutex
	posts     []post
	uploads   []slack.UploadFileV2Parameters
	views     []slack.ModalViewRequest
	uploadErr error
	viewErr   error
}

func (f *fakeSlackAPI) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{User: "querybot", UserID: "UBOT"}, nil
}

func (f *fakeSlackAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	_, values, err := slack.UnsafeApplyMsgOptions("token", channelID, "https://slack.test/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, post{channel: channelID, text: values.Get("text")})
	return channelID, "1.0", nil
}

func (f *fakeSlackAPI) UploadFileV2Context(_ context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, params)
	return &slack.FileSummary{ID: "F1", Title: params.Title}, nil
}

func (f *fakeSlackAPI) OpenViewContext(_ context.Context, _ string, view slack.ModalViewRequest) (*slack.ViewResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.viewErr != nil {
		return nil, f.viewErr
	}
	f.views = append(f.views, view)
	return &slack.ViewResponse{}, nil
}

type fakeRegistrar struct {
	calls [][4]string
	err   error
}

func (f *fakeRegistrar) UpsertCredentials(_ context.Context, senderID, baseURL, clientID, clientSecret string) error {
	f.calls = append(f.calls, [4]string{senderID, baseURL, clientID, clientSecret})
	return f.err
}

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func newTestSlack(t *testing.T) (*Slack, *fakeSlackAPI, *fakeRegistrar, *bus.InMemoryBus) {
	t.Helper()
	reg := &fakeRegistrar{}
	s := NewSlack(SlackConfig{
		BotToken:      "xoxb-test",
		SigningSecret: testSigningSecret,
		Mode:          ModeHTTP,
		Credentials:   reg,
		Logger:        testLogger(),
	})
	api := &fakeSlackAPI{}
	s.api = api
	b := bus.New(10, testLogger())
	t.Cleanup(b.Close)
	s.bus = b
	s.botUID = "UBOT"
	return s, api, reg, b
}

func signedRequest(t *testing.T, contentType, body string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)

	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestDeliver_Inline(t *testing.T) {
	s, api, _, _ := newTestSlack(t)
	env := domain.Envelope{Text: "Here you go:", AdditionalText: "Daily stats:", Payload: "```[1]```"}
	if err := s.Deliver(context.Background(), "D1", env); err != nil {
		t.Fatal(err)
	}
	if len(api.posts) != 1 || api.posts[0].text != "Here you go:\nDaily stats:\n```[1]```" {
		t.Fatalf("unexpected posts %+v", api.posts)
	}
	if len(api.uploads) != 0 {
		t.Fatal("inline payload must not be uploaded")
	}
}

func TestDeliver_FileUpload(t *testing.T) {
	s, api, _, _ := newTestSlack(t)
	env := domain.Envelope{Text: "Template attached.", Payload: "<html>\n</html>", NeedsFileUpload: true}
	if err := s.Deliver(context.Background(), "D1", env); err != nil {
		t.Fatal(err)
	}
	if len(api.posts) != 1 || api.posts[0].text != "Template attached." {
		t.Fatalf("payload must not be inlined, posts %+v", api.posts)
	}
	if len(api.uploads) != 1 {
		t.Fatalf("expected one upload, got %d", len(api.uploads))
	}
	up := api.uploads[0]
	if up.Channel != "D1" || up.Filename != "response.txt" || up.Title != "Response" || up.Content != env.Payload || up.FileSize != len(env.Payload) {
		t.Fatalf("unexpected upload %+v", up)
	}
}

func TestDeliver_UploadFailureFollowUp(t *testing.T) {
	s, api, _, _ := newTestSlack(t)
	api.uploadErr = errors.New("not_in_channel")
	env := domain.Envelope{Text: "Here:", Payload: "big", NeedsFileUpload: true}
	if err := s.Deliver(context.Background(), "C1", env); err != nil {
		t.Fatal(err)
	}
	if len(api.posts) != 2 || api.posts[1].text != "Failed to upload the file: not_in_channel" {
		t.Fatalf("unexpected posts %+v", api.posts)
	}
}

func TestDeliver_EmptyTextIsSkipped(t *testing.T) {
	s, api, _, _ := newTestSlack(t)
	if err := s.Deliver(context.Background(), "D1", domain.Envelope{}); err != nil {
		t.Fatal(err)
	}
	if len(api.posts) != 0 {
		t.Fatalf("expected no posts, got %+v", api.posts)
	}
}

func TestServeHTTP_URLVerification(t *testing.T) {
	s, _, _, _ := newTestSlack(t)
	body := `{"token":"t","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P","type":"url_verification"}`
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, signedRequest(t, "application/json", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P" {
		t.Fatalf("unexpected challenge response %q", rec.Body.String())
	}
}

func TestServeHTTP_RejectsBadSignature(t *testing.T) {
	s, _, _, _ := newTestSlack(t)
	req := signedRequest(t, "application/json", `{"type":"url_verification","challenge":"x"}`)
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request: status = %d, want 401", rec.Code)
	}
}

func messageEvent(user, botID, subtype, text string) string {
	ev := map[string]any{
		"token":      "t",
		"team_id":    "T1",
		"api_app_id": "A1",
		"type":       "event_callback",
		"event_id":   "Ev1",
		"event_time": 1700000000,
		"event": map[string]any{
			"type":         "message",
			"channel":      "D1",
			"user":         user,
			"bot_id":       botID,
			"subtype":      subtype,
			"text":         text,
			"ts":           "1700000000.000100",
			"channel_type": "im",
		},
	}
	b, _ := json.Marshal(ev)
	return string(b)
}

func TestServeHTTP_MessagePublishes(t *testing.T) {
	s, _, _, b := newTestSlack(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, signedRequest(t, "application/json", messageEvent("U1", "", "", "show tenant settings")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	select {
	case msg := <-b.Subscribe():
		if msg.Channel != "slack" || msg.ChatID != "D1" || msg.SenderID != "U1" || msg.Content != "show tenant settings" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a published message")
	}
}

func TestServeHTTP_IgnoresBotsAndSubtypes(t *testing.T) {
	s, _, _, b := newTestSlack(t)
	for _, body := range []string{
		messageEvent("UBOT", "", "", "my own reply"),
		messageEvent("U2", "B1", "", "other bot"),
		messageEvent("U1", "", "message_changed", "edit"),
	} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, signedRequest(t, "application/json", body))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	if n := len(b.Subscribe()); n != 0 {
		t.Fatalf("expected nothing published, got %d", n)
	}
}

func TestServeHTTP_HelpCommand(t *testing.T) {
	s, _, _, _ := newTestSlack(t)
	form := url.Values{"command": {"/help"}, "user_id": {"U1"}, "channel_id": {"D1"}}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, signedRequest(t, "application/x-www-form-urlencoded", form.Encode()))

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if resp["text"] != HelpText || resp["response_type"] != "ephemeral" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestServeHTTP_AuthorizeOpensModal(t *testing.T) {
	s, api, _, _ := newTestSlack(t)
	form := url.Values{"command": {"/authorize"}, "user_id": {"U1"}, "trigger_id": {"13345224609.738474920.8088930838d88f008e0"}}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, signedRequest(t, "application/x-www-form-urlencoded", form.Encode()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(api.views) != 1 || api.views[0].CallbackID != "credentials_modal" {
		t.Fatalf("unexpected views %+v", api.views)
	}
	if n := len(api.views[0].Blocks.BlockSet); n != 3 {
		t.Fatalf("expected 3 input blocks, got %d", n)
	}
}

func TestAuthorize_ModalFailureNotifiesUser(t *testing.T) {
	s, api, _, _ := newTestSlack(t)
	api.viewErr = errors.New("expired_trigger_id")
	s.handleSlashCommand(context.Background(), slack.SlashCommand{Command: "/authorize", UserID: "U1"})
	if len(api.posts) != 1 || api.posts[0].channel != "U1" || api.posts[0].text != modalErrorMessage {
		t.Fatalf("unexpected posts %+v", api.posts)
	}
}

func submission(baseURL, clientID, clientSecret string) string {
	cb := map[string]any{
		"type": "view_submission",
		"user": map[string]any{"id": "U1"},
		"view": map[string]any{
			"callback_id": "credentials_modal",
			"state": map[string]any{
				"values": map[string]any{
					"base_url_block":      map[string]any{"base_url_input": map[string]any{"type": "plain_text_input", "value": baseURL}},
					"client_id_block":     map[string]any{"client_id_input": map[string]any{"type": "plain_text_input", "value": clientID}},
					"client_secret_block": map[string]any{"client_secret_input": map[string]any{"type": "plain_text_input", "value": clientSecret}},
				},
			},
		},
	}
	b, _ := json.Marshal(cb)
	return url.Values{"payload": {string(b)}}.Encode()
}

func TestServeHTTP_CredentialsSubmission(t *testing.T) {
	s, api, reg, _ := newTestSlack(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, signedRequest(t, "application/x-www-form-urlencoded", submission("tenant.auth0.com", "cid", "secret")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(reg.calls) != 1 || reg.calls[0] != [4]string{"U1", "tenant.auth0.com", "cid", "secret"} {
		t.Fatalf("unexpected registrar calls %+v", reg.calls)
	}
	if len(api.posts) != 1 || api.posts[0].channel != "U1" || api.posts[0].text != CredentialsSavedMessage {
		t.Fatalf("unexpected posts %+v", api.posts)
	}
}

func TestServeHTTP_CredentialsSubmissionMissingField(t *testing.T) {
	s, api, reg, _ := newTestSlack(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, signedRequest(t, "application/x-www-form-urlencoded", submission("tenant.auth0.com", "", "secret")))

	if len(reg.calls) != 0 {
		t.Fatal("incomplete submission must not be stored")
	}
	if len(api.posts) != 1 || api.posts[0].text != CredentialsRequiredMessage {
		t.Fatalf("unexpected posts %+v", api.posts)
	}
}

func TestSplitSlackMessage(t *testing.T) {
	if chunks := splitSlackMessage("short", 100); len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	msg := strings.Repeat("a", 60) + "\n" + strings.Repeat("b", 60)
	chunks := splitSlackMessage(msg, 100)
	if len(chunks) != 2 || chunks[0] != strings.Repeat("a", 60)+"\n" {
		t.Fatalf("expected split at newline, got %q", chunks)
	}

	multi := strings.Repeat("é", 10) // 20 bytes
	for _, c := range splitSlackMessage(multi, 5) {
		if len(c)%2 != 0 {
			t.Fatalf("chunk %q splits a rune", c)
		}
	}
	if strings.Join(splitSlackMessage(multi, 5), "") != multi {
		t.Fatal("chunks must reassemble the message")
	}
}
