package nlu

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/protobuf/types/known/structpb"

	"querybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDetector struct {
	resp    *dialogflowpb.DetectIntentResponse
	err     error
	lastReq *dialogflowpb.DetectIntentRequest
	block   bool
}

func (f *fakeDetector) DetectIntent(ctx context.Context, req *dialogflowpb.DetectIntentRequest, _ ...gax.CallOption) (*dialogflowpb.DetectIntentResponse, error) {
	f.lastReq = req
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func TestDetectIntent_FlattensQueryResult(t *testing.T) {
	params, err := structpb.NewStruct(map[string]any{
		"email": "jane.doe@test.au",
		"date-period": []any{
			map[string]any{"startDate": "2024-01-01T00:00:00Z", "endDate": "2024-01-31T23:59:59Z"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	fd := &fakeDetector{resp: &dialogflowpb.DetectIntentResponse{
		QueryResult: &dialogflowpb.QueryResult{
			Intent:          &dialogflowpb.Intent{DisplayName: "SearchUsersByEmailIntent"},
			FulfillmentText: "Searching users",
			Parameters:      params,
		},
	}}
	d := newWithDetector(fd, Config{ProjectID: "proj", LanguageCode: "en-AU", Logger: testLogger()})

	got, err := d.DetectIntent(context.Background(), "abc", "find jane.doe@test.au")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Intent != "SearchUsersByEmailIntent" || got.FulfillmentText != "Searching users" {
		t.Fatalf("unexpected classification %+v", got)
	}
	if got.Parameters["email"] != "jane.doe@test.au" {
		t.Fatalf("unexpected email param %v", got.Parameters["email"])
	}
	period, ok := got.Parameters["date-period"].([]any)
	if !ok || len(period) != 1 {
		t.Fatalf("expected list date-period, got %#v", got.Parameters["date-period"])
	}

	if fd.lastReq.GetSession() != "projects/proj/agent/sessions/abc" {
		t.Fatalf("unexpected session %q", fd.lastReq.GetSession())
	}
	in := fd.lastReq.GetQueryInput().GetText()
	if in.GetText() != "find jane.doe@test.au" || in.GetLanguageCode() != "en-AU" {
		t.Fatalf("unexpected text input %+v", in)
	}
}

func TestDetectIntent_NoIntentIsFallback(t *testing.T) {
	fd := &fakeDetector{resp: &dialogflowpb.DetectIntentResponse{
		QueryResult: &dialogflowpb.QueryResult{FulfillmentText: "Sorry?"},
	}}
	d := newWithDetector(fd, Config{ProjectID: "proj", Logger: testLogger()})

	got, err := d.DetectIntent(context.Background(), "s", "hmm")
	if err != nil {
		t.Fatal(err)
	}
	if got.Intent != domain.FallbackIntent {
		t.Fatalf("expected fallback intent, got %q", got.Intent)
	}
	if got.Parameters == nil {
		t.Fatal("parameters must never be nil")
	}
	if fd.lastReq.GetQueryInput().GetText().GetLanguageCode() != defaultLanguageCode {
		t.Fatal("expected default language code")
	}
}

func TestDetectIntent_Errors(t *testing.T) {
	d := newWithDetector(&fakeDetector{err: errors.New("unavailable")}, Config{ProjectID: "p", Logger: testLogger()})
	if _, err := d.DetectIntent(context.Background(), "s", "hi"); !errors.Is(err, domain.ErrClassificationFailure) {
		t.Fatalf("expected ErrClassificationFailure, got %v", err)
	}

	d = newWithDetector(&fakeDetector{resp: &dialogflowpb.DetectIntentResponse{}}, Config{ProjectID: "p", Logger: testLogger()})
	if _, err := d.DetectIntent(context.Background(), "s", "hi"); !errors.Is(err, domain.ErrClassificationFailure) {
		t.Fatalf("expected ErrClassificationFailure for empty response, got %v", err)
	}

	fd := &fakeDetector{}
	d = newWithDetector(fd, Config{ProjectID: "p", Logger: testLogger()})
	if _, err := d.DetectIntent(context.Background(), "s", "   "); !errors.Is(err, domain.ErrClassificationFailure) {
		t.Fatalf("expected ErrClassificationFailure for blank text, got %v", err)
	}
	if fd.lastReq != nil {
		t.Fatal("blank text must not reach the agent")
	}
}

func TestDetectIntent_Timeout(t *testing.T) {
	d := newWithDetector(&fakeDetector{block: true}, Config{ProjectID: "p", Timeout: 20 * time.Millisecond, Logger: testLogger()})
	start := time.Now()
	if _, err := d.DetectIntent(context.Background(), "s", "hi"); !errors.Is(err, domain.ErrClassificationFailure) {
		t.Fatalf("expected ErrClassificationFailure, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not applied")
	}
}

func TestNewDialogflow_RequiresProject(t *testing.T) {
	if _, err := NewDialogflow(context.Background(), Config{}); err == nil {
		t.Fatal("expected error without project id")
	}
}
