package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/mapus/apubot/internal/config"
)

type recordingSender struct {
	bodies []string
	failOn map[int]bool
	ctxErr []error
}

func (s *recordingSender) Send(ctx context.Context, _ string, body string) error {
	index := len(s.bodies)
	s.bodies = append(s.bodies, body)
	s.ctxErr = append(s.ctxErr, ctx.Err())
	if s.failOn[index] {
		return errors.New("provider unavailable")
	}
	return nil
}

func TestSplit(t *testing.T) {
	for _, length := range []int{1, 1499, 1500, 1501, 3000, 3001, 4500} {
		body := strings.Repeat("a", length)
		chunks := Split(body, 1500)
		want := (length + 1499) / 1500
		if len(chunks) != want {
			t.Fatalf("Split(len=%d) chunks = %d, want %d", length, len(chunks), want)
		}
		if strings.Join(chunks, "") != body {
			t.Fatalf("Split(len=%d) does not concatenate back", length)
		}
		for _, chunk := range chunks {
			if len([]rune(chunk)) > 1500 {
				t.Fatalf("chunk longer than 1500: %d", len(chunk))
			}
		}
	}
}

func TestSplitCountsCharactersNotBytes(t *testing.T) {
	body := strings.Repeat("ñ📊", 5)
	chunks := Split(body, 4)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if chunks[0] != "ñ📊ñ📊" || strings.Join(chunks, "") != body {
		t.Fatalf("chunks = %#v", chunks)
	}
}

func TestDispatchShortBodySendsOnce(t *testing.T) {
	sender := &recordingSender{}
	var slept []time.Duration
	dispatcher := NewDispatcher(sender, discardLogger(), 1500, 2*time.Second, WithSleep(func(d time.Duration) { slept = append(slept, d) }))

	body := strings.Repeat("x", 1500)
	report := dispatcher.Dispatch(context.Background(), "whatsapp:+1", body)
	if report.Chunks != 1 || report.Failed != 0 {
		t.Fatalf("report = %#v", report)
	}
	if len(sender.bodies) != 1 || sender.bodies[0] != body {
		t.Fatalf("sent = %d bodies", len(sender.bodies))
	}
	if len(slept) != 0 {
		t.Fatalf("slept = %v", slept)
	}
}

func TestDispatchLongBodyChunksWithDelay(t *testing.T) {
	sender := &recordingSender{}
	var slept []time.Duration
	dispatcher := NewDispatcher(sender, discardLogger(), 1500, 2*time.Second, WithSleep(func(d time.Duration) { slept = append(slept, d) }))

	body := strings.Repeat("y", 4000)
	report := dispatcher.Dispatch(context.Background(), "whatsapp:+1", body)
	if report.Chunks != 3 {
		t.Fatalf("Chunks = %d, want 3", report.Chunks)
	}
	if strings.Join(sender.bodies, "") != body {
		t.Fatal("sent chunks do not concatenate to the body")
	}
	if len(slept) != 2 || slept[0] != 2*time.Second {
		t.Fatalf("slept = %v, want two 2s pauses", slept)
	}
}

func TestDispatchContinuesAfterFailureAndIgnoresCancellation(t *testing.T) {
	sender := &recordingSender{failOn: map[int]bool{0: true}}
	dispatcher := NewDispatcher(sender, discardLogger(), 10, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := dispatcher.Dispatch(ctx, "whatsapp:+1", strings.Repeat("z", 25))
	if report.Chunks != 3 || report.Failed != 1 {
		t.Fatalf("report = %#v", report)
	}
	if len(sender.bodies) != 3 {
		t.Fatalf("sent = %d, want 3", len(sender.bodies))
	}
	for i, err := range sender.ctxErr {
		if err != nil {
			t.Fatalf("send %d saw cancelled context: %v", i, err)
		}
	}
}

type fakeCreator struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &twilioApi.ApiV2010Message{}, nil
}

func TestTwilioSenderBuildsMessage(t *testing.T) {
	creator := &fakeCreator{}
	sender := &TwilioSender{api: creator, from: "whatsapp:+14155238886"}

	if err := sender.Send(context.Background(), "whatsapp:+573001", "Hola"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(creator.params) != 1 {
		t.Fatalf("calls = %d", len(creator.params))
	}
	params := creator.params[0]
	if *params.To != "whatsapp:+573001" || *params.From != "whatsapp:+14155238886" || *params.Body != "Hola" {
		t.Fatalf("params To=%q From=%q Body=%q", *params.To, *params.From, *params.Body)
	}
}

func TestTwilioSenderWrapsError(t *testing.T) {
	down := errors.New("status 500")
	sender := &TwilioSender{api: &fakeCreator{err: down}, from: "whatsapp:+1"}
	if err := sender.Send(context.Background(), "whatsapp:+2", "x"); !errors.Is(err, down) {
		t.Fatalf("Send() error = %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewTwilioSenderValidatesConfig(t *testing.T) {
	if _, err := NewTwilioSender(config.TwilioConfig{AuthToken: "t", From: "whatsapp:+1"}); err == nil {
		t.Fatal("expected missing sid error")
	}
	if _, err := NewTwilioSender(config.TwilioConfig{AccountSID: "AC1", AuthToken: "t"}); err == nil {
		t.Fatal("expected missing sender error")
	}
	sender, err := NewTwilioSender(config.TwilioConfig{AccountSID: "AC1", AuthToken: "t", From: " whatsapp:+1 "})
	if err != nil {
		t.Fatalf("NewTwilioSender() error = %v", err)
	}
	if sender.from != "whatsapp:+1" {
		t.Fatalf("from = %q", sender.from)
	}
}
