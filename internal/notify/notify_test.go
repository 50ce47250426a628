package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"karavan/internal/events"
	"karavan/internal/models"

	"github.com/alicebob/miniredis/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisNotifier_PushesEvent(t *testing.T) {
	mr, client := testRedis(t)
	n := NewRedisNotifier(client, "imports:events")

	event := RunEvent{
		JobID:         "job-1",
		JobName:       "nightly import",
		ExecutionID:   "exec-1",
		Status:        string(models.ExecutionCompleted),
		ItemsImported: 9,
		ItemsFailed:   1,
		FinishedAt:    time.Now(),
	}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}

	raw, err := mr.Lpop("imports:events")
	if err != nil {
		t.Fatalf("lpop: %v", err)
	}

	var got RunEvent
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.JobID != "job-1" || got.ItemsImported != 9 {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestRedisNotifier_DefaultKey(t *testing.T) {
	mr, client := testRedis(t)
	n := NewRedisNotifier(client, "")

	if err := n.Notify(context.Background(), RunEvent{JobID: "job-1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !mr.Exists("imports:events") {
		t.Error("event not pushed to default key")
	}
}

func TestRegister_FansOutToAllNotifiers(t *testing.T) {
	bus := events.NewEventBus()
	logger := zerolog.Nop()

	var first, second []RunEvent
	Register(bus, &logger,
		notifierFunc(func(_ context.Context, e RunEvent) error {
			first = append(first, e)
			return nil
		}),
		notifierFunc(func(_ context.Context, e RunEvent) error {
			second = append(second, e)
			return errors.New("send failed")
		}),
	)

	payload := RunEvent{JobID: "job-1", Status: string(models.ExecutionFailed), Error: "boom"}
	if err := bus.PublishJSON(EventRunFailed, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("deliveries = %d/%d, want 1/1", len(first), len(second))
	}
	if first[0].Error != "boom" {
		t.Errorf("payload error = %q, want boom", first[0].Error)
	}
}

type notifierFunc func(ctx context.Context, event RunEvent) error

func (f notifierFunc) Notify(ctx context.Context, event RunEvent) error {
	return f(ctx, event)
}

type fakeSender struct {
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramNotifier_FormatsSummary(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifier(sender, 42)

	event := RunEvent{
		JobName:        "nightly import",
		Status:         string(models.ExecutionCompleted),
		ItemsProcessed: 10,
		ItemsImported:  9,
		ItemsFailed:    1,
	}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected message type %T", sender.sent[0])
	}
	if msg.ChatID != 42 {
		t.Errorf("chat id = %d, want 42", msg.ChatID)
	}
	for _, want := range []string{"nightly import", "Imported: 9", "Failed: 1"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message %q missing %q", msg.Text, want)
		}
	}
}

func TestTelegramNotifier_FailureMessage(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifier(sender, 42)

	event := RunEvent{
		JobName: "nightly import",
		Status:  string(models.ExecutionFailed),
		Error:   "too many redirects",
	}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}

	msg := sender.sent[0].(tgbotapi.MessageConfig)
	if !strings.Contains(msg.Text, "too many redirects") {
		t.Errorf("failure message %q missing cause", msg.Text)
	}
}
