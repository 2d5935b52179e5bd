//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_PubSub(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()
	logger := slog.Default()

	client, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	received := make(chan TurnCompleted, 1)

	err = client.Subscribe(SubjectTurnCompleted, func(subject string, data []byte) {
		var msg TurnCompleted
		json.Unmarshal(data, &msg)
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Give subscription time to propagate
	time.Sleep(100 * time.Millisecond)

	err = client.Publish(SubjectTurnCompleted, TurnCompleted{
		SessionID: "integration",
		Reply:     "What does a normal week look like?",
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.SessionID != "integration" {
			t.Errorf("expected integration session, got %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestIntegration_QueueSubscribeRunsHandlersConcurrently(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	logger := slog.Default()

	client, err := NewClient(context.Background(), natsURL, os.Getenv("NATS_TOKEN"), logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	subject := "diagnostician.test.queue." + time.Now().Format("150405.000000")
	release := make(chan struct{})
	var started, finished atomic.Int32
	err = client.QueueSubscribe(subject, QueueGroup, func(string, []byte) {
		started.Add(1)
		<-release
		finished.Add(1)
	})
	if err != nil {
		t.Fatalf("queue subscribe failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := client.Publish(subject, TurnRequested{SessionID: "s", Message: "hi"}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for started.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if started.Load() != 3 {
		t.Fatalf("expected 3 handlers running at once, got %d", started.Load())
	}

	close(release)
	client.Close()
	if finished.Load() != 3 {
		t.Errorf("close returned before handlers finished: %d", finished.Load())
	}
}
