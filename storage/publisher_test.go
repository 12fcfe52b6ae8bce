package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/molliey/taskboard/domain"
)

func TestPublishDeliversEventEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	sub := client.Subscribe(ctx, "board-events")
	t.Cleanup(func() { sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p := NewPublisher(client, "board-events")
	ev := domain.Event{
		Type:      domain.EventTaskMoved,
		ProjectID: "p1",
		Seq:       42,
		Actor:     "u1",
		TaskID:    "T1",
	}
	if err := p.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var envelope eventEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if envelope.Type != domain.EventTaskMoved {
			t.Fatalf("type = %s, want %s", envelope.Type, domain.EventTaskMoved)
		}
		if envelope.Event.ProjectID != "p1" || envelope.Event.Seq != 42 || envelope.Event.TaskID != "T1" {
			t.Fatalf("event = %+v", envelope.Event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message on the channel")
	}
}
