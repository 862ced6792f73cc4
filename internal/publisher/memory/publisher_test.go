package memory

import (
	"context"
	"testing"
	"time"

	"github.com/AparnaKarve/aiops-data-collector/internal/collector"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	delivery := collector.Delivery{
		JobID:       "job-1",
		Destination: "next:8000",
		Timestamp:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	id1, err := pub.Publish(context.Background(), "deliveries", delivery)
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "deliveries" || msgs[1].Topic != "audit" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}
	want := `{"job_id":"job-1","destination":"next:8000","timestamp":"2024-03-01T12:00:00Z"}`
	if string(msgs[0].Data) != want {
		t.Fatalf("unexpected encoded payload %s", msgs[0].Data)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	if _, err := pub.Publish(context.Background(), "t", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if len(pub.Messages()) != 0 {
		t.Fatal("expected nothing recorded")
	}
}
