package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/casavista/listing-tile-cache/internal/invalidation"
)

type fakeIndex struct {
	keys []string
	err  error
}

func (f *fakeIndex) KeysForPoint(_ context.Context, _, _ float64) ([]string, error) {
	return f.keys, f.err
}

type fakeDropper struct {
	mu      sync.Mutex
	dropped []string
	err     error
}

func (f *fakeDropper) Drop(_ context.Context, keys ...string) error {
	f.mu.Lock()
	f.dropped = append(f.dropped, keys...)
	f.mu.Unlock()
	return f.err
}

func msgFor(t *testing.T, ev invalidation.Event) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: "listing-changes", Value: raw}
}

func testEvent() invalidation.Event {
	return invalidation.Event{
		Version:   1,
		Op:        "update",
		ListingID: "lst-1",
		Lat:       19.43,
		Lng:       -99.13,
		TS:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestProcessOneDropsIndexedKeys(t *testing.T) {
	idx := &fakeIndex{keys: []string{"tile:v1:a", "tile:v1:b"}}
	drop := &fakeDropper{}
	c := New(Config{}, nil, idx, drop)

	if err := c.ProcessOne(context.Background(), msgFor(t, testEvent())); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(drop.dropped) != 2 {
		t.Fatalf("dropped=%v want 2 keys", drop.dropped)
	}
}

func TestProcessOneSkipsMalformed(t *testing.T) {
	drop := &fakeDropper{}
	c := New(Config{}, nil, &fakeIndex{}, drop)

	msg := &sarama.ConsumerMessage{Value: []byte("{not json")}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("malformed message must be skipped, got %v", err)
	}

	bad := testEvent()
	bad.Op = "upsert"
	if err := c.ProcessOne(context.Background(), msgFor(t, bad)); err != nil {
		t.Fatalf("invalid event must be skipped, got %v", err)
	}
	if len(drop.dropped) != 0 {
		t.Fatalf("dropped=%v want none", drop.dropped)
	}
}

func TestProcessOneNoIndexedTiles(t *testing.T) {
	drop := &fakeDropper{}
	c := New(Config{}, nil, &fakeIndex{}, drop)

	if err := c.ProcessOne(context.Background(), msgFor(t, testEvent())); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(drop.dropped) != 0 {
		t.Fatalf("dropped=%v want none", drop.dropped)
	}
}

func TestProcessOneReturnsDropError(t *testing.T) {
	idx := &fakeIndex{keys: []string{"tile:v1:a"}}
	drop := &fakeDropper{err: errors.New("redis down")}
	c := New(Config{}, nil, idx, drop)

	if err := c.ProcessOne(context.Background(), msgFor(t, testEvent())); err == nil {
		t.Fatal("expected error so the message is retried")
	}
}

func TestProcessOneReturnsLookupError(t *testing.T) {
	idx := &fakeIndex{err: errors.New("h3 failure")}
	c := New(Config{}, nil, idx, &fakeDropper{})

	if err := c.ProcessOne(context.Background(), msgFor(t, testEvent())); err == nil {
		t.Fatal("expected error on index lookup failure")
	}
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked int
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(_ *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked++
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Commit()                                          {}

type claim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "listing-changes" }
func (c *claim) Partition() int32                         { return 0 }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func TestConsumeClaimMarksProcessedMessages(t *testing.T) {
	idx := &fakeIndex{keys: []string{"tile:v1:a"}}
	drop := &fakeDropper{}
	c := New(Config{}, nil, idx, drop)
	h := &groupHandler{process: c.ProcessOne}

	cl := &claim{msgs: make(chan *sarama.ConsumerMessage, 2)}
	cl.msgs <- msgFor(t, testEvent())
	cl.msgs <- msgFor(t, testEvent())
	close(cl.msgs)

	s := &sess{ctx: context.Background()}
	if err := h.ConsumeClaim(s, cl); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if s.marked != 2 {
		t.Fatalf("marked=%d want 2", s.marked)
	}
}
