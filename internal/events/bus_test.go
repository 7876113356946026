package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(id string, t Type) Event {
	return Event{ID: id, Type: t, JobID: "j1", OccurredAt: time.Now().UTC()}
}

func TestLocalBus_TypeAndWildcardDelivery(t *testing.T) {
	bus := NewLocalBus()

	var typed, everything []string
	bus.Subscribe(OfferAccepted, func(_ context.Context, ev Event) {
		typed = append(typed, ev.ID)
	})
	bus.Subscribe(Wildcard, func(_ context.Context, ev Event) {
		everything = append(everything, ev.ID)
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent("e1", OfferAccepted)))
	require.NoError(t, bus.Publish(context.Background(), testEvent("e2", JobCreated)))

	assert.Equal(t, []string{"e1"}, typed)
	assert.Equal(t, []string{"e1", "e2"}, everything)
}

func TestLocalBus_NoSubscribersIsFine(t *testing.T) {
	bus := NewLocalBus()
	assert.NoError(t, bus.Publish(context.Background(), testEvent("e1", SlaWarning)))
}

func TestLocalBus_HandlerPanicDoesNotStarveSiblings(t *testing.T) {
	bus := NewLocalBus()

	bus.Subscribe(JobCreated, func(_ context.Context, _ Event) {
		panic("subscriber bug")
	})
	var got []string
	bus.Subscribe(JobCreated, func(_ context.Context, ev Event) {
		got = append(got, ev.ID)
	})

	require.NoError(t, bus.Publish(context.Background(), testEvent("e1", JobCreated)))
	assert.Equal(t, []string{"e1"}, got, "later subscribers still receive the event")
}

// ---- outbox relay ----

type fakeOutbox struct {
	rows      []OutboxRow
	published []int64
}

func (f *fakeOutbox) ListPendingOutbox(_ context.Context, limit int) ([]OutboxRow, error) {
	if len(f.rows) > limit {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func (f *fakeOutbox) MarkOutboxPublished(_ context.Context, seqs []int64) error {
	f.published = append(f.published, seqs...)
	remaining := f.rows[:0]
	retired := map[int64]bool{}
	for _, s := range seqs {
		retired[s] = true
	}
	for _, r := range f.rows {
		if !retired[r.Seq] {
			remaining = append(remaining, r)
		}
	}
	f.rows = remaining
	return nil
}

type failAfterBus struct {
	*LocalBus
	failFrom string
}

func (b *failAfterBus) Publish(ctx context.Context, ev Event) error {
	if ev.ID == b.failFrom {
		return assert.AnError
	}
	return b.LocalBus.Publish(ctx, ev)
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRelay_DrainPublishesAndRetires(t *testing.T) {
	outbox := &fakeOutbox{rows: []OutboxRow{
		{Seq: 1, Event: testEvent("e1", JobCreated)},
		{Seq: 2, Event: testEvent("e2", OfferCreated)},
	}}
	bus := NewLocalBus()
	var got []string
	bus.Subscribe(Wildcard, func(_ context.Context, ev Event) { got = append(got, ev.ID) })

	relay := NewRelay(outbox, bus, time.Second, 100, discardLog())
	n, err := relay.DrainOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"e1", "e2"}, got)
	assert.Empty(t, outbox.rows)

	// idle drain is a no-op
	n, err = relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRelay_StopsAtFirstFailureToKeepOrder(t *testing.T) {
	outbox := &fakeOutbox{rows: []OutboxRow{
		{Seq: 1, Event: testEvent("e1", JobCreated)},
		{Seq: 2, Event: testEvent("e2", OfferCreated)},
		{Seq: 3, Event: testEvent("e3", OfferAccepted)},
	}}
	bus := &failAfterBus{LocalBus: NewLocalBus(), failFrom: "e2"}

	relay := NewRelay(outbox, bus, time.Second, 100, discardLog())
	n, err := relay.DrainOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	require.Len(t, outbox.rows, 2, "e2 and e3 stay pending for the next drain")
	assert.Equal(t, int64(2), outbox.rows[0].Seq)
}
