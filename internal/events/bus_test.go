package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sarfarazstark/audiophile/internal/events"
	"github.com/sarfarazstark/audiophile/internal/store"
)

type memStore struct {
	inserted []store.DomainEvent
	err      error
}

func (m *memStore) InsertDomainEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload []byte) (store.DomainEvent, error) {
	if m.err != nil {
		return store.DomainEvent{}, m.err
	}
	ev := store.DomainEvent{ID: uuid.New(), Topic: topic, AggregateID: aggregateID, Payload: payload, OccurredAt: time.Now()}
	m.inserted = append(m.inserted, ev)
	return ev, nil
}

type recordingNotifier struct {
	seen []store.DomainEvent
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, event store.DomainEvent) error {
	n.seen = append(n.seen, event)
	return n.err
}

func TestEmitPersistsAndNotifies(t *testing.T) {
	ms := &memStore{}
	notifier := &recordingNotifier{}
	bus := &events.Bus{Store: ms, Notifiers: []events.Notifier{notifier}}

	aggregate := uuid.New()
	ev, err := bus.Emit(context.Background(), events.TopicOrderPaid, aggregate, map[string]any{"total": 126000})
	require.NoError(t, err)
	require.Equal(t, events.TopicOrderPaid, ev.Topic)
	require.Len(t, ms.inserted, 1)
	require.Len(t, notifier.seen, 1)
	require.JSONEq(t, `{"total":126000}`, string(ev.Payload))
}

func TestEmitValidation(t *testing.T) {
	bus := &events.Bus{Store: &memStore{}}

	_, err := bus.Emit(context.Background(), "  ", uuid.New(), nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicOrderPaid, uuid.Nil, nil)
	require.Error(t, err)
}

func TestEmitCollectsNotifierErrors(t *testing.T) {
	ms := &memStore{}
	failing := &recordingNotifier{err: errors.New("smtp down")}
	bus := &events.Bus{Store: ms, Notifiers: []events.Notifier{failing}}

	_, err := bus.Emit(context.Background(), events.TopicPaymentFailed, uuid.New(), nil)
	require.Error(t, err)
	require.Len(t, ms.inserted, 1, "event must persist even when a notifier fails")
}
