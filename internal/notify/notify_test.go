package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBrokerFansOutToSubscribers(t *testing.T) {
	broker := NewBroker()

	first, cancelFirst := broker.Subscribe()
	second, cancelSecond := broker.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	broker.Publish(TaskCreated, "payload")

	for _, ch := range []<-chan Event{first, second} {
		event := <-ch
		require.Equal(t, TaskCreated, event.Name)
		require.Equal(t, "payload", event.Payload)
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	broker := NewBroker()

	ch, cancel := broker.Subscribe()
	defer cancel()

	// Overfill: the extra publishes must not block.
	for i := 0; i < subscriberBuffer+5; i++ {
		broker.Publish(TaskUpdated, i)
	}

	require.Len(t, ch, subscriberBuffer)
}

func TestCanceledSubscriberStopsReceiving(t *testing.T) {
	broker := NewBroker()

	ch, cancel := broker.Subscribe()
	cancel()

	broker.Publish(TaskDeleted, "id")
	require.Empty(t, ch)
}

func TestMultiPublishesToAllSinks(t *testing.T) {
	broker := NewBroker()
	ch, cancel := broker.Subscribe()
	defer cancel()

	var captured []string
	fn := sinkFunc(func(event string, _ any) { captured = append(captured, event) })

	Multi{broker, fn}.Publish(TasksAged, nil)

	require.Equal(t, []string{TasksAged}, captured)
	require.Len(t, ch, 1)
}

type sinkFunc func(event string, payload any)

func (f sinkFunc) Publish(event string, payload any) { f(event, payload) }
