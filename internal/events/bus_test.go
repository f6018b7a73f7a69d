package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fentz26/rwclient/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewBus(logger)
}

func TestSubscribe_ReceivesInOrder(t *testing.T) {
	b := newTestBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(SessionOnline{})
	b.Publish(QueueChanged{Size: 3})

	first := <-ch
	second := <-ch
	assert.Equal(t, KindSessionOnline, first.Kind)
	assert.Equal(t, KindQueueChanged, second.Kind)
	assert.Less(t, first.Seq, second.Seq)
	assert.Equal(t, QueueChanged{Size: 3}, second.Payload)
	assert.NotEmpty(t, first.ID)
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	b := newTestBus()
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic.
	b.Publish(SessionOffline{})
}

func TestPublish_DropsWhenSubscriberFull(t *testing.T) {
	b := newTestBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberCap+10; i++ {
			b.Publish(HeartbeatSent{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberCap)
}

func TestHandle_FiltersByKind(t *testing.T) {
	b := newTestBus()
	var got []Kind
	unregister := b.Handle(func(m Message) { got = append(got, m.Kind) }, KindSessionOffline, KindStateChanged)

	b.Publish(SessionOnline{})
	b.Publish(SessionOffline{})
	b.Publish(StateChanged{From: models.StateOnLine, To: models.StateOffLine})
	unregister()
	b.Publish(SessionOffline{})

	assert.Equal(t, []Kind{KindSessionOffline, KindStateChanged}, got)
}

func TestHandle_AllKinds(t *testing.T) {
	b := newTestBus()
	count := 0
	b.Handle(func(Message) { count++ })

	b.Publish(SessionOnline{})
	b.Publish(UserMessage{Message: "hi"})
	assert.Equal(t, 2, count)
}

func TestMessage_JSON(t *testing.T) {
	b := newTestBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(StreamMetadataUpdated{CurrentAssetID: 5, PreviousAssetID: -1, Title: "Asset: 5 (3.00s)"})
	msg := <-ch

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded struct {
		Kind    string                 `json:"kind"`
		Payload map[string]interface{} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "stream.metadata", decoded.Kind)
	assert.Equal(t, float64(5), decoded.Payload["current_asset_id"])
}
