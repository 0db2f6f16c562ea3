package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesSubscribers(t *testing.T) {
	bus := NewBus()

	var got []*Event
	bus.Subscribe(PriceUpdated, func(e *Event) { got = append(got, e) })

	bus.Publish(PriceUpdated, PriceUpdatedData{ContractID: "stx"})
	bus.Publish(TxIndexed, nil) // different type, not delivered

	require.Len(t, got, 1)
	assert.Equal(t, PriceUpdated, got[0].Type)
	assert.False(t, got[0].Timestamp.IsZero())

	data, ok := got[0].Data.(PriceUpdatedData)
	require.True(t, ok)
	assert.Equal(t, "stx", data.ContractID)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	var count int
	unsubscribe := bus.Subscribe(AlertTriggered, func(*Event) { count++ })

	bus.Publish(AlertTriggered, nil)
	unsubscribe()
	bus.Publish(AlertTriggered, nil)

	assert.Equal(t, 1, count)
}

func TestBus_SubscribeAllCoversEveryType(t *testing.T) {
	bus := NewBus()

	seen := make(map[EventType]int)
	unsubscribe := bus.SubscribeAll([]EventType{TxIndexed, WalletSynced}, func(e *Event) {
		seen[e.Type]++
	})

	bus.Publish(TxIndexed, nil)
	bus.Publish(WalletSynced, nil)
	assert.Equal(t, map[EventType]int{TxIndexed: 1, WalletSynced: 1}, seen)

	unsubscribe()
	bus.Publish(TxIndexed, nil)
	assert.Equal(t, 1, seen[TxIndexed])
}
