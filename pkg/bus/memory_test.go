package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus(t *testing.T) {
	t.Run("fans events out to every subscriber", func(t *testing.T) {
		b := NewMemoryBus()
		defer b.Close()

		var got1, got2 []Event
		_, err := b.Subscribe(context.Background(), func(evt Event) { got1 = append(got1, evt) })
		require.NoError(t, err)
		_, err = b.Subscribe(context.Background(), func(evt Event) { got2 = append(got2, evt) })
		require.NoError(t, err)

		evt := Event{
			Type:    EventPluginInstalled,
			Payload: Payload{PluginID: "demo", PluginPath: "/plugins/demo"},
			Source:  "replica-a",
		}
		require.NoError(t, b.Publish(context.Background(), evt))

		assert.Equal(t, []Event{evt}, got1)
		assert.Equal(t, []Event{evt}, got2)
	})

	t.Run("cancel stops delivery", func(t *testing.T) {
		b := NewMemoryBus()
		defer b.Close()

		var got []Event
		cancel, err := b.Subscribe(context.Background(), func(evt Event) { got = append(got, evt) })
		require.NoError(t, err)
		cancel()

		require.NoError(t, b.Publish(context.Background(), Event{Type: EventPluginUninstalled}))
		assert.Empty(t, got)
	})

	t.Run("closed bus refuses operations", func(t *testing.T) {
		b := NewMemoryBus()
		require.NoError(t, b.Close())

		assert.ErrorIs(t, b.Publish(context.Background(), Event{}), ErrBusClosed)
		_, err := b.Subscribe(context.Background(), func(Event) {})
		assert.ErrorIs(t, err, ErrBusClosed)
	})
}
