package realtime

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomcast/internal/chat"
)

func TestAggregateGroupsByEmoji(t *testing.T) {
	agg := Aggregate([]chat.Reaction{
		{UserID: 1, DisplayName: "Ann", Emoji: "👍"},
		{UserID: 2, DisplayName: "Bob", Emoji: "🎉"},
		{UserID: 2, DisplayName: "Bob", Emoji: "👍"},
	})

	assert.Equal(t, ReactionAggregate{
		"👍": {Count: 2, Users: []string{"Ann", "Bob"}},
		"🎉": {Count: 1, Users: []string{"Bob"}},
	}, agg)

	raw, err := json.Marshal(agg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"👍":{"count":2,"users":["Ann","Bob"]},"🎉":{"count":1,"users":["Bob"]}}`, string(raw))
}

func TestAggregateEmpty(t *testing.T) {
	raw, err := json.Marshal(Aggregate(nil))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(42)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, k.size())
}
