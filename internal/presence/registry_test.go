package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldvault/broker/internal/model"
)

func TestRegistry_AddAndSnapshot(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Add("lobby", "alice"))
	require.NoError(t, r.Add("lobby", "bob"))
	require.NoError(t, r.Add("other", "alice"))

	assert.Equal(t, []string{"alice", "bob"}, r.Snapshot("lobby"))
	assert.Equal(t, []string{"alice"}, r.Snapshot("other"))
	assert.Equal(t, []string{}, r.Snapshot("empty"))
	assert.Equal(t, []string{"lobby", "other"}, r.Rooms())
}

func TestRegistry_AddRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add("lobby", "alice"))

	err := r.Add("lobby", "alice")
	assert.ErrorIs(t, err, model.ErrNameTaken)
	assert.Equal(t, []string{"alice"}, r.Snapshot("lobby"))

	// Comparison is case-sensitive
	assert.NoError(t, r.Add("lobby", "Alice"))
	assert.Equal(t, 2, r.Count("lobby"))
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add("lobby", "alice"))
	require.NoError(t, r.Add("lobby", "bob"))

	assert.True(t, r.Remove("lobby", "alice"))
	assert.False(t, r.Remove("lobby", "alice"))
	assert.Equal(t, []string{"bob"}, r.Snapshot("lobby"))

	assert.True(t, r.Remove("lobby", "bob"))
	assert.Empty(t, r.Rooms())

	// A removed name can join again
	assert.NoError(t, r.Add("lobby", "alice"))
	assert.True(t, r.Contains("lobby", "alice"))
}

func TestRegistry_ConcurrentAddOneWinner(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Add("lobby", "same"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, []string{"same"}, r.Snapshot("lobby"))
}

// Names in a room stay unique whatever sequence of adds is attempted.
func TestRegistryUniquenessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("snapshot never contains duplicates", prop.ForAll(
		func(ids []int) bool {
			r := NewRegistry()
			accepted := make(map[string]bool)
			for _, id := range ids {
				name := fmt.Sprintf("user-%d", id)
				err := r.Add("room", name)
				if accepted[name] != (err != nil) {
					return false
				}
				accepted[name] = true
			}

			seen := make(map[string]bool)
			for _, name := range r.Snapshot("room") {
				if seen[name] {
					return false
				}
				seen[name] = true
			}
			return len(seen) == len(accepted)
		},
		gen.SliceOf(gen.IntRange(0, 8)),
	))

	properties.TestingRun(t)
}
