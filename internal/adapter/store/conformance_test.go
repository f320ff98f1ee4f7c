package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// testConversationStore runs the behaviour every ConversationStore shares.
// newID returns a conversation id the store accepts.
func testConversationStore(t *testing.T, s port.ConversationStore, newID func(t *testing.T) string) {
	ctx := context.Background()

	t.Run("append and read in order", func(t *testing.T) {
		id := newID(t)
		require.NoError(t, s.Append(ctx, id, domain.RoleUser, "What is asthma?"))
		require.NoError(t, s.Append(ctx, id, domain.RoleAssistant, "Asthma is a chronic airway condition."))
		require.NoError(t, s.Append(ctx, id, domain.RoleUser, "What is asthma?"))

		turns, err := s.Turns(ctx, id)
		require.NoError(t, err)
		require.Len(t, turns, 3, "duplicates are kept")
		assert.Equal(t, domain.RoleUser, turns[0].Role)
		assert.Equal(t, domain.RoleAssistant, turns[1].Role)
		assert.Equal(t, "What is asthma?", turns[2].Content)
	})

	t.Run("conversations are isolated", func(t *testing.T) {
		a, b := newID(t), newID(t)
		require.NoError(t, s.Append(ctx, a, domain.RoleUser, "a"))

		turns, err := s.Turns(ctx, b)
		require.NoError(t, err)
		assert.Empty(t, turns)
	})

	t.Run("title is set once", func(t *testing.T) {
		id := newID(t)
		title, err := s.Title(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, title)

		got, err := s.SetTitleIfEmpty(ctx, id, "Asthma Basics")
		require.NoError(t, err)
		assert.Equal(t, "Asthma Basics", got)

		got, err = s.SetTitleIfEmpty(ctx, id, "Something Else")
		require.NoError(t, err)
		assert.Equal(t, "Asthma Basics", got)

		title, err = s.Title(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Asthma Basics", title)
	})

	t.Run("delete clears turns and title", func(t *testing.T) {
		id := newID(t)
		require.NoError(t, s.Append(ctx, id, domain.RoleUser, "hello"))
		_, err := s.SetTitleIfEmpty(ctx, id, "Greeting")
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, id))

		turns, err := s.Turns(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, turns)
		title, err := s.Title(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, title)
	})

	t.Run("concurrent appends are all kept", func(t *testing.T) {
		id := newID(t)
		const writers, perWriter = 8, 10

		var wg sync.WaitGroup
		for w := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range perWriter {
					assert.NoError(t, s.Append(ctx, id, domain.RoleUser, fmt.Sprintf("w%d-%d", w, i)))
				}
			}()
		}
		wg.Wait()

		turns, err := s.Turns(ctx, id)
		require.NoError(t, err)
		require.Len(t, turns, writers*perWriter)

		// Each writer's turns stay in its own program order.
		next := make(map[int]int)
		for _, turn := range turns {
			var w, i int
			_, err := fmt.Sscanf(turn.Content, "w%d-%d", &w, &i)
			require.NoError(t, err)
			assert.Equal(t, next[w], i)
			next[w] = i + 1
		}
	})

	t.Run("turn pairs stay adjacent", func(t *testing.T) {
		id := newID(t)
		const writers = 6

		var wg sync.WaitGroup
		for w := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.AppendTurns(ctx, id,
					domain.Turn{Role: domain.RoleUser, Content: fmt.Sprintf("q%d", w)},
					domain.Turn{Role: domain.RoleAssistant, Content: fmt.Sprintf("a%d", w)},
				))
			}()
		}
		wg.Wait()

		turns, err := s.Turns(ctx, id)
		require.NoError(t, err)
		require.Len(t, turns, 2*writers)
		for i := 0; i < len(turns); i += 2 {
			assert.Equal(t, domain.RoleUser, turns[i].Role)
			assert.Equal(t, domain.RoleAssistant, turns[i+1].Role)
			assert.Equal(t, "a"+turns[i].Content[1:], turns[i+1].Content)
			assert.False(t, turns[i].CreatedAt.IsZero())
		}
	})
}
