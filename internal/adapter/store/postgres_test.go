package store

import (
	"context"
	"os"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viveksaraswat123/medical-chatbot/internal/adapter/store/migrations"
	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_chats.up.sql":   {Data: []byte("--")},
		"001_init.up.sql":    {Data: []byte("--")},
		"001_init.down.sql":  {Data: []byte("--")},
		"README.md":          {Data: []byte("--")},
		"notnumbered.up.sql": {Data: []byte("--")},
	}

	versions, names, err := pendingMigrations(fsys, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)
	assert.Equal(t, []string{"001_init.up.sql", "002_chats.up.sql"}, names)

	versions, _, err = pendingMigrations(fsys, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, versions)
}

func TestEmbeddedMigrations(t *testing.T) {
	versions, names, err := pendingMigrations(migrations.FS, 0)
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, 1, versions[0])
}

// newTestPostgres connects to MEDIBOT_TEST_DATABASE_URL or skips.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("MEDIBOT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MEDIBOT_TEST_DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), url, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStore_Conversation(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, &domain.User{Email: t.Name() + "@example.com", Name: "Test", PasswordHash: "x"})
	require.NoError(t, err)
	t.Cleanup(func() { s.DB().Exec(`DELETE FROM users WHERE id = $1`, user.ID) })

	testConversationStore(t, s, func(t *testing.T) string {
		c, err := s.CreateChat(ctx, user.ID)
		require.NoError(t, err)
		return c.ID
	})
}

func TestPostgresStore_UsersAndChats(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()

	email := "Chats-" + t.Name() + "@Example.com"
	user, err := s.CreateUser(ctx, &domain.User{Email: email, Name: "Ana", PasswordHash: "hash"})
	require.NoError(t, err)
	t.Cleanup(func() { s.DB().Exec(`DELETE FROM users WHERE id = $1`, user.ID) })

	_, err = s.CreateUser(ctx, &domain.User{Email: email, PasswordHash: "hash"})
	assert.ErrorIs(t, err, port.ErrEmailTaken)

	byEmail, err := s.GetUserByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	chat, err := s.CreateChat(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultChatTitle, chat.Title)

	_, err = s.GetChat(ctx, "someone-else", chat.ID)
	assert.ErrorIs(t, err, port.ErrChatNotFound)

	chats, err := s.ListChats(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, chats, 1)

	require.NoError(t, s.DeleteChat(ctx, user.ID, chat.ID))
	assert.ErrorIs(t, s.DeleteChat(ctx, user.ID, chat.ID), port.ErrChatNotFound)
	assert.ErrorIs(t, s.Append(ctx, chat.ID, domain.RoleUser, "x"), port.ErrConversationNotFound)
}
