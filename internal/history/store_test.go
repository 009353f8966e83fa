package history

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"MultiChat/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type tickingClock struct {
	t time.Time
}

func (c *tickingClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	clock := &tickingClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := New(filepath.Join(t.TempDir(), "data", "chat_history.db"), WithClock(clock.Now))
	require.NoError(t, store.Init(context.Background()))
	return store
}

func TestInitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddMessage(ctx, "s1", session.RoleUser, "hi", "", "")
	require.NoError(t, err)

	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Init(ctx))

	msgs, err := store.LoadChat(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestInitCreatesIndexes(t *testing.T) {
	store := newTestStore(t)

	db, err := store.open()
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'messages'")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())

	assert.ElementsMatch(t, []string{
		"idx_messages_session_id",
		"idx_messages_timestamp",
		"idx_messages_session_timestamp",
	}, names)
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "short", content: "Hello, how are you?", want: "Hello, how are you?"},
		{name: "exactly thirty", content: strings.Repeat("a", 30), want: strings.Repeat("a", 30)},
		{name: "thirty one", content: strings.Repeat("a", 31), want: strings.Repeat("a", 30) + "..."},
		{name: "multibyte counted as characters", content: strings.Repeat("你", 31), want: strings.Repeat("你", 30) + "..."},
		{name: "empty", content: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.content))
		})
	}
}

func TestAddMessageTitles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddMessage(ctx, "s1", session.RoleUser, "Hello, how are you?", "", "")
	require.NoError(t, err)

	long := "This message is exactly fifty characters long!!!!!"
	require.Len(t, long, 50)
	_, err = store.AddMessage(ctx, "s2", session.RoleUser, long, "", "")
	require.NoError(t, err)

	_, err = store.AddMessage(ctx, "s3", session.RoleAssistant, "I speak first", "p", "m")
	require.NoError(t, err)

	s1, err := store.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Hello, how are you?", s1.Title)

	s2, err := store.Session(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, long[:30]+"...", s2.Title)

	s3, err := store.Session(ctx, "s3")
	require.NoError(t, err)
	assert.Equal(t, PlaceholderTitle, s3.Title)
}

func TestAddMessageKeepsFirstTitleAndBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddMessage(ctx, "s1", session.RoleUser, "first question", "", "")
	require.NoError(t, err)
	before, err := store.Session(ctx, "s1")
	require.NoError(t, err)

	_, err = store.AddMessage(ctx, "s1", session.RoleAssistant, "answer", "p", "m")
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, "s1", session.RoleUser, "second question", "", "")
	require.NoError(t, err)

	after, err := store.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "first question", after.Title)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.Equal(t, 3, after.MessageCount)

	all, err := store.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAddMessageRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddMessage(ctx, "s1", session.Role("tool"), "x", "", "")
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = store.AddMessage(ctx, "", session.RoleUser, "x", "", "")
	assert.Error(t, err)
}

func TestAddMessageReturnsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.AddMessage(ctx, "s1", session.RoleUser, "a", "", "")
	require.NoError(t, err)
	second, err := store.AddMessage(ctx, "s2", session.RoleUser, "b", "", "")
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestLoadChatReturnsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const n = 7
	for i := 0; i < n; i++ {
		role := session.RoleUser
		platform, model := "", ""
		if i%2 == 1 {
			role = session.RoleAssistant
			platform, model = "siliconflow", "glm"
		}
		_, err := store.AddMessage(ctx, "s1", role, fmt.Sprintf("msg %d", i), platform, model)
		require.NoError(t, err)
	}
	_, err := store.AddMessage(ctx, "other", session.RoleUser, "noise", "", "")
	require.NoError(t, err)

	msgs, err := store.LoadChat(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, msg := range msgs {
		assert.Equal(t, fmt.Sprintf("msg %d", i), msg.Content)
		if i%2 == 1 {
			assert.Equal(t, session.RoleAssistant, msg.Role)
			assert.Equal(t, "siliconflow", msg.Platform)
			assert.Equal(t, "glm", msg.Model)
		} else {
			assert.Equal(t, session.RoleUser, msg.Role)
			assert.Empty(t, msg.Platform)
			assert.Empty(t, msg.Model)
		}
	}
}

func TestLoadChatLimitKeepsMostRecentOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		_, err := store.AddMessage(ctx, "s1", session.RoleUser, fmt.Sprintf("msg %d", i), "", "")
		require.NoError(t, err)
	}

	msgs, err := store.LoadChat(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg 3", msgs[0].Content)
	assert.Equal(t, "msg 4", msgs[1].Content)

	msgs, err = store.LoadChat(ctx, "s1", 50)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
}

func TestLoadChatTiesBrokenByInsertOrder(t *testing.T) {
	ctx := context.Background()
	frozen := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := New(filepath.Join(t.TempDir(), "chat.db"), WithClock(func() time.Time { return frozen }))
	require.NoError(t, store.Init(ctx))

	for _, content := range []string{"a", "b", "c"} {
		_, err := store.AddMessage(ctx, "s1", session.RoleUser, content, "", "")
		require.NoError(t, err)
	}

	msgs, err := store.LoadChat(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})

	msgs, err = store.LoadChat(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Content)
	assert.Equal(t, "c", msgs[1].Content)
}

func TestLoadChatUnknownSessionIsEmpty(t *testing.T) {
	store := newTestStore(t)

	msgs, err := store.LoadChat(context.Background(), "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSessionsOrderAndCounts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddMessage(ctx, "old", session.RoleUser, "old one", "", "")
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, "new", session.RoleUser, "new one", "", "")
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, "new", session.RoleAssistant, "reply", "p", "m")
	require.NoError(t, err)

	db, err := store.open()
	require.NoError(t, err)
	_, err = db.Exec(
		"INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		"empty", "titled but empty",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	all, err := store.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, 2, all[0].MessageCount)
	assert.Equal(t, "old", all[1].ID)
	assert.Equal(t, 1, all[1].MessageCount)
	assert.Equal(t, "empty", all[2].ID)
	assert.Equal(t, "titled but empty", all[2].Title)
	assert.Equal(t, 0, all[2].MessageCount)
}

func TestSessionsEmptyStore(t *testing.T) {
	all, err := newTestStore(t).Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSessionNotFound(t *testing.T) {
	_, err := newTestStore(t).Session(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"keep", "drop"} {
		_, err := store.AddMessage(ctx, id, session.RoleUser, "q", "", "")
		require.NoError(t, err)
		_, err = store.AddMessage(ctx, id, session.RoleAssistant, "a", "p", "m")
		require.NoError(t, err)
	}

	assert.True(t, store.DeleteSession(ctx, "drop"))

	msgs, err := store.LoadChat(ctx, "drop", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	all, err := store.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "keep", all[0].ID)

	msgs, err = store.LoadChat(ctx, "keep", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestDeleteAndRenameReportFailure(t *testing.T) {
	ctx := context.Background()
	// Init was never called, so the tables do not exist.
	store := New(filepath.Join(t.TempDir(), "uninitialized.db"))

	assert.False(t, store.DeleteSession(ctx, "s1"))
	assert.False(t, store.UpdateSessionTitle(ctx, "s1", "title"))
}

func TestReadsPropagateFailure(t *testing.T) {
	ctx := context.Background()
	store := New(filepath.Join(t.TempDir(), "uninitialized.db"))

	_, err := store.LoadChat(ctx, "s1", 0)
	assert.Error(t, err)

	_, err = store.Sessions(ctx)
	assert.Error(t, err)
}

func TestUpdateSessionTitle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AddMessage(ctx, "s1", session.RoleUser, "original", "", "")
	require.NoError(t, err)
	before, err := store.Session(ctx, "s1")
	require.NoError(t, err)

	assert.True(t, store.UpdateSessionTitle(ctx, "s1", "renamed"))

	after, err := store.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", after.Title)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.Equal(t, 1, after.MessageCount)
}
