package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/foodsafety-linebot/internal/ai"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestRecentWindow_EmptyForNewUser(t *testing.T) {
	repo := NewRepo(openTestDB(t))

	for _, n := range []int{0, 1, 2, 4, 8} {
		w, err := repo.RecentWindow(context.Background(), "U-new", n)
		require.NoError(t, err)
		assert.Empty(t, w)
	}
}

func TestRecentWindow_BoundedOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	// 5 full pairs for U1, noise for U2
	for i := 0; i < 5; i++ {
		_, err := repo.AppendMessage(ctx, "U1", ai.RoleUser, fmt.Sprintf("q%d", i))
		require.NoError(t, err)
		_, err = repo.AppendMessage(ctx, "U2", ai.RoleUser, "other")
		require.NoError(t, err)
		_, err = repo.AppendMessage(ctx, "U1", ai.RoleAssistant, fmt.Sprintf("a%d", i))
		require.NoError(t, err)
	}

	cases := []struct {
		pairs int
		want  []string
	}{
		{1, []string{"q4", "a4"}},
		{2, []string{"q3", "a3", "q4", "a4"}},
		{8, []string{"q0", "a0", "q1", "a1", "q2", "a2", "q3", "a3", "q4", "a4"}},
	}
	for _, tc := range cases {
		w, err := repo.RecentWindow(ctx, "U1", tc.pairs)
		require.NoError(t, err)
		got := make([]string, 0, len(w))
		for _, m := range w {
			got = append(got, m.Content)
		}
		assert.Equal(t, tc.want, got, "pairs=%d", tc.pairs)
		for i, m := range w {
			if i%2 == 0 {
				assert.Equal(t, ai.RoleUser, m.Role)
			} else {
				assert.Equal(t, ai.RoleAssistant, m.Role)
			}
		}
	}
}

func TestAppendMessage_RoundTripIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	content := "  味精(MSG) 每日攝取量？\n第二行\t🍜  "
	msg, err := repo.AppendMessage(ctx, "U1", ai.RoleUser, content)
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)

	w, err := repo.RecentWindow(ctx, "U1", 1)
	require.NoError(t, err)
	require.Len(t, w, 1)
	assert.Equal(t, ai.Message{Role: ai.RoleUser, Content: content}, w[0])
}

func TestAppendMessage_SequenceIncreases(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	var prev uint64
	for i := 0; i < 4; i++ {
		m, err := repo.AppendMessage(ctx, "U1", ai.RoleUser, "x")
		require.NoError(t, err)
		assert.Greater(t, m.ID, prev)
		prev = m.ID
	}
}

func TestAppendMessage_RejectsUnknownRole(t *testing.T) {
	repo := NewRepo(openTestDB(t))

	_, err := repo.AppendMessage(context.Background(), "U1", "system", "x")
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "append", se.Op)
}

func TestAppendMessage_StorageFailureIsReported(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	require.NoError(t, db.Migrator().DropTable(&Message{}))

	_, err := repo.AppendMessage(context.Background(), "U1", ai.RoleUser, "x")
	var se *StorageError
	require.True(t, errors.As(err, &se))

	_, err = repo.RecentWindow(context.Background(), "U1", 2)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "window", se.Op)
}

func TestRecentWindowFor_ExcludesOwnAndLaterUserMessages(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	_, err := repo.AppendMessage(ctx, "U1", ai.RoleUser, "q0")
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, "U1", ai.RoleAssistant, "a0")
	require.NoError(t, err)
	cur, err := repo.AppendMessage(ctx, "U1", ai.RoleUser, "q1")
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, "U1", ai.RoleUser, "q2")
	require.NoError(t, err)

	w, err := repo.RecentWindowFor(ctx, "U1", 4, cur.ID)
	require.NoError(t, err)
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Content: "q0"},
		{Role: ai.RoleAssistant, Content: "a0"},
	}, w)
}

func TestRecentWindowFor_KeepsAnswerPersistedAfterOwnMessage(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	// q2 arrives while q1 is still streaming; a1 lands after q2
	_, err := repo.AppendMessage(ctx, "U1", ai.RoleUser, "q1")
	require.NoError(t, err)
	cur, err := repo.AppendMessage(ctx, "U1", ai.RoleUser, "q2")
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, "U1", ai.RoleAssistant, "a1")
	require.NoError(t, err)

	w, err := repo.RecentWindowFor(ctx, "U1", 4, cur.ID)
	require.NoError(t, err)
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Content: "q1"},
		{Role: ai.RoleAssistant, Content: "a1"},
	}, w)

	w, err = repo.RecentWindowFor(ctx, "U1", 1, cur.ID)
	require.NoError(t, err)
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Content: "q1"},
		{Role: ai.RoleAssistant, Content: "a1"},
	}, w)
}
