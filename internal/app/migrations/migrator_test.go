package migrations

import (
	"io/fs"
	"slices"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigit/hackhub/internal/db"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, "001", Version("001_init.sql"))
	assert.Equal(t, "002", Version("sql/002_badges.sql"))
}

func TestFiles_SortedSQLOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql":  {Data: []byte("SELECT 2;")},
		"001_a.sql":  {Data: []byte("SELECT 1;")},
		"README.md":  {Data: []byte("docs")},
		"sub/03.sql": {Data: []byte("SELECT 3;")},
	}

	files, err := Files(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "002_b.sql"}, files)
}

func TestEmbedded_ContainsInitSchema(t *testing.T) {
	files, err := Files(Embedded())
	require.NoError(t, err)
	require.Contains(t, files, "001_init.sql")

	content, err := fs.ReadFile(Embedded(), "001_init.sql")
	require.NoError(t, err)
	for _, table := range []string{"post_likes", "poll_votes", "user_achievements", "add_user_points", "increment_option_vote", "pg_notify"} {
		assert.Contains(t, string(content), table)
	}
}

func TestSource_FallsBackToEmbedded(t *testing.T) {
	files, err := Files(Source("/does/not/exist"))
	require.NoError(t, err)
	assert.Contains(t, files, "001_init.sql")
}

func TestEmbedded_NotifyPayloadIsBounded(t *testing.T) {
	files, err := Files(Embedded())
	require.NoError(t, err)
	require.Contains(t, files, "002_notify_payload.sql")
	assert.Greater(t, slices.Index(files, "002_notify_payload.sql"), slices.Index(files, "001_init.sql"))

	content, err := fs.ReadFile(Embedded(), "002_notify_payload.sql")
	require.NoError(t, err)
	sql := string(content)
	assert.Contains(t, sql, "octet_length(payload) > 7900")
	assert.Contains(t, sql, "'partial', true")
	assert.Contains(t, sql, "current_setting('"+db.NotifyChannelSetting+"', true)")
	assert.NotContains(t, sql, "pg_notify('hackhub_changes'")
}
