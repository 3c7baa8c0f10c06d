package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svglol/better-clips/internal/clips"
	"github.com/svglol/better-clips/internal/domain"
)

func TestCreateRootCmd(t *testing.T) {
	root := createRootCmd()
	assert.Equal(t, "clipsctl", root.Use)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"trending", "sessions", "migrate"})

	prune, _, err := root.Find([]string{"sessions", "prune"})
	require.NoError(t, err)
	assert.NotNil(t, prune.Flags().Lookup("dry-run"))
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	root := createRootCmd()
	root.SetArgs([]string{"migrate"})
	root.SetOut(&bytes.Buffer{})

	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL required")
}

func TestTrending_InvalidLimit(t *testing.T) {
	root := createRootCmd()
	root.SetArgs([]string{"trending", "--limit", "500"})

	err := root.Execute()

	require.Error(t, err)
}

func TestRenderClips(t *testing.T) {
	all := []domain.Clip{
		{ID: "a", ViewCount: 900, BroadcasterName: "first", Title: "Big\nplay", URL: "https://clips.twitch.tv/a", CreatedAt: time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)},
		{ID: "b", ViewCount: 500, BroadcasterName: "second", Title: "Other", URL: "https://clips.twitch.tv/b"},
		{ID: "c", ViewCount: 100, BroadcasterName: "third", Title: "Last", URL: "https://clips.twitch.tv/c"},
	}
	req, err := clips.ParsePageRequest("2", "2", "limit")
	require.NoError(t, err)

	var buf bytes.Buffer
	renderClips(&buf, clips.Paginate(all, req))

	out := buf.String()
	assert.Contains(t, out, "third")
	assert.NotContains(t, out, "first")
	assert.Regexp(t, `\|\s*3\s*\|\s*100\s*\|`, out, "rows are numbered across pages")
	assert.Contains(t, out, "page 2 of 2 (3 clips)")
}

func TestRenderClips_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderClips(&buf, clips.ClipPage{})
	assert.Equal(t, "No clips on this page.\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "ééé…", truncate("éééééé", 4))
}
