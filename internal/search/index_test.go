package search

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/quill/internal/volume"
)

type fixture struct {
	idx  *Index
	work string
	docs string
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	work := t.TempDir()
	docs := t.TempDir()
	set, err := volume.NewSet(
		volume.Volume{Name: "workspace", MountPath: work},
		volume.Volume{Name: "docs", MountPath: docs},
	)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return fixture{idx: NewIndex(set, cfg, logger), work: work, docs: docs}
}

func writeNote(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func paths(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Path)
	}
	return out
}

func TestBuildIndexesEveryVolume(t *testing.T) {
	f := newFixture(t, Config{EnableBody: true, IgnoredFolders: []string{"archive"}})
	writeNote(t, f.work, "a.md", "# Alpha\n")
	writeNote(t, f.work, "notes/b.md", "# Beta\n")
	writeNote(t, f.work, ".hidden/c.md", "# Hidden\n")
	writeNote(t, f.work, "archive/d.md", "# Archived\n")
	writeNote(t, f.work, "image.png", "png")
	writeNote(t, f.docs, "guide.md", "# Guide\n")

	require.NoError(t, f.idx.Build(context.Background()))

	assert.Equal(t, 3, f.idx.Len())
	assert.Equal(t,
		[]string{"docs/guide.md", "workspace/a.md", "workspace/notes/b.md"},
		paths(f.idx.Search(Query{})),
	)
}

func TestBuildSkipsMissingMount(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, os.RemoveAll(f.docs))
	writeNote(t, f.work, "a.md", "a")

	require.NoError(t, f.idx.Build(context.Background()))
	assert.Equal(t, 1, f.idx.Len())
}

func TestSearchMatchSources(t *testing.T) {
	f := newFixture(t, Config{EnableBody: true})
	writeNote(t, f.work, "title.md", "# Gardening Plan\n")
	writeNote(t, f.work, "meta.md", "---\nauthor: Gardener Jo\n---\nnothing here\n")
	writeNote(t, f.work, "link.md", "see [plan](gardening-notes.md)\n")
	writeNote(t, f.work, "body.md", "first line\nsecond line\nall about gardening today\n")
	writeNote(t, f.work, "none.md", "unrelated\n")

	require.NoError(t, f.idx.Build(context.Background()))
	results := f.idx.Search(Query{Term: "GARDEN"})

	byPath := make(map[string]Result)
	for _, r := range results {
		byPath[r.Path] = r
	}
	require.Len(t, byPath, 4)

	assert.Equal(t, "title", byPath["workspace/title.md"].MatchFrom)
	assert.Equal(t, "Gardening Plan", byPath["workspace/title.md"].Title)
	assert.Equal(t, "frontmatter", byPath["workspace/meta.md"].MatchFrom)
	assert.Equal(t, "author: Gardener Jo", byPath["workspace/meta.md"].Snippet)
	assert.Equal(t, "links", byPath["workspace/link.md"].MatchFrom)

	body := byPath["workspace/body.md"]
	assert.Equal(t, "body", body.MatchFrom)
	assert.Equal(t, 3, body.Line)
	assert.Contains(t, body.Snippet, "gardening today")
}

func TestSearchBodyDisabled(t *testing.T) {
	f := newFixture(t, Config{})
	writeNote(t, f.work, "body.md", "only the body mentions zebras\n")

	require.NoError(t, f.idx.Build(context.Background()))
	assert.Empty(t, f.idx.Search(Query{Term: "zebras"}))
}

func TestSearchFilters(t *testing.T) {
	f := newFixture(t, Config{EnableBody: true})
	writeNote(t, f.work, "a.md", "---\ntags: [go, Notes]\nstatus: draft\n---\nbody\n")
	writeNote(t, f.work, "b.md", "---\ntags: [go]\nstatus: done\n---\nbody\n")
	writeNote(t, f.docs, "c.md", "---\ntags: [go]\n---\nbody\n")

	require.NoError(t, f.idx.Build(context.Background()))

	assert.Equal(t, []string{"workspace/a.md"}, paths(f.idx.Search(Query{Tags: []string{"notes"}})))
	assert.Equal(t, []string{"workspace/b.md"},
		paths(f.idx.Search(Query{Metadata: map[string][]string{"status": {"DONE"}}})))
	assert.Equal(t, []string{"docs/c.md"}, paths(f.idx.Search(Query{Tags: []string{"go"}, Volume: "docs"})))
	assert.Len(t, f.idx.Search(Query{Tags: []string{"go"}, Limit: 2}), 2)

	assert.Equal(t, map[string]int{"go": 3, "notes": 1}, f.idx.Tags())
}

func TestInvalidFrontMatterKeepsBodySearchable(t *testing.T) {
	f := newFixture(t, Config{EnableBody: true})
	writeNote(t, f.work, "broken.md", "---\ntags: [unclosed\n---\nfindable words\n")

	require.NoError(t, f.idx.Build(context.Background()))
	assert.Equal(t, []string{"workspace/broken.md"}, paths(f.idx.Search(Query{Term: "findable"})))
}

func TestRefreshTracksChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{EnableBody: true})
	note := writeNote(t, f.work, "note.md", "original content\n")
	require.NoError(t, f.idx.Build(ctx))

	require.NoError(t, os.WriteFile(note, []byte("original content with updated term\n"), 0o644))
	require.NoError(t, f.idx.Refresh(ctx, "workspace/note.md"))
	assert.Equal(t, []string{"workspace/note.md"}, paths(f.idx.Search(Query{Term: "updated"})))

	require.NoError(t, os.Remove(note))
	require.NoError(t, f.idx.Refresh(ctx, "workspace/note.md"))
	assert.Equal(t, 0, f.idx.Len())
}

func TestRefreshFolder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	require.NoError(t, f.idx.Build(ctx))

	writeNote(t, f.work, "trip/day1.md", "# Day 1\n")
	writeNote(t, f.work, "trip/day2.md", "# Day 2\n")
	require.NoError(t, f.idx.Refresh(ctx, "workspace/trip"))
	assert.Equal(t, 2, f.idx.Len())

	require.NoError(t, os.RemoveAll(filepath.Join(f.work, "trip")))
	require.NoError(t, f.idx.Refresh(ctx, "workspace/trip"))
	assert.Equal(t, 0, f.idx.Len())
}

func TestRefreshRejectsEscapes(t *testing.T) {
	f := newFixture(t, Config{})
	assert.Error(t, f.idx.Refresh(context.Background(), "workspace/../../etc"))
	assert.Error(t, f.idx.Refresh(context.Background(), "nowhere/a.md"))
}

func TestRelatedLinks(t *testing.T) {
	f := newFixture(t, Config{})
	writeNote(t, f.work, "hub.md", "[[Spoke]] and [rel](notes/leaf.md) and [web](https://example.com)\n")
	writeNote(t, f.work, "spoke.md", "back to [hub](hub.md#top)\n")
	writeNote(t, f.work, "notes/leaf.md", "[[hub|the hub]]\n")

	require.NoError(t, f.idx.Build(context.Background()))

	hub := f.idx.Related("workspace/hub.md")
	assert.Equal(t, []string{"workspace/notes/leaf.md", "workspace/spoke.md"}, hub.Outbound)
	assert.Equal(t, []string{"workspace/notes/leaf.md", "workspace/spoke.md"}, hub.Backlinks)

	byStem := f.idx.Related("leaf")
	assert.Equal(t, []string{"workspace/hub.md"}, byStem.Outbound)

	none := f.idx.Related("workspace/missing.md")
	assert.Empty(t, none.Outbound)
	assert.NotNil(t, none.Backlinks)
}

func TestBodySnippet(t *testing.T) {
	body := "The quick brown fox jumps over the lazy dog near the riverbank today"
	snippet := bodySnippet(body, 16, 3)
	assert.Contains(t, snippet, "fox")
	assert.True(t, len([]rune(snippet)) <= len([]rune(body))+2)

	assert.Equal(t, -1, indexFold("abc", "d"))
	assert.Equal(t, 3, indexFold("héllo", "LL"))
}
