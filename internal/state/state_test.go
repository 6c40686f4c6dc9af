package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/quill/internal/volume"
)

func TestNewStateBuildsVolumesFromConfigFile(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	docs := t.TempDir()

	cfgFile := filepath.Join(home, "quill.yaml")
	content := fmt.Sprintf(`workspace: %q
extra_volumes:
  - name: docs
    path: %q
  - name: workspace
    path: /ignored
log:
  level: error
`, work, docs)
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o644))

	s, err := NewState(Options{ConfigFile: cfgFile, Home: home})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, []string{"workspace", "docs"}, s.Volumes.Names())
	assert.NotNil(t, s.Handler)
	assert.NotNil(t, s.Renderer)

	p, err := s.Handler.Save("docs/a.md", "# A")
	require.NoError(t, err)
	assert.Equal(t, "docs/a.md", p)
	assert.FileExists(t, filepath.Join(docs, "a.md"))
}

func TestNewStateWithoutConfigFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("QUILL_WORKSPACE", t.TempDir())
	t.Setenv("QUILL_LOG_LEVEL", "error")

	s, err := NewState(Options{Home: home})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, []string{"workspace"}, s.Volumes.Names())
	assert.Equal(t, ":3001", s.Config.Addr)
}

func TestNewStateRejectsBrokenConfig(t *testing.T) {
	home := t.TempDir()
	cfgFile := filepath.Join(home, "broken.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("volumes: [\n"), 0o644))

	_, err := NewState(Options{ConfigFile: cfgFile, Home: home})
	require.Error(t, err)
}

func newWatchedSet(t *testing.T) (*volume.Set, string, string) {
	t.Helper()
	work := t.TempDir()
	nested := filepath.Join(work, "nested")
	require.NoError(t, os.Mkdir(nested, 0o755))

	set, err := volume.NewSet(
		volume.Volume{Name: "workspace", MountPath: work},
		volume.Volume{Name: "inner", MountPath: nested},
	)
	require.NoError(t, err)
	return set, work, nested
}

func TestTranslateMapsToDeepestVolume(t *testing.T) {
	set, work, nested := newWatchedSet(t)
	w, err := NewWorkspaceWatcher(set, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	cases := []struct {
		name  string
		event fsnotify.Event
		want  Event
		ok    bool
	}{
		{
			name:  "root file",
			event: fsnotify.Event{Name: filepath.Join(work, "a.md"), Op: fsnotify.Write},
			want:  Event{Type: EventModified, Path: "workspace/a.md"},
			ok:    true,
		},
		{
			name:  "nested volume wins",
			event: fsnotify.Event{Name: filepath.Join(nested, "b.MD"), Op: fsnotify.Create},
			want:  Event{Type: EventCreated, Path: "inner/b.MD"},
			ok:    true,
		},
		{
			name:  "removal",
			event: fsnotify.Event{Name: filepath.Join(work, "x", "c.md"), Op: fsnotify.Remove},
			want:  Event{Type: EventDeleted, Path: "workspace/x/c.md"},
			ok:    true,
		},
		{
			name:  "temporary file",
			event: fsnotify.Event{Name: filepath.Join(work, ".a.md.123.tmp"), Op: fsnotify.Create},
		},
		{
			name:  "hidden folder",
			event: fsnotify.Event{Name: filepath.Join(work, ".git", "x.md"), Op: fsnotify.Write},
		},
		{
			name:  "not markdown",
			event: fsnotify.Event{Name: filepath.Join(work, "pic.png"), Op: fsnotify.Write},
		},
		{
			name:  "outside every volume",
			event: fsnotify.Event{Name: filepath.Join(filepath.Dir(work), "other.md"), Op: fsnotify.Write},
		},
		{
			name:  "chmod only",
			event: fsnotify.Event{Name: filepath.Join(work, "a.md"), Op: fsnotify.Chmod},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := w.translate(tc.event)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestWatcherDeliversChangesToSubscribers(t *testing.T) {
	set, work, _ := newWatchedSet(t)
	w, err := NewWorkspaceWatcher(set, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	_, events, unsubscribe := w.Subscribe()
	defer unsubscribe()

	changed := make(chan Event, 8)
	w.OnChange(func(ev Event) {
		select {
		case changed <- ev:
		default:
		}
	})

	require.NoError(t, os.WriteFile(filepath.Join(work, "note.md"), []byte("# hi"), 0o644))

	select {
	case ev := <-events:
		assert.Equal(t, "workspace/note.md", ev.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
	select {
	case ev := <-changed:
		assert.Equal(t, "workspace/note.md", ev.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("callback not invoked")
	}

	require.NoError(t, w.Close())
	_, open := <-events
	for open {
		_, open = <-events
	}
}

func TestWatcherSkipsMissingVolumes(t *testing.T) {
	set, err := volume.NewSet(
		volume.Volume{Name: "workspace", MountPath: t.TempDir()},
		volume.Volume{Name: "gone", MountPath: filepath.Join(t.TempDir(), "missing")},
	)
	require.NoError(t, err)

	w, err := NewWorkspaceWatcher(set, nil)
	require.NoError(t, err)

	closed := false
	w.OnClose(func() { closed = true })
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.True(t, closed)
}
