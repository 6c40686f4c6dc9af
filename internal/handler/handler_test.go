package handler

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paintersrp/quill/internal/pathutil"
	"github.com/Paintersrp/quill/internal/volume"
)

type fixture struct {
	h    *FileHandler
	work string
	docs string
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	work := t.TempDir()
	docs := t.TempDir()
	set, err := volume.NewSet(
		volume.Volume{Name: "workspace", MountPath: work},
		volume.Volume{Name: "docs", MountPath: docs},
	)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return fixture{h: NewFileHandler(set, logger), work: work, docs: docs}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestListRootsWithSeveralVolumes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	entries, err := f.h.List("")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "workspace", entries[0].Path)
	assert.Equal(t, "docs", entries[1].Path)
	assert.Equal(t, TypeFolder, entries[0].Type)
}

func TestListFiltersAndSortsFoldersFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	mustWriteFile(t, filepath.Join(f.work, "b.md"), "# b")
	mustWriteFile(t, filepath.Join(f.work, "A.MD"), "# a")
	mustWriteFile(t, filepath.Join(f.work, "notes.txt"), "skip")
	mustWriteFile(t, filepath.Join(f.work, ".hidden.md"), "skip")
	mustWriteFile(t, filepath.Join(f.work, "zeta", "c.md"), "# c")
	require.NoError(t, os.Mkdir(filepath.Join(f.work, ".git"), 0o755))

	entries, err := f.h.List("workspace")
	require.NoError(t, err)

	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"workspace/zeta", "workspace/A.MD", "workspace/b.md"}, paths)
	assert.Equal(t, ".md", entries[1].Extension)
	assert.NotNil(t, entries[2].ModifiedAt)
	assert.EqualValues(t, 3, entries[2].Size)
}

func TestListMissingFolder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.h.List("workspace/nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReadAndSave(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	p, err := f.h.Save("docs/deep/new/page.md", "# Page\n")
	require.NoError(t, err)
	assert.Equal(t, "docs/deep/new/page.md", p)

	doc, err := f.h.Read("docs/deep/new/page.md")
	require.NoError(t, err)
	assert.Equal(t, "# Page\n", doc.Content)

	_, err = f.h.Save("docs/deep/new/page.md", "# Page\n\nmore")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(f.docs, "deep", "new", "page.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Page\n\nmore", string(data))

	leftovers, err := filepath.Glob(filepath.Join(f.docs, "deep", "new", ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSandboxRejectsEscapes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.h.Read("workspace/../../etc/passwd")
	assert.ErrorIs(t, err, pathutil.ErrPathTraversal)

	_, err = f.h.Save("workspace/a/../../x.md", "x")
	assert.ErrorIs(t, err, pathutil.ErrPathTraversal)

	_, err = f.h.Read("elsewhere/x.md")
	assert.ErrorIs(t, err, volume.ErrUnknownVolume)
}

func TestCreateConflictAndLongNames(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.h.Create("workspace/a.md", "one")
	require.NoError(t, err)

	_, err = f.h.Create("workspace/a.md", "two")
	assert.ErrorIs(t, err, ErrFileAlreadyExists)

	doc, err := f.h.Read("workspace/a.md")
	require.NoError(t, err)
	assert.Equal(t, "one", doc.Content)

	long := strings.Repeat("x", 253) + ".md"
	_, err = f.h.Create("workspace/"+long, "")
	assert.ErrorIs(t, err, pathutil.ErrFilenameTooLong)

	_, err = f.h.Save("workspace", "x")
	assert.ErrorIs(t, err, ErrVolumeRoot)
}

func TestCreateUntitledPicksFreeName(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	first, err := f.h.CreateUntitled("workspace/inbox")
	require.NoError(t, err)
	second, err := f.h.CreateUntitled("workspace/inbox/")
	require.NoError(t, err)

	assert.Equal(t, "workspace/inbox/Untitled.md", first)
	assert.Equal(t, "workspace/inbox/Untitled 1.md", second)
}

func TestDeleteFilesAndFolders(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	mustWriteFile(t, filepath.Join(f.work, "dir", "x.md"), "x")
	mustWriteFile(t, filepath.Join(f.work, "y.md"), "y")

	require.NoError(t, f.h.Delete("workspace/y.md"))
	require.NoError(t, f.h.Delete("workspace/dir"))
	assert.NoDirExists(t, filepath.Join(f.work, "dir"))
	assert.NoFileExists(t, filepath.Join(f.work, "y.md"))

	assert.ErrorIs(t, f.h.Delete("workspace"), ErrVolumeRoot)
	assert.ErrorIs(t, f.h.Delete("workspace/y.md"), ErrNotFound)
	assert.DirExists(t, f.work)
}

func TestRename(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	mustWriteFile(t, filepath.Join(f.work, "Untitled.md"), "# Hello")
	mustWriteFile(t, filepath.Join(f.work, "taken.md"), "taken")

	p, err := f.h.Rename("workspace/Untitled.md", "workspace/sub/hello.md")
	require.NoError(t, err)
	assert.Equal(t, "workspace/sub/hello.md", p)
	assert.FileExists(t, filepath.Join(f.work, "sub", "hello.md"))
	assert.NoFileExists(t, filepath.Join(f.work, "Untitled.md"))

	_, err = f.h.Rename("workspace/sub/hello.md", "workspace/taken.md")
	assert.ErrorIs(t, err, ErrFileAlreadyExists)

	_, err = f.h.Rename("workspace/sub/hello.md", "docs/hello.md")
	assert.ErrorIs(t, err, ErrCrossVolumeMove)

	_, err = f.h.Rename("workspace/missing.md", "workspace/other.md")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.h.Rename("workspace/sub/hello.md", "workspace/"+strings.Repeat("y", 300)+".md")
	assert.ErrorIs(t, err, pathutil.ErrFilenameTooLong)

	same, err := f.h.Rename("workspace/taken.md", "workspace/taken.md")
	require.NoError(t, err)
	assert.Equal(t, "workspace/taken.md", same)
}

func TestConcurrentSavesLeaveOneWholeVersion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	versions := []string{
		strings.Repeat("a", 4096),
		strings.Repeat("b", 4096),
		strings.Repeat("c", 4096),
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			_, err := f.h.Save("workspace/race.md", v)
			assert.NoError(t, err)
		}(versions[i%len(versions)])
	}
	wg.Wait()

	doc, err := f.h.Read("workspace/race.md")
	require.NoError(t, err)
	assert.Contains(t, versions, doc.Content)

	f.h.mu.Lock()
	assert.Empty(t, f.h.locks)
	f.h.mu.Unlock()
}

func TestImageAllowList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	mustWriteFile(t, filepath.Join(f.work, "pic.PNG"), "png")
	mustWriteFile(t, filepath.Join(f.work, "script.js"), "js")

	img, err := f.h.Image("workspace/pic.PNG")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)

	_, err = f.h.Image("workspace/script.js")
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = f.h.Image("workspace/gone.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImportImageAcrossVolumes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	mustWriteFile(t, filepath.Join(f.work, "notes", "trip.md"), "# Trip")
	mustWriteFile(t, filepath.Join(f.docs, "photos", "beach.jpg"), "jpeg")

	first, err := f.h.ImportImage("workspace/notes/trip.md", "docs/photos/beach.jpg")
	require.NoError(t, err)
	assert.Equal(t, "workspace/notes/trip/beach.jpg", first.Path)
	assert.Equal(t, "trip/beach.jpg", first.Link)

	second, err := f.h.ImportImage("workspace/notes/trip.md", "docs/photos/beach.jpg")
	require.NoError(t, err)
	assert.Equal(t, "workspace/notes/trip/beach-1.jpg", second.Path)

	data, err := os.ReadFile(filepath.Join(f.work, "notes", "trip", "beach-1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	images, err := f.h.SiblingImages("workspace/notes/trip.md")
	require.NoError(t, err)
	assert.Len(t, images, 2)
}

func TestUploadImage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	up, err := f.h.UploadImage("docs/readme.md", `C:\Users\me\shot.webp`, bytes.NewBufferString("webp"))
	require.NoError(t, err)
	assert.Equal(t, "docs/readme/shot.webp", up.Path)

	_, err = f.h.UploadImage("docs/readme.md", "evil.html", bytes.NewBufferString("<script>"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = f.h.UploadImage("docs", "x.png", bytes.NewBufferString("png"))
	assert.ErrorIs(t, err, ErrVolumeRoot)

	_, err = f.h.UploadImage("docs/readme.md", "x.png", failingReader{})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(f.docs, "readme", "x.png"))
}

func TestSiblingImagesWithoutFolder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	images, err := f.h.SiblingImages("workspace/lonely.md")
	require.NoError(t, err)
	assert.Empty(t, images)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }
