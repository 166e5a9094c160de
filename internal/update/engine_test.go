package update

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/javi11/zipxtract/internal/archive/codecs"
	"github.com/javi11/zipxtract/internal/config"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/progress"
	"github.com/javi11/zipxtract/internal/volume"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var modified = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type entry struct {
	name string
	body string
}

func buildZip(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate, Modified: modified})
		require.NoError(t, err)
		_, err = io.WriteString(w, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func buildTar(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     e.name,
			Mode:     0o644,
			Size:     int64(len(e.body)),
			ModTime:  modified,
			Typeflag: tar.TypeReg,
		}))
		_, err := io.WriteString(tw, e.body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func readZip(t *testing.T, data []byte) ([]string, map[string]string) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	bodies := make(map[string]string)
	for _, f := range zr.File {
		names = append(names, f.Name)
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		bodies[f.Name] = string(b)
	}
	return names, bodies
}

func readTar(t *testing.T, data []byte) ([]string, map[string]string) {
	t.Helper()
	tr := tar.NewReader(bytes.NewReader(data))

	var names []string
	bodies := make(map[string]string)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, h.Name)
		b, err := io.ReadAll(tr)
		require.NoError(t, err)
		bodies[h.Name] = string(b)
	}
	return names, bodies
}

func newEngine(fsys afero.Fs) *Engine {
	cfg := config.Default()
	cfg.StorageRoot = "/storage"
	return NewEngine(fsys, cfg, codecs.Default())
}

func tempFiles(t *testing.T, fsys afero.Fs, dir string) []string {
	t.Helper()
	matches, err := afero.Glob(fsys, filepath.Join(dir, "zipxtract-update-*.tmp"))
	require.NoError(t, err)
	return matches
}

type recorder struct {
	reports []int
}

func (r *recorder) Report(percent int) {
	r.reports = append(r.reports, percent)
}

func abcd(t *testing.T) []byte {
	return buildZip(t,
		entry{"a.txt", "alpha"},
		entry{"b.txt", "bravo"},
		entry{"c.txt", "charlie"},
		entry{"d.txt", "delta"},
	)
}

func TestEngine_UpdateZip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/in/a.zip", abcd(t), 0o600))
	require.NoError(t, afero.WriteFile(fsys, "/src/e.txt", []byte("echo"), 0o644))

	rec := &recorder{}
	got, err := newEngine(fsys).Update(context.Background(), Request{
		ArchivePath: "/in/a.zip",
		Remove:      []string{"b.txt"},
		Add:         []AddItem{{Source: "/src/e.txt", Name: "new/e.txt"}},
	}, rec)
	require.NoError(t, err)
	assert.Equal(t, "/in/a.zip", got)

	data, err := afero.ReadFile(fsys, "/in/a.zip")
	require.NoError(t, err)
	names, bodies := readZip(t, data)
	assert.Equal(t, []string{"a.txt", "c.txt", "d.txt", "new/e.txt"}, names)
	assert.Equal(t, "charlie", bodies["c.txt"])
	assert.Equal(t, "echo", bodies["new/e.txt"])

	assert.Equal(t, []int{25, 50, 75, 100}, rec.reports)
	assert.Empty(t, tempFiles(t, fsys, "/in"))

	info, err := fsys.Stat("/in/a.zip")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestEngine_NoOpRoundTrip(t *testing.T) {
	fsys := afero.NewMemMapFs()
	original := abcd(t)
	require.NoError(t, afero.WriteFile(fsys, "/in/a.zip", original, 0o644))

	rec := &recorder{}
	_, err := newEngine(fsys).Update(context.Background(), Request{ArchivePath: "/in/a.zip"}, rec)
	require.NoError(t, err)

	data, err := afero.ReadFile(fsys, "/in/a.zip")
	require.NoError(t, err)

	wantNames, wantBodies := readZip(t, original)
	gotNames, gotBodies := readZip(t, data)
	assert.Equal(t, wantNames, gotNames)
	assert.Equal(t, wantBodies, gotBodies)
	assert.Equal(t, 100, rec.reports[len(rec.reports)-1])
}

func TestEngine_CreatesMissingArchive(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/dir/one.txt", []byte("1"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/src/dir/two.txt", []byte("22"), 0o644))
	require.NoError(t, fsys.MkdirAll("/out", 0o755))

	_, err := newEngine(fsys).Update(context.Background(), Request{
		ArchivePath: "/out/new.zip",
		Add:         []AddItem{{Source: "/src/dir"}},
	}, progress.Discard)
	require.NoError(t, err)

	data, err := afero.ReadFile(fsys, "/out/new.zip")
	require.NoError(t, err)
	names, bodies := readZip(t, data)
	assert.Equal(t, []string{"dir/", "dir/one.txt", "dir/two.txt"}, names)
	assert.Equal(t, "22", bodies["dir/two.txt"])
}

func TestEngine_UpdateTar(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/in/a.tar", buildTar(t,
		entry{"a.txt", "alpha"},
		entry{"b.txt", "bravo"},
	), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/src/c.txt", []byte("charlie"), 0o644))

	_, err := newEngine(fsys).Update(context.Background(), Request{
		ArchivePath: "/in/a.tar",
		Remove:      []string{"a.txt"},
		Add:         []AddItem{{Source: "/src/c.txt"}},
	}, progress.Discard)
	require.NoError(t, err)

	data, err := afero.ReadFile(fsys, "/in/a.tar")
	require.NoError(t, err)
	names, bodies := readTar(t, data)
	assert.Equal(t, []string{"b.txt", "c.txt"}, names)
	assert.Equal(t, "bravo", bodies["b.txt"])
	assert.Equal(t, "charlie", bodies["c.txt"])
}

func TestEngine_TempDirElsewhere(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/in/a.zip", abcd(t), 0o644))

	e := newEngine(fsys)
	e.cfg.Archive.TempDir = "/scratch"

	_, err := e.Update(context.Background(), Request{ArchivePath: "/in/a.zip", Remove: []string{"a.txt"}}, progress.Discard)
	require.NoError(t, err)

	data, err := afero.ReadFile(fsys, "/in/a.zip")
	require.NoError(t, err)
	names, _ := readZip(t, data)
	assert.Equal(t, []string{"b.txt", "c.txt", "d.txt"}, names)

	assert.Empty(t, tempFiles(t, fsys, "/scratch"))
	assert.Empty(t, tempFiles(t, fsys, "/in"))
}

// failingFs refuses to open one path.
type failingFs struct {
	afero.Fs
	fail string
}

func (f *failingFs) Open(name string) (afero.File, error) {
	if name == f.fail {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.Open(name)
}

func TestEngine_FailureLeavesOriginal(t *testing.T) {
	mem := afero.NewMemMapFs()
	original := abcd(t)
	require.NoError(t, afero.WriteFile(mem, "/in/a.zip", original, 0o644))
	require.NoError(t, afero.WriteFile(mem, "/src/ok.txt", []byte("ok"), 0o644))
	require.NoError(t, afero.WriteFile(mem, "/src/locked.txt", []byte("no"), 0o644))
	fsys := &failingFs{Fs: mem, fail: "/src/locked.txt"}

	rec := &recorder{}
	_, err := newEngine(fsys).Update(context.Background(), Request{
		ArchivePath: "/in/a.zip",
		Remove:      []string{"c.txt"},
		Add: []AddItem{
			{Source: "/src/ok.txt"},
			{Source: "/src/locked.txt"},
		},
	}, rec)
	require.Error(t, err)
	assert.Equal(t, errors.KindIOError, errors.KindOf(err))

	data, err := afero.ReadFile(mem, "/in/a.zip")
	require.NoError(t, err)
	assert.Equal(t, original, data, "original must be byte-identical")
	assert.Empty(t, tempFiles(t, mem, "/in"))
	assert.NotContains(t, rec.reports, 100)
}

func TestEngine_Cancellation(t *testing.T) {
	fsys := afero.NewMemMapFs()
	original := abcd(t)
	require.NoError(t, afero.WriteFile(fsys, "/in/a.zip", original, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reports []int
	sink := progress.SinkFunc(func(p int) {
		reports = append(reports, p)
		cancel()
	})

	_, err := newEngine(fsys).Update(ctx, Request{ArchivePath: "/in/a.zip", Remove: []string{"d.txt"}}, sink)
	assert.ErrorIs(t, err, errors.ErrCancelled)
	assert.Len(t, reports, 1)

	data, err := afero.ReadFile(fsys, "/in/a.zip")
	require.NoError(t, err)
	assert.Equal(t, original, data)
	assert.Empty(t, tempFiles(t, fsys, "/in"))
}

func TestEngine_Unsupported(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "rar", path: "/in/a.rar"},
		{name: "7z", path: "/in/a.7z"},
		{name: "multi-volume zip", path: "/in/a.zip.001"},
		{name: "compressed tar", path: "/in/a.tar.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			_, err := newEngine(fsys).Update(context.Background(), Request{ArchivePath: tt.path}, progress.Discard)
			require.Error(t, err)
			assert.Equal(t, errors.KindUnsupported, errors.KindOf(err))
		})
	}
}

func TestEngine_SplitOutput(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/in/a.zip", abcd(t), 0o600))
	for i := 1; i <= 40; i++ {
		require.NoError(t, afero.WriteFile(fsys, fmt.Sprintf("/in/a.zip.%03d", i), []byte("old"), 0o644))
	}

	rec := &recorder{}
	got, err := newEngine(fsys).Update(context.Background(), Request{
		ArchivePath: "/in/a.zip",
		Remove:      []string{"d.txt"},
		SplitSize:   100,
	}, rec)
	require.NoError(t, err)
	assert.Equal(t, "/in/a.zip.001", got)
	assert.Equal(t, 100, rec.reports[len(rec.reports)-1])

	set, err := volume.Enumerate(fsys, "/in/a.zip.002")
	require.NoError(t, err)
	assert.Equal(t, volume.SchemeZipSplit, set.Scheme)
	assert.Equal(t, "/in/a.zip.001", set.First)

	var joined []byte
	for i, name := range set.Volumes {
		data, err := afero.ReadFile(fsys, name)
		require.NoError(t, err)
		if i < len(set.Volumes)-1 {
			assert.Len(t, data, 100, name)
		} else {
			assert.LessOrEqual(t, len(data), 100, name)
		}
		joined = append(joined, data...)

		info, err := fsys.Stat(name)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
	assert.Len(t, set.Volumes, (len(joined)+99)/100)

	names, bodies := readZip(t, joined)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names)
	assert.Equal(t, "charlie", bodies["c.txt"])

	exists, err := afero.Exists(fsys, "/in/a.zip")
	require.NoError(t, err)
	assert.False(t, exists, "single-file archive is replaced by the volumes")
	exists, err = afero.Exists(fsys, volumeName("/in/a.zip", len(set.Volumes)+1))
	require.NoError(t, err)
	assert.False(t, exists, "volumes of the old set are removed")
	assert.Empty(t, tempFiles(t, fsys, "/in"))
}

func TestEngine_SplitRejectsTar(t *testing.T) {
	fsys := afero.NewMemMapFs()
	original := buildTar(t, entry{"a.txt", "alpha"})
	require.NoError(t, afero.WriteFile(fsys, "/in/a.tar", original, 0o644))

	_, err := newEngine(fsys).Update(context.Background(), Request{ArchivePath: "/in/a.tar", SplitSize: 100}, progress.Discard)
	require.Error(t, err)
	assert.Equal(t, errors.KindUnsupported, errors.KindOf(err))

	data, err := afero.ReadFile(fsys, "/in/a.tar")
	require.NoError(t, err)
	assert.Equal(t, original, data)
}

func TestStageParts(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		parts []int
	}{
		{name: "empty", size: 0, parts: []int{0}},
		{name: "short", size: 40, parts: []int{40}},
		{name: "exact boundary", size: 200, parts: []int{100, 100}},
		{name: "remainder", size: 250, parts: []int{100, 100, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			src := bytes.Repeat([]byte{7}, tt.size)
			require.NoError(t, afero.WriteFile(fsys, "/tmp/src", src, 0o644))
			require.NoError(t, fsys.MkdirAll("/out", 0o755))

			staged, err := newEngine(fsys).stageParts("/tmp/src", "/out", 100)
			require.NoError(t, err)
			require.Len(t, staged, len(tt.parts))

			var joined []byte
			for i, name := range staged {
				data, err := afero.ReadFile(fsys, name)
				require.NoError(t, err)
				assert.Len(t, data, tt.parts[i])
				joined = append(joined, data...)
			}
			assert.Equal(t, src, joined)
			assert.Len(t, tempFiles(t, fsys, "/out"), len(tt.parts))
		})
	}
}
