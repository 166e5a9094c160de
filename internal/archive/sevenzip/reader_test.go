package sevenzip

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/javi11/sevenzip"
	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/volume"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// multiCRCs are the contents of the multi.7z.NNN set, ten lorem ipsum files.
var multiCRCs = map[string]uint32{
	"01": 0x328aa043,
	"02": 0x0d9012ba,
	"03": 0xb8e403c4,
	"04": 0xe8abb623,
	"05": 0x4c062899,
	"06": 0x6328ee0f,
	"07": 0x839285cb,
	"08": 0x62606fc9,
	"09": 0x1d27d042,
	"10": 0x1514a253,
}

func multiVolumes() []string {
	names := make([]string, 6)
	for i := range names {
		names[i] = fmt.Sprintf("multi.7z.%03d", i+1)
	}
	return names
}

// loadFixtures copies testdata files into fsys under /in.
func loadFixtures(t *testing.T, fsys afero.Fs, names ...string) {
	t.Helper()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join("testdata", name))
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fsys, "/in/"+name, data, 0o644))
	}
}

type memSink struct {
	files   map[string][]byte
	dirs    []string
	created func(archive.Item)
}

func newMemSink() *memSink {
	return &memSink{files: make(map[string][]byte)}
}

func (m *memSink) Directory(item archive.Item) error {
	m.dirs = append(m.dirs, item.Path)
	return nil
}

func (m *memSink) Create(item archive.Item) (io.WriteCloser, error) {
	if m.created != nil {
		m.created(item)
	}
	return &memFile{sink: m, name: item.Path}, nil
}

type memFile struct {
	bytes.Buffer
	sink *memSink
	name string
}

func (f *memFile) Close() error {
	f.sink.files[f.name] = f.Bytes()
	return nil
}

func openSet(t *testing.T, fsys afero.Fs, path string, opts archive.Options) (archive.Reader, *volume.Provider, error) {
	t.Helper()
	set, err := volume.Enumerate(fsys, path)
	require.NoError(t, err)
	p := volume.NewProvider(context.Background(), fsys, set.Entry)
	t.Cleanup(func() { _ = p.Close() })
	r, err := Open(context.Background(), p, set, archive.Kind{Format: archive.FormatSevenZip}, opts)
	return r, p, err
}

func TestReader_SplitSetOpenedFromLaterVolume(t *testing.T) {
	fsys := afero.NewMemMapFs()
	loadFixtures(t, fsys, multiVolumes()...)

	r, p, err := openSet(t, fsys, "/in/multi.7z.004", archive.Options{})
	require.NoError(t, err)
	defer r.Close()

	items, err := r.Items()
	require.NoError(t, err)
	require.Len(t, items, 10)
	assert.Equal(t, "01", items[0].Path)
	assert.Equal(t, int64(3572), items[0].Size)
	assert.Equal(t, "10", items[9].Path)

	sink := newMemSink()
	require.NoError(t, r.Extract(context.Background(), sink))
	require.Len(t, sink.files, 10)
	for name, want := range multiCRCs {
		assert.Equal(t, want, crc32.ChecksumIEEE(sink.files[name]), name)
	}

	assert.Equal(t, multiVolumes(), p.Opened())
}

func TestReader_MissingMiddleVolume(t *testing.T) {
	fsys := afero.NewMemMapFs()
	volumes := multiVolumes()
	loadFixtures(t, fsys, append(volumes[:2:2], volumes[3:]...)...)

	_, p, err := openSet(t, fsys, "/in/multi.7z.001", archive.Options{})
	require.Error(t, err)
	assert.Equal(t, errors.KindVolumeNotFound, errors.KindOf(err))
	assert.Contains(t, err.Error(), "multi.7z.003")
	assert.Contains(t, p.Missing(), "multi.7z.003")
}

func TestReader_EncryptedHeaders(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantKind errors.Kind
		wantMsg  string
	}{
		{name: "right password", password: "password"},
		{name: "wrong password", password: "nope", wantKind: errors.KindWrongPassword, wantMsg: "wrong password"},
		{name: "no password", wantKind: errors.KindWrongPassword, wantMsg: "password required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			loadFixtures(t, fsys, "aes7z.7z")

			r, _, err := openSet(t, fsys, "/in/aes7z.7z", archive.Options{Password: tt.password})
			if tt.wantKind != errors.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, errors.KindOf(err))
				assert.ErrorIs(t, err, errors.ErrWrongPassword)
				assert.Contains(t, err.Error(), tt.wantMsg)
				return
			}
			require.NoError(t, err)
			defer r.Close()

			items, err := r.Items()
			require.NoError(t, err)
			require.NotEmpty(t, items)

			sink := newMemSink()
			require.NoError(t, r.Extract(context.Background(), sink))
			for _, item := range items {
				if !item.IsDir {
					assert.Len(t, sink.files[item.Path], int(item.Size), item.Path)
				}
			}
		})
	}
}

func TestReader_EncryptedEntries(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantKind errors.Kind
	}{
		{name: "right password", password: "password"},
		{name: "wrong password", password: "nope", wantKind: errors.KindWrongPassword},
		{name: "no password", wantKind: errors.KindWrongPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			loadFixtures(t, fsys, "t4.7z")

			// the file list is readable without the key
			r, _, err := openSet(t, fsys, "/in/t4.7z", archive.Options{Password: tt.password})
			require.NoError(t, err)
			defer r.Close()

			items, err := r.Items()
			require.NoError(t, err)
			require.Len(t, items, 2)

			sink := newMemSink()
			err = r.Extract(context.Background(), sink)
			if tt.wantKind != errors.KindUnknown {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, errors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, sink.files["foo"], 4)
			assert.Len(t, sink.files["bar"], 4)
		})
	}
}

func TestReader_CancelledBetweenEntries(t *testing.T) {
	fsys := afero.NewMemMapFs()
	loadFixtures(t, fsys, multiVolumes()...)

	r, _, err := openSet(t, fsys, "/in/multi.7z.001", archive.Options{})
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := newMemSink()
	sink.created = func(archive.Item) { cancel() }

	err = r.Extract(ctx, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCancelled)
	assert.Len(t, sink.files, 1)
	assert.Equal(t, multiCRCs["01"], crc32.ChecksumIEEE(sink.files["01"]))
}

func TestTruncatedAt(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]int
		want  string
	}{
		{"cut after a full volume", map[string]int{"a.7z.001": 100, "a.7z.002": 100}, "a.7z.003"},
		{"single full volume", map[string]int{"a.7z.001": 100}, "a.7z.002"},
		{"short tail is complete", map[string]int{"a.7z.001": 100, "a.7z.002": 40}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			for name, size := range tt.files {
				require.NoError(t, afero.WriteFile(fsys, "/in/"+name, make([]byte, size), 0o644))
			}
			set, err := volume.Enumerate(fsys, "/in/a.7z.001")
			require.NoError(t, err)

			p := volume.NewProvider(context.Background(), fsys, set.Entry)
			defer p.Close()
			for i := 1; ; i++ {
				if _, err := p.Stream(fmt.Sprintf("a.7z.%03d", i)); err != nil {
					break
				}
			}

			got, ok := truncatedAt(p, set)
			assert.Equal(t, tt.want != "", ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func encryptedReadError() error {
	return &sevenzip.ReadError{Encrypted: true, Err: errors.New("lzma: unexpected data")}
}

func TestClassify(t *testing.T) {
	item := archive.Item{Path: "a.bin"}
	tests := []struct {
		name     string
		password string
		err      error
		want     errors.Kind
	}{
		{"encrypted stream without password", "", fmt.Errorf("init: %w", encryptedReadError()), errors.KindWrongPassword},
		{"encrypted stream with password", "pw", encryptedReadError(), errors.KindWrongPassword},
		{"checksum with password", "pw", errors.New("sevenzip: checksum error"), errors.KindWrongPassword},
		{"checksum without password", "", errors.New("sevenzip: checksum error"), errors.KindCorruptArchive},
		{"unsupported method", "", errors.New("sevenzip: unsupported compression algorithm"), errors.KindUnsupported},
		{"missing volume", "", &os.PathError{Op: "open", Path: "a.7z.002", Err: os.ErrNotExist}, errors.KindVolumeNotFound},
		{"cancelled", "", context.Canceled, errors.KindCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(archive.Options{Password: tt.password}, item, tt.err)
			assert.Equal(t, tt.want, errors.KindOf(err))
		})
	}
}
