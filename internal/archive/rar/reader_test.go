package rar

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/javi11/rardecode/v2"
	"github.com/javi11/zipxtract/internal/archive"
	"github.com/javi11/zipxtract/internal/errors"
	"github.com/javi11/zipxtract/internal/volume"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The testdata archives are RAR 1.5 volumes with stored entries:
// stored.part1.rar holds docs/ and docs/one.txt, stored.part2.rar holds
// two.txt, and secret.rar holds one encrypted entry.
var (
	oneBody = strings.Repeat("first volume file\n", 40)
	twoBody = strings.Repeat("second volume file\n", 55)
)

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
	r, err := Open(context.Background(), p, set, archive.Kind{Format: archive.FormatRar}, opts)
	return r, p, err
}

func TestReader_VolumeSetOpenedFromLaterVolume(t *testing.T) {
	fsys := afero.NewMemMapFs()
	loadFixtures(t, fsys, "stored.part1.rar", "stored.part2.rar")

	r, p, err := openSet(t, fsys, "/in/stored.part2.rar", archive.Options{})
	require.NoError(t, err)
	defer r.Close()

	items, err := r.Items()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.True(t, items[0].IsDir)
	assert.Equal(t, "docs", items[0].Path)
	assert.Equal(t, "docs/one.txt", items[1].Path)
	assert.Equal(t, int64(len(oneBody)), items[1].Size)
	assert.Equal(t, "two.txt", items[2].Path)
	assert.Equal(t, 2, items[2].Index)

	sink := newMemSink()
	require.NoError(t, r.Extract(context.Background(), sink))
	assert.Equal(t, []string{"docs"}, sink.dirs)
	assert.Equal(t, oneBody, string(sink.files["docs/one.txt"]))
	assert.Equal(t, twoBody, string(sink.files["two.txt"]))

	assert.Equal(t, []string{"stored.part1.rar", "stored.part2.rar"}, p.Opened())
}

func TestReader_MissingVolume(t *testing.T) {
	fsys := afero.NewMemMapFs()
	loadFixtures(t, fsys, "stored.part1.rar")

	_, _, err := openSet(t, fsys, "/in/stored.part1.rar", archive.Options{})
	require.Error(t, err)
	assert.Equal(t, errors.KindVolumeNotFound, errors.KindOf(err))
	assert.Contains(t, err.Error(), "stored.part2.rar is missing")
}

func TestReader_EncryptedEntry(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantMsg  string
	}{
		{name: "no password", wantMsg: "password required for secret.txt"},
		{name: "wrong password", password: "nope", wantMsg: "wrong password for secret.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := afero.NewMemMapFs()
			loadFixtures(t, fsys, "secret.rar")

			r, _, err := openSet(t, fsys, "/in/secret.rar", archive.Options{Password: tt.password})
			require.NoError(t, err)
			defer r.Close()

			items, err := r.Items()
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.True(t, items[0].Encrypted)

			err = r.Extract(context.Background(), newMemSink())
			require.Error(t, err)
			assert.Equal(t, errors.KindWrongPassword, errors.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestReader_CancelledBetweenEntries(t *testing.T) {
	fsys := afero.NewMemMapFs()
	loadFixtures(t, fsys, "stored.part1.rar", "stored.part2.rar")

	r, _, err := openSet(t, fsys, "/in/stored.part1.rar", archive.Options{})
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := newMemSink()
	sink.created = func(archive.Item) { cancel() }

	err = r.Extract(ctx, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCancelled)
	assert.Equal(t, oneBody, string(sink.files["docs/one.txt"]))
	assert.NotContains(t, sink.files, "two.txt")
}

func TestClassify(t *testing.T) {
	plain := archive.Item{Path: "a.bin"}
	secret := archive.Item{Path: "a.bin", Encrypted: true}
	missing := &fs.PathError{Op: "open", Path: "a.part2.rar", Err: fs.ErrNotExist}

	tests := []struct {
		name     string
		password string
		multi    bool
		item     archive.Item
		err      error
		want     errors.Kind
	}{
		{"archive encrypted", "", false, plain, rardecode.ErrArchiveEncrypted, errors.KindWrongPassword},
		{"entry encrypted", "", false, plain, rardecode.ErrArchivedFileEncrypted, errors.KindWrongPassword},
		{"rar5 password check", "pw", false, plain, fmt.Errorf("open: %w", rardecode.ErrBadPassword), errors.KindWrongPassword},
		{"checksum of encrypted entry", "pw", false, secret, rardecode.ErrBadFileChecksum, errors.KindWrongPassword},
		{"checksum of plain entry", "", false, plain, rardecode.ErrBadFileChecksum, errors.KindCorruptArchive},
		{"continues in next file", "", true, plain, rardecode.ErrMultiVolume, errors.KindVolumeNotFound},
		{"next volume missing", "", true, plain, missing, errors.KindVolumeNotFound},
		{"set ended early", "", true, plain, rardecode.ErrUnexpectedArcEnd, errors.KindVolumeNotFound},
		{"single file ended early", "", false, plain, rardecode.ErrUnexpectedArcEnd, errors.KindCorruptArchive},
		{"unknown decoder", "", false, plain, rardecode.ErrUnknownDecoder, errors.KindUnsupported},
		{"unsupported decoder", "", false, plain, rardecode.ErrUnsupportedDecoder, errors.KindUnsupported},
		{"bad header", "", false, plain, rardecode.ErrBadHeaderCRC, errors.KindCorruptArchive},
		{"message mentions password", "", false, plain, errors.New("password field too long"), errors.KindCorruptArchive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := volume.NewProvider(context.Background(), afero.NewMemMapFs(), "/in/a.part1.rar")
			defer p.Close()
			r := &reader{p: p, name: "a.part1.rar", multi: tt.multi, opts: archive.Options{Password: tt.password}}

			err := r.classify(tt.item, tt.err)
			assert.Equal(t, tt.want, errors.KindOf(err))
		})
	}
}
