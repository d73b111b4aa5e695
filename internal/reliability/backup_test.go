package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	objects map[string][]byte
	deleted []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (f *fakeBucket) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeBucket) List(ctx context.Context, prefix string) ([]types.Object, error) {
	var out []types.Object
	for key, data := range f.objects {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		size := int64(len(data))
		out = append(out, types.Object{Key: aws.String(key), Size: aws.Int64(size)})
	}
	return out, nil
}

func (f *fakeBucket) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func newTestBackupService(t *testing.T, fb *fakeBucket, retainN int) (*BackupService, string) {
	t.Helper()
	dataDir := t.TempDir()
	storePath := filepath.Join(dataDir, "impactengine.db")
	require.NoError(t, os.WriteFile(storePath, []byte("fake sqlite contents"), 0644))

	return &BackupService{
		uploader: fb,
		storeDB:  func() string { return storePath },
		dataDir:  dataDir,
		retainN:  retainN,
		log:      zerolog.Nop(),
	}, storePath
}

func TestBackupService_CreateAndUpload_UploadsOneArchive(t *testing.T) {
	fb := newFakeBucket()
	svc, _ := newTestBackupService(t, fb, 0)

	require.NoError(t, svc.CreateAndUpload(context.Background()))
	assert.Len(t, fb.objects, 1)
}

func TestBackupService_ArchiveContainsStoreFileAndMetadata(t *testing.T) {
	fb := newFakeBucket()
	svc, _ := newTestBackupService(t, fb, 0)
	require.NoError(t, svc.CreateAndUpload(context.Background()))

	var archive []byte
	for _, data := range fb.objects {
		archive = data
	}
	require.NotEmpty(t, archive)
	assert.True(t, bytes.HasPrefix(archive, []byte{0x1f, 0x8b}), "archive should be gzip-compressed")

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.ElementsMatch(t, []string{"impactengine.db", "backup-metadata.json"}, names)
}

func TestBackupService_RotateDeletesBeyondRetainN(t *testing.T) {
	fb := newFakeBucket()
	fb.objects[archivePrefix+"2020-01-01-000000.tar.gz"] = []byte("a")
	fb.objects[archivePrefix+"2020-01-02-000000.tar.gz"] = []byte("b")
	fb.objects[archivePrefix+"2020-01-03-000000.tar.gz"] = []byte("c")

	svc, _ := newTestBackupService(t, fb, 2)
	require.NoError(t, svc.rotate(context.Background()))

	assert.Len(t, fb.objects, 2)
	_, stillThere := fb.objects[archivePrefix+"2020-01-03-000000.tar.gz"]
	assert.True(t, stillThere)
	_, stillThere = fb.objects[archivePrefix+"2020-01-01-000000.tar.gz"]
	assert.False(t, stillThere)
}

func TestBackupService_RotateKeepsEverythingWhenRetainZero(t *testing.T) {
	fb := newFakeBucket()
	fb.objects[archivePrefix+"2020-01-01-000000.tar.gz"] = []byte("a")
	fb.objects[archivePrefix+"2020-01-02-000000.tar.gz"] = []byte("b")

	svc, _ := newTestBackupService(t, fb, 0)
	require.NoError(t, svc.rotate(context.Background()))
	assert.Len(t, fb.objects, 2)
}

func TestChecksumFile_IsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	sum1, err := checksumFile(path)
	require.NoError(t, err)
	sum2, err := checksumFile(path)
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)
	assert.Contains(t, sum1, "sha256:")
}
