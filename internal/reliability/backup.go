package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// bucket is the narrow surface BackupService needs from an S3-compatible
// client; *Uploader satisfies it. Declaring it here (rather than depending
// on *Uploader directly) lets tests exercise archive/rotate logic against a
// fake without touching the network.
type bucket interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]types.Object, error)
	Delete(ctx context.Context, key string) error
}

// archivePrefix namespaces every object this service writes, so List can
// scope to its own objects in a bucket that may hold other things.
const archivePrefix = "impactengine-backup-"

// backupMetadata is written alongside the store file inside the archive
// (spec-adjacent ambient durability concern — not named by the spec, but
// every backup needs enough self-description to verify a restore).
type backupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupInfo describes one archive found in the bucket.
type BackupInfo struct {
	Key       string
	Timestamp time.Time
	SizeBytes int64
}

// BackupService archives the engine's single SQLite store file and uploads
// it to an S3-compatible bucket, retaining the newest RetainN.
type BackupService struct {
	uploader bucket
	storeDB  func() string // returns the current store file path; indirected so backup doesn't hold a *database.DB
	dataDir  string
	retainN  int
	log      zerolog.Logger
}

// NewBackupService creates a BackupService. storePath returns the live
// store file's path at call time (a closure over *database.DB.Path,
// rather than a snapshot, since the path is fixed for the process lifetime
// but this keeps the dependency narrow).
func NewBackupService(uploader *Uploader, storePath func() string, dataDir string, retainN int, log zerolog.Logger) *BackupService {
	return &BackupService{
		uploader: uploader,
		storeDB:  storePath,
		dataDir:  dataDir,
		retainN:  retainN,
		log:      log.With().Str("component", "backup_service").Logger(),
	}
}

// CreateAndUpload archives the store file (tar+gzip, checksummed, with a
// metadata sidecar) and uploads it, then prunes anything beyond RetainN.
func (b *BackupService) CreateAndUpload(ctx context.Context) error {
	start := time.Now()

	stagingDir, err := os.MkdirTemp(b.dataDir, "backup-staging-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	storePath := b.storeDB()
	checksum, err := checksumFile(storePath)
	if err != nil {
		return fmt.Errorf("failed to checksum store file: %w", err)
	}
	info, err := os.Stat(storePath)
	if err != nil {
		return fmt.Errorf("failed to stat store file: %w", err)
	}

	meta := backupMetadata{
		Timestamp: time.Now().UTC(),
		Filename:  filepath.Base(storePath),
		SizeBytes: info.Size(),
		Checksum:  checksum,
	}
	metaPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeMetadata(metaPath, meta); err != nil {
		return fmt.Errorf("failed to write backup metadata: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02-150405")
	archiveName := fmt.Sprintf("%s%s.tar.gz", archivePrefix, timestamp)
	archivePath := filepath.Join(stagingDir, archiveName)

	if err := createArchive(archivePath, storePath, metaPath); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, size, err := openForUpload(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive for upload: %w", err)
	}
	defer archiveFile.Close()

	if err := b.uploader.Put(ctx, archiveName, archiveFile, size); err != nil {
		return err
	}

	b.log.Info().
		Dur("elapsed", time.Since(start)).
		Str("archive", archiveName).
		Int64("size_bytes", size).
		Msg("backup uploaded")

	return b.rotate(ctx)
}

// ListBackups lists every archive this service has uploaded, newest first.
func (b *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := b.uploader.List(ctx, archivePrefix)
	if err != nil {
		return nil, err
	}

	out := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		ts, ok := parseArchiveTimestamp(*obj.Key)
		if !ok {
			continue
		}
		var size int64
		if obj.Size != nil {
			size = *obj.Size
		}
		out = append(out, BackupInfo{Key: *obj.Key, Timestamp: ts, SizeBytes: size})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// rotate deletes every archive beyond the newest RetainN.
func (b *BackupService) rotate(ctx context.Context) error {
	if b.retainN <= 0 {
		return nil // 0 means retain forever
	}

	backups, err := b.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups for rotation: %w", err)
	}
	if len(backups) <= b.retainN {
		return nil
	}

	for _, old := range backups[b.retainN:] {
		if err := b.uploader.Delete(ctx, old.Key); err != nil {
			b.log.Error().Err(err).Str("key", old.Key).Msg("failed to delete old backup")
			continue
		}
		b.log.Info().Str("key", old.Key).Time("timestamp", old.Timestamp).Msg("deleted old backup")
	}
	return nil
}

func parseArchiveTimestamp(key string) (time.Time, bool) {
	name := strings.TrimPrefix(key, archivePrefix)
	name = strings.TrimSuffix(name, ".tar.gz")
	ts, err := time.Parse("2006-01-02-150405", name)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeMetadata(path string, meta backupMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

// createArchive tar+gzips storePath and metaPath into archivePath.
func createArchive(archivePath, storePath, metaPath string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer archiveFile.Close()

	gz := gzip.NewWriter(archiveFile)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	if err := addFileToArchive(tw, storePath, filepath.Base(storePath)); err != nil {
		return err
	}
	return addFileToArchive(tw, metaPath, filepath.Base(metaPath))
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{Name: nameInArchive, Size: info.Size(), Mode: int64(info.Mode()), ModTime: info.ModTime()}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
