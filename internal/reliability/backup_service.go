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

	"github.com/aristath/arena/internal/events"
	"github.com/rs/zerolog"
)

const (
	archivePrefix   = "arena-backup-"
	archiveSuffix   = ".tar.gz"
	timestampLayout = "2006-01-02-150405"
	metadataFile    = "backup-metadata.json"
	minRetained     = 1
)

// Snapshotter writes a consistent copy of one database to a path
type Snapshotter interface {
	Name() string
	BackupTo(ctx context.Context, destPath string) error
}

// Emitter publishes typed events
type Emitter interface {
	Emit(module string, data events.EventData)
}

// BackupMetadata is written into every archive
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes one database file in an archive
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	Checksum  string `json:"checksum"`
	SizeBytes int64  `json:"size_bytes"`
}

// BackupInfo is one archive in the bucket
type BackupInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	SizeBytes int64     `json:"size_bytes"`
}

// BackupService archives the databases and ships them to object storage
type BackupService struct {
	now       func() time.Time
	store     ObjectStore
	emitter   Emitter
	databases []Snapshotter
	dataDir   string
	prefix    string
	log       zerolog.Logger
	retain    int
}

// NewBackupService creates a backup service. retain is the number of
// archives kept in the bucket; older ones are pruned after each upload.
func NewBackupService(
	store ObjectStore,
	databases []Snapshotter,
	dataDir string,
	prefix string,
	retain int,
	emitter Emitter,
	log zerolog.Logger,
) *BackupService {
	if retain < minRetained {
		retain = minRetained
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BackupService{
		now:       time.Now,
		store:     store,
		emitter:   emitter,
		databases: databases,
		dataDir:   dataDir,
		prefix:    prefix,
		retain:    retain,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUpload snapshots every database into one tar.gz archive, uploads
// it and prunes old archives. Pruning failures are logged, not returned.
func (s *BackupService) CreateAndUpload(ctx context.Context) (*BackupInfo, error) {
	start := s.now()
	s.log.Info().Int("databases", len(s.databases)).Msg("Starting backup")

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := BackupMetadata{
		Timestamp: start.UTC(),
		Version:   "1",
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}
	files := make([]string, 0, len(s.databases)+1)

	for _, db := range s.databases {
		filename := db.Name() + ".db"
		path := filepath.Join(stagingDir, filename)
		if err := db.BackupTo(ctx, path); err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(path)
		if err != nil {
			return nil, fmt.Errorf("failed to checksum %s: %w", db.Name(), err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      db.Name(),
			Filename:  filename,
			Checksum:  checksum,
			SizeBytes: info.Size(),
		})
		files = append(files, filename)
	}

	if err := writeMetadata(filepath.Join(stagingDir, metadataFile), metadata); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataFile)

	key := s.prefix + archivePrefix + start.UTC().Format(timestampLayout) + archiveSuffix
	archivePath := filepath.Join(stagingDir, filepath.Base(key))
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	info, err := archive.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	if err := s.store.Upload(ctx, key, archive, info.Size()); err != nil {
		return nil, err
	}

	pruned, err := s.Prune(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to prune old backups")
	}

	duration := s.now().Sub(start)
	if s.emitter != nil {
		s.emitter.Emit("reliability", &events.BackupCompletedData{
			Key:       key,
			Databases: len(metadata.Databases),
			SizeBytes: info.Size(),
			Duration:  duration.Seconds(),
			Pruned:    pruned,
		})
	}

	s.log.Info().
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Int("pruned", pruned).
		Dur("duration", duration).
		Msg("Backup completed")

	return &BackupInfo{Timestamp: metadata.Timestamp, Key: key, SizeBytes: info.Size()}, nil
}

// ListBackups returns the archives in the bucket, newest first. Keys that do
// not parse as archives are ignored.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, s.prefix+archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, s.prefix)
		if !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, archivePrefix), archiveSuffix)
		ts, err := time.Parse(timestampLayout, stamp)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping backup with unparseable timestamp")
			continue
		}
		backups = append(backups, BackupInfo{Timestamp: ts, Key: obj.Key, SizeBytes: obj.Size})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Prune deletes every archive beyond the newest retain ones and returns how
// many were deleted
func (s *BackupService) Prune(ctx context.Context) (int, error) {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= s.retain {
		return 0, nil
	}

	deleted := 0
	for _, b := range backups[s.retain:] {
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Name returns the job name for the scheduler
func (s *BackupService) Name() string {
	return "backup"
}

// Run implements the scheduler job contract
func (s *BackupService) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	_, err := s.CreateAndUpload(ctx)
	return err
}

func fileChecksum(path string) (string, error) {
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

func writeMetadata(path string, metadata BackupMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, files []string) (err error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, name := range files {
		if err := addFile(tw, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}
