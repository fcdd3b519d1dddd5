package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/degiro-portfolio/internal/domain"
	testingpkg "github.com/aristath/degiro-portfolio/internal/testing"
)

// memoryStore is an in-memory ObjectStore
type memoryStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Upload(ctx context.Context, key string, body io.Reader) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Object
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Object{Key: key, SizeBytes: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for key := range m.objects {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// readArchive returns the files of a tar.gz keyed by name
func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[header.Name] = content
	}
	return files
}

func TestBackupService_CreateAndUploadBackup(t *testing.T) {
	portfolio, cleanupPortfolio := testingpkg.NewTestDB(t, "portfolio")
	defer cleanupPortfolio()
	clientData, cleanupClientData := testingpkg.NewTestDB(t, "client_data")
	defer cleanupClientData()

	testingpkg.SeedInstrument(t, portfolio.Conn(), testingpkg.NewInstrumentFixtures()[0])

	dataDir := t.TempDir()
	store := newMemoryStore()
	service := NewBackupService(store, dataDir, testLogger(), portfolio, clientData)
	service.now = func() time.Time { return time.Date(2024, 3, 5, 14, 30, 22, 0, time.UTC) }

	archive, err := service.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "portfolio-backup-2024-03-05-143022.tar.gz", archive)
	assert.Equal(t, []string{archive}, store.keys())

	files := readArchive(t, store.objects[archive])
	require.Contains(t, files, "portfolio.db")
	require.Contains(t, files, "client_data.db")
	require.Contains(t, files, metadataFilename)

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files[metadataFilename], &metadata))
	require.Len(t, metadata.Databases, 2)
	assert.Equal(t, "portfolio", metadata.Databases[0].Name)
	assert.Equal(t, int64(len(files["portfolio.db"])), metadata.Databases[0].SizeBytes)
	assert.True(t, strings.HasPrefix(metadata.Databases[0].Checksum, "sha256:"))

	// Staging files are removed
	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackupService_UploadFailureCleansUp(t *testing.T) {
	portfolio, cleanup := testingpkg.NewTestDB(t, "portfolio")
	defer cleanup()

	dataDir := t.TempDir()
	store := newMemoryStore()
	store.uploadErr = errors.New("access denied")
	service := NewBackupService(store, dataDir, testLogger(), portfolio)

	_, err := service.CreateAndUploadBackup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBackupService_RotateOldBackups(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	for _, daysAgo := range []int{0, 1, 40, 50, 60} {
		store.objects[ArchiveName(now.AddDate(0, 0, -daysAgo))] = []byte("x")
	}
	store.objects["notes.txt"] = []byte("ignored")

	service := NewBackupService(store, t.TempDir(), testLogger())
	service.now = func() time.Time { return now }

	backups, err := service.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 5)
	assert.Equal(t, ArchiveName(now), backups[0].Filename)
	assert.Equal(t, int64(24), backups[1].AgeHours)

	deleted, err := service.RotateOldBackups(context.Background(), 30)
	require.NoError(t, err)
	// The third newest is older than the cutoff but within the minimum kept
	assert.Equal(t, 2, deleted)
	assert.ElementsMatch(t, []string{
		ArchiveName(now),
		ArchiveName(now.AddDate(0, 0, -1)),
		ArchiveName(now.AddDate(0, 0, -40)),
		"notes.txt",
	}, store.keys())

	deleted, err = service.RotateOldBackups(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestParseArchiveName(t *testing.T) {
	ts, ok := parseArchiveName("portfolio-backup-2024-01-08-143022.tar.gz")
	require.True(t, ok)
	assert.Equal(t, "2024-01-08", domain.FormatDate(ts))

	_, ok = parseArchiveName("portfolio-backup-latest.tar.gz")
	assert.False(t, ok)
}
