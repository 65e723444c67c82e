package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/marketplace/internal/database"
	"github.com/dukerupert/marketplace/internal/store"
)

type object struct {
	data     []byte
	modified time.Time
}

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string]object
	clock   time.Time
	putErr  error
}

func newMockS3(clock time.Time) *mockS3Client {
	return &mockS3Client{objects: make(map[string]object), clock: clock}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, _ := io.ReadAll(input.Body)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*input.Key] = object{data: data, modified: m.clock}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(obj.data)))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(input.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		modified := m.objects[k].modified
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), LastModified: &modified})
	}
	return out, nil
}

func (m *mockS3Client) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var testNow = time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)

func newTestArchiver(t *testing.T, client *mockS3Client) (*Archiver, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := store.NewCreatorStore(db).Create(context.Background(), "creator-user", "Ada", decimal.RequireFromString("0.15")); err != nil {
		t.Fatalf("create creator: %v", err)
	}

	a := New(Config{
		S3:         S3Config{Bucket: "ledger", AccessKey: "key", SecretKey: "secret", Region: "us-east-1"},
		Passphrase: "pass",
		Prefix:     "prod/",
		Retention:  7 * 24 * time.Hour,
	}, db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.client = client
	a.now = func() time.Time { return testNow }
	return a, dbPath
}

func TestDisabledWithoutConfig(t *testing.T) {
	a := New(Config{S3: S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s"}}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if a.Enabled() {
		t.Error("expected disabled without a passphrase")
	}
	if got := a.Status().State; got != StateDisabled {
		t.Errorf("state = %q, want %q", got, StateDisabled)
	}
	if _, err := a.Snapshot(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("Snapshot error = %v, want ErrDisabled", err)
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	client := newMockS3(testNow)
	a, _ := newTestArchiver(t, client)
	ctx := context.Background()

	key, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if want := "prod/ledger-2026-03-01T040000Z.db.enc"; key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
	st := a.Status()
	if st.State != StateIdle || st.LastKey != key || st.LastSnapshot == nil {
		t.Errorf("status = %+v, want idle with last key %q", st, key)
	}

	restored := filepath.Join(t.TempDir(), "restored.db")
	if err := a.Restore(ctx, strings.TrimPrefix(key, "prod/"), restored); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	db, err := database.Open(restored)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer db.Close()
	c, err := store.NewCreatorStore(db).GetByUserID(ctx, "creator-user")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if c == nil || c.DisplayName != "Ada" {
		t.Errorf("restored creator = %+v, want Ada", c)
	}
}

func TestRestoreWrongPassphrase(t *testing.T) {
	client := newMockS3(testNow)
	a, _ := newTestArchiver(t, client)
	ctx := context.Background()

	key, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	a.cfg.Passphrase = "wrong"
	if err := a.Restore(ctx, key, filepath.Join(t.TempDir(), "x.db")); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Restore error = %v, want ErrCorrupt", err)
	}
}

func TestSnapshotUploadFailure(t *testing.T) {
	client := newMockS3(testNow)
	client.putErr = errors.New("connection reset")
	a, _ := newTestArchiver(t, client)

	if _, err := a.Snapshot(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	st := a.Status()
	if st.State != StateError {
		t.Errorf("state = %q, want %q", st.State, StateError)
	}
	if !strings.Contains(st.Error, "connection reset") {
		t.Errorf("error = %q, want upload cause", st.Error)
	}
}

func TestPrune(t *testing.T) {
	client := newMockS3(testNow.Add(-10 * 24 * time.Hour))
	client.objects["prod/ledger-old.db.enc"] = object{data: []byte("x"), modified: testNow.Add(-10 * 24 * time.Hour)}
	client.objects["prod/ledger-recent.db.enc"] = object{data: []byte("x"), modified: testNow.Add(-time.Hour)}
	client.objects["other/ledger-old.db.enc"] = object{data: []byte("x"), modified: testNow.Add(-30 * 24 * time.Hour)}
	a, _ := newTestArchiver(t, client)

	n, err := a.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	want := []string{"other/ledger-old.db.enc", "prod/ledger-recent.db.enc"}
	got := client.keys()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("remaining = %v, want %v", got, want)
	}
}
