package audit

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string]string{}
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.objects[key]
	return v, ok
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestS3Archiver_Key(t *testing.T) {
	a := NewS3Archiver(&fakePutter{}, S3Config{Prefix: "/audit/prod/"})
	assert.Equal(t, "audit/prod/security-audit-1.log", a.Key("/tmp/x/security-audit-1.log"))

	a = NewS3Archiver(&fakePutter{}, S3Config{})
	assert.Equal(t, "f.log", a.Key("/tmp/f.log"))
}

func TestS3Archiver_Archive(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "security-audit-1.log", `{"id":"1"}`+"\n")

	putter := &fakePutter{}
	a := NewS3Archiver(putter, S3Config{Bucket: "audit", Prefix: "rbacd", DeleteLocal: true})

	require.NoError(t, a.Archive(context.Background(), path))
	body, ok := putter.get("audit/rbacd/security-audit-1.log")
	require.True(t, ok)
	assert.Equal(t, `{"id":"1"}`+"\n", body)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestS3Archiver_ArchiveErrors(t *testing.T) {
	a := NewS3Archiver(&fakePutter{}, S3Config{Bucket: "audit"})
	assert.Error(t, a.Archive(context.Background(), "/does/not/exist.log"))

	path := writeFile(t, t.TempDir(), "x.log", "x")
	a = NewS3Archiver(&fakePutter{err: errors.New("denied")}, S3Config{Bucket: "audit"})
	err := a.Archive(context.Background(), path)
	assert.ErrorContains(t, err, "denied")
}

func TestS3Archiver_RunDrainsQueue(t *testing.T) {
	path := writeFile(t, t.TempDir(), "security-audit-2.log", "line\n")
	putter := &fakePutter{}
	a := NewS3Archiver(putter, S3Config{Bucket: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.OnRotate(path)
	assert.Eventually(t, func() bool {
		_, ok := putter.get("b/security-audit-2.log")
		return ok
	}, time.Second, 10*time.Millisecond)
}
