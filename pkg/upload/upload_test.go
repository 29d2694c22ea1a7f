package upload

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/ethpandaops/dagsync/pkg/collector"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	key         string
	body        string
	size        int64
	contentType string
}

type fakeStore struct {
	calls []putCall
	fail  map[string]error
}

func (s *fakeStore) Put(
	_ context.Context, key string, body io.ReadSeeker, size int64, contentType string,
) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	s.calls = append(s.calls, putCall{
		key:         key,
		body:        string(data),
		size:        size,
		contentType: contentType,
	})

	if err, ok := s.fail[key]; ok {
		return err
	}

	return nil
}

func (s *fakeStore) keys() []string {
	keys := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		keys = append(keys, c.key)
	}

	return keys
}

type fakeOpener struct {
	store   *fakeStore
	err     error
	opened  int
	buckets []string
}

func (o *fakeOpener) open(_ context.Context, bucket string) (ObjectStore, error) {
	o.opened++
	o.buckets = append(o.buckets, bucket)

	if o.err != nil {
		return nil, o.err
	}

	return o.store, nil
}

func stage(t *testing.T, fs afero.Fs, files map[string]string) *collector.Staging {
	t.Helper()

	require.NoError(t, fs.MkdirAll("/src", 0o755))

	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, "/src/"+path, []byte(content), 0o644))
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	c := collector.New(log, fs, collector.Options{
		IgnorePatterns: []string{"__init__.py", "*_test.py"},
		Extensions:     []string{".py"},
		TempDir:        "/tmp",
	})

	staging, err := c.Collect(context.Background(), "/src")
	require.NoError(t, err)

	return staging
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	return log, hook
}

func newTestUploader(fs afero.Fs, opener *fakeOpener, prefix string) (*Uploader, *test.Hook) {
	log, hook := newTestLogger()

	return New(log, fs, opener.open, Options{Prefix: prefix}), hook
}

func stagingExists(t *testing.T, fs afero.Fs, s *collector.Staging) bool {
	t.Helper()

	exists, err := afero.DirExists(fs, s.Root)
	require.NoError(t, err)

	return exists
}

func TestUpload_AllFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	staging := stage(t, fs, map[string]string{
		"etl.py":              "etl",
		"reports/daily.py":    "daily",
		"reports/sql/week.py": "week",
	})

	opener := &fakeOpener{store: &fakeStore{}}
	u, _ := newTestUploader(fs, opener, "dags/")

	require.NoError(t, u.Upload(context.Background(), staging, "composer-bucket"))

	assert.Equal(t, 1, opener.opened)
	assert.Equal(t, []string{"composer-bucket"}, opener.buckets)
	assert.Equal(t, []string{
		"dags/etl.py",
		"dags/reports/daily.py",
		"dags/reports/sql/week.py",
	}, opener.store.keys())

	assert.Equal(t, "daily", opener.store.calls[1].body)
	assert.Equal(t, int64(5), opener.store.calls[1].size)
	assert.NotEmpty(t, opener.store.calls[1].contentType)

	assert.False(t, stagingExists(t, fs, staging))
}

func TestUpload_EmptyDoesNotOpenBucket(t *testing.T) {
	fs := afero.NewMemMapFs()
	staging := stage(t, fs, map[string]string{
		"__init__.py": "",
		"etl_test.py": "",
	})
	require.Empty(t, staging.Files)

	opener := &fakeOpener{store: &fakeStore{}}
	u, hook := newTestUploader(fs, opener, "dags/")

	require.NoError(t, u.Upload(context.Background(), staging, "composer-bucket"))

	assert.Equal(t, 0, opener.opened)
	assert.False(t, stagingExists(t, fs, staging))

	var found bool

	for _, e := range hook.AllEntries() {
		if e.Message == "No DAGs found to upload" {
			found = true
		}
	}

	assert.True(t, found, "expected a no-files log entry")
}

func TestUpload_PerFileFailureContinues(t *testing.T) {
	fs := afero.NewMemMapFs()
	staging := stage(t, fs, map[string]string{
		"a.py": "a",
		"b.py": "b",
		"c.py": "c",
	})

	opener := &fakeOpener{store: &fakeStore{
		fail: map[string]error{"dags/b.py": errors.New("permission denied")},
	}}
	u, hook := newTestUploader(fs, opener, "dags")

	require.NoError(t, u.Upload(context.Background(), staging, "composer-bucket"))

	assert.Equal(t, []string{"dags/a.py", "dags/b.py", "dags/c.py"}, opener.store.keys())
	assert.False(t, stagingExists(t, fs, staging))

	var errEntries []*logrus.Entry

	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errEntries = append(errEntries, e)
		}
	}

	require.Len(t, errEntries, 1)
	assert.Equal(t, "dags/b.py", errEntries[0].Data["key"])
	assert.True(t, strings.HasSuffix(errEntries[0].Data["file"].(string), "b.py"))
	assert.Contains(t, errEntries[0].Data[logrus.ErrorKey].(error).Error(), "permission denied")

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "Upload completed", last.Message)
	assert.Equal(t, 2, last.Data["uploaded"])
	assert.Equal(t, 1, last.Data["failed"])
}

func TestUpload_OpenerFailureIsFatal(t *testing.T) {
	fs := afero.NewMemMapFs()
	staging := stage(t, fs, map[string]string{"a.py": "a"})

	opener := &fakeOpener{err: errors.New("no credentials")}
	u, _ := newTestUploader(fs, opener, "dags/")

	err := u.Upload(context.Background(), staging, "composer-bucket")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
	assert.False(t, stagingExists(t, fs, staging))
}

func TestUpload_Idempotent(t *testing.T) {
	run := func() []string {
		fs := afero.NewMemMapFs()
		staging := stage(t, fs, map[string]string{
			"etl.py":           "etl",
			"reports/daily.py": "daily",
		})

		opener := &fakeOpener{store: &fakeStore{}}
		u, _ := newTestUploader(fs, opener, "dags/")
		require.NoError(t, u.Upload(context.Background(), staging, "composer-bucket"))

		return opener.store.keys()
	}

	assert.Equal(t, run(), run())
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		rel    string
		want   string
	}{
		{name: "default prefix", prefix: "dags/", rel: "etl.py", want: "dags/etl.py"},
		{name: "prefix without slash", prefix: "dags", rel: "etl.py", want: "dags/etl.py"},
		{name: "nested path", prefix: "dags/", rel: "reports/sql/week.py", want: "dags/reports/sql/week.py"},
		{name: "multi-level prefix", prefix: "env/prod/dags/", rel: "etl.py", want: "env/prod/dags/etl.py"},
		{name: "empty prefix", prefix: "", rel: "etl.py", want: "etl.py"},
		{name: "leading slash stripped", prefix: "/dags", rel: "etl.py", want: "dags/etl.py"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectKey(tt.prefix, tt.rel))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		content    string
		wantPrefix string
	}{
		{
			name:       "json file",
			path:       "dags/config.json",
			content:    `{"a": 1}`,
			wantPrefix: "application/json",
		},
		{
			name:       "no extension sniffed as text",
			path:       "dags/Makefile",
			content:    "all:\n\techo hi\n",
			wantPrefix: "text/plain",
		},
		{
			name:       "txt file",
			path:       "dags/notes.txt",
			content:    "notes",
			wantPrefix: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.NewReader(tt.content)

			got, err := detectContentType(tt.path, body)
			require.NoError(t, err)
			assert.Contains(t, got, tt.wantPrefix)

			rest, err := io.ReadAll(body)
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(rest), "body must be rewound")
		})
	}
}
