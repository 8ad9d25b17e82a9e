package destination_test

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/keboola/go-utils/pkg/wildcards"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	. "github.com/keboola/go-envelope-client/pkg/destination"
)

func response(header map[string]string) *http.Response {
	res := &http.Response{StatusCode: http.StatusOK, Header: make(http.Header)}
	for k, v := range header {
		res.Header.Set(k, v)
	}
	return res
}

func TestSuggestedFilename(t *testing.T) {
	t.Parallel()

	uuidPattern := `[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`
	cases := []struct {
		name     string
		header   map[string]string
		expected string
	}{
		{name: "disposition", header: map[string]string{"Content-Disposition": `attachment; filename="report.csv"`}, expected: `^report\.csv$`},
		{name: "disposition path", header: map[string]string{"Content-Disposition": `attachment; filename="../../etc/passwd"`}, expected: `^passwd$`},
		{name: "disposition backslash", header: map[string]string{"Content-Disposition": `attachment; filename="..\\secret.txt"`}, expected: `^secret\.txt$`},
		{name: "disposition without name", header: map[string]string{"Content-Disposition": `attachment`, "Content-Type": "image/png"}, expected: `^` + uuidPattern + `\.png$`},
		{name: "content type", header: map[string]string{"Content-Type": "image/jpeg; charset=binary"}, expected: `^` + uuidPattern + `\.jpeg$`},
		{name: "nothing", header: nil, expected: `^` + uuidPattern + `$`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Regexp(t, regexp.MustCompile(tc.expected), SuggestedFilename(response(tc.header)))
		})
	}
}

func TestDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", DefaultDirName)
	res := response(map[string]string{"Content-Disposition": `attachment; filename="report.txt"`})

	// Directory is created
	writer, location, err := Dir{Path: dir}.Create(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.txt"), location)
	_, err = io.WriteString(writer, "old content")
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	// Existing file is overwritten
	writer, location, err = Dir{Path: dir}.Create(context.Background(), res)
	require.NoError(t, err)
	_, err = io.WriteString(writer, "new")
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	content, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
}

func TestDefaultDir(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultDirName, filepath.Base(DefaultDir().Path))
}

func TestTemp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	res := response(map[string]string{"Content-Type": "text/plain"})

	writer1, location1, err := Temp{Dir: dir}.Create(context.Background(), res)
	require.NoError(t, err)
	writer2, location2, err := Temp{Dir: dir}.Create(context.Background(), res)
	require.NoError(t, err)
	require.NoError(t, writer1.Close())
	require.NoError(t, writer2.Close())

	assert.NotEqual(t, location1, location2)
	assert.Equal(t, dir, filepath.Dir(location1))
	assert.True(t, strings.HasPrefix(filepath.Base(location1), "download-"))
	assert.Equal(t, ".plain", filepath.Ext(location1))
}

func TestBucket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	bucket := memblob.OpenBucket(nil)
	defer func() { assert.NoError(t, bucket.Close()) }()

	res := response(map[string]string{
		"Content-Disposition": `attachment; filename="image.png"`,
		"Content-Type":        "image/png",
	})
	writer, key, err := Bucket{Bucket: bucket, Prefix: "downloads/user-1"}.Create(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, "downloads/user-1/image.png", key)
	_, err = io.WriteString(writer, "png data")
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	content, err := bucket.ReadAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "png data", string(content))
	attrs, err := bucket.Attributes(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "image/png", attrs.ContentType)
}

func TestParse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dst, closeFn, err := Parse(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, Temp{}, dst)
	assert.NoError(t, closeFn())

	dst, closeFn, err = Parse(ctx, "temp")
	require.NoError(t, err)
	assert.Equal(t, Temp{}, dst)
	assert.NoError(t, closeFn())

	dst, closeFn, err = Parse(ctx, "/tmp/my-downloads")
	require.NoError(t, err)
	assert.Equal(t, Dir{Path: "/tmp/my-downloads"}, dst)
	assert.NoError(t, closeFn())

	dst, closeFn, err = Parse(ctx, "mem://")
	require.NoError(t, err)
	assert.IsType(t, Bucket{}, dst)
	assert.NoError(t, closeFn())

	dir := t.TempDir()
	dst, closeFn, err = Parse(ctx, "file://"+filepath.ToSlash(dir))
	require.NoError(t, err)
	writer, key, err := dst.Create(ctx, response(map[string]string{"Content-Disposition": `attachment; filename="a.txt"`}))
	require.NoError(t, err)
	_, err = io.WriteString(writer, "foo")
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	assert.Equal(t, "a.txt", key)
	assert.NoError(t, closeFn())
	content, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "foo", string(content))

	_, _, err = Parse(ctx, "unknown://bucket?secret=foo")
	require.Error(t, err)
	wildcards.Assert(t, `cannot open bucket "unknown://bucket": %s`, err.Error())
}
