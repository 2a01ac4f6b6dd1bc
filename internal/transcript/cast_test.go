package transcript

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_WritesCast(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(&buf, "run-1")
	require.NoError(t, err)

	require.NoError(t, r.WriteOutput([]byte("address: bc1q\r\n")))
	require.NoError(t, r.WriteOutput([]byte("done \"quoted\"\r\n")))
	require.NoError(t, r.Close())

	header, events, err := Read(&buf)
	require.NoError(t, err)

	assert.Equal(t, 2, header.Version)
	assert.Equal(t, Columns, header.Width)
	assert.Equal(t, "run-1", header.Title)
	require.Len(t, events, 2)
	assert.Equal(t, "o", events[0].Kind)
	assert.LessOrEqual(t, events[0].Offset, events[1].Offset)
	assert.Equal(t, "address: bc1q\r\ndone \"quoted\"\r\n", Text(events))
}

func TestRecorder_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(&buf, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, r.WriteOutput([]byte("x\r\n")))
			}
		}()
	}
	wg.Wait()

	_, events, err := Read(&buf)
	require.NoError(t, err)
	assert.Len(t, events, 400)
}

func TestDir_Open(t *testing.T) {
	root := filepath.Join(t.TempDir(), "casts")
	d, err := NewDir(root)
	require.NoError(t, err)

	tr, err := d.Open("abc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "abc.cast"), tr.Path())

	require.NoError(t, tr.WriteOutput([]byte("hello\r\n")))
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	f, err := os.Open(tr.Path())
	require.NoError(t, err)
	defer f.Close()

	_, events, err := Read(f)
	require.NoError(t, err)
	assert.Equal(t, "hello\r\n", Text(events))
}

func TestDir_PathForStaysInside(t *testing.T) {
	d := &Dir{root: "/data/casts"}
	assert.Equal(t, "/data/casts/passwd.cast", d.PathFor("../../etc/passwd"))
}

func TestRead_Invalid(t *testing.T) {
	_, _, err := Read(strings.NewReader(""))
	assert.Error(t, err)

	_, _, err = Read(strings.NewReader("{\"version\":2}\n[1,\"o\"]\n"))
	assert.Error(t, err)
}
