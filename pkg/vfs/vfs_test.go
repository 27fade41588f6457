package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freitascorp/andromeda/pkg/hosterror"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	fsys, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { fsys.Close() })
	return fsys
}

func TestWriteTextFile_AutoCreatesParents(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.WriteTextFile("/a/b/c.txt", "hello"))

	got, err := fsys.ReadTextFile("/a/b/c.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", got)

	stat, err := fsys.Stat("/a")
	require.NoError(t, err)
	require.Equal(t, NodeDirectory, stat.Type)
}

func TestWriteTextFile_OverwritesExistingContent(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.WriteTextFile("/f.txt", "first"))
	require.NoError(t, fsys.WriteTextFile("/f.txt", "second, shorter than first is not guaranteed"))

	got, err := fsys.ReadTextFile("/f.txt")
	require.NoError(t, err)
	require.Equal(t, "second, shorter than first is not guaranteed", got)
}

func TestCreateFile_FailsIfAlreadyExists(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.WriteTextFile("/f.txt", "x"))

	_, err := fsys.CreateFile("/f.txt")
	require.True(t, hosterror.Is(err, hosterror.KindPathAlreadyExists))
}

func TestMkDir_RequiresExistingParent(t *testing.T) {
	fsys := newTestFS(t)
	err := fsys.MkDir("/missing/child")
	require.True(t, hosterror.Is(err, hosterror.KindPathNotFound))
}

func TestMkDirAll_CreatesAncestorsAndIsIdempotent(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.MkDirAll("/a/b/c"))
	require.NoError(t, fsys.MkDirAll("/a/b/c"))

	stat, err := fsys.Stat("/a/b/c")
	require.NoError(t, err)
	require.Equal(t, NodeDirectory, stat.Type)
}

func TestReadDir_ListsImmediateChildrenOnly(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.MkDirAll("/dir/sub"))
	require.NoError(t, fsys.WriteTextFile("/dir/a.txt", "a"))
	require.NoError(t, fsys.WriteTextFile("/dir/sub/b.txt", "b"))

	entries, err := fsys.ReadDir("/dir")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := map[string]NodeType{}
	for _, e := range entries {
		names[e.Name] = e.Type
	}
	require.Equal(t, NodeFile, names["a.txt"])
	require.Equal(t, NodeDirectory, names["sub"])
}

func TestRemove_FailsOnNonEmptyDirectory(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.MkDirAll("/dir"))
	require.NoError(t, fsys.WriteTextFile("/dir/a.txt", "a"))

	err := fsys.Remove("/dir")
	require.True(t, hosterror.Is(err, hosterror.KindDirectoryNotEmpty))
}

func TestRemove_RejectsRoot(t *testing.T) {
	fsys := newTestFS(t)
	err := fsys.Remove("/")
	require.Error(t, err)
}

func TestRemoveAll_DeletesSubtree(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.MkDirAll("/dir/sub"))
	require.NoError(t, fsys.WriteTextFile("/dir/a.txt", "a"))
	require.NoError(t, fsys.WriteTextFile("/dir/sub/b.txt", "b"))

	require.NoError(t, fsys.RemoveAll("/dir"))
	require.False(t, fsys.Exists("/dir"))
	require.False(t, fsys.Exists("/dir/sub/b.txt"))
}

func TestRename_RewritesDescendantPaths(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.MkDirAll("/old/sub"))
	require.NoError(t, fsys.WriteTextFile("/old/sub/file.txt", "content"))

	require.NoError(t, fsys.Rename("/old", "/new"))

	require.False(t, fsys.Exists("/old"))
	require.True(t, fsys.Exists("/new/sub/file.txt"))

	got, err := fsys.ReadTextFile("/new/sub/file.txt")
	require.NoError(t, err)
	require.Equal(t, "content", got)
}

func TestRename_FailsIfDestinationExists(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.WriteTextFile("/a.txt", "a"))
	require.NoError(t, fsys.WriteTextFile("/b.txt", "b"))

	err := fsys.Rename("/a.txt", "/b.txt")
	require.True(t, hosterror.Is(err, hosterror.KindPathAlreadyExists))
}

func TestCopyFile_FailsIfDestinationExists(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.WriteTextFile("/a.txt", "a"))
	require.NoError(t, fsys.WriteTextFile("/b.txt", "b"))

	err := fsys.CopyFile("/a.txt", "/b.txt")
	require.True(t, hosterror.Is(err, hosterror.KindPathAlreadyExists))
}

func TestWriteFile_EnforcesSizeCap(t *testing.T) {
	fsys := newTestFS(t)
	err := fsys.WriteFile("/big.bin", make([]byte, SizeCap+1))
	require.True(t, hosterror.Is(err, hosterror.KindFilesystemSizeExceeded))
}

func TestWriteFile_ChunksLargeContent(t *testing.T) {
	fsys := newTestFS(t)
	data := make([]byte, ChunkSize*2+17)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, fsys.WriteFile("/chunked.bin", data))

	got, err := fsys.ReadFile("/chunked.bin")
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestTruncate_ShrinksAndZeroExtends(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.WriteTextFile("/f.txt", "0123456789"))

	require.NoError(t, fsys.Truncate("/f.txt", 4))
	got, err := fsys.ReadFile("/f.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("0123"), got)

	require.NoError(t, fsys.Truncate("/f.txt", 6))
	got, err = fsys.ReadFile("/f.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("0123\x00\x00"), got)
}

func TestSymlink_RealPathResolvesTarget(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.WriteTextFile("/target.txt", "hi"))
	require.NoError(t, fsys.Symlink("/target.txt", "/link.txt"))

	target, err := fsys.ReadLink("/link.txt")
	require.NoError(t, err)
	require.Equal(t, "/target.txt", target)

	real, err := fsys.RealPath("/link.txt")
	require.NoError(t, err)
	require.Equal(t, "/target.txt", real)

	stat, err := fsys.Stat("/link.txt")
	require.NoError(t, err)
	require.Equal(t, NodeFile, stat.Type)

	lstat, err := fsys.LStat("/link.txt")
	require.NoError(t, err)
	require.Equal(t, NodeSymlink, lstat.Type)
}

func TestSymlink_CircularDetected(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.Symlink("/b.link", "/a.link"))
	require.NoError(t, fsys.Symlink("/a.link", "/b.link"))

	_, err := fsys.RealPath("/a.link")
	require.True(t, hosterror.Is(err, hosterror.KindCircularSymlink))
}

func TestChmod_StoresModeVerbatim(t *testing.T) {
	fsys := newTestFS(t)
	require.NoError(t, fsys.WriteTextFile("/f.txt", "x"))
	require.NoError(t, fsys.Chmod("/f.txt", 0o600))

	stat, err := fsys.Stat("/f.txt")
	require.NoError(t, err)
	require.EqualValues(t, 0o600, stat.Mode)
}

func TestExists_NeverFails(t *testing.T) {
	fsys := newTestFS(t)
	require.False(t, fsys.Exists("/nope"))
	require.True(t, fsys.Exists("/"))
}

func TestOpenFile_RequiresExistingFile(t *testing.T) {
	fsys := newTestFS(t)
	_, err := fsys.OpenFile("/nope.txt", false, false)
	require.True(t, hosterror.Is(err, hosterror.KindPathNotFound))

	require.NoError(t, fsys.MkDirAll("/dir"))
	_, err = fsys.OpenFile("/dir", false, false)
	require.True(t, hosterror.Is(err, hosterror.KindNotAFile))
}

func TestCloseHandle_RejectsUnknownRid(t *testing.T) {
	fsys := newTestFS(t)
	err := fsys.CloseHandle(999)
	require.True(t, hosterror.Is(err, hosterror.KindResourceError))
}

func TestNormalize_HandlesDotAndDotDot(t *testing.T) {
	require.Equal(t, "/", normalize(""))
	require.Equal(t, "/", normalize("/./.."))
	require.Equal(t, "/a/c", normalize("/a/b/../c"))
	require.Equal(t, "/a/b", normalize("a//b/"))
}
