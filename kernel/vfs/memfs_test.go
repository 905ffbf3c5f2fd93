package vfs

import "testing"

func TestMemDirCreateAndFindChild(t *testing.T) {
	dir := NewMemDir()
	f, err := dir.CreateFile("a.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found, err := dir.FindChild("a.txt")
	if err != nil || found != f {
		t.Fatalf("expected to find the file just created, got %v/%v", found, err)
	}
}

func TestMemDirCreateFileDuplicateFails(t *testing.T) {
	dir := NewMemDir()
	if _, err := dir.CreateFile("a.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dir.CreateFile("a.txt"); err == nil || err.Errno != ErrnoExists {
		t.Fatalf("expected EEXIST, got %v", err)
	}
}

func TestMemDirRemoveNonEmptyDirectoryFails(t *testing.T) {
	dir := NewMemDir()
	sub, _ := dir.CreateDirectory("sub")
	sub.CreateFile("inner")
	if err := dir.Remove("sub"); err == nil || err.Errno != ErrnoNotEmpty {
		t.Fatalf("expected ENOTEMPTY, got %v", err)
	}
}

func TestMemFileReadWriteAt(t *testing.T) {
	f := NewMemFile()
	if _, err := f.WriteAt(0, []byte("hello world")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buf := make([]byte, 5)
	n, err := f.ReadAt(6, buf)
	if err != nil || n != 5 || string(buf) != "world" {
		t.Fatalf("expected to read 'world' at offset 6, got %q/%v", buf[:n], err)
	}
}

func TestMemFileTruncateShrinksAndGrows(t *testing.T) {
	f := NewMemFile()
	f.WriteAt(0, []byte("0123456789"))
	if err := f.Truncate(4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Size() != 4 {
		t.Fatalf("expected size 4 after truncate, got %d", f.Size())
	}
	if err := f.Truncate(8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Size() != 8 {
		t.Fatalf("expected size 8 after growing truncate, got %d", f.Size())
	}
}

func TestMemFileSetModeAndOwner(t *testing.T) {
	f := NewMemFile()
	if err := f.SetMode(0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Mode() != 0o600 {
		t.Fatalf("expected mode 0600, got %o", f.Mode())
	}
	if err := f.SetOwner(7, 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.UID() != 7 || f.GID() != 8 {
		t.Fatalf("expected uid/gid 7/8, got %d/%d", f.UID(), f.GID())
	}
}
