package syscall

import (
	"rvkernel/kernel/task"
	"rvkernel/kernel/vfs"
	"testing"
)

func setupTestRoot(t *testing.T) *vfs.MemDir {
	t.Helper()
	newRoot := vfs.NewMemDir()
	if _, err := newRoot.CreateDirectory("etc"); err != nil {
		t.Fatalf("mkdir etc: %v", err)
	}
	if _, err := newRoot.CreateFile("README"); err != nil {
		t.Fatalf("create README: %v", err)
	}
	savedRoot := root
	SetRoot(newRoot)
	t.Cleanup(func() { SetRoot(savedRoot) })
	return newRoot
}

func TestResolveAbsolutePath(t *testing.T) {
	setupTestRoot(t)
	tc := &task.TCB{}
	inode, err := resolve(tc, "/README")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inode.Type() != vfs.TypeFile {
		t.Fatalf("expected a regular file")
	}
}

func TestResolveRelativeToCwd(t *testing.T) {
	setupTestRoot(t)
	tc := &task.TCB{Cwd: "/etc"}
	etc, err := resolve(tc, "/etc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := etc.FindChild("passwd"); err == nil {
		t.Fatal("expected passwd to not exist yet")
	}
	if _, err := etc.CreateFile("passwd"); err != nil {
		t.Fatalf("create passwd: %v", err)
	}
	inode, err := resolve(tc, "passwd")
	if err != nil {
		t.Fatalf("expected passwd to resolve relative to cwd /etc: %v", err)
	}
	if inode.Type() != vfs.TypeFile {
		t.Fatalf("expected a regular file")
	}
}

func TestResolveParentSplitsFinalComponent(t *testing.T) {
	setupTestRoot(t)
	tc := &task.TCB{}
	dir, name, err := resolveParent(tc, "/etc/passwd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "passwd" {
		t.Fatalf("expected final component 'passwd', got %q", name)
	}
	if dir.Type() != vfs.TypeDirectory {
		t.Fatalf("expected the parent to be a directory")
	}
}

func TestResolveMissingPathFails(t *testing.T) {
	setupTestRoot(t)
	tc := &task.TCB{}
	if _, err := resolve(tc, "/nope"); err == nil {
		t.Fatal("expected ENOENT for a missing path")
	}
}
