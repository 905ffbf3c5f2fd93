package syscall

import (
	"rvkernel/kernel"
	"rvkernel/kernel/task"
	"rvkernel/kernel/vfs"
	"strings"
)

var errNotFound = &kernel.Error{Module: "syscall", Message: "no such file or directory", Errno: ENOENT}
var errNotDir = &kernel.Error{Module: "syscall", Message: "not a directory", Errno: ENOTDIR}

// root is the single mounted filesystem's root inode, installed once at
// boot by whatever constructs the init task's backing store (cmd/kernel's
// boot sequence). This core mounts exactly one filesystem -- there is no
// mount table to walk, matching vfs.LockTable's own "single flat table"
// reasoning for why one root is always enough here.
var root vfs.Inode

// SetRoot installs the filesystem root every absolute path and every
// relative path (via a task's Cwd) resolves against.
func SetRoot(r vfs.Inode) {
	root = r
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	return parts
}

// startInode returns the inode a path resolution begins from: root for an
// absolute path, or t's current working directory resolved against root
// for a relative one.
func startInode(t *task.TCB) (vfs.Inode, *kernel.Error) {
	if t.Cwd == "" || t.Cwd == "/" {
		return root, nil
	}
	return walk(root, splitPath(t.Cwd))
}

func walk(from vfs.Inode, parts []string) (vfs.Inode, *kernel.Error) {
	cur := from
	for _, p := range parts {
		if cur.Type() != vfs.TypeDirectory {
			return nil, errNotDir
		}
		child, err := cur.FindChild(p)
		if err != nil {
			return nil, err
		}
		cur = child
	}
	return cur, nil
}

// resolve walks path (absolute or relative to t.Cwd) to its target inode.
func resolve(t *task.TCB, path string) (vfs.Inode, *kernel.Error) {
	if root == nil {
		return nil, errNotFound
	}
	start := root
	if !strings.HasPrefix(path, "/") {
		var err *kernel.Error
		start, err = startInode(t)
		if err != nil {
			return nil, err
		}
	}
	return walk(start, splitPath(path))
}

// resolveParent walks path's directory component and returns it alongside
// the final path element, for operations (mkdir, creat, remove, mkfifo)
// that need to mutate a directory rather than look an inode up directly.
func resolveParent(t *task.TCB, path string) (dir vfs.Inode, name string, err *kernel.Error) {
	if root == nil {
		return nil, "", errNotFound
	}
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", errNotFound
	}
	start := root
	if !strings.HasPrefix(path, "/") {
		start, err = startInode(t)
		if err != nil {
			return nil, "", err
		}
	}
	dir, err = walk(start, parts[:len(parts)-1])
	if err != nil {
		return nil, "", err
	}
	if dir.Type() != vfs.TypeDirectory {
		return nil, "", errNotDir
	}
	return dir, parts[len(parts)-1], nil
}
