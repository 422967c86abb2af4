package x3fs

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/x3fs/internal/dir"
	"github.com/hupe1980/x3fs/internal/fdtable"
	"github.com/hupe1980/x3fs/internal/format"
)

// Entry is one line of a directory listing.
type Entry struct {
	Name string
	Kind string // "file", "dir" or "link"
	Head uint32
	Size uint32
}

// Mkdir creates an empty directory in the current directory.
func (s *FS) Mkdir(name string) (err error) {
	start := time.Now()
	defer func() {
		s.observe("mkdir", start, err)
		s.logger.LogOp("mkdir", name, err)
	}()
	return pathError("mkdir", name, s.mkdir(name))
}

func (s *FS) mkdir(name string) error {
	if err := s.checkNew(name); err != nil {
		return err
	}
	bid, err := s.fat.Allocate(format.NoBlock)
	if err != nil {
		return err
	}
	child := dir.New(bid, s.cwd.Bid, s.capacity())
	if err := child.Store(s.dev); err != nil {
		s.fat.FreeChain(bid)
		return err
	}
	fcb := format.NewFCB(name, format.AttrDirectory)
	fcb.Head = bid
	if _, err := s.cwd.Append(fcb); err != nil {
		s.fat.FreeChain(bid)
		return err
	}
	return s.persist(s.cwd)
}

// Create creates an empty regular file in the current directory. No blocks
// are allocated until the first write.
func (s *FS) Create(name string) (err error) {
	start := time.Now()
	defer func() {
		s.observe("create", start, err)
		s.logger.LogOp("create", name, err)
	}()
	return pathError("create", name, s.create(name))
}

func (s *FS) create(name string) error {
	if err := s.checkNew(name); err != nil {
		return err
	}
	if _, err := s.cwd.Append(format.NewFCB(name, 0)); err != nil {
		return err
	}
	return s.persist(s.cwd)
}

// Symlink creates a symbolic link called name holding target. The target
// is stored as data and never resolved.
func (s *FS) Symlink(target, name string) (err error) {
	start := time.Now()
	defer func() {
		s.observe("symlink", start, err)
		s.logger.LogOp("symlink", name, err)
	}()
	return pathError("symlink", name, s.symlink(target, name))
}

func (s *FS) symlink(target, name string) error {
	if target == "" {
		return fmt.Errorf("%w: empty link target", format.ErrInvalidArgument)
	}
	if err := s.checkNew(name); err != nil {
		return err
	}
	d := &fdtable.Descriptor{FCB: format.NewFCB(name, format.AttrSymlink)}
	if _, err := s.io.Write(d, []byte(target)); err != nil {
		s.fat.FreeChain(d.FCB.Head)
		return err
	}
	if _, err := s.cwd.Append(d.FCB); err != nil {
		s.fat.FreeChain(d.FCB.Head)
		return err
	}
	return s.persist(s.cwd)
}

// Readlink returns the target stored in the symbolic link name.
func (s *FS) Readlink(name string) (target string, err error) {
	start := time.Now()
	defer func() {
		s.observe("readlink", start, err)
		s.logger.LogOp("readlink", name, err)
	}()
	if err := s.check(); err != nil {
		return "", pathError("readlink", name, err)
	}
	i, err := s.lookup(name)
	if err != nil {
		return "", pathError("readlink", name, err)
	}
	fcb := s.cwd.Entries[i]
	if !fcb.IsSymlink() {
		return "", pathError("readlink", name, fmt.Errorf("%w: not a symbolic link", format.ErrInvalidArgument))
	}
	b, err := s.io.ReadAll(fcb)
	if err != nil {
		return "", pathError("readlink", name, err)
	}
	return string(b), nil
}

// Rmdir removes the directory name together with everything beneath it.
// It fails with ErrBusy while any file below it is open.
func (s *FS) Rmdir(name string) (err error) {
	start := time.Now()
	defer func() {
		s.observe("rmdir", start, err)
		s.logger.LogOp("rmdir", name, err)
	}()
	return pathError("rmdir", name, s.rmdir(name))
}

func (s *FS) rmdir(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	i, err := s.lookup(name)
	if err != nil {
		return err
	}
	fcb := s.cwd.Entries[i]
	if !fcb.IsDirectory() {
		return format.ErrNotADirectory
	}

	dirs, heads, err := s.subtree(fcb.Head)
	if err != nil {
		return err
	}
	for _, bid := range dirs {
		if s.fds.InDirectory(bid) {
			return format.ErrBusy
		}
	}
	for _, head := range heads {
		s.fat.FreeChain(head)
	}
	for _, bid := range dirs {
		s.fat.FreeChain(bid)
	}

	s.cwd.RemoveAt(i)
	s.fds.Compacted(s.cwd.Bid, i)
	return s.persist(s.cwd)
}

// subtree collects the directory blocks rooted at top and the data chain
// heads of every file and link beneath them.
func (s *FS) subtree(top format.BlockID) (dirs, heads []format.BlockID, err error) {
	seen := roaring.New()
	stack := []format.BlockID{top}
	for len(stack) > 0 {
		bid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !seen.CheckedAdd(uint32(bid)) {
			return nil, nil, fmt.Errorf("%w: directory block %d reachable twice", format.ErrCorrupt, bid)
		}
		d, err := dir.Load(s.dev, bid, s.capacity())
		if err != nil {
			return nil, nil, err
		}
		dirs = append(dirs, bid)
		for _, e := range d.Entries {
			if e.IsDirectory() {
				stack = append(stack, e.Head)
			} else if e.Head.Allocated() {
				heads = append(heads, e.Head)
			}
		}
	}
	return dirs, heads, nil
}

// Remove deletes the regular file or symbolic link name and frees its blocks.
func (s *FS) Remove(name string) (err error) {
	start := time.Now()
	defer func() {
		s.observe("rm", start, err)
		s.logger.LogOp("rm", name, err)
	}()
	return pathError("rm", name, s.remove(name))
}

func (s *FS) remove(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	i, err := s.lookup(name)
	if err != nil {
		return err
	}
	fcb := s.cwd.Entries[i]
	if fcb.IsDirectory() {
		return format.ErrIsADirectory
	}
	if _, open := s.fds.Find(s.cwd.Bid, name); open {
		return format.ErrBusy
	}
	s.fat.FreeChain(fcb.Head)
	s.cwd.RemoveAt(i)
	s.fds.Compacted(s.cwd.Bid, i)
	return s.persist(s.cwd)
}

// Rename renames src to dst within the current directory. If dst is ".."
// or names an existing directory, src is moved into that directory instead,
// keeping its name.
func (s *FS) Rename(src, dst string) (err error) {
	start := time.Now()
	defer func() {
		s.observe("rename", start, err)
		s.logger.LogOp("rename", src, err)
	}()
	return pathError("rename", src, s.rename(src, dst))
}

func (s *FS) rename(src, dst string) error {
	if err := s.check(); err != nil {
		return err
	}
	i, err := s.lookup(src)
	if err != nil {
		return err
	}
	fcb := s.cwd.Entries[i]
	if !fcb.IsDirectory() {
		if _, open := s.fds.Find(s.cwd.Bid, src); open {
			return format.ErrBusy
		}
	}
	if dst == src {
		return nil
	}

	if dst == ".." {
		if s.cwd.IsRoot() {
			return nil
		}
		return s.move(i, s.cwd.Parent)
	}
	if j, ok := s.cwd.Lookup(dst); ok {
		target := s.cwd.Entries[j]
		if !target.IsDirectory() {
			return format.ErrAlreadyExists
		}
		return s.move(i, target.Head)
	}

	if err := dir.ValidateName(dst); err != nil {
		return err
	}
	fcb.SetName(dst)
	s.cwd.Set(i, fcb)
	return s.persist(s.cwd)
}

// move relocates entry i of the current directory into directory to.
func (s *FS) move(i int, to format.BlockID) error {
	fcb := s.cwd.Entries[i]
	if fcb.IsDirectory() && fcb.Head == to {
		return fmt.Errorf("%w: cannot move a directory into itself", format.ErrInvalidArgument)
	}
	target, err := dir.Load(s.dev, to, s.capacity())
	if err != nil {
		return err
	}
	if _, exists := target.Lookup(fcb.FileName()); exists {
		return format.ErrAlreadyExists
	}
	if _, err := target.Append(fcb); err != nil {
		return err
	}

	if fcb.IsDirectory() {
		moved, err := dir.Load(s.dev, fcb.Head, s.capacity())
		if err != nil {
			return err
		}
		moved.Parent = to
		if err := moved.Store(s.dev); err != nil {
			return err
		}
	}
	if err := target.Store(s.dev); err != nil {
		return err
	}

	s.cwd.RemoveAt(i)
	s.fds.Compacted(s.cwd.Bid, i)
	return s.persist(s.cwd)
}

// Chdir changes the current directory. p may be "..", a name, a
// slash-separated path relative to the current directory, or an absolute
// path; "" and "/" select the root. On failure the current directory is
// unchanged.
func (s *FS) Chdir(p string) (err error) {
	start := time.Now()
	defer func() {
		s.observe("cd", start, err)
		s.logger.LogOp("cd", p, err)
	}()
	if err := s.check(); err != nil {
		return pathError("cd", p, err)
	}
	d, err := s.resolveDir(p)
	if err != nil {
		return pathError("cd", p, err)
	}
	s.cwd = d
	return nil
}

func (s *FS) resolveDir(p string) (*dir.Directory, error) {
	cur := s.cwd
	if p == "" || strings.HasPrefix(p, "/") {
		root, err := s.loadDir(s.sb.Root())
		if err != nil {
			return nil, err
		}
		cur = root
	}
	for _, comp := range strings.Split(p, "/") {
		switch comp {
		case "", ".":
			continue
		case "..":
			parent, err := s.loadDir(cur.Parent)
			if err != nil {
				return nil, err
			}
			cur = parent
			continue
		}
		if len(comp) > format.NameLength {
			return nil, format.ErrNameTooLong
		}
		i, ok := cur.Lookup(comp)
		if !ok {
			return nil, format.ErrNotFound
		}
		e := cur.Entries[i]
		if !e.IsDirectory() {
			return nil, format.ErrNotADirectory
		}
		next, err := s.loadDir(e.Head)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// List returns the entries of the current directory in storage order.
func (s *FS) List() []Entry {
	if s.closed {
		return nil
	}
	entries := make([]Entry, 0, s.cwd.Len())
	for i := range s.cwd.Entries {
		e := &s.cwd.Entries[i]
		entries = append(entries, Entry{
			Name: e.FileName(),
			Kind: e.Kind(),
			Head: uint32(e.Head),
			Size: e.Size,
		})
	}
	return entries
}

// Pwd returns the absolute path of the current directory.
func (s *FS) Pwd() (string, error) {
	if err := s.check(); err != nil {
		return "", pathError("pwd", "", err)
	}
	var parts []string
	cur := s.cwd
	for steps := 0; !cur.IsRoot(); steps++ {
		if steps >= int(s.sb.BlockCount) {
			return "", pathError("pwd", "", fmt.Errorf("%w: parent chain does not reach the root", format.ErrCorrupt))
		}
		parent, err := s.loadDir(cur.Parent)
		if err != nil {
			return "", pathError("pwd", "", err)
		}
		i, ok := parent.LookupHead(cur.Bid)
		if !ok {
			return "", pathError("pwd", "", fmt.Errorf("%w: directory %d missing from parent %d",
				format.ErrCorrupt, cur.Bid, parent.Bid))
		}
		parts = append(parts, parent.Entries[i].FileName())
		cur = parent
	}
	for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
		parts[l], parts[r] = parts[r], parts[l]
	}
	return path.Join(append([]string{"/"}, parts...)...), nil
}

// checkNew validates name for a new entry in the current directory.
func (s *FS) checkNew(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := dir.ValidateName(name); err != nil {
		return err
	}
	if _, exists := s.cwd.Lookup(name); exists {
		return format.ErrAlreadyExists
	}
	if s.cwd.Full() {
		return format.ErrDirectoryFull
	}
	return nil
}

// lookup validates name and finds it in the current directory.
func (s *FS) lookup(name string) (int, error) {
	if err := dir.ValidateName(name); err != nil {
		return -1, err
	}
	i, ok := s.cwd.Lookup(name)
	if !ok {
		return -1, format.ErrNotFound
	}
	return i, nil
}
