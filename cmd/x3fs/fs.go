package main

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/hupe1980/x3fs"
	"github.com/hupe1980/x3fs/fsck"
	"github.com/hupe1980/x3fs/hostcopy"
)

func (e *env) mount(image string) (*x3fs.FS, error) {
	return x3fs.Mount(image, x3fs.WithLogger(e.logger.WithImage(image)))
}

// withImage mounts image, runs fn and unmounts, reporting both errors.
func (e *env) withImage(image string, fn func(fsys *x3fs.FS) error) error {
	fsys, err := e.mount(image)
	if err != nil {
		return err
	}
	return errors.Join(fn(fsys), fsys.Close())
}

// enter changes into the directory part of p and returns the last element.
func enter(fsys *x3fs.FS, p string) (string, error) {
	p = strings.TrimSuffix(p, "/")
	dir, base := path.Split(p)
	if dir != "" {
		if err := fsys.Chdir(dir); err != nil {
			return "", err
		}
	}
	if base == "" {
		return "", fmt.Errorf("%w: empty name", x3fs.ErrInvalidName)
	}
	return base, nil
}

func runMkfs(_ context.Context, e *env, args []string) error {
	fs := e.newFlags("mkfs", "<image>")
	bs := fs.Int("bs", x3fs.DefaultBlockSize, "block size in bytes (multiple of 32, 64..65536)")
	count := fs.Int("count", x3fs.DefaultBlockCount, "number of blocks")
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	image := fs.Arg(0)
	if err := x3fs.Format(image,
		x3fs.WithBlockSize(*bs),
		x3fs.WithBlockCount(*count),
		x3fs.WithLogger(e.logger.WithImage(image)),
	); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s: %d blocks of %d bytes\n", image, *count, *bs)
	return nil
}

func runStat(_ context.Context, e *env, args []string) error {
	fs := e.newFlags("stat", "<image>")
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	return e.withImage(fs.Arg(0), func(fsys *x3fs.FS) error {
		st := fsys.Stat()
		w := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "block size\t%d\n", st.BlockSize)
		fmt.Fprintf(w, "blocks\t%d\n", st.BlockCount)
		fmt.Fprintf(w, "used\t%d\n", st.UsedBlocks)
		fmt.Fprintf(w, "free\t%d\n", st.FreeBlocks)
		fmt.Fprintf(w, "entries per directory\t%d\n", st.FCBPerBlock)
		return w.Flush()
	})
}

func runLs(_ context.Context, e *env, args []string) error {
	fs := e.newFlags("ls", "<image> [dir]")
	long := fs.Bool("l", false, "show kind, size and head block")
	if err := parse(fs, args, 1, 2); err != nil {
		return err
	}
	return e.withImage(fs.Arg(0), func(fsys *x3fs.FS) error {
		if fs.NArg() == 2 {
			if err := fsys.Chdir(fs.Arg(1)); err != nil {
				return err
			}
		}
		w := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		for _, ent := range fsys.List() {
			if !*long {
				fmt.Fprintln(w, ent.Name)
				continue
			}
			name := ent.Name
			if ent.Kind == "link" {
				if target, err := fsys.Readlink(ent.Name); err == nil {
					name += " -> " + target
				}
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", ent.Kind, ent.Size, ent.Head, name)
		}
		return w.Flush()
	})
}

func runTree(_ context.Context, e *env, args []string) error {
	fs := e.newFlags("tree", "<image>")
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	return e.withImage(fs.Arg(0), func(fsys *x3fs.FS) error {
		fmt.Fprintln(e.stdout, "/")
		return tree(e, fsys, "")
	})
}

func tree(e *env, fsys *x3fs.FS, indent string) error {
	entries := fsys.List()
	for i, ent := range entries {
		branch, next := "├── ", "│   "
		if i == len(entries)-1 {
			branch, next = "└── ", "    "
		}
		fmt.Fprintf(e.stdout, "%s%s%s\n", indent, branch, ent.Name)
		if ent.Kind != "dir" {
			continue
		}
		if err := fsys.Chdir(ent.Name); err != nil {
			return err
		}
		if err := tree(e, fsys, indent+next); err != nil {
			return err
		}
		if err := fsys.Chdir(".."); err != nil {
			return err
		}
	}
	return nil
}

func runMkdir(_ context.Context, e *env, args []string) error {
	fs := e.newFlags("mkdir", "<image> <path>")
	parents := fs.Bool("p", false, "create missing parents")
	if err := parse(fs, args, 2, 2); err != nil {
		return err
	}
	return e.withImage(fs.Arg(0), func(fsys *x3fs.FS) error {
		if !*parents {
			name, err := enter(fsys, fs.Arg(1))
			if err != nil {
				return err
			}
			return fsys.Mkdir(name)
		}
		if strings.HasPrefix(fs.Arg(1), "/") {
			if err := fsys.Chdir("/"); err != nil {
				return err
			}
		}
		for _, comp := range strings.Split(fs.Arg(1), "/") {
			if comp == "" {
				continue
			}
			if err := fsys.Mkdir(comp); err != nil && !errors.Is(err, x3fs.ErrAlreadyExists) {
				return err
			}
			if err := fsys.Chdir(comp); err != nil {
				return err
			}
		}
		return nil
	})
}

func runRm(_ context.Context, e *env, args []string) error {
	fs := e.newFlags("rm", "<image> <path>")
	recursive := fs.Bool("r", false, "remove directories and their contents")
	if err := parse(fs, args, 2, 2); err != nil {
		return err
	}
	return e.withImage(fs.Arg(0), func(fsys *x3fs.FS) error {
		name, err := enter(fsys, fs.Arg(1))
		if err != nil {
			return err
		}
		err = fsys.Remove(name)
		if errors.Is(err, x3fs.ErrIsADirectory) {
			if !*recursive {
				return fmt.Errorf("%s: is a directory (use -r)", fs.Arg(1))
			}
			return fsys.Rmdir(name)
		}
		return err
	})
}

func copyOptions(rate int64) []func(o *hostcopy.Options) {
	if rate <= 0 {
		return nil
	}
	return []func(o *hostcopy.Options){func(o *hostcopy.Options) { o.Resource = newIOLimit(rate) }}
}

func runCpi(ctx context.Context, e *env, args []string) error {
	fs := e.newFlags("cpi", "<image> <host-file> <path>")
	rate := fs.Int64("rate", 0, "limit to this many bytes per second")
	if err := parse(fs, args, 3, 3); err != nil {
		return err
	}
	return e.withImage(fs.Arg(0), func(fsys *x3fs.FS) error {
		name, err := enter(fsys, fs.Arg(2))
		if err != nil {
			return err
		}
		n, err := hostcopy.CopyIn(ctx, fsys, fs.Arg(1), name, copyOptions(*rate)...)
		e.logger.Info("copied in", "path", fs.Arg(2), "bytes", n)
		return err
	})
}

func runCpo(ctx context.Context, e *env, args []string) error {
	fs := e.newFlags("cpo", "<image> <path> <host-file>")
	rate := fs.Int64("rate", 0, "limit to this many bytes per second")
	if err := parse(fs, args, 3, 3); err != nil {
		return err
	}
	return e.withImage(fs.Arg(0), func(fsys *x3fs.FS) error {
		name, err := enter(fsys, fs.Arg(1))
		if err != nil {
			return err
		}
		n, err := hostcopy.CopyOut(ctx, fsys, name, fs.Arg(2), copyOptions(*rate)...)
		e.logger.Info("copied out", "path", fs.Arg(1), "bytes", n)
		return err
	})
}

func runCat(ctx context.Context, e *env, args []string) error {
	fs := e.newFlags("cat", "<image> <path>")
	if err := parse(fs, args, 2, 2); err != nil {
		return err
	}
	return e.withImage(fs.Arg(0), func(fsys *x3fs.FS) error {
		name, err := enter(fsys, fs.Arg(1))
		if err != nil {
			return err
		}
		_, err = hostcopy.Cat(ctx, fsys, name, e.stdout)
		return err
	})
}

// errProblems is returned by fsck when the image is inconsistent.
var errProblems = errors.New("image has problems")

func runFsck(_ context.Context, e *env, args []string) error {
	fs := e.newFlags("fsck", "<image>")
	maxProblems := fs.Int("max", 100, "stop after this many problems (0 = no limit)")
	if err := parse(fs, args, 1, 1); err != nil {
		return err
	}
	r, err := fsck.Check(fs.Arg(0), func(o *fsck.Options) {
		o.MaxProblems = *maxProblems
		o.Logger = e.logger.Logger
	})
	if err != nil {
		return err
	}
	for _, p := range r.Problems {
		fmt.Fprintln(e.stdout, p)
	}
	fmt.Fprintf(e.stdout, "%d directories, %d files, %d links, %d/%d blocks used, %d problems\n",
		r.Directories, r.Files, r.Symlinks, r.UsedBlocks, r.BlockCount, len(r.Problems))
	if !r.OK() {
		return errProblems
	}
	return nil
}
