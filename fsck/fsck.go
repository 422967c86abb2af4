// Package fsck checks the consistency of an unmounted x3fs image.
//
// The image is mapped read-only. Check verifies the superblock, walks the
// directory tree from the root and cross-checks every chain it finds against
// the allocation table: each allocated block must belong to exactly one
// chain, every chain must end in END, and every directory block must agree
// with the entry that points to it.
package fsck

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"path"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/x3fs/internal/dir"
	"github.com/hupe1980/x3fs/internal/format"
	"github.com/hupe1980/x3fs/internal/mmap"
)

// Kind classifies a Problem.
type Kind int

const (
	// DoubleClaim: a block is part of more than one chain.
	DoubleClaim Kind = iota
	// BrokenChain: a chain runs into a FREE or RESERVED entry, out of range,
	// or back onto itself.
	BrokenChain
	// Leaked: an allocated block is not reachable from the root.
	Leaked
	// BadDirectory: a directory block has a bad header or holes.
	BadDirectory
	// Oversize: a file claims more bytes than its chain can hold.
	Oversize
	// BadTable: a system block is not RESERVED in the allocation table.
	BadTable
)

func (k Kind) String() string {
	switch k {
	case DoubleClaim:
		return "double-claim"
	case BrokenChain:
		return "broken-chain"
	case Leaked:
		return "leaked"
	case BadDirectory:
		return "bad-directory"
	case Oversize:
		return "oversize"
	case BadTable:
		return "bad-table"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Problem is one inconsistency found in the image.
type Problem struct {
	Kind   Kind
	Block  format.BlockID
	Path   string
	Detail string
}

func (p Problem) String() string {
	if p.Path != "" {
		return fmt.Sprintf("%s: block %d (%s): %s", p.Kind, p.Block, p.Path, p.Detail)
	}
	return fmt.Sprintf("%s: block %d: %s", p.Kind, p.Block, p.Detail)
}

// Report summarizes a check.
type Report struct {
	BlockSize   int
	BlockCount  int
	FreeBlocks  int
	UsedBlocks  int
	Directories int
	Files       int
	Symlinks    int
	Problems    []Problem
}

// OK reports whether no problems were found.
func (r *Report) OK() bool { return len(r.Problems) == 0 }

// Count returns the number of problems of kind k.
func (r *Report) Count(k Kind) int {
	n := 0
	for _, p := range r.Problems {
		if p.Kind == k {
			n++
		}
	}
	return n
}

// Options configures Check.
type Options struct {
	// MaxProblems stops recording after this many problems. 0 means no limit.
	MaxProblems int
	// Logger receives a debug line per problem.
	Logger *slog.Logger
}

// DefaultOptions contains default options.
var DefaultOptions = Options{
	Logger: slog.New(slog.DiscardHandler),
}

// Check verifies the image at path. A non-nil error means the image could
// not be checked at all (unreadable, bad superblock); inconsistencies are
// returned in the report.
func Check(imagePath string, optFns ...func(o *Options)) (*Report, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = DefaultOptions.Logger
	}

	m, err := mmap.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: map image: %w", format.ErrIO, err)
	}
	defer m.Close()
	_ = m.Advise(mmap.AccessSequential)

	if m.Size() < format.SuperblockSize {
		return nil, fmt.Errorf("%w: image is %d bytes", format.ErrCorrupt, m.Size())
	}
	sb, err := format.DecodeSuperblock(m.Bytes())
	if err != nil {
		return nil, err
	}
	bs, count := int(sb.BlockSize), int(sb.BlockCount)
	if m.Size() < bs*count {
		return nil, fmt.Errorf("%w: image is %d bytes, superblock claims %d blocks of %d",
			format.ErrCorrupt, m.Size(), count, bs)
	}

	c := &checker{
		m:       m,
		sb:      sb,
		opts:    opts,
		claimed: roaring.New(),
		report:  &Report{BlockSize: bs, BlockCount: count},
	}
	if err := c.loadTable(); err != nil {
		return nil, err
	}
	c.checkTable()
	c.walk()
	c.findLeaks()

	return c.report, nil
}

type checker struct {
	m       *mmap.Mapping
	sb      *format.Superblock
	opts    Options
	table   []uint32
	claimed *roaring.Bitmap
	report  *Report
}

func (c *checker) block(id format.BlockID) []byte {
	bs := int(c.sb.BlockSize)
	b, _ := c.m.Region(int(id)*bs, bs)
	return b
}

func (c *checker) loadTable() error {
	count := int(c.sb.BlockCount)
	perBlock := int(c.sb.BlockSize) / format.FATEntrySize
	c.table = make([]uint32, count)
	for i := range int(c.sb.FATBlocks) {
		b := c.block(format.BlockID(c.sb.FATStart) + format.BlockID(i))
		if b == nil {
			return fmt.Errorf("%w: allocation table block %d outside image", format.ErrCorrupt, i)
		}
		for j := 0; j < perBlock && i*perBlock+j < count; j++ {
			c.table[i*perBlock+j] = binary.LittleEndian.Uint32(b[j*format.FATEntrySize:])
		}
	}
	return nil
}

func (c *checker) problem(p Problem) {
	if c.opts.MaxProblems > 0 && len(c.report.Problems) >= c.opts.MaxProblems {
		return
	}
	c.opts.Logger.Debug("fsck problem", "kind", p.Kind.String(), "block", p.Block, "path", p.Path, "detail", p.Detail)
	c.report.Problems = append(c.report.Problems, p)
}

func (c *checker) checkTable() {
	for id := range c.sb.FirstData() {
		if c.table[id] != format.FATReserved {
			c.problem(Problem{Kind: BadTable, Block: id, Detail: fmt.Sprintf("entry 0x%08x, want RESERVED", c.table[id])})
		}
	}
}

// claim marks id as owned by the chain at p.
func (c *checker) claim(id format.BlockID, p string) {
	if !c.claimed.CheckedAdd(uint32(id)) {
		c.problem(Problem{Kind: DoubleClaim, Block: id, Path: p, Detail: "block already belongs to another chain"})
	}
}

// chain follows the data chain at head and returns its length in blocks.
func (c *checker) chain(head format.BlockID, p string) int {
	n := 0
	own := roaring.New()
	id := head
	for {
		if int(id) >= len(c.table) || id < c.sb.FirstData() {
			c.problem(Problem{Kind: BrokenChain, Block: id, Path: p, Detail: "link out of range"})
			return n
		}
		v := c.table[id]
		if v == format.FATFree || v == format.FATReserved {
			c.problem(Problem{Kind: BrokenChain, Block: id, Path: p, Detail: fmt.Sprintf("chain reaches entry 0x%08x", v)})
			return n
		}
		if !own.CheckedAdd(uint32(id)) {
			c.problem(Problem{Kind: BrokenChain, Block: id, Path: p, Detail: "chain loops"})
			return n
		}
		c.claim(id, p)
		n++
		if v == format.FATEnd {
			return n
		}
		id = format.BlockID(v)
	}
}

type pending struct {
	bid    format.BlockID
	parent format.BlockID
	path   string
}

func (c *checker) walk() {
	capacity := int(c.sb.FCBPerBlock)
	bs := int64(c.sb.BlockSize)
	root := c.sb.Root()
	stack := []pending{{bid: root, parent: root, path: "/"}}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if int(cur.bid) >= len(c.table) || cur.bid < c.sb.FirstData() {
			c.problem(Problem{Kind: BadDirectory, Block: cur.bid, Path: cur.path, Detail: "directory block out of range"})
			continue
		}
		if c.claimed.Contains(uint32(cur.bid)) {
			c.problem(Problem{Kind: DoubleClaim, Block: cur.bid, Path: cur.path, Detail: "directory block reachable twice"})
			continue
		}
		if v := c.table[cur.bid]; v != format.FATEnd {
			c.problem(Problem{Kind: BadDirectory, Block: cur.bid, Path: cur.path,
				Detail: fmt.Sprintf("directory block has entry 0x%08x, want END", v)})
		}
		c.claim(cur.bid, cur.path)
		c.report.Directories++

		blk := c.block(cur.bid)
		d, err := dir.Decode(blk, cur.bid, capacity)
		if err != nil {
			c.problem(Problem{Kind: BadDirectory, Block: cur.bid, Path: cur.path, Detail: err.Error()})
			continue
		}
		if h, _ := format.DecodeDirHeader(blk); int(h.ItemNum) > d.Len() {
			c.problem(Problem{Kind: BadDirectory, Block: cur.bid, Path: cur.path,
				Detail: fmt.Sprintf("hole at entry %d of %d", d.Len(), h.ItemNum)})
		}
		if d.Parent != cur.parent {
			c.problem(Problem{Kind: BadDirectory, Block: cur.bid, Path: cur.path,
				Detail: fmt.Sprintf("parent is %d, want %d", d.Parent, cur.parent)})
		}

		for i := range d.Entries {
			e := &d.Entries[i]
			p := path.Join(cur.path, e.FileName())
			switch {
			case e.IsDirectory():
				stack = append(stack, pending{bid: e.Head, parent: cur.bid, path: p})
			default:
				if e.IsSymlink() {
					c.report.Symlinks++
				} else {
					c.report.Files++
				}
				blocks := 0
				if e.Head.Allocated() {
					blocks = c.chain(e.Head, p)
				}
				if int64(e.Size) > int64(blocks)*bs {
					c.problem(Problem{Kind: Oversize, Block: e.Head, Path: p,
						Detail: fmt.Sprintf("size %d exceeds %d blocks", e.Size, blocks)})
				}
			}
		}
	}
}

func (c *checker) findLeaks() {
	for id := int(c.sb.FirstData()); id < len(c.table); id++ {
		switch {
		case c.table[id] == format.FATFree:
			c.report.FreeBlocks++
		case !c.claimed.Contains(uint32(id)):
			c.problem(Problem{Kind: Leaked, Block: format.BlockID(id), Detail: "allocated but unreachable"})
		default:
			c.report.UsedBlocks++
		}
	}
}
