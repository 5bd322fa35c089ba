package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Name identifies one segment: its sequence number and absolute path.
type Name struct {
	Seq  int64
	Path string
}

// Namer hands out collision-free segment paths for the life of the process:
// <dir>/<prefix>_<run>_<seq>.<ext>, where run is the process start time.
type Namer struct {
	dir    string
	prefix string
	ext    string
	run    int64
	seq    atomic.Int64
}

// NewNamer creates dir if needed and returns a Namer starting at seq 1.
func NewNamer(dir, prefix, ext string) (*Namer, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve segment dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}
	return &Namer{dir: abs, prefix: prefix, ext: ext, run: time.Now().Unix()}, nil
}

// Next returns the next name. Safe for concurrent use.
func (n *Namer) Next() Name {
	seq := n.seq.Add(1)
	file := fmt.Sprintf("%s_%d_%06d.%s", n.prefix, n.run, seq, n.ext)
	return Name{Seq: seq, Path: filepath.Join(n.dir, file)}
}

// Dir returns the absolute output directory.
func (n *Namer) Dir() string { return n.dir }
