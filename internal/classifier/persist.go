package classifier

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ayusman/vistrain/internal/config"
)

// A classifier directory is named <variant>-<id> and holds the display name,
// the threshold as a little-endian float32 and the variant's data file.
// The data file is absent while the classifier is untrained.
const (
	nameFile      = "name.txt"
	thresholdFile = "threshold.bin"
	maxNameLen    = 4096
)

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// DirName returns the directory name a classifier is saved under.
func DirName(v Variant, id string) string {
	return v.String() + "-" + id
}

func dataFile(dir string, v Variant) string {
	return filepath.Join(dir, v.String()+".dat")
}

// Save writes the classifier into dir and marks it as on disk.
func (c *Classifier) Save(dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return persistErr("create directory", err)
	}
	if err := os.WriteFile(filepath.Join(dir, nameFile), []byte(c.name), 0o644); err != nil {
		return persistErr("write name", err)
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(c.threshold)))
	if err := os.WriteFile(filepath.Join(dir, thresholdFile), buf[:], 0o644); err != nil {
		return persistErr("write threshold", err)
	}

	if c.trained {
		if err := c.writeData(dataFile(dir, c.variant)); err != nil {
			return err
		}
	}
	c.onDisk = true
	c.dir = dir
	return nil
}

func (c *Classifier) writeData(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return persistErr("create data file", err)
	}
	w := bufio.NewWriter(f)
	if err := c.algo.Persist(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return persistErr("encode "+c.variant.String()+" data", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return persistErr("write data file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return persistErr("close data file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return persistErr("replace data file", err)
	}
	return nil
}

// Load restores a classifier saved by Save. The variant and id come from
// the directory name.
func Load(dir string, cfg *config.Config, deps Deps) (*Classifier, error) {
	key, id, ok := strings.Cut(filepath.Base(dir), "-")
	if !ok || id == "" {
		return nil, persistErr("parse directory name", fmt.Errorf("%q is not <variant>-<id>", filepath.Base(dir)))
	}
	variant, err := ParseVariant(key)
	if err != nil {
		return nil, persistErr("parse directory name", err)
	}

	c, err := New(variant, cfg, deps)
	if err != nil {
		return nil, err
	}
	c.id = id
	if err := c.load(dir); err != nil {
		c.Close()
		return nil, err
	}
	if c.trained {
		c.renderDemo(nil, Result{})
	}
	return c, nil
}

func (c *Classifier) load(dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name, err := os.ReadFile(filepath.Join(dir, nameFile))
	if err != nil {
		return persistErr("read name", err)
	}
	if len(name) > maxNameLen {
		return persistErr("read name", fmt.Errorf("name is %d bytes", len(name)))
	}
	c.name = strings.TrimSpace(string(name))

	raw, err := os.ReadFile(filepath.Join(dir, thresholdFile))
	if err != nil {
		return persistErr("read threshold", err)
	}
	if len(raw) != 4 {
		return persistErr("read threshold", fmt.Errorf("threshold file is %d bytes, want 4", len(raw)))
	}
	t := float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))
	if math.IsNaN(t) {
		return persistErr("read threshold", errors.New("threshold is NaN"))
	}
	c.threshold = min(max(t, 0), 1)

	f, err := os.Open(dataFile(dir, c.variant))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.trained = false
	case err != nil:
		return persistErr("open data file", err)
	default:
		defer f.Close()
		if err := c.algo.Load(bufio.NewReader(f)); err != nil {
			return persistErr("decode "+c.variant.String()+" data", err)
		}
		c.trained = true
	}
	c.onDisk = true
	c.dir = dir
	return nil
}

// DeleteFromDisk removes the classifier's directory.
func (c *Classifier) DeleteFromDisk() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.onDisk {
		return nil
	}
	if err := os.RemoveAll(c.dir); err != nil {
		return persistErr("remove directory", err)
	}
	c.onDisk = false
	c.dir = ""
	return nil
}
