package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"jobmail/internal/fileutil"
)

const (
	checkpointFile = "checkpoint.json"
	formatVersion  = 1
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint bundles weights, vocabulary and the label order the head
// was trained with.
type Checkpoint struct {
	Encoder   *Encoder
	Tokenizer *Tokenizer
	Labels    []string
	// TrainedRows is the dataset size this checkpoint has seen.
	TrainedRows int
}

type checkpointJSON struct {
	Version     int                    `json:"version"`
	Shape       Shape                  `json:"shape"`
	Labels      []string               `json:"labels"`
	Vocab       []string               `json:"vocab"`
	TrainedRows int                    `json:"trained_rows"`
	Params      map[string][][]float64 `json:"params"`
}

// Path is where a checkpoint lives inside dir.
func Path(dir string) string { return filepath.Join(dir, checkpointFile) }

// Save publishes c under dir, replacing any previous checkpoint in one rename.
func Save(dir string, c *Checkpoint) error {
	return SaveFile(Path(dir), c)
}

func SaveFile(path string, c *Checkpoint) error {
	if c == nil || c.Encoder == nil || c.Tokenizer == nil {
		return errors.New("save checkpoint: incomplete checkpoint")
	}
	doc := checkpointJSON{
		Version:     formatVersion,
		Shape:       c.Encoder.Shape,
		Labels:      c.Labels,
		Vocab:       c.Tokenizer.Vocab(),
		TrainedRows: c.TrainedRows,
		Params:      make(map[string][][]float64, len(c.Encoder.params)),
	}
	for name, m := range c.Encoder.params {
		rows := make([][]float64, len(m.Rows))
		for i, r := range m.Rows {
			rows[i] = r.Data
		}
		doc.Params[name] = rows
	}
	err := fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(doc)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint under dir.
func Load(dir string) (*Checkpoint, error) {
	return LoadFile(Path(dir))
}

func LoadFile(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, path)
		}
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var doc checkpointJSON
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", doc.Version)
	}
	if err := doc.Shape.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	tok, err := TokenizerFromVocab(doc.Vocab)
	if err != nil {
		return nil, fmt.Errorf("checkpoint tokenizer: %w", err)
	}

	enc := &Encoder{Shape: doc.Shape, NumLabels: len(doc.Labels), params: make(map[string]*Matrix, len(doc.Params))}
	for name, rows := range doc.Params {
		m := &Matrix{Nout: len(rows)}
		for _, r := range rows {
			if m.Nin == 0 {
				m.Nin = len(r)
			}
			if len(r) != m.Nin {
				return nil, fmt.Errorf("checkpoint param %s: ragged rows", name)
			}
			m.Rows = append(m.Rows, NewVec(r))
		}
		enc.params[name] = m
	}
	if err := enc.check(tok.Size()); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	return &Checkpoint{Encoder: enc, Tokenizer: tok, Labels: doc.Labels, TrainedRows: doc.TrainedRows}, nil
}

// check verifies every parameter the forward pass touches is present with
// the right shape.
func (e *Encoder) check(vocab int) error {
	E := e.Shape.Embd
	want := map[string][2]int{
		"wte":       {vocab, E},
		"wpe":       {e.Shape.MaxLen, E},
		"head":      {e.NumLabels, E},
		"head_bias": {1, e.NumLabels},
	}
	for l := 0; l < e.Shape.Layers; l++ {
		p := layerPrefix(l)
		for _, n := range []string{"wq", "wk", "wv", "wo"} {
			want[p+n] = [2]int{E, E}
		}
		want[p+"fc1"] = [2]int{4 * E, E}
		want[p+"fc2"] = [2]int{E, 4 * E}
	}
	for name, dims := range want {
		m, ok := e.params[name]
		if !ok {
			return fmt.Errorf("missing param %s", name)
		}
		if m.Nout != dims[0] || m.Nin != dims[1] {
			return fmt.Errorf("param %s: shape %dx%d, want %dx%d", name, m.Nout, m.Nin, dims[0], dims[1])
		}
	}
	if e.NumLabels < 2 {
		return fmt.Errorf("need at least 2 labels, got %d", e.NumLabels)
	}
	return nil
}

// DirStore reads and publishes checkpoints in one directory.
type DirStore struct {
	Dir string
}

func (s DirStore) Load() (*Checkpoint, error) { return Load(s.Dir) }

func (s DirStore) Save(c *Checkpoint) error { return Save(s.Dir, c) }

func (s DirStore) Exists() bool { return fileutil.Exists(Path(s.Dir)) }
