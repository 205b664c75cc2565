package classifier

import (
	"errors"
	"sync/atomic"
)

// ErrNoModel means no checkpoint has been loaded yet.
var ErrNoModel = errors.New("no model loaded")

// Holder keeps the engine for the latest published checkpoint so a
// long-running process can pick up new training without restarting.
type Holder struct {
	dir  string
	opts Options
	cur  atomic.Pointer[Engine]
}

func NewHolder(dir string, opts Options) *Holder {
	return &Holder{dir: dir, opts: opts}
}

// Reload reads the checkpoint again. On failure the previous engine stays.
func (h *Holder) Reload() (*Engine, error) {
	e, err := Load(h.dir, h.opts)
	if err != nil {
		return nil, err
	}
	h.cur.Store(e)
	return e, nil
}

// Engine returns the current engine, loading it on first use.
func (h *Holder) Engine() (*Engine, error) {
	if e := h.cur.Load(); e != nil {
		return e, nil
	}
	e, err := h.Reload()
	if err != nil {
		return nil, errors.Join(ErrNoModel, err)
	}
	return e, nil
}
