package pvnet

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Meta is the training state persisted alongside the weights. Steps feeds
// exploration decay and Games feeds curriculum staging, so both must survive
// a restart.
type Meta struct {
	Mode  Mode
	K, FC int
	Steps int
	Games int
}

// Save writes the network's weights and meta to path. The write goes through
// a temporary file and a rename, so a crash mid-write never corrupts an
// existing checkpoint.
func Save(path string, net *Net, meta Meta) error {
	meta.Mode = net.Mode
	meta.K = net.K
	meta.FC = net.FC

	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return CheckpointError{Op: "create", Err: err}
	}
	defer os.Remove(tmp.Name())

	enc := gob.NewEncoder(tmp)
	if err := enc.Encode(meta); err != nil {
		tmp.Close()
		return CheckpointError{Op: "encode meta", Err: err}
	}
	for _, node := range net.Model() {
		t, ok := node.Value().(*tensor.Dense)
		if !ok {
			tmp.Close()
			return CheckpointError{Op: "encode", Err: errors.Errorf("learnable %v has no dense value", node.Name())}
		}
		if err := enc.Encode(t); err != nil {
			tmp.Close()
			return CheckpointError{Op: "encode", Err: err}
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return CheckpointError{Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return CheckpointError{Op: "close", Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return CheckpointError{Op: "rename", Err: err}
	}
	return nil
}

// Load restores weights from path into net, which must already be Init'ed
// with the same architecture. A checkpoint written by a different mode is
// rejected with ArchitectureMismatchError.
func Load(path string, net *Net) (Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return Meta{}, CheckpointError{Op: "open", Err: err}
	}
	defer f.Close()

	dec := gob.NewDecoder(f)
	var meta Meta
	if err := dec.Decode(&meta); err != nil {
		return Meta{}, CheckpointError{Op: "decode meta", Err: err}
	}
	if meta.Mode != net.Mode {
		return Meta{}, ArchitectureMismatchError{Requested: net.Mode, Found: meta.Mode}
	}
	if meta.K != net.K || meta.FC != net.FC {
		return Meta{}, CheckpointError{Op: "decode meta", Err: errors.Errorf("checkpoint sized K=%d FC=%d, network wants K=%d FC=%d", meta.K, meta.FC, net.K, net.FC)}
	}

	for _, node := range net.Model() {
		var t *tensor.Dense
		if err := dec.Decode(&t); err != nil {
			return Meta{}, CheckpointError{Op: "decode", Err: err}
		}
		if !node.Shape().Eq(t.Shape()) {
			return Meta{}, CheckpointError{Op: "decode", Err: errors.Errorf("learnable %v wants shape %v, checkpoint has %v", node.Name(), node.Shape(), t.Shape())}
		}
		if err := G.Let(node, t); err != nil {
			return Meta{}, CheckpointError{Op: "restore", Err: err}
		}
	}
	return meta, nil
}
