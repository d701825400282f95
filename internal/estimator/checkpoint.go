package estimator

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

// Checkpoint wire layout (protobuf encoding, no generated code):
//
//	message Checkpoint { uint32 version = 1; repeated Layer layers = 2; }
//	message Layer {
//	  uint32 in = 1; uint32 out = 2;
//	  repeated fixed32 weights = 3 [packed]; repeated fixed32 biases = 4 [packed];
//	}
const checkpointVersion = 1

const (
	fieldVersion protowire.Number = 1
	fieldLayer   protowire.Number = 2

	fieldIn      protowire.Number = 1
	fieldOut     protowire.Number = 2
	fieldWeights protowire.Number = 3
	fieldBiases  protowire.Number = 4
)

// Save writes a checkpoint to path, creating its directory.
func (m *MLP) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("estimator: create dir for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("estimator: create %s: %w", path, err)
	}
	if err := m.Checkpoint(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Load replaces the weights with the checkpoint at path.
func (m *MLP) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("estimator: open %s: %w", path, err)
	}
	defer f.Close()
	return m.Restore(f)
}

// Checkpoint encodes the current weights to w.
func (m *MLP) Checkpoint(w io.Writer) error {
	m.mu.RLock()
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, checkpointVersion)
	for _, l := range m.layers {
		b = protowire.AppendTag(b, fieldLayer, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeLayer(l))
	}
	m.mu.RUnlock()

	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("estimator: write checkpoint: %w", err)
	}
	return nil
}

// Restore decodes a checkpoint from r. The stored shapes must match this
// network exactly; on any error the current weights are left untouched.
func (m *MLP) Restore(r io.Reader) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return fmt.Errorf("estimator: read checkpoint: %w", err)
	}
	layers, err := decodeCheckpoint(buf.Bytes())
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(layers) != len(m.layers) {
		return fmt.Errorf("estimator: %d layers, want %d: %w", len(layers), len(m.layers), domain.ErrShapeMismatch)
	}
	for i, l := range layers {
		cur := m.layers[i]
		if l.in != cur.in || l.out != cur.out || len(l.w) != l.in*l.out || len(l.b) != l.out {
			return fmt.Errorf("estimator: layer %d is %dx%d, want %dx%d: %w",
				i, l.in, l.out, cur.in, cur.out, domain.ErrShapeMismatch)
		}
	}
	m.layers = layers
	return nil
}

func encodeLayer(l layer) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldIn, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(l.in))
	b = protowire.AppendTag(b, fieldOut, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(l.out))
	b = protowire.AppendTag(b, fieldWeights, protowire.BytesType)
	b = protowire.AppendBytes(b, packFloats(l.w))
	b = protowire.AppendTag(b, fieldBiases, protowire.BytesType)
	b = protowire.AppendBytes(b, packFloats(l.b))
	return b
}

func packFloats(v []float32) []byte {
	b := make([]byte, 0, 4*len(v))
	for _, f := range v {
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	return b
}

func unpackFloats(b []byte) ([]float32, error) {
	out := make([]float32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float32frombits(v))
		b = b[n:]
	}
	return out, nil
}

func decodeCheckpoint(b []byte) ([]layer, error) {
	var (
		version uint64
		layers  []layer
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("estimator: checkpoint tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(b)
		case num == fieldLayer && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				l, err := decodeLayer(raw)
				if err != nil {
					return nil, err
				}
				layers = append(layers, l)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("estimator: checkpoint field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	if version != checkpointVersion {
		return nil, fmt.Errorf("estimator: checkpoint version %d, want %d: %w", version, checkpointVersion, domain.ErrShapeMismatch)
	}
	return layers, nil
}

func decodeLayer(b []byte) (layer, error) {
	var l layer
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return l, fmt.Errorf("estimator: layer tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		var err error
		switch {
		case num == fieldIn && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			l.in = int(v)
		case num == fieldOut && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			l.out = int(v)
		case num == fieldWeights && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				l.w, err = unpackFloats(raw)
			}
		case num == fieldBiases && typ == protowire.BytesType:
			var raw []byte
			raw, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				l.b, err = unpackFloats(raw)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return l, fmt.Errorf("estimator: layer field %d: %w", num, protowire.ParseError(n))
		}
		if err != nil {
			return l, fmt.Errorf("estimator: layer field %d: %w", num, err)
		}
		b = b[n:]
	}
	return l, nil
}
