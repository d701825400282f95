// Package estimator provides a small multi-layer perceptron that scores each
// action for a feature vector and learns from experience batches with a
// one-step temporal-difference target.
package estimator

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

// DeviceCPU is the only supported compute device.
const DeviceCPU = "cpu"

// DefaultLayers is the network shape: features, two hidden layers, actions.
var DefaultLayers = []int{domain.FeatureCount, 32, 16, domain.ActionCount}

// Config controls construction of an MLP.
type Config struct {
	Device       string
	LearningRate float32
	Gamma        float32
	// TDClip bounds the per-sample TD error used for the gradient. Zero
	// disables clipping.
	TDClip float32
	Seed   uint64
}

// layer is a dense layer with weights stored row-major as [out][in].
type layer struct {
	in, out int
	w       []float32
	b       []float32
}

func newLayer(in, out int, rng *rand.Rand) layer {
	l := layer{in: in, out: out, w: make([]float32, in*out), b: make([]float32, out)}
	// He-uniform initialisation for ReLU networks.
	limit := float32(math.Sqrt(6.0 / float64(in)))
	for i := range l.w {
		l.w[i] = (rng.Float32()*2 - 1) * limit
	}
	return l
}

func (l *layer) forward(x, out []float32) {
	for o := 0; o < l.out; o++ {
		sum := l.b[o]
		row := l.w[o*l.in : (o+1)*l.in]
		for i, v := range x {
			sum += row[i] * v
		}
		out[o] = sum
	}
}

// MLP implements domain.ValueEstimator.
type MLP struct {
	mu     sync.RWMutex
	cfg    Config
	layers []layer
}

// New builds an MLP with DefaultLayers and randomly initialised weights.
func New(cfg Config) (*MLP, error) {
	device := strings.ToLower(strings.TrimSpace(cfg.Device))
	if device == "" {
		device = DeviceCPU
	}
	if device != DeviceCPU {
		return nil, fmt.Errorf("estimator: device %q: %w", cfg.Device, domain.ErrUnsupportedDevice)
	}
	cfg.Device = device

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	m := &MLP{cfg: cfg}
	for i := 0; i+1 < len(DefaultLayers); i++ {
		m.layers = append(m.layers, newLayer(DefaultLayers[i], DefaultLayers[i+1], rng))
	}
	return m, nil
}

// Predict returns per-action scores for state.
func (m *MLP) Predict(state domain.FeatureVector) [domain.ActionCount]float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out [domain.ActionCount]float32
	acts := m.forward(state[:])
	copy(out[:], acts[len(acts)-1])
	return out
}

// forward returns the activations of every layer, input first. Hidden layers
// are ReLU, the head is linear. Caller must hold mu.
func (m *MLP) forward(x []float32) [][]float32 {
	acts := make([][]float32, 0, len(m.layers)+1)
	acts = append(acts, x)
	for li := range m.layers {
		l := &m.layers[li]
		out := make([]float32, l.out)
		l.forward(acts[li], out)
		if li < len(m.layers)-1 {
			for i, v := range out {
				if v < 0 {
					out[i] = 0
				}
			}
		}
		acts = append(acts, out)
	}
	return acts
}

// Update performs one SGD step on the mean squared TD error of the taken
// actions and returns that loss. An empty batch is a no-op returning 0.
func (m *MLP) Update(batch []domain.ExperienceSample) float32 {
	if len(batch) == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	gradW := make([][]float32, len(m.layers))
	gradB := make([][]float32, len(m.layers))
	for i, l := range m.layers {
		gradW[i] = make([]float32, len(l.w))
		gradB[i] = make([]float32, len(l.b))
	}

	var loss float64
	for _, s := range batch {
		next := m.forward(s.NextState[:])
		target := s.Reward + m.cfg.Gamma*maxOf(next[len(next)-1])

		acts := m.forward(s.State[:])
		q := acts[len(acts)-1]
		a := s.Action.Normalize()
		td := q[a] - target
		loss += float64(td) * float64(td)

		if m.cfg.TDClip > 0 {
			td = min(max(td, -m.cfg.TDClip), m.cfg.TDClip)
		}

		delta := make([]float32, len(q))
		delta[a] = 2 * td
		m.backward(acts, delta, gradW, gradB)
	}

	scale := m.cfg.LearningRate / float32(len(batch))
	for li := range m.layers {
		l := &m.layers[li]
		for i := range l.w {
			l.w[i] -= scale * gradW[li][i]
		}
		for i := range l.b {
			l.b[i] -= scale * gradB[li][i]
		}
	}

	return float32(loss / float64(len(batch)))
}

// backward accumulates gradients for one sample given the output delta.
func (m *MLP) backward(acts [][]float32, delta []float32, gradW, gradB [][]float32) {
	for li := len(m.layers) - 1; li >= 0; li-- {
		l := &m.layers[li]
		in := acts[li]
		for o := 0; o < l.out; o++ {
			d := delta[o]
			if d == 0 {
				continue
			}
			gradB[li][o] += d
			row := gradW[li][o*l.in : (o+1)*l.in]
			for i, v := range in {
				row[i] += d * v
			}
		}
		if li == 0 {
			return
		}
		prev := make([]float32, l.in)
		for o := 0; o < l.out; o++ {
			d := delta[o]
			if d == 0 {
				continue
			}
			row := l.w[o*l.in : (o+1)*l.in]
			for i := range prev {
				prev[i] += d * row[i]
			}
		}
		// ReLU derivative of the hidden activation feeding this layer.
		for i, v := range in {
			if v <= 0 {
				prev[i] = 0
			}
		}
		delta = prev
	}
}

func maxOf(v []float32) float32 {
	best := v[0]
	for _, x := range v[1:] {
		if x > best {
			best = x
		}
	}
	return best
}

var _ domain.ValueEstimator = (*MLP)(nil)
