package pvnet

import (
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const illegalLogit = -1e9

// Inferer produces a move distribution and a state value for a single
// encoded position. The returned policy is zero on illegal moves and
// renormalized over the legal ones.
type Inferer interface {
	Infer(state []float32, legal []int) (policy []float32, value float32, err error)
}

// Inferencer is a forward-only copy of a Net, safe for concurrent use. The
// training graph keeps learning while an Inferencer serves a frozen snapshot
// of its weights.
type Inferencer struct {
	mu      sync.Mutex
	net     *Net
	machine G.VM
}

// Infer clones src into a forward-only network with the given batch size and
// copies its current weights. Use batch size 1 for move inference and the
// training batch size for value evaluation.
func Infer(src *Net, batchSize int) (*Inferencer, error) {
	conf := src.Config
	conf.FwdOnly = true
	conf.BatchSize = batchSize

	clone := New(conf)
	if err := clone.Init(); err != nil {
		return nil, errors.WithMessage(err, "initializing inference clone")
	}
	retVal := &Inferencer{
		net:     clone,
		machine: G.NewTapeMachine(clone.g),
	}
	if err := retVal.WeightsFrom(src); err != nil {
		return nil, err
	}
	clone.SetTesting()
	return retVal, nil
}

// WeightsFrom refreshes the Inferencer's weights from src. Both networks
// build their graphs in the same order, so learnables pair up positionally.
func (inf *Inferencer) WeightsFrom(src *Net) error {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	srcModel := src.Model()
	dstModel := inf.net.Model()
	if len(srcModel) != len(dstModel) {
		return errors.Errorf("model mismatch: %d learnables vs %d", len(srcModel), len(dstModel))
	}
	for i, srcNode := range srcModel {
		srcData, ok := srcNode.Value().Data().([]float32)
		if !ok {
			return errors.Errorf("learnable %v is not a float32 tensor", srcNode.Name())
		}
		dstData, ok := dstModel[i].Value().Data().([]float32)
		if !ok || len(srcData) != len(dstData) {
			return errors.Errorf("learnable %v shape mismatch", srcNode.Name())
		}
		copy(dstData, srcData)
	}
	return nil
}

// Infer runs a single position through the network. The Inferencer must have
// been created with batch size 1.
func (inf *Inferencer) Infer(state []float32, legal []int) ([]float32, float32, error) {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	n := inf.net
	if n.BatchSize != 1 {
		return nil, 0, errors.Errorf("Infer wants batch size 1, network has %d", n.BatchSize)
	}
	if err := inf.run(state, LegalMask(legal, n.ActionSpace)); err != nil {
		return nil, 0, err
	}
	policy := append([]float32(nil), n.policy.Data().([]float32)...)
	value := scalar(n.value)
	return policy, value, nil
}

// Values evaluates a batch of positions and returns their state values.
// planes and masks are flat row-major batches matching the Inferencer's
// batch size.
func (inf *Inferencer) Values(planes, masks []float32) ([]float32, error) {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if err := inf.run(planes, masks); err != nil {
		return nil, err
	}
	return append([]float32(nil), inf.net.value.Data().([]float32)...), nil
}

func (inf *Inferencer) run(planes, masks []float32) error {
	n := inf.net
	if len(planes) != n.planes.Shape().TotalSize() {
		return errors.Errorf("state wants %d values, got %d", n.planes.Shape().TotalSize(), len(planes))
	}
	planesT := tensor.New(tensor.WithShape(n.planes.Shape().Clone()...), tensor.WithBacking(planes))
	maskT := tensor.New(tensor.WithShape(n.mask.Shape().Clone()...), tensor.WithBacking(masks))
	if err := G.Let(n.planes, planesT); err != nil {
		return errors.WithStack(err)
	}
	if err := G.Let(n.mask, maskT); err != nil {
		return errors.WithStack(err)
	}
	if err := inf.machine.RunAll(); err != nil {
		inf.machine.Reset()
		return errors.WithMessage(err, "forward pass")
	}
	inf.machine.Reset()
	return nil
}

// BatchSize reports the clone's batch size.
func (inf *Inferencer) BatchSize() int { return inf.net.BatchSize }

// Close releases the tape machine.
func (inf *Inferencer) Close() error {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	return inf.machine.Close()
}

// LegalMask builds an additive logit mask: 0 for legal action indices, a
// large negative everywhere else. Softmax over masked logits assigns illegal
// moves exactly zero probability.
func LegalMask(legal []int, actionSpace int) []float32 {
	mask := make([]float32, actionSpace)
	for i := range mask {
		mask[i] = illegalLogit
	}
	for _, a := range legal {
		if a >= 0 && a < actionSpace {
			mask[a] = 0
		}
	}
	return mask
}

// Uniform is an Inferer that spreads probability evenly over the legal moves
// and values every position at zero. It stands in for the network before the
// first checkpoint exists.
type Uniform struct {
	ActionSpace int
}

func (u Uniform) Infer(state []float32, legal []int) ([]float32, float32, error) {
	policy := make([]float32, u.ActionSpace)
	if len(legal) == 0 {
		return policy, 0, nil
	}
	p := 1 / float32(len(legal))
	for _, a := range legal {
		if a >= 0 && a < u.ActionSpace {
			policy[a] = p
		}
	}
	return policy, 0, nil
}

// HealthCheck probes inf with one position and reports the first anomaly:
// non-finite outputs, a policy that does not sum to one over the legal
// moves, or a value outside [-1, 1].
func HealthCheck(inf Inferer, state []float32, legal []int) error {
	policy, value, err := inf.Infer(state, legal)
	if err != nil {
		return err
	}
	if math32.IsNaN(value) || value < -1.0001 || value > 1.0001 {
		return errors.Errorf("value %v outside [-1, 1]", value)
	}
	var sum float32
	for _, p := range policy {
		if math32.IsNaN(p) || math32.IsInf(p, 0) {
			return errors.New("policy contains non-finite probabilities")
		}
		sum += p
	}
	if math32.Abs(sum-1) > 1e-3 {
		return errors.Errorf("policy sums to %v, want 1", sum)
	}
	return nil
}
