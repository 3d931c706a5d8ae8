package pvnet

import (
	"sync/atomic"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Batch is one training batch in flat row-major form. Slice lengths must
// match the network's configured batch size.
type Batch struct {
	Planes     []float32 // (B, Features, H, W)
	Mask       []float32 // (B, A) additive legality mask
	Actions    []float32 // (B, A) one-hot
	Advantages []float32 // (B)
	Returns    []float32 // (B)
	Material   []float32 // (B, MaterialClasses) one-hot
	Threat     []float32 // (B, H*W)
}

// Losses holds the component losses of a single optimizer step.
type Losses struct {
	Total    float32
	Policy   float32
	Value    float32
	Entropy  float32
	Material float32
	Threat   float32
}

// NaN reports whether any component is not finite.
func (l Losses) NaN() bool {
	for _, v := range []float32{l.Total, l.Policy, l.Value, l.Entropy, l.Material, l.Threat} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// Trainable binds a loss-carrying Net to a tape machine and an Adam solver.
// All four losses feed a single backward pass, so one Step updates the trunk
// and every head together.
type Trainable struct {
	net     *Net
	machine G.VM
	solver  G.Solver
	model   G.Nodes

	maxGradNorm float32

	// steps counts applied optimizer steps. Skipped steps do not count.
	// Atomic: exploration decay and version reporting read it while the
	// trainer goroutine steps.
	steps atomic.Int64
}

// Steps reports applied optimizer steps. Safe to call while Step runs.
func (t *Trainable) Steps() int { return int(t.steps.Load()) }

// SetSteps restores the step counter from checkpoint meta.
func (t *Trainable) SetSteps(n int) { t.steps.Store(int64(n)) }

// NewTrainable prepares net for optimization. net must have been Init'ed
// without FwdOnly.
func NewTrainable(net *Net, learnRate float64, maxGradNorm float32) (*Trainable, error) {
	if net.FwdOnly {
		return nil, errors.New("cannot train a forward-only network")
	}
	if net.g == nil {
		return nil, errors.New("network not initialized")
	}
	model := net.Model()
	return &Trainable{
		net:         net,
		machine:     G.NewTapeMachine(net.g, G.BindDualValues(model...)),
		solver:      G.NewAdamSolver(G.WithLearnRate(learnRate), G.WithBatchSize(float64(net.BatchSize))),
		model:       model,
		maxGradNorm: maxGradNorm,
	}, nil
}

// Step runs one forward-backward pass and, when the total loss is finite and
// at most maxLoss, applies the optimizer. A skipped step returns the losses
// and true so the caller can log the instability without treating it as
// fatal.
func (t *Trainable) Step(b Batch, maxLoss float32) (Losses, bool, error) {
	n := t.net
	if err := t.bind(b); err != nil {
		return Losses{}, false, err
	}
	if err := t.machine.RunAll(); err != nil {
		t.machine.Reset()
		return Losses{}, false, errors.WithMessage(err, "forward-backward pass")
	}

	ls := Losses{
		Total:    scalar(n.totalCost),
		Policy:   scalar(n.policyCost),
		Value:    scalar(n.valueCost),
		Entropy:  scalar(n.entropyVal),
		Material: scalar(n.materialCost),
		Threat:   scalar(n.threatCost),
	}
	if ls.NaN() || ls.Total > maxLoss {
		t.machine.Reset()
		return ls, true, nil
	}

	t.clipGrads()
	if err := t.solver.Step(G.NodesToValueGrads(t.model)); err != nil {
		t.machine.Reset()
		return ls, false, errors.WithMessage(err, "solver step")
	}
	t.machine.Reset()
	t.steps.Add(1)
	return ls, false, nil
}

// Close releases the tape machine.
func (t *Trainable) Close() error { return t.machine.Close() }

// Net returns the underlying network, for checkpointing and cloning.
func (t *Trainable) Net() *Net { return t.net }

func (t *Trainable) bind(b Batch) error {
	n := t.net
	binds := []struct {
		node    *G.Node
		backing []float32
	}{
		{n.planes, b.Planes},
		{n.mask, b.Mask},
		{n.actions, b.Actions},
		{n.advantages, b.Advantages},
		{n.returns, b.Returns},
		{n.materialT, b.Material},
		{n.threatT, b.Threat},
	}
	for _, bd := range binds {
		shp := bd.node.Shape()
		if len(bd.backing) != shp.TotalSize() {
			return errors.Errorf("input %v wants %d values, got %d", bd.node.Name(), shp.TotalSize(), len(bd.backing))
		}
		tv := tensor.New(tensor.WithShape(shp.Clone()...), tensor.WithBacking(bd.backing))
		if err := G.Let(bd.node, tv); err != nil {
			return errors.WithMessagef(err, "binding %v", bd.node.Name())
		}
	}
	return nil
}

// clipGrads rescales all gradients in place so their global L2 norm is at
// most maxGradNorm.
func (t *Trainable) clipGrads() {
	if t.maxGradNorm <= 0 {
		return
	}
	var sumSq float32
	grads := make([][]float32, 0, len(t.model))
	for _, node := range t.model {
		gv, err := node.Grad()
		if err != nil {
			continue
		}
		data, ok := gv.Data().([]float32)
		if !ok {
			continue
		}
		grads = append(grads, data)
		for _, g := range data {
			sumSq += g * g
		}
	}
	norm := math32.Sqrt(sumSq)
	if norm <= t.maxGradNorm || norm == 0 {
		return
	}
	scale := t.maxGradNorm / norm
	for _, data := range grads {
		for i := range data {
			data[i] *= scale
		}
	}
}

func scalar(v G.Value) float32 {
	if v == nil {
		return math32.NaN()
	}
	switch d := v.Data().(type) {
	case float32:
		return d
	case []float32:
		if len(d) > 0 {
			return d[0]
		}
	}
	return math32.NaN()
}
