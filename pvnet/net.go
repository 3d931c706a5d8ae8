// Package pvnet is the policy-value network: a shared convolutional trunk
// with residual blocks and a spatial self-attention stage, a policy head over
// the move-index action space, a tanh value head, and two auxiliary heads
// (material classification, threat prediction) that shape the shared features
// during training and are never consumed at inference.
package pvnet

import (
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MaterialClasses is the auxiliary material head's width: behind, even, ahead.
const MaterialClasses = 3

// Net holds the network's expression graph. With FwdOnly unset the graph
// also carries the A2C loss and its gradients.
type Net struct {
	Config
	ops []batchNormOp

	g *G.ExprGraph

	// inputs
	planes     *G.Node // (B, Features, H, W)
	mask       *G.Node // (B, A) additive legality mask: 0 legal, -1e9 illegal
	actions    *G.Node // (B, A) one-hot chosen actions
	advantages *G.Node // (B), constant w.r.t. the policy gradient
	returns    *G.Node // (B) discounted returns
	materialT  *G.Node // (B, MaterialClasses) one-hot material targets
	threatT    *G.Node // (B, H*W) threat map targets

	// head output nodes
	policyOut   *G.Node
	valueOut    *G.Node
	materialOut *G.Node
	threatOut   *G.Node
	logProbs    *G.Node
	totalNode   *G.Node

	// read-out values
	policy   G.Value // masked, renormalized action distribution
	value    G.Value // state value in [-1, 1]
	material G.Value // material class distribution
	threat   G.Value // per-square threat probabilities

	totalCost    G.Value
	policyCost   G.Value
	valueCost    G.Value
	entropyVal   G.Value
	materialCost G.Value
	threatCost   G.Value
}

// New returns a new, uninitialized *Net.
func New(conf Config) *Net { return &Net{Config: conf} }

// Init builds the graph. It must be called once before training or cloning.
func (n *Net) Init() error {
	if err := n.Valid(); err != nil {
		return err
	}
	n.reset()
	n.g = G.NewGraph()

	var m maebe
	n.fwd(&m)
	if m.err != nil {
		return m.err
	}
	if n.FwdOnly {
		return nil
	}
	n.bwd(&m)
	if m.err != nil {
		return m.err
	}
	_, err := G.Grad(n.totalNode, n.Model()...)
	return err
}

// fwd builds the shared trunk and all four heads.
func (n *Net) fwd(m *maebe) {
	boardSize := n.Height * n.Width

	// gorgonia convolutions want BCHW
	n.planes = G.NewTensor(n.g, Float, 4, G.WithShape(n.BatchSize, n.Features, n.Height, n.Width), G.WithName("Planes"))
	n.mask = G.NewMatrix(n.g, Float, G.WithShape(n.BatchSize, n.ActionSpace), G.WithName("LegalMask"))

	trunk, stemOp := m.stem(n.planes, n.K, "Stem")
	n.ops = append(n.ops, stemOp)

	for i := 0; i < n.Mode.ResidualBlocks(); i++ {
		var op1, op2 batchNormOp
		trunk, op1, op2 = m.residual(trunk, n.K, i)
		n.ops = append(n.ops, op1, op2)
	}
	trunk = m.attend(trunk, "Attn")

	// policy head
	policy, pop := m.batchnorm(m.conv(trunk, 2, 1, "PolicyHead"))
	policy = m.rectify(policy)
	policy = m.reshape(policy, tensor.Shape{n.BatchSize, 2 * boardSize})
	logits := m.linear(policy, n.ActionSpace, "Policy")
	masked := m.do(func() (*G.Node, error) { return G.Add(logits, n.mask) })
	n.policyOut = m.do(func() (*G.Node, error) { return G.SoftMax(masked, 1) })
	G.Read(n.policyOut, &n.policy)
	n.logProbs = m.logStable(n.policyOut)

	// value head
	value, vop := m.batchnorm(m.conv(trunk, 1, 1, "ValueHead"))
	value = m.rectify(value)
	value = m.reshape(value, tensor.Shape{n.BatchSize, boardSize})
	value = m.rectify(m.linear(value, n.FC, "Value"))
	value = m.linear(value, 1, "ValueOutput")
	value = m.reshape(value, tensor.Shape{n.BatchSize})
	n.valueOut = m.do(func() (*G.Node, error) { return G.Tanh(value) })
	G.Read(n.valueOut, &n.value)

	// auxiliary: material classifier
	mat, mop := m.batchnorm(m.conv(trunk, 1, 1, "MaterialHead"))
	mat = m.rectify(mat)
	mat = m.reshape(mat, tensor.Shape{n.BatchSize, boardSize})
	matLogits := m.linear(mat, MaterialClasses, "Material")
	n.materialOut = m.do(func() (*G.Node, error) { return G.SoftMax(matLogits, 1) })
	G.Read(n.materialOut, &n.material)

	// auxiliary: threat predictor
	thr := m.conv(trunk, 1, 1, "ThreatHead")
	thr = m.reshape(thr, tensor.Shape{n.BatchSize, boardSize})
	n.threatOut = m.do(func() (*G.Node, error) { return G.Sigmoid(thr) })
	G.Read(n.threatOut, &n.threat)

	n.ops = append(n.ops, pop, vop, mop)
}

// bwd attaches the A2C loss. The advantage enters as an input node, so it is
// a constant of the policy gradient by construction.
func (n *Net) bwd(m *maebe) {
	n.actions = G.NewMatrix(n.g, Float, G.WithShape(n.BatchSize, n.ActionSpace), G.WithName("Actions"))
	n.advantages = G.NewVector(n.g, Float, G.WithShape(n.BatchSize), G.WithName("Advantages"))
	n.returns = G.NewVector(n.g, Float, G.WithShape(n.BatchSize), G.WithName("Returns"))
	n.materialT = G.NewMatrix(n.g, Float, G.WithShape(n.BatchSize, MaterialClasses), G.WithName("MaterialTargets"))
	n.threatT = G.NewMatrix(n.g, Float, G.WithShape(n.BatchSize, n.Height*n.Width), G.WithName("ThreatTargets"))

	// policy loss: -E[logπ(a|s) · A]
	selected := m.rowSum(m.do(func() (*G.Node, error) { return G.HadamardProd(n.logProbs, n.actions) }))
	weighted := m.do(func() (*G.Node, error) { return G.HadamardProd(selected, n.advantages) })
	pcost := m.do(func() (*G.Node, error) { return G.Neg(weighted) })
	pcost = m.do(func() (*G.Node, error) { return G.Mean(pcost) })
	G.Read(pcost, &n.policyCost)

	// value loss: E[(V(s) - R)²]
	vcost := m.do(func() (*G.Node, error) { return G.Sub(n.valueOut, n.returns) })
	vcost = m.do(func() (*G.Node, error) { return G.Square(vcost) })
	vcost = m.do(func() (*G.Node, error) { return G.Mean(vcost) })
	G.Read(vcost, &n.valueCost)

	// entropy bonus: H(π) = -Σ π logπ
	plogp := m.rowSum(m.do(func() (*G.Node, error) { return G.HadamardProd(n.policyOut, n.logProbs) }))
	entropy := m.do(func() (*G.Node, error) { return G.Neg(plogp) })
	entropy = m.do(func() (*G.Node, error) { return G.Mean(entropy) })
	G.Read(entropy, &n.entropyVal)

	// auxiliary: material cross-entropy
	matLogProbs := m.logStable(n.materialOut)
	mcost := m.rowSum(m.do(func() (*G.Node, error) { return G.HadamardProd(matLogProbs, n.materialT) }))
	mcost = m.do(func() (*G.Node, error) { return G.Neg(mcost) })
	mcost = m.do(func() (*G.Node, error) { return G.Mean(mcost) })
	G.Read(mcost, &n.materialCost)

	// auxiliary: threat binary cross-entropy
	one := G.NewConstant(float32(1))
	tpos := m.do(func() (*G.Node, error) { return G.HadamardProd(n.threatT, m.logStable(n.threatOut)) })
	omT := m.do(func() (*G.Node, error) { return G.Sub(one, n.threatT) })
	omP := m.do(func() (*G.Node, error) { return G.Sub(one, n.threatOut) })
	tneg := m.do(func() (*G.Node, error) { return G.HadamardProd(omT, m.logStable(omP)) })
	tcost := m.do(func() (*G.Node, error) { return G.Add(tpos, tneg) })
	tcost = m.do(func() (*G.Node, error) { return G.Neg(tcost) })
	tcost = m.do(func() (*G.Node, error) { return G.Mean(tcost) })
	G.Read(tcost, &n.threatCost)

	// total = policy + c_v·value − c_e·entropy + w·(material + threat)
	vCoef := G.NewConstant(n.ValueLossCoef)
	eCoef := G.NewConstant(n.EntropyCoef)
	auxW := G.NewConstant(n.AuxLossWeight)
	total := m.do(func() (*G.Node, error) {
		scaledV, err := G.Mul(vCoef, vcost)
		if err != nil {
			return nil, err
		}
		return G.Add(pcost, scaledV)
	})
	total = m.do(func() (*G.Node, error) {
		scaledE, err := G.Mul(eCoef, entropy)
		if err != nil {
			return nil, err
		}
		return G.Sub(total, scaledE)
	})
	total = m.do(func() (*G.Node, error) {
		aux, err := G.Add(mcost, tcost)
		if err != nil {
			return nil, err
		}
		scaledAux, err := G.Mul(auxW, aux)
		if err != nil {
			return nil, err
		}
		return G.Add(total, scaledAux)
	})
	G.Read(total, &n.totalCost)
	n.totalNode = total
}

// Model returns every learnable node: all vars except the input nodes.
// Graph construction is deterministic, so the order is stable across runs
// and across processes, which checkpointing relies on.
func (n *Net) Model() G.Nodes {
	inputs := map[*G.Node]bool{
		n.planes: true, n.mask: true, n.actions: true, n.advantages: true,
		n.returns: true, n.materialT: true, n.threatT: true,
	}
	var retVal G.Nodes
	for _, node := range n.g.AllNodes() {
		if node.IsVar() && !inputs[node] {
			retVal = append(retVal, node)
		}
	}
	return retVal
}

// SetTesting switches every batchnorm to inference statistics.
func (n *Net) SetTesting() {
	for _, op := range n.ops {
		op.SetTesting()
	}
}

// SetTraining switches every batchnorm back to batch statistics.
func (n *Net) SetTraining() {
	for _, op := range n.ops {
		op.SetTraining()
	}
}

func (n *Net) reset() {
	n.ops = nil
	n.g = nil
	n.planes = nil
	n.mask = nil
	n.actions = nil
	n.advantages = nil
	n.returns = nil
	n.materialT = nil
	n.threatT = nil
	n.totalNode = nil
}
