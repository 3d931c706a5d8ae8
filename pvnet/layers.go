package pvnet

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	nnops "gorgonia.org/gorgonia/ops/nn"
	"gorgonia.org/tensor"
)

// maebe threads errors through graph construction so the builder reads
// straight-line.
type maebe struct {
	err error
}

type batchNormOp interface {
	SetTraining()
	SetTesting()
	Reset() error
}

func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) conv(input *G.Node, filterCount, size int, name string) *G.Node {
	return m.convInit(input, filterCount, size, name, G.GlorotU(1.0))
}

func (m *maebe) convInit(input *G.Node, filterCount, size int, name string, init G.InitWFn) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	featureCount := input.Shape()[1]
	padding := []int{(size - 1) / 2, (size - 1) / 2}
	filter := G.NewTensor(input.Graph(), Float, 4, G.WithShape(filterCount, featureCount, size, size), G.WithName("Filter"+name), G.WithInit(init))
	if retVal, m.err = nnops.Conv2d(input, filter, []int{size, size}, padding, []int{1, 1}, []int{1, 1}); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) batchnorm(input *G.Node) (retVal *G.Node, retOp batchNormOp) {
	if m.err != nil {
		return nil, nil
	}
	if retVal, _, _, retOp, m.err = nnops.BatchNorm(input, nil, nil, 0.997, 1e-5); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) rectify(input *G.Node) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = nnops.Rectify(input); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// stem is a convolution-batchnorm-rectify projection.
func (m *maebe) stem(input *G.Node, filterCount int, name string) (*G.Node, batchNormOp) {
	convolved := m.conv(input, filterCount, 3, name)
	normalized, op := m.batchnorm(convolved)
	return m.rectify(normalized), op
}

// residual is a two-convolution block with a skip connection.
func (m *maebe) residual(input *G.Node, filterCount, layer int) (*G.Node, batchNormOp, batchNormOp) {
	c1 := m.conv(input, filterCount, 3, fmt.Sprintf("Res%dA", layer))
	n1, op1 := m.batchnorm(c1)
	r1 := m.rectify(n1)
	c2 := m.conv(r1, filterCount, 3, fmt.Sprintf("Res%dB", layer))
	n2, op2 := m.batchnorm(c2)
	added := m.do(func() (*G.Node, error) { return G.Add(n2, input) })
	return m.rectify(added), op1, op2
}

// attend applies spatial self-attention over board positions: 1x1 query/key/
// value projections and a position-to-position softmax. The value projection
// starts at zero so the stage begins as identity and eases in through
// training.
func (m *maebe) attend(input *G.Node, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	shp := input.Shape() // (B, C, H, W)
	batch, channels, height, width := shp[0], shp[1], shp[2], shp[3]
	positions := height * width
	inner := channels / 8
	if inner < 1 {
		inner = 1
	}

	q := m.conv(input, inner, 1, name+"Query")
	k := m.conv(input, inner, 1, name+"Key")
	v := m.convInit(input, channels, 1, name+"Value", G.Zeroes())

	q = m.reshape(q, tensor.Shape{batch, inner, positions})
	k = m.reshape(k, tensor.Shape{batch, inner, positions})
	v = m.reshape(v, tensor.Shape{batch, channels, positions})

	qT := m.do(func() (*G.Node, error) { return G.Transpose(q, 0, 2, 1) })
	energy := m.do(func() (*G.Node, error) { return G.BatchedMatMul(qT, k) })
	scale := G.NewConstant(1 / math32.Sqrt(float32(inner)))
	energy = m.do(func() (*G.Node, error) { return G.Mul(energy, scale) })
	attn := m.do(func() (*G.Node, error) { return G.SoftMax(energy, 2) })
	attnT := m.do(func() (*G.Node, error) { return G.Transpose(attn, 0, 2, 1) })
	out := m.do(func() (*G.Node, error) { return G.BatchedMatMul(v, attnT) })
	out = m.reshape(out, tensor.Shape{batch, channels, height, width})

	return m.do(func() (*G.Node, error) { return G.Add(out, input) })
}

func (m *maebe) linear(input *G.Node, units int, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	w := G.NewTensor(input.Graph(), Float, 2, G.WithShape(input.Shape()[1], units), G.WithInit(G.GlorotN(1.0)), G.WithName(name+"_w"))
	xw := m.do(func() (*G.Node, error) { return G.Mul(input, w) })
	if m.err != nil {
		return nil
	}
	b := G.NewTensor(xw.Graph(), Float, xw.Shape().Dims(), G.WithShape(xw.Shape().Clone()...), G.WithName(name+"_b"), G.WithInit(G.Zeroes()))
	return m.do(func() (*G.Node, error) { return G.Add(xw, b) })
}

func (m *maebe) reshape(input *G.Node, to tensor.Shape) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = G.Reshape(input, to); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

// logStable is Log(input + eps), keeping gradients finite at zero.
func (m *maebe) logStable(input *G.Node) *G.Node {
	eps := G.NewConstant(float32(1e-8))
	shifted := m.do(func() (*G.Node, error) { return G.Add(input, eps) })
	return m.do(func() (*G.Node, error) { return G.Log(shifted) })
}

// rowSum reduces a matrix along its second axis.
func (m *maebe) rowSum(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Sum(input, 1) })
}
