package model

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// machine is one unrolled expression graph for a fixed batch size.
type machine struct {
	g          *gorgonia.ExprGraph
	vm         gorgonia.VM
	xs         []*gorgonia.Node
	y          *gorgonia.Node
	probs      *gorgonia.Node
	cost       *gorgonia.Node
	learnables []*gorgonia.Node
}

type lstmCell struct {
	wx, wh, b [4]*gorgonia.Node
}

func (c *lstmCell) gate(k int, x, h *gorgonia.Node) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, c.wx[k])
	if err != nil {
		return nil, err
	}
	hw, err := gorgonia.Mul(h, c.wh[k])
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(xw, hw)
	if err != nil {
		return nil, err
	}
	pre, err := gorgonia.BroadcastAdd(sum, c.b[k], nil, []byte{0})
	if err != nil {
		return nil, err
	}
	if k == 3 {
		return gorgonia.Tanh(pre)
	}
	return gorgonia.Sigmoid(pre)
}

// step computes the next hidden and cell state for input x.
func (c *lstmCell) step(x, h, cell *gorgonia.Node) (*gorgonia.Node, *gorgonia.Node, error) {
	var gates [4]*gorgonia.Node
	for k := range gates {
		n, err := c.gate(k, x, h)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "gate %s", gateNames[k])
		}
		gates[k] = n
	}

	keep, err := gorgonia.HadamardProd(gates[1], cell)
	if err != nil {
		return nil, nil, err
	}
	write, err := gorgonia.HadamardProd(gates[0], gates[3])
	if err != nil {
		return nil, nil, err
	}
	nextCell, err := gorgonia.Add(keep, write)
	if err != nil {
		return nil, nil, err
	}
	act, err := gorgonia.Tanh(nextCell)
	if err != nil {
		return nil, nil, err
	}
	nextH, err := gorgonia.HadamardProd(gates[2], act)
	if err != nil {
		return nil, nil, err
	}
	return nextH, nextCell, nil
}

// build unrolls the network over the window for the given batch size. A
// training graph adds dropout, the cross-entropy cost and its gradients.
func (m *Model) build(batch int, training bool) (*machine, error) {
	g := gorgonia.NewGraph()
	mc := &machine{g: g}

	for _, p := range m.params {
		n := gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(p.value.Shape()...),
			gorgonia.WithName(p.name),
			gorgonia.WithValue(p.value))
		mc.learnables = append(mc.learnables, n)
	}

	cells := make([]*lstmCell, m.cfg.Layers)
	for l := range cells {
		c := new(lstmCell)
		for k := range gateNames {
			base := l*12 + k*3
			c.wx[k] = mc.learnables[base]
			c.wh[k] = mc.learnables[base+1]
			c.b[k] = mc.learnables[base+2]
		}
		cells[l] = c
	}
	outW := mc.learnables[len(mc.learnables)-2]
	outB := mc.learnables[len(mc.learnables)-1]

	mc.xs = make([]*gorgonia.Node, m.cfg.Window)
	for t := range mc.xs {
		mc.xs[t] = gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(batch, 1),
			gorgonia.WithName(fmt.Sprintf("x_%d", t)))
	}

	seq := mc.xs
	var last *gorgonia.Node
	for l, cell := range cells {
		h := zeroState(g, batch, m.cfg.Hidden, fmt.Sprintf("h0_%d", l))
		c := zeroState(g, batch, m.cfg.Hidden, fmt.Sprintf("c0_%d", l))
		out := make([]*gorgonia.Node, 0, len(seq))
		for _, x := range seq {
			var err error
			if h, c, err = cell.step(x, h, c); err != nil {
				return nil, errors.Wrapf(err, "layer %d", l)
			}
			if l < len(cells)-1 {
				o, err := m.dropout(h, training)
				if err != nil {
					return nil, err
				}
				out = append(out, o)
			}
		}
		seq = out
		last = h
	}

	last, err := m.dropout(last, training)
	if err != nil {
		return nil, err
	}
	xw, err := gorgonia.Mul(last, outW)
	if err != nil {
		return nil, errors.Wrap(err, "output layer")
	}
	logits, err := gorgonia.BroadcastAdd(xw, outB, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrap(err, "output bias")
	}
	if mc.probs, err = gorgonia.SoftMax(logits); err != nil {
		return nil, errors.Wrap(err, "softmax failed")
	}

	if !training {
		mc.vm = gorgonia.NewTapeMachine(g)
		return mc, nil
	}

	mc.y = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(batch, m.vocab.Size()),
		gorgonia.WithName("target"))
	if mc.cost, err = crossEntropy(mc.probs, mc.y); err != nil {
		return nil, errors.Wrap(err, "loss")
	}
	if _, err = gorgonia.Grad(mc.cost, mc.learnables...); err != nil {
		return nil, errors.Wrap(err, "gradient")
	}
	mc.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(mc.learnables...))
	return mc, nil
}

func (m *Model) dropout(n *gorgonia.Node, training bool) (*gorgonia.Node, error) {
	if !training || m.cfg.Dropout <= 0 {
		return n, nil
	}
	return gorgonia.Dropout(n, m.cfg.Dropout)
}

func zeroState(g *gorgonia.ExprGraph, batch, hidden int, name string) *gorgonia.Node {
	return gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(batch, hidden),
		gorgonia.WithName(name),
		gorgonia.WithInit(gorgonia.Zeroes()))
}

// crossEntropy is the batch mean of -sum(y * log(p)).
func crossEntropy(probs, y *gorgonia.Node) (*gorgonia.Node, error) {
	eps := gorgonia.NewConstant(float32(1e-7))
	safe, err := gorgonia.Add(probs, eps)
	if err != nil {
		return nil, err
	}
	logp, err := gorgonia.Log(safe)
	if err != nil {
		return nil, err
	}
	picked, err := gorgonia.HadamardProd(logp, y)
	if err != nil {
		return nil, err
	}
	perRow, err := gorgonia.Sum(picked, 1)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.Mean(perRow)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(mean)
}
