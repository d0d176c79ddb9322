package nn

import (
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// InitNormal initializes parameters with a reproducible normal scheme keyed by
// the parameter name: weights are drawn from N(0, 0.02), normalization gains
// from N(1, 0.02), and biases, shifts and gates are zeroed. The same seed
// always produces the same weights for the same parameter order.
func InitNormal(params []*Param, seed uint64) {
	src := rand.NewSource(seed)
	weightDist := distuv.Normal{Mu: 0, Sigma: 0.02, Src: src}
	gainDist := distuv.Normal{Mu: 1, Sigma: 0.02, Src: src}

	for _, p := range params {
		switch {
		case strings.HasSuffix(p.Name, ".weight"):
			for i := range p.Data {
				p.Data[i] = float32(weightDist.Rand())
			}
		case strings.HasSuffix(p.Name, ".gain"):
			for i := range p.Data {
				p.Data[i] = float32(gainDist.Rand())
			}
		default:
			// biases, shifts, attention gates
			for i := range p.Data {
				p.Data[i] = 0
			}
		}
	}
}
