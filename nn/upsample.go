package nn

// upsampleNearest2x doubles the spatial resolution by nearest-neighbor
// replication.
func upsampleNearest2x(x *Tensor) *Tensor {
	out := NewTensor(x.N, x.C, x.H*2, x.W*2)
	for n := 0; n < x.N; n++ {
		for c := 0; c < x.C; c++ {
			for y := 0; y < out.H; y++ {
				srcRow := ((n*x.C+c)*x.H + y/2) * x.W
				dstRow := ((n*x.C+c)*out.H + y) * out.W
				for xo := 0; xo < out.W; xo++ {
					out.Data[dstRow+xo] = x.Data[srcRow+xo/2]
				}
			}
		}
	}
	return out
}

// upsampleNearest2xBackward sums each 2x2 output block's gradient back into
// its source element.
func upsampleNearest2xBackward(gradOut *Tensor) *Tensor {
	inH, inW := gradOut.H/2, gradOut.W/2
	gradIn := NewTensor(gradOut.N, gradOut.C, inH, inW)
	for n := 0; n < gradOut.N; n++ {
		for c := 0; c < gradOut.C; c++ {
			for y := 0; y < gradOut.H; y++ {
				srcRow := ((n*gradOut.C+c)*gradOut.H + y) * gradOut.W
				dstRow := ((n*gradOut.C+c)*inH + y/2) * inW
				for x := 0; x < gradOut.W; x++ {
					gradIn.Data[dstRow+x/2] += gradOut.Data[srcRow+x]
				}
			}
		}
	}
	return gradIn
}

// avgPool2x halves the spatial resolution by averaging 2x2 blocks. Odd
// trailing rows or columns are dropped.
func avgPool2x(x *Tensor) *Tensor {
	outH, outW := x.H/2, x.W/2
	out := NewTensor(x.N, x.C, outH, outW)
	for n := 0; n < x.N; n++ {
		for c := 0; c < x.C; c++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					r0 := ((n*x.C+c)*x.H + oy*2) * x.W
					r1 := r0 + x.W
					sum := x.Data[r0+ox*2] + x.Data[r0+ox*2+1] + x.Data[r1+ox*2] + x.Data[r1+ox*2+1]
					out.Data[((n*x.C+c)*outH+oy)*outW+ox] = sum * 0.25
				}
			}
		}
	}
	return out
}

// avgPool2xBackward spreads each pooled gradient evenly over its 2x2 block of
// an input with dimensions inH by inW.
func avgPool2xBackward(gradOut *Tensor, inH, inW int) *Tensor {
	gradIn := NewTensor(gradOut.N, gradOut.C, inH, inW)
	for n := 0; n < gradOut.N; n++ {
		for c := 0; c < gradOut.C; c++ {
			for oy := 0; oy < gradOut.H; oy++ {
				for ox := 0; ox < gradOut.W; ox++ {
					g := gradOut.Data[((n*gradOut.C+c)*gradOut.H+oy)*gradOut.W+ox] * 0.25
					r0 := ((n*gradOut.C+c)*inH + oy*2) * inW
					r1 := r0 + inW
					gradIn.Data[r0+ox*2] += g
					gradIn.Data[r0+ox*2+1] += g
					gradIn.Data[r1+ox*2] += g
					gradIn.Data[r1+ox*2+1] += g
				}
			}
		}
	}
	return gradIn
}
