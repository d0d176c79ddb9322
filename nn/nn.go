// Package nn provides the numerical substrate for the try-on synthesis model:
// NCHW float32 tensors, convolutional layers with explicit CPU forward/backward
// passes, instance normalization, self-attention, an encoder-decoder generator
// with skip connections, losses, optimizers and learning-rate schedules.
//
// Layers cache the activations of their most recent forward pass so a backward
// pass can follow without re-computation. Steps run strictly sequentially, so
// no layer is safe for concurrent use.
//
// Example usage:
//
//	net, _ := nn.NewUNet(nn.UNetConfig{InChannels: 25, OutChannels: 4, NumDowns: 6, BaseWidth: 64})
//	nn.InitNormal(net.Params(), 42)
//
//	out, _ := net.Forward(input)
//	grad, _ := net.Backward(gradOut)
//
//	opt := nn.NewAdamOptimizerDefault()
//	opt.Step(net.Params(), 1e-4)
package nn
