package nn

import (
	"fmt"
	"unsafe"

	"github.com/openfluke/webgpu/wgpu"
)

// convShaderWGSL builds the WGSL compute shader for one convolution shape.
// One invocation computes one output element; the activation is applied on
// the CPU afterwards so the backward pass sees the pre-activation values.
func convShaderWGSL(batch, inC, outC, inH, inW, outH, outW, kSize, stride, padding int) string {
	return fmt.Sprintf(`
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read> weight: array<f32>;
@group(0) @binding(2) var<storage, read> bias: array<f32>;
@group(0) @binding(3) var<storage, read_write> output: array<f32>;

const BATCH: u32 = %du;
const IN_C: u32 = %du;
const OUT_C: u32 = %du;
const IN_H: u32 = %du;
const IN_W: u32 = %du;
const OUT_H: u32 = %du;
const OUT_W: u32 = %du;
const K: u32 = %du;
const STRIDE: u32 = %du;
const PAD: i32 = %d;

@compute @workgroup_size(256, 1, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let idx = gid.x;
    let total = BATCH * OUT_C * OUT_H * OUT_W;
    if (idx >= total) { return; }

    let n = idx / (OUT_C * OUT_H * OUT_W);
    let r1 = idx %% (OUT_C * OUT_H * OUT_W);
    let f = r1 / (OUT_H * OUT_W);
    let r2 = r1 %% (OUT_H * OUT_W);
    let oy = r2 / OUT_W;
    let ox = r2 %% OUT_W;

    var sum = bias[f];
    for (var ic: u32 = 0u; ic < IN_C; ic = ic + 1u) {
        for (var ky: u32 = 0u; ky < K; ky = ky + 1u) {
            let iy = i32(oy * STRIDE + ky) - PAD;
            if (iy < 0 || iy >= i32(IN_H)) { continue; }
            for (var kx: u32 = 0u; kx < K; kx = kx + 1u) {
                let ix = i32(ox * STRIDE + kx) - PAD;
                if (ix < 0 || ix >= i32(IN_W)) { continue; }
                let inIdx = ((n * IN_C + ic) * IN_H + u32(iy)) * IN_W + u32(ix);
                let wIdx = ((f * IN_C + ic) * K + ky) * K + kx;
                sum = sum + input[inIdx] * weight[wIdx];
            }
        }
    }
    output[idx] = sum;
}
`, batch, inC, outC, inH, inW, outH, outW, kSize, stride, padding)
}

// convForwardGPU runs the convolution's linear part on the GPU and returns the
// pre-activation tensor.
func convForwardGPU(g *GPUContext, x *Tensor, c *Conv2D) (*Tensor, error) {
	outH, outW := c.OutSize(x.H, x.W)
	outSize := x.N * c.OutChannels * outH * outW

	shader := convShaderWGSL(x.N, x.C, c.OutChannels, x.H, x.W, outH, outW, c.KernelSize, c.Stride, c.Padding)
	module, err := g.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "conv_fwd_shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shader},
	})
	if err != nil {
		return nil, fmt.Errorf("CreateShaderModule: %w", err)
	}
	defer module.Release()

	bgl, err := g.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "conv_fwd_bgl",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 3, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return nil, err
	}
	defer bgl.Release()

	pl, err := g.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "conv_fwd_pl",
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, err
	}
	defer pl.Release()

	pipeline, err := g.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "conv_fwd_pipeline",
		Layout: pl,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, err
	}
	defer pipeline.Release()

	mkBuffer := func(label string, size int, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
		return g.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: label,
			Size:  uint64(size * 4),
			Usage: usage,
		})
	}

	inputBuf, err := mkBuffer("conv_input", x.Size(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	defer inputBuf.Release()
	weightBuf, err := mkBuffer("conv_weight", len(c.Weight.Data), wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	defer weightBuf.Release()
	biasBuf, err := mkBuffer("conv_bias", len(c.Bias.Data), wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	defer biasBuf.Release()
	outputBuf, err := mkBuffer("conv_output", outSize, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	if err != nil {
		return nil, err
	}
	defer outputBuf.Release()
	readbackBuf, err := mkBuffer("conv_readback", outSize, wgpu.BufferUsageCopyDst|wgpu.BufferUsageMapRead)
	if err != nil {
		return nil, err
	}
	defer readbackBuf.Release()

	g.queue.WriteBuffer(inputBuf, 0, unsafe.Slice((*byte)(unsafe.Pointer(&x.Data[0])), x.Size()*4))
	g.queue.WriteBuffer(weightBuf, 0, unsafe.Slice((*byte)(unsafe.Pointer(&c.Weight.Data[0])), len(c.Weight.Data)*4))
	g.queue.WriteBuffer(biasBuf, 0, unsafe.Slice((*byte)(unsafe.Pointer(&c.Bias.Data[0])), len(c.Bias.Data)*4))

	bg, err := g.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "conv_fwd_bg",
		Layout: bgl,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: inputBuf, Offset: 0, Size: inputBuf.GetSize()},
			{Binding: 1, Buffer: weightBuf, Offset: 0, Size: weightBuf.GetSize()},
			{Binding: 2, Buffer: biasBuf, Offset: 0, Size: biasBuf.GetSize()},
			{Binding: 3, Buffer: outputBuf, Offset: 0, Size: outputBuf.GetSize()},
		},
	})
	if err != nil {
		return nil, err
	}
	defer bg.Release()

	enc, err := g.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups((uint32(outSize)+255)/256, 1, 1)
	pass.End()
	enc.CopyBufferToBuffer(outputBuf, 0, readbackBuf, 0, uint64(outSize*4))
	cb, err := enc.Finish(nil)
	if err != nil {
		enc.Release()
		return nil, err
	}
	enc.Release()
	g.queue.Submit(cb)
	cb.Release()

	waitDevice(g.device, 1000)
	done := false
	readbackBuf.MapAsync(wgpu.MapModeRead, 0, uint64(outSize*4), func(wgpu.BufferMapAsyncStatus) { done = true })
	for i := 0; i < 1000 && !done; i++ {
		g.device.Poll(true, nil)
	}
	if !done {
		return nil, fmt.Errorf("readback mapping did not complete")
	}

	mapped := readbackBuf.GetMappedRange(0, 0)
	pre := NewTensor(x.N, c.OutChannels, outH, outW)
	copy(pre.Data, unsafe.Slice((*float32)(unsafe.Pointer(&mapped[0])), outSize))
	readbackBuf.Unmap()

	return pre, nil
}
