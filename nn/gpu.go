package nn

import (
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// GPUContext holds the WebGPU device used to accelerate convolution forward
// passes. Backward passes always run on CPU.
type GPUContext struct {
	device  *wgpu.Device
	queue   *wgpu.Queue
	release func()
}

// NewGPUContext acquires a compute device. Callers must Release it when done.
func NewGPUContext() (*GPUContext, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("nn: wgpu CreateInstance returned nil")
	}

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil || adapter == nil {
		inst.Release()
		return nil, fmt.Errorf("nn: wgpu RequestAdapter failed")
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{})
	if err != nil || device == nil {
		adapter.Release()
		inst.Release()
		return nil, fmt.Errorf("nn: wgpu RequestDevice failed")
	}

	return &GPUContext{
		device: device,
		queue:  device.GetQueue(),
		release: func() {
			device.Release()
			adapter.Release()
			inst.Release()
		},
	}, nil
}

// Release frees the device resources.
func (g *GPUContext) Release() {
	if g.release != nil {
		g.release()
		g.release = nil
	}
}

// waitDevice polls the device until submitted work completes.
func waitDevice(dev *wgpu.Device, maxIter int) {
	for i := 0; i < maxIter; i++ {
		if dev.Poll(true, nil) {
			break
		}
		time.Sleep(100 * time.Microsecond)
	}
}
