package nn

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Checkpoint is a serializable snapshot of a training run: parameter data
// keyed by name, the step/epoch counters and the optimizer state. Weights are
// base64-encoded little-endian float32.
type Checkpoint struct {
	Type       string                 `json:"type"`
	Version    int                    `json:"version"`
	Name       string                 `json:"name"`
	GlobalStep int                    `json:"global_step"`
	Epoch      int                    `json:"epoch"`
	Weights    map[string]string      `json:"weights"`
	Optimizer  map[string]interface{} `json:"optimizer,omitempty"`
}

const checkpointVersion = 1

// NewCheckpoint captures the given parameters and counters.
func NewCheckpoint(name string, params []*Param, globalStep, epoch int, opt Optimizer) *Checkpoint {
	ckpt := &Checkpoint{
		Type:       "vton-checkpoint",
		Version:    checkpointVersion,
		Name:       name,
		GlobalStep: globalStep,
		Epoch:      epoch,
		Weights:    make(map[string]string, len(params)),
	}
	for _, p := range params {
		ckpt.Weights[p.Name] = encodeFloats(p.Data)
	}
	if opt != nil {
		ckpt.Optimizer = opt.GetState()
	}
	return ckpt
}

// Save writes the checkpoint as JSON, creating parent directories as needed.
func (c *Checkpoint) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %w", err)
	}
	if ckpt.Type != "vton-checkpoint" {
		return nil, fmt.Errorf("not a checkpoint file: type %q", ckpt.Type)
	}
	return &ckpt, nil
}

// Restore copies checkpoint weights into matching parameters. Every parameter
// must be present with the right size.
func (c *Checkpoint) Restore(params []*Param) error {
	for _, p := range params {
		enc, ok := c.Weights[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %s", p.Name)
		}
		data, err := decodeFloats(enc)
		if err != nil {
			return fmt.Errorf("failed to decode parameter %s: %w", p.Name, err)
		}
		if len(data) != len(p.Data) {
			return fmt.Errorf("parameter %s has %d values in checkpoint, expected %d", p.Name, len(data), len(p.Data))
		}
		copy(p.Data, data)
	}
	return nil
}

func encodeFloats(data []float32) string {
	buf := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeFloats(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("weight blob length %d is not a multiple of 4", len(buf))
	}
	data := make([]float32, len(buf)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return data, nil
}
