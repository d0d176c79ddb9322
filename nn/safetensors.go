package nn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

// safetensorsEntry describes one tensor in a safetensors header.
type safetensorsEntry struct {
	DType   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

// LoadSafetensors reads float32 tensors from a safetensors file and returns
// the data and shapes keyed by tensor name. Only F32 entries are supported;
// others are rejected so silently truncated weights cannot slip through.
func LoadSafetensors(path string) (map[string][]float32, map[string][]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open safetensors file: %w", err)
	}
	defer f.Close()

	var headerSize uint64
	if err := binary.Read(f, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, fmt.Errorf("failed to read header size: %w", err)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header: %w", err)
	}

	payload, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	tensors := make(map[string][]float32)
	shapes := make(map[string][]int)
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var entry safetensorsEntry
		if err := json.Unmarshal(msg, &entry); err != nil {
			return nil, nil, fmt.Errorf("bad header entry for %s: %w", name, err)
		}
		if entry.DType != "F32" {
			return nil, nil, fmt.Errorf("tensor %s has unsupported dtype %s", name, entry.DType)
		}
		start, end := entry.Offsets[0], entry.Offsets[1]
		if start < 0 || end > len(payload) || (end-start)%4 != 0 {
			return nil, nil, fmt.Errorf("tensor %s has invalid data offsets [%d, %d]", name, start, end)
		}
		data := make([]float32, (end-start)/4)
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[start+i*4:]))
		}
		tensors[name] = data
		shapes[name] = entry.Shape
	}
	return tensors, shapes, nil
}

// SaveSafetensors writes float32 tensors to a safetensors file. Shapes are
// optional per tensor; missing shapes are written as flat vectors.
func SaveSafetensors(path string, tensors map[string][]float32, shapes map[string][]int) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]safetensorsEntry, len(names))
	offset := 0
	for _, name := range names {
		size := len(tensors[name]) * 4
		shape, ok := shapes[name]
		if !ok {
			shape = []int{len(tensors[name])}
		}
		header[name] = safetensorsEntry{
			DType:   "F32",
			Shape:   shape,
			Offsets: [2]int{offset, offset + size},
		}
		offset += size
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create safetensors file: %w", err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return err
	}
	if _, err := f.Write(headerBytes); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, name := range names {
		for _, v := range tensors[name] {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := f.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}
