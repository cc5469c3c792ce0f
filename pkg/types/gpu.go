package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidGPUModels are the GPU models a Formfile's gpu_devices entries may
// name, per spec.md §6.
var ValidGPUModels = map[string]bool{
	"RTX5090": true,
	"H100":    true,
	"H200":    true,
	"B200":    true,
}

// ParseGPUDevice splits one "MODEL:COUNT" gpu_devices entry, validating
// that MODEL is a recognized model and COUNT falls in 1..=8.
func ParseGPUDevice(entry string) (GPUResource, error) {
	parts := strings.SplitN(entry, ":", 2)
	if len(parts) != 2 {
		return GPUResource{}, fmt.Errorf("gpu device %q: expected MODEL:COUNT", entry)
	}
	model := strings.ToUpper(parts[0])
	if !ValidGPUModels[model] {
		return GPUResource{}, fmt.Errorf("gpu device %q: unrecognized model %q", entry, model)
	}
	count, err := strconv.Atoi(parts[1])
	if err != nil {
		return GPUResource{}, fmt.Errorf("gpu device %q: invalid count: %w", entry, err)
	}
	if count < 1 || count > 8 {
		return GPUResource{}, fmt.Errorf("gpu device %q: count must be 1..=8", entry)
	}
	return GPUResource{Model: model, Count: count}, nil
}

// ParseGPUDevices parses every entry in devices, stopping at the first
// invalid one.
func ParseGPUDevices(devices []string) ([]GPUResource, error) {
	out := make([]GPUResource, 0, len(devices))
	for _, d := range devices {
		gpu, err := ParseGPUDevice(d)
		if err != nil {
			return nil, err
		}
		out = append(out, gpu)
	}
	return out, nil
}
