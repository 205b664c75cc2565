package device

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

type Kind string

const (
	CPU         Kind = "cpu"
	Accelerator Kind = "accelerator"
)

// Device is the compute capability chosen once at startup.
type Device struct {
	Kind    Kind
	Name    string
	Threads int
}

// Probe is the environment view used for detection. Zero value means the
// real process environment.
type Probe struct {
	Getenv func(string) string
	Exists func(string) bool
}

func (p Probe) getenv(k string) string {
	if p.Getenv != nil {
		return p.Getenv(k)
	}
	return os.Getenv(k)
}

func (p Probe) exists(path string) bool {
	if p.Exists != nil {
		return p.Exists(path)
	}
	_, err := os.Stat(path)
	return err == nil
}

// Detect resolves preference ("auto", "cpu", "accelerator") into a Device.
func Detect(preference string, probe Probe, logger *zap.Logger) (Device, error) {
	d := Device{Kind: CPU, Name: runtime.GOARCH, Threads: runtime.NumCPU()}
	switch strings.ToLower(strings.TrimSpace(preference)) {
	case "", "auto":
		if name, ok := acceleratorPresent(probe); ok {
			d.Kind = Accelerator
			d.Name = name
		}
	case string(CPU):
	case string(Accelerator), "cuda", "gpu":
		d.Kind = Accelerator
		d.Name = "forced"
	default:
		return Device{}, fmt.Errorf("unknown compute device %q", preference)
	}
	if logger != nil {
		logger.Info("compute device selected",
			zap.String("kind", string(d.Kind)),
			zap.String("name", d.Name),
			zap.Int("threads", d.Threads))
	}
	return d, nil
}

func acceleratorPresent(p Probe) (string, bool) {
	if v := strings.TrimSpace(p.getenv("CUDA_VISIBLE_DEVICES")); v == "-1" || v == "none" {
		return "", false
	}
	if p.exists("/dev/nvidia0") {
		return "cuda:0", true
	}
	if p.exists("/dev/kfd") {
		return "rocm:0", true
	}
	return "", false
}

// BatchSize picks the per-step batch size for this device.
func (d Device) BatchSize(cpu, accel int) int {
	if d.Kind == Accelerator {
		return accel
	}
	return cpu
}
