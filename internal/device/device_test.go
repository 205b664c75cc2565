package device

import "testing"

func fakeProbe(env map[string]string, files ...string) Probe {
	set := map[string]bool{}
	for _, f := range files {
		set[f] = true
	}
	return Probe{
		Getenv: func(k string) string { return env[k] },
		Exists: func(p string) bool { return set[p] },
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		pref string
		pr   Probe
		want Kind
	}{
		{"auto without device", "auto", fakeProbe(nil), CPU},
		{"auto with nvidia", "auto", fakeProbe(nil, "/dev/nvidia0"), Accelerator},
		{"auto hidden devices", "", fakeProbe(map[string]string{"CUDA_VISIBLE_DEVICES": "-1"}, "/dev/nvidia0"), CPU},
		{"forced cpu", "cpu", fakeProbe(nil, "/dev/nvidia0"), CPU},
		{"forced accelerator", "accelerator", fakeProbe(nil), Accelerator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Detect(tt.pref, tt.pr, nil)
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			if d.Kind != tt.want {
				t.Fatalf("want %s, got %s", tt.want, d.Kind)
			}
		})
	}
}

func TestDetect_Unknown(t *testing.T) {
	if _, err := Detect("tpu-pod", fakeProbe(nil), nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBatchSize(t *testing.T) {
	if got := (Device{Kind: CPU}).BatchSize(4, 8); got != 4 {
		t.Fatalf("cpu batch: %d", got)
	}
	if got := (Device{Kind: Accelerator}).BatchSize(4, 8); got != 8 {
		t.Fatalf("accelerator batch: %d", got)
	}
}
