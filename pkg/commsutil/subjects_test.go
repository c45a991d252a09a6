package commsutil

import "testing"

func TestBuildReadySubject(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		worker string
		want   string
	}{
		{"basic", "engine.ready", "w-1", "engine.ready.w-1"},
		{"dotted worker", "engine.ready", "host.a", "engine.ready.host_a"},
		{"wildcards", "engine.ready", "a*b>c", "engine.ready.a_b_c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildReadySubject(tt.base, tt.worker)
			if got != tt.want {
				t.Errorf("BuildReadySubject(%q, %q) = %q, want %q", tt.base, tt.worker, got, tt.want)
			}
		})
	}
}

func TestBuildWorkerSubject(t *testing.T) {
	got := BuildWorkerSubject(SubjectEngine, "6f1c.2")
	if want := "engine.worker.v1.6f1c_2"; got != want {
		t.Errorf("BuildWorkerSubject() = %q, want %q", got, want)
	}
}
