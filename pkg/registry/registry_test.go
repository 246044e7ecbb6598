package registry

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sherpa-go/sherpa-agents-go/pkg/model"
	"github.com/sherpa-go/sherpa-agents-go/pkg/modelpath"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	resolver, err := modelpath.New(t.TempDir())
	if err != nil {
		t.Fatalf("modelpath.New: %v", err)
	}
	return New(resolver)
}

func TestGetResolvesFileNamesOnce(t *testing.T) {
	r := testRegistry(t)

	m, err := r.Get("silero-vad")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(m.ModelFileNames) != 1 {
		t.Fatalf("ModelFileNames = %v", m.ModelFileNames)
	}
	if !filepath.IsAbs(m.ModelFileNames[0]) {
		t.Errorf("expected absolute path, got %q", m.ModelFileNames[0])
	}
	if !strings.HasSuffix(m.ModelFileNames[0], "silero_vad.onnx") {
		t.Errorf("unexpected file name: %q", m.ModelFileNames[0])
	}

	// A second Get returns the same resolved path, not a double-join.
	m2, err := r.Get("silero-vad")
	if err != nil {
		t.Fatalf("Get (second): %v", err)
	}
	if m2.ModelFileNames[0] != m.ModelFileNames[0] {
		t.Errorf("second Get = %q, want %q", m2.ModelFileNames[0], m.ModelFileNames[0])
	}
}

func TestGetUnknownModel(t *testing.T) {
	r := testRegistry(t)
	if _, err := r.Get("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestByKind(t *testing.T) {
	r := testRegistry(t)
	vadModels, err := r.ByKind(model.KindVoiceActivityDetection)
	if err != nil {
		t.Fatalf("ByKind: %v", err)
	}
	if len(vadModels) != 1 || vadModels[0].ModelID != "silero-vad" {
		t.Errorf("ByKind(VAD) = %+v", vadModels)
	}
}

func TestStatusReportsFalseForUnacquiredModels(t *testing.T) {
	r := testRegistry(t)
	status, err := r.Status(model.KindVoiceActivityDetection)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	ready, ok := status["silero-vad"]
	if !ok {
		t.Fatal("expected an entry for silero-vad")
	}
	if ready {
		t.Error("expected silero-vad to be not-ready before any files are downloaded")
	}
}

func TestStatusEmptyKindCoversEveryModel(t *testing.T) {
	r := testRegistry(t)
	all, err := r.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	status, err := r.Status("")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status) != len(all) {
		t.Errorf("Status(\"\") returned %d entries, want %d", len(status), len(all))
	}
}

func TestAllReturnsEveryModel(t *testing.T) {
	r := testRegistry(t)
	all, err := r.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("expected non-empty manifest")
	}
	seen := make(map[string]bool)
	for _, m := range all {
		if seen[m.ModelID] {
			t.Errorf("duplicate ModelID %q in manifest", m.ModelID)
		}
		seen[m.ModelID] = true
		if err := m.Validate(); err != nil {
			t.Errorf("model %q fails validation: %v", m.ModelID, err)
		}
	}
}
