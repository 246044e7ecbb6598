package modelpath

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sherpa-go/sherpa-agents-go/pkg/model"
)

func testMeta() model.Metadata {
	return model.Metadata{
		ModelID:        "vad-silero-v5",
		ModuleKind:     model.KindVoiceActivityDetection,
		DownloadURL:    "https://example.com/vad-silero-v5.tar.bz2",
		ModelFileNames: []string{"model.onnx"},
	}
}

func TestResolverLayout(t *testing.T) {
	r, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	meta := testMeta()
	modelRoot, err := r.ModelRoot(meta)
	if err != nil {
		t.Fatalf("ModelRoot: %v", err)
	}
	if !strings.HasSuffix(modelRoot, filepath.Join("sherpa-onnx", "models", "voice-activity-detection", "vad-silero-v5")) {
		t.Errorf("unexpected model root: %s", modelRoot)
	}

	filePath, err := r.FilePath(meta, "model.onnx")
	if err != nil {
		t.Fatalf("FilePath: %v", err)
	}
	if filepath.Dir(filePath) != modelRoot {
		t.Errorf("file path %s not under model root %s", filePath, modelRoot)
	}
}

func TestResolverStagingPathCompressed(t *testing.T) {
	r, _ := New(t.TempDir())
	meta := testMeta()

	staging, err := r.StagingPath(meta, "vad-silero-v5.tar.bz2")
	if err != nil {
		t.Fatalf("StagingPath: %v", err)
	}
	moduleRoot, _ := r.ModuleRoot(meta.ModuleKind)
	if filepath.Dir(staging) != moduleRoot {
		t.Errorf("compressed staging path should live in module root, got %s (want dir %s)", staging, moduleRoot)
	}
}

func TestResolverStagingPathUncompressed(t *testing.T) {
	r, _ := New(t.TempDir())
	meta := testMeta()

	staging, err := r.StagingPath(meta, "model.onnx")
	if err != nil {
		t.Fatalf("StagingPath: %v", err)
	}
	modelRoot, _ := r.ModelRoot(meta)
	if filepath.Dir(staging) != modelRoot {
		t.Errorf("uncompressed staging path should live in model root, got %s (want dir %s)", staging, modelRoot)
	}
}

func TestResolverRejectsTraversal(t *testing.T) {
	r, _ := New(t.TempDir())
	meta := testMeta()

	if _, err := r.FilePath(meta, "../../etc/passwd"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestResolverRejectsEmptyInputs(t *testing.T) {
	r, _ := New(t.TempDir())

	if _, err := r.ModuleRoot(""); err == nil {
		t.Error("expected error for empty kind")
	}
	if _, err := r.FilePath(testMeta(), ""); err == nil {
		t.Error("expected error for empty file name")
	}
	if _, err := New(""); err == nil {
		t.Error("expected error for empty data root")
	}
}

func TestIsCompressedName(t *testing.T) {
	cases := map[string]bool{
		"a.tar.gz":  true,
		"a.tgz":     true,
		"a.tar.bz2": true,
		"a.tbz2":    true,
		"a.tar":     true,
		"a.zip":     true,
		"a.gz":      true,
		"a.bz2":     true,
		"a.onnx":    false,
		"a.json":    false,
	}
	for name, want := range cases {
		if got := IsCompressedName(name); got != want {
			t.Errorf("IsCompressedName(%q) = %v, want %v", name, got, want)
		}
	}
}
