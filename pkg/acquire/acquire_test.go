package acquire

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sherpa-go/sherpa-agents-go/pkg/env"
	"github.com/sherpa-go/sherpa-agents-go/pkg/feedback"
	"github.com/sherpa-go/sherpa-agents-go/pkg/model"
	"github.com/sherpa-go/sherpa-agents-go/pkg/modelpath"
)

func writeTarGz(t *testing.T, w *os.File, entries map[string]string) {
	t.Helper()
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)
	for name, contents := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(contents))}); err != nil {
			t.Fatalf("tar.WriteHeader: %v", err)
		}
		if _, err := tw.Write([]byte(contents)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar.Close: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip.Close: %v", err)
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestPrepareModelDownloadsExtractsAndVerifies(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "fixture.tar.gz")
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	writeTarGz(t, f, map[string]string{
		"encoder.onnx": "encoder-bytes",
		"tokens.txt":   "a b c",
	})
	f.Close()

	archiveBytes, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(archiveBytes)))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(archiveBytes)
	}))
	defer srv.Close()

	dataRoot := filepath.Join(dir, "data")
	resolver, err := modelpath.New(dataRoot)
	if err != nil {
		t.Fatalf("modelpath.New: %v", err)
	}

	meta := model.Metadata{
		ModelID:         "fixture-model",
		ModuleKind:      model.KindVoiceActivityDetection,
		DownloadURL:     srv.URL + "/fixture.tar.gz",
		ModelFileNames:  []string{"encoder.onnx", "tokens.txt"},
		ModelFileHashes: []string{sha256Hex("encoder-bytes"), sha256Hex("a b c")},
	}
	modelDir, err := resolver.ModelRoot(meta)
	if err != nil {
		t.Fatalf("ModelRoot: %v", err)
	}
	resolved := meta.Clone()
	for i, name := range meta.ModelFileNames {
		resolved.ModelFileNames[i] = filepath.Join(modelDir, name)
	}

	var events []feedback.Kind
	reporter := feedback.NewCallbackReporter(nil, func(e feedback.Event) { events = append(events, e.Kind) })

	orch := New(resolver, nil)
	ok := orch.PrepareModel(context.Background(), resolved, reporter)
	if !ok {
		t.Fatal("PrepareModel returned false")
	}

	for _, name := range []string{"encoder.onnx", "tokens.txt"} {
		if _, err := os.Stat(filepath.Join(modelDir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(archivePathForModule(resolver, meta)); !os.IsNotExist(err) {
		t.Errorf("expected staging archive to be cleaned up")
	}

	var sawSuccess bool
	for _, k := range events {
		if k == feedback.KindSuccess {
			sawSuccess = true
		}
	}
	if !sawSuccess {
		t.Error("expected a Success event")
	}
}

func archivePathForModule(resolver *modelpath.Resolver, meta model.Metadata) string {
	p, _ := resolver.StagingPath(meta, "fixture.tar.gz")
	return p
}

func TestDownloadArchiveUsesConfiguredGithubProxy(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "fixture.tar.gz")
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	writeTarGz(t, f, map[string]string{"encoder.onnx": "encoder-bytes"})
	f.Close()
	archiveBytes, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var originHits, proxyHits int
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originHits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer origin.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxyHits++
		if !strings.Contains(r.URL.Path, origin.URL[strings.Index(origin.URL, "://")+3:]) {
			t.Errorf("proxy request path %q does not embed origin host", r.URL.Path)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(archiveBytes)))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(archiveBytes)
	}))
	defer proxy.Close()

	env.Default().Set(env.ProxyKey, proxy.URL)
	defer env.Default().Remove(env.ProxyKey)

	dataRoot := filepath.Join(dir, "data")
	resolver, err := modelpath.New(dataRoot)
	if err != nil {
		t.Fatalf("modelpath.New: %v", err)
	}

	meta := model.Metadata{
		ModelID:         "proxied-model",
		ModuleKind:      model.KindVoiceActivityDetection,
		DownloadURL:     origin.URL + "/fixture.tar.gz",
		ModelFileNames:  []string{"encoder.onnx"},
		ModelFileHashes: []string{sha256Hex("encoder-bytes")},
	}
	modelDir, err := resolver.ModelRoot(meta)
	if err != nil {
		t.Fatalf("ModelRoot: %v", err)
	}
	resolved := meta.Clone()
	for i, name := range meta.ModelFileNames {
		resolved.ModelFileNames[i] = filepath.Join(modelDir, name)
	}

	reporter := feedback.NewCallbackReporter(nil, func(feedback.Event) {})
	orch := New(resolver, nil)
	if !orch.PrepareModel(context.Background(), resolved, reporter) {
		t.Fatal("PrepareModel returned false")
	}

	if originHits != 0 {
		t.Errorf("expected the origin server to receive zero requests, got %d", originHits)
	}
	if proxyHits == 0 {
		t.Error("expected the proxy server to receive requests")
	}
}

// TestPrepareModelCacheHitSkipsNetwork covers the warm-cache seed
// scenario: once a model's files already verify on disk (and their
// hashes are sidecar-cached from the first verification), a second
// PrepareModel must not touch the network at all.
func TestPrepareModelCacheHitSkipsNetwork(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "fixture.tar.gz")
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	writeTarGz(t, f, map[string]string{"encoder.onnx": "encoder-bytes"})
	f.Close()
	archiveBytes, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Length", strconv.Itoa(len(archiveBytes)))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(archiveBytes)
	}))
	defer srv.Close()

	resolver, err := modelpath.New(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("modelpath.New: %v", err)
	}

	meta := model.Metadata{
		ModelID:         "cache-hit-model",
		ModuleKind:      model.KindVoiceActivityDetection,
		DownloadURL:     srv.URL + "/fixture.tar.gz",
		ModelFileNames:  []string{"encoder.onnx"},
		ModelFileHashes: []string{sha256Hex("encoder-bytes")},
	}
	modelDir, err := resolver.ModelRoot(meta)
	if err != nil {
		t.Fatalf("ModelRoot: %v", err)
	}
	resolved := meta.Clone()
	for i, name := range meta.ModelFileNames {
		resolved.ModelFileNames[i] = filepath.Join(modelDir, name)
	}

	orch := New(resolver, nil)
	reporter := feedback.NewCallbackReporter(nil, func(feedback.Event) {})
	if !orch.PrepareModel(context.Background(), resolved, reporter) {
		t.Fatal("first PrepareModel returned false")
	}
	firstHits := atomic.LoadInt32(&hits)
	if firstHits == 0 {
		t.Fatal("expected the first PrepareModel to hit the network")
	}

	var events []feedback.Kind
	reporter2 := feedback.NewCallbackReporter(nil, func(e feedback.Event) { events = append(events, e.Kind) })
	if !orch.PrepareModel(context.Background(), resolved, reporter2) {
		t.Fatal("second PrepareModel returned false")
	}
	if got := atomic.LoadInt32(&hits) - firstHits; got != 0 {
		t.Errorf("second PrepareModel made %d additional network requests, want 0", got)
	}
	for _, k := range events {
		if k == feedback.KindDownload {
			t.Error("expected no Download events on a cache-hit PrepareModel")
		}
	}
}

// TestPrepareModelRetriesFailedExtractionThenSucceeds covers a single
// corrupt-archive attempt followed by a good one: the orchestrator
// must retry with backoff and reach Success without ever posting a
// Failed event.
func TestPrepareModelRetriesFailedExtractionThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "fixture.tar.gz")
	f, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	writeTarGz(t, f, map[string]string{"encoder.onnx": "encoder-bytes"})
	f.Close()
	goodBytes, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	badBytes := []byte("not a valid gzip archive")

	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(goodBytes)))
			w.WriteHeader(http.StatusOK)
			return
		}
		body := goodBytes
		if atomic.AddInt32(&attempts, 1) == 1 {
			body = badBytes
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	resolver, err := modelpath.New(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("modelpath.New: %v", err)
	}
	meta := model.Metadata{
		ModelID:         "flaky-extraction-model",
		ModuleKind:      model.KindVoiceActivityDetection,
		DownloadURL:     srv.URL + "/fixture.tar.gz",
		ModelFileNames:  []string{"encoder.onnx"},
		ModelFileHashes: []string{sha256Hex("encoder-bytes")},
	}
	modelDir, err := resolver.ModelRoot(meta)
	if err != nil {
		t.Fatalf("ModelRoot: %v", err)
	}
	resolved := meta.Clone()
	for i, name := range meta.ModelFileNames {
		resolved.ModelFileNames[i] = filepath.Join(modelDir, name)
	}

	var events []feedback.Kind
	reporter := feedback.NewCallbackReporter(nil, func(e feedback.Event) { events = append(events, e.Kind) })
	orch := New(resolver, nil)
	if !orch.PrepareModel(context.Background(), resolved, reporter) {
		t.Fatal("PrepareModel returned false")
	}
	if n := atomic.LoadInt32(&attempts); n < 2 {
		t.Fatalf("download attempts = %d, want >= 2", n)
	}

	var sawSuccess bool
	for _, k := range events {
		if k == feedback.KindFailed {
			t.Error("expected no Failed event when a later attempt succeeds")
		}
		if k == feedback.KindSuccess {
			sawSuccess = true
		}
	}
	if !sawSuccess {
		t.Error("expected a Success event")
	}
}

// TestPrepareModelExhaustsRetriesAndCleansUp covers the persistent-
// corruption seed scenario: every attempt fails extraction, so
// PrepareModel must exhaust its retry budget, clean up modelDir and
// the staging archive, and post exactly one Failed event.
func TestPrepareModelExhaustsRetriesAndCleansUp(t *testing.T) {
	badBytes := []byte("not a valid gzip archive")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(badBytes)))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(badBytes)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	resolver, err := modelpath.New(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("modelpath.New: %v", err)
	}
	meta := model.Metadata{
		ModelID:         "always-corrupt-model",
		ModuleKind:      model.KindVoiceActivityDetection,
		DownloadURL:     srv.URL + "/fixture.tar.gz",
		ModelFileNames:  []string{"encoder.onnx"},
		ModelFileHashes: []string{sha256Hex("encoder-bytes")},
	}
	modelDir, err := resolver.ModelRoot(meta)
	if err != nil {
		t.Fatalf("ModelRoot: %v", err)
	}
	resolved := meta.Clone()
	for i, name := range meta.ModelFileNames {
		resolved.ModelFileNames[i] = filepath.Join(modelDir, name)
	}

	var events []feedback.Kind
	reporter := feedback.NewCallbackReporter(nil, func(e feedback.Event) { events = append(events, e.Kind) })
	orch := New(resolver, nil)
	if orch.PrepareModel(context.Background(), resolved, reporter) {
		t.Fatal("expected PrepareModel to fail after exhausting retries")
	}

	if _, err := os.Stat(modelDir); !os.IsNotExist(err) {
		t.Errorf("expected modelDir to be cleaned up, stat err = %v", err)
	}

	var failedCount int
	for _, k := range events {
		if k == feedback.KindFailed {
			failedCount++
		}
		if k == feedback.KindSuccess {
			t.Error("unexpected Success event")
		}
	}
	if failedCount != 1 {
		t.Errorf("Failed events = %d, want exactly 1", failedCount)
	}
}

// TestPrepareModelCancellationMidDownloadPostsExactlyOneCancelEvent
// covers cancelling partway through a download: PrepareModel must
// return false having posted exactly one Cancel event (never a
// Failed, and never two Cancels).
func TestPrepareModelCancellationMidDownloadPostsExactlyOneCancelEvent(t *testing.T) {
	data := make([]byte, 4*1024*1024)
	block := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			return
		}
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	resolver, err := modelpath.New(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("modelpath.New: %v", err)
	}
	meta := model.Metadata{
		ModelID:         "cancel-mid-download",
		ModuleKind:      model.KindVoiceActivityDetection,
		DownloadURL:     srv.URL + "/fixture.tar.gz",
		ModelFileNames:  []string{"encoder.onnx"},
		ModelFileHashes: []string{sha256Hex("encoder-bytes")},
	}
	modelDir, err := resolver.ModelRoot(meta)
	if err != nil {
		t.Fatalf("ModelRoot: %v", err)
	}
	resolved := meta.Clone()
	for i, name := range meta.ModelFileNames {
		resolved.ModelFileNames[i] = filepath.Join(modelDir, name)
	}

	var mu sync.Mutex
	var events []feedback.Kind
	reporter := feedback.NewCallbackReporter(nil, func(e feedback.Event) {
		mu.Lock()
		events = append(events, e.Kind)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	orch := New(resolver, nil)
	done := make(chan bool, 1)
	go func() {
		done <- orch.PrepareModel(ctx, resolved, reporter)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected PrepareModel to return false on cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancelled PrepareModel")
	}
	close(block)

	mu.Lock()
	defer mu.Unlock()
	var cancelCount int
	for _, k := range events {
		if k == feedback.KindCancel {
			cancelCount++
		}
		if k == feedback.KindFailed {
			t.Error("expected no Failed event on cancellation")
		}
	}
	if cancelCount != 1 {
		t.Errorf("Cancel events = %d, want exactly 1, got events=%v", cancelCount, events)
	}
}

