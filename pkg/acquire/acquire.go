// Package acquire drives the verify → download → extract loop that
// brings a model from its manifest metadata to a ready-to-load
// directory on disk, per spec.md §4.7.
package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sherpa-go/sherpa-agents-go/pkg/archive"
	"github.com/sherpa-go/sherpa-agents-go/pkg/coreerr"
	"github.com/sherpa-go/sherpa-agents-go/pkg/download"
	"github.com/sherpa-go/sherpa-agents-go/pkg/env"
	"github.com/sherpa-go/sherpa-agents-go/pkg/feedback"
	"github.com/sherpa-go/sherpa-agents-go/pkg/hashcache"
	"github.com/sherpa-go/sherpa-agents-go/pkg/model"
	"github.com/sherpa-go/sherpa-agents-go/pkg/modelpath"
)

const maxAttempts = 3

// Orchestrator runs the acquisition pipeline for models resolved
// through a single Resolver.
type Orchestrator struct {
	resolver *modelpath.Resolver
	logger   *slog.Logger
}

// New builds an Orchestrator over resolver. A nil logger falls back
// to slog.Default().
func New(resolver *modelpath.Resolver, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{resolver: resolver, logger: logger}
}

// PrepareModel runs the verify/download/extract loop for meta,
// reporting progress on reporter, and returns true once every file
// in meta.ModelFileNames verifies in place.
func (o *Orchestrator) PrepareModel(ctx context.Context, meta model.Metadata, reporter *feedback.Reporter) bool {
	reporter.Post(feedback.Prepare(meta))

	if err := meta.Validate(); err != nil {
		reporter.Post(feedback.Failed(meta, err))
		return false
	}

	modelDir, err := o.resolver.ModelRoot(meta)
	if err != nil {
		reporter.Post(feedback.Failed(meta, err))
		return false
	}
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		reporter.Post(feedback.Failed(meta, err))
		return false
	}

	if err := checkDiskSpace(modelDir); err != nil {
		reporter.Post(feedback.Failed(meta, err))
		return false
	}

	urlFileName := filepath.Base(meta.DownloadURL)
	stagingPath, err := o.resolver.StagingPath(meta, urlFileName)
	if err != nil {
		reporter.Post(feedback.Failed(meta, err))
		return false
	}
	compressed := modelpath.IsCompressedName(urlFileName)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			reporter.Post(feedback.Cancel(meta))
			return false
		}

		if verified, cancelled := o.verifyExistingModel(ctx, meta, reporter); verified {
			if compressed {
				o.cleanupLingeringArchive(meta, stagingPath, reporter)
			}
			reporter.Post(feedback.Success(meta))
			return true
		} else if cancelled {
			reporter.Post(feedback.Cancel(meta))
			return false
		}

		if !o.downloadArchive(ctx, meta, stagingPath, reporter) {
			if ctx.Err() != nil {
				reporter.Post(feedback.Cancel(meta))
				return false
			}
			lastErr = fmt.Errorf("acquire: %s: download failed", meta.ModelID)
			o.backoffUnlessLastAttempt(ctx, attempt)
			continue
		}

		if compressed {
			if !o.extractArchive(ctx, meta, stagingPath, modelDir, reporter) {
				if ctx.Err() != nil {
					reporter.Post(feedback.Cancel(meta))
					return false
				}
				lastErr = fmt.Errorf("acquire: %s: extraction failed", meta.ModelID)
				o.backoffUnlessLastAttempt(ctx, attempt)
				continue
			}
		}

		if verified, cancelled := o.verifyExistingModel(ctx, meta, reporter); verified {
			if compressed {
				o.cleanupLingeringArchive(meta, stagingPath, reporter)
			}
			reporter.Post(feedback.Success(meta))
			return true
		} else if cancelled {
			reporter.Post(feedback.Cancel(meta))
			return false
		}

		lastErr = fmt.Errorf("acquire: %s: post-acquisition verification failed", meta.ModelID)
		o.backoffUnlessLastAttempt(ctx, attempt)
	}

	o.cleanup(meta, modelDir, stagingPath, reporter)
	if lastErr == nil {
		lastErr = fmt.Errorf("acquire: %s: exhausted %d attempts", meta.ModelID, maxAttempts)
	}
	reporter.Post(feedback.Failed(meta, lastErr))
	return false
}

func (o *Orchestrator) backoffUnlessLastAttempt(ctx context.Context, attempt int) {
	if attempt+1 >= maxAttempts {
		return
	}
	select {
	case <-time.After(backoffDelay(attempt)):
	case <-ctx.Done():
	}
}

// verifyExistingModel checks every ModelFileNames entry in parallel.
// It reports (verified, cancelled): verified is true only if every
// file is Success/CacheHit; cancelled is true if any file's
// verification was cut short by ctx, in which case verified is always
// false and, per spec.md's cancellation semantics, nothing is deleted
// or scheduled for retry — the caller must treat this as a Cancel,
// not a "needs redownload" outcome. Otherwise, any non-Success/
// CacheHit outcome deletes the whole model directory.
func (o *Orchestrator) verifyExistingModel(ctx context.Context, meta model.Metadata, reporter *feedback.Reporter) (verified, cancelled bool) {
	type result struct {
		path    string
		outcome hashcache.Outcome
		res     hashcache.Result
	}

	results := make([]result, len(meta.ModelFileNames))
	var wg sync.WaitGroup
	for i, name := range meta.ModelFileNames {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			expected := meta.FileHash(i)
			res := hashcache.VerifyFile(ctx, path, expected, func(fraction float64) {
				reporter.Post(feedback.Verify(meta, path, fraction, "", expected))
			})
			results[i] = result{path: path, outcome: res.Outcome, res: res}
		}(i, name)
	}
	wg.Wait()

	ok := true
	for _, r := range results {
		if r.outcome == hashcache.OutcomeCancelled {
			cancelled = true
			continue
		}
		if r.outcome != hashcache.OutcomeSuccess && r.outcome != hashcache.OutcomeCacheHit {
			ok = false
		}
		reporter.Post(feedback.Verify(meta, r.path, 1, r.res.CalculatedHash, r.res.ExpectedHash))
	}

	if cancelled {
		return false, true
	}

	if !ok {
		modelDir, err := o.resolver.ModelRoot(meta)
		if err == nil {
			_ = os.RemoveAll(modelDir)
			reporter.Post(feedback.Clean(meta, modelDir))
		}
		return false, false
	}
	return true, false
}

// downloadArchive reports its own failure only via the log; on
// cancellation it deliberately posts no event, leaving PrepareModel's
// own ctx.Err() checks as the single place that emits the terminal
// Cancel event so a cancelled attempt never produces two.
func (o *Orchestrator) downloadArchive(ctx context.Context, meta model.Metadata, stagingPath string, reporter *feedback.Reporter) bool {
	downloadURL := applyGithubProxy(meta.DownloadURL)
	if err := os.MkdirAll(filepath.Dir(stagingPath), 0o755); err != nil {
		o.logger.Warn("download attempt failed", "modelId", meta.ModelID, "err", err)
		return false
	}
	ok, err := download.Download(ctx, downloadURL, stagingPath, download.Options{}, func(downloaded, total int64, speed float64, eta time.Duration) {
		reporter.Post(feedback.Download(meta, downloadURL, downloaded, total, speed, eta))
	})
	if err != nil {
		if !coreerr.IsCancelled(err) {
			o.logger.Warn("download attempt failed", "modelId", meta.ModelID, "err", err)
		}
		return false
	}
	return ok
}

// applyGithubProxy rewrites rawURL through the mirror configured under
// env.ProxyKey, if any is set: the proxy value is prepended as a
// prefix ahead of the original URL, the common form of a GitHub
// release mirror (e.g. "https://ghproxy.com/" +
// "https://github.com/.../release.tar.gz"). An unset or empty proxy
// leaves rawURL untouched.
func applyGithubProxy(rawURL string) string {
	proxy := env.Default().GetOr(env.ProxyKey, "")
	if proxy == "" {
		return rawURL
	}
	return strings.TrimRight(proxy, "/") + "/" + rawURL
}

func (o *Orchestrator) extractArchive(ctx context.Context, meta model.Metadata, stagingPath, modelDir string, reporter *feedback.Reporter) bool {
	res := archive.Extract(ctx, stagingPath, modelDir, archive.Options{AccurateProgress: true}, func(written, total int64) {
		var fraction float64
		if total > 0 {
			fraction = float64(written) / float64(total)
		}
		reporter.Post(feedback.Extract(meta, stagingPath, fraction))
	})
	if res.Outcome != archive.OutcomeSuccess {
		o.logger.Warn("extract attempt failed", "modelId", meta.ModelID, "outcome", res.Outcome, "err", res.Err)
		return false
	}
	return true
}

// cleanupLingeringArchive removes a staging archive left over from a
// successful extraction; the model is now canonicalised in modelDir.
func (o *Orchestrator) cleanupLingeringArchive(meta model.Metadata, stagingPath string, reporter *feedback.Reporter) {
	if _, err := os.Stat(stagingPath); err != nil {
		return
	}
	if err := os.Remove(stagingPath); err == nil {
		reporter.Post(feedback.Clean(meta, stagingPath))
	}
}

// cleanup deletes modelDir and the staging archive in parallel,
// best-effort, on terminal failure.
func (o *Orchestrator) cleanup(meta model.Metadata, modelDir, stagingPath string, reporter *feedback.Reporter) {
	var wg sync.WaitGroup
	for _, path := range []string{modelDir, stagingPath} {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("cleanup panicked", "path", path, "recovered", r)
				}
			}()
			if _, err := os.Stat(path); err != nil {
				return
			}
			if err := os.RemoveAll(path); err != nil {
				o.logger.Warn("cleanup failed", "path", path, "err", err)
				return
			}
			reporter.Post(feedback.Clean(meta, path))
		}(path)
	}
	wg.Wait()
}

// PrepareAll runs PrepareModel for every model in models,
// concurrently, and reports how many succeeded out of how many given.
func PrepareAll(ctx context.Context, o *Orchestrator, models []model.Metadata, reporter *feedback.Reporter) (succeeded, total int) {
	total = len(models)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, m := range models {
		wg.Add(1)
		go func(m model.Metadata) {
			defer wg.Done()
			if o.PrepareModel(ctx, m, reporter) {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()
	return succeeded, total
}
