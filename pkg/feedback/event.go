// Package feedback implements the acquisition pipeline's event
// reporting: a tagged-variant event type and a bus that delivers
// events to either a plain callback or a set of typed handlers,
// per spec.md §4.5.
package feedback

import (
	"time"

	"github.com/sherpa-go/sherpa-agents-go/pkg/model"
)

// Kind identifies which variant of Event is populated.
type Kind int

const (
	KindPrepare Kind = iota
	KindVerify
	KindDownload
	KindExtract
	KindLoad
	KindClean
	KindCancel
	KindSuccess
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindPrepare:
		return "Prepare"
	case KindVerify:
		return "Verify"
	case KindDownload:
		return "Download"
	case KindExtract:
		return "Extract"
	case KindLoad:
		return "Load"
	case KindClean:
		return "Clean"
	case KindCancel:
		return "Cancel"
	case KindSuccess:
		return "Success"
	case KindFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Event is a tagged union over the acquisition pipeline's reportable
// moments. Only the fields relevant to Kind are populated; see
// spec.md §3.
type Event struct {
	Kind     Kind
	Metadata model.Metadata
	Message  string
	Err      error

	// File-scoped variants (Verify, Extract, Clean).
	FilePath string

	// Progress-scoped variants (Verify, Extract, Download).
	Progress float64

	// Download-only.
	URL                 string
	DownloadedBytes      int64
	TotalBytes           int64
	SpeedBytesPerSecond  float64
	EstimatedRemaining   time.Duration

	// Verify-only.
	CalculatedHash string
	ExpectedHash   string
}

func newEvent(kind Kind, meta model.Metadata) Event {
	return Event{Kind: kind, Metadata: meta}
}

// Prepare builds a Prepare event.
func Prepare(meta model.Metadata) Event { return newEvent(KindPrepare, meta) }

// Load builds a Load event.
func Load(meta model.Metadata) Event { return newEvent(KindLoad, meta) }

// Success builds a Success event.
func Success(meta model.Metadata) Event { return newEvent(KindSuccess, meta) }

// Cancel builds a Cancel event.
func Cancel(meta model.Metadata) Event { return newEvent(KindCancel, meta) }

// Failed builds a Failed event carrying err.
func Failed(meta model.Metadata, err error) Event {
	e := newEvent(KindFailed, meta)
	e.Err = err
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

// Verify builds a Verify event.
func Verify(meta model.Metadata, filePath string, progress float64, calculated, expected string) Event {
	e := newEvent(KindVerify, meta)
	e.FilePath = filePath
	e.Progress = progress
	e.CalculatedHash = calculated
	e.ExpectedHash = expected
	return e
}

// Extract builds an Extract event.
func Extract(meta model.Metadata, filePath string, progress float64) Event {
	e := newEvent(KindExtract, meta)
	e.FilePath = filePath
	e.Progress = progress
	return e
}

// Clean builds a Clean event for a removed file or directory.
func Clean(meta model.Metadata, filePath string) Event {
	e := newEvent(KindClean, meta)
	e.FilePath = filePath
	return e
}

// Download builds a Download event.
func Download(meta model.Metadata, url string, downloaded, total int64, speed float64, eta time.Duration) Event {
	e := newEvent(KindDownload, meta)
	e.URL = url
	e.DownloadedBytes = downloaded
	e.TotalBytes = total
	e.SpeedBytesPerSecond = speed
	e.EstimatedRemaining = eta
	if total > 0 {
		e.Progress = float64(downloaded) / float64(total)
	}
	return e
}
