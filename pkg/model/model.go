// Package model defines the metadata record for a downloadable speech
// model and the manifest that catalogues them.
package model

import (
	"fmt"

	"github.com/sherpa-go/sherpa-agents-go/pkg/coreerr"
)

// Kind identifies the category of speech task a model serves. The
// directory layout and native capability set both key off this value.
type Kind string

const (
	KindSpeechRecognition        Kind = "speech-recognition"
	KindSpeechSynthesis          Kind = "speech-synthesis"
	KindVoiceActivityDetection   Kind = "voice-activity-detection"
	KindKeywordSpotting          Kind = "keyword-spotting"
	KindSpeechEnhancement        Kind = "speech-enhancement"
	KindSpeakerIdentification    Kind = "speaker-identification"
	KindSpeakerDiarization       Kind = "speaker-diarization"
	KindSpeakerVerification      Kind = "speaker-verification"
	KindAudioTagging             Kind = "audio-tagging"
	KindAddPunctuation           Kind = "add-punctuation"
	KindSourceSeparation         Kind = "source-separation"
	KindSpokenLanguageIdentification Kind = "spoken-language-identification"
)

// allKinds is used for validation.
var allKinds = map[Kind]bool{
	KindSpeechRecognition:             true,
	KindSpeechSynthesis:               true,
	KindVoiceActivityDetection:        true,
	KindKeywordSpotting:               true,
	KindSpeechEnhancement:             true,
	KindSpeakerIdentification:         true,
	KindSpeakerDiarization:            true,
	KindSpeakerVerification:           true,
	KindAudioTagging:                  true,
	KindAddPunctuation:                true,
	KindSourceSeparation:              true,
	KindSpokenLanguageIdentification:  true,
}

// Valid reports whether k is one of the recognized module kinds.
func (k Kind) Valid() bool {
	return allKinds[k]
}

// Metadata describes how to fetch, lay out, and verify one model.
//
// Invariant: ModelFileHashes is either empty or the same length as
// ModelFileNames, index-aligned.
type Metadata struct {
	ModelID          string   `json:"modelId"`
	ModuleKind       Kind     `json:"moduleType"`
	DownloadURL      string   `json:"downloadUrl"`
	DownloadFileHash string   `json:"downloadFileHash,omitempty"`
	ModelFileNames   []string `json:"modelFileNames"`
	ModelFileHashes  []string `json:"modelFileHashes,omitempty"`
}

// Validate checks the structural invariants spec.md places on a
// Metadata record. It does not check that files/URLs are reachable.
func (m Metadata) Validate() error {
	if m.ModelID == "" {
		return fmt.Errorf("model: %w: empty modelId", coreerr.ErrPrecondition)
	}
	if !m.ModuleKind.Valid() {
		return fmt.Errorf("model: %w: unknown module kind %q", coreerr.ErrPrecondition, m.ModuleKind)
	}
	if m.DownloadURL == "" {
		return fmt.Errorf("model: %w: empty downloadUrl for %s", coreerr.ErrPrecondition, m.ModelID)
	}
	if len(m.ModelFileNames) == 0 {
		return fmt.Errorf("model: %w: empty modelFileNames for %s", coreerr.ErrPrecondition, m.ModelID)
	}
	if len(m.ModelFileHashes) != 0 && len(m.ModelFileHashes) != len(m.ModelFileNames) {
		return fmt.Errorf("model: %w: modelFileHashes length %d does not match modelFileNames length %d for %s",
			coreerr.ErrPrecondition, len(m.ModelFileHashes), len(m.ModelFileNames), m.ModelID)
	}
	return nil
}

// FileHash returns the expected hash for the file at index i in
// ModelFileNames, or "" if no hash was supplied for that file.
func (m Metadata) FileHash(i int) string {
	if i < 0 || i >= len(m.ModelFileHashes) {
		return ""
	}
	return m.ModelFileHashes[i]
}

// Clone returns a deep copy of m, safe to mutate independently.
func (m Metadata) Clone() Metadata {
	out := m
	out.ModelFileNames = append([]string(nil), m.ModelFileNames...)
	out.ModelFileHashes = append([]string(nil), m.ModelFileHashes...)
	return out
}
