package pipeline

import "github.com/starford/ansuz/internal/models"

// Each pipeline status is a tagged variant carrying exactly the data valid
// at that stage. This replaces a single record of nullable fields: a field
// simply does not exist at a stage where it is not yet (or no longer)
// meaningful.
type stage interface {
	status() models.Status
}

type idleStage struct{}

// acquiringStage holds the recording slot while the device call is in
// flight, before a Session exists. It blocks a second start or chain on
// the same note.
type acquiringStage struct{}

type recordingStage struct{}

type convertingStage struct {
	audio []byte
	mime  string
}

type transcribingStage struct {
	audio []byte
	mime  string
}

type polishingStage struct {
	audio      []byte
	mime       string
	transcript string
}

type readyStage struct {
	audio      []byte
	mime       string
	transcript string // empty for notes reopened from the store
	polished   string
}

// errorStage retains the partial results obtained before the failure, so
// a transcript that preceded a failed polish stays visible.
type errorStage struct {
	cause      error
	audio      []byte
	mime       string
	transcript string
}

func (idleStage) status() models.Status         { return models.StatusIdle }
func (acquiringStage) status() models.Status    { return models.StatusRecording }
func (recordingStage) status() models.Status    { return models.StatusRecording }
func (convertingStage) status() models.Status   { return models.StatusConverting }
func (transcribingStage) status() models.Status { return models.StatusTranscribing }
func (polishingStage) status() models.Status    { return models.StatusPolishing }
func (readyStage) status() models.Status        { return models.StatusReady }
func (errorStage) status() models.Status        { return models.StatusError }

// audioOf extracts the captured blob from any stage that carries one.
func audioOf(st stage) ([]byte, string, bool) {
	switch s := st.(type) {
	case convertingStage:
		return s.audio, s.mime, true
	case transcribingStage:
		return s.audio, s.mime, true
	case polishingStage:
		return s.audio, s.mime, true
	case readyStage:
		return s.audio, s.mime, true
	case errorStage:
		if len(s.audio) > 0 {
			return s.audio, s.mime, true
		}
	}
	return nil, "", false
}

// transcriptOf extracts the transcript from any stage that carries one.
func transcriptOf(st stage) string {
	switch s := st.(type) {
	case polishingStage:
		return s.transcript
	case readyStage:
		return s.transcript
	case errorStage:
		return s.transcript
	}
	return ""
}
