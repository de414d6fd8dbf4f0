package domain

import "strings"

// Metadata captures structural and EXIF facts about an image.
type Metadata struct {
	HasEXIF         bool    `json:"has_exif"`
	CameraMakeModel *string `json:"camera_make_model"`
	SoftwareTag     *string `json:"software_tag"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Format          string  `json:"format"`
}

// Clone returns a deep copy so reports never alias collaborator memory.
func (m Metadata) Clone() Metadata {
	out := m
	out.CameraMakeModel = cloneString(m.CameraMakeModel)
	out.SoftwareTag = cloneString(m.SoftwareTag)
	return out
}

// Provenance is the result of a content-credential (C2PA) inspection.
// C2PAValid is only meaningful when C2PAPresent is true.
type Provenance struct {
	C2PAPresent bool     `json:"c2pa_present"`
	C2PAValid   *bool    `json:"c2pa_valid"`
	Notes       []string `json:"notes"`
}

// Clone returns a deep copy. Notes is never nil in the copy so it encodes as
// an empty JSON array rather than null.
func (p Provenance) Clone() Provenance {
	out := p
	if p.C2PAValid != nil {
		v := *p.C2PAValid
		out.C2PAValid = &v
	}
	out.Notes = append([]string{}, p.Notes...)
	return out
}

// AnalysisReport is the single payload handed to callback delivery. It is
// built once by the report assembler and treated as immutable afterwards.
type AnalysisReport struct {
	JobID        string          `json:"job_id"`
	Status       JobStatus       `json:"status"`
	AILikelihood *int            `json:"ai_likelihood"`
	Confidence   *ConfidenceTier `json:"confidence"`
	VerdictText  *string         `json:"verdict_text"`
	Evidence     []string        `json:"evidence"`
	Provenance   Provenance      `json:"provenance"`
	Metadata     Metadata        `json:"metadata"`
	Limitations  []string        `json:"limitations"`
}

// FailurePayload is delivered to the callback when the pipeline faults.
type FailurePayload struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
	Error  string    `json:"error"`
}

// NewFailurePayload builds the minimal failure outcome for jobID. The error
// text is never empty.
func NewFailurePayload(jobID string, err error) FailurePayload {
	msg := ""
	if err != nil {
		msg = strings.TrimSpace(err.Error())
	}
	if msg == "" {
		msg = "analysis failed"
	}
	return FailurePayload{JobID: jobID, Status: JobStatusFailed, Error: msg}
}

// Likelihood returns a pointer to v, for building optional scores.
func Likelihood(v int) *int {
	return &v
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
