package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestAnalysisReportRoundTrip(t *testing.T) {
	tier := ConfidenceMedium
	verdict := "This image shows some indicators of AI generation."
	valid := true
	reports := map[string]AnalysisReport{
		"done": {
			JobID:        "job-1",
			Status:       JobStatusDone,
			AILikelihood: Likelihood(72),
			Confidence:   &tier,
			VerdictText:  &verdict,
			Evidence:     []string{"a", "b", "c"},
			Provenance:   Provenance{C2PAPresent: true, C2PAValid: &valid, Notes: []string{"AI generated content"}},
			Metadata:     Metadata{HasEXIF: true, CameraMakeModel: StringPtr("Canon EOS R5"), Width: 640, Height: 480, Format: "JPEG"},
			Limitations:  []string{"x", "y"},
		},
		"failed": {
			JobID:       "job-fail",
			Status:      JobStatusFailed,
			Evidence:    []string{},
			Provenance:  Provenance{Notes: []string{}},
			Metadata:    Metadata{Format: ""},
			Limitations: []string{},
		},
	}

	for name, report := range reports {
		t.Run(name, func(t *testing.T) {
			raw, err := json.Marshal(report)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var decoded AnalysisReport
			if err := json.Unmarshal(raw, &decoded); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !reflect.DeepEqual(report, decoded) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, report)
			}
		})
	}
}

func TestAnalysisReportEncodesNullsNotOmissions(t *testing.T) {
	report := AnalysisReport{
		JobID:       "job-fail",
		Status:      JobStatusFailed,
		Evidence:    []string{},
		Provenance:  Provenance{}.Clone(),
		Limitations: []string{},
	}
	raw, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"ai_likelihood", "confidence", "verdict_text"} {
		v, ok := generic[key]
		if !ok {
			t.Fatalf("%s omitted from payload: %s", key, raw)
		}
		if v != nil {
			t.Fatalf("%s = %v, want null", key, v)
		}
	}
	prov := generic["provenance"].(map[string]any)
	if v, ok := prov["c2pa_valid"]; !ok || v != nil {
		t.Fatalf("provenance.c2pa_valid = %v (present=%v), want null", v, ok)
	}
	if notes, ok := prov["notes"].([]any); !ok || len(notes) != 0 {
		t.Fatalf("provenance.notes = %v, want []", prov["notes"])
	}
	meta := generic["metadata"].(map[string]any)
	for _, key := range []string{"camera_make_model", "software_tag"} {
		if v, ok := meta[key]; !ok || v != nil {
			t.Fatalf("metadata.%s = %v (present=%v), want null", key, v, ok)
		}
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	valid := true
	p := Provenance{C2PAPresent: true, C2PAValid: &valid, Notes: []string{"one"}}
	c := p.Clone()
	*p.C2PAValid = false
	p.Notes[0] = "changed"
	if !*c.C2PAValid || c.Notes[0] != "one" {
		t.Fatalf("clone aliased source: %+v", c)
	}

	m := Metadata{SoftwareTag: StringPtr("GIMP")}
	mc := m.Clone()
	*m.SoftwareTag = "other"
	if *mc.SoftwareTag != "GIMP" {
		t.Fatalf("metadata clone aliased source")
	}
}

func TestNewFailurePayload(t *testing.T) {
	p := NewFailurePayload("job-9", errors.New("  fetch image: connection refused "))
	if p.Status != JobStatusFailed || p.JobID != "job-9" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if p.Error != "fetch image: connection refused" {
		t.Fatalf("error = %q", p.Error)
	}
	if empty := NewFailurePayload("job-9", nil); strings.TrimSpace(empty.Error) == "" {
		t.Fatalf("failure payload must carry a diagnostic")
	}
}

func TestAuthErrorsWrapSentinel(t *testing.T) {
	if !errors.Is(ErrMissingCredential, ErrAuth) || !errors.Is(ErrInvalidCredential, ErrAuth) {
		t.Fatalf("credential errors must wrap ErrAuth")
	}
}
