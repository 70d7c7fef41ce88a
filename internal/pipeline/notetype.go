package pipeline

import (
	"regexp"
	"strings"
)

// Canonical note types the template catalog knows how to render.
// Anything else collapses to generic.
const (
	noteTypeHistoryPhysical  = "history_physical"
	noteTypeDischargeSummary = "discharge_summary"
	noteTypeConsultation     = "consultation_note"
	noteTypeProgress         = "progress_note"
	noteTypeProcedure        = "procedure_note"
	noteTypeED               = "ed_note"
	noteTypeGeneric          = "generic_note"
)

var validNoteTypes = map[string]struct{}{
	noteTypeHistoryPhysical:  {},
	noteTypeDischargeSummary: {},
	noteTypeConsultation:     {},
	noteTypeProgress:         {},
	noteTypeProcedure:        {},
	noteTypeED:               {},
	noteTypeGeneric:          {},
}

// normalizeNoteType lowercases and validates a note type against the
// template catalog, falling back to the generic type.
func normalizeNoteType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, " ", "_")
	if _, ok := validNoteTypes[t]; ok {
		return t
	}
	return noteTypeGeneric
}

// MRN label patterns, tried in order. All require a label with a colon
// or dash so that bare numbers in the note body never match.
var mrnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)MRN\s*:\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)Medical\s*Record\s*Number\s*:\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)Patient\s*MRN\s*:\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)Record\s*ID\s*:\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)Patient\s*ID\s*:\s*([A-Za-z0-9]+)`),
	regexp.MustCompile(`(?i)MRN\s*-\s*([A-Za-z0-9]+)`),
}

// extractMRNFallback scans the raw text for a labelled patient
// identifier. Returns "" when no pattern matches.
func extractMRNFallback(rawText string) string {
	if strings.TrimSpace(rawText) == "" {
		return ""
	}
	for _, pattern := range mrnPatterns {
		if m := pattern.FindStringSubmatch(rawText); m != nil {
			mrn := strings.TrimRight(strings.TrimSpace(m[1]), ".,;:!?")
			if mrn != "" {
				return mrn
			}
		}
	}
	return ""
}

// parseExtractionResponse parses the two-line model response of the
// note-type/MRN extraction call:
//
//	NOTE_TYPE: <type>
//	PATIENT_MRN: <value>
//
// Unparseable or missing fields degrade to generic_note and "".
func parseExtractionResponse(text string) (noteType, mrn string) {
	noteType = noteTypeGeneric
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "NOTE_TYPE:"):
			noteType = normalizeNoteType(strings.TrimPrefix(line, "NOTE_TYPE:"))
		case strings.HasPrefix(line, "PATIENT_MRN:"):
			candidate := strings.TrimRight(strings.TrimSpace(strings.TrimPrefix(line, "PATIENT_MRN:")), ".,;:!?")
			if candidate != "" && !strings.EqualFold(candidate, "NOT_FOUND") {
				mrn = candidate
			}
		}
	}
	return noteType, mrn
}

// sampleText returns the leading fraction of the raw text used for
// note-type and identifier extraction. Identifiers live in the header,
// so sending the full note wastes tokens.
func sampleText(rawText string, fraction float64) string {
	if fraction <= 0 || fraction >= 1 {
		return rawText
	}
	n := int(float64(len(rawText)) * fraction)
	if n < 1 {
		n = len(rawText)
	}
	return rawText[:n]
}
