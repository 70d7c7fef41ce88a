package pipeline

import (
	"fmt"
	"strings"

	"github.com/careloop/notedigest/internal/domain"
	"github.com/careloop/notedigest/internal/llm"
)

// extractionSampleFraction is how much of the note header is sampled
// for note-type and MRN extraction.
const extractionSampleFraction = 0.25

func extractionRequest(rawText string) llm.Request {
	prompt := fmt.Sprintf(`Extract note type and patient MRN from this medical note.

NOTE TYPES (return exactly one):
- history_physical: Initial evaluation with comprehensive history/exam
- discharge_summary: Hospital discharge documentation
- consultation_note: Specialist consultation
- progress_note: Daily hospital update
- procedure_note: Procedure documentation
- ed_note: Emergency department visit
- generic_note: Other/mixed content

MRN EXTRACTION RULES:
- Find the label "MRN:" (any casing, optional spaces around the colon) in the text
- Extract ONLY the value immediately after the label up to the next space
- The value may contain letters, numbers, and special characters
- Return ONLY the value, with no explanation or extra text
- If no MRN is present, return NOT_FOUND

MEDICAL NOTE:
%s

Return ONLY in this exact format (no extra text):
NOTE_TYPE: <type>
PATIENT_MRN: <complete_mrn_value>`, sampleText(rawText, extractionSampleFraction))

	return llm.Request{
		UserPrompt:  prompt,
		MaxTokens:   100,
		Temperature: 0.1,
	}
}

// templateSpec pairs the system role with the instructions for one
// note type's structured rewrite.
type templateSpec struct {
	system       string
	instructions string
}

var noteTemplates = map[string]templateSpec{
	noteTypeProgress: {
		system: "You are a consultant neurologist. Generate a complete NEUROLOGY PROGRESS NOTE " +
			"following the SOAP format template provided. Use only information present in the " +
			"source material. Never invent findings, values or history.",
		instructions: "Prepare a formal NEUROLOGY PROGRESS NOTE in SOAP format. Include interval " +
			"history, focused examination, assessment by problem, and plan. Preserve all dates, " +
			"dosages and laboratory values exactly as written.",
	},
	noteTypeHistoryPhysical: {
		system: "You are a consultant physician. Generate a complete HISTORY AND PHYSICAL " +
			"EXAMINATION NOTE following the template provided. Use only information present in " +
			"the source material.",
		instructions: "Prepare a formal HISTORY AND PHYSICAL EXAMINATION NOTE: chief complaint, " +
			"history of present illness, past medical history, medications, allergies, family and " +
			"social history, review of systems, physical examination, assessment and plan.",
	},
	noteTypeConsultation: {
		system: "You are a consultant neurologist. Generate a complete NEUROLOGY CONSULTATION " +
			"NOTE following the template provided. Use only information present in the source material.",
		instructions: "Prepare a formal NEUROLOGY CONSULTATION NOTE: reason for consultation, " +
			"history of present illness, examination, impression, and recommendations for the " +
			"referring team.",
	},
	noteTypeDischargeSummary: {
		system: "You are an attending physician. Generate a complete DISCHARGE SUMMARY following " +
			"the template provided. Use only information present in the source material.",
		instructions: "Prepare a formal DISCHARGE SUMMARY: admission and discharge dates, admitting " +
			"and discharge diagnoses, hospital course, discharge medications, and follow-up " +
			"instructions.",
	},
	noteTypeProcedure: {
		system: "You are a proceduralist. Generate a complete PROCEDURE NOTE following the " +
			"template provided. Use only information present in the source material.",
		instructions: "Prepare a formal PROCEDURE NOTE: indication, consent, procedure performed, " +
			"anesthesia, findings, complications, and post-procedure plan.",
	},
	noteTypeED: {
		system: "You are an emergency physician. Generate a complete EMERGENCY DEPARTMENT NOTE " +
			"following the template provided. Use only information present in the source material.",
		instructions: "Prepare a formal EMERGENCY DEPARTMENT NOTE: presenting complaint, triage " +
			"findings, history, examination, ED course, medical decision making, and disposition.",
	},
	noteTypeGeneric: {
		system: "You are a medical professional. Restructure the clinical documentation below " +
			"into a clear, complete clinical note. Use only information present in the source material.",
		instructions: "Organize the content into clearly headed sections appropriate to the " +
			"material. Preserve all clinical facts, dates, dosages and values exactly as written.",
	},
}

// templateRequest builds the structured rewrite prompt for the note's
// type. Prior visit digests, when available, are appended as read-only
// context.
func templateRequest(noteType, rawText string, history []domain.HistoricalVisit, maxTokens int, temperature float32) llm.Request {
	tpl, ok := noteTemplates[noteType]
	if !ok {
		tpl = noteTemplates[noteTypeGeneric]
	}

	var b strings.Builder
	b.WriteString(tpl.instructions)
	b.WriteString("\n\nMEDICAL NOTE:\n")
	b.WriteString(rawText)

	if len(history) > 0 {
		b.WriteString("\n\nHISTORICAL CONTEXT (prior visits for this patient, most recent first; " +
			"use only to resolve references to prior care, never copy into the current note):\n")
		for _, visit := range history {
			fmt.Fprintf(&b, "\n[%s %s]\n%s\n",
				visit.VisitedAt.Format("2006-01-02"), visit.NoteType, visit.Digest)
		}
	}

	return llm.Request{
		SystemPrompt: tpl.system,
		UserPrompt:   b.String(),
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	}
}

func soapRequest(rawText string, maxTokens int, temperature float32) llm.Request {
	return llm.Request{
		SystemPrompt: "You are a medical professional creating a comprehensive SOAP note from " +
			"raw clinical data. Use only information present in the source material. Never invent " +
			"findings, values or history.",
		UserPrompt: "Create a comprehensive SOAP note from this clinical data. Produce four " +
			"clearly headed sections: Subjective, Objective, Assessment, Plan. Preserve all dates, " +
			"dosages and laboratory values exactly as written.\n\nCLINICAL DATA:\n" + rawText,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

func digestRequest(rawText string, maxTokens int, temperature float32) llm.Request {
	return llm.Request{
		SystemPrompt: "You are a medical records analyst producing a structured digest of a " +
			"clinical note. Respond with a single JSON object and nothing else.",
		UserPrompt: `Produce a JSON digest of this medical note with exactly these top-level keys:
- "demographics": {"patient_name", "patient_mrn", "age", "sex"}
- "service_details": {"location", "admission_date", "discharge_date", "attending"}
- "summary": a 3-5 sentence narrative of the visit
- "diagnoses": array of diagnosis strings
- "medications": array of medication strings
Use null for any field not present in the note. Do not invent values.

MEDICAL NOTE:
` + rawText,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}
