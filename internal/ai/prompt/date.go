package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// DateInstructions returns the system instruction set for reading the
// proposed maintenance date out of a supplier reply.
func DateInstructions() string {
	var b strings.Builder
	b.WriteString("You read supplier replies to preventive maintenance work orders.\n")
	b.WriteString("Extract the date the supplier proposes for carrying out the maintenance.\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("1. Look for explicit dates (\"January 15, 2025\", \"2025-01-15\", \"15/01/2025\") or phrases that resolve against today's date.\n")
	b.WriteString("2. Pick the date of the planned work or visit. Ignore message timestamps, past events and unrelated dates.\n")
	b.WriteString("3. Only select today or a future date.\n")
	b.WriteString("4. Return the date as YYYY-MM-DD.\n\n")

	b.WriteString("Confidence guidelines:\n")
	b.WriteString("- 0.90-1.00: one clear, explicit scheduled date\n")
	b.WriteString("- 0.70-0.89: likely date with some ambiguity\n")
	b.WriteString("- 0.50-0.69: several candidate dates or unclear context\n")
	b.WriteString("- below 0.50: no clear scheduled date\n\n")

	b.WriteString("Respond with ONLY a JSON object matching this schema:\n")
	b.WriteString(`{"selected_date": "YYYY-MM-DD or null", "confidence": 0.0, "explanation": "string"}`)
	return b.String()
}

// RenderReply renders the supplier reply with today's date.
func RenderReply(r models.SupplierReply) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today's date: %s\n", models.Day(r.Today).Format(models.DateLayout))
	if r.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", r.Subject)
	}
	b.WriteString("\nReply body:\n")
	b.WriteString(strings.TrimSpace(r.Body))
	b.WriteString("\n\nExtract the scheduled maintenance date as a JSON object only.")
	return b.String()
}

type dateReply struct {
	SelectedDate *string  `json:"selected_date"`
	Confidence   *float64 `json:"confidence"`
	Explanation  string   `json:"explanation"`
}

// ParseDateReply extracts the date reading from a backend reply. A null or
// empty selected_date yields a nil Date. Confidence must lie in [0, 1].
func ParseDateReply(raw string) (models.DateExtraction, error) {
	body, ok := extractJSON(raw)
	if !ok {
		return models.DateExtraction{}, apperr.New(apperr.KindMalformedResponse,
			"backend reply contains no JSON object: %q", truncate(raw, 200))
	}

	var r dateReply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return models.DateExtraction{}, apperr.Wrap(apperr.KindMalformedResponse, err,
			"backend reply is not a valid date reading")
	}
	if r.Confidence == nil {
		return models.DateExtraction{}, apperr.New(apperr.KindInvalidDecision, "confidence is missing")
	}
	if *r.Confidence < 0 || *r.Confidence > 1 {
		return models.DateExtraction{}, apperr.New(apperr.KindInvalidDecision,
			"confidence %.2f is outside [0, 1]", *r.Confidence)
	}

	out := models.DateExtraction{
		Confidence:  *r.Confidence,
		Explanation: r.Explanation,
		RawResponse: raw,
	}
	if r.SelectedDate != nil && strings.TrimSpace(*r.SelectedDate) != "" {
		d, err := models.ParseDate(strings.TrimSpace(*r.SelectedDate))
		if err != nil {
			return models.DateExtraction{}, apperr.New(apperr.KindInvalidDecision,
				"selected_date %q is not a YYYY-MM-DD date", *r.SelectedDate)
		}
		out.Date = &d
	}
	return out, nil
}
