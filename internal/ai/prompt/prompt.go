// Package prompt renders decision contexts into backend requests and parses
// backend replies into the canonical decision shape. Every reasoning backend
// shares it so the instruction set is identical across providers.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/pkg/models"
)

// maxHistoryLines is how many maintenance records the user prompt lists.
const maxHistoryLines = 5

// Instructions returns the system instruction set. dueSoonDays is the window
// inside which a machine without open work orders should get one.
func Instructions(dueSoonDays int) string {
	if dueSoonDays <= 0 {
		dueSoonDays = 30
	}
	var b strings.Builder
	b.WriteString("You are an assistant for preventive maintenance management.\n")
	b.WriteString("Analyze the machine data and decide the next preventive maintenance action.\n\n")

	b.WriteString("Decision rules, applied in strict order:\n")
	b.WriteString("1. SEND_NOTIFICATION with priority High if ANY open work order has status \"Approved\". The supplier must be told to schedule the work.\n")
	b.WriteString("2. WAIT if ANY open work order has status \"Pending_Approval\" or \"Draft\".\n")
	fmt.Fprintf(&b, "3. CREATE_WORK_ORDER if there are NO open work orders and days_until_pm is negative or at most %d.\n", dueSoonDays)
	fmt.Fprintf(&b, "4. WAIT with priority Low if there are NO open work orders and days_until_pm is greater than %d.\n\n", dueSoonDays)

	b.WriteString("Priority rules for CREATE_WORK_ORDER:\n")
	b.WriteString("- High: days_until_pm < 0 (overdue) or days_until_pm <= 7\n")
	b.WriteString("- Medium: days_until_pm between 8 and 21\n")
	fmt.Fprintf(&b, "- Low: days_until_pm between 22 and %d\n\n", dueSoonDays)

	b.WriteString("Notes:\n")
	b.WriteString("- A negative days_until_pm means the machine is overdue (-5 is five days overdue).\n")
	b.WriteString("- Always check the open work orders before recommending a new one. Never recommend a duplicate.\n\n")

	b.WriteString("Confidence guidelines:\n")
	b.WriteString("- 0.90-1.00: the rules give a clear answer\n")
	b.WriteString("- 0.70-0.89: confident with some ambiguity\n")
	b.WriteString("- 0.50-0.69: moderate confidence, needs review\n")
	b.WriteString("- below 0.50: low confidence, manual review required\n\n")

	b.WriteString("Respond with ONLY a JSON object, no surrounding text, matching this schema:\n")
	b.WriteString(`{"decision": "CREATE_WORK_ORDER | WAIT | SEND_NOTIFICATION", "priority": "Low | Medium | High", "confidence": 0.0, "explanation": "string"}`)
	return b.String()
}

// RenderUser renders the per-machine part of the request.
func RenderUser(dc models.DecisionContext) string {
	m := dc.Machine
	var b strings.Builder

	b.WriteString("Machine information:\n")
	fmt.Fprintf(&b, "- Machine ID: %s\n", m.ID)
	fmt.Fprintf(&b, "- Name: %s\n", m.Name)
	fmt.Fprintf(&b, "- Location: %s\n", m.Location)
	fmt.Fprintf(&b, "- PM frequency: every %d days\n", m.PMFrequencyDays)
	fmt.Fprintf(&b, "- Last PM date: %s\n", formatDate(m.LastPMDate))
	fmt.Fprintf(&b, "- Next PM date: %s\n", m.NextPMDate.Format(models.DateLayout))
	fmt.Fprintf(&b, "- Days until PM: %d (%s)\n", m.DaysUntilPM, strings.ToUpper(strings.ReplaceAll(m.PMStatus, "_", " ")))
	fmt.Fprintf(&b, "- Assigned supplier: %s\n\n", m.SupplierName)

	fmt.Fprintf(&b, "Recent maintenance history (%d records):\n", len(dc.MaintenanceHistory))
	if len(dc.MaintenanceHistory) == 0 {
		b.WriteString("No recent maintenance history available.\n")
	}
	for i, r := range dc.MaintenanceHistory {
		if i == maxHistoryLines {
			break
		}
		notes := r.Notes
		if notes == "" {
			notes = "N/A"
		}
		fmt.Fprintf(&b, "- %s: %s - %s\n", r.MaintenanceDate.Format(models.DateLayout), r.Type, notes)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Open work orders (%d):\n", len(dc.OpenWorkOrders))
	if len(dc.OpenWorkOrders) == 0 {
		b.WriteString("No open work orders.\n")
	} else {
		var approved, pending int
		for _, wo := range dc.OpenWorkOrders {
			switch wo.Status {
			case models.WorkOrderApproved:
				approved++
			case models.WorkOrderPendingApproval, models.WorkOrderDraft:
				pending++
			}
		}
		fmt.Fprintf(&b, "Total: %d work order(s) - %d Approved, %d Pending/Draft\n", len(dc.OpenWorkOrders), approved, pending)
		for _, wo := range dc.OpenWorkOrders {
			fmt.Fprintf(&b, "- WO %s: Status=%s, Priority=%s, Created=%s\n",
				wo.WONumber, wo.Status, wo.Priority, wo.CreatedAt.Format(models.DateLayout))
		}
	}

	b.WriteString("\nProvide your decision as a JSON object only.")
	return b.String()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(models.DateLayout)
}

// reply mirrors the canonical wire shape with a nullable confidence so a
// missing field can be told apart from zero.
type reply struct {
	Decision    string   `json:"decision"`
	Priority    string   `json:"priority"`
	Confidence  *float64 `json:"confidence"`
	Explanation string   `json:"explanation"`
}

// ParseReply extracts the JSON object from a backend reply. Replies wrapped
// in code fences or surrounded by prose are accepted. A reply without a JSON
// object is MALFORMED_RESPONSE; a JSON object with wrongly typed or missing
// fields is INVALID_DECISION. Field values are validated later by the gate.
func ParseReply(raw string) (models.CanonicalDecision, error) {
	body, ok := extractJSON(raw)
	if !ok {
		return models.CanonicalDecision{}, apperr.New(apperr.KindMalformedResponse,
			"backend reply contains no JSON object: %q", truncate(raw, 200))
	}

	var r reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return models.CanonicalDecision{}, apperr.Wrap(apperr.KindInvalidDecision, err,
				"field %q has the wrong type", typeErr.Field)
		}
		return models.CanonicalDecision{}, apperr.Wrap(apperr.KindMalformedResponse, err,
			"backend reply is not valid JSON")
	}
	if r.Confidence == nil {
		return models.CanonicalDecision{}, apperr.New(apperr.KindInvalidDecision, "confidence is missing")
	}

	return models.CanonicalDecision{
		Decision:    models.DecisionKind(r.Decision),
		Priority:    models.Priority(r.Priority),
		Confidence:  *r.Confidence,
		Explanation: r.Explanation,
		RawResponse: raw,
	}, nil
}

// extractJSON returns the JSON object inside raw. It prefers a ```json fence,
// then any fence, then the outermost braces.
func extractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	} else if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if j := strings.Index(rest, "```"); j >= 0 {
			s = strings.TrimSpace(rest[:j])
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// truncate shortens s to maxBytes without splitting UTF-8 runes.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes] + "..."
}
