// Package diagnosis extracts the structured final diagnosis the model emits
// at the end of the diagnostic loop. Parsing is best effort: anything that
// does not match yields empty fields, never an error.
package diagnosis

import (
	"regexp"
	"strings"

	"rotorwise.app/rotorwise/internal/store"
)

type ActionStep struct {
	Step       string `json:"step"`
	Action     string `json:"action"`
	Priority   string `json:"priority"`
	Difficulty string `json:"difficulty"`
}

type Diagnosis struct {
	Title      string       `json:"title"`
	RootCause  string       `json:"root_cause"`
	ActionPlan []ActionStep `json:"action_plan"`
	Notes      []string     `json:"notes"`
}

var (
	titleRe     = regexp.MustCompile(`(?m)^#{2,4}[ \t]*(?:✅[ \t]*)?Final Diagnosis:[ \t]*(\S.*?)[ \t]*$`)
	rootCauseRe = regexp.MustCompile(`(?m)^####[ \t]*1\.[ \t]*Root Cause Analysis[ \t]*$`)
	planRe      = regexp.MustCompile(`(?m)^####[ \t]*2\.[ \t]*Recommended Action Plan[ \t]*$`)
	notesRe     = regexp.MustCompile(`(?m)^####[ \t]*3\.[ \t]*Important Notes & Precautions[ \t]*$`)
	separatorRe = regexp.MustCompile(`^:?-{3,}:?$`)
)

// Parse reads a final diagnosis out of raw model output. The bool reports
// whether a final diagnosis heading was present.
func Parse(raw string) (Diagnosis, bool) {
	d := Diagnosis{ActionPlan: []ActionStep{}, Notes: []string{}}

	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	m := titleRe.FindStringSubmatch(raw)
	if m == nil {
		return d, false
	}
	d.Title = m[1]

	if body := section(raw, rootCauseRe, true); body != "" {
		d.RootCause = strings.Join(strings.Fields(body), " ")
	}
	d.ActionPlan = parsePlan(section(raw, planRe, true))
	d.Notes = parseNotes(section(raw, notesRe, false))
	return d, true
}

// Latest returns the diagnosis in the most recent model message that has one.
func Latest(messages []store.Message) (Diagnosis, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != store.RoleModel || msg.IsError {
			continue
		}
		if d, ok := Parse(msg.Content); ok {
			return d, true
		}
	}
	return Diagnosis{ActionPlan: []ActionStep{}, Notes: []string{}}, false
}

// section returns the lines under the heading matched by re, up to the next
// heading or code fence. With stopAtBlank it also ends at the first blank line
// after the content starts.
func section(raw string, re *regexp.Regexp, stopAtBlank bool) string {
	loc := re.FindStringIndex(raw)
	if loc == nil {
		return ""
	}
	var out []string
	for _, line := range strings.Split(raw[loc[1]:], "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "```") {
			break
		}
		if trimmed == "" {
			if len(out) == 0 {
				continue
			}
			if stopAtBlank {
				break
			}
			continue
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}

func parsePlan(body string) []ActionStep {
	steps := []ActionStep{}
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cells := strings.Split(strings.Trim(line, "|"), "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		if len(cells) < 2 || isSeparator(cells) || strings.EqualFold(cells[0], "step") {
			continue
		}
		for len(cells) < 4 {
			cells = append(cells, "")
		}
		steps = append(steps, ActionStep{
			Step:       cells[0],
			Action:     cells[1],
			Priority:   cells[2],
			Difficulty: cells[3],
		})
	}
	return steps
}

func isSeparator(cells []string) bool {
	for _, c := range cells {
		if !separatorRe.MatchString(c) {
			return false
		}
	}
	return true
}

func parseNotes(body string) []string {
	notes := []string{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		for _, bullet := range []string{"* ", "- ", "+ ", "• "} {
			if strings.HasPrefix(line, bullet) {
				line = strings.TrimSpace(line[len(bullet):])
				break
			}
		}
		if line == "" {
			continue
		}
		notes = append(notes, line)
	}
	return notes
}
