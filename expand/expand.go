// Package expand turns a templated command submission into a concrete,
// ordered list of executable commands.
//
// Syntax:
//
//	[name=range] ...more prefixes... command with {name} placeholders
//
// Range types:
//
//	[shard=1-64]         numeric: "1", "2", ..., "64"
//	[shard=01-64]        zero-padded: "01", "02", ..., "64"
//	[region=east,west]   list: "east", "west"
//
// Separate [...] blocks are cross-producted; space-separated names inside a
// single [...] block are zipped and must have the same length. The
// first-declared block varies slowest.
package expand

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ConfigError reports a malformed template. It is raised before any process
// is spawned; a template that fails expansion produces zero commands.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return e.Msg
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// Command is a single expanded command with its parameter assignments.
type Command struct {
	// Text is the fully substituted command string.
	Text string
	// Label identifies the instance for display, e.g. "[n=14][region=pnb]".
	// Empty for a template with no bracket groups.
	Label string
}

// paramDef is a single named parameter with its expanded values.
type paramDef struct {
	name   string
	values []string
}

// paramGroup is a group of parameters. Params within the same group are
// zipped; separate groups are cross-producted.
type paramGroup struct {
	params []paramDef
}

var placeholderRegex = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)?\}`)

// Expand parses a templated submission and produces the ordered list of
// concrete commands. A template with no bracket prefixes expands to itself.
// Expansion is all-or-nothing: any malformed range or unknown placeholder
// returns a ConfigError and zero commands.
func Expand(input string) ([]Command, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, configErrorf("empty command")
	}

	if !strings.HasPrefix(trimmed, "[") {
		return []Command{{Text: trimmed}}, nil
	}

	groups, template, err := parseGroups(trimmed)
	if err != nil {
		return nil, err
	}
	if template == "" {
		return nil, configErrorf("no command after bracket groups")
	}

	if err := validatePlaceholders(groups, template); err != nil {
		return nil, err
	}

	return expandGroups(groups, template), nil
}

// parseGroups parses consecutive [...] blocks from the start of the input
// and returns them with the remaining command template.
func parseGroups(input string) ([]paramGroup, string, error) {
	remaining := input
	var groups []paramGroup

	for strings.HasPrefix(remaining, "[") {
		close := strings.IndexByte(remaining, ']')
		if close < 0 {
			return nil, "", configErrorf("unclosed bracket group: %s", remaining)
		}
		group, err := parseBracketBlock(remaining[:close+1])
		if err != nil {
			return nil, "", err
		}
		groups = append(groups, group)
		remaining = strings.TrimLeft(remaining[close+1:], " \t")
	}

	return groups, remaining, nil
}

// parseBracketBlock parses a single [...] block into a paramGroup.
// "[shard=1-3]" yields one param; "[shard=1-3 region=a,b,c]" yields two
// zipped params, which must have equal lengths.
func parseBracketBlock(block string) (paramGroup, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(block, "["), "]")
	var group paramGroup

	for _, part := range strings.Fields(inner) {
		name, rangeStr, ok := strings.Cut(part, "=")
		if !ok || name == "" {
			return paramGroup{}, configErrorf("malformed parameter %q in %s", part, block)
		}
		values, err := parseRange(rangeStr)
		if err != nil {
			return paramGroup{}, err
		}
		group.params = append(group.params, paramDef{name: name, values: values})
	}

	if len(group.params) == 0 {
		return paramGroup{}, configErrorf("empty bracket group %s", block)
	}

	if len(group.params) > 1 {
		length := len(group.params[0].values)
		for _, p := range group.params[1:] {
			if len(p.values) != length {
				return paramGroup{}, configErrorf(
					"zipped parameters in %s have mismatched lengths (%s has %d values, %s has %d)",
					block, group.params[0].name, length, p.name, len(p.values))
			}
		}
	}

	return group, nil
}

// parseRange parses a range string into its list of values.
//
//	"1-64"      -> ["1", "2", ..., "64"]
//	"01-05"     -> ["01", "02", ..., "05"] (zero-padded)
//	"east,west" -> ["east", "west"]
//	"us-east"   -> ["us-east"] (neither side numeric: a literal value)
//
// A dash with exactly one numeric side, or a numeric range with start > end,
// is malformed.
func parseRange(rangeStr string) ([]string, error) {
	if rangeStr == "" {
		return nil, configErrorf("empty range")
	}

	if strings.Contains(rangeStr, ",") {
		parts := strings.Split(rangeStr, ",")
		values := make([]string, 0, len(parts))
		for _, p := range parts {
			values = append(values, strings.TrimSpace(p))
		}
		return values, nil
	}

	startStr, endStr, ok := strings.Cut(rangeStr, "-")
	if !ok {
		return []string{rangeStr}, nil
	}

	start, startErr := strconv.ParseInt(startStr, 10, 64)
	end, endErr := strconv.ParseInt(endStr, 10, 64)
	if startErr != nil && endErr != nil {
		// Neither side is a number; treat the whole thing as one value so
		// things like [region=us-east] still work.
		return []string{rangeStr}, nil
	}
	if startErr != nil || endErr != nil {
		return nil, configErrorf("malformed range %q: bounds must both be numeric", rangeStr)
	}
	if start > end {
		return nil, configErrorf("malformed range %q: start is greater than end", rangeStr)
	}

	// Leading zeros on the start bound request zero-padding to the wider of
	// the two bounds.
	padWidth := 0
	if len(startStr) > 1 && startStr[0] == '0' {
		padWidth = len(startStr)
		if len(endStr) > padWidth {
			padWidth = len(endStr)
		}
	}

	values := make([]string, 0, end-start+1)
	for n := start; n <= end; n++ {
		if padWidth > 0 {
			values = append(values, fmt.Sprintf("%0*d", padWidth, n))
		} else {
			values = append(values, strconv.FormatInt(n, 10))
		}
	}
	return values, nil
}

// validatePlaceholders rejects templates referencing variables no bracket
// group declares. The bare "{}" placeholder is only valid when exactly one
// variable is declared.
func validatePlaceholders(groups []paramGroup, template string) error {
	declared := make(map[string]bool)
	total := 0
	for _, g := range groups {
		for _, p := range g.params {
			declared[p.name] = true
			total++
		}
	}

	for _, m := range placeholderRegex.FindAllStringSubmatch(template, -1) {
		name := m[1]
		if name == "" {
			if total != 1 {
				return configErrorf("bare {} placeholder requires exactly one declared variable, have %d", total)
			}
			continue
		}
		if !declared[name] {
			return configErrorf("placeholder {%s} has no matching declared variable", name)
		}
	}
	return nil
}

type assignment struct {
	name  string
	value string
}

// expandGroups produces the cross product of all groups (zipping within each
// group) and substitutes into the template. The first-declared group varies
// slowest, so output order is ascending lexicographic over range positions.
func expandGroups(groups []paramGroup, template string) []Command {
	groupRows := make([][][]assignment, len(groups))
	for gi, group := range groups {
		length := len(group.params[0].values)
		rows := make([][]assignment, 0, length)
		for i := 0; i < length; i++ {
			row := make([]assignment, 0, len(group.params))
			for _, p := range group.params {
				row = append(row, assignment{name: p.name, value: p.values[i]})
			}
			rows = append(rows, row)
		}
		groupRows[gi] = rows
	}

	combinations := [][]assignment{{}}
	for _, rows := range groupRows {
		next := make([][]assignment, 0, len(combinations)*len(rows))
		for _, existing := range combinations {
			for _, row := range rows {
				combined := make([]assignment, 0, len(existing)+len(row))
				combined = append(combined, existing...)
				combined = append(combined, row...)
				next = append(next, combined)
			}
		}
		combinations = next
	}

	singleVar := len(groups) == 1 && len(groups[0].params) == 1

	commands := make([]Command, 0, len(combinations))
	for _, assignments := range combinations {
		text := template
		var label strings.Builder
		for _, a := range assignments {
			text = strings.ReplaceAll(text, "{"+a.name+"}", a.value)
			if singleVar {
				text = strings.ReplaceAll(text, "{}", a.value)
			}
			fmt.Fprintf(&label, "[%s=%s]", a.name, a.value)
		}
		commands = append(commands, Command{Text: text, Label: label.String()})
	}
	return commands
}
