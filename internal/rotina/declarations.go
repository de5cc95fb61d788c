package rotina

import (
	"regexp"
	"strconv"
	"strings"
)

// AnyKey reactivates a trigger on any keystroke.
const AnyKey = "ANY_KEY"

// Declaration is one autoExecutar marker found in a script.
type Declaration struct {
	Trigger      string
	Reactivation string
	Line         int
}

const stringLit = "(\"(?:[^\"\\\\]|\\\\.)*\"|`[^`]*`)"

var declarationRe = regexp.MustCompile(`^\s*autoExecutar\s*\(\s*` + stringLit + `\s*(?:,\s*` + stringLit + `\s*)?\)`)

// Declarations scans source text for autoExecutar markers. Commented-out
// lines are ignored, which is how a declaration is disabled.
func Declarations(src string) []Declaration {
	var decls []Declaration
	for i, line := range strings.Split(src, "\n") {
		m := declarationRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		trigger, err := strconv.Unquote(m[1])
		if err != nil || trigger == "" {
			continue
		}
		reactivation := "ENTER"
		if m[2] != "" {
			if r, err := strconv.Unquote(m[2]); err == nil && strings.TrimSpace(r) != "" {
				reactivation = strings.ToUpper(strings.TrimSpace(r))
			}
		}
		decls = append(decls, Declaration{Trigger: trigger, Reactivation: reactivation, Line: i + 1})
	}
	return decls
}

// DisableAutoTrigger comments out every declaration. It reports whether
// the source changed.
func DisableAutoTrigger(src string) (string, bool) {
	lines := strings.Split(src, "\n")
	changed := false
	for i, line := range lines {
		if !declarationRe.MatchString(line) {
			continue
		}
		trimmed := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(trimmed)]
		lines[i] = indent + "// " + trimmed
		changed = true
	}
	return strings.Join(lines, "\n"), changed
}
