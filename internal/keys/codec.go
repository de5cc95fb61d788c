// Package keys maps symbolic key names to the byte sequences a terminal
// gateway expects, and decodes raw input back into names.
package keys

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Click is the sentinel name for a mouse click. It has no fixed sequence;
// use Codec.Click to build one from coordinates.
const Click = "CLICK"

// Kind classifies a Token produced by Tokenize.
type Kind int

const (
	// KindText is a run of printable characters.
	KindText Kind = iota
	// KindKey is a recognised (or unknown, with empty Name) control sequence.
	KindKey
	// KindClick is a mouse press report.
	KindClick
)

// Token is one unit of decoded raw input.
type Token struct {
	Kind Kind
	Text string
	Name string
	Row  int
	Col  int
	Raw  []byte
}

type entry struct {
	name string
	seq  string
}

// canonical names come first; later entries with a duplicate sequence are
// aliases and never win a reverse lookup.
var table = []entry{
	{"ENTER", "\r"},
	{"TAB", "\t"},
	{"BACKTAB", "\x1b[Z"},
	{"ESC", "\x1b"},
	{"BACKSPACE", "\x7f"},
	{"DELETE", "\x1b[3~"},
	{"INSERT", "\x1b[2~"},
	{"HOME", "\x1b[H"},
	{"END", "\x1b[F"},
	{"PAGEUP", "\x1b[5~"},
	{"PAGEDOWN", "\x1b[6~"},
	{"UP", "\x1b[A"},
	{"DOWN", "\x1b[B"},
	{"RIGHT", "\x1b[C"},
	{"LEFT", "\x1b[D"},
	{"PF1", "\x1bOP"},
	{"PF2", "\x1bOQ"},
	{"PF3", "\x1bOR"},
	{"PF4", "\x1bOS"},
	{"PF5", "\x1b[15~"},
	{"PF6", "\x1b[17~"},
	{"PF7", "\x1b[18~"},
	{"PF8", "\x1b[19~"},
	{"PF9", "\x1b[20~"},
	{"PF10", "\x1b[21~"},
	{"PF11", "\x1b[23~"},
	{"PF12", "\x1b[24~"},
	{"PF13", "\x1b[1;2P"},
	{"PF14", "\x1b[1;2Q"},
	{"PF15", "\x1b[1;2R"},
	{"PF16", "\x1b[1;2S"},
	{"PF17", "\x1b[15;2~"},
	{"PF18", "\x1b[17;2~"},
	{"PF19", "\x1b[18;2~"},
	{"PF20", "\x1b[19;2~"},
	{"PF21", "\x1b[20;2~"},
	{"PF22", "\x1b[21;2~"},
	{"PF23", "\x1b[23;2~"},
	{"PF24", "\x1b[24;2~"},
	{"CLEAR", "\x1b[2J"},
	{"CTRL_C", "\x03"},

	// aliases
	{"F1", "\x1bOP"},
	{"F2", "\x1bOQ"},
	{"F3", "\x1bOR"},
	{"F4", "\x1bOS"},
	{"F5", "\x1b[15~"},
	{"F6", "\x1b[17~"},
	{"F7", "\x1b[18~"},
	{"F8", "\x1b[19~"},
	{"F9", "\x1b[20~"},
	{"F10", "\x1b[21~"},
	{"F11", "\x1b[23~"},
	{"F12", "\x1b[24~"},
	{"ENTER", "\n"},
	{"ENTER", "\r\n"},
	{"HOME", "\x1b[1~"},
	{"END", "\x1b[4~"},
	{"HOME", "\x1bOH"},
	{"END", "\x1bOF"},
	{"UP", "\x1bOA"},
	{"DOWN", "\x1bOB"},
	{"RIGHT", "\x1bOC"},
	{"LEFT", "\x1bOD"},
}

// Codec is an immutable name/sequence table.
type Codec struct {
	byName map[string][]byte
	bySeq  map[string]string
	maxLen int
}

// Default is the codec used by the runtime.
var Default = New()

// New builds the codec from the static key table.
func New() *Codec {
	c := &Codec{
		byName: make(map[string][]byte, len(table)),
		bySeq:  make(map[string]string, len(table)),
	}
	for _, e := range table {
		if _, ok := c.byName[e.name]; !ok {
			c.byName[e.name] = []byte(e.seq)
		}
		if _, ok := c.bySeq[e.seq]; !ok {
			c.bySeq[e.seq] = e.name
		}
		if len(e.seq) > c.maxLen {
			c.maxLen = len(e.seq)
		}
	}
	return c
}

// Sequence returns the bytes for a key name. Lookup is case-insensitive.
func (c *Codec) Sequence(name string) ([]byte, bool) {
	seq, ok := c.byName[normalizeName(name)]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(seq))
	copy(out, seq)
	return out, true
}

// Name returns the canonical key name for a complete sequence.
func (c *Codec) Name(seq []byte) (string, bool) {
	name, ok := c.bySeq[string(seq)]
	return name, ok
}

// Names returns the canonical key names in table order.
func (c *Codec) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range table {
		if seen[e.name] || c.bySeq[e.seq] != e.name {
			continue
		}
		seen[e.name] = true
		names = append(names, e.name)
	}
	return names
}

// Click builds an SGR mouse report (press followed by release) for a
// left click at 1-based row and column.
func (c *Codec) Click(row, col int) []byte {
	if row < 1 {
		row = 1
	}
	if col < 1 {
		col = 1
	}
	return []byte(fmt.Sprintf("\x1b[<0;%d;%dM\x1b[<0;%d;%dm", col, row, col, row))
}

// Tokenize splits a raw input chunk into text, key and click tokens.
// Escape sequences are matched longest-first against the table; unknown
// ones are returned as KindKey tokens with an empty Name.
func (c *Codec) Tokenize(data []byte) []Token {
	var tokens []Token
	var text []byte

	flush := func() {
		if len(text) > 0 {
			tokens = append(tokens, Token{Kind: KindText, Text: string(text)})
			text = nil
		}
	}

	for i := 0; i < len(data); {
		b := data[i]

		if b == 0x1b {
			if tok, n, ok := parseMouse(data[i:]); ok {
				flush()
				if tok != nil {
					tokens = append(tokens, *tok)
				}
				i += n
				continue
			}
		}

		if b < 0x20 || b == 0x7f {
			flush()
			name, n := c.longestMatch(data[i:])
			if n == 1 && b == 0x1b && len(data) > i+1 && (data[i+1] == '[' || data[i+1] == 'O') {
				name, n = "", 0
			}
			if n == 0 {
				n = unknownLength(data[i:])
			}
			tokens = append(tokens, Token{Kind: KindKey, Name: name, Raw: append([]byte(nil), data[i:i+n]...)})
			i += n
			continue
		}

		text = append(text, b)
		i++
	}
	flush()
	return tokens
}

func (c *Codec) longestMatch(data []byte) (string, int) {
	limit := c.maxLen
	if len(data) < limit {
		limit = len(data)
	}
	for n := limit; n > 0; n-- {
		if name, ok := c.bySeq[string(data[:n])]; ok {
			return name, n
		}
	}
	return "", 0
}

// unknownLength consumes a CSI or SS3 sequence, or a single control byte.
func unknownLength(data []byte) int {
	if len(data) < 2 || data[0] != 0x1b {
		return 1
	}
	switch data[1] {
	case 'O':
		if len(data) >= 3 {
			return 3
		}
		return 2
	case '[':
		for j := 2; j < len(data); j++ {
			if data[j] >= 0x40 && data[j] <= 0x7e {
				return j + 1
			}
		}
		return len(data)
	}
	return 1
}

// parseMouse recognises an SGR mouse report. Release events and motion
// are consumed but produce no token.
func parseMouse(data []byte) (*Token, int, bool) {
	if !bytes.HasPrefix(data, []byte("\x1b[<")) {
		return nil, 0, false
	}
	end := bytes.IndexAny(data, "Mm")
	if end < 0 {
		return nil, 0, false
	}
	parts := strings.Split(string(data[3:end]), ";")
	if len(parts) != 3 {
		return nil, 0, false
	}
	button, err1 := strconv.Atoi(parts[0])
	col, err2 := strconv.Atoi(parts[1])
	row, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, 0, false
	}
	n := end + 1
	if data[end] == 'm' || button != 0 {
		return nil, n, true
	}
	return &Token{Kind: KindClick, Name: Click, Row: row, Col: col, Raw: append([]byte(nil), data[:n]...)}, n, true
}

func normalizeName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "_")
	return strings.ReplaceAll(name, " ", "_")
}
