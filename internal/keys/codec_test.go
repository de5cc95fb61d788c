package keys

import (
	"bytes"
	"testing"
)

func TestCodec_Sequence(t *testing.T) {
	c := New()

	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"ENTER", "\r", true},
		{"enter", "\r", true},
		{" Tab ", "\t", true},
		{"PF3", "\x1bOR", true},
		{"f3", "\x1bOR", true},
		{"PF15", "\x1b[1;2R", true},
		{"page-up", "\x1b[5~", true},
		{"CTRL C", "\x03", true},
		{"PF25", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Sequence(tt.name)
			if ok != tt.ok {
				t.Fatalf("Sequence(%q) ok = %v, want %v", tt.name, ok, tt.ok)
			}
			if string(got) != tt.want {
				t.Errorf("Sequence(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestCodec_SequenceReturnsCopy(t *testing.T) {
	c := New()
	seq, _ := c.Sequence("PF1")
	seq[0] = 'X'

	again, _ := c.Sequence("PF1")
	if again[0] != 0x1b {
		t.Error("Sequence() exposed the internal table")
	}
}

func TestCodec_NameRoundTrip(t *testing.T) {
	c := New()
	for _, name := range c.Names() {
		seq, ok := c.Sequence(name)
		if !ok {
			t.Fatalf("Sequence(%q) not found", name)
		}
		got, ok := c.Name(seq)
		if !ok || got != name {
			t.Errorf("Name(Sequence(%q)) = %q, %v", name, got, ok)
		}
	}
}

func TestCodec_NamePrefersCanonical(t *testing.T) {
	c := New()

	if got, _ := c.Name([]byte("\x1bOP")); got != "PF1" {
		t.Errorf("Name(F1 seq) = %q, want PF1", got)
	}
	if got, _ := c.Name([]byte("\n")); got != "ENTER" {
		t.Errorf("Name(\\n) = %q, want ENTER", got)
	}
}

func TestCodec_Names(t *testing.T) {
	names := New().Names()
	for _, n := range names {
		if n == "F1" {
			t.Error("Names() should not list aliases")
		}
	}
	if names[0] != "ENTER" {
		t.Errorf("Names()[0] = %q, want ENTER", names[0])
	}
}

func TestCodec_Click(t *testing.T) {
	c := New()

	got := c.Click(5, 12)
	want := []byte("\x1b[<0;12;5M\x1b[<0;12;5m")
	if !bytes.Equal(got, want) {
		t.Errorf("Click(5, 12) = %q, want %q", got, want)
	}

	if got := c.Click(0, -1); !bytes.Equal(got, []byte("\x1b[<0;1;1M\x1b[<0;1;1m")) {
		t.Errorf("Click clamps to 1,1, got %q", got)
	}
}

func TestCodec_Tokenize(t *testing.T) {
	c := New()

	tests := []struct {
		name  string
		input string
		want  []Token
	}{
		{
			name:  "text and enter",
			input: "ABC\rDE",
			want: []Token{
				{Kind: KindText, Text: "ABC"},
				{Kind: KindKey, Name: "ENTER"},
				{Kind: KindText, Text: "DE"},
			},
		},
		{
			name:  "function keys",
			input: "\x1bOP\x1b[24;2~",
			want: []Token{
				{Kind: KindKey, Name: "PF1"},
				{Kind: KindKey, Name: "PF24"},
			},
		},
		{
			name:  "crlf is one enter",
			input: "x\r\n",
			want: []Token{
				{Kind: KindText, Text: "x"},
				{Kind: KindKey, Name: "ENTER"},
			},
		},
		{
			name:  "click press kept, release dropped",
			input: "\x1b[<0;12;5M\x1b[<0;12;5m",
			want: []Token{
				{Kind: KindClick, Name: Click, Row: 5, Col: 12},
			},
		},
		{
			name:  "unknown csi",
			input: "\x1b[99zA",
			want: []Token{
				{Kind: KindKey, Name: ""},
				{Kind: KindText, Text: "A"},
			},
		},
		{
			name:  "accented text",
			input: "AÇÃO",
			want: []Token{
				{Kind: KindText, Text: "AÇÃO"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Tokenize([]byte(tt.input))
			if len(got) != len(tt.want) {
				t.Fatalf("Tokenize(%q) = %d tokens, want %d: %+v", tt.input, len(got), len(tt.want), got)
			}
			for i := range got {
				g, w := got[i], tt.want[i]
				if g.Kind != w.Kind || g.Text != w.Text || g.Name != w.Name || g.Row != w.Row || g.Col != w.Col {
					t.Errorf("token %d = %+v, want %+v", i, g, w)
				}
			}
		})
	}
}
