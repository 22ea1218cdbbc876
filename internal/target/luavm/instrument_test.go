package luavm

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/exp/slices"
)

func hookedLines(m map[int]bool) []int {
	var lines []int
	for n := range m {
		lines = append(lines, n)
	}
	sort.Ints(lines)
	return lines
}

func TestInstrument_HookedLines(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []int
	}{
		{
			name:   "plain statements",
			source: "local x = 1\nx = x + 1\nprint(x)",
			want:   []int{1, 2, 3},
		},
		{
			name:   "table constructor continuation",
			source: "local t = {\n  1, 2,\n}\nprint(#t)",
			want:   []int{1, 4},
		},
		{
			name:   "operator continuation",
			source: "local total = 1 +\n  2\nprint(total)",
			want:   []int{1, 3},
		},
		{
			name:   "assignment spanning the equals",
			source: "local x =\n  5\nprint(x)",
			want:   []int{1, 3},
		},
		{
			name:   "block keywords skipped",
			source: "if x then\n  y = 1\nelse\n  y = 2\nend",
			want:   []int{1, 2, 4},
		},
		{
			name:   "then on its own line",
			source: "if x\nthen y = 1 end",
			want:   []int{1},
		},
		{
			name:   "condition split on and",
			source: "if a and\n   b then\n  y = 1\nend",
			want:   []int{1, 3},
		},
		{
			name:   "long comment",
			source: "--[[ note\nstill inside ]]\nx = 1",
			want:   []int{3},
		},
		{
			name:   "line comment only",
			source: "-- heading\nlocal x = 1",
			want:   []int{2},
		},
		{
			name:   "long string",
			source: "local s = [[\nraw\ntext]]\nprint(s)",
			want:   []int{1, 4},
		},
		{
			name:   "comment markers inside a string",
			source: "local url = \"a--b[[c\"\nprint(url)",
			want:   []int{1, 2},
		},
		{
			name:   "function definition",
			source: "local function add(a, b)\n  return a + b\nend\nprint(add(1, 2))",
			want:   []int{1, 2, 4},
		},
		{
			name:   "trailing and",
			source: "local ok = a and\n  b\nreturn ok",
			want:   []int{1, 3},
		},
		{
			name:   "method chain continuation",
			source: "local s = (\"x\")\n  :rep(2)\nprint(s)",
			want:   []int{1, 3},
		},
		{
			name:   "call split at the paren",
			source: "print(\n  \"hi\")",
			want:   []int{1},
		},
		{
			name:   "blank lines",
			source: "\n  \nx = 1",
			want:   []int{3},
		},
		{
			name:   "repeat until",
			source: "repeat\n  n = n + 1\nuntil n > 3",
			want:   []int{1, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, hooked := instrument(tt.source)
			if got, want := strings.Count(text, "\n"), strings.Count(tt.source, "\n"); got != want {
				t.Fatalf("line count changed: got %d newlines, want %d", got, want)
			}
			got := hookedLines(hooked)
			if !slices.Equal(got, tt.want) {
				t.Errorf("hooked lines = %v, want %v\nrewritten:\n%s", got, tt.want, text)
			}
		})
	}
}

func TestInstrument_MarksOnlyHookedLines(t *testing.T) {
	source := "local a = {\n  1,\n}\nprint(a)"
	text, hooked := instrument(source)
	for i, line := range strings.Split(text, "\n") {
		has := strings.Contains(line, hookGlobal)
		if has != hooked[i+1] {
			t.Errorf("line %d: hook call present = %v, hooked = %v", i+1, has, hooked[i+1])
		}
	}
}

func TestInstrument_OutputCompiles(t *testing.T) {
	source := `local counter = 0

local function bump(n)
  counter = counter + n
  return counter
end

for i = 1, 3 do
  bump(i)
end

while counter > 0 do
  counter = counter - 1
end

repeat
  counter = counter + 1
until counter > 2

if counter == 3 then
  counter = counter * 2
elseif counter > 10 then
  counter = 0
else
  counter = 1
end

local banner = [[
multi
line]]
local joined = banner .. "!"

-- trailing comment
print(joined, counter)`

	text, hooked := instrument(source)
	if len(hooked) == 0 {
		t.Fatal("no lines were instrumented")
	}
	if _, err := compileChunk(text, "main.lua"); err != nil {
		t.Fatalf("instrumented source does not compile: %v\n%s", err, text)
	}
}

func TestInstrument_BakesLineNumbers(t *testing.T) {
	source := "local x = 1\nx = x + 1"
	text, _ := instrument(source)
	lines := strings.Split(text, "\n")
	if !strings.HasPrefix(lines[0], hookGlobal+"(1) ") {
		t.Errorf("line 1 = %q, want %s(1) prefix", lines[0], hookGlobal)
	}
	if !strings.HasPrefix(lines[1], hookGlobal+"(2) ") {
		t.Errorf("line 2 = %q, want %s(2) prefix", lines[1], hookGlobal)
	}
}

func TestInstrument_KeepsIndentation(t *testing.T) {
	source := "if x then\n    y = 1\nend"
	text, _ := instrument(source)
	lines := strings.Split(text, "\n")
	if !strings.HasPrefix(lines[1], "    "+hookGlobal) {
		t.Errorf("indentation lost: %q", lines[1])
	}
}
