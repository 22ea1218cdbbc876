package luavm

import (
	"fmt"
	"strings"
)

// hookGlobal is the reserved global the rewriter calls at the start of
// every instrumented line, passing the 1-based line number.
const hookGlobal = "__ncdbg_line"

// breakGlobal is the global a script calls to request a pause.
const breakGlobal = "breakpoint"

// instrument prefixes every line that can begin a statement with a
// hook call carrying its own line number. The rewrite adds no lines,
// so compiled positions keep matching the original source. Lines the
// scanner cannot prove to be statement starts are left untouched. The
// returned set holds the rewritten line numbers.
func instrument(source string) (string, map[int]bool) {
	lines := strings.Split(source, "\n")
	hooked := make(map[int]bool)
	var st scanState
	for i, line := range lines {
		beganInside := st.bracket > 0
		wasCont := st.cont
		prof := scanLine(line, &st)
		if beganInside || wasCont || !prof.significant || !startsStatement(prof.first) {
			continue
		}
		n := i + 1
		hooked[n] = true
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		lines[i] = fmt.Sprintf("%s%s(%d) %s", indent, hookGlobal, n, line[len(indent):])
	}
	return strings.Join(lines, "\n"), hooked
}

// startsStatement reports whether a line whose first token is tok can
// begin a Lua statement. Block terminators and infix keywords cannot.
func startsStatement(tok string) bool {
	if tok == "" || !isWordByte(tok[0]) {
		return false
	}
	switch tok {
	case "else", "elseif", "end", "until", "then", "do", "in", "and", "or", "not":
		return false
	}
	return true
}

// scanState is the lexical state carried across lines.
type scanState struct {
	// bracket is the long-bracket level plus one while inside a long
	// string or comment, zero otherwise.
	bracket        int
	bracketComment bool

	// cont is true when the last significant line ended mid expression.
	cont bool
}

type lineProfile struct {
	// first is the first significant token on the line, "" when the
	// line holds none.
	first string

	significant bool
}

func (p *lineProfile) mark(tok string) {
	p.significant = true
	if p.first == "" {
		p.first = tok
	}
}

// scanLine advances the lexical state across one line. Comments vanish,
// strings collapse to a single token, and the trailing token decides
// whether the next line continues this expression.
func scanLine(line string, st *scanState) lineProfile {
	var prof lineProfile
	lastTok := ""
	i := 0
	for i < len(line) {
		if st.bracket > 0 {
			if line[i] == ']' {
				if w, ok := longClose(line[i:], st.bracket-1); ok {
					if !st.bracketComment {
						lastTok = "]]"
						prof.mark("]]")
					}
					st.bracket = 0
					i += w
					continue
				}
			}
			i++
			continue
		}
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '-' && i+1 < len(line) && line[i+1] == '-':
			if lvl, w, ok := longOpen(line[i+2:]); ok {
				st.bracket = lvl + 1
				st.bracketComment = true
				i += 2 + w
				continue
			}
			i = len(line)
		case c == '[':
			if lvl, w, ok := longOpen(line[i:]); ok {
				st.bracket = lvl + 1
				st.bracketComment = false
				lastTok = "[["
				prof.mark("[[")
				i += w
				continue
			}
			lastTok = "["
			prof.mark("[")
			i++
		case c == '"' || c == '\'':
			j := i + 1
			closed := false
			for j < len(line) {
				if line[j] == '\\' {
					j += 2
					continue
				}
				if line[j] == c {
					closed = true
					j++
					break
				}
				j++
			}
			lastTok = `""`
			if !closed {
				// backslash-newline string continuation
				lastTok = `\`
			}
			prof.mark(`""`)
			i = j
		case isWordByte(c):
			j := i + 1
			for j < len(line) && (isWordByte(line[j]) || isDigitByte(line[j])) {
				j++
			}
			word := line[i:j]
			lastTok = word
			prof.mark(word)
			i = j
		case isDigitByte(c):
			j := i + 1
			for j < len(line) && (isDigitByte(line[j]) || isWordByte(line[j]) || line[j] == '.') {
				j++
			}
			lastTok = "0"
			prof.mark("0")
			i = j
		default:
			j := i + 1
			if (c == '.' || c == '=' || c == '~' || c == '<' || c == '>') && j < len(line) && (line[j] == '.' || line[j] == '=') {
				j++
				if c == '.' && j < len(line) && line[j] == '.' {
					j++
				}
			}
			op := line[i:j]
			lastTok = op
			prof.mark(op)
			i = j
		}
	}
	if prof.significant {
		st.cont = endsOpen(lastTok, st.bracket > 0)
	}
	return prof
}

// endsOpen reports whether a line ending in tok leaves its expression
// unfinished.
func endsOpen(tok string, inBracket bool) bool {
	if inBracket {
		return true
	}
	switch tok {
	case ",", "(", "{", "[", "[[", "=", "==", "~=", "<=", ">=", "<", ">",
		"..", "...", ".", ":", "#", "+", "-", "*", "/", "%", "^",
		"and", "or", "not", `\`:
		return true
	}
	return false
}

func longOpen(s string) (level, width int, ok bool) {
	if len(s) == 0 || s[0] != '[' {
		return 0, 0, false
	}
	j := 1
	for j < len(s) && s[j] == '=' {
		j++
	}
	if j < len(s) && s[j] == '[' {
		return j - 1, j + 1, true
	}
	return 0, 0, false
}

func longClose(s string, level int) (width int, ok bool) {
	if len(s) == 0 || s[0] != ']' {
		return 0, false
	}
	j := 1
	for j < len(s) && s[j] == '=' {
		j++
	}
	if j-1 == level && j < len(s) && s[j] == ']' {
		return j + 1, true
	}
	return 0, false
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigitByte(c byte) bool {
	return c >= '0' && c <= '9'
}
