package router

import (
	"strings"

	"github.com/google/uuid"
)

func newReqID() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] }

// tokenize splits a command line on whitespace, honouring single and
// double quotes and backslash escapes:
//
//	/drawing start 1h "Steam key" --winners 2
func tokenize(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		quote rune
		esc   bool
		have  bool
	)
	flush := func() {
		if have {
			out = append(out, buf.String())
			buf.Reset()
			have = false
		}
	}
	for _, r := range strings.TrimSpace(s) {
		switch {
		case esc:
			buf.WriteRune(r)
			esc, have = false, true
		case r == '\\':
			esc = true
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			buf.WriteRune(r)
		case r == '"' || r == '\'' || r == '“' || r == '”':
			quote, have = r, true
			if r == '“' {
				quote = '”'
			}
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			buf.WriteRune(r)
			have = true
		}
	}
	flush()
	return out
}

// parseFlags separates positionals from --k=v, --k v, --flag and -k v.
// A negative number is a positional.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags, bools = map[string]string{}, map[string]bool{}
	isFlag := func(s string) bool {
		return len(s) > 1 && s[0] == '-' && !(s[1] >= '0' && s[1] <= '9')
	}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !isFlag(a) {
			pos = append(pos, a)
			continue
		}
		key := strings.TrimLeft(a, "-")
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = v
			continue
		}
		if i+1 < len(args) && !isFlag(args[i+1]) {
			flags[key] = args[i+1]
			i++
			continue
		}
		bools[key] = true
	}
	return pos, flags, bools
}

// commandWord strips the slash and any @botname suffix.
func commandWord(tok string) string {
	w := strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	return strings.ToLower(w)
}
