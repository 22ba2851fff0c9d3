package srcpkg

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"
)

var (
	assignment    = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)
	functionStart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*\s*\(\)`)
)

// ParsePkgbuild reads the top level assignments of a PKGBUILD. It does not run the script,
// only plain `var=value` and `var=(a b c)` assignments are understood and `$var`/`${var}`
// references to earlier assignments are expanded. Assignments inside functions (the
// package_<name>() overrides of split packages) are ignored.
func ParsePkgbuild(r io.Reader) (Info, error) {
	vars := map[string][]string{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxPkgbuildSize)

	var pending strings.Builder
	pendingName := ""
	inFunction := false
	for scanner.Scan() {
		line := scanner.Text()

		if pendingName != "" {
			pending.WriteString(" ")
			pending.WriteString(stripComment(line))
			if strings.Contains(line, ")") {
				vars[pendingName] = splitWords(pending.String(), vars)
				pendingName = ""
				pending.Reset()
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if functionStart.MatchString(line) {
			inFunction = true
			continue
		}
		if inFunction {
			if line == "}" {
				inFunction = false
			}
			continue
		}
		groups := assignment.FindStringSubmatch(line)
		if groups == nil {
			continue
		}
		name, value := groups[1], stripComment(groups[2])

		if strings.HasPrefix(value, "(") {
			if !strings.Contains(value, ")") {
				pendingName = name
				pending.WriteString(value)
				continue
			}
			vars[name] = splitWords(value, vars)
			continue
		}
		vars[name] = []string{expand(unquote(value), vars)}
	}
	if err := scanner.Err(); err != nil {
		return Info{}, err
	}

	info := Info{
		Names:       vars["pkgname"],
		Version:     first(vars["pkgver"]),
		Release:     first(vars["pkgrel"]),
		Description: first(vars["pkgdesc"]),
	}
	info.Name = first(vars["pkgbase"])
	if info.Name == "" {
		info.Name = first(info.Names)
	}
	if info.Name == "" {
		return Info{}, ErrNoPkgname
	}
	return info, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// stripComment drops a trailing " # comment" that is not inside quotes.
func stripComment(s string) string {
	var quote rune
	for i, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '#' && (i == 0 || s[i-1] == ' ' || s[i-1] == '\t'):
			return strings.TrimSpace(s[:i])
		}
	}
	return strings.TrimSpace(s)
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// splitWords splits the body of a bash array, respecting quotes.
func splitWords(s string, vars map[string][]string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	if i := strings.LastIndex(s, ")"); i >= 0 {
		s = s[:i]
	}

	var words []string
	var current strings.Builder
	var quote rune
	inWord := false
	flush := func() {
		if inWord {
			words = append(words, expand(current.String(), vars))
		}
		current.Reset()
		inWord = false
	}
	for _, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
				continue
			}
			current.WriteRune(c)
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		default:
			current.WriteRune(c)
			inWord = true
		}
	}
	flush()
	return words
}

func expand(s string, vars map[string][]string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(name string) string {
		return first(vars[name])
	})
}
