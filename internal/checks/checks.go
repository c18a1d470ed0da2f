// Package checks runs the deterministic local checks folded into validation: a
// parse check for the artifact and a fixed scan for risky constructs.
package checks

import (
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"regexp"
	"strings"

	"github.com/nadmax/forgeq/internal/task"
	"gopkg.in/yaml.v3"
)

const Source = "static"

type bannedPattern struct {
	re       *regexp.Regexp
	severity task.Severity
	desc     string
	fix      string
}

var bannedPatterns = []bannedPattern{
	{
		re:       regexp.MustCompile(`\beval\s*\(`),
		severity: task.SeverityHigh,
		desc:     "dynamic code evaluation via eval()",
		fix:      "Replace eval() with explicit parsing of the expected input",
	},
	{
		re:       regexp.MustCompile(`\bexec\s*\(`),
		severity: task.SeverityHigh,
		desc:     "dynamic code execution via exec()",
		fix:      "Remove exec() and call the intended code directly",
	},
	{
		re:       regexp.MustCompile(`shell\s*=\s*True`),
		severity: task.SeverityHigh,
		desc:     "subprocess invoked through a shell",
		fix:      "Pass the command as an argument list with shell=False",
	},
	{
		re:       regexp.MustCompile(`\bos\.system\s*\(`),
		severity: task.SeverityMedium,
		desc:     "command executed with os.system()",
		fix:      "Use subprocess.run with an argument list",
	},
	{
		re:       regexp.MustCompile(`\bpickle\.loads?\s*\(`),
		severity: task.SeverityMedium,
		desc:     "deserialization of untrusted data with pickle",
		fix:      "Use a data-only format such as JSON",
	},
	{
		re:       regexp.MustCompile(`rm\s+-rf\s+/(\s|$|\*)`),
		severity: task.SeverityHigh,
		desc:     "recursive delete of the filesystem root",
		fix:      "Restrict deletion to an explicit, validated path",
	},
	{
		re:       regexp.MustCompile(`(curl|wget)[^\n|]*\|\s*(ba|z)?sh\b`),
		severity: task.SeverityMedium,
		desc:     "remote script piped into a shell",
		fix:      "Download, verify and then execute the script",
	},
	{
		re:       regexp.MustCompile(`(?i)(verify\s*=\s*False|InsecureSkipVerify:\s*true|rejectUnauthorized:\s*false)`),
		severity: task.SeverityMedium,
		desc:     "TLS certificate verification disabled",
		fix:      "Keep certificate verification enabled",
	},
	{
		re:       regexp.MustCompile(`(?i)\b(password|passwd|secret|api_key|apikey|token)\s*[:=]\s*["'][^"']{4,}["']`),
		severity: task.SeverityLow,
		desc:     "hard-coded credential",
		fix:      "Read credentials from the environment or a secret store",
	},
}

// Run returns the syntax issues followed by the banned-pattern issues.
func Run(artifact, language string) []task.Issue {
	issues := Syntax(artifact, language)
	return append(issues, BannedPatterns(artifact)...)
}

func BannedPatterns(artifact string) []task.Issue {
	var issues []task.Issue
	for _, p := range bannedPatterns {
		if p.re.MatchString(artifact) {
			issues = append(issues, task.Issue{
				Severity:     p.severity,
				Description:  p.desc,
				SuggestedFix: p.fix,
				Source:       Source,
			})
		}
	}
	return issues
}

func Syntax(artifact, language string) []task.Issue {
	var err error
	language = strings.ToLower(strings.TrimSpace(language))
	switch language {
	case "go", "golang":
		err = checkGo(artifact)
	case "json":
		err = checkJSON(artifact)
	case "yaml", "yml":
		var doc any
		err = yaml.Unmarshal([]byte(artifact), &doc)
	default:
		err = checkDelimiters(artifact, language)
	}
	if err == nil {
		return nil
	}

	return []task.Issue{{
		Severity:     task.SeverityHigh,
		Description:  "artifact does not parse: " + err.Error(),
		SuggestedFix: "Fix the syntax error so the artifact parses",
		Source:       Source,
	}}
}

var packageClause = regexp.MustCompile(`(?m)^package\s+\w+`)

func checkGo(src string) error {
	fset := token.NewFileSet()
	if packageClause.MatchString(src) {
		_, err := parser.ParseFile(fset, "artifact.go", src, parser.AllErrors)
		return err
	}

	// Snippets are accepted either as top-level declarations or as a function body.
	_, declErr := parser.ParseFile(fset, "artifact.go", "package p\n"+src, parser.AllErrors)
	if declErr == nil {
		return nil
	}
	if _, err := parser.ParseFile(fset, "artifact.go", "package p\nfunc _() {\n"+src+"\n}\n", parser.AllErrors); err == nil {
		return nil
	}
	return declErr
}

func checkJSON(src string) error {
	var v any
	return json.Unmarshal([]byte(src), &v)
}

var closers = map[rune]rune{')': '(', ']': '[', '}': '{'}

type lexicon struct {
	hashComments  bool
	slashComments bool
	quotes        bool
	brackets      bool
}

func lexiconFor(language string) lexicon {
	switch language {
	case "javascript", "js", "typescript", "ts", "java", "c", "cpp", "rust", "swift", "kotlin":
		return lexicon{slashComments: true, quotes: true, brackets: true}
	case "css":
		return lexicon{quotes: true, brackets: true}
	case "html":
		return lexicon{brackets: true}
	case "python", "py", "ruby", "rb", "perl", "r":
		return lexicon{hashComments: true, quotes: true, brackets: true}
	default:
		// Shell case patterns and heredocs make delimiters unreliable, and an
		// untagged artifact has no known comment or quoting rules.
		return lexicon{}
	}
}

// checkDelimiters is the fallback for languages without a parser: brackets must
// balance and strings must terminate. Languages with no lexicon pass unchecked.
func checkDelimiters(src, language string) error {
	lex := lexiconFor(language)
	var (
		stack []rune
		block string
	)

	for lineNo, line := range strings.Split(src, "\n") {
		runes := []rune(line)
		var quote rune
		escaped := false

	scan:
		for i := 0; i < len(runes); i++ {
			r := runes[i]
			rest := string(runes[i:])

			if block != "" {
				if strings.HasPrefix(rest, block) {
					i += len(block) - 1
					block = ""
				}
				continue
			}
			if quote != 0 {
				switch {
				case escaped:
					escaped = false
				case r == '\\':
					escaped = true
				case r == quote:
					quote = 0
				}
				continue
			}

			switch {
			case lex.quotes && (strings.HasPrefix(rest, `"""`) || strings.HasPrefix(rest, "'''")):
				block = rest[:3]
				i += 2
			case lex.quotes && r == '`':
				block = "`"
			case lex.quotes && (r == '"' || r == '\''):
				quote = r
			case lex.hashComments && r == '#':
				break scan
			case lex.slashComments && strings.HasPrefix(rest, "//"):
				break scan
			case lex.brackets && (r == '(' || r == '[' || r == '{'):
				stack = append(stack, r)
			case lex.brackets && (r == ')' || r == ']' || r == '}'):
				if len(stack) == 0 || stack[len(stack)-1] != closers[r] {
					return fmt.Errorf("line %d: unexpected %q", lineNo+1, r)
				}
				stack = stack[:len(stack)-1]
			}
		}

		if quote != 0 && !strings.HasSuffix(line, "\\") {
			return fmt.Errorf("line %d: unterminated string", lineNo+1)
		}
	}

	if block != "" {
		return fmt.Errorf("unterminated %s string", block)
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	return nil
}
