// Package prompts renders the LLM prompts for free-text grading and attempt
// summaries from the embedded templates.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var FS embed.FS

// PromptVariant selects how strictly free-text answers are judged.
type PromptVariant string

const (
	PromptStrict   PromptVariant = "strict"
	PromptStandard PromptVariant = "standard"
	PromptLenient  PromptVariant = "lenient"
)

// Variants lists every grading variant with a template.
var Variants = []PromptVariant{PromptStrict, PromptStandard, PromptLenient}

// IsValidVariant reports whether v names one of Variants.
func IsValidVariant(v string) bool {
	for _, known := range Variants {
		if string(known) == v {
			return true
		}
	}
	return false
}

const (
	defaultLanguage = "English"
	maxAnswerRunes  = 10000
	emptyAnswer     = "[No answer provided]"
	truncatedNote   = "\n\n[Answer truncated due to length]"
)

// Student text must not be able to close or open the delimiting tags.
var delimiterTag = regexp.MustCompile(`(?i)</?\s*(student-answer|system-instructions)\b[^>]*>`)

// GradeData fills a grading template.
type GradeData struct {
	QuestionText string
	Reference    string
	Analysis     string
	MaxScore     int
	Answer       string
	Language     string
}

// SummaryData fills the summary template.
type SummaryData struct {
	TotalScore    int
	MaxScore      int
	AnsweredCount int
	CorrectCount  int
	Language      string
}

// Percent is the score as a whole percentage of the maximum.
func (d SummaryData) Percent() int {
	if d.MaxScore <= 0 {
		return 0
	}
	return d.TotalScore * 100 / d.MaxScore
}

// Set is a parsed collection of prompt templates.
type Set struct {
	grade   map[PromptVariant]*template.Template
	summary *template.Template
}

// Load parses grade_<variant>.txt for every variant and summary.txt from
// the templates directory of fsys, normally FS.
func Load(fsys fs.FS) (*Set, error) {
	s := &Set{grade: make(map[PromptVariant]*template.Template, len(Variants))}
	for _, v := range Variants {
		tmpl, err := parseFile(fsys, "templates/grade_"+string(v)+".txt")
		if err != nil {
			return nil, err
		}
		s.grade[v] = tmpl
	}
	summary, err := parseFile(fsys, "templates/summary.txt")
	if err != nil {
		return nil, err
	}
	s.summary = summary
	return s, nil
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// Grade renders the grading prompt for one free-text answer. The answer is
// sanitized before it is embedded.
func (s *Set) Grade(variant PromptVariant, data GradeData) (string, error) {
	tmpl, ok := s.grade[variant]
	if !ok {
		return "", fmt.Errorf("unknown prompt variant %q", variant)
	}
	data.Answer = sanitizeAnswer(data.Answer)
	if data.Language == "" {
		data.Language = defaultLanguage
	}
	return render(tmpl, data)
}

// Summary renders the attempt summary prompt.
func (s *Set) Summary(data SummaryData) (string, error) {
	if data.Language == "" {
		data.Language = defaultLanguage
	}
	return render(s.summary, data)
}

func render(tmpl *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = strings.TrimSpace(delimiterTag.ReplaceAllString(answer, ""))
	if answer == "" {
		return emptyAnswer
	}
	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		answer = string([]rune(answer)[:maxAnswerRunes]) + truncatedNote
	}
	return answer
}
