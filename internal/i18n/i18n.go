// Package i18n localizes the fixed messages of the exam service: error
// bodies, degraded grading outcomes and fallback summaries.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/pop8234333/exam-system/internal/grading"
)

//go:embed locales/*.json
var localeFS embed.FS

// Supported lists the languages with a locale file.
var Supported = []language.Tag{language.English, language.Chinese}

var matcher = language.NewMatcher(Supported)

type ctxKey struct{}

var (
	bundle      *i18n.Bundle
	defaultLang string
)

// Init builds the message bundle with lang as the default language. lang
// must match one of Supported.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}
	if _, _, conf := matcher.Match(tag); conf == language.No {
		return fmt.Errorf("unsupported language %q", lang)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(localeFS, "locales/*.json")
	if err != nil {
		return fmt.Errorf("list locale files: %w", err)
	}
	for _, name := range files {
		if _, err := b.LoadMessageFileFS(localeFS, name); err != nil {
			return fmt.Errorf("load %s: %w", path.Base(name), err)
		}
	}
	slog.Debug("locales loaded", "default", tag.String(), "files", len(files))

	bundle, defaultLang = b, tag.String()
	return nil
}

// NewLocalizer returns a localizer preferring langs in order, then the
// default language. Entries may be tags or Accept-Language values.
func NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, append(langs, defaultLang)...)
}

// WithLocalizer stores loc in ctx for T, Td and Tp.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer)
	if !ok {
		loc = NewLocalizer()
	}
	s, err := loc.Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}

// T translates msgID. Unknown ids come back unchanged.
func T(ctx context.Context, msgID string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID})
}

// Td translates msgID with template data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
}

// Tp translates a plural message; count is available to the template as .Count.
func Tp(ctx context.Context, msgID string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

// GradingMessages resolves the fixed grading strings for lang.
// Init must have been called.
func GradingMessages(lang string) grading.Messages {
	ctx := WithLocalizer(context.Background(), NewLocalizer(lang))
	return grading.Messages{
		GradingFailed: T(ctx, "GradingFailed"),
		NoAnswer:      T(ctx, "NoAnswer"),
		NoSubmission:  T(ctx, "NoSubmission"),
		PaperMissing:  T(ctx, "PaperMissing"),
		Completed: func(total, maxScore int) string {
			return Td(ctx, "SummaryFallback", map[string]any{"Score": total, "MaxScore": maxScore})
		},
	}
}
