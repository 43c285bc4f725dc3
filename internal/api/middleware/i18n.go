package middleware

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

// Context keys set by the I18n middleware
const (
	LanguageKey   = "language"
	TranslatorKey = "t"
)

// I18nConfig configures the translator
type I18nConfig struct {
	DefaultLanguage string
	LocalesDir      string
}

// Translator resolves message ids for the languages found in the locales directory
type Translator struct {
	bundle     *i18n.Bundle
	localizers map[string]*i18n.Localizer
	matcher    language.Matcher
	languages  []string
	fallback   string
}

// NewTranslator loads every <lang>.json file from the locales directory
func NewTranslator(config I18nConfig) (*Translator, error) {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "en"
	}
	if config.LocalesDir == "" {
		config.LocalesDir = "./web/locales"
	}

	defaultTag, err := language.Parse(config.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("invalid default language %q: %w", config.DefaultLanguage, err)
	}

	bundle := i18n.NewBundle(defaultTag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		bundle:     bundle,
		localizers: make(map[string]*i18n.Localizer),
		fallback:   config.DefaultLanguage,
	}

	files, err := os.ReadDir(config.LocalesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read locales: %w", err)
	}

	// the default language goes first so the matcher falls back to it
	tags := []language.Tag{defaultTag}
	t.languages = []string{config.DefaultLanguage}
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		langCode := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		if _, err := bundle.LoadMessageFile(filepath.Join(config.LocalesDir, file.Name())); err != nil {
			return nil, fmt.Errorf("failed to load locale %s: %w", file.Name(), err)
		}
		t.localizers[langCode] = i18n.NewLocalizer(bundle, langCode, config.DefaultLanguage)
		if langCode != config.DefaultLanguage {
			tags = append(tags, language.Make(langCode))
			t.languages = append(t.languages, langCode)
		}
	}
	if _, ok := t.localizers[config.DefaultLanguage]; !ok {
		return nil, fmt.Errorf("no locale file for default language %s", config.DefaultLanguage)
	}

	t.matcher = language.NewMatcher(tags)
	log.Infof("Loaded translations for %v", t.languages)
	return t, nil
}

// Languages returns the supported language codes, default first
func (t *Translator) Languages() []string {
	return t.languages
}

// Supports reports whether lang has a locale file
func (t *Translator) Supports(lang string) bool {
	_, ok := t.localizers[lang]
	return ok
}

// Translate returns the message for id, or id itself when it is missing
func (t *Translator) Translate(lang, id string, data map[string]interface{}) string {
	loc, ok := t.localizers[lang]
	if !ok {
		loc = t.localizers[t.fallback]
	}
	msg, err := loc.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil {
		log.Debugf("Missing translation %q for %s", id, lang)
		return id
	}
	return msg
}

// Negotiate picks a supported language from an Accept-Language header
func (t *Translator) Negotiate(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return t.fallback
	}
	_, index, confidence := t.matcher.Match(tags...)
	if confidence == language.No {
		return t.fallback
	}
	return t.languages[index]
}

// I18n selects the request language: ?lang= (remembered in the session),
// then the session, then Accept-Language, then the default. The chosen code
// and a translate function are stored in the gin context.
func I18n(translator *Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if lang != "" && translator.Supports(lang) {
			session.Set(LanguageKey, lang)
			if err := session.Save(); err != nil {
				log.WithError(err).Warn("Failed to save language in session")
			}
		} else if v, ok := session.Get(LanguageKey).(string); ok && translator.Supports(v) {
			lang = v
		} else {
			lang = translator.Negotiate(c.GetHeader("Accept-Language"))
		}

		c.Set(LanguageKey, lang)
		c.Set(TranslatorKey, func(id string) string {
			return translator.Translate(lang, id, nil)
		})
		c.Next()
	}
}
