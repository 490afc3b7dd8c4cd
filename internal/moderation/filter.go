package moderation

import (
	"regexp"
	"sync"
)

var BannedWords = []string{
	"fuck", "fucking", "fucker", "shit", "shitty", "bullshit",
	"ass", "asshole", "bastard", "bitch", "cunt",
	"nigger", "nigga", "chink", "spic", "kike", "faggot", "fag",
	"retard", "retarded", "tranny",
	"porn", "porno", "nude", "nudes",
	"spam", "scam", "scammer", "phishing", "malware",
}

// Filter screens free-text content (submissions, questions, captions)
// before it is written. Patterns are compiled once.
type Filter struct {
	bannedWordRegexps   []*regexp.Regexp
	urlPattern          *regexp.Regexp
	emailPattern        *regexp.Regexp
	phonePattern        *regexp.Regexp
	repeatedCharPattern *regexp.Regexp
	allCapsPattern      *regexp.Regexp
	compiled            bool
	mu                  sync.RWMutex
}

func NewFilter() *Filter {
	f := &Filter{}
	f.compilePatterns()
	return f
}

func (f *Filter) compilePatterns() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.compiled {
		return
	}

	f.bannedWordRegexps = make([]*regexp.Regexp, 0, len(BannedWords))
	for _, word := range BannedWords {
		pattern := `(?i)\b` + regexp.QuoteMeta(word) + `\b`
		re, err := regexp.Compile(pattern)
		if err == nil {
			f.bannedWordRegexps = append(f.bannedWordRegexps, re)
		}
	}

	f.urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+\.\S+)`)
	f.emailPattern = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)
	f.phonePattern = regexp.MustCompile(`\d{3}[-.\s]?\d{3}[-.\s]?\d{4}|\(\d{3}\)\s*\d{3}[-.\s]?\d{4}`)
	f.repeatedCharPattern = regexp.MustCompile(`(?i)(a{4,}|b{4,}|c{4,}|d{4,}|e{4,}|f{4,}|g{4,}|h{4,}|i{4,}|j{4,}|k{4,}|l{4,}|m{4,}|n{4,}|o{4,}|p{4,}|q{4,}|r{4,}|s{4,}|t{4,}|u{4,}|v{4,}|w{4,}|x{4,}|y{4,}|z{4,}|!{4,}|\?{4,}|\.{4,})`)
	f.allCapsPattern = regexp.MustCompile(`[A-Z]{5,}`)
	f.compiled = true
}

// Check returns ok=false with a reason code when the text violates content
// rules.
func (f *Filter) Check(text string) (bool, string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if text == "" {
		return true, ""
	}
	for _, re := range f.bannedWordRegexps {
		if re.MatchString(text) {
			return false, "inappropriate_language"
		}
	}
	if f.urlPattern.MatchString(text) {
		return false, "url_not_allowed"
	}
	if f.emailPattern.MatchString(text) {
		return false, "contact_info_not_allowed"
	}
	if f.phonePattern.MatchString(text) {
		return false, "contact_info_not_allowed"
	}
	if f.repeatedCharPattern.MatchString(text) {
		return false, "spam_detected"
	}
	capsMatches := f.allCapsPattern.FindAllString(text, -1)
	if len(capsMatches) > 2 {
		return false, "excessive_caps"
	}
	return true, ""
}

// RejectionMessage maps a reason code to a user-facing message.
func (f *Filter) RejectionMessage(reason string) string {
	messages := map[string]string{
		"inappropriate_language":   "Your content contains inappropriate language.",
		"url_not_allowed":          "URLs and web links are not allowed.",
		"contact_info_not_allowed": "Contact information is not allowed.",
		"spam_detected":            "Your content appears to be spam.",
		"excessive_caps":           "Please avoid using excessive capital letters.",
	}
	if msg, ok := messages[reason]; ok {
		return msg
	}
	return "Your content does not meet our guidelines."
}
