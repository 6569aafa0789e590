package password

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
)

const (
	defaultMinLength    = 12
	defaultStrongLength = 16
	defaultSpecials     = "!@#$%^&*()-_=+[]{}|;:'\",.<>/?`~\\"

	// Score at which password considered strong enough by IsStrong
	DefaultMinScore = 3

	distinctRatio = 0.7
)

// Rule identifiers in the order they are checked
const (
	RuleMinLength = "min_length"
	RuleUppercase = "uppercase"
	RuleLowercase = "lowercase"
	RuleDigit     = "digit"
	RuleSpecial   = "special"
	RuleCommon    = "common"
)

type Strength string

const (
	StrengthWeak       Strength = "weak"
	StrengthMedium     Strength = "medium"
	StrengthStrong     Strength = "strong"
	StrengthVeryStrong Strength = "very_strong"
)

// Passwords everybody tries first
var defaultDenylist = []string{
	"password", "password1", "password123", "password1234", "password12345",
	"123456", "12345678", "123456789", "1234567890", "123456789012",
	"qwerty", "qwerty123", "qwertyuiop", "qwerty123456",
	"abc123", "letmein", "letmein123", "welcome", "welcome123", "welcome1234",
	"iloveyou", "admin", "admin123", "administrator", "monkey", "dragon",
	"football", "baseball", "sunshine", "princess", "trustno1", "master",
	"passw0rd", "p@ssw0rd", "p@ssword123", "p@ssw0rd1234", "changeme", "changeme123",
	"secret", "superman", "starwars", "1q2w3e4r", "1q2w3e4r5t6y", "zaq12wsx",
	"Password123!", "Passw0rd!", "Welcome123!", "Qwerty123!", "Admin@123456",
}

type Config struct {
	// Minimal password length in characters (not bytes)
	// If not set than default is used
	MinLength int

	// Length that gives one more score point
	// If not set than default is used
	StrongLength int

	// Characters treated as special ones
	// If not set than default is used
	Specials string

	// Common passwords, compared case-insensitively
	// If not set than default is used
	Denylist []string
}

// Violation of one policy rule
type Violation struct {
	Rule    string
	Message string
	Details map[string]any
}

func (v *Violation) Error() string {
	return v.Message
}

// DomainError converts violation into validation error that names the failed rule
func (v *Violation) DomainError() *apperrors.DomainError {
	e := apperrors.Validation("password", ruleSeq(v.Rule), v.Message)
	for key, value := range v.Details {
		e = e.WithDetail(key, value)
	}
	return e
}

// Policy validates and scores passwords
// Safe for concurrent use: it's never mutated after New
type Policy struct {
	minLength    int
	strongLength int
	specials     string
	denylist     map[string]struct{}
}

func New(cfg Config) *Policy {
	if cfg.MinLength <= 0 {
		cfg.MinLength = defaultMinLength
	}
	if cfg.StrongLength <= 0 {
		cfg.StrongLength = defaultStrongLength
	}
	if cfg.Specials == "" {
		cfg.Specials = defaultSpecials
	}
	if cfg.Denylist == nil {
		cfg.Denylist = defaultDenylist
	}

	denylist := make(map[string]struct{}, len(cfg.Denylist))
	for _, p := range cfg.Denylist {
		denylist[strings.ToLower(p)] = struct{}{}
	}

	return &Policy{
		minLength:    cfg.MinLength,
		strongLength: cfg.StrongLength,
		specials:     cfg.Specials,
		denylist:     denylist,
	}
}

// Validate returns the first violated rule or nil
func (p *Policy) Validate(password string) *Violation {
	violations := p.violations(password)
	if len(violations) == 0 {
		return nil
	}
	return &violations[0]
}

// Score is advisory and computable for any input, even invalid one
func (p *Policy) Score(password string) (Strength, int) {
	c := p.classify(password)
	score := 0

	if c.length >= p.minLength {
		score++
	}
	if c.length >= p.strongLength {
		score++
	}
	for _, has := range []bool{c.upper, c.lower, c.digit, c.special} {
		if has {
			score++
		}
	}
	if c.length > 0 && float64(c.distinct)/float64(c.length) >= distinctRatio {
		score++
	}
	if p.isCommon(password) {
		score -= 2
	}

	score = max(0, min(score, 4))

	switch score {
	case 4:
		return StrengthVeryStrong, score
	case 3:
		return StrengthStrong, score
	case 2:
		return StrengthMedium, score
	default:
		return StrengthWeak, score
	}
}

// IsStrong reports whether password passes validation and scores at least minScore
func (p *Policy) IsStrong(password string, minScore int) bool {
	if p.Validate(password) != nil {
		return false
	}
	_, score := p.Score(password)
	return score >= minScore
}

// Advisory password check result, safe to show to the user
type Report struct {
	Valid       bool
	Violation   *Violation
	Strength    Strength
	Score       int
	Suggestions []string
}

// Check combines Validate, Score and Suggestions
func (p *Policy) Check(password string) Report {
	strength, score := p.Score(password)
	v := p.Validate(password)

	return Report{
		Valid:       v == nil,
		Violation:   v,
		Strength:    strength,
		Score:       score,
		Suggestions: p.Suggestions(password),
	}
}

// Suggestions are hints for the user, one per failed rule.
// Only for UX, must not be used as security gate.
func (p *Policy) Suggestions(password string) []string {
	violations := p.violations(password)
	hints := make([]string, 0, len(violations)+1)

	for _, v := range violations {
		hints = append(hints, hint(v))
	}

	if strength, _ := p.Score(password); strength == StrengthWeak {
		hints = append(hints, "Consider a passphrase: several random words are easy to remember and hard to guess")
	}

	return hints
}

func (p *Policy) violations(password string) []Violation {
	c := p.classify(password)
	var violations []Violation

	if c.length < p.minLength {
		missing := p.minLength - c.length
		violations = append(violations, Violation{
			Rule:    RuleMinLength,
			Message: fmt.Sprintf("password must be at least %d characters long, %d more needed", p.minLength, missing),
			Details: map[string]any{"rule": RuleMinLength, "min_length": p.minLength, "missing": missing},
		})
	}
	if !c.upper {
		violations = append(violations, ruleViolation(RuleUppercase, "password must contain an uppercase letter"))
	}
	if !c.lower {
		violations = append(violations, ruleViolation(RuleLowercase, "password must contain a lowercase letter"))
	}
	if !c.digit {
		violations = append(violations, ruleViolation(RuleDigit, "password must contain a digit"))
	}
	if !c.special {
		violations = append(violations, ruleViolation(RuleSpecial, "password must contain a special character"))
	}
	if p.isCommon(password) {
		violations = append(violations, ruleViolation(RuleCommon, "password is too common"))
	}

	return violations
}

type classes struct {
	length   int
	distinct int
	upper    bool
	lower    bool
	digit    bool
	special  bool
}

func (p *Policy) classify(password string) classes {
	c := classes{length: utf8.RuneCountInString(password)}
	seen := make(map[rune]struct{}, c.length)

	for _, r := range password {
		seen[r] = struct{}{}
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		case strings.ContainsRune(p.specials, r):
			c.special = true
		}
	}
	c.distinct = len(seen)

	return c
}

func (p *Policy) isCommon(password string) bool {
	_, ok := p.denylist[strings.ToLower(password)]
	return ok
}

func ruleViolation(rule string, message string) Violation {
	return Violation{Rule: rule, Message: message, Details: map[string]any{"rule": rule}}
}

func ruleSeq(rule string) int {
	switch rule {
	case RuleMinLength:
		return 1
	case RuleUppercase:
		return 2
	case RuleLowercase:
		return 3
	case RuleDigit:
		return 4
	case RuleSpecial:
		return 5
	default:
		return 6
	}
}

func hint(v Violation) string {
	switch v.Rule {
	case RuleMinLength:
		return fmt.Sprintf("Add %v more characters", v.Details["missing"])
	case RuleUppercase:
		return "Add an uppercase letter (A-Z)"
	case RuleLowercase:
		return "Add a lowercase letter (a-z)"
	case RuleDigit:
		return "Add a digit (0-9)"
	case RuleSpecial:
		return "Add a special character such as ! @ # $ %"
	default:
		return "Avoid common passwords, they are the first ones attackers try"
	}
}
