package keyderive

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/ruteri/zk-keyservice/interfaces"
)

// Policy is the password policy. The form layer enforces it first; the
// deriver re-checks it so a weak password never reaches the KDF.
type Policy struct {
	MinLength     int  `yaml:"min_length"`
	RequireUpper  bool `yaml:"require_upper"`
	RequireLower  bool `yaml:"require_lower"`
	RequireDigit  bool `yaml:"require_digit"`
	RequireSymbol bool `yaml:"require_symbol"`
}

var DefaultPolicy = Policy{
	MinLength:     12,
	RequireUpper:  true,
	RequireLower:  true,
	RequireDigit:  true,
	RequireSymbol: true,
}

// Check returns an error wrapping interfaces.ErrWeakInput. The message never
// includes the password.
func (p Policy) Check(password string) error {
	if !utf8.ValidString(password) {
		return fmt.Errorf("%w: password is not valid UTF-8", interfaces.ErrWeakInput)
	}
	if n := utf8.RuneCountInString(password); n < p.MinLength || n == 0 {
		return fmt.Errorf("%w: password must be at least %d characters", interfaces.ErrWeakInput, max(p.MinLength, 1))
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	switch {
	case p.RequireUpper && !hasUpper:
		return fmt.Errorf("%w: password needs an upper-case letter", interfaces.ErrWeakInput)
	case p.RequireLower && !hasLower:
		return fmt.Errorf("%w: password needs a lower-case letter", interfaces.ErrWeakInput)
	case p.RequireDigit && !hasDigit:
		return fmt.Errorf("%w: password needs a digit", interfaces.ErrWeakInput)
	case p.RequireSymbol && !hasSymbol:
		return fmt.Errorf("%w: password needs a symbol", interfaces.ErrWeakInput)
	}
	return nil
}
