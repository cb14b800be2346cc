package validate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const specialChars = "@$!%*?&"

type PasswordPolicy struct {
	MinLength        int  `mapstructure:"min_length"`
	RequireUppercase bool `mapstructure:"require_uppercase"`
	RequireLowercase bool `mapstructure:"require_lowercase"`
	RequireNumbers   bool `mapstructure:"require_numbers"`
	RequireSpecial   bool `mapstructure:"require_special"`
}

var DefaultPasswordPolicy = PasswordPolicy{
	MinLength:        8,
	RequireUppercase: true,
	RequireLowercase: true,
	RequireNumbers:   true,
	RequireSpecial:   true,
}

// Check 返回所有未满足的规则，空切片表示通过
func (p PasswordPolicy) Check(pw string) []string {
	var missing []string
	if p.MinLength > 0 && utf8.RuneCountInString(pw) < p.MinLength {
		missing = append(missing, fmt.Sprintf("at least %d characters", p.MinLength))
	}
	if p.RequireUppercase && !strings.ContainsFunc(pw, unicode.IsUpper) {
		missing = append(missing, "one uppercase letter")
	}
	if p.RequireLowercase && !strings.ContainsFunc(pw, unicode.IsLower) {
		missing = append(missing, "one lowercase letter")
	}
	if p.RequireNumbers && !strings.ContainsFunc(pw, unicode.IsDigit) {
		missing = append(missing, "one number")
	}
	if p.RequireSpecial && !strings.ContainsAny(pw, specialChars) {
		missing = append(missing, "one special character ("+specialChars+")")
	}
	return missing
}
