package validate

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"fleet-api/internal/domain"
)

var (
	emailRe  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	nonDigit = regexp.MustCompile(`[^0-9]`)
)

var allowedRoles = map[string]struct{}{"user": {}, "admin": {}}

func Email(s string) bool { return emailRe.MatchString(strings.TrimSpace(s)) }

// Phone 可选字段：空串视为合法
func Phone(s string) bool {
	if s == "" {
		return true
	}
	n := len(nonDigit.ReplaceAllString(s, ""))
	return n >= 7 && n <= 20
}

func Role(s string) bool {
	_, ok := allowedRoles[strings.TrimSpace(s)]
	return ok
}

// RolesParam 解析 ?role=user,admin；含未知角色时 ok=false
func RolesParam(s string) ([]string, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, true
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !Role(p) {
			return nil, false
		}
		out = append(out, p)
	}
	return out, true
}

type IntResult struct {
	Valid bool
	Value int
	Error string
}

func PositiveInt(raw string) IntResult {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return IntResult{Error: "ID is required"}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return IntResult{Error: "ID must be a number"}
	}
	if f != math.Trunc(f) {
		return IntResult{Error: "ID must be an integer"}
	}
	if f <= 0 {
		return IntResult{Error: "ID must be a positive number"}
	}
	if f > math.MaxInt32 {
		return IntResult{Error: "Invalid ID format"}
	}
	return IntResult{Valid: true, Value: int(f)}
}

type PageDefaults struct {
	Page     int `mapstructure:"default_page"`
	Limit    int `mapstructure:"default_limit"`
	MaxLimit int `mapstructure:"max_limit"`
}

var DefaultPaging = PageDefaults{Page: 1, Limit: 10, MaxLimit: 100}

// PageLimit 非法/缺省值回落到默认，limit 截断到 MaxLimit
func PageLimit(page, limit string, d PageDefaults) domain.Page {
	if d.Page <= 0 {
		d.Page = DefaultPaging.Page
	}
	if d.Limit <= 0 {
		d.Limit = DefaultPaging.Limit
	}
	if d.MaxLimit <= 0 {
		d.MaxLimit = DefaultPaging.MaxLimit
	}
	p := d.Page
	if r := PositiveInt(page); r.Valid {
		p = r.Value
	}
	l := d.Limit
	if r := PositiveInt(limit); r.Valid {
		l = r.Value
	}
	if l > d.MaxLimit {
		l = d.MaxLimit
	}
	return domain.Page{Page: p, Limit: l, Offset: (p - 1) * l}
}

func TotalPages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

const maxQueryLen = 200

func SanitizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) > maxQueryLen {
		q = string([]rune(q)[:maxQueryLen])
	}
	return q
}

func Coordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Text 必填 + 长度区间（按字符计），合法返回空串
func Text(field, v string, min, max int) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return field + " is required"
	}
	if n := utf8.RuneCountInString(v); n < min || n > max {
		return fmt.Sprintf("%s must be between %d and %d characters", field, min, max)
	}
	return ""
}

func NormalizePlate(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func NormalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
