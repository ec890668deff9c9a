package projection

import (
	"regexp"
	"strings"
)

// serviceNotice matches vendor call-outs such as
// 【如有问题请拨打速递官方客服956160，高效响应，快速解决】.
var serviceNotice = regexp.MustCompile(`【[^】]*客服\p{Nd}+[^】]*】`)

// Clean strips customer-service notices from an event text and collapses
// whitespace. Variants that do not match the notice pattern are kept.
func Clean(raw string) string {
	if raw == "" {
		return raw
	}
	s := serviceNotice.ReplaceAllString(raw, "")
	return strings.Join(strings.Fields(s), " ")
}

func CleanOptional(raw *string) *string {
	if raw == nil {
		return nil
	}
	s := Clean(*raw)
	return &s
}
