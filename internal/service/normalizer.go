package service

import (
	"regexp"
	"strings"
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	nonDigitRegex   = regexp.MustCompile(`\D+`)
)

// normalizeEmail lowercases and trims the provided email.
func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// normalizePhone removes non-digit characters to produce a canonical representation.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	plus := strings.HasPrefix(phone, "+")
	phone = nonDigitRegex.ReplaceAllString(phone, "")
	if phone == "" {
		return ""
	}
	if strings.HasPrefix(phone, "00") {
		phone = phone[2:]
		plus = true
	}
	if plus {
		return "+" + phone
	}
	return phone
}

func normalizeZip(zip string) string {
	return strings.ToUpper(whitespaceRegex.ReplaceAllString(strings.TrimSpace(zip), ""))
}

func normalizeCountry(country string) string {
	country = sanitizeString(country)
	if len(country) == 2 {
		return strings.ToUpper(country)
	}
	return country
}

// sanitizeString collapses whitespace and trims the result.
func sanitizeString(value string) string {
	value = whitespaceRegex.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}
