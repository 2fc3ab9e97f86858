package service

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/zlnvch/webnotes/models"
)

const (
	maxTitleLength   = 200
	maxContentLength = 100_000
	maxSearchTerms   = 8
)

func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return fmt.Errorf("%w: title longer than %d characters", ErrValidation, maxTitleLength)
	}
	return nil
}

func ValidateContent(content string) error {
	if utf8.RuneCountInString(content) > maxContentLength {
		return fmt.Errorf("%w: content longer than %d characters", ErrValidation, maxContentLength)
	}
	return nil
}

func ValidatePermission(permission models.Permission) error {
	if !permission.Valid() {
		return fmt.Errorf("%w: permission must be %q or %q", ErrValidation, models.PermissionRead, models.PermissionWrite)
	}
	return nil
}

func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: malformed email", ErrValidation)
	}
	return nil
}

// searchTerms lowercases and splits a query on whitespace, dropping repeats.
func searchTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, min(len(fields), maxSearchTerms))
	for _, f := range fields {
		if slices.Contains(terms, f) {
			continue
		}
		terms = append(terms, f)
		if len(terms) == maxSearchTerms {
			break
		}
	}
	return terms
}
