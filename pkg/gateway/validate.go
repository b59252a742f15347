package gateway

import (
	"fmt"
	"regexp"
	"time"

	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/types"
)

// Page-size ceilings per tool. Entity search is bounded by the fusion
// fan-out; the register feeds accept the upstream maximum.
const (
	maxEntityPerPage   = 25
	maxRegisterPerPage = 100
	defaultPerPage     = 20
)

var (
	businessKeyPattern      = regexp.MustCompile(`^\d{9}$`)
	establishmentKeyPattern = regexp.MustCompile(`^\d{14}$`)
)

// validBusinessKey checks the nine-digit national identifier. Passing
// the fourteen-digit establishment key instead is the most common
// caller mistake and gets its own message.
func validBusinessKey(key string) error {
	if businessKeyPattern.MatchString(key) {
		return nil
	}
	if establishmentKeyPattern.MatchString(key) {
		return guicherr.New(guicherr.KindValidation, "",
			fmt.Sprintf("%q is a 14-digit establishment key, expected the 9-digit business key", key))
	}
	return guicherr.New(guicherr.KindValidation, "",
		fmt.Sprintf("business key must be exactly 9 digits, got %q", key))
}

// normalizePaging applies paging defaults and enforces the per-tool
// ceiling. Zero means unset; an explicit out-of-range value is the
// caller's error.
func normalizePaging(page, perPage, ceiling int) (int, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage == 0 {
		perPage = defaultPerPage
	}
	if perPage < 1 || perPage > ceiling {
		return 0, 0, guicherr.New(guicherr.KindValidation, "", perPageMessage(ceiling))
	}
	return page, perPage, nil
}

func perPageMessage(ceiling int) string {
	return fmt.Sprintf("per_page must be between 1 and %d", ceiling)
}

// validDate checks an announcement date bound. Bounds are inclusive
// civil dates.
func validDate(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", value); err != nil {
		return guicherr.New(guicherr.KindValidation, "",
			fmt.Sprintf("%s must be a YYYY-MM-DD date, got %q", field, value))
	}
	return nil
}

var documentKinds = map[types.DocumentKind]bool{
	types.DocumentAct:        true,
	types.DocumentAccounts:   true,
	types.DocumentStatutes:   true,
	types.DocumentExtract:    true,
	types.DocumentFiscalCert: true,
	types.DocumentSocialCert: true,
}

func validDocumentKind(kind types.DocumentKind) error {
	if documentKinds[kind] {
		return nil
	}
	return guicherr.New(guicherr.KindValidation, "",
		fmt.Sprintf("unknown document kind %q", kind))
}
