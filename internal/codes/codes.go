// Package codes allocates human-readable sequential identifiers such as
// APT-000042, scoped per tenant and prefix.
package codes

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Width is the zero-padded width of the numeric part.
const Width = 6

// ErrInvalidScope is returned when tenant or prefix is empty.
var ErrInvalidScope = errors.New("codes: tenant and prefix are required")

// Allocator hands out the next code for a tenant/prefix. Implementations must
// never return the same code twice for the same scope.
type Allocator interface {
	Next(ctx context.Context, tenantID, prefix string) (string, error)
}

// Seeder reports the highest number already used for a tenant/prefix so a
// fresh counter continues from existing data. Zero means none exist.
type Seeder func(ctx context.Context, tenantID, prefix string) (int64, error)

// FormatCode renders PREFIX-000042.
func FormatCode(prefix string, n int64) string {
	return fmt.Sprintf("%s-%0*d", normalizePrefix(prefix), Width, n)
}

var trailingDigits = regexp.MustCompile(`(\d+)$`)

// ParseCode extracts the trailing digit run of a code. ok is false when the
// code has no trailing digits.
func ParseCode(code string) (int64, bool) {
	match := trailingDigits.FindStringSubmatch(strings.TrimSpace(code))
	if len(match) < 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// HighestNumber returns the largest trailing number among codes. Helper for
// seeders that scan candidate codes.
func HighestNumber(codes []string) int64 {
	var max int64
	for _, c := range codes {
		if n, ok := ParseCode(c); ok && n > max {
			max = n
		}
	}
	return max
}

func normalizePrefix(prefix string) string {
	return strings.ToUpper(strings.TrimSpace(prefix))
}

func validate(tenantID, prefix string) error {
	if strings.TrimSpace(tenantID) == "" || normalizePrefix(prefix) == "" {
		return ErrInvalidScope
	}
	return nil
}
