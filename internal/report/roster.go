package report

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/alecgard/deskroster/internal/config"
)

// RosterColumns is the tenant roster header.
var RosterColumns = []string{"Subdomain", "Email", "Token", "DateChecked"}

// EncodeRoster writes one row per tenant with the token as it appears in the
// instances file, or masked when mask is set.
func EncodeRoster(w io.Writer, tenants []config.Tenant, now time.Time, mask bool) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RosterColumns); err != nil {
		return err
	}

	checked := now.Format(dateLayout)
	for _, t := range tenants {
		token := t.RawToken
		if mask {
			token = MaskToken(token)
		}
		if err := cw.Write([]string{t.Subdomain, t.Email, token, checked}); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteRoster replaces the roster file at path.
func WriteRoster(path string, tenants []config.Tenant, now time.Time, mask bool) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		return EncodeRoster(w, tenants, now, mask)
	})
}

// MaskToken keeps the last four characters of tok and stars out the rest.
func MaskToken(tok string) string {
	r := []rune(tok)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}
