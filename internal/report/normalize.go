package report

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/alecgard/deskroster/internal/zendesk"
)

// lastLoginLayout is the only accepted last_login_at shape.
const lastLoginLayout = "2006-01-02T15:04:05Z"

// notApplicable is the DaysSinceLastLogin value for users who never logged in.
const notApplicable = "N/A"

// Reasons a fetched user is left out of the report.
const (
	SkipLightRole     = "role_type_1"
	SkipNotPrivileged = "not_privileged"
	SkipNoEmail       = "no_email"
)

// Normalizer turns fetched users into report rows stamped with the run's clock.
type Normalizer struct {
	Clock  Clock
	Logger *slog.Logger
}

// Normalize converts u into a Row with empty presence. When the user must
// not appear in the report it returns nil and the reason.
func (n Normalizer) Normalize(u zendesk.User) (*Row, string) {
	roleType := 0
	if u.RoleType != nil {
		roleType = *u.RoleType
	}
	if roleType == 1 {
		return nil, SkipLightRole
	}
	if u.Role != "agent" && u.Role != "admin" {
		return nil, SkipNotPrivileged
	}

	email := strings.TrimSpace(u.Email)
	if email == "" {
		return nil, SkipNoEmail
	}

	now := n.Clock()

	lastLogin := ""
	if u.LastLoginAt != nil && *u.LastLoginAt != "" {
		if _, ok := ParseLastLogin(*u.LastLoginAt); ok {
			lastLogin = *u.LastLoginAt
		} else {
			n.logger().Warn("unparseable last_login_at treated as absent", "email", email, "value", *u.LastLoginAt)
		}
	}

	return &Row{
		Name:               norm.NFC.String(strings.TrimSpace(u.Name)),
		Email:              email,
		LastLogin:          lastLogin,
		DaysSinceLastLogin: DaysSinceLastLogin(lastLogin, now),
		UserType:           u.Role,
		RoleType:           strconv.Itoa(roleType),
		AppendDate:         now.Format(dateLayout),
	}, ""
}

func (n Normalizer) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// ParseLastLogin parses s if it is exactly YYYY-MM-DDThh:mm:ssZ.
func ParseLastLogin(s string) (time.Time, bool) {
	// time.Parse tolerates fractional seconds the layout does not name.
	if len(s) != len(lastLoginLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(lastLoginLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DaysSinceLastLogin returns the whole days between lastLogin and now, "0"
// for anything under a day (including logins after now) and "N/A" when
// lastLogin is empty or unparseable.
func DaysSinceLastLogin(lastLogin string, now time.Time) string {
	t, ok := ParseLastLogin(lastLogin)
	if !ok {
		return notApplicable
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	return strconv.Itoa(int(d / (24 * time.Hour)))
}
