package report

import "time"

// Clock supplies the run's current instant.
type Clock func() time.Time

// dateLayout is the AppendDate and DateChecked format.
const dateLayout = "2006-01-02"

// Row is one user in the report, keyed by Email.
type Row struct {
	Name               string
	Email              string
	LastLogin          string
	DaysSinceLastLogin string
	UserType           string
	RoleType           string
	AppendDate         string

	// presence holds the subdomains in which the user was seen with a
	// privileged role. It becomes one X/blank column per tenant on emit.
	presence map[string]struct{}
}

// Mark records the user as present in the tenant.
func (r *Row) Mark(subdomain string) {
	if r.presence == nil {
		r.presence = make(map[string]struct{})
	}
	r.presence[subdomain] = struct{}{}
}

// Present reports whether the user is marked in the tenant.
func (r *Row) Present(subdomain string) bool {
	_, ok := r.presence[subdomain]
	return ok
}

// PresenceCells projects presence onto the given tenant order.
func (r *Row) PresenceCells(subdomains []string) []string {
	cells := make([]string, len(subdomains))
	for i, s := range subdomains {
		if r.Present(s) {
			cells[i] = "X"
		}
	}
	return cells
}

// State is the set of report rows, iterated in insertion order.
type State struct {
	rows  map[string]*Row
	order []string
}

func NewState() *State {
	return &State{rows: make(map[string]*Row)}
}

// Get returns the row for email, if any.
func (s *State) Get(email string) (*Row, bool) {
	r, ok := s.rows[email]
	return r, ok
}

// Insert appends a row under its email. It reports false and changes nothing
// when the email is already present.
func (s *State) Insert(r *Row) bool {
	if _, ok := s.rows[r.Email]; ok {
		return false
	}
	s.rows[r.Email] = r
	s.order = append(s.order, r.Email)
	return true
}

// Len returns the number of rows.
func (s *State) Len() int { return len(s.order) }

// Rows returns the rows in insertion order.
func (s *State) Rows() []*Row {
	out := make([]*Row, len(s.order))
	for i, email := range s.order {
		out[i] = s.rows[email]
	}
	return out
}
