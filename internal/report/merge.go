package report

// MergeStats counts what a tenant batch did to the state.
type MergeStats struct {
	Added   int
	Updated int
}

// Merge folds one tenant's normalized rows into state, in order.
//
// A row whose email is already known overwrites the existing row's
// user-level fields, keeps its marks for every other tenant and gains a mark
// for subdomain. An unknown email is appended with a single mark. Calling
// Merge for each tenant in configuration order makes the last tenant that saw
// a user the source of its user-level fields.
func Merge(state *State, subdomain string, rows []*Row) MergeStats {
	var stats MergeStats

	for _, in := range rows {
		existing, ok := state.Get(in.Email)
		if !ok {
			in.Mark(subdomain)
			state.Insert(in)
			stats.Added++
			continue
		}

		existing.Name = in.Name
		existing.LastLogin = in.LastLogin
		existing.DaysSinceLastLogin = in.DaysSinceLastLogin
		existing.UserType = in.UserType
		existing.RoleType = in.RoleType
		existing.AppendDate = in.AppendDate
		existing.Mark(subdomain)
		stats.Updated++
	}

	return stats
}
