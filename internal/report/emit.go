package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Columns is the fixed prefix of the user report header. Tenant subdomains
// follow in configuration order.
var Columns = []string{"Name", "Email", "LastLogin", "DaysSinceLastLogin", "UserType", "RoleType", "AppendDate"}

// Header returns the full user report header for the given tenants.
func Header(subdomains []string) []string {
	h := make([]string, 0, len(Columns)+len(subdomains))
	h = append(h, Columns...)
	return append(h, subdomains...)
}

// EncodeState writes state as CSV with one presence column per subdomain.
func EncodeState(w io.Writer, state *State, subdomains []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(subdomains)); err != nil {
		return err
	}

	for _, r := range state.Rows() {
		record := append([]string{
			r.Name,
			r.Email,
			r.LastLogin,
			r.DaysSinceLastLogin,
			r.UserType,
			r.RoleType,
			r.AppendDate,
		}, r.PresenceCells(subdomains)...)
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteState replaces the file at path with the encoded state. The old file
// stays intact if writing fails.
func WriteState(path string, state *State, subdomains []string) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		return EncodeState(w, state, subdomains)
	})
}

// writeFileAtomic writes to a temp file beside path and renames it into
// place, so readers never see a half-written report.
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return &EmitError{Path: path, Err: err}
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		return &EmitError{Path: path, Err: err}
	}
	if err := tmp.Chmod(0o644); err != nil {
		return &EmitError{Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		return &EmitError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &EmitError{Path: path, Err: fmt.Errorf("closing temp file: %w", err)}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &EmitError{Path: path, Err: err}
	}
	return nil
}
