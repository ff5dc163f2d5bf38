package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// LoadState reads a previously emitted report at path. A missing or empty
// file yields an empty state. Presence columns are kept only for the given
// subdomains; other unknown columns are dropped. Rows without an email are
// skipped.
//
// A file with a duplicate email keeps the first row's position; later rows
// overwrite its fields and add their marks.
func LoadState(path string, subdomains []string) (*State, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, &PriorStateError{Path: path, Err: err}
	}
	defer f.Close()

	state, err := DecodeState(f, subdomains)
	if err != nil {
		return nil, &PriorStateError{Path: path, Err: err}
	}
	return state, nil
}

// DecodeState is LoadState over a reader. The input may start with a UTF-8
// or UTF-16 byte order mark.
func DecodeState(r io.Reader, subdomains []string) (*State, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)

	headers, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header row: %w", err)
	}

	tenantCols := make(map[string]bool, len(subdomains))
	for _, s := range subdomains {
		tenantCols[s] = true
	}

	index := make(map[string]int, len(headers))
	presence := make(map[int]string)
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if _, dup := index[h]; dup {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		index[h] = i
		if tenantCols[h] {
			presence[i] = h
		}
	}
	emailCol, ok := index["Email"]
	if !ok {
		return nil, errors.New(`missing "Email" column`)
	}

	field := func(record []string, name string) string {
		if i, ok := index[name]; ok {
			return record[i]
		}
		return ""
	}

	state := NewState()
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		email := strings.TrimSpace(record[emailCol])
		if email == "" {
			continue
		}

		row := &Row{
			Name:               field(record, "Name"),
			Email:              email,
			LastLogin:          field(record, "LastLogin"),
			DaysSinceLastLogin: field(record, "DaysSinceLastLogin"),
			UserType:           field(record, "UserType"),
			RoleType:           field(record, "RoleType"),
			AppendDate:         field(record, "AppendDate"),
		}
		for i, sub := range presence {
			if strings.EqualFold(strings.TrimSpace(record[i]), "X") {
				row.Mark(sub)
			}
		}

		if existing, ok := state.Get(email); ok {
			mergeLoaded(existing, row)
			continue
		}
		state.Insert(row)
	}

	return state, nil
}

func mergeLoaded(dst, src *Row) {
	dst.Name = src.Name
	dst.LastLogin = src.LastLogin
	dst.DaysSinceLastLogin = src.DaysSinceLastLogin
	dst.UserType = src.UserType
	dst.RoleType = src.RoleType
	dst.AppendDate = src.AppendDate
	for sub := range src.presence {
		dst.Mark(sub)
	}
}
