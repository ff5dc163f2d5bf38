package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strings"
)

// EncryptedTokenPrefix marks a token that must be decrypted before use.
const EncryptedTokenPrefix = "enc:"

// Tenant is one Zendesk account. Subdomain is its identity within a run.
type Tenant struct {
	Subdomain string
	Email     string
	Token     string // plaintext credential used for API calls
	RawToken  string // token exactly as written in the instances file
}

// Error is returned for any problem with the tenant configuration file.
// Such errors abort a run before any fetch happens.
type Error struct {
	Path  string
	Index int // 1-based instance position, 0 when the whole file is at fault
	Err   error
}

func (e *Error) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("tenant config %s: instance %d: %v", e.Path, e.Index, e.Err)
	}
	return fmt.Sprintf("tenant config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TokenDecrypter turns an encrypted token payload back into plaintext.
type TokenDecrypter interface {
	Decrypt(ciphertext string) (string, error)
}

type instancesFile struct {
	Instances []instanceXML `xml:"instance"`
}

type instanceXML struct {
	Subdomain string `xml:"subdomain"`
	Email     string `xml:"email"`
	Token     string `xml:"token"`
}

// LoadTenants reads the instances file at path. Every instance needs a
// non-empty subdomain, email and token, and subdomains must be unique.
// Tokens prefixed with "enc:" are decrypted with dec, which may be nil when
// no key is configured.
func LoadTenants(path string, dec TokenDecrypter) ([]Tenant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return ParseTenants(path, data, dec)
}

// ParseTenants is LoadTenants over already-read bytes. path is only used in
// error messages.
func ParseTenants(path string, data []byte, dec TokenDecrypter) ([]Tenant, error) {
	var doc instancesFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &Error{Path: path, Err: fmt.Errorf("parsing xml: %w", err)}
	}

	tenants := make([]Tenant, 0, len(doc.Instances))
	seen := make(map[string]int, len(doc.Instances))

	for i, inst := range doc.Instances {
		idx := i + 1
		t := Tenant{
			Subdomain: strings.TrimSpace(inst.Subdomain),
			Email:     strings.TrimSpace(inst.Email),
			RawToken:  strings.TrimSpace(inst.Token),
		}

		for _, f := range []struct{ name, val string }{
			{"subdomain", t.Subdomain},
			{"email", t.Email},
			{"token", t.RawToken},
		} {
			if f.val == "" {
				return nil, &Error{Path: path, Index: idx, Err: fmt.Errorf("missing required field %q", f.name)}
			}
		}

		if prev, dup := seen[t.Subdomain]; dup {
			return nil, &Error{Path: path, Index: idx, Err: fmt.Errorf("subdomain %q already used by instance %d", t.Subdomain, prev)}
		}
		seen[t.Subdomain] = idx

		t.Token = t.RawToken
		if strings.HasPrefix(t.RawToken, EncryptedTokenPrefix) {
			if dec == nil {
				return nil, &Error{Path: path, Index: idx, Err: errors.New("token is encrypted but no token key is configured")}
			}
			plain, err := dec.Decrypt(strings.TrimPrefix(t.RawToken, EncryptedTokenPrefix))
			if err != nil {
				return nil, &Error{Path: path, Index: idx, Err: fmt.Errorf("decrypting token: %w", err)}
			}
			t.Token = plain
		}

		tenants = append(tenants, t)
	}

	return tenants, nil
}

// Subdomains returns the tenant subdomains in configuration order.
func Subdomains(tenants []Tenant) []string {
	out := make([]string, len(tenants))
	for i, t := range tenants {
		out[i] = t.Subdomain
	}
	return out
}
