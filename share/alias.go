package bsshare

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AliasRule maps alternative command tokens onto a canonical one
type AliasRule struct {
	Canonical string
	Aliases   []string
}

// SelfAliased returns true if the canonical token is listed among its own
// aliases, which lets it pass through unchanged
func (r AliasRule) SelfAliased() bool {
	for _, a := range r.Aliases {
		if a == r.Canonical {
			return true
		}
	}
	return false
}

// AliasTable is an ordered list of alias rules. In JSON it is an object from
// canonical token to alias list; member order is significant and preserved.
type AliasTable []AliasRule

// UnmarshalJSON decodes the object form, keeping member order
func (t *AliasTable) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*t = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("alias table must be a JSON object")
	}
	var table AliasTable
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var aliases []string
		if err := dec.Decode(&aliases); err != nil {
			return fmt.Errorf("aliases of \"%s\": %s", key, err)
		}
		table = append(table, AliasRule{Canonical: key, Aliases: aliases})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*t = table
	return nil
}

// MarshalJSON encodes the object form in rule order
func (t AliasTable) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, r := range t {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(r.Canonical)
		if err != nil {
			return nil, err
		}
		aliases := r.Aliases
		if aliases == nil {
			aliases = []string{}
		}
		v, err := json.Marshal(aliases)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// aliasScope is one level of alias resolution
type aliasScope struct {
	name  string
	table AliasTable
}

// newAliasMarker returns a fresh opaque token that no framework will
// recognize as a command
func newAliasMarker() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// rewriteAlias evaluates the scopes in order against the start of text and
// applies the first matching rule. Within a rule the canonical token is
// checked before its aliases: a canonical token used verbatim is replaced by
// a fresh marker unless the rule lists it as its own alias. matched reports
// whether any rule applied, even one that left the text unchanged.
func rewriteAlias(scopes []aliasScope, text string, marker func() string) (result string, scope string, matched bool) {
	for _, s := range scopes {
		for _, rule := range s.table {
			if rule.Canonical != "" && strings.HasPrefix(text, rule.Canonical) && !rule.SelfAliased() {
				return marker() + text[len(rule.Canonical):], s.name, true
			}
			for _, alias := range rule.Aliases {
				if alias != "" && strings.HasPrefix(text, alias) {
					return rule.Canonical + text[len(alias):], s.name, true
				}
			}
		}
	}
	return text, "", false
}
