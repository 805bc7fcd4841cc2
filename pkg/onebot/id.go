package onebot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is an account, user or group number. Implementations disagree on whether
// ids travel as JSON numbers or numeric strings, so both are accepted. The zero
// value means "not present".
type ID int64

// ParseID converts a decimal string into an ID
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id \"%s\": %s", s, err)
	}
	return ID(n), nil
}

// IsSet returns true if the id is nonzero
func (id ID) IsSet() bool {
	return id != 0
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// MarshalJSON always emits a JSON number
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalJSON accepts a number, a numeric string, an empty string or null
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
		v, err := ParseID(s)
		if err != nil {
			return err
		}
		*id = v
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return fmt.Errorf("invalid id %s", string(b))
		}
		v = int64(f)
	}
	*id = ID(v)
	return nil
}
