package types

import (
	"bytes"
	"encoding/json"
	"sort"
)

// duplicateKeys returns, sorted, the keys that occur more than once in the
// object found at path inside raw. encoding/json keeps the last value for
// a repeated key without complaint, so the check walks the raw token
// stream instead.
func duplicateKeys(raw []byte, path ...string) []string {
	obj := objectAt(raw, path)
	if obj == nil {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(obj))

	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil
	}

	seen := map[string]int{}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}

		key, ok := tok.(string)
		if !ok {
			return nil
		}

		seen[key]++

		if err := skipValue(dec); err != nil {
			return nil
		}
	}

	dups := make([]string, 0, len(seen))
	for key, count := range seen {
		if count > 1 {
			dups = append(dups, key)
		}
	}

	if len(dups) == 0 {
		return nil
	}

	sort.Strings(dups)

	return dups
}

// skipValue consumes exactly one JSON value from the decoder.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if tok != json.Delim('{') && tok != json.Delim('[') {
		return nil
	}

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}

		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}

	return nil
}

// objectAt descends through the members named by path and returns the raw
// bytes of the object found there, or nil if the path does not lead to an
// object.
func objectAt(raw []byte, path []string) []byte {
	current := json.RawMessage(raw)

	for _, key := range path {
		members := map[string]json.RawMessage{}
		if err := json.Unmarshal(current, &members); err != nil {
			return nil
		}

		next, ok := members[key]
		if !ok {
			return nil
		}

		current = next
	}

	trimmed := bytes.TrimSpace(current)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	return trimmed
}
