// Package datacommons holds the normalized result model shared by all
// query operations: the four state record shape, the value union and
// the typed views used to read merged responses.
package datacommons

// State tells how much a response actually said about an entity or
// about one of its properties. The states are ordered, merging keeps
// the most informative one.
type State int

const (
	// NotFetched means no request completed for this key.
	NotFetched State = iota
	// UnknownEntity means the key was requested but the response did
	// not mention it.
	UnknownEntity
	// NoData means the entity is known but nothing is recorded for
	// the property.
	NoData
	// HasData means at least one observation was recorded.
	HasData
)

func (s State) String() string {
	switch s {
	case UnknownEntity:
		return "unknown entity"
	case NoData:
		return "no data"
	case HasData:
		return "has data"
	default:
		return "not fetched"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func joinState(a, b State) State {
	if b > a {
		return b
	}
	return a
}

// Warning flags a response oddity that normalization absorbed instead
// of failing, such as duplicate entity keys within one page.
type Warning struct {
	Entity string `json:"entity,omitempty"`
	Detail string `json:"detail"`
}

func (w Warning) String() string {
	if w.Entity == "" {
		return w.Detail
	}
	return w.Entity + ": " + w.Detail
}

// Failure identifies a subset of the requested keys that could not be
// fetched and the error that stopped it, so callers can retry just
// that subset.
type Failure struct {
	Keys []string
	Err  error
}
