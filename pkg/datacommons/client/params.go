package client

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/diwise/datacommons-client/pkg/datacommons/errors"
)

// Date markers for observation queries. The zero value asks for the most
// recent observation per facet. DateAll asks for the full series, which
// the wire encodes as an empty date.
const (
	DateLatest string = "LATEST"
	DateAll    string = "ALL"
)

var selectableFields = []string{"date", "entity", "facet", "value", "variable"}

// ObservationQuery describes one observation fetch. Variables is required.
// Exactly one of Entities and EntityExpression must be set: either an
// explicit set of entity dcids, or a graph expression such as
// "geoId/06<-containedInPlace+{typeOf:County}" that the API expands
// server side.
type ObservationQuery struct {
	Variables        []string
	Entities         []string
	EntityExpression string

	// Date selects which observations to return: DateLatest (the
	// default), DateAll, or a literal date string such as "2023".
	Date string

	// Select lists the response fields to populate. Empty means
	// date, entity, variable and value. Entity and variable are
	// mandatory whenever Select is given.
	Select []string

	FacetIDs []string
	Domains  []string
}

func (q ObservationQuery) normalized() (ObservationQuery, error) {
	if len(q.Variables) == 0 {
		return q, errors.NewInvalidQuery("an observation query requires at least one variable")
	}

	hasEntities := len(q.Entities) > 0
	hasExpression := strings.TrimSpace(q.EntityExpression) != ""

	if hasEntities && hasExpression {
		return q, errors.NewInvalidQuery("entity dcids and an entity expression are mutually exclusive")
	}

	if !hasEntities && !hasExpression {
		return q, errors.NewInvalidQuery("an observation query requires entity dcids or an entity expression")
	}

	if len(q.Select) == 0 {
		q.Select = []string{"date", "entity", "variable", "value"}
	}

	q.Select = canonicalize(q.Select)

	for _, field := range q.Select {
		if !slices.Contains(selectableFields, field) {
			return q, errors.NewInvalidQuery(fmt.Sprintf("unknown select field %q", field))
		}
	}

	if !slices.Contains(q.Select, "entity") || !slices.Contains(q.Select, "variable") {
		return q, errors.NewInvalidQuery("select must include entity and variable")
	}

	return q, nil
}

func wireDate(date string) string {
	switch date {
	case "", DateLatest:
		return DateLatest
	case DateAll:
		return ""
	default:
		return date
	}
}

type fetchParams struct {
	inbound    bool
	constraint string
	singlePage bool
	pageToken  string
}

// FetchOption adjusts a single node fetch.
type FetchOption func(*fetchParams)

func newFetchParams(options ...FetchOption) fetchParams {
	params := fetchParams{}

	for _, option := range options {
		option(&params)
	}

	return params
}

// Inbound follows arcs that point at the queried nodes instead of arcs
// that leave them.
func Inbound() FetchOption {
	return func(p *fetchParams) {
		p.inbound = true
	}
}

// Constraint narrows a property fetch to values matching the given filter
// expression, e.g. "typeOf:City".
func Constraint(expression string) FetchOption {
	return func(p *fetchParams) {
		p.constraint = expression
	}
}

// FirstPageOnly fetches exactly one page and surfaces the continuation
// token on the result instead of following it.
func FirstPageOnly() FetchOption {
	return func(p *fetchParams) {
		p.singlePage = true
	}
}

// ResumeFrom continues from a token returned by an earlier FirstPageOnly
// call. Implies FirstPageOnly.
func ResumeFrom(token string) FetchOption {
	return func(p *fetchParams) {
		p.singlePage = true
		p.pageToken = token
	}
}

// propertyExpression builds the relation expression for a property value
// fetch: "->name", "<-[name, typeOf]" or "->containedInPlace{typeOf:City}".
func propertyExpression(properties []string, inbound bool, constraint string) string {
	expression := properties[0]
	if len(properties) > 1 {
		expression = "[" + strings.Join(properties, ", ") + "]"
	}

	if constraint != "" {
		expression += "{" + constraint + "}"
	}

	return direction(inbound) + expression
}

func direction(inbound bool) string {
	if inbound {
		return "<-"
	}

	return "->"
}

// canonicalize dedupes and sorts an identifier set. Queries treat the set
// as unordered, so a canonical order keeps chunking and output stable.
func canonicalize(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}

	canonical := slices.Clone(keys)
	sort.Strings(canonical)

	return slices.Compact(canonical)
}
