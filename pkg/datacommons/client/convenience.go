package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/diwise/datacommons-client/pkg/datacommons"
)

// EntityName is one display name for an entity, together with the
// language it is in and the property it was fetched from.
type EntityName struct {
	Value    string `json:"value"`
	Language string `json:"language"`
	Property string `json:"property"`
}

// Parent is a direct parent of an entity in the containment hierarchy.
type Parent struct {
	DCID  string   `json:"dcid"`
	Name  string   `json:"name,omitempty"`
	Types []string `json:"types,omitempty"`
}

type nameParams struct {
	language          string
	fallbackToEnglish bool
}

// NameOption adjusts an entity name fetch.
type NameOption func(*nameParams)

// InLanguage requests names in the given language instead of English.
func InLanguage(language string) NameOption {
	return func(p *nameParams) {
		p.language = language
	}
}

// WithEnglishFallback falls back to the English name for entities that
// have no name in the requested language.
func WithEnglishFallback() NameOption {
	return func(p *nameParams) {
		p.fallbackToEnglish = true
	}
}

// FetchAllClasses fetches every class in the knowledge graph, i.e. all
// nodes with an inbound typeOf arc to Class.
func FetchAllClasses(ctx context.Context, c Client, options ...FetchOption) (*datacommons.NodeResult, error) {
	options = append(options, Inbound())
	return c.FetchPropertyValues(ctx, []string{"Class"}, []string{"typeOf"}, options...)
}

// FetchEntityNames fetches display names for the given entities. English
// names come from the name property. Other languages use nameWithLanguage,
// whose values carry "name@lang" tags. Entities without a usable name are
// left out of the returned map.
func FetchEntityNames(ctx context.Context, c Client, entities []string, options ...NameOption) (map[string]EntityName, error) {
	params := nameParams{language: "en"}

	for _, option := range options {
		option(&params)
	}

	nameProperty := "name"
	if params.language != "en" {
		nameProperty = "nameWithLanguage"
	}

	result, err := c.FetchPropertyValues(ctx, entities, []string{nameProperty})
	if err != nil {
		return nil, err
	}

	names := map[string]EntityName{}

	for _, entity := range result.Entities() {
		observations := result.ByEntity(entity).Property(nameProperty).Observations()

		if params.language == "en" {
			if name, ok := firstText(observations); ok {
				names[entity] = EntityName{Value: name, Language: "en", Property: nameProperty}
			}
			continue
		}

		if name, language, ok := nameInLanguage(observations, params.language, params.fallbackToEnglish); ok {
			names[entity] = EntityName{Value: name, Language: language, Property: nameProperty}
		}
	}

	return names, nil
}

// FetchEntityParents fetches the direct parents of the given entities via
// the containedInPlace property. Entities without parents are left out of
// the returned map.
func FetchEntityParents(ctx context.Context, c Client, entities []string) (map[string][]Parent, error) {
	result, err := c.FetchPropertyValues(ctx, entities, []string{"containedInPlace"})
	if err != nil {
		return nil, err
	}

	parents := map[string][]Parent{}

	for _, entity := range result.Entities() {
		for _, o := range result.ByEntity(entity).Property("containedInPlace").Observations() {
			ref, ok := o.Value.Entity()
			if !ok {
				continue
			}

			parents[entity] = append(parents[entity], Parent{DCID: ref.DCID, Name: ref.Name, Types: ref.Types})
		}
	}

	return parents, nil
}

// ResolveDCIDsByName resolves place names or descriptions to dcids,
// optionally constrained to a single entity type. Names that did not
// resolve are left out of the returned map.
func ResolveDCIDsByName(ctx context.Context, c Client, names []string, entityType string) (map[string][]string, error) {
	expression := "<-description->dcid"
	if entityType != "" {
		expression = fmt.Sprintf("<-description{typeOf:%s}->dcid", entityType)
	}

	return resolveToDCIDs(ctx, c, names, expression)
}

// ResolveDCIDsByWikidataID resolves Wikidata identifiers to dcids.
func ResolveDCIDsByWikidataID(ctx context.Context, c Client, ids []string) (map[string][]string, error) {
	return resolveToDCIDs(ctx, c, ids, "<-wikidataId->dcid")
}

// ResolveDCIDByCoordinates resolves a latitude/longitude pair to the dcid
// of the place containing it, or an empty string when nothing matched.
func ResolveDCIDByCoordinates(ctx context.Context, c Client, latitude, longitude string) (string, error) {
	node := fmt.Sprintf("%s#%s", latitude, longitude)

	result, err := c.Resolve(ctx, []string{node}, "<-geoCoordinate->dcid")
	if err != nil {
		return "", err
	}

	dcids := result.DCIDs(node)
	if len(dcids) == 0 {
		return "", nil
	}

	return dcids[0], nil
}

func resolveToDCIDs(ctx context.Context, c Client, nodes []string, expression string) (map[string][]string, error) {
	result, err := c.Resolve(ctx, nodes, expression)
	if err != nil {
		return nil, err
	}

	resolved := map[string][]string{}

	for _, node := range nodes {
		if dcids := result.DCIDs(node); len(dcids) > 0 {
			resolved[node] = dcids
		}
	}

	return resolved, nil
}

func firstText(observations []datacommons.Observation) (string, bool) {
	if len(observations) == 0 {
		return "", false
	}

	name, ok := observations[0].Value.Text()
	return name, ok && name != ""
}

// nameInLanguage picks the name tagged with the wanted language from a
// set of "name@lang" values, optionally falling back to the English one.
func nameInLanguage(observations []datacommons.Observation, language string, fallbackToEnglish bool) (string, string, bool) {
	fallback := ""

	for _, o := range observations {
		value, ok := o.Value.Text()
		if !ok {
			continue
		}

		at := strings.LastIndex(value, "@")
		if at < 0 {
			continue
		}

		name, lang := value[:at], value[at+1:]

		if lang == language {
			return name, lang, true
		}

		if lang == "en" {
			fallback = name
		}
	}

	if fallbackToEnglish && fallback != "" {
		return fallback, "en", true
	}

	return "", "", false
}
