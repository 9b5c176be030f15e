package authz

import (
	"fmt"
	"strconv"
	"strings"
)

// Entity is anything with a stable numeric identity that can appear as
// object or subject of a relationship tuple. EntityType must return a
// constant, so it is callable on a zero value.
type Entity interface {
	EntityID() int64
	EntityType() string
}

// TypeName returns the entity type tag of T without needing an instance.
func TypeName[T Entity]() string {
	var zero T
	return zero.EntityType()
}

// ToZanzibarNotation renders "Type:Id" or, with a relation,
// "Type:Id#Relation".
func ToZanzibarNotation(entityType string, id int64, relation Relation) string {
	if relation == "" {
		return entityType + ":" + strconv.FormatInt(id, 10)
	}
	return entityType + ":" + strconv.FormatInt(id, 10) + "#" + string(relation)
}

// NotationFor renders an entity's canonical object/subject string.
func NotationFor(e Entity) string {
	return ToZanzibarNotation(e.EntityType(), e.EntityID(), "")
}

// FromZanzibarNotation parses "Type:Id" or "Type:Id#Relation". The
// notation is an internal wire format, never user input: a malformed
// string indicates a bug upstream and is a hard error.
func FromZanzibarNotation(s string) (entityType string, id int64, relation Relation, err error) {
	rest := s
	if idx := strings.Index(s, "#"); idx >= 0 {
		rest = s[:idx]
		relation = Relation(s[idx+1:])
		if relation == "" {
			return "", 0, "", fmt.Errorf("malformed zanzibar notation %q: empty relation", s)
		}
	}

	parts := strings.Split(rest, ":")
	if len(parts) != 2 {
		return "", 0, "", fmt.Errorf("malformed zanzibar notation %q: expected Type:Id", s)
	}
	if parts[0] == "" {
		return "", 0, "", fmt.Errorf("malformed zanzibar notation %q: empty type", s)
	}

	id, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id < 0 {
		return "", 0, "", fmt.Errorf("malformed zanzibar notation %q: non-numeric id", s)
	}

	return parts[0], id, relation, nil
}
