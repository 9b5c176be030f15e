package authz

// Relation is the fixed vocabulary of edges in the authorization graph.
type Relation string

const (
	RelationReader         Relation = "reader"
	RelationWriter         Relation = "writer"
	RelationTriager        Relation = "triager"
	RelationMaintainer     Relation = "maintainer"
	RelationAdministrator  Relation = "administrator"
	RelationOwner          Relation = "owner"
	RelationMember         Relation = "member"
	RelationBillingManager Relation = "billing_manager"
	RelationCreator        Relation = "creator"
	RelationAssignee       Relation = "assignee"

	// catch-all relations granted on an organization to cover every
	// repository it owns
	RelationRepositoryReader Relation = "repository_reader"
	RelationRepositoryWriter Relation = "repository_writer"
	RelationRepositoryAdmin  Relation = "repository_admin"
)

var relations = map[Relation]struct{}{
	RelationReader:           {},
	RelationWriter:           {},
	RelationTriager:          {},
	RelationMaintainer:       {},
	RelationAdministrator:    {},
	RelationOwner:            {},
	RelationMember:           {},
	RelationBillingManager:   {},
	RelationCreator:          {},
	RelationAssignee:         {},
	RelationRepositoryReader: {},
	RelationRepositoryWriter: {},
	RelationRepositoryAdmin:  {},
}

func (r Relation) Valid() bool {
	_, ok := relations[r]
	return ok
}

func (r Relation) String() string {
	return string(r)
}

// RelationTuple is one (object, relation, subject) edge in the
// authorization graph, e.g. Repository:5#administrator@User:3. Object
// and Subject are canonical Zanzibar notation strings. Tuples are never
// mutated in place: a role change is delete-old plus write-new in one
// combined batch.
type RelationTuple struct {
	Object   string
	Relation Relation
	Subject  string
}

func (t RelationTuple) String() string {
	return t.Object + "#" + string(t.Relation) + "@" + t.Subject
}

// TupleFilter selects tuples in a Read scan. An empty field means any.
type TupleFilter struct {
	Object   string
	Relation Relation
	Subject  string
}

func (f TupleFilter) Matches(t RelationTuple) bool {
	if f.Object != "" && f.Object != t.Object {
		return false
	}
	if f.Relation != "" && f.Relation != t.Relation {
		return false
	}
	if f.Subject != "" && f.Subject != t.Subject {
		return false
	}
	return true
}
