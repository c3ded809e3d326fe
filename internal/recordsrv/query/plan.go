package query

import (
	"github.com/recordum/recordum/internal/recordsrv/db/models"
	"github.com/recordum/recordum/pkg/types"
)

// Plan is a validated query ready for execution. Every scope alias is
// resolved, every field carries its schema type, and paging is clamped.
// Executors (the SQL backend and the in-memory backend) consume plans, never
// raw queries.
type Plan struct {
	RootEntity string
	RootSchema *models.EntitySchema
	// Links are in declaration order; a link's parent always precedes it.
	Links []ResolvedLink
	// Where is nil when the query carries no conditions.
	Where *PlanGroup
	Sort   []ResolvedSort
	Limit  int
	Offset int
	// OwnerSubject, when set, restricts results to records owned by the
	// subject. It is ANDed outside Where.
	OwnerSubject string
}

// ResolvedLink is a validated relation join.
type ResolvedLink struct {
	Alias         string
	ParentAlias   string // "" means the root
	RelationField string
	TargetEntity  string
	JoinType      JoinType
	Schema        *models.EntitySchema
}

// ResolvedFilter is a filter with its scope and schema type attached.
type ResolvedFilter struct {
	Alias     string // "" means the root
	Field     string
	Operator  Operator
	FieldType types.FieldType
	Value     types.Value
}

// PlanNode is the resolved condition-tree node union.
type PlanNode struct {
	Filter *ResolvedFilter
	Group  *PlanGroup
}

// PlanGroup is a resolved boolean group.
type PlanGroup struct {
	Mode  LogicalMode
	Nodes []PlanNode
}

// ResolvedSort is a sort entry with its scope and schema type attached.
type ResolvedSort struct {
	Alias     string // "" means the root
	Field     string
	FieldType types.FieldType
	Direction SortDirection
}

// LinkByAlias returns the resolved link for the alias.
func (p *Plan) LinkByAlias(alias string) (*ResolvedLink, bool) {
	for i := range p.Links {
		if p.Links[i].Alias == alias {
			return &p.Links[i], true
		}
	}
	return nil, false
}

// SchemaForAlias returns the schema governing the given scope.
func (p *Plan) SchemaForAlias(alias string) (*models.EntitySchema, bool) {
	if alias == "" || alias == RootAlias {
		return p.RootSchema, true
	}
	if l, ok := p.LinkByAlias(alias); ok {
		return l.Schema, true
	}
	return nil, false
}
