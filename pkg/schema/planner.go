package schema

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// TargetRole is the part a data-implicit edge's target plays in a fact table.
type TargetRole string

const (
	RoleAnalyte  TargetRole = "analyte"
	RoleSample   TargetRole = "sample"
	RoleMetadata TargetRole = "metadata"
)

func (r TargetRole) valid() bool {
	switch r {
	case RoleAnalyte, RoleSample, RoleMetadata:
		return true
	}
	return false
}

// DefaultSkipFields are base-node fields that never become columns.
var DefaultSkipFields = []string{"sources", "xref", "provenance"}

type Options struct {
	SkipFields []string
	// Overrides pins the role of a target collection, bypassing the topology heuristic.
	Overrides map[string]TargetRole
}

// FieldColumn maps one source field to its destination column.
type FieldColumn struct {
	Field  string `json:"field"`
	Column string `json:"column"`
	// JSON marks nested values that are stored serialized.
	JSON bool `json:"json,omitempty"`
}

// ChildPlan describes the table fed by one repeated field.
type ChildPlan struct {
	Field string `json:"field"`
	Table *Table `json:"table"`
	// Scalar children store each element in a value column.
	Scalar   bool          `json:"scalar"`
	Columns  []FieldColumn `json:"columns,omitempty"`
	Children []ChildPlan   `json:"children,omitempty"`
}

// HasSurrogateKey reports whether rows need an allocated integer id so that
// grandchild rows can reference them.
func (c ChildPlan) HasSurrogateKey() bool {
	return len(c.Children) > 0
}

// CollectionPlan is how one source collection lands in the destination.
type CollectionPlan struct {
	Descriptor Descriptor    `json:"-"`
	Collection string        `json:"collection"`
	Table      *Table        `json:"table,omitempty"`
	Columns    []FieldColumn `json:"columns"`
	Children   []ChildPlan   `json:"children,omitempty"`
	// DataImplicit edges have no link table; their content lives in fact tables.
	DataImplicit bool `json:"data_implicit,omitempty"`
}

type Target struct {
	Collection string `json:"collection"`
	Table      string `json:"table"`
	Edge       string `json:"edge"`
}

// FactPlan is one melted fact table.
type FactPlan struct {
	Table            *Table  `json:"table"`
	ParentCollection string  `json:"parent_collection"`
	ParentTable      string  `json:"parent_table"`
	Analyte          Target  `json:"analyte"`
	Sample           *Target `json:"sample,omitempty"`
}

func (f FactPlan) ParentColumn() string  { return f.ParentTable + "_id" }
func (f FactPlan) AnalyteColumn() string { return f.Analyte.Table + "_id" }

// ColumnLabelColumn is the column holding matrix column labels: the sample
// foreign key, or column_name without a sample dimension.
func (f FactPlan) ColumnLabelColumn() string {
	if f.Sample != nil {
		return f.Sample.Table + "_id"
	}
	return "column_name"
}

func (f FactPlan) Columns() []string {
	return []string{f.ParentColumn(), f.AnalyteColumn(), f.ColumnLabelColumn(), "value"}
}

type Plan struct {
	// Tables are ordered so that every referenced table precedes its referrers.
	Tables            []*Table                   `json:"tables"`
	Collections       map[string]*CollectionPlan `json:"collections"`
	Order             []string                   `json:"order"`
	DataImplicitEdges map[string]bool            `json:"data_implicit_edges"`
	Facts             []FactPlan                 `json:"facts"`
}

func (p *Plan) Table(name string) (*Table, bool) {
	for _, t := range p.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// FactsFor returns the fact plans of one file-reference collection.
func (p *Plan) FactsFor(parent string) []FactPlan {
	var facts []FactPlan
	for _, f := range p.Facts {
		if f.ParentCollection == parent {
			facts = append(facts, f)
		}
	}
	return facts
}

// Planner turns collection descriptors into a relational layout.
type Planner struct {
	logger  ectologger.Logger
	skip    map[string]bool
	options Options
}

func NewPlanner(logger ectologger.Logger, options Options) *Planner {
	if options.SkipFields == nil {
		options.SkipFields = DefaultSkipFields
	}
	skip := make(map[string]bool, len(options.SkipFields))
	for _, f := range options.SkipFields {
		skip[f] = true
	}
	return &Planner{logger: logger, skip: skip, options: options}
}

// Plan computes the full layout. Data-implicit edges are resolved before any
// link table is planned.
func (p *Planner) Plan(ctx context.Context, descriptors []Descriptor) (*Plan, error) {
	ctx, span := tracing.StartSpan(ctx, "Planner.Plan", attribute.Int("collections", len(descriptors)))
	defer span.End()

	byName, err := IndexDescriptors(descriptors)
	if err != nil {
		return nil, err
	}
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	for collection, role := range p.options.Overrides {
		if !role.valid() {
			return nil, kgerrors.Newf(kgerrors.KindSchemaInference, "invalid classification override %q", role).WithCollection(collection)
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	plan := &Plan{
		Collections:       make(map[string]*CollectionPlan, len(names)),
		Order:             names,
		DataImplicitEdges: make(map[string]bool),
	}

	fileRefs := make(map[string]bool)
	var edges []Descriptor
	for _, name := range names {
		d := byName[name]
		if d.IsFileReference() {
			fileRefs[name] = true
		}
		if d.IsEdge() {
			edges = append(edges, d)
		}
	}

	facts, err := p.planFacts(ctx, names, byName, edges, fileRefs, plan.DataImplicitEdges)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	used := make(map[string]string)
	claim := func(table, collection string) error {
		if owner, taken := used[table]; taken {
			return kgerrors.Newf(kgerrors.KindSchemaInference, "table %s is planned for both %s and %s", table, owner, collection).
				WithCollection(collection).WithTable(table)
		}
		used[table] = collection
		return nil
	}

	for _, name := range names {
		d := byName[name]
		if !d.IsDocument() {
			continue
		}
		cp, tables := p.planDocument(d)
		for _, t := range tables {
			if err := claim(t.Name, name); err != nil {
				return nil, err
			}
		}
		plan.Collections[name] = cp
		plan.Tables = append(plan.Tables, tables...)
	}

	for _, d := range edges {
		if plan.DataImplicitEdges[d.Name] {
			plan.Collections[d.Name] = &CollectionPlan{Descriptor: d, Collection: d.Name, DataImplicit: true}
			continue
		}
		tableName := edgeTableName(d.FromCollections[0], d.ToCollections[0])
		if _, taken := used[tableName]; taken {
			tableName = SnakeCase(d.Name)
		}
		if err := claim(tableName, d.Name); err != nil {
			return nil, err
		}
		cp := p.planEdge(d, tableName)
		plan.Collections[d.Name] = cp
		plan.Tables = append(plan.Tables, cp.Table)
	}

	for _, f := range facts {
		if err := claim(f.Table.Name, f.ParentCollection); err != nil {
			return nil, err
		}
		plan.Tables = append(plan.Tables, f.Table)
	}
	plan.Facts = facts

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"collections":         len(names),
		"tables":              len(plan.Tables),
		"data_implicit_edges": len(plan.DataImplicitEdges),
		"fact_tables":         len(facts),
	}).Info("planned relational schema")

	return plan, nil
}

// Classify returns the role of target collection, counting the distinct
// non-file-reference collections with an edge into it: none is an analyte,
// one is a sample dimension and more is a metadata entity.
func (p *Planner) Classify(target string, edges []Descriptor, fileRefs map[string]bool) TargetRole {
	if role, ok := p.options.Overrides[target]; ok {
		return role
	}
	sources := make(map[string]bool)
	for _, e := range edges {
		if !contains(e.ToCollections, target) {
			continue
		}
		for _, from := range e.FromCollections {
			if !fileRefs[from] {
				sources[from] = true
			}
		}
	}
	switch len(sources) {
	case 0:
		return RoleAnalyte
	case 1:
		return RoleSample
	default:
		return RoleMetadata
	}
}

func (p *Planner) planFacts(ctx context.Context, names []string, byName map[string]Descriptor, edges []Descriptor, fileRefs map[string]bool, implicit map[string]bool) ([]FactPlan, error) {
	var facts []FactPlan
	for _, parent := range names {
		if !fileRefs[parent] {
			continue
		}
		log := p.logger.WithContext(ctx).WithFields(map[string]any{"collection": parent})

		var analytes []Target
		var sample *Target
		var candidates []string
		for _, e := range edges {
			if !contains(e.FromCollections, parent) {
				continue
			}
			role, err := p.edgeRole(e, byName, edges, fileRefs)
			if err != nil {
				return nil, err.WithCollection(parent)
			}
			if role == RoleMetadata {
				continue
			}

			target := Target{Collection: e.ToCollections[0], Table: SnakeCase(e.ToCollections[0]), Edge: e.Name}
			candidates = append(candidates, e.Name)
			if role == RoleAnalyte {
				analytes = append(analytes, target)
				continue
			}
			if sample != nil && sample.Collection != target.Collection {
				return nil, kgerrors.Newf(kgerrors.KindSchemaInference,
					"collections %s and %s both classify as the sample dimension", sample.Collection, target.Collection).
					WithCollection(parent)
			}
			if sample == nil {
				sample = &target
			}
		}

		if len(analytes) == 0 {
			if len(candidates) > 0 {
				log.Warnf("no analyte edge found, keeping %d candidate edges as link tables", len(candidates))
			}
			continue
		}
		for _, edge := range candidates {
			implicit[edge] = true
		}

		parentTable := SnakeCase(parent)
		for _, analyte := range analytes {
			fact := FactPlan{
				ParentCollection: parent,
				ParentTable:      parentTable,
				Analyte:          analyte,
				Sample:           sample,
			}
			fact.Table = factTable(fact)
			facts = append(facts, fact)
		}
		log.Debugf("planned %d fact tables", len(analytes))
	}
	return facts, nil
}

// edgeRole classifies every target of e and requires them to agree.
func (p *Planner) edgeRole(e Descriptor, byName map[string]Descriptor, edges []Descriptor, fileRefs map[string]bool) (TargetRole, *kgerrors.Error) {
	var role TargetRole
	for i, to := range e.ToCollections {
		target, ok := byName[to]
		if !ok || !target.IsDocument() {
			return "", kgerrors.Newf(kgerrors.KindSchemaInference, "edge %s targets undeclared document collection %s", e.Name, to)
		}
		r := p.Classify(to, edges, fileRefs)
		if i > 0 && r != role {
			return "", kgerrors.Newf(kgerrors.KindSchemaInference,
				"edge %s targets collections with different roles (%s is %s, %s is %s)", e.Name, e.ToCollections[0], role, to, r)
		}
		role = r
	}
	return role, nil
}

func (p *Planner) planDocument(d Descriptor) (*CollectionPlan, []*Table) {
	tableName := SnakeCase(d.Name)
	table := NewTable(tableName, RoleDocument)
	cp := &CollectionPlan{Descriptor: d, Collection: d.Name, Table: table}

	var children []*Table
	for _, f := range d.Fields {
		if p.skip[f.Name] {
			continue
		}
		switch ft := f.Type.(type) {
		case Scalar:
			if f.Name == "id" {
				table.AddKey("id")
			} else {
				table.AddNullable(f.Name, columnTypeOf(ft.Type))
			}
			cp.Columns = append(cp.Columns, FieldColumn{Field: f.Name, Column: f.Name})
		case Object:
			table.AddNullable(f.Name, ColumnText)
			cp.Columns = append(cp.Columns, FieldColumn{Field: f.Name, Column: f.Name, JSON: true})
		default:
			child := p.planChild(tableName, ColumnKey, f)
			cp.Children = append(cp.Children, child)
			children = append(children, flattenChildTables(child)...)
		}
	}
	return cp, append([]*Table{table}, children...)
}

// planChild plans the table of a repeated field owned by parent, whose key
// column has parentKey type.
func (p *Planner) planChild(parent string, parentKey ColumnType, f Field) ChildPlan {
	name := childTableName(parent, f.Name)
	table := NewTable(name, RoleChild)
	child := ChildPlan{Field: f.Name, Table: table}

	switch ft := f.Type.(type) {
	case RepeatedScalar:
		child.Scalar = true
		table.AddReference("parent_id", parentKey, parent, "id")
		table.AddNullable("value", columnTypeOf(ft.Elem))
	case RepeatedObject:
		surrogate := p.hasRepeated(ft.Fields)
		if surrogate {
			table.AddSurrogateKey("id")
		}
		table.AddReference("parent_id", parentKey, parent, "id")
		for _, sub := range ft.Fields {
			if p.skip[sub.Name] {
				continue
			}
			column := sub.Name
			if column == "parent_id" || (surrogate && column == "id") {
				column = "item_" + sub.Name
			}
			switch st := sub.Type.(type) {
			case Scalar:
				table.AddNullable(column, columnTypeOf(st.Type))
				child.Columns = append(child.Columns, FieldColumn{Field: sub.Name, Column: column})
			case Object:
				table.AddNullable(column, ColumnText)
				child.Columns = append(child.Columns, FieldColumn{Field: sub.Name, Column: column, JSON: true})
			default:
				child.Children = append(child.Children, p.planChild(name, ColumnInteger, sub))
			}
		}
	}
	table.AddIndex(indexName(name, "parent"), "parent_id")
	return child
}

func (p *Planner) hasRepeated(fields Fields) bool {
	for _, f := range fields {
		if !p.skip[f.Name] && IsRepeated(f.Type) {
			return true
		}
	}
	return false
}

func flattenChildTables(c ChildPlan) []*Table {
	tables := []*Table{c.Table}
	for _, gc := range c.Children {
		tables = append(tables, flattenChildTables(gc)...)
	}
	return tables
}

func (p *Planner) planEdge(d Descriptor, tableName string) *CollectionPlan {
	table := NewTable(tableName, RoleEdge)
	if len(d.FromCollections) == 1 {
		table.AddReference("from_id", ColumnKey, SnakeCase(d.FromCollections[0]), "id")
	} else {
		table.AddColumn(Column{Name: "from_id", Type: ColumnKey})
	}
	if len(d.ToCollections) == 1 {
		table.AddReference("to_id", ColumnKey, SnakeCase(d.ToCollections[0]), "id")
	} else {
		table.AddColumn(Column{Name: "to_id", Type: ColumnKey})
	}

	cp := &CollectionPlan{Descriptor: d, Collection: d.Name, Table: table}
	for _, f := range d.Fields {
		if p.skip[f.Name] || f.Name == "from_id" || f.Name == "to_id" {
			continue
		}
		// Repeated sub-records on an edge are kept whole as JSON.
		if st, ok := f.Type.(Scalar); ok {
			table.AddNullable(f.Name, columnTypeOf(st.Type))
			cp.Columns = append(cp.Columns, FieldColumn{Field: f.Name, Column: f.Name})
			continue
		}
		table.AddNullable(f.Name, ColumnText)
		cp.Columns = append(cp.Columns, FieldColumn{Field: f.Name, Column: f.Name, JSON: true})
	}
	table.AddIndex(indexName(tableName, "from"), "from_id")
	table.AddIndex(indexName(tableName, "to"), "to_id")
	return cp
}

func factTable(f FactPlan) *Table {
	name := factTableName(f.Analyte.Table, f.ParentTable)
	table := NewTable(name, RoleFact)
	table.AddReference(f.ParentColumn(), ColumnKey, f.ParentTable, "id")
	table.AddReference(f.AnalyteColumn(), ColumnKey, f.Analyte.Table, "id")
	if f.Sample != nil {
		table.AddReference(f.ColumnLabelColumn(), ColumnKey, f.Sample.Table, "id")
	} else {
		table.AddColumn(Column{Name: f.ColumnLabelColumn(), Type: ColumnKey})
	}
	table.AddNullable("value", ColumnFloat)

	table.AddIndex(indexName(name, "parent"), f.ParentColumn())
	table.AddIndex(indexName(name, "analyte"), f.AnalyteColumn())
	if f.Sample != nil {
		table.AddIndex(indexName(name, "sample"), f.ColumnLabelColumn())
	}
	return table
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
