package schema

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlanner(opts Options) *Planner {
	return NewPlanner(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), opts)
}

func doc(name string, fields ...Field) Descriptor {
	return Descriptor{Name: name, Kind: KindDocument, Fields: append(Fields{{Name: "id", Type: Scalar{Type: ScalarString}}}, fields...)}
}

func edge(name string, from, to []string, fields ...Field) Descriptor {
	return Descriptor{Name: name, Kind: KindEdge, FromCollections: from, ToCollections: to, Fields: fields}
}

var fileRef = Field{Name: FileReferenceField, Type: Scalar{Type: ScalarString}}

func TestPlanner_FactTableWithSampleDimension(t *testing.T) {
	plan, err := newTestPlanner(Options{}).Plan(context.Background(), loadFixture(t))
	require.NoError(t, err)

	require.Len(t, plan.Facts, 1)
	fact := plan.Facts[0]
	assert.Equal(t, "gene_dataset__data", fact.Table.Name)
	assert.Equal(t, []string{"dataset_id", "gene_id", "run_biosample_id", "value"}, fact.Table.ColumnNames())
	assert.Equal(t, "Gene", fact.Analyte.Collection)
	require.NotNil(t, fact.Sample)
	assert.Equal(t, "RunBiosample", fact.Sample.Collection)

	assert.True(t, plan.DataImplicitEdges["DatasetGeneEdge"])
	assert.True(t, plan.DataImplicitEdges["DatasetRunBiosampleEdge"])
	assert.False(t, plan.DataImplicitEdges["BiosampleRunBiosampleEdge"])

	_, ok := plan.Table("dataset_to_gene")
	assert.False(t, ok, "data-implicit edges get no link table")
	link, ok := plan.Table("biosample_to_run_biosample")
	require.True(t, ok)
	assert.Equal(t, []string{"from_id", "to_id", "run_order"}, link.ColumnNames())
	assert.Equal(t, "biosample", link.Columns[0].References.Table)

	value, _ := fact.Table.Column("value")
	assert.Equal(t, ColumnFloat, value.Type)
	assert.True(t, value.Nullable)
	assert.Len(t, fact.Table.Indexes, 3)
}

func TestPlanner_DocumentAndChildTables(t *testing.T) {
	plan, err := newTestPlanner(Options{}).Plan(context.Background(), loadFixture(t))
	require.NoError(t, err)

	dataset, ok := plan.Table("dataset")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "file_reference", "name", "row_count"}, dataset.ColumnNames())
	assert.Equal(t, []string{"id"}, dataset.PrimaryKey())
	_, hasXref := plan.Table("dataset__xref")
	assert.False(t, hasXref, "skip fields are not planned")

	synonyms, ok := plan.Table("gene__synonyms")
	require.True(t, ok)
	assert.Equal(t, []string{"parent_id", "value"}, synonyms.ColumnNames())
	assert.Equal(t, &ForeignKey{Table: "gene", Column: "id"}, synonyms.Columns[0].References)
	assert.Equal(t, "ix_gene__synonyms_parent", synonyms.Indexes[0].Name)

	biosample, ok := plan.Table("biosample")
	require.True(t, ok)
	demographics, ok := biosample.Column("demographics")
	require.True(t, ok)
	assert.Equal(t, ColumnText, demographics.Type)

	exposures, ok := plan.Table("biosample__exposures")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "parent_id", "category", "dose"}, exposures.ColumnNames())
	assert.Equal(t, ColumnInteger, exposures.Columns[0].Type)

	names, ok := plan.Table("biosample__exposures__names")
	require.True(t, ok)
	parent, _ := names.Column("parent_id")
	assert.Equal(t, ColumnInteger, parent.Type)
	assert.Equal(t, "biosample__exposures", parent.References.Table)

	cp := plan.Collections["Biosample"]
	require.Len(t, cp.Children, 1)
	assert.True(t, cp.Children[0].HasSurrogateKey())
	assert.Equal(t, "names", cp.Children[0].Children[0].Field)

	order := map[string]int{}
	for i, table := range plan.Tables {
		order[table.Name] = i
	}
	assert.Less(t, order["biosample__exposures"], order["biosample__exposures__names"])
	assert.Less(t, order["gene"], order["gene_dataset__data"])
}

func TestPlanner_TwoAnalytesShareSample(t *testing.T) {
	descriptors := []Descriptor{
		doc("StatsResult", fileRef),
		doc("Gene"),
		doc("Metabolite"),
		doc("Biosample"),
		doc("RunBiosample"),
		edge("StatsResultGeneEdge", []string{"StatsResult"}, []string{"Gene"}),
		edge("StatsResultMetaboliteEdge", []string{"StatsResult"}, []string{"Metabolite"}),
		edge("StatsResultRunBiosampleEdge", []string{"StatsResult"}, []string{"RunBiosample"}),
		edge("BiosampleRunBiosampleEdge", []string{"Biosample"}, []string{"RunBiosample"}),
	}
	plan, err := newTestPlanner(Options{}).Plan(context.Background(), descriptors)
	require.NoError(t, err)

	require.Len(t, plan.Facts, 2)
	assert.Equal(t, "gene_stats_result__data", plan.Facts[0].Table.Name)
	assert.Equal(t, "metabolite_stats_result__data", plan.Facts[1].Table.Name)
	for _, f := range plan.Facts {
		require.NotNil(t, f.Sample)
		assert.Equal(t, "run_biosample_id", f.ColumnLabelColumn())
	}
	assert.Len(t, plan.FactsFor("StatsResult"), 2)
}

func TestPlanner_NoSampleDimensionUsesColumnName(t *testing.T) {
	descriptors := []Descriptor{
		doc("Dataset", fileRef),
		doc("Gene"),
		edge("DatasetGeneEdge", []string{"Dataset"}, []string{"Gene"}),
	}
	plan, err := newTestPlanner(Options{}).Plan(context.Background(), descriptors)
	require.NoError(t, err)

	require.Len(t, plan.Facts, 1)
	assert.Nil(t, plan.Facts[0].Sample)
	assert.Equal(t, []string{"dataset_id", "gene_id", "column_name", "value"}, plan.Facts[0].Table.ColumnNames())
	assert.Len(t, plan.Facts[0].Table.Indexes, 2)
}

func TestPlanner_FileReferenceWithoutAnalytes(t *testing.T) {
	descriptors := []Descriptor{
		doc("Dataset", fileRef),
		doc("Biosample"),
		doc("RunBiosample"),
		edge("DatasetRunBiosampleEdge", []string{"Dataset"}, []string{"RunBiosample"}),
		edge("BiosampleRunBiosampleEdge", []string{"Biosample"}, []string{"RunBiosample"}),
	}
	plan, err := newTestPlanner(Options{}).Plan(context.Background(), descriptors)
	require.NoError(t, err)

	assert.Empty(t, plan.Facts)
	assert.Empty(t, plan.DataImplicitEdges)
	_, ok := plan.Table("dataset_to_run_biosample")
	assert.True(t, ok)
	_, ok = plan.Table("dataset")
	assert.True(t, ok)
}

func TestPlanner_MetadataTargetKeepsLinkTable(t *testing.T) {
	descriptors := []Descriptor{
		doc("Dataset", fileRef),
		doc("Gene"),
		doc("Person"),
		doc("Project"),
		doc("Experiment"),
		edge("DatasetGeneEdge", []string{"Dataset"}, []string{"Gene"}),
		edge("DatasetPersonEdge", []string{"Dataset"}, []string{"Person"}),
		edge("ProjectPersonEdge", []string{"Project"}, []string{"Person"}),
		edge("ExperimentPersonEdge", []string{"Experiment"}, []string{"Person"}),
	}
	p := newTestPlanner(Options{})
	plan, err := p.Plan(context.Background(), descriptors)
	require.NoError(t, err)

	assert.False(t, plan.DataImplicitEdges["DatasetPersonEdge"])
	_, ok := plan.Table("dataset_to_person")
	assert.True(t, ok)
	require.Len(t, plan.Facts, 1)
	assert.Nil(t, plan.Facts[0].Sample)
}

func TestPlanner_Classify(t *testing.T) {
	edges := []Descriptor{
		edge("DatasetGeneEdge", []string{"Dataset"}, []string{"Gene"}),
		edge("BiosampleRunEdge", []string{"Biosample"}, []string{"Run"}),
		edge("ProjectPersonEdge", []string{"Project"}, []string{"Person"}),
		edge("ExperimentPersonEdge", []string{"Experiment"}, []string{"Person"}),
	}
	fileRefs := map[string]bool{"Dataset": true}

	tests := []struct {
		name      string
		target    string
		overrides map[string]TargetRole
		want      TargetRole
	}{
		{name: "only file-reference sources", target: "Gene", want: RoleAnalyte},
		{name: "one independent source", target: "Run", want: RoleSample},
		{name: "several independent sources", target: "Person", want: RoleMetadata},
		{name: "override wins", target: "Person", overrides: map[string]TargetRole{"Person": RoleSample}, want: RoleSample},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlanner(Options{Overrides: tt.overrides})
			assert.Equal(t, tt.want, p.Classify(tt.target, edges, fileRefs))
		})
	}
}

func TestPlanner_Ambiguity(t *testing.T) {
	tests := []struct {
		name        string
		descriptors []Descriptor
		options     Options
	}{
		{
			name: "two sample targets",
			descriptors: []Descriptor{
				doc("Dataset", fileRef),
				doc("Gene"), doc("RunA"), doc("RunB"), doc("SampleA"), doc("SampleB"),
				edge("DatasetGeneEdge", []string{"Dataset"}, []string{"Gene"}),
				edge("DatasetRunAEdge", []string{"Dataset"}, []string{"RunA"}),
				edge("DatasetRunBEdge", []string{"Dataset"}, []string{"RunB"}),
				edge("SampleARunAEdge", []string{"SampleA"}, []string{"RunA"}),
				edge("SampleBRunBEdge", []string{"SampleB"}, []string{"RunB"}),
			},
		},
		{
			name: "edge targets with different roles",
			descriptors: []Descriptor{
				doc("Dataset", fileRef),
				doc("Gene"), doc("Run"), doc("Sample"),
				edge("DatasetTargetEdge", []string{"Dataset"}, []string{"Gene", "Run"}),
				edge("SampleRunEdge", []string{"Sample"}, []string{"Run"}),
			},
		},
		{
			name: "undeclared target",
			descriptors: []Descriptor{
				doc("Dataset", fileRef),
				edge("DatasetGeneEdge", []string{"Dataset"}, []string{"Gene"}),
			},
		},
		{
			name: "invalid override",
			descriptors: []Descriptor{
				doc("Dataset", fileRef),
				doc("Gene"),
				edge("DatasetGeneEdge", []string{"Dataset"}, []string{"Gene"}),
			},
			options: Options{Overrides: map[string]TargetRole{"Gene": "row"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestPlanner(tt.options).Plan(context.Background(), tt.descriptors)
			require.Error(t, err)
			assert.True(t, kgerrors.Is(err, kgerrors.KindSchemaInference))
		})
	}
}

func TestPlanner_OverrideResolvesAmbiguity(t *testing.T) {
	descriptors := []Descriptor{
		doc("Dataset", fileRef),
		doc("Gene"), doc("RunA"), doc("RunB"), doc("SampleA"), doc("SampleB"),
		edge("DatasetGeneEdge", []string{"Dataset"}, []string{"Gene"}),
		edge("DatasetRunAEdge", []string{"Dataset"}, []string{"RunA"}),
		edge("DatasetRunBEdge", []string{"Dataset"}, []string{"RunB"}),
		edge("SampleARunAEdge", []string{"SampleA"}, []string{"RunA"}),
		edge("SampleBRunBEdge", []string{"SampleB"}, []string{"RunB"}),
	}
	opts, err := ParseOverrides([]byte("classification:\n  RunB: metadata\n"))
	require.NoError(t, err)

	plan, err := newTestPlanner(opts).Plan(context.Background(), descriptors)
	require.NoError(t, err)
	require.Len(t, plan.Facts, 1)
	assert.Equal(t, "RunA", plan.Facts[0].Sample.Collection)
	assert.False(t, plan.DataImplicitEdges["DatasetRunBEdge"])
}

func TestPlanner_EdgeNameCollision(t *testing.T) {
	descriptors := []Descriptor{
		doc("Gene"),
		doc("Protein"),
		edge("GeneProteinEdge", []string{"Gene"}, []string{"Protein"}),
		edge("GeneEncodesProtein", []string{"Gene"}, []string{"Protein"}),
	}
	plan, err := newTestPlanner(Options{}).Plan(context.Background(), descriptors)
	require.NoError(t, err)

	assert.Equal(t, "gene_to_protein", plan.Collections["GeneEncodesProtein"].Table.Name)
	assert.Equal(t, "gene_protein_edge", plan.Collections["GeneProteinEdge"].Table.Name)
}

func TestParseOverrides(t *testing.T) {
	opts, err := ParseOverrides([]byte("classification:\n  Person: metadata\nskip_fields: [sources]\n"))
	require.NoError(t, err)
	assert.Equal(t, RoleMetadata, opts.Overrides["Person"])
	assert.Equal(t, []string{"sources"}, opts.SkipFields)

	_, err = ParseOverrides([]byte("classification:\n  Person: gene\n"))
	assert.True(t, kgerrors.Is(err, kgerrors.KindSchemaInference))

	opts, err = LoadOverrides("")
	require.NoError(t, err)
	assert.Nil(t, opts.Overrides)
}
