package calculation

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appmolecule "github.com/chemcloud/calcstore/internal/application/molecule"
	"github.com/chemcloud/calcstore/internal/chem"
	calcdomain "github.com/chemcloud/calcstore/internal/domain/calculation"
	"github.com/chemcloud/calcstore/internal/domain/geometry"
	moldomain "github.com/chemcloud/calcstore/internal/domain/molecule"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeCalcRepo struct {
	calcs map[common.ID]*calcdomain.Calculation

	appendedNotebooks []string
	replacedProps     common.Metadata
	lastFilter        calcdomain.Filter
}

func newFakeCalcRepo() *fakeCalcRepo {
	return &fakeCalcRepo{calcs: make(map[common.ID]*calcdomain.Calculation)}
}

func (r *fakeCalcRepo) Create(_ context.Context, calc *calcdomain.Calculation) error {
	r.calcs[calc.ID] = calc
	return nil
}

func (r *fakeCalcRepo) GetByID(_ context.Context, id common.ID) (*calcdomain.Calculation, error) {
	calc, ok := r.calcs[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeCalculationNotFound, "no such calculation")
	}
	return calc, nil
}

func (r *fakeCalcRepo) Update(_ context.Context, calc *calcdomain.Calculation) error {
	r.calcs[calc.ID] = calc
	return nil
}

func (r *fakeCalcRepo) Delete(_ context.Context, id common.ID) error {
	delete(r.calcs, id)
	return nil
}

func (r *fakeCalcRepo) List(_ context.Context, filter calcdomain.Filter, _ common.Pagination) ([]*calcdomain.Calculation, int64, error) {
	r.lastFilter = filter
	out := make([]*calcdomain.Calculation, 0, len(r.calcs))
	for _, c := range r.calcs {
		out = append(out, c)
	}
	return out, int64(len(out)), nil
}

func (r *fakeCalcRepo) ReplaceProperties(_ context.Context, id common.ID, props common.Metadata) error {
	r.replacedProps = props
	if calc, ok := r.calcs[id]; ok {
		calc.ReplaceProperties(props)
	}
	return nil
}

func (r *fakeCalcRepo) AppendNotebooks(_ context.Context, id common.ID, names []string) error {
	r.appendedNotebooks = append(r.appendedNotebooks, names...)
	if calc, ok := r.calcs[id]; ok {
		calc.AddNotebooks(names...)
	}
	return nil
}

func (r *fakeCalcRepo) VibrationSummary(ctx context.Context, id common.ID) (*cjson.Vibrations, error) {
	calc, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return calc.Document.VibrationSummary()
}

func (r *fakeCalcRepo) VibrationSlice(ctx context.Context, id common.ID, idx int) (*cjson.Vibrations, error) {
	calc, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return calc.Document.VibrationAt(idx)
}

func (r *fakeCalcRepo) ResolveModeIndex(ctx context.Context, id common.ID, mode int) (int, error) {
	calc, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return calc.Document.ResolveModeIndex(mode)
}

type fakeMolRepo struct {
	mols map[common.ID]*moldomain.Molecule
}

func (r *fakeMolRepo) Create(context.Context, *moldomain.Molecule) error { return nil }
func (r *fakeMolRepo) Update(context.Context, *moldomain.Molecule) error { return nil }
func (r *fakeMolRepo) Delete(context.Context, common.ID) error           { return nil }

func (r *fakeMolRepo) GetByID(_ context.Context, id common.ID) (*moldomain.Molecule, error) {
	mol, ok := r.mols[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeMoleculeNotFound, "no such molecule")
	}
	return mol, nil
}

func (r *fakeMolRepo) GetByInChIKey(_ context.Context, key string) (*moldomain.Molecule, error) {
	for _, mol := range r.mols {
		if mol.InChIKey == key {
			return mol, nil
		}
	}
	return nil, errors.New(errors.ErrCodeMoleculeNotFound, "no such molecule")
}

func (r *fakeMolRepo) List(context.Context, moldomain.Filter, common.Pagination) ([]*moldomain.Molecule, int64, error) {
	return nil, 0, nil
}

type fakeGeomRepo struct {
	created []*geometry.Geometry
}

func (r *fakeGeomRepo) Create(_ context.Context, geom *geometry.Geometry) error {
	r.created = append(r.created, geom)
	return nil
}

func (r *fakeGeomRepo) GetByID(_ context.Context, id common.ID) (*geometry.Geometry, error) {
	for _, g := range r.created {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, errors.New(errors.ErrCodeGeometryNotFound, "no such geometry")
}

func (r *fakeGeomRepo) ListByMolecule(context.Context, common.ID, common.Pagination) ([]*geometry.Geometry, int64, error) {
	return nil, 0, nil
}

func (r *fakeGeomRepo) Delete(context.Context, common.ID) error { return nil }

type fakeResolver struct {
	created []appmolecule.CreateInput
	result  *appmolecule.CreateResult
}

func (r *fakeResolver) Create(_ context.Context, input appmolecule.CreateInput) (*appmolecule.CreateResult, error) {
	r.created = append(r.created, input)
	if r.result == nil {
		return nil, errors.Validation("structure rejected")
	}
	return r.result, nil
}

type fakeFiles struct {
	objects map[string][]byte
}

func (f *fakeFiles) Put(_ context.Context, _ common.ID, _ string, reader io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	id := string(common.NewID())
	f.objects[id] = data
	return id, nil
}

func (f *fakeFiles) Get(_ context.Context, fileID string) (io.ReadCloser, error) {
	data, ok := f.objects[fileID]
	if !ok {
		return nil, errors.New(errors.ErrCodeFileNotFound, "no such file")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeFiles) PresignedURL(_ context.Context, fileID string) (string, error) {
	return "https://files.example/" + fileID, nil
}

type fakeConverter struct {
	bonds    map[string]interface{}
	bondsErr error

	// doc is what ToDocument answers; nil means an empty document.
	doc cjson.Document
}

func (c *fakeConverter) Convert(_ context.Context, data []byte, _, _ chem.Format, _ chem.ConvertOptions) ([]byte, error) {
	return data, nil
}

func (c *fakeConverter) AtomCount(context.Context, []byte, chem.Format) (int, error) {
	return 0, nil
}

func (c *fakeConverter) CanonicalIdentity(context.Context, []byte, chem.Format) (moldomain.Identity, error) {
	return moldomain.Identity{}, nil
}

func (c *fakeConverter) ToDocument(context.Context, []byte, chem.Format) (cjson.Document, error) {
	if c.doc != nil {
		return c.doc, nil
	}
	return cjson.Document{}, nil
}

func (c *fakeConverter) Depict(context.Context, []byte, chem.Format) (string, error) {
	return "", nil
}

func (c *fakeConverter) InferBonds(context.Context, cjson.Document) (map[string]interface{}, error) {
	return c.bonds, c.bondsErr
}

type fakeProvenance struct {
	calculations []common.ID
	geometries   []common.ID
}

func (p *fakeProvenance) RecordCalculation(_ context.Context, id, _, _ common.ID, _ string) error {
	p.calculations = append(p.calculations, id)
	return nil
}

func (p *fakeProvenance) RecordGeometry(_ context.Context, id, _, _ common.ID) error {
	p.geometries = append(p.geometries, id)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

type fixture struct {
	svc        Service
	calcs      *fakeCalcRepo
	mols       *fakeMolRepo
	geoms      *fakeGeomRepo
	converter  *fakeConverter
	resolver   *fakeResolver
	files      OutputFileStore
	provenance *fakeProvenance
	moleculeID common.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	molID := common.NewID()
	f := &fixture{
		calcs:      newFakeCalcRepo(),
		mols:       &fakeMolRepo{mols: map[common.ID]*moldomain.Molecule{molID: {}}},
		geoms:      &fakeGeomRepo{},
		converter:  &fakeConverter{},
		resolver:   &fakeResolver{},
		provenance: &fakeProvenance{},
		moleculeID: molID,
	}
	f.svc = NewService(f.calcs, f.mols, f.geoms, f.converter, f.resolver, f.files,
		f.provenance, nil, logging.NewNopLogger())
	return f
}

func resultDocument() cjson.Document {
	return cjson.Document{
		"atoms": map[string]interface{}{
			"elements": map[string]interface{}{
				"number": []interface{}{float64(8), float64(1), float64(1)},
			},
		},
		"properties": map[string]interface{}{"totalEnergy": -76.4},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestSubmit_RegistersPendingCalculation(t *testing.T) {
	f := newFixture(t)

	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskEnergy, calcdomain.TaskOptimize},
		ImageName:  "nwchem:7.2",
		CreatedBy:  "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, calcdomain.StatusPending, calc.Status)
	assert.Equal(t, "nwchem:7.2", calc.ImageName)
	assert.Contains(t, f.provenance.calculations, calc.ID)
}

func TestSubmit_UnknownMoleculeRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: common.NewID(),
		Tasks:      []string{calcdomain.TaskEnergy},
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeMoleculeNotFound, errors.GetCode(err))
}

func TestSubmit_UnknownTaskRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{"transmogrify"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestIngest_CompletesCalculation(t *testing.T) {
	f := newFixture(t)
	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskEnergy},
	})
	require.NoError(t, err)

	updated, err := f.svc.Ingest(context.Background(), calc.ID, IngestInput{
		Document:   resultDocument(),
		Properties: common.Metadata{"totalEnergy": -76.4},
	})
	require.NoError(t, err)
	assert.Equal(t, calcdomain.StatusComplete, updated.Status)
	assert.Empty(t, f.geoms.created, "energy-only run must not create a geometry")
}

func TestIngest_OptimizeStoresDerivedGeometry(t *testing.T) {
	f := newFixture(t)
	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskOptimize},
	})
	require.NoError(t, err)

	updated, err := f.svc.Ingest(context.Background(), calc.ID, IngestInput{
		Document: resultDocument(),
	})
	require.NoError(t, err)

	require.Len(t, f.geoms.created, 1)
	geom := f.geoms.created[0]
	assert.Equal(t, geometry.ProvenanceCalculation, geom.ProvenanceType)
	assert.Equal(t, calc.ID, geom.ProvenanceID)
	assert.Equal(t, f.moleculeID, geom.MoleculeID)
	assert.Equal(t, geom.ID, updated.OptimizedGeometryID)
	assert.Contains(t, f.provenance.geometries, geom.ID)

	// Only structural keys flow into the geometry document.
	_, hasProps := geom.Document["properties"]
	assert.False(t, hasProps)
}

func TestIngest_DetectBondsMergesOnlyBonds(t *testing.T) {
	f := newFixture(t)
	f.converter.bonds = map[string]interface{}{
		"connections": map[string]interface{}{"index": []interface{}{0, 1, 0, 2}},
	}

	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskEnergy},
	})
	require.NoError(t, err)

	updated, err := f.svc.Ingest(context.Background(), calc.ID, IngestInput{
		Document:    resultDocument(),
		DetectBonds: true,
	})
	require.NoError(t, err)

	bonds, ok := updated.Document.Bonds()
	require.True(t, ok)
	assert.Equal(t, f.converter.bonds, map[string]interface{}(bonds))
	_, hasProps := updated.Document["properties"]
	assert.True(t, hasProps, "non-bond keys must survive the merge")
}

func TestIngest_DetectBondsKeepsExistingWithoutOverwrite(t *testing.T) {
	f := newFixture(t)
	f.converter.bonds = map[string]interface{}{"connections": map[string]interface{}{}}

	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskEnergy},
	})
	require.NoError(t, err)

	doc := resultDocument()
	existing := map[string]interface{}{"order": []interface{}{1, 1}}
	doc.SetBonds(existing)

	updated, err := f.svc.Ingest(context.Background(), calc.ID, IngestInput{
		Document:    doc,
		DetectBonds: true,
	})
	require.NoError(t, err)

	bonds, ok := updated.Document.Bonds()
	require.True(t, ok)
	assert.Equal(t, existing, map[string]interface{}(bonds))
}

func TestIngest_SecondIngestConflicts(t *testing.T) {
	f := newFixture(t)
	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskEnergy},
	})
	require.NoError(t, err)

	_, err = f.svc.Ingest(context.Background(), calc.ID, IngestInput{Document: resultDocument()})
	require.NoError(t, err)

	_, err = f.svc.Ingest(context.Background(), calc.ID, IngestInput{Document: resultDocument()})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestMarkError_RecordsReason(t *testing.T) {
	f := newFixture(t)
	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskEnergy},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkError(context.Background(), calc.ID, "scf did not converge"))

	stored, err := f.svc.Get(context.Background(), calc.ID)
	require.NoError(t, err)
	assert.Equal(t, calcdomain.StatusError, stored.Status)
	assert.Equal(t, "scf did not converge", stored.Properties["error"])
}

func TestAddNotebooks_DelegatesToRepository(t *testing.T) {
	f := newFixture(t)
	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskEnergy},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.AddNotebooks(context.Background(), calc.ID, []string{"analysis.ipynb"}))
	assert.Equal(t, []string{"analysis.ipynb"}, f.calcs.appendedNotebooks)
}

func TestVibrationMode_ResolvesModeNumber(t *testing.T) {
	f := newFixture(t)
	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskFrequencies},
	})
	require.NoError(t, err)

	doc := resultDocument()
	doc["vibrations"] = map[string]interface{}{
		"modes":       []interface{}{float64(7), float64(8), float64(9)},
		"frequencies": []interface{}{1595.0, 3657.0, 3756.0},
		"intensities": []interface{}{67.0, 5.0, 45.0},
		"eigenVectors": []interface{}{
			[]interface{}{0.1, 0.2},
			[]interface{}{0.3, 0.4},
			[]interface{}{0.5, 0.6},
		},
	}
	_, err = f.svc.Ingest(context.Background(), calc.ID, IngestInput{Document: doc})
	require.NoError(t, err)

	mode, err := f.svc.VibrationMode(context.Background(), calc.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, []float64{3657.0}, mode.Frequencies)
	assert.Equal(t, []int{8}, mode.Modes)

	_, err = f.svc.VibrationMode(context.Background(), calc.ID, 99)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeVibrationalModeNotFound, errors.GetCode(err))
}

func TestSubmit_ResolvesInlineStructure(t *testing.T) {
	f := newFixture(t)
	resolvedID := common.NewID()
	f.resolver.result = &appmolecule.CreateResult{
		Molecule: &moldomain.Molecule{BaseEntity: common.BaseEntity{ID: resolvedID}},
	}

	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		Structure: "water sdf payload",
		Format:    "sdf",
		Tasks:     []string{calcdomain.TaskEnergy},
		CreatedBy: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, resolvedID, calc.MoleculeID)
	require.Len(t, f.resolver.created, 1)
	assert.Equal(t, "sdf", f.resolver.created[0].Format)
	assert.Equal(t, common.UserID("user-1"), f.resolver.created[0].CreatedBy)
}

func TestSubmit_WithInlineDocumentCompletesImmediately(t *testing.T) {
	f := newFixture(t)

	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskEnergy},
		Document:   resultDocument(),
	})
	require.NoError(t, err)
	assert.Equal(t, calcdomain.StatusComplete, calc.Status)
	assert.NotNil(t, calc.Document)
}

func TestSubmit_WithoutMoleculeOrStructureRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		Tasks: []string{calcdomain.TaskEnergy},
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestIngest_FromStoredOutputFile(t *testing.T) {
	f := newFixture(t)
	files := &fakeFiles{objects: map[string][]byte{}}
	f.converter.doc = resultDocument()
	svc := NewService(f.calcs, f.mols, f.geoms, f.converter, nil, files,
		f.provenance, nil, logging.NewNopLogger())

	calc, err := svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskEnergy},
	})
	require.NoError(t, err)

	fileID, err := files.Put(context.Background(), calc.ID, "run.out",
		bytes.NewReader([]byte("raw output")), 10, "text/plain")
	require.NoError(t, err)

	updated, err := svc.Ingest(context.Background(), calc.ID, IngestInput{
		FileID: fileID,
		Format: "xyz",
	})
	require.NoError(t, err)
	assert.Equal(t, calcdomain.StatusComplete, updated.Status)
	assert.NotNil(t, updated.Document)

	// Neither a document nor a file reference is an error.
	calc2, err := svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskEnergy},
	})
	require.NoError(t, err)
	_, err = svc.Ingest(context.Background(), calc2.ID, IngestInput{})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestList_ResolvesInChIKeyToMoleculeID(t *testing.T) {
	f := newFixture(t)
	f.mols.mols[f.moleculeID].InChIKey = "XLYOFNOQVPJJNP-UHFFFAOYSA-N"
	f.mols.mols[f.moleculeID].ID = f.moleculeID

	_, err := f.svc.List(context.Background(),
		calcdomain.Filter{InChIKey: "XLYOFNOQVPJJNP-UHFFFAOYSA-N"}, common.Pagination{})
	require.NoError(t, err)
	assert.Equal(t, f.moleculeID, f.calcs.lastFilter.MoleculeID)
	assert.Empty(t, f.calcs.lastFilter.InChIKey)

	_, err = f.svc.List(context.Background(),
		calcdomain.Filter{InChIKey: "AAAAAAAAAAAAAA-UHFFFAOYSA-N"}, common.Pagination{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeMoleculeNotFound, errors.GetCode(err))
}

func TestConvert_ServesStoredDocumentAsCJSON(t *testing.T) {
	f := newFixture(t)
	calc, err := f.svc.Submit(context.Background(), SubmitInput{
		MoleculeID: f.moleculeID,
		Tasks:      []string{calcdomain.TaskEnergy},
	})
	require.NoError(t, err)

	// Pending runs have nothing to convert.
	_, err = f.svc.Convert(context.Background(), calc.ID, "cjson")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCalculationPending, errors.GetCode(err))

	_, err = f.svc.Ingest(context.Background(), calc.ID, IngestInput{Document: resultDocument()})
	require.NoError(t, err)

	data, err := f.svc.Convert(context.Background(), calc.ID, "cjson")
	require.NoError(t, err)
	assert.Contains(t, string(data), "totalEnergy")

	// Other formats go through the gateway; the fake echoes its input.
	data, err = f.svc.Convert(context.Background(), calc.ID, "xyz")
	require.NoError(t, err)
	assert.Contains(t, string(data), "atoms")

	_, err = f.svc.Convert(context.Background(), calc.ID, "docx")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnsupportedFormat, errors.GetCode(err))
}

func TestTaskTypes_AggregatesDistinctTasks(t *testing.T) {
	f := newFixture(t)

	for _, tasks := range [][]string{
		{calcdomain.TaskEnergy},
		{calcdomain.TaskEnergy, calcdomain.TaskFrequencies},
		{calcdomain.TaskOptimize},
	} {
		_, err := f.svc.Submit(context.Background(), SubmitInput{
			MoleculeID: f.moleculeID,
			Tasks:      tasks,
		})
		require.NoError(t, err)
	}

	types, err := f.svc.TaskTypes(context.Background(), f.moleculeID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		calcdomain.TaskEnergy, calcdomain.TaskFrequencies, calcdomain.TaskOptimize,
	}, types)

	_, err = f.svc.TaskTypes(context.Background(), common.NewID())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeMoleculeNotFound, errors.GetCode(err))
}

func TestOutputFileURL_WithoutStorageConfigured(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.OutputFileURL(context.Background(), common.NewID())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDependentService, errors.GetCode(err))
}
