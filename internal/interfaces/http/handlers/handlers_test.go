package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appcalculation "github.com/chemcloud/calcstore/internal/application/calculation"
	appmolecule "github.com/chemcloud/calcstore/internal/application/molecule"
	calcdomain "github.com/chemcloud/calcstore/internal/domain/calculation"
	moldomain "github.com/chemcloud/calcstore/internal/domain/molecule"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ─────────────────────────────────────────────────────────────────────────────
// fake services
// ─────────────────────────────────────────────────────────────────────────────

type fakeMoleculeService struct {
	createResult *appmolecule.CreateResult
	createErr    error
	lastCreate   appmolecule.CreateInput
	molecule     *moldomain.Molecule
	getErr       error
}

func (s *fakeMoleculeService) Create(_ context.Context, input appmolecule.CreateInput) (*appmolecule.CreateResult, error) {
	s.lastCreate = input
	return s.createResult, s.createErr
}

func (s *fakeMoleculeService) Get(context.Context, common.ID) (*moldomain.Molecule, error) {
	return s.molecule, s.getErr
}

func (s *fakeMoleculeService) GetByInChIKey(context.Context, string) (*moldomain.Molecule, error) {
	return s.molecule, s.getErr
}

func (s *fakeMoleculeService) List(context.Context, moldomain.Filter, common.Pagination) (*common.ListResult[*moldomain.Molecule], error) {
	return &common.ListResult[*moldomain.Molecule]{Items: []*moldomain.Molecule{s.molecule}, Total: 1}, nil
}

func (s *fakeMoleculeService) Update(context.Context, common.ID, *string, *common.Visibility) (*moldomain.Molecule, error) {
	return s.molecule, s.getErr
}

func (s *fakeMoleculeService) Delete(context.Context, common.ID) error { return s.getErr }

func (s *fakeMoleculeService) Convert(context.Context, common.ID, string) ([]byte, error) {
	return []byte("<svg/>"), s.getErr
}

func (s *fakeMoleculeService) Similar(context.Context, common.ID, int) ([]moldomain.SimilarityMatch, error) {
	return nil, s.getErr
}

type fakeCalculationService struct {
	calc       *calcdomain.Calculation
	err        error
	summary    *cjson.Vibrations
	lastMode   int
	lastFormat string
	lastInput  appcalculation.IngestInput
}

func (s *fakeCalculationService) Submit(context.Context, appcalculation.SubmitInput) (*calcdomain.Calculation, error) {
	return s.calc, s.err
}

func (s *fakeCalculationService) Get(context.Context, common.ID) (*calcdomain.Calculation, error) {
	return s.calc, s.err
}

func (s *fakeCalculationService) List(context.Context, calcdomain.Filter, common.Pagination) (*common.ListResult[*calcdomain.Calculation], error) {
	return &common.ListResult[*calcdomain.Calculation]{}, s.err
}

func (s *fakeCalculationService) Start(context.Context, common.ID) (*calcdomain.Calculation, error) {
	return s.calc, s.err
}

func (s *fakeCalculationService) Ingest(_ context.Context, _ common.ID, input appcalculation.IngestInput) (*calcdomain.Calculation, error) {
	s.lastInput = input
	return s.calc, s.err
}

func (s *fakeCalculationService) MarkError(context.Context, common.ID, string) error { return s.err }
func (s *fakeCalculationService) Delete(context.Context, common.ID) error            { return s.err }

func (s *fakeCalculationService) ReplaceProperties(context.Context, common.ID, common.Metadata) error {
	return s.err
}

func (s *fakeCalculationService) AddNotebooks(context.Context, common.ID, []string) error {
	return s.err
}

func (s *fakeCalculationService) VibrationSummary(context.Context, common.ID) (*cjson.Vibrations, error) {
	return s.summary, s.err
}

func (s *fakeCalculationService) VibrationMode(_ context.Context, _ common.ID, mode int) (*cjson.Vibrations, error) {
	s.lastMode = mode
	return s.summary, s.err
}

func (s *fakeCalculationService) Convert(_ context.Context, _ common.ID, format string) ([]byte, error) {
	s.lastFormat = format
	return []byte("converted"), s.err
}

func (s *fakeCalculationService) TaskTypes(context.Context, common.ID) ([]string, error) {
	return []string{"energy", "optimize"}, s.err
}

func (s *fakeCalculationService) AttachOutputFile(context.Context, common.ID, string, io.Reader, int64, string) (*calcdomain.Calculation, error) {
	return s.calc, s.err
}

func (s *fakeCalculationService) OutputFileURL(context.Context, common.ID) (string, error) {
	return "https://files.example/presigned", s.err
}

type fakeOrbitalService struct {
	doc       cjson.Document
	err       error
	lastMO    string
	lastAsync bool
	lastUser  common.UserID
}

func (s *fakeOrbitalService) Cube(_ context.Context, _ common.ID, mo string, async bool, user common.UserID) (cjson.Document, error) {
	s.lastMO = mo
	s.lastAsync = async
	s.lastUser = user
	return s.doc, s.err
}

func (s *fakeOrbitalService) ComputeAndCache(context.Context, common.ID, int) error { return s.err }

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

func testMolecule() *moldomain.Molecule {
	mol, _ := moldomain.New(moldomain.Identity{
		InChI:    "InChI=1S/H2O/h1H2",
		InChIKey: "XLYOFNOQVPJJNP-UHFFFAOYSA-N",
	}, nil, "user-1")
	return mol
}

func moleculeRouter(svc appmolecule.Service) *gin.Engine {
	r := gin.New()
	NewMoleculeHandler(svc).Register(r.Group("/api/v1"))
	return r
}

func calculationRouter(calcs *fakeCalculationService, orbitals *fakeOrbitalService) *gin.Engine {
	r := gin.New()
	NewCalculationHandler(calcs, orbitals).Register(r.Group("/api/v1"))
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// ─────────────────────────────────────────────────────────────────────────────
// molecule routes
// ─────────────────────────────────────────────────────────────────────────────

func TestCreateMolecule_NewAnswers201(t *testing.T) {
	svc := &fakeMoleculeService{
		createResult: &appmolecule.CreateResult{Molecule: testMolecule(), Created: true},
	}
	rec := doJSON(t, moleculeRouter(svc), http.MethodPost, "/api/v1/molecules",
		gin.H{"data": "payload", "format": "sdf"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "payload", svc.lastCreate.Data)
	assert.Equal(t, "sdf", svc.lastCreate.Format)
}

func TestCreateMolecule_DeduplicatedAnswers200(t *testing.T) {
	svc := &fakeMoleculeService{
		createResult: &appmolecule.CreateResult{Molecule: testMolecule(), Created: false},
	}
	rec := doJSON(t, moleculeRouter(svc), http.MethodPost, "/api/v1/molecules",
		gin.H{"data": "payload", "format": "xyz"})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateMolecule_MissingFieldsAnswer400(t *testing.T) {
	svc := &fakeMoleculeService{}
	rec := doJSON(t, moleculeRouter(svc), http.MethodPost, "/api/v1/molecules",
		gin.H{"data": "payload"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMolecule_ErrorCodeMapsToStatus(t *testing.T) {
	svc := &fakeMoleculeService{
		getErr: errors.New(errors.ErrCodeMoleculeNotFound, "no such molecule"),
	}
	rec := doJSON(t, moleculeRouter(svc), http.MethodGet, "/api/v1/molecules/mol-1", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(errors.ErrCodeMoleculeNotFound), body.Error.Code)
	assert.Equal(t, "no such molecule", body.Error.Message)
}

func TestConvertMolecule_SetsContentType(t *testing.T) {
	svc := &fakeMoleculeService{molecule: testMolecule()}
	rec := doJSON(t, moleculeRouter(svc), http.MethodGet, "/api/v1/molecules/mol-1/format/svg", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<svg/>", rec.Body.String())
}

func TestUpdateMolecule_RejectsUnknownVisibility(t *testing.T) {
	svc := &fakeMoleculeService{molecule: testMolecule()}
	rec := doJSON(t, moleculeRouter(svc), http.MethodPatch, "/api/v1/molecules/mol-1",
		gin.H{"visibility": "secret"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ─────────────────────────────────────────────────────────────────────────────
// calculation routes
// ─────────────────────────────────────────────────────────────────────────────

func testCalculation(t *testing.T) *calcdomain.Calculation {
	t.Helper()
	calc, err := calcdomain.New(common.NewID(), "", []string{calcdomain.TaskEnergy}, "user-1")
	require.NoError(t, err)
	return calc
}

func TestSubmitCalculation_Answers201(t *testing.T) {
	calcs := &fakeCalculationService{calc: testCalculation(t)}
	rec := doJSON(t, calculationRouter(calcs, &fakeOrbitalService{}),
		http.MethodPost, "/api/v1/calculations",
		gin.H{"molecule_id": "mol-1", "tasks": []string{"energy"}})

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestIngest_ExtractsEnvelopeAndFlags(t *testing.T) {
	calcs := &fakeCalculationService{calc: testCalculation(t)}
	rec := doJSON(t, calculationRouter(calcs, &fakeOrbitalService{}),
		http.MethodPost, "/api/v1/calculations/calc-1/results",
		gin.H{
			"chemicalJson": gin.H{"atoms": gin.H{}},
			"properties":   gin.H{"totalEnergy": -76.4},
			"detect_bonds": true,
		})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, calcs.lastInput.DetectBonds)
	assert.NotNil(t, calcs.lastInput.Document)
	assert.Equal(t, -76.4, calcs.lastInput.Properties["totalEnergy"])
}

func TestIngest_LegacyEnvelopeKeyAccepted(t *testing.T) {
	calcs := &fakeCalculationService{calc: testCalculation(t)}
	rec := doJSON(t, calculationRouter(calcs, &fakeOrbitalService{}),
		http.MethodPost, "/api/v1/calculations/calc-1/results",
		gin.H{"chemical json": gin.H{"atoms": gin.H{}}})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngest_MissingDocumentAnswers400(t *testing.T) {
	calcs := &fakeCalculationService{calc: testCalculation(t)}
	rec := doJSON(t, calculationRouter(calcs, &fakeOrbitalService{}),
		http.MethodPost, "/api/v1/calculations/calc-1/results",
		gin.H{"properties": gin.H{}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVibrationMode_ParsesModeNumber(t *testing.T) {
	calcs := &fakeCalculationService{summary: &cjson.Vibrations{Frequencies: []float64{3657.0}}}
	rec := doJSON(t, calculationRouter(calcs, &fakeOrbitalService{}),
		http.MethodGet, "/api/v1/calculations/calc-1/vibrations/8", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 8, calcs.lastMode)
}

func TestVibrationMode_RejectsNonInteger(t *testing.T) {
	calcs := &fakeCalculationService{}
	rec := doJSON(t, calculationRouter(calcs, &fakeOrbitalService{}),
		http.MethodGet, "/api/v1/calculations/calc-1/vibrations/soft", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCube_SyncAnswers200(t *testing.T) {
	orbitals := &fakeOrbitalService{doc: cjson.Document{"cube": map[string]interface{}{}}}
	rec := doJSON(t, calculationRouter(&fakeCalculationService{}, orbitals),
		http.MethodGet, "/api/v1/calculations/calc-1/cube/homo", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "homo", orbitals.lastMO)
	assert.False(t, orbitals.lastAsync)
}

func TestCube_AsyncAnswers202(t *testing.T) {
	orbitals := &fakeOrbitalService{doc: cjson.Document{"cube": map[string]interface{}{}}}
	rec := doJSON(t, calculationRouter(&fakeCalculationService{}, orbitals),
		http.MethodGet, "/api/v1/calculations/calc-1/cube/5?async=true", nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "5", orbitals.lastMO)
	assert.True(t, orbitals.lastAsync)
}

func TestCalculationConvert_SetsContentType(t *testing.T) {
	calcs := &fakeCalculationService{}
	rec := doJSON(t, calculationRouter(calcs, &fakeOrbitalService{}),
		http.MethodGet, "/api/v1/calculations/calc-1/format/xyz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "xyz", calcs.lastFormat)
	assert.Equal(t, "chemical/x-xyz", rec.Header().Get("Content-Type"))
	assert.Equal(t, "converted", rec.Body.String())
}

func TestTaskTypes_RequiresMoleculeID(t *testing.T) {
	rec := doJSON(t, calculationRouter(&fakeCalculationService{}, &fakeOrbitalService{}),
		http.MethodGet, "/api/v1/calculations/types", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, calculationRouter(&fakeCalculationService{}, &fakeOrbitalService{}),
		http.MethodGet, "/api/v1/calculations/types?molecule_id=mol-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"energy", "optimize"}, body["types"])
}

func TestOutputURL_AnswersPresignedLink(t *testing.T) {
	calcs := &fakeCalculationService{}
	rec := doJSON(t, calculationRouter(calcs, &fakeOrbitalService{}),
		http.MethodGet, "/api/v1/calculations/calc-1/output", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "https://files.example/presigned", body["url"])
}

// ─────────────────────────────────────────────────────────────────────────────
// health routes
// ─────────────────────────────────────────────────────────────────────────────

func TestReadiness_DegradesOnFailingComponent(t *testing.T) {
	h := NewHealthHandler(
		HealthCheckerFunc{ComponentName: "postgres", Probe: func(context.Context) error { return nil }},
		HealthCheckerFunc{ComponentName: "redis", Probe: func(context.Context) error {
			return errors.New(errors.ErrCodeCacheError, "connection refused")
		}},
	)
	r := gin.New()
	h.Register(r)

	rec := doJSON(t, r, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status     string                   `json:"status"`
		Components []common.ComponentHealth `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(common.HealthDown), body.Status)
	require.Len(t, body.Components, 2)
	assert.Equal(t, common.HealthUp, body.Components[0].Status)
	assert.Equal(t, common.HealthDown, body.Components[1].Status)
}

func TestLiveness_AlwaysUp(t *testing.T) {
	r := gin.New()
	NewHealthHandler().Register(r)

	rec := doJSON(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
