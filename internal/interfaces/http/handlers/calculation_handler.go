package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appcalculation "github.com/chemcloud/calcstore/internal/application/calculation"
	apporbital "github.com/chemcloud/calcstore/internal/application/orbital"
	calcdomain "github.com/chemcloud/calcstore/internal/domain/calculation"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// CalculationHandler serves the /calculations routes, including the
// vibrational-mode and orbital-cube accessors.
type CalculationHandler struct {
	calculations appcalculation.Service
	orbitals     apporbital.Service
}

func NewCalculationHandler(calculations appcalculation.Service, orbitals apporbital.Service) *CalculationHandler {
	return &CalculationHandler{calculations: calculations, orbitals: orbitals}
}

// Register mounts the calculation routes on the given group.
func (h *CalculationHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/calculations", h.Submit)
	rg.GET("/calculations", h.List)
	rg.GET("/calculations/types", h.TaskTypes)
	rg.GET("/calculations/:id", h.Get)
	rg.DELETE("/calculations/:id", h.Delete)
	rg.GET("/calculations/:id/format/:format", h.Convert)

	rg.POST("/calculations/:id/start", h.Start)
	rg.POST("/calculations/:id/results", h.Ingest)
	rg.POST("/calculations/:id/error", h.MarkError)

	rg.PUT("/calculations/:id/properties", h.ReplaceProperties)
	rg.POST("/calculations/:id/notebooks", h.AddNotebooks)

	rg.GET("/calculations/:id/vibrations", h.Vibrations)
	rg.GET("/calculations/:id/vibrations/:mode", h.VibrationMode)
	rg.GET("/calculations/:id/cube/:mo", h.Cube)

	rg.POST("/calculations/:id/output", h.UploadOutput)
	rg.GET("/calculations/:id/output", h.OutputURL)
}

type submitCalculationRequest struct {
	MoleculeID      string          `json:"molecule_id"`
	Structure       string          `json:"structure"`
	Format          string          `json:"format"`
	GeometryID      string          `json:"geometry_id"`
	Tasks           []string        `json:"tasks" binding:"required"`
	Code            string          `json:"code"`
	ImageName       string          `json:"image_name"`
	InputParameters common.Metadata `json:"input_parameters"`
	Visibility      string          `json:"visibility"`

	// CJSON submits the results inline; the calculation is created already
	// complete instead of pending.
	CJSON map[string]interface{} `json:"cjson"`
}

// Submit registers a run.  The request names an existing molecule or carries
// the structure inline, in which case the molecule is resolved first.
func (h *CalculationHandler) Submit(c *gin.Context) {
	var req submitCalculationRequest
	if !bindJSON(c, &req) {
		return
	}

	calc, err := h.calculations.Submit(c.Request.Context(), appcalculation.SubmitInput{
		MoleculeID:      common.ID(req.MoleculeID),
		Structure:       req.Structure,
		Format:          req.Format,
		GeometryID:      common.ID(req.GeometryID),
		Tasks:           req.Tasks,
		Code:            req.Code,
		ImageName:       req.ImageName,
		InputParameters: req.InputParameters,
		Visibility:      common.Visibility(req.Visibility),
		CreatedBy:       userID(c),
		Document:        cjson.Document(req.CJSON),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	created(c, calc)
}

func (h *CalculationHandler) Get(c *gin.Context) {
	calc, err := h.calculations.Get(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, calc)
}

func (h *CalculationHandler) List(c *gin.Context) {
	filter := calcdomain.Filter{
		MoleculeID: common.ID(c.Query("molecule_id")),
		GeometryID: common.ID(c.Query("geometry_id")),
		ImageName:  c.Query("image_name"),
		Status:     calcdomain.Status(c.Query("status")),
		Task:       c.Query("task"),
		CreatedBy:  common.UserID(c.Query("creator")),
		InChIKey:   c.Query("inchikey"),
	}

	result, err := h.calculations.List(c.Request.Context(), filter, pagination(c))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, result)
}

// TaskTypes lists the distinct task names across a molecule's calculations.
func (h *CalculationHandler) TaskTypes(c *gin.Context) {
	moleculeID := c.Query("molecule_id")
	if moleculeID == "" {
		respondError(c, errors.InvalidParam("molecule_id is required"))
		return
	}
	types, err := h.calculations.TaskTypes(c.Request.Context(), common.ID(moleculeID))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"types": types})
}

// Convert renders the result document in another structure format.
func (h *CalculationHandler) Convert(c *gin.Context) {
	format := c.Param("format")
	data, err := h.calculations.Convert(c.Request.Context(), common.ID(c.Param("id")), format)
	if err != nil {
		respondError(c, err)
		return
	}
	contentType := contentTypes[format]
	if contentType == "" {
		contentType = "text/plain"
	}
	c.Data(http.StatusOK, contentType, data)
}

func (h *CalculationHandler) Delete(c *gin.Context) {
	if err := h.calculations.Delete(c.Request.Context(), common.ID(c.Param("id"))); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CalculationHandler) Start(c *gin.Context) {
	calc, err := h.calculations.Start(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, calc)
}

// Ingest accepts a run's results.  The body is the result envelope: the
// chemical JSON document under its envelope key plus optional properties and
// bond-detection flags.  Alternatively a file_id and format reference a
// stored raw output file to convert and ingest.
func (h *CalculationHandler) Ingest(c *gin.Context) {
	var payload map[string]interface{}
	if !bindJSON(c, &payload) {
		return
	}

	var input appcalculation.IngestInput
	if fileID, ok := payload["file_id"].(string); ok && fileID != "" {
		input.FileID = fileID
		input.Format, _ = payload["format"].(string)
	} else {
		doc, err := cjson.FromEnvelope(payload)
		if err != nil {
			respondError(c, err)
			return
		}
		input.Document = doc
	}
	if props, ok := payload["properties"].(map[string]interface{}); ok {
		input.Properties = common.Metadata(props)
	}
	if detect, ok := payload["detect_bonds"].(bool); ok {
		input.DetectBonds = detect
	}
	if overwrite, ok := payload["overwrite_bonds"].(bool); ok {
		input.OverwriteBonds = overwrite
	}

	calc, err := h.calculations.Ingest(c.Request.Context(), common.ID(c.Param("id")), input)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, calc)
}

type markErrorRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *CalculationHandler) MarkError(c *gin.Context) {
	var req markErrorRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.calculations.MarkError(c.Request.Context(), common.ID(c.Param("id")), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReplaceProperties overwrites the property map wholesale.
func (h *CalculationHandler) ReplaceProperties(c *gin.Context) {
	var props common.Metadata
	if !bindJSON(c, &props) {
		return
	}
	if err := h.calculations.ReplaceProperties(c.Request.Context(), common.ID(c.Param("id")), props); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addNotebooksRequest struct {
	Notebooks []string `json:"notebooks" binding:"required"`
}

func (h *CalculationHandler) AddNotebooks(c *gin.Context) {
	var req addNotebooksRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.calculations.AddNotebooks(c.Request.Context(), common.ID(c.Param("id")), req.Notebooks); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Vibrations lists all normal modes without eigenvector payloads.
func (h *CalculationHandler) Vibrations(c *gin.Context) {
	summary, err := h.calculations.VibrationSummary(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, summary)
}

// VibrationMode returns one normal mode, eigenvectors included.
func (h *CalculationHandler) VibrationMode(c *gin.Context) {
	mode, err := strconv.Atoi(c.Param("mode"))
	if err != nil {
		respondError(c, errors.InvalidParam("mode must be an integer").
			WithDetail("mode="+c.Param("mode")))
		return
	}

	vib, err := h.calculations.VibrationMode(c.Request.Context(), common.ID(c.Param("id")), mode)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, vib)
}

// Cube returns the calculation document with the requested orbital's cube.
// mo is an orbital index or a frontier alias (homo, lumo); async=true queues
// the computation and answers with a placeholder cube immediately.
func (h *CalculationHandler) Cube(c *gin.Context) {
	async := c.Query("async") == "true"

	doc, err := h.orbitals.Cube(c.Request.Context(), common.ID(c.Param("id")), c.Param("mo"), async, userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if async {
		c.JSON(http.StatusAccepted, doc)
		return
	}
	ok(c, doc)
}

// UploadOutput attaches the raw program output file.
func (h *CalculationHandler) UploadOutput(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respondError(c, errors.Validation("multipart field 'file' is required").WithCause(err))
		return
	}
	defer file.Close()

	calc, err := h.calculations.AttachOutputFile(c.Request.Context(),
		common.ID(c.Param("id")), header.Filename, file, header.Size,
		header.Header.Get("Content-Type"))
	if err != nil {
		respondError(c, err)
		return
	}
	created(c, calc)
}

// OutputURL answers a presigned download URL for the raw output file.
func (h *CalculationHandler) OutputURL(c *gin.Context) {
	url, err := h.calculations.OutputFileURL(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"url": url})
}
