package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appmolecule "github.com/chemcloud/calcstore/internal/application/molecule"
	moldomain "github.com/chemcloud/calcstore/internal/domain/molecule"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// MoleculeHandler serves the /molecules routes.
type MoleculeHandler struct {
	molecules appmolecule.Service
}

func NewMoleculeHandler(molecules appmolecule.Service) *MoleculeHandler {
	return &MoleculeHandler{molecules: molecules}
}

// Register mounts the molecule routes on the given group.
func (h *MoleculeHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/molecules", h.Create)
	rg.GET("/molecules", h.List)
	rg.GET("/molecules/:id", h.Get)
	rg.PATCH("/molecules/:id", h.Update)
	rg.DELETE("/molecules/:id", h.Delete)
	rg.GET("/molecules/:id/format/:format", h.Convert)
	rg.GET("/molecules/:id/similar", h.Similar)
	rg.GET("/molecules/inchikey/:inchikey", h.GetByInChIKey)
}

type createMoleculeRequest struct {
	Data       string `json:"data" binding:"required"`
	Format     string `json:"format" binding:"required"`
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
}

// Create stores a structure.  A submission whose InChIKey matches a stored
// molecule answers 200 with the existing record; a new molecule answers 201.
func (h *MoleculeHandler) Create(c *gin.Context) {
	var req createMoleculeRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.molecules.Create(c.Request.Context(), appmolecule.CreateInput{
		Data:       req.Data,
		Format:     req.Format,
		Name:       req.Name,
		Visibility: common.Visibility(req.Visibility),
		CreatedBy:  userID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Created {
		created(c, result.Molecule)
		return
	}
	ok(c, result.Molecule)
}

func (h *MoleculeHandler) Get(c *gin.Context) {
	mol, err := h.molecules.Get(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, mol)
}

func (h *MoleculeHandler) GetByInChIKey(c *gin.Context) {
	mol, err := h.molecules.GetByInChIKey(c.Request.Context(), c.Param("inchikey"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, mol)
}

func (h *MoleculeHandler) List(c *gin.Context) {
	filter := moldomain.Filter{
		Formula: c.Query("formula"),
		Element: c.Query("element"),
		Search:  c.Query("search"),
	}
	if creator := c.Query("creator"); creator != "" {
		filter.CreatedBy = common.UserID(creator)
	}

	result, err := h.molecules.List(c.Request.Context(), filter, pagination(c))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, result)
}

type updateMoleculeRequest struct {
	Name       *string `json:"name"`
	Visibility *string `json:"visibility"`
}

func (h *MoleculeHandler) Update(c *gin.Context) {
	var req updateMoleculeRequest
	if !bindJSON(c, &req) {
		return
	}

	var visibility *common.Visibility
	if req.Visibility != nil {
		v := common.Visibility(*req.Visibility)
		if v != common.VisibilityPublic && v != common.VisibilityPrivate {
			respondError(c, errors.InvalidParam("visibility must be public or private"))
			return
		}
		visibility = &v
	}

	mol, err := h.molecules.Update(c.Request.Context(), common.ID(c.Param("id")), req.Name, visibility)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, mol)
}

func (h *MoleculeHandler) Delete(c *gin.Context) {
	if err := h.molecules.Delete(c.Request.Context(), common.ID(c.Param("id"))); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// contentTypes maps structure formats to response content types.
var contentTypes = map[string]string{
	"cjson": "application/json",
	"svg":   "image/svg+xml",
	"sdf":   "chemical/x-mdl-sdfile",
	"xyz":   "chemical/x-xyz",
	"pdb":   "chemical/x-pdb",
}

// Convert renders the stored structure in another format.
func (h *MoleculeHandler) Convert(c *gin.Context) {
	format := c.Param("format")
	data, err := h.molecules.Convert(c.Request.Context(), common.ID(c.Param("id")), format)
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

func (h *MoleculeHandler) Similar(c *gin.Context) {
	topK := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, errors.InvalidParam("limit must be a positive integer"))
			return
		}
		topK = n
	}

	matches, err := h.molecules.Similar(c.Request.Context(), common.ID(c.Param("id")), topK)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"matches": matches})
}
