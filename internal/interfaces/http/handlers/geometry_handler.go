package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chemcloud/calcstore/internal/domain/geometry"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// GeometryHandler serves stored conformations.  Uploaded geometries attach to
// a molecule directly; calculation-derived geometries are written by result
// ingest and are read-only here.
type GeometryHandler struct {
	geometries geometry.Repository
}

func NewGeometryHandler(geometries geometry.Repository) *GeometryHandler {
	return &GeometryHandler{geometries: geometries}
}

// Register mounts the geometry routes on the given group.
func (h *GeometryHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/molecules/:id/geometries", h.Create)
	rg.GET("/molecules/:id/geometries", h.ListByMolecule)
	rg.GET("/geometries/:id", h.Get)
	rg.DELETE("/geometries/:id", h.Delete)
}

func (h *GeometryHandler) Create(c *gin.Context) {
	var payload map[string]interface{}
	if !bindJSON(c, &payload) {
		return
	}
	doc, err := cjson.FromEnvelope(payload)
	if err != nil {
		// Accept a bare document body as well as the enveloped form.
		doc = cjson.Document(payload)
	}
	if doc.AtomCount() == 0 {
		respondError(c, errors.Validation("geometry document has no atoms"))
		return
	}

	geom, err := geometry.New(common.ID(c.Param("id")), doc,
		geometry.ProvenanceUpload, "", userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.geometries.Create(c.Request.Context(), geom); err != nil {
		respondError(c, err)
		return
	}
	created(c, geom)
}

func (h *GeometryHandler) ListByMolecule(c *gin.Context) {
	page := pagination(c).Normalize()
	items, total, err := h.geometries.ListByMolecule(c.Request.Context(),
		common.ID(c.Param("id")), page)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, common.ListResult[*geometry.Geometry]{
		Items:  items,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func (h *GeometryHandler) Get(c *gin.Context) {
	geom, err := h.geometries.GetByID(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, geom)
}

func (h *GeometryHandler) Delete(c *gin.Context) {
	if err := h.geometries.Delete(c.Request.Context(), common.ID(c.Param("id"))); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
