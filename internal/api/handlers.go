package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"recordhub/internal/records"
)

const defaultActivityLimit = 50

// POST /api/records/:entity_type
func CreateHandler(svc *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			badJSON(c, err)
			return
		}
		actor := takeActor(body)

		rec, err := svc.Create(c.Request.Context(), c.Param("entity_type"), body, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, flatten(rec))
	}
}

// GET /api/records/:entity_type?limit=&offset=
func ListHandler(svc *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		all, err := svc.List(c.Request.Context(), c.Param("entity_type"))
		if err != nil {
			writeError(c, err)
			return
		}
		lp := parseListParams(c.Request.URL.Query())
		c.Header("X-Total-Count", strconv.Itoa(len(all)))
		c.JSON(http.StatusOK, flattenAll(page(all, lp)))
	}
}

// GET /api/records/:entity_type/:entity_id
func GetOneHandler(svc *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := svc.Get(c.Request.Context(), c.Param("entity_type"), c.Param("entity_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, flatten(rec))
	}
}

// PUT /api/records/:entity_type/:entity_id
// Частичное обновление: проверяются только переданные поля.
func UpdateHandler(svc *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			badJSON(c, err)
			return
		}
		actor := takeActor(body)

		rec, err := svc.Update(c.Request.Context(), c.Param("entity_type"), c.Param("entity_id"), body, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, flatten(rec))
	}
}

// GET /api/records/:entity_type/:entity_id/activity?limit=
func ActivityHandler(svc *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultActivityLimit
		if n, ok := intParam(c.Request.URL.Query(), "limit"); ok {
			limit = n
		}
		list, err := svc.Activity(c.Request.Context(), c.Param("entity_type"), c.Param("entity_id"), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		if list == nil {
			list = []records.ActivityEntry{}
		}
		c.JSON(http.StatusOK, list)
	}
}
