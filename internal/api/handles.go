package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"recordhub/internal/directory"
	"recordhub/internal/records"
)

// GET /api/records/handles?entity_types=note,contact&q=ali
func HandlesHandler(dir *directory.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := dir.List(c.Request.Context(), splitCSV(c.Query("entity_types")), c.Query("q"))
		if err != nil {
			writeError(c, err)
			return
		}
		if list == nil {
			list = []directory.Entry{}
		}
		c.JSON(http.StatusOK, list)
	}
}

// GET /api/records/handles/resolve?handles=alice,bob
func ResolveHandlesHandler(dir *directory.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := dir.Resolve(c.Request.Context(), splitCSV(c.Query("handles")))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

// GET /api/records/handles/:handle/mentions — кто упоминает handle
func BacklinksHandler(svc *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.Backlinks(c.Request.Context(), c.Param("handle"))
		if err != nil {
			writeError(c, err)
			return
		}
		if list == nil {
			list = []records.Mention{}
		}
		c.JSON(http.StatusOK, list)
	}
}
