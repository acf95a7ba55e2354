package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/gin-gonic/gin"
)

// maxDictionarySize bounds a dictionary descriptor upload.
const maxDictionarySize = 32 << 20

func (h *Handler) listDictionaries(c *gin.Context) {
	list, err := h.svc.Dictionaries.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) registerDictionary(c *gin.Context) {
	body, err := requestBody(c.GetHeader("Content-Encoding"), c.Request.Body)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer body.Close()

	content, err := io.ReadAll(io.LimitReader(body, maxDictionarySize+1))
	if err != nil {
		h.fail(c, fmt.Errorf("%w: reading dictionary: %v", common.ErrInvalidRequest, err))
		return
	}
	if len(content) > maxDictionarySize {
		abortStatus(c, http.StatusRequestEntityTooLarge, "dictionary_too_large", "dictionary exceeds the size limit")
		return
	}

	d, created, err := h.svc.Dictionaries.Register(c.Request.Context(), content)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info(c.Request.Context(), "dictionary registered",
		"dictionary", d.Name, "created", created, "by", userName(c))
	if created {
		writeStatus(c, http.StatusCreated, "Dictionary added")
		return
	}
	writeStatus(c, http.StatusOK, "Dictionary updated")
}

func (h *Handler) getDictionary(c *gin.Context) {
	d, err := h.svc.Dictionaries.Get(c.Request.Context(), c.Param("dict"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeJSON, []byte(d.Content))
}

func (h *Handler) deleteDictionary(c *gin.Context) {
	dataOnly, _ := strconv.ParseBool(c.Query("dataOnly"))
	name := c.Param("dict")

	if err := h.svc.Dictionaries.Delete(c.Request.Context(), name, dataOnly); err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info(c.Request.Context(), "dictionary deleted",
		"dictionary", name, "dataOnly", dataOnly, "by", userName(c))
	writeStatus(c, http.StatusOK, "Success")
}

type historyQuery struct {
	Device string    `form:"device"`
	From   time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To     time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit  int       `form:"limit" binding:"min=0"`
	Offset int       `form:"offset" binding:"min=0"`
}

func (h *Handler) syncHistory(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err))
		return
	}

	list, err := h.svc.Dictionaries.History(c.Request.Context(), c.Param("dict"), models.SyncFilter{
		Device: q.Device,
		From:   q.From,
		To:     q.To,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) getCase(c *gin.Context) {
	cs, err := h.svc.Cases.Get(c.Request.Context(), c.Param("dict"), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

// updateCase replaces one case. The body may be the case object or a one
// element array.
func (h *Handler) updateCase(c *gin.Context) {
	req, body, ok := h.uploadRequest(c)
	if !ok {
		return
	}
	defer body.Close()
	req.Body = asArray(req.Body)

	res, err := h.svc.Cases.Update(c.Request.Context(), c.Param("dict"), c.Param("id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.uploadResponse(c, res)
}

func (h *Handler) deleteCase(c *gin.Context) {
	rev, err := h.svc.Cases.Delete(c.Request.Context(), c.Param("dict"), c.Param("id"), userName(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	s := strconv.FormatInt(rev, 10)
	c.Header("ETag", s)
	c.Header(common.HeaderCurrentRevision, s)
	writeStatus(c, http.StatusOK, "Success")
}
