package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/casesync/internal/common"
	"github.com/dmitrijs2005/casesync/internal/server/services"
	"github.com/gin-gonic/gin"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// download serves one page of cases changed since the device's cursor.
func (h *Handler) download(c *gin.Context) {
	ctx := c.Request.Context()
	req, ok := h.downloadRequest(c)
	if !ok {
		return
	}
	log := h.logger.With("dictionary", req.Dictionary, "device", req.Device)

	d, err := h.svc.Downloads.Prepare(ctx, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Warn(ctx, "failed to remove download spool", "error", err)
		}
	}()

	etag := strconv.FormatInt(d.MaxRevision, 10)
	if d.PreconditionFailed {
		c.Header("ETag", etag)
		abortStatus(c, http.StatusPreconditionFailed, "precondition_failed",
			"the device is ahead of the server, a full sync is required")
		return
	}

	c.Header("ETag", etag)
	c.Header(common.HeaderChunkMaxRevision, strconv.FormatInt(d.ChunkMaxRevision, 10))
	c.Header(common.HeaderRangeCount, fmt.Sprintf("%d/%d", d.Sent, d.Total))
	if d.Binary {
		c.Header("Content-Type", contentTypeBinary)
	} else {
		c.Header("Content-Type", contentTypeJSON)
	}

	code := http.StatusOK
	if d.Partial() {
		code = http.StatusPartialContent
	}
	c.Status(code)
	if err := d.WriteTo(ctx, c.Writer); err != nil {
		// Headers are out, all that is left is to stop.
		log.Warn(ctx, "download stream interrupted", "error", err)
		c.Abort()
		return
	}
	log.Debug(ctx, "download sent", "sent", d.Sent, "total", d.Total, "truncated", d.Truncated)
}

func (h *Handler) downloadRequest(c *gin.Context) (*services.DownloadRequest, bool) {
	device, ok := h.device(c)
	if !ok {
		return nil, false
	}

	req := &services.DownloadRequest{
		Dictionary: c.Param("dict"),
		Device:     device,
		UserName:   userName(c),
		StartAfter: unquote(c.GetHeader(common.HeaderStartAfter)),
		Universe:   unquote(c.GetHeader(common.HeaderUniverse)),
	}

	var err error
	if req.LastRevision, err = headerInt64(c, common.HeaderIfRevisionExists); err != nil {
		h.fail(c, err)
		return nil, false
	}
	if v := unquote(c.GetHeader(common.HeaderRangeCount)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			abortStatus(c, http.StatusBadRequest, "invalid_range_count", fmt.Sprintf("%q is not a valid range count", v))
			return nil, false
		}
		req.RangeCount = n
	}
	if req.ExcludeRevisions, err = revisionList(c.GetHeader(common.HeaderExcludeRevisions)); err != nil {
		h.fail(c, err)
		return nil, false
	}
	return req, true
}

// upload stores a batch of cases from the device.
func (h *Handler) upload(c *gin.Context) {
	req, body, ok := h.uploadRequest(c)
	if !ok {
		return
	}
	defer body.Close()

	res, err := h.svc.Uploads.Upload(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.uploadResponse(c, res)
}

// uploadRequest reads the protocol headers of an upload. The returned
// closer releases the decoded body.
func (h *Handler) uploadRequest(c *gin.Context) (*services.UploadRequest, io.Closer, bool) {
	device, ok := h.device(c)
	if !ok {
		return nil, nil, false
	}
	ifRev, err := headerInt64(c, common.HeaderIfRevisionExists)
	if err != nil {
		h.fail(c, err)
		return nil, nil, false
	}
	body, err := requestBody(c.GetHeader("Content-Encoding"), c.Request.Body)
	if err != nil {
		h.fail(c, err)
		return nil, nil, false
	}
	return &services.UploadRequest{
		Dictionary:       c.Param("dict"),
		Device:           device,
		UserName:         userName(c),
		IfRevisionExists: ifRev,
		Body:             body,
	}, body, true
}

func (h *Handler) uploadResponse(c *gin.Context, res *services.UploadResult) {
	if res.Status == services.UploadStatusPreconditionFailed {
		if res.LastSync == nil {
			c.AbortWithStatusJSON(http.StatusPreconditionFailed, gin.H{})
			return
		}
		c.AbortWithStatusJSON(http.StatusPreconditionFailed, services.SyncInfo(res.LastSync))
		return
	}

	rev := strconv.FormatInt(res.Revision, 10)
	c.Header("ETag", rev)
	c.Header(common.HeaderCurrentRevision, rev)
	writeStatus(c, http.StatusOK, "Success")
}

func (h *Handler) device(c *gin.Context) (string, bool) {
	device := strings.TrimSpace(c.GetHeader(common.HeaderDevice))
	if device == "" {
		abortStatus(c, http.StatusBadRequest, "invalid_request", "missing "+common.HeaderDevice+" header")
		return "", false
	}
	return device, true
}

func unquote(v string) string {
	return strings.Trim(strings.TrimSpace(v), `"`)
}

func headerInt64(c *gin.Context, name string) (int64, error) {
	v := unquote(c.GetHeader(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: header %s: %q is not a revision", common.ErrInvalidRequest, name, v)
	}
	return n, nil
}

func revisionList(v string) ([]int64, error) {
	v = unquote(v)
	if v == "" {
		return nil, nil
	}
	var out []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %q is not a revision", common.ErrInvalidRequest, common.HeaderExcludeRevisions, part)
		}
		out = append(out, n)
	}
	return out, nil
}
