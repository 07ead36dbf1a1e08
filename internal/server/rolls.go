package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	"github.com/smallbiznis/stocktake/internal/providers/ocr"
	"github.com/smallbiznis/stocktake/internal/providers/storage"
	triagedomain "github.com/smallbiznis/stocktake/internal/triage/domain"
	"go.uber.org/zap"
)

type ingestRollRequest struct {
	CaptureSequence   int         `json:"capture_sequence"`
	CounterID         string      `json:"counter_id"`
	Quality           string      `json:"quality"`
	Color             string      `json:"color"`
	LotNumber         string      `json:"lot_number"`
	Meters            float64     `json:"meters"`
	PhotoPath         string      `json:"photo_path"`
	PhotoOriginalPath string      `json:"photo_original_path"`
	OCR               *ocr.Result `json:"ocr"`
	IsManualEntry     bool        `json:"is_manual_entry"`
	IsNotLabelWarning bool        `json:"is_not_label_warning"`
}

type listRollsQuery struct {
	Filter   string `form:"filter"`
	Sort     string `form:"sort"`
	Order    string `form:"order"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}

type reviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Reason     string `json:"reason"`
}

type editRollRequest struct {
	triagedomain.EditRequest
	ReviewerID string `json:"reviewer_id"`
}

type bulkApproveRequest struct {
	RollIDs    []string `json:"roll_ids"`
	ReviewerID string   `json:"reviewer_id"`
}

// rollView adds a short-lived photo link to the stored roll.
type rollView struct {
	rolldomain.CountRoll
	PhotoURL string `json:"photo_url,omitempty"`
}

func (s *Server) IngestRoll(c *gin.Context) {
	sessionID, ok := pathID(c, sessiondomain.ParseID)
	if !ok {
		return
	}

	var req ingestRollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.rolls.IngestRoll(c.Request.Context(), rolldomain.IngestRequest{
		SessionID:         sessionID,
		CaptureSequence:   req.CaptureSequence,
		CounterID:         actorID(c, req.CounterID),
		Quality:           strings.TrimSpace(req.Quality),
		Color:             strings.TrimSpace(req.Color),
		LotNumber:         strings.TrimSpace(req.LotNumber),
		Meters:            req.Meters,
		PhotoPath:         strings.TrimSpace(req.PhotoPath),
		PhotoOriginalPath: strings.TrimSpace(req.PhotoOriginalPath),
		OCR:               req.OCR,
		IsManualEntry:     req.IsManualEntry,
		IsNotLabelWarning: req.IsNotLabelWarning,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": s.viewRoll(*resp)})
}

// CaptureRoll takes a multipart upload: an "image" file plus the counter's form fields.
func (s *Server) CaptureRoll(c *gin.Context) {
	sessionID, ok := pathID(c, sessiondomain.ParseID)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCaptureBytes)
	header, err := c.FormFile("image")
	if err != nil {
		AbortWithError(c, newValidationError("image", "invalid_image", "image file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sequence, err := parseOptionalInt(c.PostForm("capture_sequence"))
	if err != nil {
		AbortWithError(c, newValidationError("capture_sequence", "invalid_capture_sequence", "invalid capture_sequence"))
		return
	}
	meters, err := parseOptionalFloat(c.PostForm("meters"))
	if err != nil {
		AbortWithError(c, newValidationError("meters", "invalid_meters", "invalid meters"))
		return
	}
	manual, err := parseOptionalBool(c.PostForm("is_manual_entry"))
	if err != nil {
		AbortWithError(c, newValidationError("is_manual_entry", "invalid_is_manual_entry", "invalid is_manual_entry"))
		return
	}
	notLabel, err := parseOptionalBool(c.PostForm("is_not_label_warning"))
	if err != nil {
		AbortWithError(c, newValidationError("is_not_label_warning", "invalid_is_not_label_warning", "invalid is_not_label_warning"))
		return
	}

	req := rolldomain.CaptureRequest{
		SessionID:         sessionID,
		CaptureSequence:   sequence,
		CounterID:         actorID(c, c.PostForm("counter_id")),
		Image:             image,
		Quality:           strings.TrimSpace(c.PostForm("quality")),
		Color:             strings.TrimSpace(c.PostForm("color")),
		LotNumber:         strings.TrimSpace(c.PostForm("lot_number")),
		IsManualEntry:     manual != nil && *manual,
		IsNotLabelWarning: notLabel != nil && *notLabel,
	}
	if meters != nil {
		req.Meters = *meters
	}

	resp, err := s.rolls.CaptureRoll(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": s.viewRoll(*resp)})
}

func (s *Server) ListRolls(c *gin.Context) {
	page, ok := s.loadRollPage(c)
	if !ok {
		return
	}

	views := make([]rollView, 0, len(page.Rolls))
	for _, roll := range page.Rolls {
		views = append(views, s.viewRoll(roll))
	}

	c.JSON(http.StatusOK, gin.H{"data": views, "page_info": page.PageInfo})
}

// ListReadyForApproval returns the ids a reviewer's "select ready" action would check on the requested page.
func (s *Server) ListReadyForApproval(c *gin.Context) {
	page, ok := s.loadRollPage(c)
	if !ok {
		return
	}

	ids := triagedomain.SelectReadyForApproval(page.Rolls)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}

	c.JSON(http.StatusOK, gin.H{"data": out, "page_info": page.PageInfo})
}

func (s *Server) loadRollPage(c *gin.Context) (triagedomain.Page, bool) {
	sessionID, ok := pathID(c, sessiondomain.ParseID)
	if !ok {
		return triagedomain.Page{}, false
	}

	var query listRollsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return triagedomain.Page{}, false
	}

	filter, err := triagedomain.ParseFilter(query.Filter)
	if err != nil {
		AbortWithError(c, err)
		return triagedomain.Page{}, false
	}

	var desc bool
	switch strings.ToLower(strings.TrimSpace(query.Order)) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		AbortWithError(c, newValidationError("order", "invalid_order", "order must be asc or desc"))
		return triagedomain.Page{}, false
	}

	page, err := s.triage.List(c.Request.Context(), triagedomain.Query{
		SessionID: sessionID,
		Filter:    filter,
		Sort:      triagedomain.Sort{Column: query.Sort, Desc: desc},
		Page:      query.Page,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return triagedomain.Page{}, false
	}
	return page, true
}

func (s *Server) BulkApprove(c *gin.Context) {
	sessionID, ok := pathID(c, sessiondomain.ParseID)
	if !ok {
		return
	}

	var req bulkApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	ids, err := parseIDList(req.RollIDs, rolldomain.ParseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.triage.BulkApprove(c.Request.Context(), sessionID, ids, actorID(c, req.ReviewerID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetRoll(c *gin.Context) {
	id, ok := pathID(c, rolldomain.ParseID)
	if !ok {
		return
	}

	resp, err := s.rolls.GetRoll(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.viewRoll(*resp)})
}

func (s *Server) EditRoll(c *gin.Context) {
	id, ok := pathID(c, rolldomain.ParseID)
	if !ok {
		return
	}

	var req editRollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	edit := req.EditRequest
	edit.Quality = trimStringPtr(edit.Quality)
	edit.Color = trimStringPtr(edit.Color)
	edit.LotNumber = trimStringPtr(edit.LotNumber)
	edit.Notes = trimStringPtr(edit.Notes)

	resp, err := s.triage.EditAndSave(c.Request.Context(), id, edit, actorID(c, req.ReviewerID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.viewRoll(*resp)})
}

func (s *Server) ApproveRoll(c *gin.Context) {
	id, ok := pathID(c, rolldomain.ParseID)
	if !ok {
		return
	}

	var req reviewRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.triage.Approve(c.Request.Context(), id, actorID(c, req.ReviewerID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.viewRoll(*resp)})
}

func (s *Server) RejectRoll(c *gin.Context) {
	id, ok := pathID(c, rolldomain.ParseID)
	if !ok {
		return
	}

	var req reviewRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.triage.Reject(c.Request.Context(), id, actorID(c, req.ReviewerID), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.viewRoll(*resp)})
}

func (s *Server) RequestRecount(c *gin.Context) {
	id, ok := pathID(c, rolldomain.ParseID)
	if !ok {
		return
	}

	var req reviewRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.triage.RequestRecount(c.Request.Context(), id, actorID(c, req.ReviewerID), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.viewRoll(*resp)})
}

func (s *Server) RerunRollOCR(c *gin.Context) {
	id, ok := pathID(c, rolldomain.ParseID)
	if !ok {
		return
	}

	var req actorRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.rerun.RerunOCR(c.Request.Context(), id, actorID(c, req.ActorID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.viewRoll(*resp)})
}

func (s *Server) viewRoll(roll rolldomain.CountRoll) rollView {
	view := rollView{CountRoll: roll}
	if s.photos == nil || roll.PhotoPath == nil || *roll.PhotoPath == "" {
		return view
	}
	link, err := s.photos.SignedURL(*roll.PhotoPath)
	switch {
	case err == nil:
		view.PhotoURL = link
	case errors.Is(err, storage.ErrSigningKeyless):
	default:
		s.log.Warn("photo url not signed", zap.String("roll_id", roll.ID.String()), zap.Error(err))
	}
	return view
}

func parseOptionalInt(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.Atoi(trimmed)
}

func trimStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
