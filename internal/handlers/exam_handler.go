package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BenedictKing/laudo/internal/gateway"
	"github.com/BenedictKing/laudo/internal/middleware"
	"github.com/BenedictKing/laudo/internal/pipeline"
	"github.com/BenedictKing/laudo/internal/types"

	"github.com/gin-gonic/gin"
)

// ExamAnalyzer 由 pipeline.Pipeline 实现
type ExamAnalyzer interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

type analyzeRequest struct {
	Document  string                `json:"document"`
	MediaKind string                `json:"mediaKind"`
	LabName   string                `json:"labName"`
	ExamDate  string                `json:"examDate"`
	Patient   *types.PatientContext `json:"patient"`
}

// AnalyzeExam POST /api/v1/exams/analyze
// 支持 JSON（document 为 base64）与 multipart（file 字段）
func AnalyzeExam(analyzer ExamAnalyzer, maxDocumentSize int64, timeout time.Duration) gin.HandlerFunc {
	// base64 膨胀约 4/3，另留表单与元数据余量
	maxBody := maxDocumentSize/3*4 + 64<<10

	return func(c *gin.Context) {
		in, ok := bindAnalyzeInput(c, maxBody)
		if !ok {
			return
		}
		in.AccountID = middleware.AccountID(c)

		ctx := c.Request.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		result, err := analyzer.Run(ctx, in)
		if err != nil {
			writePipelineError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func bindAnalyzeInput(c *gin.Context, maxBody int64) (pipeline.Input, bool) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return bindMultipart(c, maxBody)
	}

	body, err := readLimited(c, c.Request.Body, maxBody)
	if err != nil {
		return pipeline.Input{}, false
	}
	var req analyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return pipeline.Input{}, false
	}
	if req.Document == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document is required"})
		return pipeline.Input{}, false
	}
	return pipeline.Input{
		Document:      []byte(req.Document),
		MediaKind:     req.MediaKind,
		PriorLabName:  req.LabName,
		PriorExamDate: req.ExamDate,
		Patient:       req.Patient,
	}, true
}

func bindMultipart(c *gin.Context, maxBody int64) (pipeline.Input, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return pipeline.Input{}, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return pipeline.Input{}, false
	}

	data, err := readFormFile(c, fh, maxBody)
	if err != nil {
		return pipeline.Input{}, false
	}

	kind := c.PostForm("mediaKind")
	if kind == "" {
		kind = strings.TrimPrefix(strings.ToLower(filepath.Ext(fh.Filename)), ".")
	}

	in := pipeline.Input{
		Document:      data,
		MediaKind:     kind,
		PriorLabName:  c.PostForm("labName"),
		PriorExamDate: c.PostForm("examDate"),
	}
	patient := types.PatientContext{
		Sex:     c.PostForm("patientSex"),
		History: c.PostForm("patientHistory"),
	}
	if age, err := strconv.Atoi(c.PostForm("patientAge")); err == nil {
		patient.Age = age
	}
	if !patient.IsZero() {
		in.Patient = &patient
	}
	return in, true
}

func readFormFile(c *gin.Context, fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return nil, err
	}
	defer f.Close()
	return readLimited(c, f, limit)
}

// writePipelineError 流水线错误到 HTTP 状态码的映射
func writePipelineError(c *gin.Context, err error) {
	var se *pipeline.StageError
	if !errors.As(err, &se) {
		log.Printf("[Exam-Analyze] 未知错误: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	switch se.Stage {
	case "validation":
		c.JSON(http.StatusBadRequest, gin.H{"error": se.Err.Error(), "examId": se.ExamID})
	default:
		outcome := gateway.OutcomeOf(err)
		log.Printf("[Exam-Analyze] exam=%s 提取失败 (%s): %v", se.ExamID, outcome, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": pipeline.UserFacingExtractionError, "examId": se.ExamID})
	}
}
