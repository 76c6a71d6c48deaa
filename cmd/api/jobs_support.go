package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/job-tracker/internal/jobs"
	"github.com/yourusername/job-tracker/internal/ping"
)

const maxListLimit = 200

type pingRequest struct {
	Note      string `json:"note" binding:"required"`
	Uppercase bool   `json:"uppercase"`
	Queue     string `json:"queue"`
}

// respondJobError はジョブ操作のエラーをHTTPレスポンスに変換します。
func respondJobError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, jobs.ErrUnknownJobType):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "UNKNOWN_JOB_TYPE",
			"message": "指定されたジョブ種別は登録されていません。",
		})
	case errors.Is(err, jobs.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定されたジョブは存在しません。",
		})
	case errors.Is(err, jobs.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "INVALID_STATUS",
			"message": "現在のステータスではこの操作を実行できません。",
		})
	case errors.Is(err, jobs.ErrNoHandlerRegistered):
		logger.Error("job handler missing", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "HANDLER_NOT_REGISTERED",
			"message": "ジョブのハンドラーが登録されていません。",
		})
	default:
		logger.Error("job request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ジョブ情報の取得に失敗しました。",
		})
	}
}

func parseJobID(c *gin.Context) (uint, bool) {
	raw := strings.TrimSpace(c.Param("id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "jobId には正の整数を指定してください。",
		})
		return 0, false
	}
	return uint(id), true
}

func jobStatusHandler(controller *jobs.Controller, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		typeName := c.Param("type")
		id, ok := parseJobID(c)
		if !ok {
			return
		}

		job, err := controller.Load(c.Request.Context(), typeName, id)
		if err != nil {
			respondJobError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"job":  jobs.Summarize(typeName, job.JobRecord()),
			"data": job,
		})
	}
}

func jobListHandler(controller *jobs.Controller, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		typeName := c.Param("type")
		ctx := c.Request.Context()

		if c.Query("latest") == "true" {
			record, err := controller.Latest(ctx, typeName)
			if err != nil {
				respondJobError(c, logger, err)
				return
			}
			c.JSON(http.StatusOK, jobs.Summarize(typeName, record))
			return
		}

		opts := jobs.ListOpts{Limit: 50}
		if raw := c.Query("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit <= 0 || limit > maxListLimit {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "limit には 1〜200 の整数を指定してください。",
				})
				return
			}
			opts.Limit = limit
		}
		if raw := c.Query("status"); raw != "" {
			status := jobs.Status(raw)
			if !status.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "status の値が不正です。",
				})
				return
			}
			opts.Status = status
		}

		records, err := controller.List(ctx, typeName, opts)
		if err != nil {
			respondJobError(c, logger, err)
			return
		}
		items := make([]jobs.Summary, len(records))
		for i := range records {
			items[i] = jobs.Summarize(typeName, &records[i])
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func jobRevokeHandler(controller *jobs.Controller, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		typeName := c.Param("type")
		id, ok := parseJobID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()

		job, err := controller.Load(ctx, typeName, id)
		if err != nil {
			respondJobError(c, logger, err)
			return
		}
		if err := controller.Revoke(ctx, job); err != nil {
			respondJobError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, jobs.Summarize(typeName, job.JobRecord()))
	}
}

// pingEnqueueHandler は PingJob を作成して投入します。
// queue を指定する場合は、ワーカーが処理するキュー（WORKER_QUEUES）のいずれかである必要があります。
func pingEnqueueHandler(controller *jobs.Controller, queues map[string]int, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "note を JSON で送ってください。",
			})
			return
		}
		if req.Queue != "" {
			if _, ok := queues[req.Queue]; !ok {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_QUEUE",
					"message": "指定されたキューはワーカーで処理されません。",
				})
				return
			}
		}
		ctx := c.Request.Context()

		job := &ping.PingJob{Note: req.Note}
		if err := controller.Create(ctx, job); err != nil {
			respondJobError(c, logger, err)
			return
		}
		opts := []jobs.EnqueueOption{jobs.WithKwargs(map[string]any{"uppercase": req.Uppercase})}
		if req.Queue != "" {
			opts = append(opts, jobs.WithRoute(req.Queue))
		}
		if err := controller.Enqueue(ctx, job, opts...); err != nil {
			respondJobError(c, logger, err)
			return
		}
		c.JSON(http.StatusAccepted, jobs.Summarize(ping.TypeName, job.JobRecord()))
	}
}

// pinger は依存先の疎通確認です。
type pinger func(ctx context.Context) error

func healthHandler(checks map[string]pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		results := gin.H{}
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{
			"status":  state,
			"service": "job-tracker-api",
			"checks":  results,
		})
	}
}
