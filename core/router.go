package core

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter constructs the thin JSON intake surface. Authentication is the
// out-of-scope collaborator: the trusted front proxy passes the caller's
// identity in X-User-Email, which is resolved against the user repository.
func NewRouter(cfg Config, service *IntakeService, users UserRepository,
	admin *AdminGuard, pipeline *JudgePipeline, metrics *MetricsService) *gin.Engine {
	startedAt := time.Now()
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	api.Use(userMiddleware(users))
	{
		api.GET("/contests", func(c *gin.Context) {
			contests := service.catalogue.AllContests()
			out := make([]gin.H, 0, len(contests))
			for _, contest := range contests {
				out = append(out, gin.H{"id": contest.ID, "title": contest.Title})
			}
			c.JSON(http.StatusOK, gin.H{"contests": out})
		})

		api.GET("/contests/:contestID", func(c *gin.Context) {
			contest := service.catalogue.GetContest(c.Param("contestID"))
			if contest == nil {
				respondError(c, http.StatusNotFound, "NOT_FOUND", "contest not found")
				return
			}
			problems := make([]gin.H, 0, len(contest.Problems))
			for _, p := range contest.Problems {
				problems = append(problems, gin.H{"id": p.ID, "title": p.Title})
			}
			c.JSON(http.StatusOK, gin.H{
				"id": contest.ID, "title": contest.Title,
				"description": contest.Description, "problems": problems,
			})
		})

		api.GET("/contests/:contestID/problems/:problemID", func(c *gin.Context) {
			p := service.catalogue.GetProblem(c.Param("contestID"), c.Param("problemID"))
			if p == nil {
				respondError(c, http.StatusNotFound, "NOT_FOUND", "problem not found")
				return
			}
			samples := make([]gin.H, 0)
			for _, tc := range p.TestCases {
				if !tc.IsSample() {
					continue
				}
				sample := gin.H{"name": tc.Name, "output": tc.Output}
				if tc.Input != nil {
					sample["input"] = *tc.Input
				}
				samples = append(samples, sample)
			}
			c.JSON(http.StatusOK, gin.H{
				"id": p.ID, "title": p.Title, "statement": p.Statement,
				"time_limit_sec": p.TimeLimitSec, "memory_limit_mb": p.MemoryLimitMB,
				"allowed_languages":   p.AllowedLanguages,
				"generator_available": p.HasGenerator(),
				"sample_test_cases":   samples,
			})
		})

		api.POST("/submissions", func(c *gin.Context) {
			var req struct {
				ContestID string `json:"contest_id" binding:"required"`
				ProblemID string `json:"problem_id" binding:"required"`
				Language  string `json:"language" binding:"required"`
				Code      string `json:"code" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}
			info, err := service.Submit(c.Request.Context(), currentUser(c),
				req.ContestID, req.ProblemID, req.Language, req.Code)
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, info)
		})

		api.GET("/submissions", func(c *gin.Context) {
			user := currentUser(c)
			var subs []Submission
			var err error
			if contestID := c.Query("contest_id"); contestID != "" {
				subs, err = service.ListSubmissionsByContest(c.Request.Context(), user, contestID)
			} else {
				subs, err = service.ListSubmissions(c.Request.Context(), user)
			}
			if err != nil {
				respondServiceError(c, err)
				return
			}
			out := make([]gin.H, 0, len(subs))
			for _, s := range subs {
				out = append(out, gin.H{
					"id": s.ID, "contest_id": s.ContestID, "problem_id": s.ProblemID,
					"language": s.Language, "status": s.Status, "submitted_at": s.SubmittedAt,
				})
			}
			c.JSON(http.StatusOK, gin.H{"submissions": out})
		})

		api.GET("/submissions/:id", func(c *gin.Context) {
			sub, err := service.GetSubmission(c.Request.Context(), currentUser(c), c.Param("id"))
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"id": sub.ID, "contest_id": sub.ContestID, "problem_id": sub.ProblemID,
				"language": sub.Language, "code": sub.Code, "status": sub.Status,
				"results": sub.Results, "submitted_at": sub.SubmittedAt,
			})
		})

		api.POST("/playground", func(c *gin.Context) {
			var req struct {
				Language string `json:"language" binding:"required"`
				Code     string `json:"code" binding:"required"`
				Stdin    string `json:"stdin"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
				return
			}
			res, err := service.RunPlayground(c.Request.Context(), currentUser(c),
				req.Language, req.Code, req.Stdin)
			if err != nil {
				respondServiceError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"status": res.Status, "exit_code": res.ExitCode,
				"stdout": res.Stdout, "stderr": res.Stderr,
				"compilation_stderr": res.CompilationStderr,
				"execution_time_ms":  res.ExecutionTimeMS,
				"memory_used_kb":     res.MemoryUsedKB,
			})
		})

		api.POST("/contests/:contestID/problems/:problemID/generate", func(c *gin.Context) {
			res, err := service.GenerateSample(c.Request.Context(), currentUser(c),
				c.Param("contestID"), c.Param("problemID"))
			if err != nil {
				respondServiceError(c, err)
				return
			}
			if !res.OK() {
				c.JSON(http.StatusOK, gin.H{"error": res.Error})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"input": res.Input, "expected_output": res.Output,
				"execution_time_ms": res.ExecutionTimeMS, "memory_used_kb": res.MemoryUsedKB,
			})
		})
	}

	adminAPI := r.Group("/api/v1/admin")
	adminAPI.Use(adminMiddleware(admin))
	{
		adminAPI.POST("/reload", func(c *gin.Context) {
			if err := service.ReloadCatalogue(); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "catalogue reload failed")
				return
			}
			c.Status(http.StatusNoContent)
		})

		adminAPI.GET("/status", func(c *gin.Context) {
			st, err := CollectSystemStatus(c.Request.Context(), pipeline, metrics, startedAt)
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "status collection failed")
				return
			}
			c.JSON(http.StatusOK, st)
		})
	}

	return r
}

const userContextKey = "current_user"

// userMiddleware resolves the trusted identity header to an active user.
func userMiddleware(users UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		email := strings.TrimSpace(c.GetHeader("X-User-Email"))
		if email == "" {
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
			c.Abort()
			return
		}
		user, err := users.GetByEmail(c.Request.Context(), email)
		if err != nil || !user.IsActive {
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "unknown or inactive user")
			c.Abort()
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

func adminMiddleware(admin *AdminGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := admin.Check(c.GetHeader("X-Admin-Token")); err != nil {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "admin token required")
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *User {
	u, _ := c.Get(userContextKey)
	user, _ := u.(*User)
	return user
}

// respondServiceError maps intake errors onto HTTP statuses. Internal
// failures present a generic message; the submission id is the correlation
// handle for operator lookup.
func respondServiceError(c *gin.Context, err error) {
	var rle *RateLimitError
	switch {
	case errors.As(err, &rle):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
			"code": "RATE_LIMITED", "message": rle.Error(),
			"remaining_seconds": rle.RemainingSec,
		}})
	case errors.Is(err, ErrProblemNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "problem not found")
	case errors.Is(err, ErrGeneratorUnavailable):
		respondError(c, http.StatusNotFound, "NOT_FOUND", ErrGeneratorUnavailable.Error())
	case errors.Is(err, ErrSubmissionNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "submission not found")
	case errors.Is(err, ErrLanguageNotAllowed):
		respondError(c, http.StatusBadRequest, "LANGUAGE_NOT_ALLOWED", ErrLanguageNotAllowed.Error())
	case errors.Is(err, ErrQueueFull):
		respondError(c, http.StatusServiceUnavailable, "QUEUE_FULL", "judging queue is full, try again later")
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An internal error occurred")
	}
}
