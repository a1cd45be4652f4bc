package health

import (
	"context"
	"net/http"
	"os"
	"time"

	"lineq/internal/queue"

	"github.com/gin-gonic/gin"
)

type Status struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]interface{} `json:"services"`
}

type Service interface {
	Check(ctx context.Context) Status
}

type healthService struct {
	core    *queue.Core
	infile  string
	outfile string
}

func NewService(core *queue.Core, infile, outfile string) Service {
	return &healthService{core: core, infile: infile, outfile: outfile}
}

func (s *healthService) Check(ctx context.Context) Status {
	services := make(map[string]interface{})
	overallStatus := "ok"

	// 1. Input file check
	inStatus := "ok"
	var inSize int64
	if fi, err := os.Stat(s.infile); err != nil {
		inStatus = "down"
		overallStatus = "degraded"
	} else {
		inSize = fi.Size()
	}
	services["input_file"] = map[string]interface{}{
		"status": inStatus,
		"path":   s.infile,
		"bytes":  inSize,
	}

	// 2. Output file check
	outStatus := "ok"
	var outSize int64
	if fi, err := os.Stat(s.outfile); err != nil {
		outStatus = "down"
		overallStatus = "degraded"
	} else {
		outSize = fi.Size()
	}
	services["output_file"] = map[string]interface{}{
		"status": outStatus,
		"path":   s.outfile,
		"bytes":  outSize,
	}

	// 3. Queue check
	snap := s.core.Snapshot()
	services["queue"] = map[string]interface{}{
		"status":          "ok", // si respondemos, la cola está viva
		"pending":         snap.Pending,
		"issued":          snap.Issued,
		"completed":       snap.Completed,
		"input_exhausted": snap.InputExhausted,
	}

	return Status{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  services,
	}
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/health", h.HealthCheck)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	status := h.svc.Check(c.Request.Context())
	httpStatus := http.StatusOK
	if status.Status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, status)
}
