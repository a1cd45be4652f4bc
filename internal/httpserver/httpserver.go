package httpserver

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"lineq/internal/health"
	"lineq/internal/monitoring"
	"lineq/internal/queue"
	"lineq/pkg/styles"
	"lineq/pkg/types"

	"github.com/gin-gonic/gin"
)

// Server orquesta el plano de control HTTP sobre la cola, siguiendo un
// enfoque de capas: los handlers solo transportan, la cola decide.
type Server struct {
	engine  *gin.Engine
	core    *queue.Core
	workers *monitoring.Registry
	grace   time.Duration

	fatalCh  chan error
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Config del servidor HTTP. Grace es cuánto se sigue atendiendo tras
// completarse todo el trabajo, para que los rezagados reciban un
// ALL_WORK_COMPLETE limpio en vez de connection refused.
type Config struct {
	Grace time.Duration
}

// New construye el servidor y registra todas las rutas.
func New(core *queue.Core, workers *monitoring.Registry, healthSvc health.Service, monSvc monitoring.Service, cfg Config) *Server {
	if cfg.Grace <= 0 {
		cfg.Grace = 3 * time.Second
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	s := &Server{
		engine:  r,
		core:    core,
		workers: workers,
		grace:   cfg.Grace,
		fatalCh: make(chan error, 1),
		stopCh:  make(chan struct{}),
	}

	r.POST("/get_work", s.handleGetWork)
	r.POST("/submit_result", s.handleSubmitResult)
	r.POST("/work_timeout", s.handleWorkTimeout)
	r.GET("/status", s.handleStatus)

	health.NewHandler(healthSvc).RegisterRoutes(r.Group("/"))
	monitoring.NewHandler(monSvc).RegisterRoutes(r.Group("/"))

	return s
}

// Engine expone el *gin.Engine subyacente (útil para pruebas).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Stop pide un apagado ordenado (lo usa el manejo de señales en main).
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// fail registra un error fatal de E/S; Run lo recogerá y saldrá no-cero.
func (s *Server) fail(err error) {
	select {
	case s.fatalCh <- err:
	default:
	}
}

func (s *Server) handleGetWork(c *gin.Context) {
	var req types.GetWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workerID := s.workers.Touch(req.WorkerID, c.ClientIP())

	res, err := s.core.Issue(req.BatchSize)
	if err != nil {
		s.fail(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	switch res.Status {
	case types.StatusOK:
		s.workers.RecordIssued(workerID, len(res.Items))
		c.JSON(http.StatusOK, types.GetWorkResponse{
			Status:   types.StatusOK,
			Items:    res.Items,
			WorkerID: workerID,
		})
	case types.StatusRetry:
		c.JSON(http.StatusOK, types.GetWorkResponse{
			Status:   types.StatusRetry,
			RetryIn:  res.RetryIn,
			WorkerID: workerID,
		})
	default:
		c.JSON(http.StatusOK, types.GetWorkResponse{Status: types.StatusAllWorkComplete})
	}
}

func (s *Server) handleSubmitResult(c *gin.Context) {
	var req types.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workerID := s.workers.Touch(req.WorkerID, c.ClientIP())

	count, err := s.core.Submit(req.Items)
	if err != nil {
		s.fail(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	s.workers.RecordSubmitted(workerID, count)

	c.JSON(http.StatusOK, types.SubmitResponse{Status: types.StatusOK, Count: count})
}

func (s *Server) handleWorkTimeout(c *gin.Context) {
	var req types.TimeoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.core.SetWorkTimeout(req.Timeout)
	log.Printf("[HTTP] work_timeout actualizado a %ds", req.Timeout)

	c.JSON(http.StatusOK, types.TimeoutResponse{Status: types.StatusOK, Timeout: req.Timeout})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Snapshot())
}

// Run arranca el listener, el sweeper de timeouts y el chequeo de fin de
// trabajo. Devuelve nil cuando todo el trabajo quedó persistido (o se pidió
// Stop) y el error fatal en caso contrario.
func (s *Server) Run(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	done := make(chan struct{})
	defer close(done)

	go s.sweepLoop(done)

	completeCh := make(chan struct{})
	go s.completionLoop(done, completeCh)

	listenErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	styles.PrintFS("info", "[HTTP] Escuchando en %s", addr)

	var runErr error
	select {
	case err := <-listenErr:
		return err
	case err := <-s.fatalCh:
		runErr = err
	case <-s.stopCh:
		styles.PrintFS("warn", "[HTTP] Apagado solicitado")
	case <-completeCh:
		styles.PrintFS("success", "[HTTP] Todo el trabajo persistido")
		// período de gracia para que los workers rezagados reciban
		// ALL_WORK_COMPLETE antes de cerrar el socket
		time.Sleep(s.grace)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[HTTP] Error en shutdown: %v", err)
	}
	return runErr
}

func (s *Server) sweepLoop(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-time.After(sweepInterval(s.core.WorkTimeout())):
			if err := s.core.SweepTimeouts(time.Now()); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *Server) completionLoop(done <-chan struct{}, completeCh chan<- struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if s.core.AllWorkComplete() {
				close(completeCh)
				return
			}
		}
	}
}

// sweepInterval es una décima parte del timeout, nunca menos de un segundo.
func sweepInterval(timeout time.Duration) time.Duration {
	iv := timeout / 10
	if iv < time.Second {
		iv = time.Second
	}
	return iv
}
