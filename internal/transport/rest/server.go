// Package rest is a small gin-gonic/gin control surface independent of a persistent client
// connection: open/close ports, list live controllers, and issue one-shot commands via JSON
// POST.
package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opencnc/cncstream/internal/controller"
	"github.com/opencnc/cncstream/internal/protocol"
)

// OpenFn opens and registers a controller for a given port, returning it for the server to hold
// and route commands to. Supplied by cmd/cncstream, which knows whether to build a
// GrblController or a TinyG2Controller for the requested firmware.
type OpenFn func(ctx context.Context, port string, firmware protocol.FirmwareTag) (controller.ConnectedController, error)

// Server exposes the REST control surface over a process-wide controller registry.
type Server struct {
	registry protocol.Registry
	open     OpenFn
	logger   *slog.Logger

	engine *gin.Engine
}

func NewServer(registry protocol.Registry, open OpenFn, logger *slog.Logger) *Server {
	s := &Server{registry: registry, open: open, logger: logger, engine: gin.New()}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	v1 := s.engine.Group("/api/v1")
	v1.GET("/controllers", s.listControllers)
	v1.POST("/controllers", s.openController)
	v1.DELETE("/controllers/:port", s.closeController)
	v1.POST("/controllers/:port/command", s.postCommand)
}

// GET /api/v1/controllers
func (s *Server) listControllers(c *gin.Context) {
	controllers := s.registry.List()
	ports := make([]string, 0, len(controllers))
	for _, ctrl := range controllers {
		ports = append(ports, ctrl.Port())
	}
	c.JSON(http.StatusOK, gin.H{"ports": ports, "count": len(ports)})
}

// POST /api/v1/controllers {"port": "...", "firmware": "grbl"|"tinyg2"}
func (s *Server) openController(c *gin.Context) {
	var req struct {
		Port     string `json:"port" binding:"required"`
		Firmware string `json:"firmware"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	firmware := protocol.Grbl
	if req.Firmware == "tinyg2" {
		firmware = protocol.TinyG2
	}

	if _, err := s.open(c.Request.Context(), req.Port, firmware); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"port": req.Port, "message": "controller opened"})
}

// DELETE /api/v1/controllers/:port
func (s *Server) closeController(c *gin.Context) {
	port := c.Param("port")
	ctrl, ok := s.registry.Get(port)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "controller not found"})
		return
	}
	if err := ctrl.Close(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "controller closed"})
}

// POST /api/v1/controllers/:port/command {"command": "start", ...}
func (s *Server) postCommand(c *gin.Context) {
	port := c.Param("port")
	ctrl, ok := s.registry.Get(port)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "controller not found"})
		return
	}
	connected, ok := ctrl.(controller.ConnectedController)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "controller does not accept commands"})
		return
	}

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd, ok := req.toCommand()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command: " + req.Command})
		return
	}

	resultCh := make(chan protocol.LoadResult, 1)
	cmd.Client = protocol.ClientHandle(uuid.NewString())
	if needsCallback(cmd.Kind) {
		cmd.Callback = func(r protocol.LoadResult) { resultCh <- r }
	}

	connected.Command(cmd)

	if !needsCallback(cmd.Kind) {
		c.JSON(http.StatusAccepted, gin.H{"message": "command submitted"})
		return
	}

	select {
	case result := <-resultCh:
		if result.Err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": result.Err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": result.Name})
	case <-c.Request.Context().Done():
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "command timed out"})
	}
}

func needsCallback(kind protocol.CommandKind) bool {
	switch kind {
	case protocol.CommandLoad, protocol.CommandLoadMacro, protocol.CommandLoadFile:
		return true
	default:
		return false
	}
}
