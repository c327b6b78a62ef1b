package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/geoterrain/internal/export"
	"github.com/Faultbox/geoterrain/internal/logger"
	"github.com/Faultbox/geoterrain/internal/progress"
	"github.com/Faultbox/geoterrain/pkg/math"
)

// clientMessage is what a progress socket client may send.
type clientMessage struct {
	Action string `json:"action"`
}

func (s *Server) startLoad(c *gin.Context) {
	var req LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	task := s.tasks.Start(req)
	c.JSON(http.StatusAccepted, gin.H{
		"id":     task.ID,
		"status": task.Status(),
		"ws":     "/terrains/" + task.ID + "/ws",
	})
}

func (s *Server) listTasks(c *gin.Context) {
	tasks := s.tasks.List()
	out := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Info())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) task(c *gin.Context) (*Task, bool) {
	task, ok := s.tasks.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	}
	return task, ok
}

// loaded resolves a completed task or writes an error response.
func (s *Server) loaded(c *gin.Context) (*Task, bool) {
	task, ok := s.task(c)
	if !ok {
		return nil, false
	}
	if res, _ := task.Result(); res == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "terrain not loaded", "status": task.Status()})
		return nil, false
	}
	return task, true
}

func (s *Server) taskStatus(c *gin.Context) {
	if task, ok := s.task(c); ok {
		c.JSON(http.StatusOK, task.Info())
	}
}

func (s *Server) removeTask(c *gin.Context) {
	if !s.tasks.Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) geoCoords(c *gin.Context) {
	task, ok := s.loaded(c)
	if !ok {
		return
	}

	var p [3]float64
	for i, name := range []string{"x", "y", "z"} {
		raw := c.Query(name)
		if raw == "" && name == "z" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
			return
		}
		p[i] = v
	}

	_, v := task.Result()
	coords, err := v.GeoCoords(math.V3(p[0], p[1], p[2]))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if coords == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "terrain has no geo reference"})
		return
	}
	c.JSON(http.StatusOK, coords)
}

func (s *Server) footprint(c *gin.Context) {
	task, ok := s.loaded(c)
	if !ok {
		return
	}
	res, _ := task.Result()
	f, err := export.TerrainFootprint(res.Terrain, s.opts.Converter)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) glb(c *gin.Context) {
	task, ok := s.loaded(c)
	if !ok {
		return
	}
	res, _ := task.Result()
	embed := c.DefaultQuery("texture", "true") != "false"

	c.Header("Content-Type", "model/gltf-binary")
	c.Header("Content-Disposition", `attachment; filename="`+res.Terrain.Object.Name+`.glb"`)
	if err := export.WriteGLB(c.Writer, res.Terrain, export.GLBOptions{EmbedTexture: embed}); err != nil {
		logger.Error("writing glb", zap.String("id", task.ID), zap.Error(err))
		c.Status(http.StatusInternalServerError)
	}
}

// progressSocket streams progress.State snapshots until the load finishes.
// Sending {"action":"cancel"} cancels the load.
func (s *Server) progressSocket(c *gin.Context) {
	task, ok := s.task(c)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates := make(chan progress.State, 16)
	stop := task.Tracker.Observe(func(st progress.State) {
		select {
		case updates <- st:
		default:
		}
	})
	defer stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Action == "cancel" {
				logger.Info("load cancelled by client", zap.String("id", task.ID))
				task.Cancel()
			}
		}
	}()

	st := task.Tracker.Snapshot()
	if err := conn.WriteJSON(st); err != nil {
		return
	}
	for !st.IsComplete {
		select {
		case st = <-updates:
		case <-task.Done():
			st = task.Tracker.Snapshot()
		case <-closed:
			return
		}
		if err := conn.WriteJSON(st); err != nil {
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "load finished"))
}
