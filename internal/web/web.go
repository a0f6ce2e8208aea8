package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/Joseda-hg/imon/internal/db"
	"github.com/Joseda-hg/imon/internal/logger"
	"github.com/Joseda-hg/imon/internal/model"
	"github.com/Joseda-hg/imon/internal/rpc"
)

const streamWriteTimeout = 5 * time.Second

type Server struct {
	store    *db.Store
	dispatch *rpc.Dispatcher
	router   *gin.Engine
}

func NewServer(store *db.Store) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		store:    store,
		dispatch: rpc.NewDispatcher(store),
		router:   router,
	}

	router.POST("/record/new", s.rest(rpc.EventRegisterRecord))
	router.POST("/record", s.rest(rpc.EventGetSingleRecord))
	router.GET("/record/all", s.rest(rpc.EventGetAllRecords))
	router.GET("/record/stream", s.handleStream)
	router.POST("/task/new", s.rest(rpc.EventAddTask))
	router.POST("/task/update", s.rest(rpc.EventUpdateTask))
	router.POST("/task/reset", s.rest(rpc.EventResetRecord))

	rpcGroup := router.Group("/rpc")
	{
		rpcGroup.POST("/user", s.handleRPC(model.RoleUser))
		rpcGroup.POST("/sudo", s.handleRPC(model.RoleSudo))
	}

	router.GET("/healthz", s.handleHealth)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// rest serves one user operation whose payload is the request body.
func (s *Server) rest(event rpc.EventType) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.respond(c, rpc.FromError(model.Unprocessable("body", err.Error())))
			return
		}
		op, err := rpc.DecodePayload(event, raw)
		if err != nil {
			s.respond(c, rpc.FromError(err))
			return
		}
		s.respond(c, s.dispatch.Dispatch(c.Request.Context(), rpc.Request{Role: model.RoleUser, Op: op}))
	}
}

func (s *Server) handleRPC(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := rpc.Decode(c.Request.Body)
		if err != nil {
			s.respond(c, rpc.FromError(err))
			return
		}
		if req.Role != role {
			s.respond(c, rpc.FromError(model.RoleMismatch("metadata.of", "envelope role does not match the endpoint")))
			return
		}
		s.respond(c, s.dispatch.Dispatch(c.Request.Context(), req))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		s.respond(c, rpc.FromError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": rpc.StatusOK})
}

// handleStream sends the record at ?key= over a websocket on connect and
// after every change until the client goes away.
func (s *Server) handleStream(c *gin.Context) {
	key := c.Query("key")
	parsed, err := model.ParseKey(key)
	if err != nil {
		s.respond(c, rpc.FromError(err))
		return
	}
	load := func(ctx context.Context) (any, error) {
		if parsed.Role == model.RoleSudo {
			record, err := s.store.GetSudo(ctx, key)
			return record, err
		}
		record, err := s.store.GetUser(ctx, key)
		return record, err
	}

	initial, err := load(c.Request.Context())
	if err != nil {
		s.respond(c, rpc.FromError(err))
		return
	}

	id, changes := s.store.Subscribe(key)
	defer s.store.Unsubscribe(id)

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		logger.Handler.Warn("websocket accept", "key", key, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request.Context())
	if err := writeJSON(ctx, conn, initial); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-changes:
			record, err := load(ctx)
			if err != nil {
				logger.Handler.Error("stream reload", "key", key, "error", err)
				_ = conn.Close(websocket.StatusInternalError, "reload failed")
				return
			}
			if err := writeJSON(ctx, conn, record); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Handler.Debug("stream write", "key", key, "error", err)
				}
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

func (s *Server) respond(c *gin.Context, resp rpc.Response) {
	c.JSON(resp.Code, resp)
}
