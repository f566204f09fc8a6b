package rest

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"yqhp/loadgen/internal/controller"
	"yqhp/loadgen/internal/engine"
	"yqhp/loadgen/pkg/logger"
	"yqhp/loadgen/pkg/types"
)

func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UnixMilli(),
		Running:   s.tester.ActiveCount(),
	})
}

// query 处理 GET ?action=status|results。
func (s *Server) query(c *fiber.Ctx) error {
	switch action := c.Query("action"); action {
	case ActionStatus:
		status, err := s.tester.Status(c.UserContext())
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(status)

	case ActionResults:
		results, err := s.tester.Results(c.UserContext())
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(results)

	case "":
		return writeError(c, &types.ValidationError{Field: "action"})
	default:
		return writeError(c, fmt.Errorf("%w: %s", ErrUnknownAction, action))
	}
}

// command 处理 POST {action, config}。启动类命令只确认，运行在后台进行。
func (s *Server) command(c *fiber.Ctx) error {
	cmd, err := DecodeCommand(c.Body())
	if err != nil {
		return writeError(c, err)
	}

	switch cmd := cmd.(type) {
	case RunStandardTests:
		names, err := s.tester.StartStandardSuite()
		if err != nil {
			return writeError(c, err)
		}
		logger.Info("standard suite requested", zap.Strings("tests", names))
		return c.Status(fiber.StatusAccepted).JSON(StartResponse{
			Message: "Standard load tests started",
			Tests:   names,
		})

	case RunTest:
		id, err := s.tester.StartNamed(cmd.Name)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(StartResponse{
			Message: fmt.Sprintf("Load test %s started", cmd.Name),
			TestID:  id,
		})

	case RunCustomTest:
		id, err := s.tester.Start(cmd.Config)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(StartResponse{
			Message: fmt.Sprintf("Custom load test %s started", cmd.Config.Name),
			TestID:  id,
		})

	case StopTest:
		n := s.tester.Stop(cmd.Name)
		return c.JSON(StopResponse{
			Message: fmt.Sprintf("Stop requested for %s", cmd.Name),
			Stopped: n,
		})

	case StopAllTests:
		n := s.tester.StopAll()
		return c.JSON(StopResponse{
			Message: "Stop requested for all tests",
			Stopped: n,
		})
	}
	return writeError(c, fmt.Errorf("%w: %s", ErrUnknownAction, cmd.Action()))
}

// writeError 把错误映射为状态码和统一的 JSON 错误体。
func writeError(c *fiber.Ctx, err error) error {
	code, kind := classify(err)
	if code >= fiber.StatusInternalServerError {
		logger.Error("admin request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(ErrorResponse{
		Error:   kind,
		Message: err.Error(),
	})
}

func classify(err error) (int, string) {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		return fiber.StatusBadRequest, "validation_failed"
	case errors.Is(err, ErrInvalidBody):
		return fiber.StatusBadRequest, "invalid_body"
	case errors.Is(err, engine.ErrNoBaseURL):
		return fiber.StatusBadRequest, "validation_failed"
	case errors.Is(err, ErrUnknownAction):
		return fiber.StatusBadRequest, "unknown_action"
	case errors.Is(err, controller.ErrUnknownTest):
		return fiber.StatusNotFound, "unknown_test"
	case errors.Is(err, controller.ErrShuttingDown):
		return fiber.StatusServiceUnavailable, "shutting_down"
	}
	return fiber.StatusInternalServerError, "internal_error"
}
