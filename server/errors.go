package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportrelay/pkg/chat"
	"github.com/papercomputeco/supportrelay/pkg/llm"
)

const (
	processingFailed = "Failed to process the request"
	unknownError     = "Unknown error occurred"
)

// errorResponse is the single place where turn failures become HTTP statuses.
func errorResponse(err error) (int, llm.ErrorResponse) {
	var validationErr *chat.ValidationError
	var upstreamErr *chat.UpstreamError

	switch {
	case errors.As(err, &validationErr):
		return fiber.StatusBadRequest, llm.ErrorResponse{Error: validationErr.Reason}
	case errors.Is(err, chat.ErrUpstreamEmptyResponse), errors.As(err, &upstreamErr):
		return fiber.StatusInternalServerError, llm.ErrorResponse{Error: processingFailed, Message: err.Error()}
	default:
		return fiber.StatusInternalServerError, llm.ErrorResponse{Error: processingFailed, Message: unknownError}
	}
}

func (s *Server) writeError(c *fiber.Ctx, err error) error {
	status, body := errorResponse(err)

	switch {
	case status < fiber.StatusInternalServerError:
		s.logger.Debug("rejected chat request", zap.Int("status", status), zap.Error(err))
	case body.Message == unknownError:
		s.logger.Error("unexpected error handling chat request",
			zap.Error(err),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
		)
	default:
		s.logger.Error("chat request failed", zap.Error(err))
	}

	return c.Status(status).JSON(body)
}
