package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

type Code string

const (
	InvalidShape            Code = "InvalidShape"
	InvalidRequest          Code = "InvalidRequest"
	UnroutableArea          Code = "UnroutableArea"
	CollaboratorTimeout     Code = "CollaboratorTimeout"
	CollaboratorUnavailable Code = "CollaboratorUnavailable"
	SessionStateConflict    Code = "SessionStateConflict"
	GpsOutlier              Code = "GpsOutlier"
	NotFound                Code = "NotFound"
	Overloaded              Code = "Overloaded"
	Interrupted             Code = "Interrupted"
	Internal                Code = "Internal"
)

// Error carries a stable reason code alongside a human readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// MessageOf returns the user facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func Status(code Code) int {
	switch code {
	case InvalidShape, InvalidRequest, GpsOutlier:
		return fiber.StatusBadRequest
	case NotFound:
		return fiber.StatusNotFound
	case SessionStateConflict:
		return fiber.StatusConflict
	case Overloaded:
		return fiber.StatusServiceUnavailable
	case UnroutableArea:
		return fiber.StatusUnprocessableEntity
	case CollaboratorTimeout:
		return fiber.StatusGatewayTimeout
	case CollaboratorUnavailable:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// FiberHandler renders *Error and *fiber.Error values as {"error":{code,message}}.
func FiberHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fiber.Map{"code": codeForStatus(fe.Code), "message": fe.Message}})
	}
	code := CodeOf(err)
	msg := "internal error"
	if code != Internal {
		msg = MessageOf(err)
	}
	return c.Status(Status(code)).JSON(fiber.Map{"error": fiber.Map{"code": code, "message": msg}})
}

func codeForStatus(status int) Code {
	switch status {
	case fiber.StatusBadRequest:
		return InvalidRequest
	case fiber.StatusNotFound:
		return NotFound
	case fiber.StatusConflict:
		return SessionStateConflict
	case fiber.StatusServiceUnavailable:
		return Overloaded
	case fiber.StatusUnauthorized:
		return "Unauthorized"
	default:
		if status < fiber.StatusInternalServerError {
			return InvalidRequest
		}
		return Internal
	}
}
