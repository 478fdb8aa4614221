package api

import (
	echo "github.com/labstack/echo/v5"
)

// Envelope is the uniform response shape of the HTTP surface.
type Envelope struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Message       string      `json:"message,omitempty"`
	Code          string      `json:"code,omitempty"`
	Count         *int        `json:"count,omitempty"`
	CorrelationID string      `json:"correlationId,omitempty"`
}

// LoginResponse is the data of a successful login.
type LoginResponse struct {
	Token string      `json:"token,omitempty"`
	User  interface{} `json:"user"`
}

// respond writes a success envelope.
func respond(c *echo.Context, status int, data interface{}) error {
	return c.JSON(status, &Envelope{
		Success:       true,
		Data:          data,
		CorrelationID: correlationID(c),
	})
}

// respondList writes a success envelope with a count.
func respondList(c *echo.Context, status int, data interface{}, count int) error {
	return c.JSON(status, &Envelope{
		Success:       true,
		Data:          data,
		Count:         &count,
		CorrelationID: correlationID(c),
	})
}

// respondMessage writes a success envelope with a message only.
func respondMessage(c *echo.Context, status int, message string) error {
	return c.JSON(status, &Envelope{
		Success:       true,
		Message:       message,
		CorrelationID: correlationID(c),
	})
}
