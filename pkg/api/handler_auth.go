package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/parceltrace/parceltrace/pkg/services"
)

// registerHandler handles POST /api/v1/auth/register: user row, CA
// enrollment and wallet entry in one flow.
func (s *Server) registerHandler(c *echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return mapError(c, services.NewValidationError("body", "malformed JSON"))
	}

	user, err := s.deps.Users.Register(c.Request().Context(), services.RegisterParams{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
		FullName:    req.FullName,
		Address:     req.Address,
		CompanyID:   req.CompanyID,
		CompanyName: req.CompanyName,
		VehicleInfo: req.VehicleInfo,
	})
	if err != nil {
		return mapError(c, err)
	}
	return respond(c, http.StatusCreated, user)
}

// loginHandler handles POST /api/v1/auth/login. Only meaningful in jwt
// mode; basic-mode deployments authenticate every request instead.
func (s *Server) loginHandler(c *echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return mapError(c, services.NewValidationError("body", "malformed JSON"))
	}

	user, err := s.deps.Users.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapError(c, err)
	}

	if s.deps.JWT == nil {
		// Basic mode: credentials checked, no token to mint.
		return respond(c, http.StatusOK, &LoginResponse{User: user})
	}

	token, err := s.deps.JWT.Issue(user)
	if err != nil {
		return mapError(c, err)
	}
	return respond(c, http.StatusOK, &LoginResponse{Token: token, User: user})
}
