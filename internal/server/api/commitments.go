package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/ledger"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/registry"
)

type identityCommitmentReq struct {
	Score ledger.Uint `json:"score"`
	Salt  string      `json:"salt" validate:"required,max=256"`
}

func (s *Server) RegisterIdentity(c echo.Context) error {
	var req identityCommitmentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return s.invalid(c, err)
	}

	commitment, err := s.registry.RegisterIdentity(c.Request().Context(), wallet(c), registry.IdentityMaterial{
		Score: req.Score.Uint64(),
		Salt:  req.Salt,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"walletKey": wallet(c), "identityCommitment": commitment})
}

type activityReq struct {
	ActivityCommitment string `json:"activityCommitment" validate:"required,hexvalue"`
}

func (s *Server) RegisterActivity(c echo.Context) error {
	var req activityReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return s.invalid(c, err)
	}

	ctx := c.Request().Context()
	if err := s.registry.RegisterActivity(ctx, wallet(c), req.ActivityCommitment); err != nil {
		return s.fail(c, err)
	}
	pair, err := s.registry.Pair(ctx, wallet(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, pair)
}

func (s *Server) ResolveCommitment(c echo.Context) error {
	identity, found, err := s.registry.Resolve(c.Request().Context(), c.Param("ac"))
	if err != nil {
		return s.fail(c, err)
	}
	if !found {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown activity commitment"})
	}
	return c.JSON(http.StatusOK, map[string]string{"activityCommitment": c.Param("ac"), "identityCommitment": identity})
}
