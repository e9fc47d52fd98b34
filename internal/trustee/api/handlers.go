package api

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/auth"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/trusteeapi"
)

const claimsKey = "releaseClaims"

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, trusteeapi.ErrorResponse{Error: msg})
}

func (h *Handler) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := auth.ParseReleaseToken(raw, h.secret, h.trusteeID)
		if err != nil {
			abort(c, http.StatusUnauthorized, err.Error())
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *auth.ReleaseClaims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*auth.ReleaseClaims)
	return claims
}

func matchesTarget(claims *auth.ReleaseClaims, loanID uint64, ac string) bool {
	return claims != nil && claims.LoanID == loanID && strings.EqualFold(claims.ActivityCommitment, ac)
}

// ReceiveShare stores a share handed over at escrow time.
func (h *Handler) ReceiveShare(c *gin.Context) {
	var req trusteeapi.ReceiveShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}

	claims := claimsFrom(c)
	if claims.Reason != trusteeapi.ReasonEscrow || !matchesTarget(claims, req.LoanID, req.ActivityCommitment) {
		abort(c, http.StatusForbidden, "token does not authorize this share")
		return
	}

	value, err := hex.DecodeString(strings.TrimPrefix(req.ShareValue, "0x"))
	if err != nil || len(value) == 0 {
		abort(c, http.StatusBadRequest, "shareValue must be hex")
		return
	}

	ctx := c.Request.Context()
	if err := h.shares.Save(ctx, req.LoanID, req.ActivityCommitment, req.ShareIndex, value); err != nil {
		if errors.Is(err, common.ErrStateConflict) {
			abort(c, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error(ctx, "failed to store share", "loan_id", req.LoanID, "error", err)
		abort(c, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info(ctx, "share stored", "loan_id", req.LoanID, "share_index", req.ShareIndex)
	c.JSON(http.StatusOK, trusteeapi.ReceiveShareResponse{Status: "stored"})
}

// RequestShare releases the held share for a default reveal, once per
// epoch carried in the token.
func (h *Handler) RequestShare(c *gin.Context) {
	var req trusteeapi.RequestShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}

	claims := claimsFrom(c)
	if req.Reason != auth.ReasonDefault || claims.Reason != auth.ReasonDefault ||
		!matchesTarget(claims, req.LoanID, req.ActivityCommitment) {
		abort(c, http.StatusForbidden, "token does not authorize this release")
		return
	}

	ctx := c.Request.Context()
	held, err := h.shares.Release(ctx, req.LoanID, req.ActivityCommitment, claims.Epoch)
	switch {
	case errors.Is(err, common.ErrNotFound):
		abort(c, http.StatusNotFound, "no share held")
		return
	case errors.Is(err, common.ErrStateConflict):
		abort(c, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error(ctx, "failed to release share", "loan_id", req.LoanID, "error", err)
		abort(c, http.StatusInternalServerError, "internal error")
		return
	}

	h.logger.Info(ctx, "share released", "loan_id", req.LoanID, "share_index", held.ShareIndex, "epoch", claims.Epoch)
	c.JSON(http.StatusOK, trusteeapi.RequestShareResponse{
		ShareIndex: held.ShareIndex,
		ShareValue: hex.EncodeToString(held.Value),
	})
}
