package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/ledger"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func loanID(c echo.Context) (uint64, error) {
	id, err := ledger.ParseUint(c.Param("id"))
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: loan id %q", common.ErrValidation, c.Param("id"))
	}
	return id, nil
}

type createLoanReq struct {
	AmountPerBorrower ledger.Uint `json:"amountPerBorrower" validate:"required"`
	TotalSlots        ledger.Uint `json:"totalSlots" validate:"required,gte=1,lte=4294967295"`
	InterestRateBps   ledger.Uint `json:"interestRateBps" validate:"lte=10000"`
	RepaymentPeriod   ledger.Uint `json:"repaymentPeriod" validate:"required,lte=3153600000"`
	MinRequiredScore  ledger.Uint `json:"minRequiredScore"`
}

func (s *Server) CreateLoan(c echo.Context) error {
	var req createLoanReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return s.invalid(c, err)
	}

	loan, err := s.ledger.CreateOffer(c.Request().Context(), wallet(c), ledger.OfferInput{
		AmountPerBorrower: req.AmountPerBorrower.Uint64(),
		TotalSlots:        uint32(req.TotalSlots),
		InterestRateBps:   uint32(req.InterestRateBps),
		RepaymentPeriod:   int64(req.RepaymentPeriod),
		MinRequiredScore:  req.MinRequiredScore.Uint64(),
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, loan)
}

func (s *Server) ListLoans(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	loans, err := s.ledger.ListLoans(c.Request().Context(), limit, offset)
	if err != nil {
		return s.fail(c, err)
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	return c.JSON(http.StatusOK, loans)
}

func (s *Server) GetLoan(c echo.Context) error {
	id, err := loanID(c)
	if err != nil {
		return s.fail(c, err)
	}
	loan, err := s.ledger.GetLoan(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, loan)
}

func (s *Server) CheckDefault(c echo.Context) error {
	id, err := loanID(c)
	if err != nil {
		return s.fail(c, err)
	}
	out, err := s.ledger.CheckAndTriggerDefault(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

type applyReq struct {
	ActivityCommitment string          `json:"activityCommitment" validate:"required,hexvalue"`
	ProofHash          string          `json:"proofHash" validate:"required"`
	ClaimedScore       ledger.Uint     `json:"claimedScore"`
	Identity           json.RawMessage `json:"identity" validate:"required"`
}

type applyResp struct {
	Application *models.Application `json:"application"`
	Escrow      *escrowResp         `json:"escrow,omitempty"`
	EscrowError string              `json:"escrowError,omitempty"`
}

type escrowResp struct {
	BlobID      string   `json:"blobId"`
	Threshold   int      `json:"threshold"`
	Total       int      `json:"total"`
	Undelivered []string `json:"undelivered,omitempty"`
}

// checkOwnership makes sure the activity commitment was registered by the
// caller's wallet.
func (s *Server) checkOwnership(c echo.Context, ac string) error {
	ctx := c.Request().Context()
	identity, found, err := s.registry.Resolve(ctx, ac)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: activity commitment is not registered", common.ErrValidation)
	}
	pair, err := s.registry.Pair(ctx, wallet(c))
	if err != nil {
		return fmt.Errorf("%w: wallet has no identity commitment", common.ErrForbidden)
	}
	if pair.IdentityCommitment != identity {
		return fmt.Errorf("%w: activity commitment belongs to another identity", common.ErrForbidden)
	}
	return nil
}

// Apply submits an application and escrows the borrower's identity. An
// escrow failure leaves the pending application in place; the identity can
// be sent again through the identity route.
func (s *Server) Apply(c echo.Context) error {
	id, err := loanID(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req applyReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return s.invalid(c, err)
	}
	if err := s.checkOwnership(c, req.ActivityCommitment); err != nil {
		return s.fail(c, err)
	}

	ctx := c.Request().Context()
	app, err := s.ledger.ApplyForLoan(ctx, id, wallet(c), req.ActivityCommitment, req.ProofHash, req.ClaimedScore.Uint64())
	if err != nil {
		return s.fail(c, err)
	}

	resp := applyResp{Application: app}
	res, err := s.escrow.EscrowIdentity(ctx, id, app.ActivityCommitment, req.Identity)
	if err != nil {
		s.logger.Warn(ctx, "identity escrow failed after apply", "loan_id", id, "activity", app.ActivityCommitment, "error", err)
		resp.EscrowError = err.Error()
		return c.JSON(http.StatusAccepted, resp)
	}
	resp.Escrow = toEscrowResp(res.Ref, res.Undelivered)
	if app, err = s.ledger.GetApplication(ctx, id, app.ActivityCommitment); err == nil {
		resp.Application = app
	}
	return c.JSON(http.StatusCreated, resp)
}

func toEscrowResp(ref models.EscrowRef, undelivered []string) *escrowResp {
	return &escrowResp{BlobID: ref.BlobID, Threshold: ref.Threshold, Total: ref.Total, Undelivered: undelivered}
}

type identityReq struct {
	Identity json.RawMessage `json:"identity" validate:"required"`
}

func (s *Server) EscrowIdentity(c echo.Context) error {
	id, err := loanID(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req identityReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return s.invalid(c, err)
	}

	ctx := c.Request().Context()
	app, err := s.ledger.GetApplication(ctx, id, c.Param("ac"))
	if err != nil {
		return s.fail(c, err)
	}
	if app.Borrower != wallet(c) {
		return s.fail(c, fmt.Errorf("%w: only the applicant may escrow an identity", common.ErrForbidden))
	}

	res, err := s.escrow.EscrowIdentity(ctx, id, app.ActivityCommitment, req.Identity)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toEscrowResp(res.Ref, res.Undelivered))
}

func (s *Server) ListApplications(c echo.Context) error {
	id, err := loanID(c)
	if err != nil {
		return s.fail(c, err)
	}
	apps, err := s.ledger.ListApplications(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	if apps == nil {
		apps = []*models.Application{}
	}
	return c.JSON(http.StatusOK, apps)
}

func (s *Server) GetApplication(c echo.Context) error {
	id, err := loanID(c)
	if err != nil {
		return s.fail(c, err)
	}
	app, err := s.ledger.GetApplication(c.Request().Context(), id, c.Param("ac"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, app)
}

func (s *Server) Approve(c echo.Context) error {
	id, err := loanID(c)
	if err != nil {
		return s.fail(c, err)
	}
	app, err := s.ledger.ApproveApplication(c.Request().Context(), id, wallet(c), c.Param("ac"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, app)
}

func (s *Server) Repay(c echo.Context) error {
	id, err := loanID(c)
	if err != nil {
		return s.fail(c, err)
	}
	ctx := c.Request().Context()
	app, err := s.ledger.GetApplication(ctx, id, c.Param("ac"))
	if err != nil {
		return s.fail(c, err)
	}
	if app.Borrower != wallet(c) {
		return s.fail(c, fmt.Errorf("%w: only the borrower may repay", common.ErrForbidden))
	}
	app, err = s.ledger.Repay(ctx, id, app.ActivityCommitment)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, app)
}
