// Package api is the escrow node's HTTP surface.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/auth"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/logging"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/escrow"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/ledger"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/registry"
)

const (
	WalletHeader    = "X-Wallet-Address"
	shutdownTimeout = 10 * time.Second
)

type Ledger interface {
	CreateOffer(ctx context.Context, lender string, in ledger.OfferInput) (*models.Loan, error)
	GetLoan(ctx context.Context, id uint64) (*models.Loan, error)
	ListLoans(ctx context.Context, limit, offset int) ([]*models.Loan, error)
	ApplyForLoan(ctx context.Context, loanID uint64, borrower, activityCommitment, proofHash string, claimedScore uint64) (*models.Application, error)
	GetApplication(ctx context.Context, loanID uint64, activityCommitment string) (*models.Application, error)
	ListApplications(ctx context.Context, loanID uint64) ([]*models.Application, error)
	ApproveApplication(ctx context.Context, loanID uint64, lender, activityCommitment string) (*models.Application, error)
	Repay(ctx context.Context, loanID uint64, activityCommitment string) (*models.Application, error)
	CheckAndTriggerDefault(ctx context.Context, loanID uint64) (*ledger.DefaultOutcome, error)
}

type Escrower interface {
	EscrowIdentity(ctx context.Context, loanID uint64, activityCommitment string, identity []byte) (*escrow.Result, error)
}

type Registry interface {
	RegisterIdentity(ctx context.Context, walletKey string, m registry.IdentityMaterial) (string, error)
	RegisterActivity(ctx context.Context, walletKey, activityCommitment string) error
	Resolve(ctx context.Context, activityCommitment string) (string, bool, error)
	Pair(ctx context.Context, walletKey string) (*models.CommitmentPair, error)
}

type Revealer interface {
	Retry(ctx context.Context, loanID uint64, reset bool) error
	Inbox(ctx context.Context, lender string) ([]*models.Delivery, error)
}

type Secrets struct {
	LenderToken []byte
	AdminToken  string
}

type Server struct {
	address  string
	ledger   Ledger
	escrow   Escrower
	registry Registry
	reveals  Revealer
	secrets  Secrets
	logger   logging.Logger
	echo     *echo.Echo
}

func NewServer(address string, l Ledger, e Escrower, r Registry, rv Revealer, secrets Secrets, logger logging.Logger) *Server {
	s := &Server{
		address:  address,
		ledger:   l,
		escrow:   e,
		registry: r,
		reveals:  rv,
		secrets:  secrets,
		logger:   logger.With("module", "http_server"),
	}
	s.echo = s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.Use(middleware.Recover(), middleware.RequestID(), s.requestLogger)

	e.GET("/health", s.Health)

	e.POST("/loans", s.CreateLoan, s.requireWallet)
	e.GET("/loans", s.ListLoans)
	e.GET("/loans/:id", s.GetLoan)
	e.POST("/loans/:id/default-check", s.CheckDefault)

	e.POST("/loans/:id/applications", s.Apply, s.requireWallet)
	e.GET("/loans/:id/applications", s.ListApplications)
	e.GET("/loans/:id/applications/:ac", s.GetApplication)
	e.POST("/loans/:id/applications/:ac/identity", s.EscrowIdentity, s.requireWallet)
	e.POST("/loans/:id/applications/:ac/approve", s.Approve, s.requireWallet)
	e.POST("/loans/:id/applications/:ac/repay", s.Repay, s.requireWallet)

	e.POST("/commitments/identity", s.RegisterIdentity, s.requireWallet)
	e.POST("/commitments/activity", s.RegisterActivity, s.requireWallet)
	e.GET("/commitments/:ac/identity", s.ResolveCommitment)

	e.POST("/admin/loans/:id/reveal-retry", s.RevealRetry, s.requireAdmin)
	e.GET("/lenders/me/reveals", s.LenderInbox, s.requireLender)

	return e
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := logging.ContextWith(req.Context(), "request_id", c.Response().Header().Get(echo.HeaderXRequestID))
		c.SetRequest(req.WithContext(ctx))

		err := next(c)
		s.logger.Debug(ctx, "request",
			"method", c.Request().Method, "path", c.Path(),
			"status", c.Response().Status, "took", time.Since(start).String())
		return err
	}
}

const (
	walletKey = "wallet"
	lenderKey = "lender"
)

func (s *Server) requireWallet(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		wallet := strings.ToLower(strings.TrimSpace(c.Request().Header.Get(WalletHeader)))
		if !reHexValue.MatchString(wallet) {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing or malformed " + WalletHeader})
		}
		c.Set(walletKey, wallet)
		return next(c)
	}
}

func bearer(c echo.Context) string {
	tok, _ := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
	return strings.TrimSpace(tok)
}

func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tok := bearer(c)
		if s.secrets.AdminToken == "" || subtle.ConstantTimeCompare([]byte(tok), []byte(s.secrets.AdminToken)) != 1 {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "admin token required"})
		}
		return next(c)
	}
}

func (s *Server) requireLender(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		lender, err := auth.LenderFromToken(bearer(c), s.secrets.LenderToken)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		}
		c.Set(lenderKey, strings.ToLower(lender))
		return next(c)
	}
}

func wallet(c echo.Context) string {
	w, _ := c.Get(walletKey).(string)
	return w
}

func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.echo.Shutdown(sctx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
	if err := s.echo.Start(s.address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
