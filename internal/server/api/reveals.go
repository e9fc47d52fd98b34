package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/server/models"
)

// RevealRetry re-runs the reveal of a defaulted loan. ?reset=true drops
// collected shares and re-authorizes every trustee.
func (s *Server) RevealRetry(c echo.Context) error {
	id, err := loanID(c)
	if err != nil {
		return s.fail(c, err)
	}
	reset, _ := strconv.ParseBool(c.QueryParam("reset"))

	ctx := c.Request().Context()
	s.logger.Warn(ctx, "AUDIT: admin reveal retry", "loan_id", id, "reset", reset)
	if err := s.reveals.Retry(ctx, id, reset); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"loanId": id, "reset": reset, "status": "revealed"})
}

type deliveryResp struct {
	ID                 string `json:"id"`
	LoanID             uint64 `json:"loanId"`
	ActivityCommitment string `json:"activityCommitment"`
	Identity           any    `json:"identity"`
	DeliveredAt        string `json:"deliveredAt"`
}

func (s *Server) LenderInbox(c echo.Context) error {
	lender, _ := c.Get(lenderKey).(string)
	list, err := s.reveals.Inbox(c.Request().Context(), lender)
	if err != nil {
		return s.fail(c, err)
	}

	out := make([]deliveryResp, 0, len(list))
	for _, d := range list {
		out = append(out, toDeliveryResp(d))
	}
	return c.JSON(http.StatusOK, out)
}

func toDeliveryResp(d *models.Delivery) deliveryResp {
	r := deliveryResp{
		ID:                 d.ID,
		LoanID:             d.LoanID,
		ActivityCommitment: d.ActivityCommitment,
		DeliveredAt:        d.DeliveredAt.UTC().Format(time.RFC3339),
	}
	if jsonValid(d.Identity) {
		r.Identity = rawJSON(d.Identity)
	} else {
		r.Identity = string(d.Identity)
	}
	return r
}

type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) { return r, nil }

func jsonValid(b []byte) bool { return len(b) > 0 && json.Valid(b) }
