package shopapi

import (
	"strconv"

	"github.com/relvacode/iso8601"

	"github.com/keboola/go-envelope-client/pkg/envelope"
)

// LoginResult - logged-in member.
type LoginResult struct {
	MemberID  int          `json:"memberId"`
	Signature string       `json:"memberSignature"`
	ShopID    int          `json:"shopId"`
	NickName  string       `json:"nickName"`
	LoginAt   iso8601.Time `json:"loginAt"`
}

// AccountAmount - balance of the member account.
type AccountAmount struct {
	Balance   float64      `json:"balance"`
	Frozen    float64      `json:"frozen"`
	Currency  string       `json:"currency"`
	UpdatedAt iso8601.Time `json:"updatedAt"`
}

// ShopInfo - shop of the member.
type ShopInfo struct {
	ID        int          `json:"id"`
	Name      string       `json:"name"`
	LogoURL   string       `json:"logo"`
	CreatedAt iso8601.Time `json:"createdAt"`
}

// SaleData - total sale statistics of the shop.
type SaleData struct {
	TotalSales  float64      `json:"totSaleAmount"`
	OrdersCount int          `json:"orderCount"`
	Visitors    int          `json:"visitorCount"`
	Date        iso8601.Time `json:"statDate"`
}

// Upload - uploaded file.
type Upload struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Dashboard - results of the dashboard batch, a nil field means that the request failed, see Results.
type Dashboard struct {
	Login   *LoginResult
	Amount  *AccountAmount
	Shop    *ShopInfo
	Sales   *SaleData
	Results envelope.Results
}

// Member converts the login result to the Member headers.
func (r LoginResult) Member() Member {
	out := Member{Signature: r.Signature}
	out.ID = strconv.Itoa(r.MemberID)
	if r.ShopID != 0 {
		out.ShopID = strconv.Itoa(r.ShopID)
	}
	return out
}
