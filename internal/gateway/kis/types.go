package kis

// Wire types for the Korea Investment & Securities (KIS) OpenAPI. The API
// returns every numeric field as a string; conversion happens at the client
// boundary.

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type approvalRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	SecretKey string `json:"secretkey"`
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// envelope is the common response wrapper: rt_cd "0" means success.
type envelope struct {
	ReturnCode string `json:"rt_cd"`
	MessageCd  string `json:"msg_cd"`
	Message    string `json:"msg1"`
}

type priceResponse struct {
	envelope
	Output struct {
		CurrentPrice string `json:"stck_prpr"`
	} `json:"output"`
}

type orderRequest struct {
	AccountNo        string `json:"CANO"`
	AccountProductCd string `json:"ACNT_PRDT_CD"`
	Symbol           string `json:"PDNO"`
	OrderDivision    string `json:"ORD_DVSN"` // 00 limit, 01 market
	Quantity         string `json:"ORD_QTY"`
	Price            string `json:"ORD_UNPR"` // "0" for market
}

type orderResponse struct {
	envelope
	Output struct {
		ExchangeOrgNo string `json:"KRX_FWDG_ORD_ORGNO"`
		OrderNo       string `json:"ODNO"`
		OrderTime     string `json:"ORD_TMD"`
	} `json:"output"`
}

type cancelRequest struct {
	AccountNo        string `json:"CANO"`
	AccountProductCd string `json:"ACNT_PRDT_CD"`
	ExchangeOrgNo    string `json:"KRX_FWDG_ORD_ORGNO"`
	OriginalOrderNo  string `json:"ORGN_ODNO"`
	OrderDivision    string `json:"ORD_DVSN"`
	CancelDivision   string `json:"RVSE_CNCL_DVSN_CD"` // 02 cancel
	Quantity         string `json:"ORD_QTY"`
	Price            string `json:"ORD_UNPR"`
	QtyAllOrdered    string `json:"QTY_ALL_ORD_YN"`
}

type balanceResponse struct {
	envelope
	Holdings []struct {
		Symbol   string `json:"pdno"`
		Name     string `json:"prdt_name"`
		Quantity string `json:"hldg_qty"`
		AvgPrice string `json:"pchs_avg_pric"`
	} `json:"output1"`
	Summary []struct {
		AvailableCash string `json:"prvs_rcdl_excc_amt"`
		TotalDeposit  string `json:"dnca_tot_amt"`
	} `json:"output2"`
}

type orderStatusResponse struct {
	envelope
	Orders []struct {
		OrderNo        string `json:"odno"`
		OrderQuantity  string `json:"ord_qty"`
		FilledQuantity string `json:"tot_ccld_qty"`
		RemainQuantity string `json:"rmn_qty"`
		AveragePrice   string `json:"avg_prvs"`
		CancelledYN    string `json:"cncl_yn"`
	} `json:"output1"`
}
