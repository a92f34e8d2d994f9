package broker

import "fmt"

// Wire types for the broker's place-order envelope. Field names,
// ordering, and the bracket-encoded epoch format are reproduced byte-exact
// per the broker's published contract; they are NOT derived from any
// abstraction the rest of the core uses — the dispatcher never constructs
// these directly, only through Adapter.Place.

// requestHeader carries the caller identity attached to every wire call.
type requestHeader struct {
	RequestCode   string `json:"reqcode"`
	APIKey        string `json:"apikey"`
	AppVersion    string `json:"appver"`
	AppName       string `json:"appname"`
	ChannelName   string `json:"channelname"`
	BrokerUserID  string `json:"brokeruid"`
	BrokerPasswd  string `json:"brokerpwd"`
}

// placeOrderBody is the body of a place-order request. Side codes are
// single characters ("B"/"S"); exchange codes are single letters (e.g. "N"
// for NSE); timestamps are bracket-encoded millisecond epoch strings, e.g.
// "/Date(1700000000000)/", per the broker's published wire format.
type placeOrderBody struct {
	ClientCode       string `json:"clntcode"`
	OrderFor         string `json:"ordfor"`
	ExchangeCode     string `json:"exch"`
	ExchangeSegment  string `json:"exchseg"`
	Price            string `json:"prc"`
	InternalOrderSeq string `json:"ordno"`
	SideCode         string `json:"transtype"`
	Quantity         string `json:"qty"`
	OrderTimestamp   string `json:"orddate"` // bracket-encoded epoch millis
	InstrumentCode   string `json:"symbol_id"`
	AtMarket         string `json:"mktpro"` // "Y"/"N"
	IdempotencyToken string `json:"usercomments"`
	ExchangeOrderID  string `json:"exchordid"` // "0" for new
	DisclosedQty     string `json:"dscqty"`
	StopLoss         string `json:"ordflag"` // "Y"/"N"
	StopLossPrice    string `json:"trgprc"`
	GoodTillDate     string `json:"validity"`
	IOC              string `json:"ioc"` // "Y"/"N"
	Intraday         string `json:"pc"`  // "I" intraday, "D" delivery
	PublicIP         string `json:"ip"`
	AfterHours       string `json:"amo"` // "Y"/"N"
	ValidTillDate    string `json:"validtilldt"` // bracket-encoded epoch millis
	OrderValidity    string `json:"ordvalidity"`
	OrderRequester   string `json:"reqcode2"`
	TradedQuantity   string `json:"fillshares"`
}

type placeOrderRequest struct {
	Head requestHeader  `json:"head"`
	Body placeOrderBody `json:"body"`
}

// placeOrderResponseBody is the body of a place-order response.
type placeOrderResponseBody struct {
	BrokerOrderID   string `json:"nestordno"`
	ClientCode      string `json:"clntcode"`
	ExchangeOrderID string `json:"exchordid"`
	Message         string `json:"emsg"`
	Status          string `json:"stat"`
}

type placeOrderResponse struct {
	ResponseCode string                 `json:"respcode"`
	StatusCode   int                    `json:"statuscode"` // 0 = success
	StatusText   string                 `json:"stattext"`
	Body         placeOrderResponseBody `json:"body"`
}

// epochBracket formats a millisecond epoch in the broker's bracket-encoded
// form, e.g. "/Date(1700000000000)/".
func epochBracket(millis int64) string {
	return fmt.Sprintf("/Date(%d)/", millis)
}

// exchangeCode maps a trading exchange name to the broker's single-letter
// code. NSE and BSE are the two segments this adapter is grounded against;
// unrecognized exchanges are passed through verbatim,
// letting a PermanentBrokerError surface from the broker itself rather than
// failing closed here.
func exchangeCode(exchange string) string {
	switch exchange {
	case "NSE":
		return "N"
	case "BSE":
		return "B"
	default:
		return exchange
	}
}

// sideCode maps domain.Side to the broker's transaction-type code.
func sideCode(buy bool) string {
	if buy {
		return "B"
	}
	return "S"
}

// productCode maps a product type to the broker's day-trading product
// codes: "I" for intraday, "D" for delivery.
func productCode(intraday bool) string {
	if intraday {
		return "I"
	}
	return "D"
}

func yn(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
