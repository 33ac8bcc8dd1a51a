package payments

import (
	"encoding/json"
	"strconv"
)

// STKPushRequest is what the relay needs from a caller to push a payment
// prompt to a customer's handset. Phone must already be in canonical
// 254XXXXXXXXX form.
type STKPushRequest struct {
	Phone            string
	Amount           float64
	AccountReference string
	TransactionDesc  string
}

// STKPushResponse mirrors Daraja's acknowledgment of an STK push. Raw keeps
// the untouched upstream body so handlers can forward the gateway's fields
// under their native names.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`

	Raw json.RawMessage `json:"-"`
}

// CallbackEnvelope is the nested result notification Daraja posts back once
// the customer completes or abandons the prompt.
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []CallbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

// CallbackItem is a name/value diagnostic pair. Value is a string or a JSON
// number depending on the field, so it stays untyped here.
type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// Receipt returns the MpesaReceiptNumber item, or nil when the callback
// carried none (failed payments have no metadata at all).
func (c *StkCallback) Receipt() *string {
	return c.itemString("MpesaReceiptNumber")
}

// Phone returns the PhoneNumber item as a digit string, or nil.
func (c *StkCallback) Phone() *string {
	return c.itemString("PhoneNumber")
}

// Amount returns the Amount item, or nil.
func (c *StkCallback) Amount() *float64 {
	for _, item := range c.CallbackMetadata.Item {
		if item.Name != "Amount" {
			continue
		}
		switch v := item.Value.(type) {
		case float64:
			return &v
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func (c *StkCallback) itemString(name string) *string {
	for _, item := range c.CallbackMetadata.Item {
		if item.Name != name {
			continue
		}
		switch v := item.Value.(type) {
		case string:
			return &v
		case float64:
			// PhoneNumber arrives as a JSON number; render without exponent
			s := strconv.FormatFloat(v, 'f', -1, 64)
			return &s
		}
	}
	return nil
}
