package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PaymentEvidence is the on-chain proof attached to a paid ticket.
type PaymentEvidence struct {
	TxHash      string `json:"tx_hash"`
	LogicalTime string `json:"lt"`
	AmountNano  uint64 `json:"amount_nano"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Memo        string `json:"memo"`
	Utime       int64  `json:"utime"`
}

func (e PaymentEvidence) Value() (driver.Value, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (e *PaymentEvidence) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		return json.Unmarshal([]byte(v), e)
	case []byte:
		return json.Unmarshal(v, e)
	default:
		return fmt.Errorf("payment evidence: unsupported source type %T", src)
	}
}

// PaymentInstructions tells the owner where and how much to pay for a ticket.
type PaymentInstructions struct {
	TicketID    string  `json:"ticket_id"`
	OwnerID     string  `json:"owner_id"`
	Address     string  `json:"address"`
	AmountTON   string  `json:"amount_ton"`
	AmountNano  uint64  `json:"amount_nano"`
	Memo        string  `json:"memo"`
	Network     string  `json:"network"`
	TransferURL string  `json:"transfer_url"`
	Ticket      *Ticket `json:"ticket"`
}
