package qr

import (
	"github.com/skip2/go-qrcode"

	"ms-lottery/internal/models"
)

const size = 256

// PaymentPNG renders the ton://transfer link of the instructions as a PNG so
// a mobile wallet can scan it.
func PaymentPNG(instr models.PaymentInstructions) ([]byte, error) {
	return qrcode.Encode(instr.TransferURL, qrcode.Medium, size)
}
