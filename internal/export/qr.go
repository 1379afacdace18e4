package export

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const loyaltyStartPrefix = "card_"

// LoyaltyQR рисует PNG с QR-кодом ссылки на карту лояльности клиента.
func LoyaltyQR(link string) ([]byte, error) {
	if link == "" {
		return nil, fmt.Errorf("empty link")
	}
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// LoyaltyLink — deep link бота, который открывает карту клиента: /start card_<id>.
func LoyaltyLink(botUsername string, clientID uuid.UUID) string {
	return "https://t.me/" + url.PathEscape(strings.TrimPrefix(botUsername, "@")) + "?start=" + loyaltyStartPrefix + clientID.String()
}

// ParseLoyaltyStart разбирает параметр /start из LoyaltyLink.
func ParseLoyaltyStart(param string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(param), loyaltyStartPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
