package meta

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/Leganyst/salon-crm/internal/model"
)

// Inbound — входящее текстовое сообщение из WhatsApp или Instagram.
type Inbound struct {
	Channel     model.Channel
	ExternalID  string
	DisplayName string
	Text        string
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message *struct {
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// ParseWebhook достаёт текстовые сообщения из уведомления Meta.
// Статусы доставки, эхо своих сообщений и медиа пропускаются.
func ParseWebhook(body []byte) ([]Inbound, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("meta webhook: %w", err)
	}

	var out []Inbound
	switch p.Object {
	case "whatsapp_business_account":
		for _, e := range p.Entry {
			for _, ch := range e.Changes {
				names := map[string]string{}
				for _, c := range ch.Value.Contacts {
					names[c.WaID] = c.Profile.Name
				}
				for _, m := range ch.Value.Messages {
					if m.Type != "text" || strings.TrimSpace(m.Text.Body) == "" {
						continue
					}
					out = append(out, Inbound{
						Channel:     model.ChannelWhatsApp,
						ExternalID:  m.From,
						DisplayName: names[m.From],
						Text:        m.Text.Body,
					})
				}
			}
		}
	case "instagram", "page":
		for _, e := range p.Entry {
			for _, m := range e.Messaging {
				if m.Message == nil || m.Message.IsEcho || strings.TrimSpace(m.Message.Text) == "" {
					continue
				}
				out = append(out, Inbound{
					Channel:    model.ChannelInstagram,
					ExternalID: m.Sender.ID,
					Text:       m.Message.Text,
				})
			}
		}
	default:
		return nil, fmt.Errorf("meta webhook: unsupported object %q", p.Object)
	}
	return out, nil
}

// VerifySubscription обрабатывает GET-рукопожатие hub.challenge.
func VerifySubscription(q url.Values, verifyToken string) (string, bool) {
	if verifyToken == "" || q.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if !hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(verifyToken)) {
		return "", false
	}
	return q.Get("hub.challenge"), true
}

// VerifySignature проверяет X-Hub-Signature-256. Пустой секрет — проверка выключена.
func VerifySignature(body []byte, header, appSecret string) bool {
	if appSecret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
