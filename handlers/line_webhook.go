package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/line/line-bot-sdk-go/linebot"
	"github.com/sirupsen/logrus"
)

// GroupRegistry stores the groups the bot is a member of.
type GroupRegistry interface {
	Joined(groupID, groupName string) error
	Left(groupID string) error
}

// GroupNamer resolves a group's display name.
type GroupNamer interface {
	GroupName(groupID string) (string, error)
}

// LineWebhookHandler records join and leave events so completed registrations
// reach every staff group the bot has been added to.
type LineWebhookHandler struct {
	secret string
	groups GroupRegistry
	namer  GroupNamer
	async  bool
}

// NewLineWebhookHandler returns a handler that acknowledges and ignores events when secret is empty.
func NewLineWebhookHandler(secret string, groups GroupRegistry, namer GroupNamer) *LineWebhookHandler {
	if secret == "" {
		logrus.Warn("LINE webhook disabled: missing LINE_CHANNEL_SECRET")
	}
	return &LineWebhookHandler{secret: secret, groups: groups, namer: namer, async: true}
}

// Handle verifies the signature and replies 200 before processing, as LINE expects.
func (h *LineWebhookHandler) Handle(c *fiber.Ctx) error {
	if h.secret == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	signature := c.Get("X-Line-Signature")
	if signature == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if !validateSignature(h.secret, c.Body(), signature) {
		logrus.WithField("ip", c.IP()).Warn("LINE webhook signature mismatch")
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	// fasthttp reuses the request buffer after the handler returns
	body := append([]byte(nil), c.Body()...)
	if h.async {
		go h.processEvents(body)
	} else {
		h.processEvents(body)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *LineWebhookHandler) processEvents(body []byte) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("panic recovered in LINE webhook")
		}
	}()

	var webhook struct {
		Events []*linebot.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &webhook); err != nil {
		logrus.WithError(err).Warn("Failed to parse LINE webhook events")
		return
	}

	for _, event := range webhook.Events {
		if event.Source == nil || event.Source.GroupID == "" {
			continue
		}
		groupID := event.Source.GroupID
		entry := logrus.WithField("group_id", groupID)

		switch event.Type {
		case linebot.EventTypeJoin:
			name := ""
			if h.namer != nil {
				var err error
				if name, err = h.namer.GroupName(groupID); err != nil {
					entry.WithError(err).Warn("Failed to get LINE group summary")
				}
			}
			if err := h.groups.Joined(groupID, name); err != nil {
				entry.WithError(err).Error("Failed to save LINE group")
				continue
			}
			entry.WithField("group_name", name).Info("Bot joined LINE group")
		case linebot.EventTypeLeave:
			if err := h.groups.Left(groupID); err != nil {
				entry.WithError(err).Error("Failed to update LINE group leave")
				continue
			}
			entry.Info("Bot left LINE group")
		}
	}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func validateSignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(computeSignature(secret, body)))
}
