package notifications

import (
	"fmt"

	"github.com/line/line-bot-sdk-go/linebot"
	"github.com/sirupsen/logrus"
)

// LineMessagingService pushes messages through the LINE Messaging API.
type LineMessagingService struct {
	Bot *linebot.Client
}

// NewLineMessagingService returns nil when the channel credentials are not configured.
func NewLineMessagingService(channelSecret, channelToken string) *LineMessagingService {
	if channelSecret == "" || channelToken == "" {
		logrus.Warn("LINE Messaging API disabled: missing LINE_CHANNEL_SECRET or LINE_CHANNEL_ACCESS_TOKEN")
		return nil
	}

	bot, err := linebot.New(channelSecret, channelToken)
	if err != nil {
		logrus.WithError(err).Error("Cannot create LINE bot client")
		return nil
	}
	return &LineMessagingService{Bot: bot}
}

// PushText sends a text message to a group.
func (s *LineMessagingService) PushText(groupID, text string) error {
	if s == nil || s.Bot == nil {
		return fmt.Errorf("LINE Bot client is not initialized")
	}
	if _, err := s.Bot.PushMessage(groupID, linebot.NewTextMessage(text)).Do(); err != nil {
		return fmt.Errorf("LINE Messaging API failed: %v", err)
	}
	return nil
}

// GroupName looks up the display name of a group the bot belongs to.
func (s *LineMessagingService) GroupName(groupID string) (string, error) {
	if s == nil || s.Bot == nil {
		return "", fmt.Errorf("LINE Bot client is not initialized")
	}
	summary, err := s.Bot.GetGroupSummary(groupID).Do()
	if err != nil {
		return "", fmt.Errorf("LINE group summary failed: %v", err)
	}
	return summary.GroupName, nil
}
