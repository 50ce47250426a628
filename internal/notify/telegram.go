package notify

import (
	"context"
	"fmt"

	"karavan/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender is the slice of the bot API the notifier uses.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends a run summary to an admin chat.
type TelegramNotifier struct {
	api    TelegramSender
	chatID int64
}

func NewTelegramNotifier(api TelegramSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{api: api, chatID: chatID}
}

func (n *TelegramNotifier) Notify(ctx context.Context, event RunEvent) error {
	var text string
	if event.Status == string(models.ExecutionCompleted) {
		text = fmt.Sprintf(
			"✅ Import %q finished\nProcessed: %d\nImported: %d\nFailed: %d",
			event.JobName, event.ItemsProcessed, event.ItemsImported, event.ItemsFailed,
		)
	} else {
		text = fmt.Sprintf("❌ Import %q failed: %s", event.JobName, event.Error)
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	_, err := n.api.Send(msg)
	return err
}
