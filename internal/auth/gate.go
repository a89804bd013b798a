// Package auth implements the allow/deny decision per (chat, user) pair.
package auth

import (
	"fmt"

	"github.com/lagerbot/warehouse-bot/internal/models"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Authorized bool
	Reason     string
}

// ReasonUnauthorized is attached to every denial.
const ReasonUnauthorized = "unauthorized"

// IsAllowedChat reports whether the chat is in the allow list.
func IsAllowedChat(chatID int64, allowedChatIDs []int64) bool {
	for _, id := range allowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// IsAllowedUser reports whether the user is in the allow list.
func IsAllowedUser(userID int64, allowedUserIDs []int64) bool {
	for _, id := range allowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Authorize decides whether a request from the given chat and user may be
// processed. Negative chat IDs are group chats: every member of an allowed
// group is trusted. Direct chats additionally require the user to be allowed,
// unless no user restriction is configured. userID may be nil when the
// platform did not attach a sender.
func Authorize(chatID int64, userID *int64, allowedChatIDs, allowedUserIDs []int64) Decision {
	if !IsAllowedChat(chatID, allowedChatIDs) {
		return Decision{Authorized: false, Reason: ReasonUnauthorized}
	}

	if chatID < 0 {
		// Group chat: all members may write.
		return Decision{Authorized: true}
	}

	if len(allowedUserIDs) == 0 {
		return Decision{Authorized: true}
	}
	if userID != nil && IsAllowedUser(*userID, allowedUserIDs) {
		return Decision{Authorized: true}
	}

	return Decision{Authorized: false, Reason: ReasonUnauthorized}
}

// ApplyAuthorization stamps the authorization outcome onto a candidate
// transaction. On denial the action, flag, reason and confirmation text are
// overwritten together; on approval only the authorized flag is set. The
// transform never partially applies.
func ApplyAuthorization(tx models.Transaction, allowedChatIDs, allowedUserIDs []int64) models.Transaction {
	var userID *int64
	if tx.TelegramUserID != 0 {
		userID = &tx.TelegramUserID
	}

	decision := Authorize(tx.ChatID, userID, allowedChatIDs, allowedUserIDs)
	if !decision.Authorized {
		reason := decision.Reason
		tx.Authorized = false
		tx.Action = models.ActionReject
		tx.Reason = &reason
		tx.ConfirmationText = fmt.Sprintf("❌ Zugriff verweigert: %s", reason)
		return tx
	}

	tx.Authorized = true
	return tx
}
