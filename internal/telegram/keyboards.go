package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"
	"github.com/madadi/accounting-bot/internal/engine"
	"github.com/madadi/accounting-bot/internal/storage"
)

// AccountingKeyboard returns the interactive controls attached to a
// notification. Callback data encodes (button kind, username, admin id);
// the originating message itself arrives with the callback query.
func AccountingKeyboard(username string, adminID int64) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "Paid ✅", CallbackData: fmt.Sprintf("%s:%s:%d", engine.ButtonPaid, username, adminID)},
				{Text: "Unpaid ❌", CallbackData: fmt.Sprintf("%s:%s:%d", engine.ButtonUnpaid, username, adminID)},
			},
			{
				{Text: "➕ Add to settlement list", CallbackData: fmt.Sprintf("%s:%s:%d", engine.ButtonSettle, username, adminID)},
			},
		},
	}
}

// SettlementsKeyboard returns resolve buttons for open settlement entries
func SettlementsKeyboard(entries []storage.SettlementEntry) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton

	for _, e := range entries {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: "✔️ " + e.Username, CallbackData: fmt.Sprintf("resolve:%d", e.ID)},
		})
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
