package models

import (
	"fmt"
	"strings"
	"time"
)

// Action describes what a parsed message wants to do with stock.
type Action string

const (
	ActionWithdraw Action = "withdraw"
	ActionReturn   Action = "return"
	ActionAdjust   Action = "adjust"
	ActionNewItem  Action = "new_item"
	ActionReject   Action = "reject"
)

// IsValid reports whether the action is one of the known values.
func (a Action) IsValid() bool {
	switch a {
	case ActionWithdraw, ActionReturn, ActionAdjust, ActionNewItem, ActionReject:
		return true
	}
	return false
}

// Unit is a normalized measurement unit. The parser collaborator is instructed
// to emit one of these values, but responses are normalized again locally
// because the collaborator output is not trusted.
type Unit string

const (
	UnitPiece  Unit = "Stk"
	UnitMeter  Unit = "m"
	UnitKilo   Unit = "kg"
	UnitLiter  Unit = "l"
	UnitPack   Unit = "pack"
	UnitSet    Unit = "set"
	UnitRoll   Unit = "rolle"
	UnitCarton Unit = "karton"
	UnitCrate  Unit = "kiste"
	UnitBag    Unit = "tüte"
	UnitPct    Unit = "%"
)

// IsValid reports whether the unit is part of the enumerated set.
func (u Unit) IsValid() bool {
	switch u {
	case UnitPiece, UnitMeter, UnitKilo, UnitLiter, UnitPack, UnitSet,
		UnitRoll, UnitCarton, UnitCrate, UnitBag, UnitPct:
		return true
	}
	return false
}

// unitAliases maps free-form unit tokens onto the enumerated set.
var unitAliases = map[string]Unit{
	"x":        UnitPiece,
	"stück":    UnitPiece,
	"stk.":     UnitPiece,
	"stk":      UnitPiece,
	"pcs":      UnitPiece,
	"piece":    UnitPiece,
	"meter":    UnitMeter,
	"m":        UnitMeter,
	"kg":       UnitKilo,
	"l":        UnitLiter,
	"pack":     UnitPack,
	"set":      UnitSet,
	"rolle":    UnitRoll,
	"rolle(n)": UnitRoll,
	"rollen":   UnitRoll,
	"karton":   UnitCarton,
	"kiste":    UnitCrate,
	"tüte":     UnitBag,
	"%":        UnitPct,
}

// NormalizeUnit collapses a free-form unit token onto the enumerated set.
// Unrecognized tokens fall back to pieces; the unit is never left blank.
func NormalizeUnit(token string) Unit {
	normalized := strings.ToLower(strings.TrimSpace(token))
	if u, ok := unitAliases[normalized]; ok {
		return u
	}
	if u := Unit(normalized); u.IsValid() {
		return u
	}
	return UnitPiece
}

// DefaultConfirmation is substituted when the collaborator omits the
// human-readable confirmation text.
const DefaultConfirmation = "✓ Verarbeitet"

// Transaction is one candidate stock movement extracted from an inbound
// message. It is created by the extractor, flagged by the authorization gate
// and the idempotency ledger, and terminal once written to the outbound log.
type Transaction struct {
	Action             Action   `json:"action"`
	ItemName           *string  `json:"item_name"`
	SKU                *string  `json:"sku"`
	Qty                *float64 `json:"qty" validate:"omitempty,gte=0"`
	Unit               Unit     `json:"unit"`
	Location           *string  `json:"location"`
	ProjectID          *string  `json:"project_id"`
	ProjectLabel       *string  `json:"project_label"`
	Reason             *string  `json:"reason"`
	Person             *string  `json:"person"`
	Notes              *string  `json:"notes"`
	Authorized         bool     `json:"authorized"`
	Duplicate          bool     `json:"duplicate"`
	ChatID             int64    `json:"chat_id"`
	MessageID          int      `json:"message_id"`
	TelegramUserID     int64    `json:"telegram_user_id"`
	TelegramUsername   *string  `json:"telegram_username"`
	RequestID          string   `json:"request_id"`
	TimestampISO       string   `json:"timestamp_iso"`
	Confidence         float64  `json:"confidence" validate:"gte=0,lte=1"`
	NeedsClarification bool     `json:"needs_clarification"`
	ClarifyingQuestion *string  `json:"clarifying_question"`
	ConfirmationText   string   `json:"confirmation_text"`
}

// SearchTerm returns the text used to resolve the transaction against the
// inventory. The item name is preferred over the SKU because names match the
// inventory sheet more reliably.
func (t *Transaction) SearchTerm() string {
	if t.ItemName != nil && *t.ItemName != "" {
		return *t.ItemName
	}
	if t.SKU != nil && *t.SKU != "" {
		return *t.SKU
	}
	return ""
}

// HasQuantity reports whether the extracted quantity is usable for a stock
// mutation. A nil quantity means the message was ambiguous ("mehrere", "ein
// paar") and no stock may be written.
func (t *Transaction) HasQuantity() bool {
	return t.Qty != nil
}

// Timestamp parses the transaction timestamp, falling back to the zero time.
func (t *Transaction) Timestamp() time.Time {
	ts, err := time.Parse(time.RFC3339, t.TimestampISO)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// RequestFingerprint derives the idempotency key for a whole inbound message.
func RequestFingerprint(chatID int64, messageID int) string {
	return fmt.Sprintf("%d-%d", chatID, messageID)
}

// ItemFingerprint derives the idempotency key for one item of a multi-item
// message. Item 0 of a single-item message still gets an index suffix so that
// items of the same message never collide.
func ItemFingerprint(chatID int64, messageID, itemIndex int) string {
	return fmt.Sprintf("%d-%d-%d", chatID, messageID, itemIndex)
}
