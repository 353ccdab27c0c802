package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline is a small builder for inline keyboards (ReplyMarkup).
// It stores rows as tele.Row ([]tele.Btn) and applies them via ReplyMarkup.Inline().
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a new row (buttons) to the inline keyboard.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Markup returns underlying reply markup.
func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data (we do NOT encode it).
// Use the helpers in callback.go to build "scope:action:payload" safely.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}

// ConfirmInline builds a simple 2-button confirm keyboard.
func ConfirmInline(yes, no tele.Btn) *Inline {
	return NewInline().Row(yes, no)
}

// ReplyKeyboard builds a one-shot reply keyboard from rows of buttons.
// Used by the onboarding dialog ("send location" / "enter city").
func ReplyKeyboard(rows ...[]tele.Btn) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	trs := make([]tele.Row, 0, len(rows))
	for _, r := range rows {
		trs = append(trs, rm.Row(r...))
	}
	rm.Reply(trs...)
	return rm
}

// RemoveKeyboard clears any reply keyboard on the user's side.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// LocationBtn creates a reply-keyboard button that requests the user's location.
func LocationBtn(text string) tele.Btn {
	return tele.Btn{Text: text, Location: true}
}

// TextBtn creates a plain reply-keyboard button.
func TextBtn(text string) tele.Btn {
	return tele.Btn{Text: text}
}
