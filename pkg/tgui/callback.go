package tgui

import (
	"errors"
	"strings"

	"remindbot/internal/transport"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "scope:action[:payload]".
func Data(scope, action, payload string) string {
	d := strings.TrimSpace(scope) + ":" + strings.TrimSpace(action)
	if payload != "" {
		d += ":" + payload
	}
	return d
}

// Keyboard accumulates inline button rows.
type Keyboard struct {
	rows [][]transport.Button
	err  error
}

// Row appends one row. Buttons whose data exceeds the size limit are
// dropped and reported by Err.
func (k *Keyboard) Row(btns ...transport.Button) *Keyboard {
	row := make([]transport.Button, 0, len(btns))
	for _, b := range btns {
		if len(b.Data) > MaxCallbackDataLen {
			k.err = ErrCallbackDataTooLong
			continue
		}
		row = append(row, b)
	}
	if len(row) > 0 {
		k.rows = append(k.rows, row)
	}
	return k
}

func (k *Keyboard) Rows() [][]transport.Button { return k.rows }

func (k *Keyboard) Err() error { return k.err }

func Btn(text, data string) transport.Button { return transport.Button{Text: text, Data: data} }
