// Package tgui holds small helpers for Telegram HTML text, callback data and
// inline keyboards.
package tgui
