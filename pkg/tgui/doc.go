// Package tgui holds small helpers for Telegram HTML messages:
//   - escaping and tag helpers (ParseMode "HTML")
//   - callback data in the form "scope:action:payload"
//   - a Builder producing text plus transport.SendOptions
package tgui
