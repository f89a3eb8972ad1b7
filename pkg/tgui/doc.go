// Package tgui provides small Telegram presentation helpers:
//   - Safe HTML building blocks for ParseMode="HTML" (auto escaping)
//   - Rune-aware truncation against Telegram's message size limit
package tgui
