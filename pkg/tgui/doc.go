// Package tgui builds Telegram HTML message text.
//
// Values of type H are already escaped. MarkdownV2ToHTML converts the
// MarkdownV2-flavored descriptions stored on check items.
package tgui
