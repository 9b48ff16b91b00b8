// Package tgui builds Telegram messages for ParseMode="HTML".
//
// Values of type H are already escaped; plain strings passed to the tag
// helpers are escaped on the way in.
package tgui
