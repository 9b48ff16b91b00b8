package tgui

// MaxMessageLen is Telegram's text message limit in UTF-16 code units.
const MaxMessageLen = 4096

// MaxTitleRunes caps the bold heading of a notification message.
const MaxTitleRunes = 256
