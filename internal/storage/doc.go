// Package storage persists the group registry: the chats the bot belongs to and
// whether each one still receives the daily announcement.
//
// Telegram offers no call to list a bot's chats, so membership events are recorded
// here and the registry is the source of active groups at startup.
package storage
