// Package chat contains the Twitch IRC transport and the message router.
//
// Bot wraps the IRC client: it connects for TWITCH_CHANNEL, forwards every
// PRIVMSG to the router, and sends outbound replies. Router decides what each
// message is: an admin command, a message addressed to the bot (which opens a
// short dialogue window for that user), a continuation inside an open window,
// or ambient chatter that feeds the digest buffer.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes. If TWITCH_OAUTH_TOKEN is not provided, main
// falls back to the stored token from the oauth_tokens table for provider
// "twitch".
package chat
