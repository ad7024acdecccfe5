// Package chat connects the bot to Twitch IRC for the configured channel.
//
// It provides one entrypoint, the Listener, which:
//   - parses incoming messages into command deliveries (lines starting with
//     "!") and hands them to the command processor, carrying the IRC message
//     id as the dedup delivery id,
//   - publishes replies and overlay signal lines back into the channel,
//     satisfying the command processor's Publisher interface.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes. If TWITCH_OAUTH_TOKEN is not provided, the
// package will try to reuse a stored token from the oauth_tokens table for
// provider "twitch".
package chat
