// Package chat contains the Twitch chat bot that feeds the mention ledger.
//
// Every PRIVMSG is turned into a Message and handed to a Dispatcher, which runs
// at most CHAT_MAX_IN_FLIGHT handlers at once. The Handler drops the bot's own
// messages, answers prefixed commands (help, info, meter, leaderboard,
// increment, masa) and otherwise runs the phrase matcher, recording one mention
// for the author on a match.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes (TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN). Without
// them the bot is not started and the HTTP API runs alone.
package chat
