// Package ui provides the terminal front end of the rotlink client.
//
// ChatModel is a Bubble Tea model with a scrollback viewport above a text
// input. Session events are forwarded into the program as EventMsg values:
// inbound MESSAGE text and TERMINATE reasons are appended to the history,
// and input is disabled once the connection ends. Enter sends the current
// line, PgUp/PgDn scroll and Ctrl+C quits.
//
//	client, ok, err := session.Dial(ctx, cfg)
//	...
//	err = ui.RunChat(client, ui.ChatConfig{Username: "bob", Server: addr})
//
// Printer renders the output of the one-shot commands (send, discover)
// with the same palette.
//
// Logging is controlled by ROTLINK_LOG_LEVEL. When it is unset, zap is
// silent so log lines do not corrupt the full-screen UI.
package ui
