// Package notifier delivers bot output to chat.
//
// Announcer renders drawing announcements and results and sends them
// synchronously, since the drawing engine needs the message reference back.
//
// Service is an async pipeline for operator notifications (queue, worker
// pool, rate limit, retry and dedup). Relay feeds it drawing and task
// lifecycle events from the event bus, addressed to the log chat.
//
// Both keep a small in-memory history for /health.
package notifier
