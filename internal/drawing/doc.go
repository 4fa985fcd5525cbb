// Package drawing runs timed giveaways ("drawings").
//
// A drawing is persisted in the "drawings" collection, announced through a
// Notifier, and closed by a one-shot scheduler job at its due time. Entries
// are kept per announcement in the "entries" collection by EntryBook, which
// also serves as the ParticipantSource at completion time.
//
// The lifecycle is open → completed. Rerolls replace the winners of a
// completed drawing and never reopen it.
package drawing
