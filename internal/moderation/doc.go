// Package moderation screens group messages from non-owners.
//
// Analyzer is pure: a quick link check first, then weighted keyword
// scoring with reducers. Guard applies a verdict over a transport
// (delete, mute, a short-lived warning) and appends the action to the
// moderation_logs collection.
package moderation
