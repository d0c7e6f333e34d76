// Package events defines the notifications the engine emits and the sink
// boundary they are dispatched through.
//
// The engine treats a nil error from Sink.Dispatch as acceptance. Anything
// else is classified as ErrDispatchRejected or ErrDispatchTimeout and retried
// on a later tick where the notification is a reminder or escalation.
package events
