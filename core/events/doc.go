// Package events defines the canonical client-facing event contract.
//
// Every event the orchestrator emits towards the browser is one of the typed
// values in this package. Transport code serializes them; the core never
// touches wire JSON.
//
// Semantics used across the package:
//
//   - TurnID: identifier of the turn an event belongs to. Events without a
//     turn id (Ping) apply to the session as a whole.
//   - Partial: append-only streamed piece emitted in provider-arrival order.
//   - Final: terminal immutable text for the turn.
//
// Event kinds:
//
//   - Transcript (transcript): recognized user utterance that started a turn.
//   - PartialResponse (partial_response): streamed assistant text delta.
//   - FinalResponse (final_response): complete assistant response text.
//   - TTSAudio (tts_audio): base64 synthesized audio chunk.
//   - TTSAlignment (tts_alignment): character timing payload for a chunk.
//   - StopAudio (stop_audio): playback for the tagged turn must stop now.
//   - Ping (ping): provider keepalive passthrough.
package events
