// Package webhooks receives payment collector callbacks.
//
// A callback is verified (HMAC-SHA256 over the raw body), claimed in a replay
// ledger by delivery id, decoded and handed to ConfirmPayment. A claim is
// released again when confirmation fails so the collector's redelivery is
// processed instead of being treated as a replay.
package webhooks
