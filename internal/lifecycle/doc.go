// Package lifecycle is the alert state machine. It maps webhook alert batches
// and chat reactions onto a single editable chat message per fingerprint,
// keeping open alerts in a Store and talking to the room through a Gateway.
package lifecycle
