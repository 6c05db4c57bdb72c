// Package governanceengine implements the governance engine inside the
// governance context.
//
// The module owns the rule registry, the proposal state machine, power-weighted
// voting with single-hop delegation, tallying against frozen rule snapshots,
// and the execution pipeline for approved proposals (multi-sig, retries and a
// claim lease around the external sink). Decentralization analytics are read
// only. Lifecycle events leave through the outbox and are relayed by workers;
// infrastructure stays behind ports and adapters.
package governanceengine
