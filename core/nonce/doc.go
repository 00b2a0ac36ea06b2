// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

/*
Package nonce produces the contract-level nonces embedded in machine station
typed-data messages.

A nonce is checked by the verifying contract (the station factory or a machine
smart account) to reject a replayed authorization. It is unrelated to the
relaying account's transaction sequence number.

# Generation

Generator returns currentTimeMillis * r, with r drawn uniformly from
[0, 10^18). It keeps no state and needs no coordination, so it is safe for
concurrent use.

# Residual collision risk

Two draws collide only when they happen in the same millisecond and draw the
same r, or when the products coincide across different milliseconds. For N
draws the birthday bound gives roughly N^2 / 2^61 as the collision
probability, which is negligible for any realistic workload. A draw of r = 0
yields the nonce 0, with probability 10^-18 per call.

The contract still rejects a reused nonce. Callers that cannot tolerate that
rejection wrap the Generator in Guarded, which reserves every nonce in a
Registry (in-memory or Redis) and redraws on collision.
*/
package nonce
