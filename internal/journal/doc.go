// Package journal records progress events to an append-only CBOR file
// and reads them back, so a batch can be replayed after the fact.
package journal
