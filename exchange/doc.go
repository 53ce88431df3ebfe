// Package exchange contains the block exchange client, server and network
// components.
//
// Block exchange is a want/have protocol over one long-lived stream per
// peer direction. A client that wants a block first asks a handful of
// candidate peers with want-have. The first peer to answer Have is sent a
// want-block, everyone else a cancel. A peer answers a want-block with the
// Block itself or with DontHave.
//
// Every received block is validated by recomputing its CID from the bytes
// before it is stored or handed to callers, so a lying peer can waste time
// but never poison the store.
//
// Messages are varint length-prefixed CBOR, and every message carries a
// version number; a peer sending an unknown version or kind is
// disconnected.
package exchange
