/*
Package security holds the master-key-backed secret sealing used by the
node status updater's token managers.

The controller rotates two independent symmetric keys — one for
container tokens, one for node tokens — and hands the current value of
each to the agent on registration and heartbeat responses. SecretManager
tracks one such key with latest-wins semantics (SetMasterKey always
replaces the prior key; a nil key, meaning "unchanged this round", is a
no-op) and uses it to seal/open token payloads with AES-256-GCM.

The RPC transport's own authentication handshake (mTLS issuance, cert
rotation) is a collaborator outside this agent, not something this
package manages.
*/
package security
